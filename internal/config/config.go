package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is used when no -config flag is given.
const DefaultPath = "/etc/groupcal/config.yaml"

// Environment variables overriding file values.
const (
	EnvListen   = "GROUPCAL_LISTEN"
	EnvTimezone = "GROUPCAL_TIMEZONE"
	EnvDatabase = "GROUPCAL_DATABASE"
	EnvLogLevel = "GROUPCAL_LOG_LEVEL"
)

// GroupConfig maps a group short name to its numeric scope id.
type GroupConfig struct {
	CN        string `yaml:"cn" json:"cn"`
	GIDNumber int    `yaml:"gid_number" json:"gid_number"`
	Name      string `yaml:"name" json:"name"`
}

// ICSConfig is a feed subscribed into one calendar of a group.
type ICSConfig struct {
	ID         string `yaml:"id" json:"id"`
	URL        string `yaml:"url" json:"url"`
	Name       string `yaml:"name" json:"name"`
	Group      string `yaml:"group" json:"group"`
	CalendarID int    `yaml:"calendar_id" json:"calendar_id"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA display zone, e.g. "America/New_York".
	Timezone string `yaml:"timezone" json:"timezone"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	// Refresh is the cron schedule warming the ICS cache.
	Refresh  string `yaml:"refresh" json:"refresh"`
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// Database is the sqlite path of the SQL calendar; empty disables it.
	Database string `yaml:"database" json:"database"`

	// LinkFormat builds event detail links; {cn} is the group, {id} the event.
	LinkFormat string `yaml:"link_format" json:"link_format"`
	// AddEventFormat is linked when a group has no upcoming events.
	AddEventFormat string `yaml:"add_event_format" json:"add_event_format"`

	Groups []GroupConfig `yaml:"groups" json:"groups"`
	ICS    []ICSConfig   `yaml:"ics" json:"ics"`

	// BasicAuth, if set, protects every endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills unset values with defaults.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG", "INFO", "WARN", "ERROR":
		c.LogLevel = strings.ToUpper(c.LogLevel)
	default:
		c.LogLevel = "INFO"
	}
	if c.Refresh == "" {
		c.Refresh = "*/15 * * * *"
	}
	if c.CacheDir == "" {
		c.CacheDir = "/var/lib/groupcal/ics-cache"
	}
	if c.LinkFormat == "" {
		c.LinkFormat = "/groups/{cn}/calendar/details/{id}"
	}
	if c.AddEventFormat == "" {
		c.AddEventFormat = "/groups/{cn}/calendar/add"
	}
	if c.Groups == nil {
		c.Groups = []GroupConfig{}
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
}

// Validate checks references between sections and the display zone.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	seen := make(map[string]bool, len(c.Groups))
	for _, g := range c.Groups {
		if g.CN == "" {
			return errors.New("group with empty cn")
		}
		if seen[g.CN] {
			return fmt.Errorf("group %q listed twice", g.CN)
		}
		seen[g.CN] = true
	}
	for _, src := range c.ICS {
		if src.URL == "" {
			return fmt.Errorf("ics %q: url is empty", src.ID)
		}
		if !seen[src.Group] {
			return fmt.Errorf("ics %q: unknown group %q", src.ID, src.Group)
		}
	}
	return nil
}

// Location returns the display zone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Group returns the group with short name cn.
func (c *Config) Group(cn string) (GroupConfig, bool) {
	for _, g := range c.Groups {
		if g.CN == cn {
			return g, true
		}
	}
	return GroupConfig{}, false
}

// LoadEnv reads dotenv files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides file values with the GROUPCAL_* variables found by
// lookup (os.LookupEnv in production).
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	for key, field := range map[string]*string{
		EnvListen:   &c.Listen,
		EnvTimezone: &c.Timezone,
		EnvDatabase: &c.Database,
		EnvLogLevel: &c.LogLevel,
	} {
		if v, ok := lookup(key); ok && v != "" {
			*field = v
		}
	}
	c.Normalize()
}

// Load reads the YAML file at path. On first run a default file is written
// with 0600 permissions and returned.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			return cfg, Save(path, cfg)
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()
	return &cfg, nil
}

// Save writes cfg to path atomically (temp file and rename) with 0600
// permissions, creating the directory if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}
	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".groupcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
