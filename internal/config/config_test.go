package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etc", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoadNormalizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
timezone: Europe/Berlin
log_level: debug
groups:
  - cn: physics
    gid_number: 1200
    name: Physics Lab
ics:
  - id: seminars
    url: https://example.org/seminars.ics
    group: physics
    calendar_id: 2
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", cfg.Timezone)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "127.0.0.1:8080", cfg.Listen)
	assert.Equal(t, "/groups/{cn}/calendar/details/{id}", cfg.LinkFormat)
	require.Len(t, cfg.ICS, 1)
	assert.Equal(t, 2, cfg.ICS[0].CalendarID)
	require.NoError(t, cfg.Validate())

	g, ok := cfg.Group("physics")
	require.True(t, ok)
	assert.Equal(t, 1200, g.GIDNumber)
	_, ok = cfg.Group("chemistry")
	assert.False(t, ok)

	assert.Equal(t, "Europe/Berlin", cfg.Location().String())
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: [unclosed"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		edit func(*Config)
	}{
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }},
		{"empty cn", func(c *Config) { c.Groups = append(c.Groups, GroupConfig{}) }},
		{"duplicate group", func(c *Config) { c.Groups = append(c.Groups, c.Groups[0]) }},
		{"unknown group", func(c *Config) { c.ICS[0].Group = "chemistry" }},
		{"empty url", func(c *Config) { c.ICS[0].URL = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Groups = []GroupConfig{{CN: "physics", GIDNumber: 1}}
			cfg.ICS = []ICSConfig{{ID: "a", URL: "https://example.org/a.ics", Group: "physics"}}
			require.NoError(t, cfg.Validate())

			tt.edit(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvListen:   ":9000",
		EnvTimezone: "Asia/Tokyo",
		EnvLogLevel: "warn",
		EnvDatabase: "",
	}
	cfg := DefaultConfig()
	cfg.Database = "/var/lib/groupcal/events.db"
	cfg.ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})

	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, "Asia/Tokyo", cfg.Timezone)
	assert.Equal(t, "WARN", cfg.LogLevel)
	assert.Equal(t, "/var/lib/groupcal/events.db", cfg.Database, "empty values do not override")
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(file, []byte("GROUPCAL_TEST_VALUE=from-dotenv\n"), 0o600))
	t.Setenv("GROUPCAL_TEST_VALUE", "")
	os.Unsetenv("GROUPCAL_TEST_VALUE")

	require.NoError(t, LoadEnv(file, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "from-dotenv", os.Getenv("GROUPCAL_TEST_VALUE"))
}
