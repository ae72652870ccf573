package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"groupcal/internal/aggregate"
	"groupcal/internal/config"
	"groupcal/internal/ics"
	appLog "groupcal/internal/log"
	"groupcal/internal/macro"
	"groupcal/internal/model"
	"groupcal/internal/render"
	"groupcal/internal/scheduler"
	"groupcal/internal/store"
	"groupcal/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	group      string
	args       string
	debug      bool
}

func main() {
	flags := parseFlags()

	if err := config.LoadEnv(); err != nil {
		appLog.Warn("dotenv not loaded", "err", err)
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	conf.ApplyEnv(os.LookupEnv)
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"refresh", conf.Refresh,
		"database", conf.Database != "",
		"groups", len(conf.Groups),
		"ics_count", len(conf.ICS),
		"once", flags.once,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, conf, flags); err != nil {
		appLog.Error("groupcal failed", err)
		os.Exit(1)
	}
	appLog.Info("groupcal exiting")
}

func run(ctx context.Context, conf *config.Config, flags flagConfig) error {
	loc := conf.Location()

	var sources aggregate.Sources

	if conf.Database != "" {
		st, err := store.Open(conf.Database, loc, conf.LinkFormat)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.CreateSchema(ctx); err != nil {
			return err
		}
		sources = append(sources, st)
	}

	var refresher *scheduler.Refresher
	if len(conf.ICS) > 0 {
		fetcher := ics.NewFetcher(conf.CacheDir, nil)
		cal := ics.NewCalendar(fetcher, feeds(conf), loc, conf.LinkFormat)
		sources = append(sources, cal)
		refresher = scheduler.New(fetcher, cal.Sources())
	}

	if len(sources) == 0 {
		appLog.Warn("no calendars configured; every listing will be empty")
	}

	events := macro.New(sources, macro.Options{
		Location:       loc,
		AddEventFormat: conf.AddEventFormat,
	})

	if flags.once {
		if refresher != nil {
			refresher.RunOnce(ctx)
		}
		return printOnce(ctx, conf, events, flags)
	}

	var ref web.Refresher
	if refresher != nil {
		if err := refresher.Start(ctx, conf.Refresh); err != nil {
			return err
		}
		go refresher.RunOnce(ctx)
		ref = refresher
	}

	return web.NewServer(conf, events, ref).ListenAndServe(ctx)
}

// printOnce renders one group to the terminal.
func printOnce(ctx context.Context, conf *config.Config, events *macro.Events, flags flagConfig) error {
	g, ok := conf.Group(flags.group)
	if !ok {
		return fmt.Errorf("unknown group %q (use -group with a configured cn)", flags.group)
	}
	scope := &model.Scope{Type: model.ScopeGroup, ID: g.GIDNumber, CN: g.CN}

	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	res, err := events.Render(ctx, scope, web.SplitArgs(flags.args))
	if macro.IsValidation(err) {
		fmt.Fprintln(os.Stderr, err.Error())
		return errors.New("invalid macro arguments")
	}
	if err != nil {
		return err
	}
	render.Print(os.Stdout, res.Groups)
	return nil
}

func feeds(conf *config.Config) []ics.Feed {
	out := make([]ics.Feed, 0, len(conf.ICS))
	for _, c := range conf.ICS {
		id := c.ID
		if id == "" {
			id = c.URL
		}
		out = append(out, ics.Feed{
			Source:     ics.Source{ID: id, URL: c.URL},
			Name:       c.Name,
			GroupCN:    c.Group,
			CalendarID: c.CalendarID,
		})
	}
	return out
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", config.DefaultPath, "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Print the events of -group to the terminal and exit")
	flag.StringVar(&cfg.group, "group", "", "Group cn for -once")
	flag.StringVar(&cfg.args, "args", "", `Macro arguments for -once, e.g. "from=today, for=2 weeks"`)
	flag.BoolVar(&cfg.debug, "debug", false, "Debug logging")

	flag.Parse()

	return cfg
}
