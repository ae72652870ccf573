// Package scheduler keeps the ICS disk cache warm on a cron schedule so
// that renders rarely wait on a remote feed.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"groupcal/internal/ics"
	appLog "groupcal/internal/log"
)

// Fetcher is the part of ics.Fetcher the refresher uses.
type Fetcher interface {
	FetchAll(ctx context.Context, sources []ics.Source) ([]ics.FetchResult, []error)
}

// Status describes the last refresh run.
type Status struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Fetched   int           `json:"fetched"`
	FromCache int           `json:"from_cache"`
	Failed    int           `json:"failed"`
}

// Refresher re-fetches every configured feed on each tick.
type Refresher struct {
	fetcher Fetcher
	sources []ics.Source

	mu   sync.Mutex
	last Status
	cron *cron.Cron
}

func New(fetcher Fetcher, sources []ics.Source) *Refresher {
	return &Refresher{fetcher: fetcher, sources: sources}
}

// Start schedules refreshes with a standard 5-field cron spec (descriptors
// such as "@every 5m" are accepted too). Runs never overlap; a tick that
// fires while the previous run is busy is skipped. The schedule stops when
// ctx is cancelled.
func (r *Refresher) Start(ctx context.Context, spec string) error {
	logger := cronLogger{}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(
		cron.Recover(logger),
		cron.SkipIfStillRunning(logger),
	))
	if _, err := c.AddFunc(spec, func() { r.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("refresh schedule %q: %w", spec, err)
	}

	r.mu.Lock()
	r.cron = c
	r.mu.Unlock()

	c.Start()
	appLog.Info("ics refresh scheduled", "spec", spec, "sources", len(r.sources))

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
		appLog.Debug("ics refresh stopped")
	}()
	return nil
}

// RunOnce fetches every source and records the outcome.
func (r *Refresher) RunOnce(ctx context.Context) Status {
	st := Status{StartedAt: time.Now()}
	if len(r.sources) == 0 {
		return st
	}

	results, errs := r.fetcher.FetchAll(ctx, r.sources)
	st.Duration = time.Since(st.StartedAt)
	st.Failed = len(errs)
	for _, res := range results {
		if res.FromCache {
			st.FromCache++
		} else {
			st.Fetched++
		}
	}

	r.mu.Lock()
	r.last = st
	r.mu.Unlock()

	if len(errs) > 0 {
		appLog.Error("ics refresh incomplete", errors.Join(errs...), "failed", st.Failed)
	}
	appLog.Info("ics refresh done",
		"fetched", st.Fetched,
		"from_cache", st.FromCache,
		"failed", st.Failed,
		"duration", st.Duration,
	)
	return st
}

// Last returns the status of the most recent run.
func (r *Refresher) Last() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// cronLogger routes cron's own logging into the application log.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}
