// Package aggregate collects the single and repeating events of a scope
// from a calendar collaborator and orders them by start.
package aggregate

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	appLog "groupcal/internal/log"
	"groupcal/internal/model"
)

// Calendar is the event store the macro reads from. Recurrence expansion is
// the calendar's job: ListRepeating returns one RawEvent per occurrence.
type Calendar interface {
	ListNonRepeating(ctx context.Context, q model.EventQuery) ([]model.RawEvent, error)
	ListRepeating(ctx context.Context, q model.EventQuery, until time.Time) ([]model.RawEvent, error)
}

// Aggregator fetches and orders the events of a scope for a window.
type Aggregator struct {
	cal Calendar
}

// New returns an Aggregator reading from cal.
func New(cal Calendar) *Aggregator {
	return &Aggregator{cal: cal}
}

// Aggregate returns every published event of scope in rng, single events
// followed by repeating occurrences, stably sorted by start second.
// Nothing is dropped or deduplicated.
func (a *Aggregator) Aggregate(ctx context.Context, scope model.Scope, calendarID int, rng model.DateRange) ([]model.RawEvent, error) {
	q := model.EventQuery{
		Scope:      scope,
		CalendarID: calendarID,
		States:     []int{model.StatePublished},
		From:       rng.From,
		To:         rng.To,
	}

	until := rng.To
	if until.IsZero() {
		until = rng.From.AddDate(1, 0, 0)
	}

	single, err := a.cal.ListNonRepeating(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	repeating, err := a.cal.ListRepeating(ctx, q, until)
	if err != nil {
		return nil, fmt.Errorf("list repeating events: %w", err)
	}

	events := make([]model.RawEvent, 0, len(single)+len(repeating))
	events = append(events, single...)
	events = append(events, repeating...)

	SortByStart(events)

	appLog.Debug("events aggregated",
		"scope", scope.Type,
		"scope_id", scope.ID,
		"calendar_id", calendarID,
		"single", len(single),
		"repeating", len(repeating),
	)
	return events, nil
}

// SortByStart orders events by start second, keeping input order for ties.
func SortByStart(events []model.RawEvent) {
	slices.SortStableFunc(events, func(a, b model.RawEvent) int {
		return cmp.Compare(a.PublishUp.Unix(), b.PublishUp.Unix())
	})
}

// Sources fans queries out to several calendars and concatenates the results
// in source order.
type Sources []Calendar

func (s Sources) ListNonRepeating(ctx context.Context, q model.EventQuery) ([]model.RawEvent, error) {
	var out []model.RawEvent
	for _, c := range s {
		events, err := c.ListNonRepeating(ctx, q)
		if err != nil {
			return nil, err
		}
		out = append(out, events...)
	}
	return out, nil
}

func (s Sources) ListRepeating(ctx context.Context, q model.EventQuery, until time.Time) ([]model.RawEvent, error) {
	var out []model.RawEvent
	for _, c := range s {
		events, err := c.ListRepeating(ctx, q, until)
		if err != nil {
			return nil, err
		}
		out = append(out, events...)
	}
	return out, nil
}
