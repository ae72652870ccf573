// Package ics reads group events from subscribed iCalendar feeds.
package ics

import (
	"context"
	"fmt"
	"time"

	"groupcal/internal/metrics"
	"groupcal/internal/model"
	"groupcal/internal/recur"
)

// Feed binds a feed to one calendar of a group.
type Feed struct {
	Source
	Name       string
	GroupCN    string
	CalendarID int
}

// Calendar serves the events of configured feeds from the Fetcher's disk
// cache. A feed is downloaded on a render only while it has no cached body.
type Calendar struct {
	fetcher    *Fetcher
	feeds      []Feed
	loc        *time.Location
	linkFormat string
}

// NewCalendar returns a Calendar over feeds. loc is used for floating and
// date-only values; linkFormat builds links for VEVENTs without a URL.
func NewCalendar(fetcher *Fetcher, feeds []Feed, loc *time.Location, linkFormat string) *Calendar {
	if loc == nil {
		loc = time.Local
	}
	return &Calendar{fetcher: fetcher, feeds: feeds, loc: loc, linkFormat: linkFormat}
}

// Sources returns the fetch sources of all feeds.
func (c *Calendar) Sources() []Source {
	out := make([]Source, 0, len(c.feeds))
	for _, f := range c.feeds {
		out = append(out, f.Source)
	}
	return out
}

func (c *Calendar) ListNonRepeating(ctx context.Context, q model.EventQuery) ([]model.RawEvent, error) {
	var out []model.RawEvent
	for _, feed := range c.feedsFor(q) {
		events, err := c.load(ctx, feed)
		if err != nil {
			return nil, err
		}
		out = append(out, singleEvents(events, q.States, feed, q.From, q.To, c.linkFormat)...)
	}
	metrics.EventsListed.WithLabelValues("ics", "single").Add(float64(len(out)))
	return out, nil
}

func (c *Calendar) ListRepeating(ctx context.Context, q model.EventQuery, until time.Time) ([]model.RawEvent, error) {
	to := recur.Earliest(q.To, until)
	if to.Before(q.From) {
		return nil, nil
	}

	var out []model.RawEvent
	for _, feed := range c.feedsFor(q) {
		events, err := c.load(ctx, feed)
		if err != nil {
			return nil, err
		}
		out = append(out, repeatingEvents(events, q.States, feed, q.From, to, c.linkFormat)...)
	}
	metrics.EventsListed.WithLabelValues("ics", "repeating").Add(float64(len(out)))
	return out, nil
}

func (c *Calendar) feedsFor(q model.EventQuery) []Feed {
	if q.Scope.Type != model.ScopeGroup {
		return nil
	}
	var out []Feed
	for _, f := range c.feeds {
		if f.GroupCN != q.Scope.CN {
			continue
		}
		if q.CalendarID != 0 && f.CalendarID != q.CalendarID {
			continue
		}
		out = append(out, f)
	}
	return out
}

// load parses the cached body of feed, fetching it only when nothing is
// cached yet. Keeping the cache fresh is the Refresher's job.
func (c *Calendar) load(ctx context.Context, feed Feed) ([]ParsedEvent, error) {
	res, ok := c.fetcher.Cached(feed.Source)
	if !ok {
		var err error
		res, err = c.fetcher.FetchOne(ctx, feed.Source)
		if err != nil {
			return nil, fmt.Errorf("fetch feed %s: %w", feed.ID, err)
		}
	}
	events, err := ParseICS(feed.Source, res.Body, c.loc)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", feed.ID, err)
	}
	return events, nil
}
