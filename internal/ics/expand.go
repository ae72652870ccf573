package ics

import (
	"hash/fnv"
	"net/url"
	"slices"
	"strings"
	"time"

	appLog "groupcal/internal/log"
	"groupcal/internal/model"
	"groupcal/internal/recur"
)

// singleEvents returns the non-recurring VEVENTs of feed in one of states
// starting inside [from, to]. RECURRENCE-ID overrides belong to their series
// and are skipped.
func singleEvents(events []ParsedEvent, states []int, feed Feed, from, to time.Time, linkFormat string) []model.RawEvent {
	var out []model.RawEvent
	for _, ev := range events {
		if ev.RawRRule != "" || ev.IsOverride || !hasState(ev, states) {
			continue
		}
		if ev.Start.Before(from) || ev.Start.After(to) {
			continue
		}
		out = append(out, toRaw(ev, feed, ev.Start, ev.End, linkFormat))
	}
	return out
}

// repeatingEvents expands every RRULE series of feed in one of states into
// one RawEvent per occurrence starting inside [from, to]. EXDATEs are
// removed. An occurrence with a RECURRENCE-ID override is replaced by it:
// the override is listed when its own start is inside the window and its
// state matches, and the occurrence is dropped otherwise.
func repeatingEvents(events []ParsedEvent, states []int, feed Feed, from, to time.Time, linkFormat string) []model.RawEvent {
	overrides := make(map[string][]ParsedEvent)
	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
		}
	}

	var out []model.RawEvent
	for _, ev := range events {
		if ev.RawRRule == "" || ev.IsOverride || !hasState(ev, states) {
			continue
		}

		starts, truncated, err := recur.Between(ev.RawRRule, ev.Start, recur.Window{
			From:    from,
			To:      to,
			ExDates: ev.ExDates,
		})
		if err != nil {
			appLog.Warn("skipping series with bad RRULE", "feed", feed.ID, "uid", ev.UID, "err", err)
			continue
		}
		if truncated {
			appLog.Warn("series truncated", "feed", feed.ID, "uid", ev.UID, "cap", recur.DefaultMaxOccurrences)
		}

		var series []model.RawEvent
		for _, start := range starts {
			if _, ok := findOverride(overrides[ev.UID], start); ok {
				continue
			}
			end := time.Time{}
			if !ev.End.IsZero() {
				end = start.Add(ev.End.Sub(ev.Start))
			}
			raw := toRaw(ev, feed, start, end, linkFormat)
			raw.RepeatingRule = ev.RawRRule
			series = append(series, raw)
		}

		for _, o := range overrides[ev.UID] {
			if !hasState(o, states) || o.Start.Before(from) || o.Start.After(to) {
				continue
			}
			if !isOccurrence(ev, *o.Recurrence) {
				continue
			}
			raw := toRaw(o, feed, o.Start, o.End, linkFormat)
			raw.RepeatingRule = ev.RawRRule
			series = append(series, raw)
		}

		slices.SortStableFunc(series, func(a, b model.RawEvent) int {
			return a.PublishUp.Compare(b.PublishUp)
		})
		out = append(out, series...)
	}
	return out
}

// findOverride returns the override whose RECURRENCE-ID is start.
func findOverride(overrides []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, o := range overrides {
		if o.Recurrence.Equal(start) {
			return o, true
		}
	}
	return ParsedEvent{}, false
}

// isOccurrence reports whether series has a non-excluded occurrence at t.
func isOccurrence(series ParsedEvent, t time.Time) bool {
	starts, _, err := recur.Between(series.RawRRule, series.Start, recur.Window{
		From:    t,
		To:      t,
		ExDates: series.ExDates,
	})
	return err == nil && len(starts) > 0
}

// hasState reports whether ev is in one of states. Cancelled VEVENTs count
// as unpublished; an empty states list matches everything.
func hasState(ev ParsedEvent, states []int) bool {
	if len(states) == 0 {
		return true
	}
	state := model.StatePublished
	if ev.Cancelled() {
		state = model.StateUnpublished
	}
	return slices.Contains(states, state)
}

func toRaw(ev ParsedEvent, feed Feed, start, end time.Time, linkFormat string) model.RawEvent {
	return model.RawEvent{
		ID:          eventID(ev.UID),
		CalendarID:  feed.CalendarID,
		Title:       ev.Summary,
		Location:    ev.Location,
		Content:     ev.Description,
		PublishUp:   start,
		PublishDown: end,
		AllDay:      ev.AllDay,
		Link:        eventLink(ev, feed, linkFormat),
	}
}

// eventID derives a stable positive id from a UID.
func eventID(uid string) int64 {
	h := fnv.New64a()
	h.Write([]byte(uid))
	return int64(h.Sum64() >> 1)
}

// eventLink prefers the VEVENT URL and otherwise fills linkFormat, where
// {cn} is the group and {id} the escaped UID.
func eventLink(ev ParsedEvent, feed Feed, linkFormat string) string {
	if ev.URL != "" {
		return ev.URL
	}
	return strings.NewReplacer("{cn}", feed.GroupCN, "{id}", url.PathEscape(ev.UID)).Replace(linkFormat)
}
