// Package recur expands RRULE series into concrete occurrence starts.
package recur

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// DefaultMaxOccurrences caps a single series to avoid runaway expansion.
const DefaultMaxOccurrences = 5000

// Window describes which occurrences of a series are wanted.
type Window struct {
	// From / To are inclusive bounds on occurrence starts.
	From time.Time
	To   time.Time

	// ExDates are removed from the series.
	ExDates []time.Time

	// Max caps the number of returned occurrences; zero means DefaultMaxOccurrences.
	Max int
}

// Between returns the starts of rule's occurrences inside w, anchored at
// dtstart. The bool result reports whether the cap truncated the list.
//
// rule may be a bare RRULE value ("FREQ=WEEKLY;COUNT=3") or carry an
// "RRULE:" prefix.
func Between(rule string, dtstart time.Time, w Window) ([]time.Time, bool, error) {
	if w.To.Before(w.From) {
		return nil, false, errors.New("recur: window end is before start")
	}
	if w.Max <= 0 {
		w.Max = DefaultMaxOccurrences
	}

	r, err := rrule.StrToRRule(strings.TrimPrefix(strings.TrimSpace(rule), "RRULE:"))
	if err != nil {
		return nil, false, fmt.Errorf("recur: parse %q: %w", rule, err)
	}
	r.DTStart(dtstart)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range w.ExDates {
		// Align EXDATE location with the series start.
		set.ExDate(ex.In(dtstart.Location()))
	}

	from := w.From.In(dtstart.Location())
	to := w.To.In(dtstart.Location())

	occ := set.Between(from, to, true)
	if len(occ) > w.Max {
		return occ[:w.Max], true, nil
	}
	return occ, false, nil
}

// Earliest returns the earlier of two instants, ignoring zero values.
func Earliest(a, b time.Time) time.Time {
	switch {
	case a.IsZero():
		return b
	case b.IsZero():
		return a
	case b.Before(a):
		return b
	}
	return a
}
