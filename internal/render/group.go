// Package render groups display events by year and writes them out as HTML
// or as terminal text.
package render

import "groupcal/internal/model"

// Group splits already ordered events into runs sharing a year. A new group
// starts whenever the year differs from the previous event's; events are
// never reordered.
func Group(events []model.DisplayEvent) []model.YearGroup {
	var groups []model.YearGroup
	for _, ev := range events {
		if n := len(groups); n == 0 || groups[n-1].Year != ev.Year {
			groups = append(groups, model.YearGroup{Year: ev.Year})
		}
		last := &groups[len(groups)-1]
		last.Events = append(last.Events, ev)
	}
	return groups
}
