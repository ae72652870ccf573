// Package display derives the presentation record of a calendar event:
// time labels, all-day and open-ended handling, the teaser text and the
// occurrence-aware link.
package display

import (
	"html"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"groupcal/internal/model"
)

const (
	// OpenEndedLabel is shown as the end of a timed event without an end.
	OpenEndedLabel = "(heat death of the universe)"
	// AllDayLabel is shown as the start of a single-day all-day event.
	AllDayLabel = "All day"

	// AboutLimit is the teaser length, in characters, before truncation.
	AboutLimit = 255
)

const (
	layoutTime         = "3:04 PM"
	layoutTimeZone     = "3:04 PM MST"
	layoutDateTimeZone = "Jan 2 3:04 PM MST"
	layoutDate         = "Jan 2"
	layoutDay          = "2006-01-02"
)

// Mapper converts raw events into display events in a display timezone.
// It holds no mutable state; Map is safe to call repeatedly.
type Mapper struct {
	loc *time.Location
}

// New returns a Mapper rendering times in loc (time.Local when nil).
func New(loc *time.Location) *Mapper {
	if loc == nil {
		loc = time.Local
	}
	return &Mapper{loc: loc}
}

// Location returns the display timezone.
func (m *Mapper) Location() *time.Location {
	return m.loc
}

// MapAll maps events in order.
func (m *Mapper) MapAll(events []model.RawEvent) []model.DisplayEvent {
	out := make([]model.DisplayEvent, 0, len(events))
	for _, ev := range events {
		out = append(out, m.Map(ev))
	}
	return out
}

// Map derives the display record of a single event or occurrence.
func (m *Mapper) Map(raw model.RawEvent) model.DisplayEvent {
	zone := m.zoneFor(raw)
	up := raw.PublishUp.In(zone)

	ev := model.DisplayEvent{
		Title:        raw.Title,
		URL:          EventURL(raw),
		Location:     raw.Location,
		AllDay:       raw.AllDay,
		ClassName:    "calendar-" + strconv.Itoa(raw.CalendarID),
		StartMonth:   up.Format("Jan"),
		StartDay:     up.Format("02"),
		ISOTimestamp: up.Format(time.RFC3339),
		Year:         up.Year(),
		SortKey:      raw.PublishUp.Unix(),
	}
	ev.About = About(raw.Content, ev.URL)
	ev.Start, ev.End = m.labels(raw, zone)
	return ev
}

func (m *Mapper) labels(raw model.RawEvent, zone *time.Location) (string, string) {
	up := raw.PublishUp.In(zone)

	if !raw.AllDay {
		if model.IsOpenEnded(raw.PublishDown) {
			return up.Format(layoutTimeZone), OpenEndedLabel
		}
		down := raw.PublishDown.In(zone)
		if up.Format(layoutDay) == down.Format(layoutDay) {
			return up.Format(layoutTime), down.Format(layoutTimeZone)
		}
		return up.Format(layoutDateTimeZone), down.Format(layoutDateTimeZone)
	}

	// An all-day event ending within a day of its start collapses onto its
	// start day. Its normalized end (start + 24h) always shares the start's
	// label, so the day comparison below is never reached for it.
	if !raw.PublishDown.Add(-24 * time.Hour).After(raw.PublishUp) {
		return AllDayLabel, ""
	}
	down := raw.PublishDown.In(zone)
	if model.IsOpenEnded(raw.PublishDown) || up.Format(layoutDay) != down.Format(layoutDay) {
		return up.Format(layoutDate), down.Format(layoutDate)
	}
	return AllDayLabel, ""
}

// zoneFor returns the display zone for raw, pinned to the zone's standard
// offset when the event asks to ignore daylight saving.
func (m *Mapper) zoneFor(raw model.RawEvent) *time.Location {
	if !raw.Params.IgnoreDST {
		return m.loc
	}
	return StandardZone(m.loc, raw.PublishUp.In(m.loc).Year())
}

// StandardZone returns a fixed zone with loc's non-DST offset and name for
// the given year.
func StandardZone(loc *time.Location, year int) *time.Location {
	jan := time.Date(year, time.January, 1, 12, 0, 0, 0, loc)
	jul := time.Date(year, time.July, 1, 12, 0, 0, 0, loc)
	janName, janOff := jan.Zone()
	julName, julOff := jul.Zone()
	if janOff == julOff {
		return loc
	}
	// DST always moves clocks forward, so the smaller offset is standard time.
	if janOff < julOff {
		return time.FixedZone(janName, janOff)
	}
	return time.FixedZone(julName, julOff)
}

// EventURL returns raw's link, with the occurrence start (and end, when set)
// appended as unix seconds for repeating events.
func EventURL(raw model.RawEvent) string {
	if raw.RepeatingRule == "" {
		return raw.Link
	}

	sep := "?"
	if strings.Contains(raw.Link, "?") {
		sep = "&"
	}
	u := raw.Link + sep + "start=" + strconv.FormatInt(raw.PublishUp.Unix(), 10)
	if !model.IsOpenEnded(raw.PublishDown) {
		u += "&end=" + strconv.FormatInt(raw.PublishDown.Unix(), 10)
	}
	return u
}

var lineBreaks = strings.NewReplacer(
	"\r\n", "<br />\r\n",
	"\n\r", "<br />\n\r",
	"\n", "<br />\n",
	"\r", "<br />\r",
)

// About escapes content, converts line breaks to <br /> and, past
// AboutLimit characters, truncates it and links to url for the rest.
func About(content, url string) string {
	about := lineBreaks.Replace(html.EscapeString(content))
	if utf8.RuneCountInString(about) <= AboutLimit {
		return about
	}
	return TruncateHTML(about, AboutLimit) + ` <a href="` + html.EscapeString(url) + `">[more]</a>`
}
