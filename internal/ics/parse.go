package ics

import (
	"bytes"
	"errors"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "groupcal/internal/log"
)

// ParsedEvent is a VEVENT reduced to the fields the calendar needs.
// Recurrence is kept raw; see Calendar for expansion.
type ParsedEvent struct {
	Source Source

	UID string
	Seq int

	Summary     string
	Description string
	Location    string
	URL         string
	Status      string

	Start time.Time
	// End is zero when the VEVENT has neither DTEND nor an all-day start.
	End    time.Time
	AllDay bool

	RawRRule   string
	ExDates    []time.Time
	Recurrence *time.Time // RECURRENCE-ID of an overriding instance
	IsOverride bool
}

// Cancelled reports whether the event carries STATUS:CANCELLED.
func (e ParsedEvent) Cancelled() bool {
	return strings.EqualFold(e.Status, "CANCELLED")
}

// ParseICS parses one feed payload. Floating and date-only values are read
// in loc. VEVENTs that cannot be parsed are logged and skipped.
func ParseICS(src Source, body []byte, loc *time.Location) ([]ParsedEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}
	if loc == nil {
		loc = time.Local
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "id", src.ID, "url", redactURL(src.URL))
		return nil, err
	}

	var events []ParsedEvent
	for _, ve := range cal.Events() {
		ev, err := parseVEvent(src, ve, loc)
		if err != nil {
			appLog.Warn("skipping vevent", "id", src.ID, "err", err)
			continue
		}
		events = append(events, ev)
	}

	appLog.Debug("ics parsed", "id", src.ID, "events", len(events))
	return events, nil
}

func parseVEvent(src Source, ve *ical.VEvent, loc *time.Location) (ParsedEvent, error) {
	out := ParsedEvent{Source: src}

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uid.Value

	if p := ve.GetProperty(ical.ComponentPropertySequence); p != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(p.Value)); err == nil {
			out.Seq = n
		}
	}
	out.Summary = propValue(ve, ical.ComponentPropertySummary)
	out.Description = propValue(ve, ical.ComponentPropertyDescription)
	out.Location = propValue(ve, ical.ComponentPropertyLocation)
	out.URL = propValue(ve, ical.ComponentPropertyUrl)
	out.Status = propValue(ve, ical.ComponentPropertyStatus)

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, errors.New("missing DTSTART")
	}
	start, allDay, err := parsePropTime(dtStart, loc)
	if err != nil {
		return out, err
	}
	out.Start = start
	out.AllDay = allDay

	if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil {
		if end, _, err := parsePropTime(dtEnd, loc); err == nil {
			out.End = end
		}
	} else if allDay {
		out.End = start.AddDate(0, 0, 1)
	}

	out.RawRRule = propValue(ve, ical.ComponentPropertyRrule)

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		zone := tzidLocation(p, loc)
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseICSTime(part, zone); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	if rid := ve.GetProperty(ical.ComponentPropertyRecurrenceId); rid != nil {
		if t, err := parseICSTime(rid.Value, tzidLocation(rid, loc)); err == nil {
			out.Recurrence = &t
			out.IsOverride = true
		}
	}

	return out, nil
}

func propValue(ve *ical.VEvent, name ical.ComponentProperty) string {
	if p := ve.GetProperty(name); p != nil {
		return p.Value
	}
	return ""
}

// parsePropTime reads a DTSTART/DTEND style property, honouring TZID and
// VALUE=DATE. The bool reports a date-only value.
func parsePropTime(p *ical.IANAProperty, loc *time.Location) (time.Time, bool, error) {
	allDay := !strings.Contains(p.Value, "T")
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		allDay = true
	}
	t, err := parseICSTime(p.Value, tzidLocation(p, loc))
	return t, allDay, err
}

func tzidLocation(p *ical.IANAProperty, fallback *time.Location) *time.Location {
	tzs, ok := p.ICalParameters["TZID"]
	if !ok || len(tzs) == 0 {
		return fallback
	}
	loc, err := time.LoadLocation(strings.Trim(tzs[0], `"`))
	if err != nil {
		return fallback
	}
	return loc
}

// parseICSTime parses the UTC, floating and date-only forms of an ICS
// date-time value.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}
