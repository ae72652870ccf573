// Package dateexpr resolves the date tokens and duration expressions
// accepted by the events macro into concrete instants.
package dateexpr

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Boundary selects which end of a day a relative token resolves to.
type Boundary int

const (
	// StartOfDay resolves to 00:00:00.
	StartOfDay Boundary = iota
	// EndOfDay resolves to 23:59:59.
	EndOfDay
)

var (
	// ErrInvalidToken is returned for anything outside the date token grammar.
	ErrInvalidToken = errors.New("invalid date token")
	// ErrInvalidDuration is returned when a duration expression does not parse.
	ErrInvalidDuration = errors.New("invalid duration")
)

var absoluteDate = regexp.MustCompile(`^(\d{4})[-/](\d{2})[-/](\d{2})$`)

// Resolve turns token into an instant relative to now, in now's location.
//
// "today", "yesterday" and "tomorrow" honour b. Absolute dates always resolve
// to midnight of that day and must be valid calendar dates.
func Resolve(token string, now time.Time, b Boundary) (time.Time, error) {
	switch token {
	case "today":
		return dayBoundary(now, 0, b), nil
	case "yesterday":
		return dayBoundary(now, -1, b), nil
	case "tomorrow":
		return dayBoundary(now, 1, b), nil
	}

	m := absoluteDate.FindStringSubmatch(token)
	if m == nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidToken, token)
	}
	y, _ := strconv.Atoi(m[1])
	mo, _ := strconv.Atoi(m[2])
	d, _ := strconv.Atoi(m[3])

	t := time.Date(y, time.Month(mo), d, 0, 0, 0, 0, now.Location())
	// time.Date normalises 2021-02-30 into March; reject instead.
	if t.Year() != y || int(t.Month()) != mo || t.Day() != d {
		return time.Time{}, fmt.Errorf("%w: %q is not a calendar date", ErrInvalidToken, token)
	}
	return t, nil
}

func dayBoundary(now time.Time, offsetDays int, b Boundary) time.Time {
	t := time.Date(now.Year(), now.Month(), now.Day()+offsetDays, 0, 0, 0, 0, now.Location())
	if b == EndOfDay {
		t = time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, t.Location())
	}
	return t
}

// Unit is a calendar unit a duration can be expressed in.
type Unit int

const (
	Day Unit = iota
	Week
	Month
	Year
)

func (u Unit) String() string {
	switch u {
	case Day:
		return "day"
	case Week:
		return "week"
	case Month:
		return "month"
	case Year:
		return "year"
	}
	return "unit(" + strconv.Itoa(int(u)) + ")"
}

// Duration is a calendar-aware quantity such as "3 months".
type Duration struct {
	Quantity int
	Unit     Unit
}

// DefaultDuration is used when no explicit span was requested.
var DefaultDuration = Duration{Quantity: 1, Unit: Year}

func (d Duration) String() string {
	s := strconv.Itoa(d.Quantity) + " " + d.Unit.String()
	if d.Quantity != 1 {
		s += "s"
	}
	return s
}

var durationExpr = regexp.MustCompile(`^(\d+)\s+(days?|weeks?|months?|years?)$`)

// ParseDuration parses "<integer> <unit>". Singular and plural units are both
// accepted regardless of the quantity, and zero is allowed.
func ParseDuration(s string) (Duration, error) {
	m := durationExpr.FindStringSubmatch(s)
	if m == nil {
		return Duration{}, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return Duration{}, fmt.Errorf("%w: %q: %v", ErrInvalidDuration, s, err)
	}

	var u Unit
	switch m[2] {
	case "day", "days":
		u = Day
	case "week", "weeks":
		u = Week
	case "month", "months":
		u = Month
	default:
		u = Year
	}
	return Duration{Quantity: n, Unit: u}, nil
}

// Apply adds d to base. Month and year steps clamp the day of month, so
// Jan 31 + 1 month lands on the last day of February.
func Apply(base time.Time, d Duration) time.Time {
	switch d.Unit {
	case Day:
		return base.AddDate(0, 0, d.Quantity)
	case Week:
		return base.AddDate(0, 0, 7*d.Quantity)
	case Month:
		return addMonths(base, d.Quantity)
	default:
		return addMonths(base, 12*d.Quantity)
	}
}

func addMonths(base time.Time, n int) time.Time {
	first := time.Date(base.Year(), base.Month()+time.Month(n), 1,
		base.Hour(), base.Minute(), base.Second(), base.Nanosecond(), base.Location())
	day := base.Day()
	if last := daysIn(first.Year(), first.Month(), base.Location()); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day,
		base.Hour(), base.Minute(), base.Second(), base.Nanosecond(), base.Location())
}

func daysIn(y int, m time.Month, loc *time.Location) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, loc).Day()
}
