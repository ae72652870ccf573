// Package macro runs the group events macro: argument parsing, event
// lookup, display mapping and year grouping for one render.
package macro

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"groupcal/internal/aggregate"
	"groupcal/internal/display"
	appLog "groupcal/internal/log"
	"groupcal/internal/metrics"
	"groupcal/internal/model"
	"groupcal/internal/rangefilter"
	"groupcal/internal/render"
)

// ArgCalendar selects a single calendar of the group.
const ArgCalendar = "calendar"

// ErrUnsupportedScope is returned when the macro is rendered outside a group.
var ErrUnsupportedScope = errors.New("[This macro is designed for Groups only]")

// Options configures an Events macro.
type Options struct {
	// Location is the display zone. nil means time.Local.
	Location *time.Location
	// AddEventFormat is the link of the empty-listing fallback; {cn} is
	// replaced by the group cn.
	AddEventFormat string
	// Now defaults to time.Now.
	Now func() time.Time
}

// Events renders the upcoming events of a group.
type Events struct {
	agg            *aggregate.Aggregator
	mapper         *display.Mapper
	addEventFormat string
	now            func() time.Time
}

// Result is one render's output.
type Result struct {
	Range       model.DateRange   `json:"range"`
	CalendarID  int               `json:"calendar_id,omitempty"`
	Groups      []model.YearGroup `json:"groups"`
	AddEventURL string            `json:"add_event_url"`
}

func New(cal aggregate.Calendar, opts Options) *Events {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Events{
		agg:            aggregate.New(cal),
		mapper:         display.New(opts.Location),
		addEventFormat: opts.AddEventFormat,
		now:            now,
	}
}

// Location returns the display zone.
func (e *Events) Location() *time.Location {
	return e.mapper.Location()
}

// Render resolves args into a window, fetches the group's published events
// in it and returns them mapped and grouped by year. Validation errors are
// reported before any calendar lookup; see IsValidation.
func (e *Events) Render(ctx context.Context, scope *model.Scope, args []string) (res Result, err error) {
	started := time.Now()
	defer func() {
		metrics.RenderSeconds.Observe(time.Since(started).Seconds())
		metrics.Renders.WithLabelValues(resultLabel(err)).Inc()
	}()

	if scope == nil || scope.Type != model.ScopeGroup {
		return Result{}, ErrUnsupportedScope
	}

	now := e.now().In(e.mapper.Location())
	filter, err := rangefilter.Build(args, now)
	if err != nil {
		return Result{}, err
	}
	calendarID := calendarArg(filter.Remaining)

	raw, err := e.agg.Aggregate(ctx, *scope, calendarID, filter.Range)
	if err != nil {
		appLog.Error("events lookup failed", err, "group", scope.CN, "scope_id", scope.ID)
		return Result{}, err
	}

	groups := render.Group(e.mapper.MapAll(raw))
	appLog.Info("events rendered",
		"group", scope.CN,
		"from", filter.Range.From.Format(time.DateOnly),
		"to", filter.Range.To.Format(time.DateOnly),
		"calendar_id", calendarID,
		"events", len(raw),
		"duration", time.Since(started),
	)

	return Result{
		Range:       filter.Range,
		CalendarID:  calendarID,
		Groups:      groups,
		AddEventURL: e.AddEventURL(scope.CN),
	}, nil
}

// AddEventURL returns the add-event link for group cn.
func (e *Events) AddEventURL(cn string) string {
	return strings.ReplaceAll(e.addEventFormat, "{cn}", cn)
}

// IsValidation reports whether err is a user-facing argument or scope error
// whose message should be shown inline instead of the listing.
func IsValidation(err error) bool {
	var argErr *rangefilter.ArgumentError
	return errors.As(err, &argErr) || errors.Is(err, ErrUnsupportedScope)
}

// calendarArg returns the calendar=N value, or 0 (every calendar) when it is
// absent or not a positive number.
func calendarArg(args []string) int {
	v, ok, _ := rangefilter.Take(args, ArgCalendar)
	if !ok {
		return 0
	}
	id, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || id < 0 {
		appLog.Warn("ignoring calendar argument", "value", v)
		return 0
	}
	return id
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return metrics.ResultOK
	case errors.Is(err, ErrUnsupportedScope):
		return metrics.ResultUnsupported
	case IsValidation(err):
		return metrics.ResultInvalid
	default:
		return metrics.ResultError
	}
}

// Description is the macro's help text.
func Description() string {
	var b strings.Builder
	b.WriteString("Displays a list of upcoming group events.\n\n")
	b.WriteString("Arguments:\n")
	for _, ex := range []struct{ arg, text string }{
		{"from=YYYY-MM-DD", "first day to list (also today, yesterday, tomorrow; default today)"},
		{"to=YYYY-MM-DD", "last day to list (same forms as from)"},
		{"for=N days|weeks|months|years", "window length when to is not given (default 1 year)"},
		{ArgCalendar + "=N", "only list events of calendar N"},
	} {
		fmt.Fprintf(&b, "  %-32s %s\n", ex.arg, ex.text)
	}
	b.WriteString("\nExamples:\n")
	b.WriteString("  [[Events(from=today, for=2 weeks)]]\n")
	b.WriteString("  [[Events(from=2025-01-01, to=2025-12-31, calendar=3)]]\n")
	return b.String()
}
