package model

import "time"

// ScopeGroup is the only scope the events macro renders for.
const ScopeGroup = "group"

// Event states. Only published events are listed by the macro.
const (
	StateUnpublished = 0
	StatePublished   = 1
)

// Scope identifies the owning context of a set of events.
type Scope struct {
	Type string // e.g. "group"
	ID   int    // group gidNumber
	CN   string // group short name, used in links
}

// EventParams carries per-event display flags stored alongside the event.
type EventParams struct {
	IgnoreDST bool `json:"ignore_dst"`
}

// RawEvent is a single event (or one occurrence of a repeating event) as
// handed over by a calendar collaborator. It is read-only to the macro.
type RawEvent struct {
	ID         int64
	CalendarID int

	Title    string
	Location string
	Content  string

	// PublishUp is the start of the event or occurrence.
	PublishUp time.Time
	// PublishDown is the end; the zero time means "no end specified".
	PublishDown time.Time
	AllDay      bool

	// RepeatingRule is the RRULE of the series, empty for single events.
	RepeatingRule string

	Params EventParams

	// Link is the detail page of the event, without occurrence parameters.
	Link string
}

// IsOpenEnded reports whether t is the zero sentinel (or anything before it).
func IsOpenEnded(t time.Time) bool {
	return !t.After(time.Time{})
}

// EventQuery is the filter passed to a calendar collaborator.
type EventQuery struct {
	Scope      Scope
	CalendarID int // 0 selects every calendar of the scope
	States     []int
	From       time.Time
	To         time.Time
}

// DateRange is the resolved window. To is zero when it was not resolved.
type DateRange struct {
	From time.Time
	To   time.Time
}

// DisplayEvent is the presentation record derived from a RawEvent.
type DisplayEvent struct {
	Title     string `json:"title"`
	URL       string `json:"url"`
	Location  string `json:"location,omitempty"`
	About     string `json:"about"`
	AllDay    bool   `json:"all_day"`
	ClassName string `json:"class_name"`

	StartMonth   string `json:"start_month"`
	StartDay     string `json:"start_day"`
	ISOTimestamp string `json:"iso_8601"`
	Year         int    `json:"year"`

	Start string `json:"start"`
	End   string `json:"end,omitempty"`

	// SortKey is the effective start instant in unix seconds.
	SortKey int64 `json:"sort_key"`
}

// YearGroup is one run of consecutive display events sharing a year.
type YearGroup struct {
	Year   int            `json:"year"`
	Events []DisplayEvent `json:"events"`
}
