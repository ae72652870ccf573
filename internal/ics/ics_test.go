package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groupcal/internal/model"
)

const feedBody = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//groupcal//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:seminar-1\r\n" +
	"SUMMARY:Seminar\r\n" +
	"DESCRIPTION:Bring slides\r\n" +
	"LOCATION:Room 101\r\n" +
	"DTSTART:20250601T090000Z\r\n" +
	"DTEND:20250601T100000Z\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:retreat-1\r\n" +
	"SUMMARY:Retreat\r\n" +
	"URL:https://example.org/retreat\r\n" +
	"DTSTART;VALUE=DATE:20250710\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:cancelled-1\r\n" +
	"SUMMARY:Cancelled talk\r\n" +
	"STATUS:CANCELLED\r\n" +
	"DTSTART:20250605T090000Z\r\n" +
	"DTEND:20250605T100000Z\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:weekly-1\r\n" +
	"SUMMARY:Group meeting\r\n" +
	"DTSTART:20250602T140000Z\r\n" +
	"DTEND:20250602T150000Z\r\n" +
	"RRULE:FREQ=WEEKLY;COUNT=4\r\n" +
	"EXDATE:20250609T140000Z\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:weekly-1\r\n" +
	"SUMMARY:Group meeting (moved)\r\n" +
	"RECURRENCE-ID:20250616T140000Z\r\n" +
	"DTSTART:20250617T140000Z\r\n" +
	"DTEND:20250617T160000Z\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestParseICS(t *testing.T) {
	events, err := ParseICS(Source{ID: "f"}, []byte(feedBody), time.UTC)
	require.NoError(t, err)
	require.Len(t, events, 5)

	seminar := events[0]
	assert.Equal(t, "seminar-1", seminar.UID)
	assert.Equal(t, "Seminar", seminar.Summary)
	assert.Equal(t, "Room 101", seminar.Location)
	assert.False(t, seminar.AllDay)
	assert.True(t, seminar.Start.Equal(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)))
	assert.True(t, seminar.End.Equal(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)))

	retreat := events[1]
	assert.True(t, retreat.AllDay)
	assert.Equal(t, "https://example.org/retreat", retreat.URL)
	assert.Equal(t, time.Date(2025, 7, 10, 0, 0, 0, 0, time.UTC), retreat.Start)
	assert.Equal(t, time.Date(2025, 7, 11, 0, 0, 0, 0, time.UTC), retreat.End)

	assert.True(t, events[2].Cancelled())

	weekly := events[3]
	assert.Equal(t, "FREQ=WEEKLY;COUNT=4", weekly.RawRRule)
	require.Len(t, weekly.ExDates, 1)
	assert.True(t, weekly.ExDates[0].Equal(time.Date(2025, 6, 9, 14, 0, 0, 0, time.UTC)))

	moved := events[4]
	assert.True(t, moved.IsOverride)
	require.NotNil(t, moved.Recurrence)
	assert.True(t, moved.Recurrence.Equal(time.Date(2025, 6, 16, 14, 0, 0, 0, time.UTC)))
}

func TestParseICSEmpty(t *testing.T) {
	_, err := ParseICS(Source{ID: "f"}, nil, time.UTC)
	assert.Error(t, err)
}

func newFeedServer(t *testing.T, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Content-Type", "text/calendar")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestFetchOneUsesCache(t *testing.T) {
	srv, hits := newFeedServer(t, feedBody)
	f := NewFetcher(t.TempDir(), srv.Client())
	src := Source{ID: "physics", URL: srv.URL + "/feed.ics?token=secret"}

	first, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.Equal(t, feedBody, string(first.Body))

	second, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)
	assert.True(t, second.FromCache, "304 answers are served from the disk cache")
	assert.Equal(t, feedBody, string(second.Body))
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetchOneFallsBackOnServerError(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(feedBody))
	}))
	t.Cleanup(srv.Close)

	f := NewFetcher(t.TempDir(), srv.Client())
	src := Source{ID: "physics", URL: srv.URL}

	_, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)

	fail.Store(true)
	res, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)
	assert.True(t, res.FromCache)

	_, err = NewFetcher(t.TempDir(), srv.Client()).FetchOne(context.Background(), src)
	assert.Error(t, err, "no cached body to fall back to")
}

func TestFetchAllCollectsErrors(t *testing.T) {
	srv, _ := newFeedServer(t, feedBody)
	f := NewFetcher(t.TempDir(), srv.Client())

	results, errs := f.FetchAll(context.Background(), []Source{{ID: "ok", URL: srv.URL}, {ID: "empty"}})
	assert.Len(t, results, 1)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "empty")
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://example.com/...(redacted)", redactURL("https://example.com/private/cal.ics?token=abcd"))
	assert.Equal(t, "ics://...(redacted)", redactURL("not a url"))
}

func newTestCalendar(t *testing.T) *Calendar {
	t.Helper()
	cal, _ := newFeedCalendar(t, feedBody)
	return cal
}

func newFeedCalendar(t *testing.T, body string) (*Calendar, *atomic.Int32) {
	t.Helper()
	srv, hits := newFeedServer(t, body)
	feeds := []Feed{
		{Source: Source{ID: "physics", URL: srv.URL}, GroupCN: "physics", CalendarID: 2},
	}
	return NewCalendar(NewFetcher(t.TempDir(), srv.Client()), feeds, time.UTC, "/groups/{cn}/calendar/details/{id}"), hits
}

// calendarBody wraps VEVENT blocks into a VCALENDAR.
func calendarBody(vevents ...string) string {
	return "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//groupcal//test//EN\r\n" +
		strings.Join(vevents, "") +
		"END:VCALENDAR\r\n"
}

func vevent(lines ...string) string {
	return "BEGIN:VEVENT\r\n" + strings.Join(lines, "\r\n") + "\r\nEND:VEVENT\r\n"
}

func starts(events []model.RawEvent) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.PublishUp.UTC().Format("01-02 15:04")+" "+ev.Title)
	}
	return out
}

func query(cn string, calendarID int) model.EventQuery {
	return model.EventQuery{
		Scope:      model.Scope{Type: model.ScopeGroup, ID: 7, CN: cn},
		CalendarID: calendarID,
		States:     []int{model.StatePublished},
		From:       time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		To:         time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC),
	}
}

func TestCalendarListNonRepeating(t *testing.T) {
	cal := newTestCalendar(t)

	events, err := cal.ListNonRepeating(context.Background(), query("physics", 0))
	require.NoError(t, err)
	require.Len(t, events, 2, "cancelled events are not published")

	assert.Equal(t, "Seminar", events[0].Title)
	assert.Equal(t, 2, events[0].CalendarID)
	assert.Equal(t, "Bring slides", events[0].Content)
	assert.Equal(t, "/groups/physics/calendar/details/seminar-1", events[0].Link)
	assert.Empty(t, events[0].RepeatingRule)

	assert.Equal(t, "Retreat", events[1].Title)
	assert.True(t, events[1].AllDay)
	assert.Equal(t, "https://example.org/retreat", events[1].Link)
}

func TestCalendarListRepeating(t *testing.T) {
	cal := newTestCalendar(t)

	until := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	events, err := cal.ListRepeating(context.Background(), query("physics", 2), until)
	require.NoError(t, err)
	require.Len(t, events, 3, "four weekly occurrences minus one EXDATE")

	assert.True(t, events[0].PublishUp.Equal(time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)))
	assert.True(t, events[0].PublishDown.Equal(time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC)))
	assert.Equal(t, "Group meeting", events[0].Title)
	assert.Equal(t, "FREQ=WEEKLY;COUNT=4", events[0].RepeatingRule)

	moved := events[1]
	assert.Equal(t, "Group meeting (moved)", moved.Title)
	assert.True(t, moved.PublishUp.Equal(time.Date(2025, 6, 17, 14, 0, 0, 0, time.UTC)))
	assert.True(t, moved.PublishDown.Equal(time.Date(2025, 6, 17, 16, 0, 0, 0, time.UTC)))
	assert.NotEmpty(t, moved.RepeatingRule)

	assert.True(t, events[2].PublishUp.Equal(time.Date(2025, 6, 23, 14, 0, 0, 0, time.UTC)))
	for _, ev := range events {
		assert.Equal(t, events[0].ID, ev.ID)
	}
}

func TestCalendarUntilBoundsRepeating(t *testing.T) {
	cal := newTestCalendar(t)

	until := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	events, err := cal.ListRepeating(context.Background(), query("physics", 0), until)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestCalendarScopeFilters(t *testing.T) {
	cal := newTestCalendar(t)

	for name, q := range map[string]model.EventQuery{
		"other group":    query("chemistry", 0),
		"other calendar": query("physics", 9),
	} {
		t.Run(name, func(t *testing.T) {
			events, err := cal.ListNonRepeating(context.Background(), q)
			require.NoError(t, err)
			assert.Empty(t, events)
		})
	}
}

func TestCalendarFetchFailure(t *testing.T) {
	cal := NewCalendar(NewFetcher(t.TempDir(), nil), []Feed{{Source: Source{ID: "x"}, GroupCN: "physics"}}, time.UTC, "")
	_, err := cal.ListNonRepeating(context.Background(), query("physics", 0))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "fetch feed x"))
}

func TestCalendarCancelledOccurrence(t *testing.T) {
	body := calendarBody(
		vevent("UID:lab-1", "SUMMARY:Lab", "DTSTART:20250602T140000Z", "DTEND:20250602T150000Z",
			"RRULE:FREQ=WEEKLY;COUNT=3"),
		vevent("UID:lab-1", "SUMMARY:Lab", "STATUS:CANCELLED", "RECURRENCE-ID:20250609T140000Z",
			"DTSTART:20250609T140000Z", "DTEND:20250609T150000Z"),
	)
	cal, _ := newFeedCalendar(t, body)

	events, err := cal.ListRepeating(context.Background(), query("physics", 0), time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, []string{"06-02 14:00 Lab", "06-16 14:00 Lab"}, starts(events))

	q := query("physics", 0)
	q.States = []int{model.StateUnpublished}
	events, err = cal.ListRepeating(context.Background(), q, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, events, "a published series lists nothing when only unpublished events are asked for")
}

func TestCalendarOverridesAcrossWindowEdge(t *testing.T) {
	body := calendarBody(
		vevent("UID:club-1", "SUMMARY:Club", "DTSTART:20250526T140000Z", "DTEND:20250526T150000Z",
			"RRULE:FREQ=WEEKLY;COUNT=5"),
		// Moved into the window from before it.
		vevent("UID:club-1", "SUMMARY:Club (moved in)", "RECURRENCE-ID:20250526T140000Z",
			"DTSTART:20250604T140000Z", "DTEND:20250604T150000Z"),
		// Moved out of the window.
		vevent("UID:club-1", "SUMMARY:Club (moved out)", "RECURRENCE-ID:20250623T140000Z",
			"DTSTART:20250702T140000Z", "DTEND:20250702T150000Z"),
		// Names no occurrence of the series.
		vevent("UID:club-1", "SUMMARY:Club (stray)", "RECURRENCE-ID:20250610T140000Z",
			"DTSTART:20250611T140000Z", "DTEND:20250611T150000Z"),
	)
	cal, _ := newFeedCalendar(t, body)

	q := query("physics", 0)
	q.To = time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)
	events, err := cal.ListRepeating(context.Background(), q, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"06-02 14:00 Club",
		"06-04 14:00 Club (moved in)",
		"06-09 14:00 Club",
		"06-16 14:00 Club",
	}, starts(events))
}

func TestCalendarReadsWarmCache(t *testing.T) {
	srv, hits := newFeedServer(t, feedBody)
	fetcher := NewFetcher(t.TempDir(), srv.Client())
	feeds := []Feed{{Source: Source{ID: "physics", URL: srv.URL}, GroupCN: "physics"}}
	cal := NewCalendar(fetcher, feeds, time.UTC, "")

	_, errs := fetcher.FetchAll(context.Background(), cal.Sources())
	require.Empty(t, errs)
	require.Equal(t, int32(1), hits.Load())

	until := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		single, err := cal.ListNonRepeating(context.Background(), query("physics", 0))
		require.NoError(t, err)
		assert.Len(t, single, 2)
		repeating, err := cal.ListRepeating(context.Background(), query("physics", 0), until)
		require.NoError(t, err)
		assert.Len(t, repeating, 3)
	}
	assert.Equal(t, int32(1), hits.Load(), "renders read the warmed cache")
}

func TestCalendarColdCacheFetchesOnce(t *testing.T) {
	cal, hits := newFeedCalendar(t, feedBody)
	until := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := cal.ListRepeating(context.Background(), query("physics", 0), until)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = cal.ListNonRepeating(context.Background(), query("physics", 0))
		require.NoError(t, err)
		_, err = cal.ListRepeating(context.Background(), query("physics", 0), until)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetcherCached(t *testing.T) {
	srv, _ := newFeedServer(t, feedBody)
	f := NewFetcher(t.TempDir(), srv.Client())
	src := Source{ID: "physics", URL: srv.URL}

	_, ok := f.Cached(src)
	assert.False(t, ok)
	_, ok = f.Cached(Source{ID: "empty"})
	assert.False(t, ok)

	_, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)

	res, ok := f.Cached(src)
	require.True(t, ok)
	assert.True(t, res.FromCache)
	assert.Equal(t, feedBody, string(res.Body))
}
