// Package metrics holds the Prometheus collectors of the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Render results.
const (
	ResultOK          = "ok"
	ResultInvalid     = "invalid"
	ResultUnsupported = "unsupported"
	ResultError       = "error"
)

var (
	Renders = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "groupcal_macro_renders_total",
		Help: "Events macro renders by result",
	}, []string{"result"})

	RenderSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "groupcal_macro_render_seconds",
		Help:    "Time spent resolving, fetching and mapping events for one render",
		Buckets: prometheus.DefBuckets,
	})

	EventsListed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "groupcal_calendar_events_listed_total",
		Help: "Raw events returned by calendar collaborators",
	}, []string{"source", "kind"})

	ICSFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "groupcal_ics_fetches_total",
		Help: "ICS feed fetches by outcome",
	}, []string{"outcome"})
)
