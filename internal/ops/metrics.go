package ops

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the ingestion pipeline.
type Metrics struct {
	FetchAttempts   *prometheus.CounterVec
	EventsNew       prometheus.Counter
	EventsUpdated   prometheus.Counter
	StoredEvents    prometheus.Gauge
	RefreshDuration prometheus.Histogram
}

// NewMetrics registers the pipeline instruments on the given registerer.
// Pass prometheus.DefaultRegisterer in production; tests use a fresh
// prometheus.NewRegistry to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		FetchAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "samband",
			Subsystem: "feed",
			Name:      "fetch_attempts_total",
			Help:      "Fetch cycles by outcome.",
		}, []string{"outcome"}),
		EventsNew: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "samband",
			Subsystem: "ingest",
			Name:      "events_new_total",
			Help:      "Events inserted for the first time.",
		}),
		EventsUpdated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "samband",
			Subsystem: "ingest",
			Name:      "events_updated_total",
			Help:      "Events whose content fingerprint changed.",
		}),
		StoredEvents: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "samband",
			Subsystem: "store",
			Name:      "events",
			Help:      "Events currently stored.",
		}),
		RefreshDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "samband",
			Subsystem: "feed",
			Name:      "refresh_duration_seconds",
			Help:      "Wall time of non-skipped refresh cycles.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
	}
}

// SetStoredEvents updates the stored-events gauge.
func (m *Metrics) SetStoredEvents(n int) {
	m.StoredEvents.Set(float64(n))
}

// ObserveRefresh records one refresh outcome.
func (m *Metrics) ObserveRefresh(success bool, newEvents, updatedEvents int, seconds float64) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.FetchAttempts.WithLabelValues(outcome).Inc()
	m.EventsNew.Add(float64(newEvents))
	m.EventsUpdated.Add(float64(updatedEvents))
	m.RefreshDuration.Observe(seconds)
}
