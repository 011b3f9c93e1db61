// Package metrics defines the Prometheus collectors for the game.
// All methods are safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dicegame"

// Metrics holds the application collectors.
type Metrics struct {
	roundOutcomes *prometheus.CounterVec
	roundResults  *prometheus.CounterVec
	roundDuration prometheus.Histogram
	bindOutcomes  *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		roundOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "round_outcomes_total",
			Help:      "PlayRound calls by outcome (played, blocked, limit_reached, ...).",
		}, []string{"outcome"}),
		roundResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "round_results_total",
			Help:      "Committed rounds by result.",
		}, []string{"result"}),
		roundDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "round_duration_seconds",
			Help:      "Time spent in PlayRound including the database transaction.",
			Buckets:   prometheus.DefBuckets,
		}),
		bindOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bind_outcomes_total",
			Help:      "Bind calls by outcome.",
		}, []string{"outcome"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
	}
}

// ObserveRound records one PlayRound call. result is empty unless a round
// was committed.
func (m *Metrics) ObserveRound(outcome, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.roundOutcomes.WithLabelValues(outcome).Inc()
	if result != "" {
		m.roundResults.WithLabelValues(result).Inc()
	}
	m.roundDuration.Observe(elapsed.Seconds())
}

// ObserveBind records one Bind call.
func (m *Metrics) ObserveBind(outcome string) {
	if m == nil {
		return
	}
	m.bindOutcomes.WithLabelValues(outcome).Inc()
}

// ObserveHTTP records one HTTP response.
func (m *Metrics) ObserveHTTP(route, code string) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, code).Inc()
}
