// Package metrics holds the prometheus collectors for the sync engine.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the engine's counters
type Metrics struct {
	// requestAttempts counts transport attempts by endpoint and outcome
	requestAttempts *prometheus.CounterVec

	// requestRetries counts backoff sleeps taken before a retry
	requestRetries *prometheus.CounterVec

	// cacheLookups counts statistics cache reads by result (hit, miss, expired)
	cacheLookups *prometheus.CounterVec

	// reconciliations counts image reconciliation outcomes
	reconciliations *prometheus.CounterVec

	// reminders counts reminder evaluations by meal and decision
	reminders *prometheus.CounterVec

	// dayRefreshes counts day-boundary refresh cycles by result
	dayRefreshes *prometheus.CounterVec
}

// New registers the engine collectors on reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		requestAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "snapsync_request_attempts_total",
			Help: "Transport attempts by endpoint and outcome",
		}, []string{"endpoint", "outcome"}),
		requestRetries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "snapsync_request_retries_total",
			Help: "Backoff sleeps taken before retrying a request",
		}, []string{"endpoint"}),
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "snapsync_stats_cache_lookups_total",
			Help: "Statistics cache lookups by result",
		}, []string{"result"}),
		reconciliations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "snapsync_image_reconciliations_total",
			Help: "Image reconciliation outcomes",
		}, []string{"result"}),
		reminders: f.NewCounterVec(prometheus.CounterOpts{
			Name: "snapsync_reminder_evaluations_total",
			Help: "Reminder evaluations by meal and decision",
		}, []string{"meal", "decision"}),
		dayRefreshes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "snapsync_day_refreshes_total",
			Help: "Day-boundary refresh cycles by result",
		}, []string{"result"}),
	}
}

// RequestAttempt records one transport attempt
func (m *Metrics) RequestAttempt(endpoint, outcome string) {
	if m == nil {
		return
	}
	m.requestAttempts.WithLabelValues(endpoint, outcome).Inc()
}

// RequestRetry records a backoff sleep
func (m *Metrics) RequestRetry(endpoint string) {
	if m == nil {
		return
	}
	m.requestRetries.WithLabelValues(endpoint).Inc()
}

// CacheLookup records a statistics cache read
func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// Reconciliation records an image reconciliation outcome
func (m *Metrics) Reconciliation(result string) {
	if m == nil {
		return
	}
	m.reconciliations.WithLabelValues(result).Inc()
}

// Reminder records a reminder decision
func (m *Metrics) Reminder(meal, decision string) {
	if m == nil {
		return
	}
	m.reminders.WithLabelValues(meal, decision).Inc()
}

// DayRefresh records a day-boundary cycle
func (m *Metrics) DayRefresh(result string) {
	if m == nil {
		return
	}
	m.dayRefreshes.WithLabelValues(result).Inc()
}

// Collectors exposes the underlying vectors for tests
func (m *Metrics) Collectors() map[string]*prometheus.CounterVec {
	return map[string]*prometheus.CounterVec{
		"request_attempts": m.requestAttempts,
		"request_retries":  m.requestRetries,
		"cache_lookups":    m.cacheLookups,
		"reconciliations":  m.reconciliations,
		"reminders":        m.reminders,
		"day_refreshes":    m.dayRefreshes,
	}
}
