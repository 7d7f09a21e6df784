// Package metrics provides Prometheus metrics for the gradebook client
// engine: cache effectiveness, mutation outcomes, and report polling.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Manager registers and owns all metrics for the client engine.
type Manager struct {
	namespace string
	subsystem string
	enabled   bool
	registry  prometheus.Registerer

	// Query cache metrics, labeled by resource (grades, stats, ...).
	cacheHits          *prometheus.CounterVec
	cacheMisses        *prometheus.CounterVec
	cacheStaleServed   *prometheus.CounterVec
	cacheDedupedWaits  *prometheus.CounterVec
	cacheEvictions     *prometheus.CounterVec
	cacheFetchErrors   *prometheus.CounterVec
	cacheFetchDuration *prometheus.HistogramVec

	// Mutation metrics, labeled by operation and outcome.
	mutations *prometheus.CounterVec

	// Report delivery metrics.
	reportJobs         *prometheus.CounterVec
	reportPollAttempts prometheus.Histogram
}

// Option applies a configuration option to the Manager.
type Option func(*Manager)

// WithNamespace sets the namespace for all metrics.
func WithNamespace(namespace string) Option {
	return func(m *Manager) {
		if namespace != "" {
			m.namespace = namespace
		}
	}
}

// WithSubsystem sets the subsystem for all metrics.
func WithSubsystem(subsystem string) Option {
	return func(m *Manager) {
		if subsystem != "" {
			m.subsystem = subsystem
		}
	}
}

// WithRegistry sets a custom Prometheus registerer.
func WithRegistry(r prometheus.Registerer) Option {
	return func(m *Manager) {
		if r != nil {
			m.registry = r
		}
	}
}

// WithEnabled enables or disables metrics collection.
func WithEnabled(enabled bool) Option {
	return func(m *Manager) { m.enabled = enabled }
}

// NewManager creates a metrics manager and registers all collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace: "gradebook",
		subsystem: "client",
		enabled:   true,
		registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	if !m.enabled {
		return m
	}

	factory := func(name, help string) prometheus.CounterOpts {
		return prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      name,
			Help:      help,
		}
	}

	m.cacheHits = prometheus.NewCounterVec(factory("cache_hits_total",
		"Fresh cache entries served without a network call."), []string{"resource"})
	m.cacheMisses = prometheus.NewCounterVec(factory("cache_misses_total",
		"Lookups that required a network fetch."), []string{"resource"})
	m.cacheStaleServed = prometheus.NewCounterVec(factory("cache_stale_served_total",
		"Stale entries served while a background revalidation ran."), []string{"resource"})
	m.cacheDedupedWaits = prometheus.NewCounterVec(factory("cache_deduped_waits_total",
		"Lookups that joined an already in-flight fetch for the same key."), []string{"resource"})
	m.cacheEvictions = prometheus.NewCounterVec(factory("cache_evictions_total",
		"Entries evicted after the retention window with zero subscribers."), []string{"resource"})
	m.cacheFetchErrors = prometheus.NewCounterVec(factory("cache_fetch_errors_total",
		"Fetches that failed after the automatic retry."), []string{"resource"})
	m.cacheFetchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "cache_fetch_duration_seconds",
		Help:      "Duration of cache fetches, including the automatic retry.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"resource"})

	m.mutations = prometheus.NewCounterVec(factory("mutations_total",
		"Grade mutations by operation and outcome."), []string{"operation", "outcome"})

	m.reportJobs = prometheus.NewCounterVec(factory("report_job_transitions_total",
		"Report delivery job state transitions."), []string{"state"})
	m.reportPollAttempts = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "report_poll_attempts",
		Help:      "Download attempts performed per report job.",
		Buckets:   []float64{1, 2, 3, 4, 5, 6, 8, 10},
	})

	m.registry.MustRegister(
		m.cacheHits, m.cacheMisses, m.cacheStaleServed, m.cacheDedupedWaits,
		m.cacheEvictions, m.cacheFetchErrors, m.cacheFetchDuration,
		m.mutations, m.reportJobs, m.reportPollAttempts,
	)
	return m
}

// CacheHit records a fresh entry served from memory.
func (m *Manager) CacheHit(resource string) {
	if m.enabled {
		m.cacheHits.WithLabelValues(resource).Inc()
	}
}

// CacheMiss records a lookup that triggered a fetch.
func (m *Manager) CacheMiss(resource string) {
	if m.enabled {
		m.cacheMisses.WithLabelValues(resource).Inc()
	}
}

// CacheStaleServed records a stale value returned during revalidation.
func (m *Manager) CacheStaleServed(resource string) {
	if m.enabled {
		m.cacheStaleServed.WithLabelValues(resource).Inc()
	}
}

// CacheDedupedWait records a lookup joining an in-flight fetch.
func (m *Manager) CacheDedupedWait(resource string) {
	if m.enabled {
		m.cacheDedupedWaits.WithLabelValues(resource).Inc()
	}
}

// CacheEviction records a retention-window eviction.
func (m *Manager) CacheEviction(resource string) {
	if m.enabled {
		m.cacheEvictions.WithLabelValues(resource).Inc()
	}
}

// CacheFetchError records a fetch that failed after the retry.
func (m *Manager) CacheFetchError(resource string) {
	if m.enabled {
		m.cacheFetchErrors.WithLabelValues(resource).Inc()
	}
}

// ObserveFetch records the duration of one fetch.
func (m *Manager) ObserveFetch(resource string, d time.Duration) {
	if m.enabled {
		m.cacheFetchDuration.WithLabelValues(resource).Observe(d.Seconds())
	}
}

// Mutation records a grade mutation outcome ("ok", "rejected", "busy",
// "error").
func (m *Manager) Mutation(operation, outcome string) {
	if m.enabled {
		m.mutations.WithLabelValues(operation, outcome).Inc()
	}
}

// ReportJob records a report job state transition.
func (m *Manager) ReportJob(state string) {
	if m.enabled {
		m.reportJobs.WithLabelValues(state).Inc()
	}
}

// ReportPollAttempts records how many download attempts one job made.
func (m *Manager) ReportPollAttempts(n int) {
	if m.enabled {
		m.reportPollAttempts.Observe(float64(n))
	}
}

// Nop returns a disabled manager for tests and metric-less setups.
func Nop() *Manager {
	return &Manager{enabled: false}
}
