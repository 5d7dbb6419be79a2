// Package metrics holds the prometheus collectors shared by sync, publish and
// resolve. Every method is safe to call on a nil *Metrics, so components can
// run without instrumentation in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Sync metrics
	SyncRuns        *prometheus.CounterVec
	ModulesImported *prometheus.CounterVec
	ModuleErrors    *prometheus.CounterVec
	ModulesRemoved  *prometheus.CounterVec

	// Publish metrics
	Publishes       *prometheus.CounterVec
	PublishDuration prometheus.Histogram

	// Resolver metrics
	Resolves        *prometheus.CounterVec
	ResolveDuration *prometheus.HistogramVec
	StoresSkipped   prometheus.Counter
	RecordCacheHits prometheus.Counter
	RecordCacheMiss prometheus.Counter
}

// Default is registered with the default prometheus registerer and served
// on /metrics.
var Default = New(prometheus.DefaultRegisterer)

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SyncRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pmirror_sync_runs_total",
				Help: "Total number of sync runs by flow and outcome",
			},
			[]string{"flow", "outcome"},
		),
		ModulesImported: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pmirror_sync_modules_imported_total",
				Help: "Total number of modules imported by sync",
			},
			[]string{"repository"},
		),
		ModuleErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pmirror_sync_module_errors_total",
				Help: "Total number of modules that failed to import",
			},
			[]string{"repository"},
		),
		ModulesRemoved: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pmirror_sync_modules_removed_total",
				Help: "Total number of modules removed because the feed no longer has them",
			},
			[]string{"repository"},
		),
		Publishes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pmirror_publishes_total",
				Help: "Total number of dependency store publishes by protocol",
			},
			[]string{"protocol", "status"},
		),
		PublishDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pmirror_publish_duration_seconds",
				Help:    "Publish duration in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),
		Resolves: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pmirror_resolves_total",
				Help: "Total number of release queries",
			},
			[]string{"form", "status"},
		),
		ResolveDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pmirror_resolve_duration_seconds",
				Help:    "Release query duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"form"},
		),
		StoresSkipped: f.NewCounter(
			prometheus.CounterOpts{
				Name: "pmirror_resolve_stores_skipped_total",
				Help: "Dependency stores skipped because they could not be opened",
			},
		),
		RecordCacheHits: f.NewCounter(
			prometheus.CounterOpts{
				Name: "pmirror_resolve_cache_hits_total",
				Help: "Dependency records served from cache",
			},
		),
		RecordCacheMiss: f.NewCounter(
			prometheus.CounterOpts{
				Name: "pmirror_resolve_cache_misses_total",
				Help: "Dependency records decoded from a store",
			},
		),
	}
}

// SyncFinished records the outcome of one sync flow.
func (m *Metrics) SyncFinished(flow string, outcome string) {
	if m == nil {
		return
	}
	m.SyncRuns.WithLabelValues(flow, outcome).Inc()
}

// ModuleImported records one imported module.
func (m *Metrics) ModuleImported(repoID string) {
	if m == nil {
		return
	}
	m.ModulesImported.WithLabelValues(repoID).Inc()
}

// ModuleFailed records one module that failed to import.
func (m *Metrics) ModuleFailed(repoID string) {
	if m == nil {
		return
	}
	m.ModuleErrors.WithLabelValues(repoID).Inc()
}

// ModuleRemoved records one module removed as missing.
func (m *Metrics) ModuleRemoved(repoID string) {
	if m == nil {
		return
	}
	m.ModulesRemoved.WithLabelValues(repoID).Inc()
}

// Published records one publish attempt for a protocol.
func (m *Metrics) Published(protocol string, err error) {
	if m == nil {
		return
	}
	m.Publishes.WithLabelValues(protocol, status(err)).Inc()
}

// ObservePublish records the duration of a whole publish.
func (m *Metrics) ObservePublish(start time.Time) {
	if m == nil {
		return
	}
	m.PublishDuration.Observe(time.Since(start).Seconds())
}

// Resolved records one query of the given form.
func (m *Metrics) Resolved(form string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.Resolves.WithLabelValues(form, status(err)).Inc()
	m.ResolveDuration.WithLabelValues(form).Observe(time.Since(start).Seconds())
}

// StoreSkipped records one unopenable dependency store.
func (m *Metrics) StoreSkipped() {
	if m == nil {
		return
	}
	m.StoresSkipped.Inc()
}

// CacheLookup records a record cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.RecordCacheHits.Inc()
	} else {
		m.RecordCacheMiss.Inc()
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
