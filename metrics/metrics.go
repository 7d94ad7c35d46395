// Package metrics exposes cache and dispatch activity as Prometheus metrics.
// A single *Metrics implements both cache.Recorder and dispatch.Recorder.
package metrics

import (
	"sync"
	"time"

	"github.com/Keksclan/hearth/cache"
	"github.com/Keksclan/hearth/dispatch"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "hearth"

// Metrics holds the registered collectors.
type Metrics struct {
	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
	cacheEvictions prometheus.Counter
	durableErrors  *prometheus.CounterVec

	jobs          *prometheus.CounterVec
	batchDuration prometheus.Histogram
	reclaimed     prometheus.Counter
	purged        prometheus.Counter

	mu        sync.Mutex
	sizeFuncs []func() int
}

var (
	_ cache.Recorder    = (*Metrics)(nil)
	_ dispatch.Recorder = (*Metrics)(nil)
)

// New creates the collectors and registers them on reg. It panics if a
// collector with the same name is already registered, like
// prometheus.MustRegister.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Cache lookups served, by tier.",
		}, []string{"tier"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Cache lookups not served, by tier.",
		}, []string{"tier"}),
		cacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Primary tier entries removed by capacity eviction.",
		}),
		durableErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "durable_errors_total",
			Help:      "Failed durable tier operations, by operation.",
		}, []string{"op"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "jobs_total",
			Help:      "Jobs handled by the dispatch queue, by outcome.",
		}, []string{"outcome"}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "batch_duration_seconds",
			Help:      "Wall time of a single ProcessBatch call.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		reclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "reclaimed_total",
			Help:      "Stale sending jobs returned to pending.",
		}),
		purged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "purged_total",
			Help:      "Terminal jobs deleted by retention cleanup.",
		}),
	}

	primarySize := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "primary_entries",
		Help:      "Entries currently held in primary tiers.",
	}, m.primaryEntries)

	reg.MustRegister(
		m.cacheHits, m.cacheMisses, m.cacheEvictions, m.durableErrors, primarySize,
		m.jobs, m.batchDuration, m.reclaimed, m.purged,
	)
	return m
}

func (m *Metrics) primaryEntries() float64 {
	m.mu.Lock()
	fns := m.sizeFuncs
	m.mu.Unlock()

	var total int
	for _, fn := range fns {
		total += fn()
	}
	return float64(total)
}

func (m *Metrics) CacheHit(tier cache.Tier)  { m.cacheHits.WithLabelValues(string(tier)).Inc() }
func (m *Metrics) CacheMiss(tier cache.Tier) { m.cacheMisses.WithLabelValues(string(tier)).Inc() }
func (m *Metrics) EntriesEvicted(n int)      { m.cacheEvictions.Add(float64(n)) }
func (m *Metrics) DurableError(op string)    { m.durableErrors.WithLabelValues(op).Inc() }

// ObservePrimarySize adds fn to the primary_entries gauge. Several caches may
// share one Metrics; their sizes are summed.
func (m *Metrics) ObservePrimarySize(fn func() int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sizeFuncs = append(m.sizeFuncs, fn)
}

func (m *Metrics) JobProcessed(o dispatch.Outcome) {
	m.jobs.WithLabelValues(string(o)).Inc()
}

func (m *Metrics) BatchProcessed(s dispatch.Summary, elapsed time.Duration) {
	m.batchDuration.Observe(elapsed.Seconds())
	m.reclaimed.Add(float64(s.Reclaimed))
	m.purged.Add(float64(s.Purged))
}
