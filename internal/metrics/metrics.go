package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the pipeline's Prometheus metrics. A nil *Metrics is a
// valid no-op receiver, so instrumentation points never need nil checks at
// the call site beyond the method itself.
type Metrics struct {
	JobsSubmitted prometheus.Counter
	JobsSucceeded prometheus.Counter
	JobsFailed    prometheus.Counter
	JobsTimedOut  prometheus.Counter

	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
	SimilarHits prometheus.Counter

	CostUnitsSpent prometheus.Counter
	CostUnitsSaved prometheus.Counter

	QueueDepth  prometheus.Gauge
	RunningJobs prometheus.Gauge

	JobDuration prometheus.Histogram
}

// New creates and registers all pipeline metrics on the given registerer.
// Nil uses the default registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	if reg == nil {
		factory = promauto.With(prometheus.DefaultRegisterer)
	}

	return &Metrics{
		JobsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicepipe_jobs_submitted_total",
			Help: "Total number of transcription jobs submitted",
		}),
		JobsSucceeded: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicepipe_jobs_succeeded_total",
			Help: "Total number of jobs that reached succeeded state",
		}),
		JobsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicepipe_jobs_failed_total",
			Help: "Total number of jobs that reached failed state",
		}),
		JobsTimedOut: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicepipe_jobs_timed_out_total",
			Help: "Total number of jobs that reached timed-out state",
		}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicepipe_cache_hits_total",
			Help: "Total number of exact-fingerprint cache hits",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicepipe_cache_misses_total",
			Help: "Total number of cache misses that went to the external service",
		}),
		SimilarHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicepipe_similar_hits_total",
			Help: "Total number of near-duplicate matches served from cache",
		}),
		CostUnitsSpent: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicepipe_cost_units_spent_total",
			Help: "Estimated cost units charged by the external service",
		}),
		CostUnitsSaved: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicepipe_cost_units_saved_total",
			Help: "Estimated cost units avoided via optimization and caching",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicepipe_queue_depth",
			Help: "Number of jobs waiting in the pending queue",
		}),
		RunningJobs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicepipe_running_jobs",
			Help: "Number of jobs currently being processed",
		}),
		JobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicepipe_job_duration_seconds",
			Help:    "End-to-end processing duration per job",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
	}
}

func (m *Metrics) Submitted(queueDepth int) {
	if m == nil {
		return
	}
	m.JobsSubmitted.Inc()
	m.QueueDepth.Set(float64(queueDepth))
}

func (m *Metrics) Claimed(queueDepth, running int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(queueDepth))
	m.RunningJobs.Set(float64(running))
}

func (m *Metrics) Finished(status string, running int, took time.Duration) {
	if m == nil {
		return
	}
	switch status {
	case "succeeded":
		m.JobsSucceeded.Inc()
	case "timed-out":
		m.JobsTimedOut.Inc()
	default:
		m.JobsFailed.Inc()
	}
	m.RunningJobs.Set(float64(running))
	m.JobDuration.Observe(took.Seconds())
}

func (m *Metrics) CacheHit(similar bool) {
	if m == nil {
		return
	}
	if similar {
		m.SimilarHits.Inc()
	} else {
		m.CacheHits.Inc()
	}
}

func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.CacheMisses.Inc()
}

func (m *Metrics) Cost(spent, saved float64) {
	if m == nil {
		return
	}
	if spent > 0 {
		m.CostUnitsSpent.Add(spent)
	}
	if saved > 0 {
		m.CostUnitsSaved.Add(saved)
	}
}
