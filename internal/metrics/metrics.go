// Package metrics exposes Prometheus instrumentation for the pipeline, retrieval and scheduler.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "aiflash"

// Metrics holds all collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	ItemsIngested     *prometheus.CounterVec
	RelevanceOutcomes *prometheus.CounterVec
	RelevanceBatches  *prometheus.CounterVec
	SynthesisOutcomes *prometheus.CounterVec
	EmbeddingFailures prometheus.Counter

	IndexUpserts      prometheus.Counter
	IndexStaleRemoved prometheus.Counter
	IndexEntries      prometheus.Gauge

	RetrievalTier    *prometheus.CounterVec
	SearchFallbacks  *prometheus.CounterVec
	RetrievalLatency *prometheus.HistogramVec

	JobRuns        *prometheus.CounterVec
	JobDuration    *prometheus.HistogramVec
	JobsRunning    prometheus.Gauge
	ItemsByStage   *prometheus.GaugeVec
	ItemsRetention prometheus.Counter
}

// New registers every collector on reg. A nil reg uses a fresh private registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	m := &Metrics{gatherer: reg}
	m.initPipeline(factory)
	m.initIndex(factory)
	m.initRetrieval(factory)
	m.initJobs(factory)
	return m
}

func (m *Metrics) initPipeline(factory promauto.Factory) {
	m.ItemsIngested = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "items_ingested_total",
		Help:      "Raw items offered to the store, by outcome (inserted, duplicate, failed).",
	}, []string{"outcome"})

	m.RelevanceOutcomes = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "relevance_outcomes_total",
		Help:      "Relevance check outcomes per item (relevant, irrelevant, failed, skipped).",
	}, []string{"outcome"})

	m.RelevanceBatches = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "relevance_batches_total",
		Help:      "Relevance batches by outcome (ok, unparsable, transport_error).",
	}, []string{"outcome"})

	m.SynthesisOutcomes = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "synthesis_outcomes_total",
		Help:      "Synthesis outcomes per item (summarized, failed).",
	}, []string{"outcome"})

	m.EmbeddingFailures = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "embedding_failures_total",
		Help:      "Embedding calls that fell back to a zero vector.",
	})

	m.ItemsByStage = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "items",
		Help:      "Items in the store by lifecycle stage.",
	}, []string{"stage"})

	m.ItemsRetention = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "items_retention_deleted_total",
		Help:      "Items removed by the retention sweep.",
	})
}

func (m *Metrics) initIndex(factory promauto.Factory) {
	m.IndexUpserts = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "index",
		Name:      "upserts_total",
		Help:      "Entries written to the search index.",
	})

	m.IndexStaleRemoved = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "index",
		Name:      "stale_removed_total",
		Help:      "Index entries removed because their item is no longer summarized.",
	})

	m.IndexEntries = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "index",
		Name:      "entries",
		Help:      "Entries in the search index after the last sync.",
	})
}

func (m *Metrics) initRetrieval(factory promauto.Factory) {
	m.RetrievalTier = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "retrieval",
		Name:      "tier_total",
		Help:      "Read requests by the tier that answered them.",
	}, []string{"query", "tier"})

	m.SearchFallbacks = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "retrieval",
		Name:      "search_fallbacks_total",
		Help:      "Vector searches that fell back to store tiers, by reason.",
	}, []string{"reason"})

	m.RetrievalLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "retrieval",
		Name:      "duration_seconds",
		Help:      "Read path latency.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"query"})
}

func (m *Metrics) initJobs(factory promauto.Factory) {
	m.JobRuns = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "job_runs_total",
		Help:      "Job runs by job and final state.",
	}, []string{"job", "state"})

	m.JobDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "job_duration_seconds",
		Help:      "Job run duration.",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 180, 600},
	}, []string{"job"})

	m.JobsRunning = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "jobs_running",
		Help:      "Jobs currently running.",
	})
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Ingested counts one insert attempt.
func (m *Metrics) Ingested(outcome string) {
	if m == nil {
		return
	}
	m.ItemsIngested.WithLabelValues(outcome).Inc()
}

// Relevance counts per-item relevance outcomes.
func (m *Metrics) Relevance(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RelevanceOutcomes.WithLabelValues(outcome).Add(float64(n))
}

// RelevanceBatch counts one batch call.
func (m *Metrics) RelevanceBatch(outcome string) {
	if m == nil {
		return
	}
	m.RelevanceBatches.WithLabelValues(outcome).Inc()
}

// Synthesis counts one synthesis outcome.
func (m *Metrics) Synthesis(outcome string) {
	if m == nil {
		return
	}
	m.SynthesisOutcomes.WithLabelValues(outcome).Inc()
}

// EmbeddingFailed counts an embedding replaced by a zero vector.
func (m *Metrics) EmbeddingFailed() {
	if m == nil {
		return
	}
	m.EmbeddingFailures.Inc()
}

// IndexSynced records upserted and removed entries plus the resulting size (negative when unknown).
func (m *Metrics) IndexSynced(upserted, removed, size int) {
	if m == nil {
		return
	}
	m.IndexUpserts.Add(float64(upserted))
	m.IndexStaleRemoved.Add(float64(removed))
	if size >= 0 {
		m.IndexEntries.Set(float64(size))
	}
}

// Retrieved records the tier that answered a query and its latency.
func (m *Metrics) Retrieved(query, tier string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RetrievalTier.WithLabelValues(query, tier).Inc()
	m.RetrievalLatency.WithLabelValues(query).Observe(elapsed.Seconds())
}

// SearchFellBack counts a vector search replaced by store tiers.
func (m *Metrics) SearchFellBack(reason string) {
	if m == nil {
		return
	}
	m.SearchFallbacks.WithLabelValues(reason).Inc()
}

// JobStarted marks a job as running.
func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.JobsRunning.Inc()
}

// JobFinished records the final state and duration of a job run.
func (m *Metrics) JobFinished(job, state string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.JobsRunning.Dec()
	m.JobRuns.WithLabelValues(job, state).Inc()
	m.JobDuration.WithLabelValues(job).Observe(elapsed.Seconds())
}

// StoreStats publishes per-stage item counts.
func (m *Metrics) StoreStats(total, unchecked, relevant, summarized, quarantined int) {
	if m == nil {
		return
	}
	m.ItemsByStage.WithLabelValues("total").Set(float64(total))
	m.ItemsByStage.WithLabelValues("unchecked").Set(float64(unchecked))
	m.ItemsByStage.WithLabelValues("relevant").Set(float64(relevant))
	m.ItemsByStage.WithLabelValues("summarized").Set(float64(summarized))
	m.ItemsByStage.WithLabelValues("quarantined").Set(float64(quarantined))
}

// RetentionDeleted counts items removed by the retention sweep.
func (m *Metrics) RetentionDeleted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ItemsRetention.Add(float64(n))
}
