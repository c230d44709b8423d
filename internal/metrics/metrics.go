// Package metrics holds the Prometheus instruments exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for moexbonds. A nil *Metrics is
// valid and records nothing, so library callers need not wire it.
type Metrics struct {
	FeedRefreshTotal    *prometheus.CounterVec
	FeedRefreshDuration prometheus.Histogram
	NormalizeRejected   *prometheus.CounterVec
	WorkingSetSize      prometheus.Gauge
	SnapshotAgeSeconds  prometheus.Gauge
	PipelineDuration    prometheus.Histogram
	LLMRequestsTotal    *prometheus.CounterVec
	CacheHitsTotal      *prometheus.CounterVec
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		FeedRefreshTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "moexbonds_feed_refresh_total",
			Help: "Feed refresh attempts by result",
		}, []string{"result"}),

		FeedRefreshDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "moexbonds_feed_refresh_duration_seconds",
			Help:    "Time to fetch and normalize a feed snapshot",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40},
		}),

		NormalizeRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "moexbonds_normalize_rejected_total",
			Help: "Feed rows rejected during normalization by reason",
		}, []string{"reason"}),

		WorkingSetSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "moexbonds_working_set_size",
			Help: "Number of bonds in the current snapshot",
		}),

		SnapshotAgeSeconds: f.NewGauge(prometheus.GaugeOpts{
			Name: "moexbonds_snapshot_timestamp_seconds",
			Help: "Unix time of the current snapshot",
		}),

		PipelineDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "moexbonds_pipeline_duration_seconds",
			Help:    "Filter, sort and paginate latency",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05},
		}),

		LLMRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "moexbonds_llm_requests_total",
			Help: "Chat completion requests by provider and result",
		}, []string{"provider", "result"}),

		CacheHitsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "moexbonds_cache_lookups_total",
			Help: "Cache lookups by cache and outcome",
		}, []string{"cache", "outcome"}),
	}
}

// RecordRefresh records one refresh attempt.
func (m *Metrics) RecordRefresh(err error, took time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.FeedRefreshTotal.WithLabelValues(result).Inc()
	m.FeedRefreshDuration.Observe(took.Seconds())
}

// RecordRejected adds n rejections for reason.
func (m *Metrics) RecordRejected(reason string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.NormalizeRejected.WithLabelValues(reason).Add(float64(n))
}

// RecordWorkingSet records the size and time of a committed snapshot.
func (m *Metrics) RecordWorkingSet(size int, at time.Time) {
	if m == nil {
		return
	}
	m.WorkingSetSize.Set(float64(size))
	m.SnapshotAgeSeconds.Set(float64(at.Unix()))
}

// RecordPipeline records one pipeline run.
func (m *Metrics) RecordPipeline(took time.Duration) {
	if m == nil {
		return
	}
	m.PipelineDuration.Observe(took.Seconds())
}

// RecordLLM records one chat request.
func (m *Metrics) RecordLLM(provider string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.LLMRequestsTotal.WithLabelValues(provider, result).Inc()
}

// RecordCache records a cache lookup.
func (m *Metrics) RecordCache(cache string, hit bool) {
	if m == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.CacheHitsTotal.WithLabelValues(cache, outcome).Inc()
}
