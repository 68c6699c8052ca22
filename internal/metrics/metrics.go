// Package metrics exposes Prometheus collectors for resolution runs.
package metrics

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JonMunkholm/resolver/internal/core"
)

type metrics struct {
	loadTotal    *prometheus.CounterVec
	loadLatency  *prometheus.HistogramVec
	loadRecords  *prometheus.HistogramVec
	previewTotal *prometheus.CounterVec
	previewRows  *prometheus.CounterVec
	previewTime  prometheus.Histogram
	resolveRows  *prometheus.CounterVec
}

var metricsSingleton = sync.OnceValue(func() *metrics {
	return &metrics{
		loadTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "resolver",
			Name:      "bulk_load_total",
			Help:      "Total number of bulk record loads.",
		}, []string{"entity", "result"}),
		loadLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "resolver",
			Name:      "bulk_load_seconds",
			Help:      "Latency distribution of bulk record loads.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"entity"}),
		loadRecords: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "resolver",
			Name:      "bulk_load_records",
			Help:      "Number of records returned per bulk load.",
			Buckets:   prometheus.ExponentialBuckets(10, 4, 8),
		}, []string{"entity"}),
		previewTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "resolver",
			Name:      "preview_total",
			Help:      "Total number of preview runs.",
		}, []string{"entity", "sampled"}),
		previewRows: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "resolver",
			Name:      "preview_rows_total",
			Help:      "Rows processed by preview runs, by outcome.",
		}, []string{"entity", "action"}),
		previewTime: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "resolver",
			Name:      "preview_seconds",
			Help:      "Latency distribution of preview runs.",
			Buckets:   prometheus.DefBuckets,
		}),
		resolveRows: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "resolver",
			Name:      "resolve_rows_total",
			Help:      "Staged rows decided by resolution passes, by action.",
		}, []string{"entity", "action"}),
	}
})

func getMetrics() *metrics {
	return metricsSingleton()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// InstrumentSource wraps a RecordSource so every bulk load is counted and timed.
func InstrumentSource(src core.RecordSource) core.RecordSource {
	return &instrumentedSource{next: src}
}

type instrumentedSource struct {
	next core.RecordSource
}

func (s *instrumentedSource) LoadRecords(ctx context.Context, tenantID string, def core.EntityDefinition) ([]core.Record, error) {
	m := getMetrics()
	start := time.Now()
	recs, err := s.next.LoadRecords(ctx, tenantID, def)
	entity := string(def.Kind)

	m.loadLatency.WithLabelValues(entity).Observe(time.Since(start).Seconds())
	if err != nil {
		m.loadTotal.WithLabelValues(entity, "error").Inc()
		return nil, err
	}
	m.loadTotal.WithLabelValues(entity, "ok").Inc()
	m.loadRecords.WithLabelValues(entity).Observe(float64(len(recs)))
	return recs, nil
}

// ObservePreview records the outcome of a preview run.
func ObservePreview(result *core.PreviewResult) {
	if result == nil {
		return
	}
	m := getMetrics()
	entity := string(result.Entity)

	sampled := "false"
	if result.IsSampled {
		sampled = "true"
	}
	m.previewTotal.WithLabelValues(entity, sampled).Inc()
	m.previewTime.Observe(float64(result.ProcessingTimeMs) / 1000)

	counts := map[core.MatchAction]int{}
	for _, row := range result.Rows {
		counts[row.Action]++
	}
	for action, n := range counts {
		m.previewRows.WithLabelValues(entity, actionLabel(action)).Add(float64(n))
	}
}

// ObserveResolve records the decisions of a resolution pass.
func ObserveResolve(entity core.EntityKind, summary core.ResolveSummary) {
	m := getMetrics()
	m.resolveRows.WithLabelValues(string(entity), string(core.ActionCreate)).Add(float64(summary.Created))
	m.resolveRows.WithLabelValues(string(entity), string(core.ActionUpdate)).Add(float64(summary.Updated))
	m.resolveRows.WithLabelValues(string(entity), string(core.ActionSkip)).Add(float64(summary.Skipped))
}

func actionLabel(a core.MatchAction) string {
	if a == core.ActionNone {
		return "none"
	}
	return string(a)
}
