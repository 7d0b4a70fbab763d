package metrics

import "github.com/prometheus/client_golang/prometheus"

// RankMetrics holds Prometheus metrics for ranking passes.
type RankMetrics struct {
	PassDuration prometheus.Histogram
	ItemsRanked  prometheus.Gauge
	TrendScore   *prometheus.GaugeVec
}

// NewRankMetrics creates and registers ranking metrics on the given registry.
func NewRankMetrics(reg prometheus.Registerer) *RankMetrics {
	m := &RankMetrics{
		PassDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rank",
			Name:      "pass_duration_seconds",
			Help:      "Duration of a ranking pass in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),
		ItemsRanked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rank",
			Name:      "items",
			Help:      "Number of items in the latest ranked feed.",
		}),
		TrendScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rank",
			Name:      "trend_score",
			Help:      "Trend score per category in the latest pass.",
		}, []string{"category"}),
	}

	reg.MustRegister(m.PassDuration, m.ItemsRanked, m.TrendScore)
	return m
}
