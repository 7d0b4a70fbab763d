package metrics

import "github.com/prometheus/client_golang/prometheus"

// FeedbackMetrics holds Prometheus metrics for the feedback loop.
type FeedbackMetrics struct {
	ActionsTotal    *prometheus.CounterVec
	Rewards         prometheus.Histogram
	LedgerAppends   *prometheus.CounterVec
	RejectedTotal   *prometheus.CounterVec
	AdaptiveApplied prometheus.Counter
}

// NewFeedbackMetrics creates and registers feedback metrics on the given registry.
func NewFeedbackMetrics(reg prometheus.Registerer) *FeedbackMetrics {
	m := &FeedbackMetrics{
		ActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feedback",
			Name:      "actions_total",
			Help:      "Decisions taken on feedback, by action and whether the item existed.",
		}, []string{"action", "applied"}),
		Rewards: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "feedback",
			Name:      "reward",
			Help:      "Distribution of computed rewards.",
			Buckets:   prometheus.LinearBuckets(-1, 0.25, 9),
		}),
		LedgerAppends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "appends_total",
			Help:      "Ledger records appended, by stage.",
		}, []string{"stage"}),
		RejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feedback",
			Name:      "rejected_total",
			Help:      "Requests rejected before processing, by reason.",
		}, []string{"reason"}),
		AdaptiveApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feedback",
			Name:      "adaptive_thresholds_total",
			Help:      "Decisions made with adapted thresholds.",
		}),
	}

	reg.MustRegister(m.ActionsTotal, m.Rewards, m.LedgerAppends, m.RejectedTotal, m.AdaptiveApplied)
	return m
}
