package admission

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts admission outcomes per stage.
type Metrics struct {
	AdmittedTotal   prometheus.Counter
	RejectedTotal   *prometheus.CounterVec
	StageDuration   *prometheus.HistogramVec
	RateFailOpens   prometheus.Counter
	RuleEvaluations *prometheus.CounterVec
}

// NewMetrics registers the admission metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		AdmittedTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "lexicon",
				Name:      "admission_admitted_total",
				Help:      "Tool calls that passed every admission stage",
			},
		),
		RejectedTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lexicon",
				Name:      "admission_rejected_total",
				Help:      "Tool calls rejected by the admission pipeline",
			},
			[]string{"kind"}, // auth/validation/policy/rate_limit/safe_mode
		),
		StageDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "lexicon",
				Name:      "admission_stage_duration_seconds",
				Help:      "Time spent in each admission stage",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		RateFailOpens: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "lexicon",
				Name:      "admission_rate_fail_open_total",
				Help:      "Requests admitted because the rate limit store was unavailable",
			},
		),
		RuleEvaluations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lexicon",
				Name:      "admission_rule_evaluations_total",
				Help:      "Admission rule evaluations by result",
			},
			[]string{"result"}, // allow/deny
		),
	}
}

// NopMetrics returns metrics bound to a throwaway registry, for tests
// and for the stdio mode where no scrape endpoint exists.
func NopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
