package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors groups the daemon's prometheus instruments. A fresh registry per
// service instance keeps parallel tests from fighting over the default
// registerer.
type Collectors struct {
	Registry *prometheus.Registry

	CacheRequests     *prometheus.CounterVec
	ReconcileAttempts prometheus.Counter
	ReconcileOutcomes *prometheus.CounterVec
	AuthTransitions   *prometheus.CounterVec
	ToastsRaised      prometheus.Counter
	RealtimeEvents    *prometheus.CounterVec
}

func New() *Collectors {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collectors{
		Registry: reg,
		CacheRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "velgo_cache_requests_total",
			Help: "Offline cache interceptor decisions by strategy and result.",
		}, []string{"strategy", "result"}),
		ReconcileAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "velgo_profile_reconcile_attempts_total",
			Help: "Individual profile fetch attempts, including retries.",
		}),
		ReconcileOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "velgo_profile_reconcile_outcomes_total",
			Help: "Terminal reconciliation outcomes.",
		}, []string{"outcome"}),
		AuthTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "velgo_auth_transitions_total",
			Help: "Session monitor state transitions by event.",
		}, []string{"event"}),
		ToastsRaised: factory.NewCounter(prometheus.CounterOpts{
			Name: "velgo_toasts_raised_total",
			Help: "Transient notifications surfaced to the shell.",
		}),
		RealtimeEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "velgo_realtime_events_total",
			Help: "Change-feed events received, by table.",
		}, []string{"table"}),
	}
}
