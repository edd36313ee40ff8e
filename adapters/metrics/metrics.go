// Package metrics provides Prometheus metrics collection for the
// membership engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds all Prometheus metrics for the engine.
type Collector struct {
	// Entitlement metrics
	DecisionsTotal *prometheus.CounterVec

	// Credit ledger metrics
	ConsumptionsTotal *prometheus.CounterVec
	VersionConflicts  prometheus.Counter

	// Transition metrics
	TransitionsTotal *prometheus.CounterVec
	EventReplays     prometheus.Counter

	// Sweep metrics
	SweepRuns    prometheus.Counter
	SweptRecords prometheus.Counter
}

// New creates a new metrics collector with all metrics registered.
func New() *Collector {
	return &Collector{
		DecisionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fatewise",
				Name:      "entitlement_decisions_total",
				Help:      "Entitlement decisions by feature and reason",
			},
			[]string{"feature", "reason"},
		),
		ConsumptionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fatewise",
				Name:      "consumptions_total",
				Help:      "Credit consumption attempts by outcome",
			},
			[]string{"outcome"},
		),
		VersionConflicts: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "fatewise",
				Name:      "version_conflicts_total",
				Help:      "Consumption attempts that exhausted their conditional-write retries",
			},
		),
		TransitionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fatewise",
				Name:      "plan_transitions_total",
				Help:      "Plan transitions applied by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		EventReplays: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "fatewise",
				Name:      "billing_event_replays_total",
				Help:      "Billing events ignored because their idempotency key was already processed",
			},
		),
		SweepRuns: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "fatewise",
				Name:      "sweep_runs_total",
				Help:      "Expiry sweep executions",
			},
		),
		SweptRecords: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "fatewise",
				Name:      "swept_memberships_total",
				Help:      "Memberships deactivated by the expiry sweep",
			},
		),
	}
}
