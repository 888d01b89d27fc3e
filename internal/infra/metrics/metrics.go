// Package metrics provides Prometheus metrics for the loyalty engine:
// rides, level-ups, VIP qualification, payouts, persistence and health.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "loyalty"

// ─── Rides and Levels ───────────────────────────────────────────────────────

// RidesCompleted counts completed rides accepted by the level engine.
var RidesCompleted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "rides_completed_total",
	Help:      "Total completed rides recorded.",
})

// LevelUps counts completed sub-levels by level.
var LevelUps = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "level_ups_total",
	Help:      "Total sub-level completions.",
}, []string{"level"})

// VIPActivations counts drivers entering the VIP tier.
var VIPActivations = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "vip_activations_total",
	Help:      "Total drivers that reached the VIP tier.",
})

// ─── VIP Cycle ──────────────────────────────────────────────────────────────

// QualifiedDays counts days that met the VIP daily minimums.
var QualifiedDays = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "vip_qualified_days_total",
	Help:      "Total VIP days meeting the hour and ride minimums.",
})

// PeriodsClosed counts closed 30-day periods by outcome (qualified|missed).
var PeriodsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "vip_periods_closed_total",
	Help:      "Total closed VIP periods.",
}, []string{"outcome"})

// CycleResets counts VIP cycle resets by reason.
var CycleResets = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "vip_cycle_resets_total",
	Help:      "Total VIP cycle resets.",
}, []string{"reason"})

// DriversOnline tracks drivers with an open online session.
var DriversOnline = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "drivers_online",
	Help:      "Drivers currently online.",
})

// ─── Payouts ────────────────────────────────────────────────────────────────

// BonusesPaid counts payouts accepted by the wallet by kind.
var BonusesPaid = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "bonuses_paid_total",
	Help:      "Total bonus payouts credited.",
}, []string{"kind"})

// BonusAmount sums credited bonus amounts by kind.
var BonusAmount = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "bonus_amount_total",
	Help:      "Total bonus amount credited.",
}, []string{"kind"})

// CreditFailures counts wallet credit attempts that failed and stay pending.
var CreditFailures = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "credit_failures_total",
	Help:      "Total failed wallet credit attempts.",
})

// ─── Persistence ────────────────────────────────────────────────────────────

// PersistFailures counts saves that failed after all retries, by engine.
var PersistFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "persist_failures_total",
	Help:      "Total state saves that failed after retries.",
}, []string{"engine"})

// PersistLatency tracks state save duration including retries.
var PersistLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: namespace,
	Name:      "persist_latency_seconds",
	Help:      "State save duration in seconds.",
	Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
})

// ─── Health ─────────────────────────────────────────────────────────────────

// HealthCheckStatus tracks health check results (1=healthy, 0=unhealthy).
var HealthCheckStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "health_check_status",
	Help:      "Health check status (1=healthy, 0=unhealthy).",
}, []string{"check"})

// HealthRecoveries counts recovery actions taken by check.
var HealthRecoveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "health_recoveries_total",
	Help:      "Total health recovery actions.",
}, []string{"check"})
