// Package metrics defines the Prometheus collectors shared across
// terminals, registered once against the default registry so /metrics in
// internal/health exposes them without each terminal wiring its own
// registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TickDuration records how long one sampler tick took end to end,
	// including the PLC read and the async DB handoff enqueue.
	TickDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ald_sampler_tick_duration_seconds",
		Help:    "Duration of one sampler tick.",
		Buckets: prometheus.DefBuckets,
	}, []string{"machine_id"})

	// TickTimingViolations counts ticks that ran past the timing-violation
	// threshold configured for the sampler.
	TickTimingViolations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ald_sampler_tick_timing_violations_total",
		Help: "Count of sampler ticks exceeding the configured timing threshold.",
	}, []string{"machine_id"})

	// DeadLetterDepth tracks how many readings are currently queued locally
	// because the database was unreachable.
	DeadLetterDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ald_sampler_deadletter_depth",
		Help: "Number of readings queued in the local dead-letter store.",
	}, []string{"machine_id"})

	// RecipeStepsExecuted counts steps T2 has executed, by step type and
	// outcome.
	RecipeStepsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ald_recipe_steps_executed_total",
		Help: "Count of recipe steps executed, by type and outcome.",
	}, []string{"machine_id", "step_type", "outcome"})

	// ParameterWritesTotal counts T3 write attempts by outcome.
	ParameterWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ald_parameter_writes_total",
		Help: "Count of parameter control writes attempted, by outcome.",
	}, []string{"machine_id", "outcome"})

	// ParameterWriteRetries counts retry attempts beyond the first for a
	// single parameter control command.
	ParameterWriteRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ald_parameter_write_retries_total",
		Help: "Count of parameter write retry attempts.",
	}, []string{"machine_id"})

	// SetpointReconciliations counts T1's setpoint-vs-readback mismatches
	// found and corrected during reconciliation.
	SetpointReconciliations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ald_setpoint_reconciliations_total",
		Help: "Count of setpoint mismatches corrected during reconciliation.",
	}, []string{"machine_id"})

	// PLCConnected is 1 when the adapter reports connected, 0 otherwise.
	PLCConnected = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ald_plc_connected",
		Help: "Whether the PLC adapter currently reports a live connection.",
	}, []string{"machine_id", "role"})
)
