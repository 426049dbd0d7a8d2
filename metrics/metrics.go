package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RegistryUpsertsTotal tracks catalog and entity upserts by record kind.
var RegistryUpsertsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "medallion_registry_upserts_total",
		Help: "Total catalog and entity upserts",
	},
	[]string{"environment", "kind"},
)

// TrackerRegistrationsTotal tracks units newly registered in the execution tracker.
var TrackerRegistrationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "medallion_tracker_registrations_total",
		Help: "Total units registered as awaiting the next layer",
	},
	[]string{"environment", "layer"},
)

// TrackerCompletionsTotal tracks units marked processed.
var TrackerCompletionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "medallion_tracker_completions_total",
		Help: "Total units marked processed",
	},
	[]string{"environment", "layer"},
)

// CheckpointAdvancesTotal tracks watermark writes.
var CheckpointAdvancesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "medallion_checkpoint_advances_total",
		Help: "Total watermark advances",
	},
	[]string{"environment"},
)

// DispatchReadyItems tracks the size of the last computed work list per layer.
var DispatchReadyItems = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "medallion_dispatch_ready_items",
		Help: "Work items in the last generated work list",
	},
	[]string{"environment", "layer"},
)

// ExecutionsTotal tracks executor outcomes.
var ExecutionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "medallion_executions_total",
		Help: "Total work items handed to the executor by outcome",
	},
	[]string{"environment", "layer", "outcome"},
)

// DiscoveredUnitsTotal tracks landing files found by discovery and registered.
var DiscoveredUnitsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "medallion_discovered_units_total",
		Help: "Total landing files discovered and registered",
	},
	[]string{"environment"},
)

// AuditEventsTotal tracks audit events written.
var AuditEventsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "medallion_audit_events_total",
		Help: "Total audit events written",
	},
	[]string{"environment", "kind", "log_type"},
)

// AuditFailuresTotal tracks audit writes that failed in the store.
var AuditFailuresTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "medallion_audit_failures_total",
		Help: "Total audit writes that failed",
	},
	[]string{"environment"},
)

// AuditDroppedTotal tracks audit events dropped because the buffer was full or the writer closed.
var AuditDroppedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "medallion_audit_dropped_total",
		Help: "Total audit events dropped before reaching the store",
	},
	[]string{"environment"},
)

// TransferAttemptsTotal tracks bulk transfer attempts.
var TransferAttemptsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "medallion_transfer_attempts_total",
		Help: "Total bulk transfer attempts",
	},
	[]string{"environment", "operation"},
)

// TransferRetriesTotal tracks bulk transfer retries after a failed attempt.
var TransferRetriesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "medallion_transfer_retries_total",
		Help: "Total bulk transfer retries",
	},
	[]string{"environment", "operation"},
)

// TransferValidationsTotal tracks row count validations by verdict.
var TransferValidationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "medallion_transfer_validations_total",
		Help: "Total row count validations by status",
	},
	[]string{"environment", "status"},
)

// CycleDuration tracks the duration of a dispatch cycle.
var CycleDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "medallion_cycle_duration_seconds",
		Help:    "Time spent in one dispatch cycle",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"environment", "layer"},
)

// ExecutionDuration tracks the duration of one work item in the executor.
var ExecutionDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "medallion_execution_duration_seconds",
		Help:    "Time spent executing one work item",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
	},
	[]string{"environment", "layer"},
)
