package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewCollector_CreatesCollectorWithEnvironment(t *testing.T) {
	collector := NewCollector("test-env")

	assert.NotNil(t, collector)
	assert.Equal(t, "test-env", collector.environment)
}

func TestCollector_NilIsNoop(t *testing.T) {
	var collector *Collector

	assert.NotPanics(t, func() {
		collector.IncRegistryUpserts("workspace")
		collector.IncTrackerRegistrations("landing")
		collector.IncTrackerCompletions("landing")
		collector.IncCheckpointAdvances()
		collector.SetDispatchReadyItems("bronze", 3)
		collector.IncExecutions("silver", "success")
		collector.AddDiscoveredUnits(2)
		collector.IncAuditEvents("notebook", "Start")
		collector.IncAuditFailures()
		collector.IncAuditDropped()
		collector.IncTransferAttempts("COPY")
		collector.IncTransferRetries("COPY")
		collector.IncTransferValidations("PASS")
		collector.ObserveCycleDuration("landing", 1)
		collector.ObserveExecutionDuration("landing", 1)
	})
}

func TestCollector_IncRegistryUpserts(t *testing.T) {
	collector := NewCollector("test-env-coll-1")

	before := testutil.ToFloat64(RegistryUpsertsTotal.WithLabelValues("test-env-coll-1", "workspace"))
	collector.IncRegistryUpserts("workspace")
	after := testutil.ToFloat64(RegistryUpsertsTotal.WithLabelValues("test-env-coll-1", "workspace"))

	assert.Equal(t, before+1, after)
}

func TestCollector_TrackerCounters(t *testing.T) {
	collector := NewCollector("test-env-coll-2")

	collector.IncTrackerRegistrations("bronze")
	collector.IncTrackerRegistrations("bronze")
	collector.IncTrackerCompletions("bronze")

	assert.Equal(t, float64(2), testutil.ToFloat64(TrackerRegistrationsTotal.WithLabelValues("test-env-coll-2", "bronze")))
	assert.Equal(t, float64(1), testutil.ToFloat64(TrackerCompletionsTotal.WithLabelValues("test-env-coll-2", "bronze")))
}

func TestCollector_IncCheckpointAdvances(t *testing.T) {
	collector := NewCollector("test-env-coll-3")

	collector.IncCheckpointAdvances()

	assert.Equal(t, float64(1), testutil.ToFloat64(CheckpointAdvancesTotal.WithLabelValues("test-env-coll-3")))
}

func TestCollector_SetDispatchReadyItems(t *testing.T) {
	collector := NewCollector("test-env-coll-4")

	collector.SetDispatchReadyItems("silver", 7)
	collector.SetDispatchReadyItems("silver", 4)

	assert.Equal(t, float64(4), testutil.ToFloat64(DispatchReadyItems.WithLabelValues("test-env-coll-4", "silver")))
}

func TestCollector_IncExecutions(t *testing.T) {
	collector := NewCollector("test-env-coll-5")

	collector.IncExecutions("landing", "success")
	collector.IncExecutions("landing", "failure")
	collector.IncExecutions("landing", "failure")

	assert.Equal(t, float64(1), testutil.ToFloat64(ExecutionsTotal.WithLabelValues("test-env-coll-5", "landing", "success")))
	assert.Equal(t, float64(2), testutil.ToFloat64(ExecutionsTotal.WithLabelValues("test-env-coll-5", "landing", "failure")))
}

func TestCollector_AddDiscoveredUnits(t *testing.T) {
	collector := NewCollector("test-env-coll-6")

	collector.AddDiscoveredUnits(3)

	assert.Equal(t, float64(3), testutil.ToFloat64(DiscoveredUnitsTotal.WithLabelValues("test-env-coll-6")))
}

func TestCollector_AuditCounters(t *testing.T) {
	collector := NewCollector("test-env-coll-7")

	collector.IncAuditEvents("pipeline", "End")
	collector.IncAuditFailures()
	collector.IncAuditDropped()

	assert.Equal(t, float64(1), testutil.ToFloat64(AuditEventsTotal.WithLabelValues("test-env-coll-7", "pipeline", "End")))
	assert.Equal(t, float64(1), testutil.ToFloat64(AuditFailuresTotal.WithLabelValues("test-env-coll-7")))
	assert.Equal(t, float64(1), testutil.ToFloat64(AuditDroppedTotal.WithLabelValues("test-env-coll-7")))
}

func TestCollector_TransferCounters(t *testing.T) {
	collector := NewCollector("test-env-coll-8")

	collector.IncTransferAttempts("COPY")
	collector.IncTransferRetries("COPY")
	collector.IncTransferValidations("FAIL")

	assert.Equal(t, float64(1), testutil.ToFloat64(TransferAttemptsTotal.WithLabelValues("test-env-coll-8", "COPY")))
	assert.Equal(t, float64(1), testutil.ToFloat64(TransferRetriesTotal.WithLabelValues("test-env-coll-8", "COPY")))
	assert.Equal(t, float64(1), testutil.ToFloat64(TransferValidationsTotal.WithLabelValues("test-env-coll-8", "FAIL")))
}

func TestCollector_ObserveDurations(t *testing.T) {
	collector := NewCollector("test-env-coll-9")

	collector.ObserveCycleDuration("bronze", 0.5)
	collector.ObserveExecutionDuration("bronze", 12)

	assert.Greater(t, testutil.CollectAndCount(CycleDuration), 0)
	assert.Greater(t, testutil.CollectAndCount(ExecutionDuration), 0)
}
