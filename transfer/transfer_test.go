package transfer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/getpup/medallion"
	"github.com/getpup/medallion/metrics"
	"github.com/getpup/medallion/store/memory"
	mssql "github.com/microsoft/go-mssqldb"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordedSleeps struct {
	waits []time.Duration
	err   error
}

func (r *recordedSleeps) sleep(ctx context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return r.err
}

func newService(t *testing.T, sleeps *recordedSleeps) (*Service, *memory.Store) {
	t.Helper()
	s := memory.New()
	cfg := Config{Store: s, Logger: zaptest.NewLogger(t)}
	if sleeps != nil {
		cfg.Sleep = sleeps.sleep
	}
	return New(cfg), s
}

func TestVariance(t *testing.T) {
	tests := []struct {
		source, target int64
		variance       float64
		status         medallion.ValidationStatus
	}{
		{100, 95, 5.00, medallion.ValidationFail},
		{100, 100, 0, medallion.ValidationPass},
		{100, 105, 5.00, medallion.ValidationFail},
		{3, 2, 33.33, medallion.ValidationFail},
		{0, 0, 0, medallion.ValidationPass},
		{0, 42, 0, medallion.ValidationFail},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.variance, Variance(tt.source, tt.target), "%d/%d", tt.source, tt.target)
		assert.Equal(t, tt.status, Verdict(tt.source, tt.target), "%d/%d", tt.source, tt.target)
	}
}

func TestValidateRowCountsPersistsFailAsData(t *testing.T) {
	env := "transfer-validate"
	s := memory.New()
	svc := New(Config{Store: s, Metrics: metrics.NewCollector(env)})
	ctx := context.Background()

	v, err := svc.ValidateRowCounts(ctx, "dbo", "Orders", 100, 95)
	require.NoError(t, err)
	assert.Equal(t, medallion.ValidationFail, v.Status)
	assert.Equal(t, 5.00, v.VariancePct)

	_, err = svc.ValidateRowCounts(ctx, "dbo", "Lines", 10, 10)
	require.NoError(t, err)

	all, err := svc.Validations(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Orders", all[0].TableName)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.TransferValidationsTotal.WithLabelValues(env, "FAIL")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.TransferValidationsTotal.WithLabelValues(env, "PASS")))
}

func TestLogEventSequencePerPhaseAndOperation(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()

	first, err := svc.LogEvent(ctx, Event{Phase: PhaseLoad, Table: "a", Operation: OperationCopyInto, Status: medallion.MigrationStatusStarted})
	require.NoError(t, err)
	second, err := svc.LogEvent(ctx, Event{Phase: PhaseLoad, Table: "b", Operation: OperationCopyInto, Status: medallion.MigrationStatusSuccess})
	require.NoError(t, err)
	other, err := svc.LogEvent(ctx, Event{Phase: PhaseExtract, Table: "a", Operation: OperationCETAS, Status: medallion.MigrationStatusSuccess})
	require.NoError(t, err)

	assert.Equal(t, int64(1), first.ExecutionSequence)
	assert.Equal(t, int64(2), second.ExecutionSequence)
	assert.Equal(t, int64(1), other.ExecutionSequence)

	loads, err := svc.Log(ctx, PhaseLoad, "")
	require.NoError(t, err)
	assert.Len(t, loads, 2)
}

func TestLogEventValidation(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()

	_, err := svc.LogEvent(ctx, Event{Phase: PhaseLoad, Operation: OperationCopyInto, Status: "DONE"})
	assert.ErrorIs(t, err, medallion.ErrInvalidArgument)

	_, err = svc.LogEvent(ctx, Event{Operation: OperationCopyInto, Status: medallion.MigrationStatusSuccess})
	assert.ErrorIs(t, err, medallion.ErrInvalidArgument)
}

func TestLogEventErrorDetails(t *testing.T) {
	svc, _ := newService(t, nil)

	sqlErr := mssql.Error{Number: 13807, Class: 16, Message: "Content of directory cannot be listed."}
	entry, err := svc.LogEvent(context.Background(), Event{
		Phase: PhaseLoad, Schema: "dbo", Table: "Orders", Operation: OperationCopyInto,
		Status: medallion.MigrationStatusFailed, Err: sqlErr,
	})
	require.NoError(t, err)
	assert.Equal(t, 13807, entry.ErrorNumber)
	assert.Equal(t, 16, entry.ErrorSeverity)
	assert.Equal(t, "Content of directory cannot be listed.", entry.ErrorMessage)

	entry, err = svc.LogEvent(context.Background(), Event{
		Phase: PhaseLoad, Operation: OperationCopyInto, Status: medallion.MigrationStatusFailed, Err: errors.New("timeout"),
	})
	require.NoError(t, err)
	assert.Zero(t, entry.ErrorNumber)
	assert.Equal(t, "timeout", entry.ErrorMessage)
}

func TestAnalyzeThresholds(t *testing.T) {
	tests := []struct {
		sizeGB       float64
		compression  bool
		partitioning bool
	}{
		{4, false, false},
		{5000.0 / 1024, false, false},
		{5, true, false},
		{10, true, true},
	}

	for _, tt := range tests {
		a := Analyze(TableSize{Schema: "dbo", Table: "t", SizeGB: tt.sizeGB})
		assert.Equal(t, tt.compression, a.RecommendCompression, "%.3f GB", tt.sizeGB)
		assert.Equal(t, tt.partitioning, a.RecommendPartitioning, "%.3f GB", tt.sizeGB)
	}

	a := Analyze(TableSize{SizeGB: 1.5})
	assert.Equal(t, 1536.0, a.SizeMB)
	assert.Equal(t, 1.5, a.SizeGB)
}

type fakeSizes []TableSize

func (f fakeSizes) TableSizes(ctx context.Context) ([]TableSize, error) { return f, nil }

func TestAnalyzeTableSizesPersists(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()

	out, err := svc.AnalyzeTableSizes(ctx, fakeSizes{
		{Schema: "dbo", Table: "Big", RowCount: 1e9, SizeGB: 12},
		{Schema: "dbo", Table: "Small", RowCount: 10, SizeGB: 0.001},
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.True(t, out[0].RecommendPartitioning)
	assert.False(t, out[1].RecommendCompression)

	stored, err := svc.TableSizes(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestRetryExhaustsAndReturnsOriginalError(t *testing.T) {
	sleeps := &recordedSleeps{}
	svc, _ := newService(t, sleeps)
	ctx := context.Background()
	original := errors.New("copy failed")

	attempts := 0
	err := svc.Retry(ctx, Step{Phase: PhaseLoad, Schema: "dbo", Table: "Orders", Operation: OperationCopyInto, MaxRetries: 3},
		func(ctx context.Context) (int64, error) {
			attempts++
			return 0, original
		})

	assert.True(t, err == original, "retry must return the original error value")
	assert.Equal(t, 4, attempts)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}, sleeps.waits)

	log, lerr := svc.Log(ctx, PhaseLoad, OperationCopyInto)
	require.NoError(t, lerr)
	var statuses []medallion.MigrationStatus
	for _, e := range log {
		statuses = append(statuses, e.Status)
	}
	assert.Equal(t, []medallion.MigrationStatus{
		medallion.MigrationStatusRetry, medallion.MigrationStatusRetry, medallion.MigrationStatusRetry, medallion.MigrationStatusFailed,
	}, statuses)
	assert.Equal(t, "copy failed", log[3].ErrorMessage)
	assert.Equal(t, int64(4), log[3].ExecutionSequence)
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	sleeps := &recordedSleeps{}
	svc, _ := newService(t, sleeps)
	ctx := context.Background()

	attempts := 0
	err := svc.Retry(ctx, Step{Phase: PhaseLoad, Operation: OperationCopyInto, MaxRetries: 3},
		func(ctx context.Context) (int64, error) {
			attempts++
			if attempts < 3 {
				return 0, errors.New("transient")
			}
			return 1234, nil
		})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Len(t, sleeps.waits, 2)

	log, err := svc.Log(ctx, PhaseLoad, OperationCopyInto)
	require.NoError(t, err)
	require.Len(t, log, 3)
	assert.Equal(t, medallion.MigrationStatusSuccess, log[2].Status)
	assert.Equal(t, int64(1234), log[2].RowsProcessed)
}

func TestRetryStopsWhenContextDone(t *testing.T) {
	sleeps := &recordedSleeps{err: context.Canceled}
	svc, _ := newService(t, sleeps)
	original := errors.New("copy failed")

	attempts := 0
	err := svc.Retry(context.Background(), Step{Phase: PhaseLoad, Operation: OperationCopyInto, MaxRetries: 3},
		func(ctx context.Context) (int64, error) {
			attempts++
			return 0, original
		})
	assert.True(t, err == original)
	assert.Equal(t, 1, attempts)

	log, lerr := svc.Log(context.Background(), PhaseLoad, OperationCopyInto)
	require.NoError(t, lerr)
	require.Len(t, log, 2)
	assert.Equal(t, medallion.MigrationStatusFailed, log[1].Status)
}

func TestRetryDefaultsAndMetrics(t *testing.T) {
	env := "transfer-retry"
	sleeps := &recordedSleeps{}
	svc := New(Config{Store: memory.New(), Metrics: metrics.NewCollector(env), Sleep: sleeps.sleep})

	_ = svc.Retry(context.Background(), Step{Phase: PhaseExtract, Operation: OperationCETAS, MaxRetries: -1},
		func(ctx context.Context) (int64, error) { return 0, errors.New("x") })

	assert.Equal(t, float64(DefaultMaxRetries+1), testutil.ToFloat64(metrics.TransferAttemptsTotal.WithLabelValues(env, OperationCETAS)))
	assert.Equal(t, float64(DefaultMaxRetries), testutil.ToFloat64(metrics.TransferRetriesTotal.WithLabelValues(env, OperationCETAS)))
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 2*time.Second, Backoff(1))
	assert.Equal(t, 4*time.Second, Backoff(2))
	assert.Equal(t, 8*time.Second, Backoff(3))
}
