// Package transfer is the one-time bulk migration framework.
//
// It keeps an append-only event log whose entries are numbered per (phase, operation),
// validates row counts between source and target, profiles table sizes, and generates
// the SQL that stages tables to the lake (CETAS) and loads them into the target (COPY INTO),
// including a T-SQL retry wrapper. Retry exhausts into the original error; validation
// mismatches are recorded as FAIL rows and never returned as errors.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/getpup/medallion"
	"github.com/getpup/medallion/metrics"
	"github.com/getpup/medallion/store"
	mssql "github.com/microsoft/go-mssqldb"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
)

// Error is the error class of this package.
var Error = errs.Class("transfer")

// Phases of a migration.
const (
	PhaseSetup      = "SETUP"
	PhaseExtract    = "EXTRACT"
	PhaseLoad       = "LOAD"
	PhaseValidation = "VALIDATION"
)

// Operations logged by the framework.
const (
	OperationExternalObjects = "EXTERNAL_OBJECTS"
	OperationCETAS           = "CETAS"
	OperationCopyInto        = "COPY_INTO"
	OperationRowCount        = "ROW_COUNT"
	OperationSizeAnalysis    = "SIZE_ANALYSIS"
	OperationStatistics      = "UPDATE_STATISTICS"
)

// Config holds configuration for the Service.
type Config struct {
	Store store.TransferStore

	// Logger is optional. Defaults to zap.NewNop().
	Logger *zap.Logger

	// Metrics is optional.
	Metrics *metrics.Collector

	// Now stamps log, validation and analysis rows. Defaults to time.Now.
	Now func() time.Time

	// Sleep waits between retry attempts. Defaults to a timer that honors ctx.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Service records and drives a bulk migration.
type Service struct {
	store   store.TransferStore
	logger  *zap.Logger
	metrics *metrics.Collector
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// New creates a Service.
func New(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleep
	}
	return &Service{
		store:   cfg.Store,
		logger:  cfg.Logger.Named("transfer"),
		metrics: cfg.Metrics,
		now:     cfg.Now,
		sleep:   cfg.Sleep,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Event is one step of a migration to be logged.
type Event struct {
	Phase     string
	Schema    string
	Table     string
	Operation string
	Status    medallion.MigrationStatus

	RowsProcessed int64
	Duration      time.Duration
	FileSizeMB    float64

	// Err fills the error columns. SQL Server errors contribute their number and severity.
	Err error
}

// errorDetails extracts number, message and severity from err.
func errorDetails(err error) (number int, message string, severity int) {
	if err == nil {
		return 0, "", 0
	}
	var msErr mssql.Error
	if errors.As(err, &msErr) {
		return int(msErr.Number), msErr.Message, int(msErr.Class)
	}
	return 0, err.Error(), 0
}

// LogEvent appends the event to the migration log and returns it with its execution sequence.
func (s *Service) LogEvent(ctx context.Context, ev Event) (medallion.MigrationLogEntry, error) {
	if ev.Phase == "" || ev.Operation == "" {
		return medallion.MigrationLogEntry{}, fmt.Errorf("%w: phase and operation are required", medallion.ErrInvalidArgument)
	}
	switch ev.Status {
	case medallion.MigrationStatusStarted, medallion.MigrationStatusSuccess,
		medallion.MigrationStatusFailed, medallion.MigrationStatusRetry:
	default:
		return medallion.MigrationLogEntry{}, fmt.Errorf("%w: unknown migration status %q", medallion.ErrInvalidArgument, ev.Status)
	}

	number, message, severity := errorDetails(ev.Err)
	entry, err := s.store.AppendMigrationLog(ctx, medallion.MigrationLogEntry{
		Phase:           ev.Phase,
		SchemaName:      ev.Schema,
		TableName:       ev.Table,
		Operation:       ev.Operation,
		Status:          ev.Status,
		RowsProcessed:   ev.RowsProcessed,
		DurationSeconds: ev.Duration.Seconds(),
		FileSizeMB:      ev.FileSizeMB,
		ErrorNumber:     number,
		ErrorMessage:    message,
		ErrorSeverity:   severity,
		LoggedAt:        s.now(),
	})
	if err != nil {
		return medallion.MigrationLogEntry{}, err
	}

	s.logger.Debug("migration event",
		zap.String("phase", entry.Phase),
		zap.String("operation", entry.Operation),
		zap.String("table", entry.SchemaName+"."+entry.TableName),
		zap.String("status", string(entry.Status)),
		zap.Int64("sequence", entry.ExecutionSequence))
	return entry, nil
}

// Log returns logged events filtered by phase and operation. Empty filters match everything.
func (s *Service) Log(ctx context.Context, phase, operation string) ([]medallion.MigrationLogEntry, error) {
	return s.store.ListMigrationLog(ctx, phase, operation)
}
