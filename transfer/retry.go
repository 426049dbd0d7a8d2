package transfer

import (
	"context"
	"time"

	"github.com/getpup/medallion"
	"go.uber.org/zap"
)

// DefaultMaxRetries is the number of retries after the first attempt.
const DefaultMaxRetries = 3

// Backoff returns the wait after the given failed attempt: 2^attempt seconds.
func Backoff(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt)) * time.Second
}

// Step identifies the logged operation a retry wraps.
type Step struct {
	Phase     string
	Schema    string
	Table     string
	Operation string

	// MaxRetries is the number of retries after the first attempt. Negative means DefaultMaxRetries.
	MaxRetries int
}

// Retry runs fn up to 1+MaxRetries times, waiting Backoff(attempt) after each failure.
//
// Success is logged as SUCCESS, every failure with attempts left as RETRY, and the final
// failure as FAILED, after which the error of the last attempt is returned unchanged.
// If ctx is done while waiting, the last attempt's error is logged as FAILED and returned.
func (s *Service) Retry(ctx context.Context, step Step, fn func(ctx context.Context) (rowsProcessed int64, err error)) error {
	maxRetries := step.MaxRetries
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}

	for attempt := 0; ; attempt++ {
		s.metrics.IncTransferAttempts(step.Operation)
		start := s.now()
		rows, err := fn(ctx)
		elapsed := s.now().Sub(start)

		if err == nil {
			s.logStep(ctx, step, medallion.MigrationStatusSuccess, rows, elapsed, nil)
			return nil
		}

		if attempt >= maxRetries {
			s.logStep(ctx, step, medallion.MigrationStatusFailed, 0, elapsed, err)
			s.logger.Error("step failed, retries exhausted",
				zap.String("operation", step.Operation),
				zap.String("table", step.Schema+"."+step.Table),
				zap.Int("attempts", attempt+1),
				zap.Error(err))
			return err
		}

		s.metrics.IncTransferRetries(step.Operation)
		s.logStep(ctx, step, medallion.MigrationStatusRetry, 0, elapsed, err)

		wait := Backoff(attempt + 1)
		s.logger.Warn("step failed, retrying",
			zap.String("operation", step.Operation),
			zap.String("table", step.Schema+"."+step.Table),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", wait),
			zap.Error(err))

		if serr := s.sleep(ctx, wait); serr != nil {
			s.logStep(context.Background(), step, medallion.MigrationStatusFailed, 0, elapsed, err)
			return err
		}
	}
}

// logStep records a retry outcome. Failing to log never changes the outcome of the step.
func (s *Service) logStep(ctx context.Context, step Step, status medallion.MigrationStatus, rows int64, d time.Duration, stepErr error) {
	_, err := s.LogEvent(ctx, Event{
		Phase:         step.Phase,
		Schema:        step.Schema,
		Table:         step.Table,
		Operation:     step.Operation,
		Status:        status,
		RowsProcessed: rows,
		Duration:      d,
		Err:           stepErr,
	})
	if err != nil {
		s.logger.Warn("failed to log migration event", zap.String("status", string(status)), zap.Error(err))
	}
}
