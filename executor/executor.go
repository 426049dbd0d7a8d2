// Package executor runs the ready work of each layer through a Runner and records the result.
//
// A cycle reads the ready rows of one layer, hands every instruction to the Runner with bounded
// parallelism and audits Start, End or Fail around each execution. After a successful execution
// the cycle advances the tracker: an extraction registers its landing file and advances the
// watermark, a bronze load registers its table and marks the landing file processed, and a
// silver load marks the bronze table processed.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/getpup/medallion"
	"github.com/getpup/medallion/dispatch"
	"github.com/getpup/medallion/metrics"
	"github.com/getpup/medallion/store"
	"github.com/google/uuid"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Error is the error class of the executor.
var Error = errs.Class("executor")

// Parallelism bounds.
const (
	MinParallelism     = 1
	MaxParallelism     = 16
	DefaultParallelism = 4
)

// DefaultClaimTimeout is how long a claim is honored before another executor may take the unit over.
const DefaultClaimTimeout = time.Hour

// DefaultTriggerType is stamped on audit events when Config.TriggerType is empty.
const DefaultTriggerType = "Scheduled"

// Execution outcomes used as metric labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)

// ClampParallelism returns n limited to [MinParallelism, MaxParallelism]. Zero means DefaultParallelism.
func ClampParallelism(n int) int {
	switch {
	case n == 0:
		return DefaultParallelism
	case n < MinParallelism:
		return MinParallelism
	case n > MaxParallelism:
		return MaxParallelism
	}
	return n
}

// Config configures the executor.
type Config struct {
	Work        Work
	Runner      Runner
	Tracker     Tracker
	Checkpoints Checkpoints

	// Audit is optional.
	Audit Auditor

	// Parallelism is the number of concurrent executions, clamped to [1, 16]. Defaults to 4.
	Parallelism int

	// TriggerType is stamped on audit events. Defaults to DefaultTriggerType.
	TriggerType string

	// Owner names this executor on dispatch claims. Defaults to a random id.
	Owner string

	// ClaimTimeout is how long a claim of a crashed executor blocks its unit. Defaults to DefaultClaimTimeout.
	ClaimTimeout time.Duration

	// Logger is optional. Defaults to zap.NewNop().
	Logger *zap.Logger

	// Metrics is optional.
	Metrics *metrics.Collector

	// Now stamps audit trigger times and measures durations. Defaults to time.Now.
	Now func() time.Time
}

// Executor runs dispatch cycles.
type Executor struct {
	work        Work
	runner      Runner
	tracker     Tracker
	checkpoints Checkpoints
	audit       Auditor
	parallelism int
	triggerType string
	owner       string
	claimTTL    time.Duration
	logger      *zap.Logger
	metrics     *metrics.Collector
	now         func() time.Time
	inflight    *inFlight
}

// New creates a new Executor with the given configuration.
func New(cfg Config) *Executor {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.TriggerType == "" {
		cfg.TriggerType = DefaultTriggerType
	}
	if cfg.Owner == "" {
		cfg.Owner = "executor-" + uuid.NewString()
	}
	if cfg.ClaimTimeout <= 0 {
		cfg.ClaimTimeout = DefaultClaimTimeout
	}
	return &Executor{
		work:        cfg.Work,
		runner:      cfg.Runner,
		tracker:     cfg.Tracker,
		checkpoints: cfg.Checkpoints,
		audit:       cfg.Audit,
		parallelism: ClampParallelism(cfg.Parallelism),
		triggerType: cfg.TriggerType,
		owner:       cfg.Owner,
		claimTTL:    cfg.ClaimTimeout,
		logger:      cfg.Logger.Named("executor"),
		metrics:     cfg.Metrics,
		now:         cfg.Now,
		inflight:    newInFlight(),
	}
}

// CycleResult summarizes one cycle.
type CycleResult struct {
	Layer     medallion.Layer
	RunID     uuid.UUID
	Ready     int
	Succeeded int
	Failed    int
	Skipped   int
	Duration  time.Duration
}

// RunCycle executes the ready work of one layer and waits for every execution to finish.
// Failed executions are audited and counted, not returned; the error is non-nil only if
// the work could not be read or ctx was cancelled.
func (e *Executor) RunCycle(ctx context.Context, layer medallion.Layer) (CycleResult, error) {
	start := e.now()
	result := CycleResult{Layer: layer, RunID: uuid.New()}

	items, err := e.items(ctx, layer, result.RunID)
	if err != nil {
		return result, err
	}
	result.Ready = len(items)

	var mu sync.Mutex
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(e.parallelism)

	for _, item := range items {
		if gctx.Err() != nil {
			break
		}
		if !e.inflight.acquire(item.key) {
			result.Skipped++
			e.metrics.IncExecutions(string(layer), OutcomeSkipped)
			e.logger.Debug("item already in flight", zap.String("key", item.key))
			continue
		}

		group.Go(func() error {
			defer e.inflight.release(item.key)
			outcome := e.execute(gctx, item)

			mu.Lock()
			switch outcome {
			case OutcomeSuccess:
				result.Succeeded++
			case OutcomeFailure:
				result.Failed++
			default:
				result.Skipped++
			}
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()

	result.Duration = e.now().Sub(start)
	e.metrics.ObserveCycleDuration(string(layer), result.Duration.Seconds())
	e.logger.Info("cycle finished",
		zap.String("layer", string(layer)),
		zap.Stringer("runID", result.RunID),
		zap.Int("ready", result.Ready),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped),
		zap.Duration("duration", result.Duration))

	return result, ctx.Err()
}

// RunAll runs one cycle per layer, landing first, so work promoted by a cycle is picked up
// by the next layer in the same pass.
func (e *Executor) RunAll(ctx context.Context) ([]CycleResult, error) {
	var results []CycleResult
	for _, layer := range []medallion.Layer{medallion.LayerLanding, medallion.LayerBronze, medallion.LayerSilver} {
		r, err := e.RunCycle(ctx, layer)
		results = append(results, r)
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// Loop calls RunAll every interval until ctx is cancelled.
func (e *Executor) Loop(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return Error.New("interval must be positive")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := e.RunAll(ctx); err != nil && ctx.Err() == nil {
			e.logger.Error("cycle failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// execute claims one item, runs it and returns its outcome. An item claimed by another
// executor, or consumed since the cycle read it, is skipped without an audit event.
func (e *Executor) execute(ctx context.Context, item Item) string {
	layer := string(item.Layer)

	claimed, err := e.tracker.Claim(ctx, item.claim, e.owner, e.claimTTL)
	if err != nil {
		e.metrics.IncExecutions(layer, OutcomeFailure)
		e.logger.Warn("failed to claim item", zap.Stringer("claim", item.claim), zap.Error(err))
		return OutcomeFailure
	}
	if !claimed {
		e.metrics.IncExecutions(layer, OutcomeSkipped)
		e.logger.Debug("item claimed by another executor", zap.Stringer("claim", item.claim))
		return OutcomeSkipped
	}
	defer e.release(ctx, item.claim)

	if item.ready != nil {
		ready, err := item.ready(ctx)
		if err != nil {
			e.metrics.IncExecutions(layer, OutcomeFailure)
			e.logger.Warn("failed to recheck item", zap.Stringer("claim", item.claim), zap.Error(err))
			return OutcomeFailure
		}
		if !ready {
			e.metrics.IncExecutions(layer, OutcomeSkipped)
			e.logger.Debug("item consumed since the cycle started", zap.Stringer("claim", item.claim))
			return OutcomeSkipped
		}
	}

	start := e.now()
	e.record(item, start, medallion.LogTypeStart, "")

	out, err := e.runner.Run(ctx, item)
	if err == nil {
		err = item.complete(ctx, out)
	}
	duration := e.now().Sub(start)

	if err != nil {
		e.record(item, start, medallion.LogTypeFail, err.Error())
		e.metrics.IncExecutions(layer, OutcomeFailure)
		e.logger.Warn("execution failed",
			zap.String("layer", layer), zap.String("path", item.Instruction.Path),
			zap.Int64("entityID", item.EntityID), zap.Error(err))
		return OutcomeFailure
	}

	e.record(item, start, medallion.LogTypeEnd, out.Log)
	e.metrics.IncExecutions(layer, OutcomeSuccess)
	e.metrics.ObserveExecutionDuration(layer, duration.Seconds())
	e.logger.Debug("execution succeeded",
		zap.String("layer", layer), zap.Int64("entityID", item.EntityID), zap.Duration("duration", duration))
	return OutcomeSuccess
}

// release drops the claim even when the cycle context was cancelled.
func (e *Executor) release(ctx context.Context, key medallion.ClaimKey) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := e.tracker.Release(ctx, key, e.owner); err != nil {
		e.logger.Warn("failed to release claim", zap.Stringer("claim", key), zap.Error(err))
	}
}

func (e *Executor) record(item Item, triggered time.Time, logType medallion.LogType, data string) {
	if e.audit == nil {
		return
	}
	params, err := json.Marshal(item.Instruction.Params)
	if err != nil {
		params = nil
	}
	err = e.audit.Record(medallion.AuditEvent{
		Kind:            medallion.AuditKindNotebook,
		WorkspaceID:     item.workspaceID,
		PipelineRunGUID: item.RunID,
		ObjectName:      item.Instruction.Path,
		EntityID:        item.EntityID,
		Layer:           item.Layer,
		Parameters:      string(params),
		TriggerType:     e.triggerType,
		TriggerGUID:     item.RunID,
		TriggerTime:     triggered,
		LogType:         logType,
		LogData:         data,
	})
	if err != nil {
		e.logger.Warn("failed to record audit event", zap.String("logType", string(logType)), zap.Error(err))
	}
}

// items reads the ready rows of a layer and binds each to its bookkeeping.
func (e *Executor) items(ctx context.Context, layer medallion.Layer, runID uuid.UUID) ([]Item, error) {
	targets := e.work.Targets()

	switch layer {
	case medallion.LayerLanding:
		rows, err := e.work.ReadyLanding(ctx)
		if err != nil {
			return nil, err
		}
		items := make([]Item, 0, len(rows))
		for _, row := range rows {
			items = append(items, Item{
				Layer:       layer,
				RunID:       runID,
				EntityID:    row.LandingzoneEntityID,
				Instruction: dispatch.LandingInstruction(targets.Landing, row),
				key:         fmt.Sprintf("landing/%d", row.LandingzoneEntityID),
				claim:       medallion.ClaimKey{Layer: layer, EntityID: row.LandingzoneEntityID},
				workspaceID: row.TargetWorkspaceID,
				ready:       e.watermarkUnchanged(row),
				complete:    e.completeLanding(row),
			})
		}
		return items, nil

	case medallion.LayerBronze:
		rows, err := e.work.ReadyBronze(ctx)
		if err != nil {
			return nil, err
		}
		items := make([]Item, 0, len(rows))
		for _, row := range rows {
			items = append(items, Item{
				Layer:       layer,
				RunID:       runID,
				EntityID:    row.BronzeLayerEntityID,
				Instruction: dispatch.BronzeInstruction(targets.Bronze, row),
				key:         fmt.Sprintf("bronze/%d/%d", row.BronzeLayerEntityID, row.PipelineLandingzoneEntityID),
				claim:       medallion.ClaimKey{Layer: layer, EntityID: row.BronzeLayerEntityID, UnitRowID: row.PipelineLandingzoneEntityID},
				workspaceID: row.TargetWorkspaceID,
				ready:       e.unitOpen(medallion.LayerLanding, row.PipelineLandingzoneEntityID),
				complete:    e.completeBronze(row),
			})
		}
		return items, nil

	case medallion.LayerSilver:
		rows, err := e.work.ReadySilver(ctx)
		if err != nil {
			return nil, err
		}
		items := make([]Item, 0, len(rows))
		for _, row := range rows {
			items = append(items, Item{
				Layer:       layer,
				RunID:       runID,
				EntityID:    row.SilverLayerEntityID,
				Instruction: dispatch.SilverInstruction(targets.Silver, row),
				key:         fmt.Sprintf("silver/%d/%d", row.SilverLayerEntityID, row.PipelineBronzeLayerEntityID),
				claim:       medallion.ClaimKey{Layer: layer, EntityID: row.SilverLayerEntityID, UnitRowID: row.PipelineBronzeLayerEntityID},
				workspaceID: row.TargetWorkspaceID,
				ready:       e.unitOpen(medallion.LayerBronze, row.PipelineBronzeLayerEntityID),
				complete:    e.completeSilver(row),
			})
		}
		return items, nil
	}
	return nil, fmt.Errorf("%w: %q", store.ErrUnknownLayer, layer)
}

// watermarkUnchanged reports whether no other executor advanced the watermark the row was read with.
func (e *Executor) watermarkUnchanged(row store.LandingReadyRow) func(context.Context) (bool, error) {
	return func(ctx context.Context) (bool, error) {
		value, found, err := e.checkpoints.Watermark(ctx, row.LandingzoneEntityID)
		if err != nil {
			return false, err
		}
		if found != row.HasLastLoadValue {
			return false, nil
		}
		return !found || value == row.LastLoadValue, nil
	}
}

// unitOpen reports whether the consumed tracker row is still unprocessed.
func (e *Executor) unitOpen(layer medallion.Layer, rowID int64) func(context.Context) (bool, error) {
	return func(ctx context.Context) (bool, error) {
		return e.tracker.UnitOpen(ctx, layer, rowID)
	}
}

// completeLanding registers the extracted file, then advances the watermark of an incremental entity.
func (e *Executor) completeLanding(row store.LandingReadyRow) func(context.Context, Outcome) error {
	return func(ctx context.Context, out Outcome) error {
		unit := medallion.LandingUnit{FilePath: row.FilePath, FileName: row.FileName}
		if out.FilePath != "" {
			unit.FilePath = out.FilePath
		}
		if out.FileName != "" {
			unit.FileName = out.FileName
		}
		if _, err := e.tracker.RegisterOrUpdateLanding(ctx, row.LandingzoneEntityID, unit, false); err != nil {
			return err
		}
		if row.IsIncremental && out.LastLoadValue != "" {
			return e.checkpoints.SetLastLoadValue(ctx, row.LandingzoneEntityID, out.LastLoadValue)
		}
		return nil
	}
}

// completeBronze registers the loaded table, then marks its landing file processed.
func (e *Executor) completeBronze(row store.BronzeReadyRow) func(context.Context, Outcome) error {
	return func(ctx context.Context, out Outcome) error {
		unit := medallion.BronzeUnit{Schema: row.TargetSchema, Table: row.TargetName}
		if out.Schema != "" {
			unit.Schema = out.Schema
		}
		if out.Table != "" {
			unit.Table = out.Table
		}
		if _, err := e.tracker.RegisterOrUpdateBronze(ctx, row.BronzeLayerEntityID, unit, false); err != nil {
			return err
		}
		consumed := medallion.LandingUnit{FilePath: row.SourceFilePath, FileName: row.SourceFileName}
		_, err := e.tracker.RegisterOrUpdateLanding(ctx, row.LandingzoneEntityID, consumed, true)
		return err
	}
}

// completeSilver marks the consumed bronze table processed.
func (e *Executor) completeSilver(row store.SilverReadyRow) func(context.Context, Outcome) error {
	return func(ctx context.Context, out Outcome) error {
		consumed := medallion.BronzeUnit{Schema: row.SourceSchema, Table: row.SourceName}
		_, err := e.tracker.RegisterOrUpdateBronze(ctx, row.BronzeLayerEntityID, consumed, true)
		return err
	}
}
