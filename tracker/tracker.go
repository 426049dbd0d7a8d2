// Package tracker records which landing files and bronze tables have been consumed by the next layer.
//
// A unit is Registered (IsProcessed=false) when it is produced and becomes Processed once the
// downstream load succeeds. The dispatch views only select Registered units, so marking a unit
// Processed removes it from every later work list.
//
// Writes are serialized per entity inside the process, and the store guarantees a single open
// row per unit across processes.
package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/getpup/medallion"
	"github.com/getpup/medallion/metrics"
	"github.com/getpup/medallion/store"
	"go.uber.org/zap"
)

// Config holds configuration for the Tracker.
type Config struct {
	Store store.TrackerStore

	// Logger is optional. Defaults to zap.NewNop().
	Logger *zap.Logger

	// Metrics is optional.
	Metrics *metrics.Collector

	// Now stamps insert and load end times. Defaults to time.Now.
	Now func() time.Time
}

// Tracker is the execution tracker service.
type Tracker struct {
	store   store.TrackerStore
	logger  *zap.Logger
	metrics *metrics.Collector
	now     func() time.Time
	locks   *entityLocks
}

// New creates a Tracker.
func New(cfg Config) *Tracker {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Tracker{
		store:   cfg.Store,
		logger:  cfg.Logger.Named("tracker"),
		metrics: cfg.Metrics,
		now:     cfg.Now,
		locks:   newEntityLocks(),
	}
}

func validateLandingUnit(entityID int64, unit medallion.LandingUnit) error {
	if entityID <= 0 {
		return fmt.Errorf("%w: landing entity id %d", medallion.ErrInvalidArgument, entityID)
	}
	if unit.FileName == "" {
		return fmt.Errorf("%w: landing unit without file name", medallion.ErrInvalidArgument)
	}
	return nil
}

func validateBronzeUnit(entityID int64, unit medallion.BronzeUnit) error {
	if entityID <= 0 {
		return fmt.Errorf("%w: bronze entity id %d", medallion.ErrInvalidArgument, entityID)
	}
	if unit.Table == "" {
		return fmt.Errorf("%w: bronze unit without table name", medallion.ErrInvalidArgument)
	}
	return nil
}

// RegisterOrUpdateLanding registers a landing file, or marks it processed when isProcessed is set.
//
// With isProcessed=false an open row for the unit is returned as is; otherwise a new Registered
// row is inserted. With isProcessed=true the open row is flipped to Processed, or a Processed
// row is inserted when none is open.
func (t *Tracker) RegisterOrUpdateLanding(ctx context.Context, entityID int64, unit medallion.LandingUnit, isProcessed bool) (medallion.PipelineLandingzoneEntity, error) {
	if err := validateLandingUnit(entityID, unit); err != nil {
		return medallion.PipelineLandingzoneEntity{}, err
	}

	unlock, err := t.locks.lock(ctx, lockKey{medallion.LayerLanding, entityID})
	if err != nil {
		return medallion.PipelineLandingzoneEntity{}, err
	}
	defer unlock()

	if isProcessed {
		row, err := t.store.CompleteLandingUnit(ctx, entityID, unit, t.now())
		if err != nil {
			return medallion.PipelineLandingzoneEntity{}, err
		}
		t.completed(medallion.LayerLanding, entityID, row.ID)
		return row, nil
	}

	row, created, err := t.store.RegisterLandingUnit(ctx, entityID, unit, t.now())
	if err != nil {
		return medallion.PipelineLandingzoneEntity{}, err
	}
	if created {
		t.registered(medallion.LayerLanding, entityID, row.ID)
	}
	return row, nil
}

// RegisterOrUpdateBronze is RegisterOrUpdateLanding for bronze table instances.
func (t *Tracker) RegisterOrUpdateBronze(ctx context.Context, entityID int64, unit medallion.BronzeUnit, isProcessed bool) (medallion.PipelineBronzeLayerEntity, error) {
	if err := validateBronzeUnit(entityID, unit); err != nil {
		return medallion.PipelineBronzeLayerEntity{}, err
	}

	unlock, err := t.locks.lock(ctx, lockKey{medallion.LayerBronze, entityID})
	if err != nil {
		return medallion.PipelineBronzeLayerEntity{}, err
	}
	defer unlock()

	if isProcessed {
		row, err := t.store.CompleteBronzeUnit(ctx, entityID, unit, t.now())
		if err != nil {
			return medallion.PipelineBronzeLayerEntity{}, err
		}
		t.completed(medallion.LayerBronze, entityID, row.ID)
		return row, nil
	}

	row, created, err := t.store.RegisterBronzeUnit(ctx, entityID, unit, t.now())
	if err != nil {
		return medallion.PipelineBronzeLayerEntity{}, err
	}
	if created {
		t.registered(medallion.LayerBronze, entityID, row.ID)
	}
	return row, nil
}

// RegisterLandingIfUnseen registers a landing file only if no row, open or processed, exists for it.
// It reports whether a row was created. Discovery uses it so files already loaded are not dispatched again.
func (t *Tracker) RegisterLandingIfUnseen(ctx context.Context, entityID int64, unit medallion.LandingUnit) (bool, error) {
	if err := validateLandingUnit(entityID, unit); err != nil {
		return false, err
	}

	unlock, err := t.locks.lock(ctx, lockKey{medallion.LayerLanding, entityID})
	if err != nil {
		return false, err
	}
	defer unlock()

	seen, err := t.store.LandingUnitSeen(ctx, entityID, unit)
	if err != nil || seen {
		return false, err
	}

	row, created, err := t.store.RegisterLandingUnit(ctx, entityID, unit, t.now())
	if err != nil {
		return false, err
	}
	if created {
		t.registered(medallion.LayerLanding, entityID, row.ID)
	}
	return created, nil
}

// Claim takes the unit of work for owner across every executor sharing the store. A claim older
// than ttl is considered abandoned and is taken over. It reports false when another owner holds the key.
func (t *Tracker) Claim(ctx context.Context, key medallion.ClaimKey, owner string, ttl time.Duration) (bool, error) {
	if key.EntityID <= 0 {
		return false, fmt.Errorf("%w: claim entity id %d", medallion.ErrInvalidArgument, key.EntityID)
	}
	if owner == "" {
		return false, fmt.Errorf("%w: claim without owner", medallion.ErrInvalidArgument)
	}
	if ttl <= 0 {
		return false, fmt.Errorf("%w: claim ttl %s", medallion.ErrInvalidArgument, ttl)
	}

	now := t.now()
	claimed, err := t.store.AcquireClaim(ctx, medallion.Claim{ClaimKey: key, Owner: owner, ClaimedAt: now}, now.Add(-ttl))
	if err != nil {
		return false, err
	}
	if !claimed {
		t.logger.Debug("unit claimed elsewhere", zap.Stringer("key", key), zap.String("owner", owner))
	}
	return claimed, nil
}

// Release drops the claim of owner on the key. Releasing a claim taken over by another owner is a no-op.
func (t *Tracker) Release(ctx context.Context, key medallion.ClaimKey, owner string) error {
	return t.store.ReleaseClaim(ctx, key, owner)
}

// UnitOpen reports whether a landing or bronze tracker row is still waiting for the next layer.
func (t *Tracker) UnitOpen(ctx context.Context, layer medallion.Layer, rowID int64) (bool, error) {
	return t.store.UnitOpen(ctx, layer, rowID)
}

// LandingSeen reports whether the landing file was ever registered.
func (t *Tracker) LandingSeen(ctx context.Context, entityID int64, unit medallion.LandingUnit) (bool, error) {
	return t.store.LandingUnitSeen(ctx, entityID, unit)
}

// LandingUnits returns the history of a landing entity ordered by row id.
func (t *Tracker) LandingUnits(ctx context.Context, entityID int64) ([]medallion.PipelineLandingzoneEntity, error) {
	return t.store.ListLandingUnits(ctx, entityID)
}

// BronzeUnits returns the history of a bronze entity ordered by row id.
func (t *Tracker) BronzeUnits(ctx context.Context, entityID int64) ([]medallion.PipelineBronzeLayerEntity, error) {
	return t.store.ListBronzeUnits(ctx, entityID)
}

func (t *Tracker) registered(layer medallion.Layer, entityID, rowID int64) {
	t.metrics.IncTrackerRegistrations(string(layer))
	t.logger.Debug("unit registered",
		zap.String("layer", string(layer)), zap.Int64("entityID", entityID), zap.Int64("rowID", rowID))
}

func (t *Tracker) completed(layer medallion.Layer, entityID, rowID int64) {
	t.metrics.IncTrackerCompletions(string(layer))
	t.logger.Debug("unit processed",
		zap.String("layer", string(layer)), zap.Int64("entityID", entityID), zap.Int64("rowID", rowID))
}
