// Package checkpoint keeps the incremental watermark of every landing entity.
//
// A watermark must only be advanced after the extraction it describes has fully
// succeeded. An entity without a watermark reads as Sentinel so the first
// incremental run behaves as a full load.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/getpup/medallion"
	"github.com/getpup/medallion/metrics"
	"github.com/getpup/medallion/store"
	"go.uber.org/zap"
)

// Sentinel is the watermark of an entity that was never loaded.
const Sentinel = "1900-01-01"

// Config holds configuration for Checkpoints.
type Config struct {
	Store store.CheckpointStore

	// Logger is optional. Defaults to zap.NewNop().
	Logger *zap.Logger

	// Metrics is optional.
	Metrics *metrics.Collector

	// Now stamps advanced watermarks. Defaults to time.Now.
	Now func() time.Time
}

// Checkpoints reads and advances landing entity watermarks.
type Checkpoints struct {
	store   store.CheckpointStore
	logger  *zap.Logger
	metrics *metrics.Collector
	now     func() time.Time
}

// New creates a Checkpoints service.
func New(cfg Config) *Checkpoints {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Checkpoints{
		store:   cfg.Store,
		logger:  cfg.Logger.Named("checkpoint"),
		metrics: cfg.Metrics,
		now:     cfg.Now,
	}
}

// SetLastLoadValue records value as the watermark of the landing entity, replacing any previous one.
func (c *Checkpoints) SetLastLoadValue(ctx context.Context, landingEntityID int64, value string) error {
	if landingEntityID <= 0 {
		return fmt.Errorf("%w: landing entity id %d", medallion.ErrInvalidArgument, landingEntityID)
	}
	if value == "" {
		return fmt.Errorf("%w: empty watermark for landing entity %d", medallion.ErrInvalidArgument, landingEntityID)
	}

	if err := c.store.SetLastLoadValue(ctx, landingEntityID, value, c.now()); err != nil {
		return err
	}

	c.metrics.IncCheckpointAdvances()
	c.logger.Debug("watermark advanced", zap.Int64("entityID", landingEntityID), zap.String("value", value))
	return nil
}

// Watermark returns the last load value of the entity. If the entity was never loaded it
// returns Sentinel and found=false.
func (c *Checkpoints) Watermark(ctx context.Context, landingEntityID int64) (value string, found bool, err error) {
	v, err := c.store.GetLastLoadValue(ctx, landingEntityID)
	if errors.Is(err, medallion.ErrNotFound) {
		return Sentinel, false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v.Value, true, nil
}

// Get returns the stored watermark record, or medallion.ErrNotFound.
func (c *Checkpoints) Get(ctx context.Context, landingEntityID int64) (medallion.LastLoadValue, error) {
	return c.store.GetLastLoadValue(ctx, landingEntityID)
}
