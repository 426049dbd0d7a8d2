// Package dispatch computes the ready work of each medallion layer and serializes it
// as executor instructions.
//
// A work set is an ordered JSON array of {"path": ..., "params": {...}} objects, ordered by
// entity id and then by tracker row id. Dispatch only reads; marking work processed is the
// tracker's job once the executor reports success.
package dispatch

import (
	"context"
	"sort"

	"github.com/getpup/medallion"
	"github.com/getpup/medallion/metrics"
	"github.com/getpup/medallion/store"
	"go.uber.org/zap"
)

// Default executor targets.
const (
	DefaultLandingTarget = "NB_LOAD_SOURCE_LANDINGZONE"
	DefaultBronzeTarget  = "NB_LOAD_LANDING_BRONZE"
	DefaultSilverTarget  = "NB_LOAD_BRONZE_SILVER"
)

// Targets names the executor of each layer.
type Targets struct {
	Landing string
	Bronze  string
	Silver  string
}

// DefaultTargets returns the default executor targets.
func DefaultTargets() Targets {
	return Targets{
		Landing: DefaultLandingTarget,
		Bronze:  DefaultBronzeTarget,
		Silver:  DefaultSilverTarget,
	}
}

// Config holds configuration for the Dispatcher.
type Config struct {
	Views store.ViewStore

	// Targets overrides executor names. Empty fields fall back to DefaultTargets.
	Targets Targets

	// Logger is optional. Defaults to zap.NewNop().
	Logger *zap.Logger

	// Metrics is optional.
	Metrics *metrics.Collector
}

// Dispatcher reads the ready views and generates work sets.
type Dispatcher struct {
	views   store.ViewStore
	targets Targets
	logger  *zap.Logger
	metrics *metrics.Collector
}

// New creates a Dispatcher.
func New(cfg Config) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	def := DefaultTargets()
	if cfg.Targets.Landing == "" {
		cfg.Targets.Landing = def.Landing
	}
	if cfg.Targets.Bronze == "" {
		cfg.Targets.Bronze = def.Bronze
	}
	if cfg.Targets.Silver == "" {
		cfg.Targets.Silver = def.Silver
	}
	return &Dispatcher{
		views:   cfg.Views,
		targets: cfg.Targets,
		logger:  cfg.Logger.Named("dispatch"),
		metrics: cfg.Metrics,
	}
}

// Targets returns the executor targets in use.
func (d *Dispatcher) Targets() Targets {
	return d.targets
}

// ReadyLanding returns the landing extraction work ordered by entity id.
func (d *Dispatcher) ReadyLanding(ctx context.Context) ([]store.LandingReadyRow, error) {
	rows, err := d.views.ReadyForLandingExtraction(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].LandingzoneEntityID < rows[j].LandingzoneEntityID
	})
	d.ready(medallion.LayerLanding, len(rows))
	return rows, nil
}

// ReadyBronze returns the bronze load work ordered by bronze entity id, then tracker row id.
func (d *Dispatcher) ReadyBronze(ctx context.Context) ([]store.BronzeReadyRow, error) {
	rows, err := d.views.ReadyForBronzeLoad(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].BronzeLayerEntityID != rows[j].BronzeLayerEntityID {
			return rows[i].BronzeLayerEntityID < rows[j].BronzeLayerEntityID
		}
		return rows[i].PipelineLandingzoneEntityID < rows[j].PipelineLandingzoneEntityID
	})
	d.ready(medallion.LayerBronze, len(rows))
	return rows, nil
}

// ReadySilver returns the silver load work ordered by silver entity id, then tracker row id.
func (d *Dispatcher) ReadySilver(ctx context.Context) ([]store.SilverReadyRow, error) {
	rows, err := d.views.ReadyForSilverLoad(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].SilverLayerEntityID != rows[j].SilverLayerEntityID {
			return rows[i].SilverLayerEntityID < rows[j].SilverLayerEntityID
		}
		return rows[i].PipelineBronzeLayerEntityID < rows[j].PipelineBronzeLayerEntityID
	})
	d.ready(medallion.LayerSilver, len(rows))
	return rows, nil
}

// GetLandingzoneWork returns one extraction instruction per active landing entity.
func (d *Dispatcher) GetLandingzoneWork(ctx context.Context) ([]Instruction, error) {
	rows, err := d.ReadyLanding(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Instruction, 0, len(rows))
	for _, row := range rows {
		out = append(out, LandingInstruction(d.targets.Landing, row))
	}
	return out, nil
}

// GetBronzeLayerWork returns one instruction per landing file awaiting promotion to bronze.
func (d *Dispatcher) GetBronzeLayerWork(ctx context.Context) ([]Instruction, error) {
	rows, err := d.ReadyBronze(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Instruction, 0, len(rows))
	for _, row := range rows {
		out = append(out, BronzeInstruction(d.targets.Bronze, row))
	}
	return out, nil
}

// GetSilverLayerWork returns one instruction per bronze table awaiting promotion to silver.
func (d *Dispatcher) GetSilverLayerWork(ctx context.Context) ([]Instruction, error) {
	rows, err := d.ReadySilver(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Instruction, 0, len(rows))
	for _, row := range rows {
		out = append(out, SilverInstruction(d.targets.Silver, row))
	}
	return out, nil
}

// GetWork dispatches to the generator of layer.
func (d *Dispatcher) GetWork(ctx context.Context, layer medallion.Layer) ([]Instruction, error) {
	switch layer {
	case medallion.LayerLanding:
		return d.GetLandingzoneWork(ctx)
	case medallion.LayerBronze:
		return d.GetBronzeLayerWork(ctx)
	case medallion.LayerSilver:
		return d.GetSilverLayerWork(ctx)
	default:
		return nil, store.ErrUnknownLayer
	}
}

func (d *Dispatcher) ready(layer medallion.Layer, n int) {
	d.metrics.SetDispatchReadyItems(string(layer), n)
	d.logger.Debug("ready work computed", zap.String("layer", string(layer)), zap.Int("items", n))
}
