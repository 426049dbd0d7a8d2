// Package discovery finds landing files that appeared in storage and registers them with the tracker.
//
// Each active landing entity owns the folder named by its FilePath. A blob in that folder
// belongs to the entity when its base name starts with the entity FileName (without extension)
// and its extension matches FileType. Only files never seen before are registered, so files
// already promoted to bronze are not dispatched again.
package discovery

import (
	"context"
	"path"
	"sort"
	"strings"

	"github.com/getpup/medallion"
	"github.com/getpup/medallion/metrics"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
)

// EntitySource lists landing entities.
type EntitySource interface {
	LandingzoneEntities(ctx context.Context, activeOnly bool) ([]medallion.LandingzoneEntity, error)
}

// Registrar registers landing units that have no tracker row yet.
type Registrar interface {
	RegisterLandingIfUnseen(ctx context.Context, entityID int64, unit medallion.LandingUnit) (bool, error)
}

// Config holds configuration for the Discoverer.
type Config struct {
	Lister   Lister
	Entities EntitySource
	Tracker  Registrar

	// Logger is optional. Defaults to zap.NewNop().
	Logger *zap.Logger

	// Metrics is optional.
	Metrics *metrics.Collector
}

// Discoverer scans landing storage for new files.
type Discoverer struct {
	lister   Lister
	entities EntitySource
	tracker  Registrar
	logger   *zap.Logger
	metrics  *metrics.Collector
}

// New creates a Discoverer.
func New(cfg Config) *Discoverer {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Discoverer{
		lister:   cfg.Lister,
		entities: cfg.Entities,
		tracker:  cfg.Tracker,
		logger:   cfg.Logger.Named("discovery"),
		metrics:  cfg.Metrics,
	}
}

// Result summarizes one discovery pass.
type Result struct {
	Entities   int
	Listed     int
	Registered int
}

// Prefix is the listing prefix of an entity folder.
func Prefix(e medallion.LandingzoneEntity) string {
	p := strings.Trim(e.FilePath, "/")
	if p == "" {
		return ""
	}
	return p + "/"
}

// Match reports whether the blob is a file of the entity and returns its unit.
// Blobs in nested folders and folder markers do not match.
func Match(e medallion.LandingzoneEntity, name string) (medallion.LandingUnit, bool) {
	prefix := Prefix(e)
	if !strings.HasPrefix(name, prefix) {
		return medallion.LandingUnit{}, false
	}
	base := strings.TrimPrefix(name, prefix)
	if base == "" || strings.Contains(base, "/") {
		return medallion.LandingUnit{}, false
	}

	if stem := strings.TrimSuffix(e.FileName, path.Ext(e.FileName)); stem != "" && !strings.HasPrefix(base, stem) {
		return medallion.LandingUnit{}, false
	}
	if e.FileType != "" && !strings.EqualFold(path.Ext(base), "."+strings.TrimPrefix(e.FileType, ".")) {
		return medallion.LandingUnit{}, false
	}

	return medallion.LandingUnit{FilePath: strings.TrimSuffix(prefix, "/"), FileName: base}, true
}

// Units lists the files of one entity ordered by name.
func (d *Discoverer) Units(ctx context.Context, e medallion.LandingzoneEntity) ([]medallion.LandingUnit, error) {
	blobs, err := d.lister.List(ctx, Prefix(e))
	if err != nil {
		return nil, err
	}

	var units []medallion.LandingUnit
	for _, b := range blobs {
		if unit, ok := Match(e, b.Name); ok {
			units = append(units, unit)
		}
	}
	sort.Slice(units, func(i, j int) bool { return units[i].FileName < units[j].FileName })
	return units, nil
}

// Discover scans every active landing entity and registers unseen files.
// A failing entity does not stop the others; the failures are returned together.
func (d *Discoverer) Discover(ctx context.Context) (Result, error) {
	entities, err := d.entities.LandingzoneEntities(ctx, true)
	if err != nil {
		return Result{}, err
	}

	var result Result
	var group errs.Group
	for _, e := range entities {
		if err := ctx.Err(); err != nil {
			group.Add(err)
			break
		}
		result.Entities++

		units, err := d.Units(ctx, e)
		if err != nil {
			d.logger.Warn("failed to list landing files", zap.Int64("entityID", e.ID), zap.Error(err))
			group.Add(err)
			continue
		}
		result.Listed += len(units)

		for _, unit := range units {
			created, err := d.tracker.RegisterLandingIfUnseen(ctx, e.ID, unit)
			if err != nil {
				d.logger.Warn("failed to register landing file",
					zap.Int64("entityID", e.ID), zap.String("file", unit.FileName), zap.Error(err))
				group.Add(err)
				continue
			}
			if created {
				result.Registered++
				d.logger.Info("landing file discovered",
					zap.Int64("entityID", e.ID), zap.String("path", unit.FilePath), zap.String("file", unit.FileName))
			}
		}
	}

	d.metrics.AddDiscoveredUnits(result.Registered)
	return result, group.Err()
}
