package memory

import (
	"context"
	"time"

	"github.com/getpup/medallion"
)

// SetLastLoadValue overwrites the watermark of the entity or inserts the first one.
func (s *Store) SetLastLoadValue(ctx context.Context, landingEntityID int64, value string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.landing[landingEntityID]; !ok {
		return medallion.Constraintf("landing entity %d does not exist", landingEntityID)
	}

	s.lastLoad[landingEntityID] = medallion.LastLoadValue{
		LandingzoneEntityID: landingEntityID,
		Value:               value,
		UpdatedAt:           at,
	}
	return nil
}

// GetLastLoadValue returns medallion.ErrNotFound if the entity was never loaded.
func (s *Store) GetLastLoadValue(ctx context.Context, landingEntityID int64) (medallion.LastLoadValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.lastLoad[landingEntityID]
	if !ok {
		return medallion.LastLoadValue{}, medallion.ErrNotFound
	}
	return v, nil
}

// RegisterLandingUnit inserts a Registered row unless an open row for the unit exists.
func (s *Store) RegisterLandingUnit(ctx context.Context, entityID int64, unit medallion.LandingUnit, at time.Time) (medallion.PipelineLandingzoneEntity, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.landing[entityID]; !ok {
		return medallion.PipelineLandingzoneEntity{}, false, medallion.Constraintf("landing entity %d does not exist", entityID)
	}

	key := landingUnitKey{entityID: entityID, unit: unit}
	if idx, ok := s.openLanding[key]; ok {
		return s.landingUnits[idx], false, nil
	}

	row := medallion.PipelineLandingzoneEntity{
		ID:                  s.nextID("pipeline_landing"),
		LandingzoneEntityID: entityID,
		Unit:                unit,
		InsertDateTime:      at,
	}
	s.landingUnits = append(s.landingUnits, row)
	s.openLanding[key] = len(s.landingUnits) - 1
	return row, true, nil
}

// CompleteLandingUnit flips the open row to Processed, or inserts the unit as Processed if none is open.
func (s *Store) CompleteLandingUnit(ctx context.Context, entityID int64, unit medallion.LandingUnit, at time.Time) (medallion.PipelineLandingzoneEntity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.landing[entityID]; !ok {
		return medallion.PipelineLandingzoneEntity{}, medallion.Constraintf("landing entity %d does not exist", entityID)
	}

	end := at
	key := landingUnitKey{entityID: entityID, unit: unit}
	if idx, ok := s.openLanding[key]; ok {
		s.landingUnits[idx].IsProcessed = true
		s.landingUnits[idx].LoadEndDateTime = &end
		delete(s.openLanding, key)
		return s.landingUnits[idx], nil
	}

	row := medallion.PipelineLandingzoneEntity{
		ID:                  s.nextID("pipeline_landing"),
		LandingzoneEntityID: entityID,
		Unit:                unit,
		IsProcessed:         true,
		InsertDateTime:      at,
		LoadEndDateTime:     &end,
	}
	s.landingUnits = append(s.landingUnits, row)
	return row, nil
}

// LandingUnitSeen reports whether any row exists for the unit.
func (s *Store) LandingUnitSeen(ctx context.Context, entityID int64, unit medallion.LandingUnit) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, row := range s.landingUnits {
		if row.LandingzoneEntityID == entityID && row.Unit == unit {
			return true, nil
		}
	}
	return false, nil
}

// RegisterBronzeUnit inserts a Registered row unless an open row for the unit exists.
func (s *Store) RegisterBronzeUnit(ctx context.Context, entityID int64, unit medallion.BronzeUnit, at time.Time) (medallion.PipelineBronzeLayerEntity, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bronze[entityID]; !ok {
		return medallion.PipelineBronzeLayerEntity{}, false, medallion.Constraintf("bronze entity %d does not exist", entityID)
	}

	key := bronzeUnitKey{entityID: entityID, unit: unit}
	if idx, ok := s.openBronze[key]; ok {
		return s.bronzeUnits[idx], false, nil
	}

	row := medallion.PipelineBronzeLayerEntity{
		ID:                  s.nextID("pipeline_bronze"),
		BronzeLayerEntityID: entityID,
		Unit:                unit,
		InsertDateTime:      at,
	}
	s.bronzeUnits = append(s.bronzeUnits, row)
	s.openBronze[key] = len(s.bronzeUnits) - 1
	return row, true, nil
}

// CompleteBronzeUnit flips the open row to Processed, or inserts the unit as Processed if none is open.
func (s *Store) CompleteBronzeUnit(ctx context.Context, entityID int64, unit medallion.BronzeUnit, at time.Time) (medallion.PipelineBronzeLayerEntity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bronze[entityID]; !ok {
		return medallion.PipelineBronzeLayerEntity{}, medallion.Constraintf("bronze entity %d does not exist", entityID)
	}

	end := at
	key := bronzeUnitKey{entityID: entityID, unit: unit}
	if idx, ok := s.openBronze[key]; ok {
		s.bronzeUnits[idx].IsProcessed = true
		s.bronzeUnits[idx].LoadEndDateTime = &end
		delete(s.openBronze, key)
		return s.bronzeUnits[idx], nil
	}

	row := medallion.PipelineBronzeLayerEntity{
		ID:                  s.nextID("pipeline_bronze"),
		BronzeLayerEntityID: entityID,
		Unit:                unit,
		IsProcessed:         true,
		InsertDateTime:      at,
		LoadEndDateTime:     &end,
	}
	s.bronzeUnits = append(s.bronzeUnits, row)
	return row, nil
}

// ListLandingUnits returns all rows of an entity ordered by id.
func (s *Store) ListLandingUnits(ctx context.Context, entityID int64) ([]medallion.PipelineLandingzoneEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []medallion.PipelineLandingzoneEntity
	for _, row := range s.landingUnits {
		if row.LandingzoneEntityID == entityID {
			out = append(out, row)
		}
	}
	return out, nil
}

// ListBronzeUnits returns all rows of an entity ordered by id.
func (s *Store) ListBronzeUnits(ctx context.Context, entityID int64) ([]medallion.PipelineBronzeLayerEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []medallion.PipelineBronzeLayerEntity
	for _, row := range s.bronzeUnits {
		if row.BronzeLayerEntityID == entityID {
			out = append(out, row)
		}
	}
	return out, nil
}
