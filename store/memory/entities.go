package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/getpup/medallion"
	"github.com/getpup/medallion/store"
)

// UpsertLandingzoneEntity is keyed by (SourceSchema, SourceName, DataSourceID).
// Returns a constraint error if the data source or lakehouse does not exist.
func (s *Store) UpsertLandingzoneEntity(ctx context.Context, e medallion.LandingzoneEntity) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.dataSources[e.DataSourceID]; !ok {
		return 0, medallion.Constraintf("data source %d does not exist", e.DataSourceID)
	}
	if _, ok := s.lakehouses[e.LakehouseID]; !ok {
		return 0, medallion.Constraintf("lakehouse %d does not exist", e.LakehouseID)
	}

	now := s.now()
	key := landingKey{schema: e.SourceSchema, name: e.SourceName, dataSourceID: e.DataSourceID}
	if id, ok := s.landingKeys[key]; ok {
		cur := s.landing[id]
		e.ID = id
		e.CreatedAt = cur.CreatedAt
		e.UpdatedAt = now
		s.landing[id] = e
		return id, nil
	}

	e.ID = s.nextID("landing")
	e.CreatedAt = now
	e.UpdatedAt = now
	s.landing[e.ID] = e
	s.landingKeys[key] = e.ID
	return e.ID, nil
}

// UpsertBronzeLayerEntity is keyed by (LakehouseID, Schema, Name).
// Returns a constraint error if the landing entity or lakehouse does not exist.
func (s *Store) UpsertBronzeLayerEntity(ctx context.Context, e medallion.BronzeLayerEntity) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.landing[e.LandingzoneEntityID]; !ok {
		return 0, medallion.Constraintf("landing entity %d does not exist", e.LandingzoneEntityID)
	}
	if _, ok := s.lakehouses[e.LakehouseID]; !ok {
		return 0, medallion.Constraintf("lakehouse %d does not exist", e.LakehouseID)
	}

	now := s.now()
	key := layerKey{lakehouseID: e.LakehouseID, schema: e.Schema, name: e.Name}
	if id, ok := s.bronzeKeys[key]; ok {
		cur := s.bronze[id]
		e.ID = id
		e.CreatedAt = cur.CreatedAt
		e.UpdatedAt = now
		s.bronze[id] = e
		return id, nil
	}

	e.ID = s.nextID("bronze")
	e.CreatedAt = now
	e.UpdatedAt = now
	s.bronze[e.ID] = e
	s.bronzeKeys[key] = e.ID
	return e.ID, nil
}

// UpsertSilverLayerEntity is keyed by (LakehouseID, Schema, Name).
// Returns a constraint error if the bronze entity or lakehouse does not exist.
func (s *Store) UpsertSilverLayerEntity(ctx context.Context, e medallion.SilverLayerEntity) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bronze[e.BronzeLayerEntityID]; !ok {
		return 0, medallion.Constraintf("bronze entity %d does not exist", e.BronzeLayerEntityID)
	}
	if _, ok := s.lakehouses[e.LakehouseID]; !ok {
		return 0, medallion.Constraintf("lakehouse %d does not exist", e.LakehouseID)
	}

	now := s.now()
	key := layerKey{lakehouseID: e.LakehouseID, schema: e.Schema, name: e.Name}
	if id, ok := s.silverKeys[key]; ok {
		cur := s.silver[id]
		e.ID = id
		e.CreatedAt = cur.CreatedAt
		e.UpdatedAt = now
		s.silver[id] = e
		return id, nil
	}

	e.ID = s.nextID("silver")
	e.CreatedAt = now
	e.UpdatedAt = now
	s.silver[e.ID] = e
	s.silverKeys[key] = e.ID
	return e.ID, nil
}

// LandingzoneEntityID returns 0 and a nil error if the natural key is not registered.
func (s *Store) LandingzoneEntityID(ctx context.Context, sourceSchema, sourceName string, dataSourceID int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.landingKeys[landingKey{schema: sourceSchema, name: sourceName, dataSourceID: dataSourceID}], nil
}

// BronzeLayerEntityID returns 0 and a nil error if the natural key is not registered.
func (s *Store) BronzeLayerEntityID(ctx context.Context, lakehouseID int64, schema, name string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.bronzeKeys[layerKey{lakehouseID: lakehouseID, schema: schema, name: name}], nil
}

// SilverLayerEntityID returns 0 and a nil error if the natural key is not registered.
func (s *Store) SilverLayerEntityID(ctx context.Context, lakehouseID int64, schema, name string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.silverKeys[layerKey{lakehouseID: lakehouseID, schema: schema, name: name}], nil
}

func (s *Store) GetLandingzoneEntity(ctx context.Context, id int64) (medallion.LandingzoneEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.landing[id]
	if !ok {
		return medallion.LandingzoneEntity{}, medallion.ErrNotFound
	}
	return e, nil
}

func (s *Store) GetBronzeLayerEntity(ctx context.Context, id int64) (medallion.BronzeLayerEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.bronze[id]
	if !ok {
		return medallion.BronzeLayerEntity{}, medallion.ErrNotFound
	}
	return e, nil
}

func (s *Store) GetSilverLayerEntity(ctx context.Context, id int64) (medallion.SilverLayerEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.silver[id]
	if !ok {
		return medallion.SilverLayerEntity{}, medallion.ErrNotFound
	}
	return e, nil
}

// ListLandingzoneEntities returns entities ordered by id.
func (s *Store) ListLandingzoneEntities(ctx context.Context, activeOnly bool) ([]medallion.LandingzoneEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]medallion.LandingzoneEntity, 0, len(s.landing))
	for _, e := range s.landing {
		if activeOnly && !e.IsActive {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SetEntityActive flips the tombstone of an entity in the given layer.
func (s *Store) SetEntityActive(ctx context.Context, layer medallion.Layer, id int64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	switch layer {
	case medallion.LayerLanding:
		e, ok := s.landing[id]
		if !ok {
			return medallion.ErrNotFound
		}
		e.IsActive, e.UpdatedAt = active, now
		s.landing[id] = e
	case medallion.LayerBronze:
		e, ok := s.bronze[id]
		if !ok {
			return medallion.ErrNotFound
		}
		e.IsActive, e.UpdatedAt = active, now
		s.bronze[id] = e
	case medallion.LayerSilver:
		e, ok := s.silver[id]
		if !ok {
			return medallion.ErrNotFound
		}
		e.IsActive, e.UpdatedAt = active, now
		s.silver[id] = e
	default:
		return fmt.Errorf("%w: %q", store.ErrUnknownLayer, layer)
	}
	return nil
}
