package memory

import (
	"context"
	"fmt"

	"github.com/getpup/medallion"
	"github.com/getpup/medallion/store"
	"github.com/google/uuid"
)

// UpsertWorkspace inserts the workspace or updates name and active flag of the existing row.
func (s *Store) UpsertWorkspace(ctx context.Context, ws medallion.Workspace) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if id, ok := s.workspaceExt[ws.ExternalID]; ok {
		cur := s.workspaces[id]
		cur.Name = ws.Name
		cur.IsActive = ws.IsActive
		cur.UpdatedAt = now
		s.workspaces[id] = cur
		return id, nil
	}

	ws.ID = s.nextID("workspace")
	ws.CreatedAt = now
	ws.UpdatedAt = now
	s.workspaces[ws.ID] = ws
	s.workspaceExt[ws.ExternalID] = ws.ID
	return ws.ID, nil
}

// UpsertLakehouse inserts or updates a lakehouse.
// Returns a constraint error if the workspace does not exist.
func (s *Store) UpsertLakehouse(ctx context.Context, lh medallion.Lakehouse) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workspaces[lh.WorkspaceID]; !ok {
		return 0, medallion.Constraintf("workspace %d does not exist", lh.WorkspaceID)
	}

	now := s.now()
	if id, ok := s.lakehouseExt[lh.ExternalID]; ok {
		cur := s.lakehouses[id]
		cur.WorkspaceID = lh.WorkspaceID
		cur.Name = lh.Name
		cur.IsActive = lh.IsActive
		cur.UpdatedAt = now
		s.lakehouses[id] = cur
		return id, nil
	}

	lh.ID = s.nextID("lakehouse")
	lh.CreatedAt = now
	lh.UpdatedAt = now
	s.lakehouses[lh.ID] = lh
	s.lakehouseExt[lh.ExternalID] = lh.ID
	return lh.ID, nil
}

// UpsertConnection inserts or updates a connection.
func (s *Store) UpsertConnection(ctx context.Context, conn medallion.Connection) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if id, ok := s.connectionExt[conn.ExternalID]; ok {
		cur := s.connections[id]
		cur.Name = conn.Name
		cur.Type = conn.Type
		cur.IsActive = conn.IsActive
		cur.UpdatedAt = now
		s.connections[id] = cur
		return id, nil
	}

	conn.ID = s.nextID("connection")
	conn.CreatedAt = now
	conn.UpdatedAt = now
	s.connections[conn.ID] = conn
	s.connectionExt[conn.ExternalID] = conn.ID
	return conn.ID, nil
}

// UpsertDataSource inserts or updates a data source.
// Returns a constraint error if the connection does not exist.
func (s *Store) UpsertDataSource(ctx context.Context, ds medallion.DataSource) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.connections[ds.ConnectionID]; !ok {
		return 0, medallion.Constraintf("connection %d does not exist", ds.ConnectionID)
	}

	now := s.now()
	if id, ok := s.dataSourceExt[ds.ExternalID]; ok {
		cur := s.dataSources[id]
		cur.ConnectionID = ds.ConnectionID
		cur.Name = ds.Name
		cur.Namespace = ds.Namespace
		cur.Type = ds.Type
		cur.Description = ds.Description
		cur.IsActive = ds.IsActive
		cur.UpdatedAt = now
		s.dataSources[id] = cur
		return id, nil
	}

	ds.ID = s.nextID("datasource")
	ds.CreatedAt = now
	ds.UpdatedAt = now
	s.dataSources[ds.ID] = ds
	s.dataSourceExt[ds.ExternalID] = ds.ID
	return ds.ID, nil
}

// GetWorkspace returns medallion.ErrNotFound if no workspace has the external id.
func (s *Store) GetWorkspace(ctx context.Context, externalID uuid.UUID) (medallion.Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.workspaceExt[externalID]
	if !ok {
		return medallion.Workspace{}, medallion.ErrNotFound
	}
	return s.workspaces[id], nil
}

// GetLakehouse returns medallion.ErrNotFound if no lakehouse has the external id.
func (s *Store) GetLakehouse(ctx context.Context, externalID uuid.UUID) (medallion.Lakehouse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.lakehouseExt[externalID]
	if !ok {
		return medallion.Lakehouse{}, medallion.ErrNotFound
	}
	return s.lakehouses[id], nil
}

// GetConnection returns medallion.ErrNotFound if no connection has the external id.
func (s *Store) GetConnection(ctx context.Context, externalID uuid.UUID) (medallion.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.connectionExt[externalID]
	if !ok {
		return medallion.Connection{}, medallion.ErrNotFound
	}
	return s.connections[id], nil
}

// GetDataSource returns medallion.ErrNotFound if no data source has the external id.
func (s *Store) GetDataSource(ctx context.Context, externalID uuid.UUID) (medallion.DataSource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.dataSourceExt[externalID]
	if !ok {
		return medallion.DataSource{}, medallion.ErrNotFound
	}
	return s.dataSources[id], nil
}

// SetCatalogActive flips the tombstone of a catalog record.
func (s *Store) SetCatalogActive(ctx context.Context, kind store.CatalogKind, externalID uuid.UUID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	switch kind {
	case store.CatalogWorkspace:
		id, ok := s.workspaceExt[externalID]
		if !ok {
			return medallion.ErrNotFound
		}
		rec := s.workspaces[id]
		rec.IsActive, rec.UpdatedAt = active, now
		s.workspaces[id] = rec
	case store.CatalogLakehouse:
		id, ok := s.lakehouseExt[externalID]
		if !ok {
			return medallion.ErrNotFound
		}
		rec := s.lakehouses[id]
		rec.IsActive, rec.UpdatedAt = active, now
		s.lakehouses[id] = rec
	case store.CatalogConnection:
		id, ok := s.connectionExt[externalID]
		if !ok {
			return medallion.ErrNotFound
		}
		rec := s.connections[id]
		rec.IsActive, rec.UpdatedAt = active, now
		s.connections[id] = rec
	case store.CatalogDataSource:
		id, ok := s.dataSourceExt[externalID]
		if !ok {
			return medallion.ErrNotFound
		}
		rec := s.dataSources[id]
		rec.IsActive, rec.UpdatedAt = active, now
		s.dataSources[id] = rec
	default:
		return fmt.Errorf("%w: %q", store.ErrUnknownCatalogKind, kind)
	}
	return nil
}
