// Package registry maintains the deployment catalog and the medallion chain of entities.
//
// Every upsert is idempotent: the same external id or natural key always resolves to
// the same surrogate id, and re-registering a record reactivates it. Records are never
// removed; Deactivate flips their tombstone so the dispatch views skip them.
package registry

import (
	"context"
	"fmt"

	"github.com/getpup/medallion"
	"github.com/getpup/medallion/metrics"
	"github.com/getpup/medallion/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store is the storage the registry needs.
type Store interface {
	store.CatalogStore
	store.EntityStore
}

// Config holds configuration for the Registry.
type Config struct {
	// Store persists catalog and entity records (required).
	Store Store

	// Logger is optional. Defaults to zap.NewNop().
	Logger *zap.Logger

	// Metrics is optional.
	Metrics *metrics.Collector
}

// Registry is the catalog and entity registry service.
type Registry struct {
	store   Store
	logger  *zap.Logger
	metrics *metrics.Collector
}

// New creates a Registry.
func New(cfg Config) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Registry{
		store:   cfg.Store,
		logger:  cfg.Logger.Named("registry"),
		metrics: cfg.Metrics,
	}
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", medallion.ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func requireExternalID(kind string, id uuid.UUID) error {
	if id == uuid.Nil {
		return invalid("%s external id is required", kind)
	}
	return nil
}

func requireName(field, value string) error {
	if value == "" {
		return invalid("%s is required", field)
	}
	return nil
}

func requireRef(field string, id int64) error {
	if id <= 0 {
		return invalid("%s must reference a registered record (got %d)", field, id)
	}
	return nil
}

func (r *Registry) upserted(kind string, id int64, fields ...zap.Field) {
	r.metrics.IncRegistryUpserts(kind)
	r.logger.Debug("upserted", append([]zap.Field{zap.String("kind", kind), zap.Int64("id", id)}, fields...)...)
}

// UpsertWorkspace registers a workspace or renames and reactivates it.
func (r *Registry) UpsertWorkspace(ctx context.Context, externalID uuid.UUID, name string) (int64, error) {
	if err := requireExternalID("workspace", externalID); err != nil {
		return 0, err
	}
	if err := requireName("workspace name", name); err != nil {
		return 0, err
	}

	id, err := r.store.UpsertWorkspace(ctx, medallion.Workspace{ExternalID: externalID, Name: name, IsActive: true})
	if err != nil {
		return 0, err
	}
	r.upserted("workspace", id, zap.Stringer("externalID", externalID))
	return id, nil
}

// UpsertLakehouse registers a lakehouse in the workspace with the given external id.
func (r *Registry) UpsertLakehouse(ctx context.Context, externalID, workspaceExternalID uuid.UUID, name string) (int64, error) {
	if err := requireExternalID("lakehouse", externalID); err != nil {
		return 0, err
	}
	if err := requireName("lakehouse name", name); err != nil {
		return 0, err
	}

	ws, err := r.store.GetWorkspace(ctx, workspaceExternalID)
	if err != nil {
		return 0, fmt.Errorf("workspace %s: %w", workspaceExternalID, err)
	}

	id, err := r.store.UpsertLakehouse(ctx, medallion.Lakehouse{
		ExternalID:  externalID,
		WorkspaceID: ws.ID,
		Name:        name,
		IsActive:    true,
	})
	if err != nil {
		return 0, err
	}
	r.upserted("lakehouse", id, zap.Stringer("externalID", externalID))
	return id, nil
}

// UpsertConnection registers a connection. connType is the connector type, e.g. "SqlServer".
func (r *Registry) UpsertConnection(ctx context.Context, externalID uuid.UUID, name, connType string) (int64, error) {
	if err := requireExternalID("connection", externalID); err != nil {
		return 0, err
	}
	if err := requireName("connection name", name); err != nil {
		return 0, err
	}

	id, err := r.store.UpsertConnection(ctx, medallion.Connection{
		ExternalID: externalID,
		Name:       name,
		Type:       connType,
		IsActive:   true,
	})
	if err != nil {
		return 0, err
	}
	r.upserted("connection", id, zap.Stringer("externalID", externalID))
	return id, nil
}

// UpsertDataSource registers a data source reached through a registered connection.
// ds.ConnectionID must be the surrogate id of the connection.
func (r *Registry) UpsertDataSource(ctx context.Context, ds medallion.DataSource) (int64, error) {
	if err := requireExternalID("data source", ds.ExternalID); err != nil {
		return 0, err
	}
	if err := requireName("data source name", ds.Name); err != nil {
		return 0, err
	}
	if err := requireRef("connection id", ds.ConnectionID); err != nil {
		return 0, err
	}

	ds.IsActive = true
	id, err := r.store.UpsertDataSource(ctx, ds)
	if err != nil {
		return 0, err
	}
	r.upserted("datasource", id, zap.Stringer("externalID", ds.ExternalID))
	return id, nil
}

// UpsertLandingzoneEntity registers a landing entity keyed by (SourceSchema, SourceName, DataSourceID).
func (r *Registry) UpsertLandingzoneEntity(ctx context.Context, e medallion.LandingzoneEntity) (int64, error) {
	if err := requireRef("data source id", e.DataSourceID); err != nil {
		return 0, err
	}
	if err := requireRef("lakehouse id", e.LakehouseID); err != nil {
		return 0, err
	}
	if err := requireName("source name", e.SourceName); err != nil {
		return 0, err
	}
	if e.IsIncremental && e.IncrementalColumn == "" {
		return 0, invalid("incremental entity %s.%s needs an incremental column", e.SourceSchema, e.SourceName)
	}

	e.IsActive = true
	id, err := r.store.UpsertLandingzoneEntity(ctx, e)
	if err != nil {
		return 0, err
	}
	r.upserted("landing", id, zap.String("source", e.SourceSchema+"."+e.SourceName))
	return id, nil
}

// UpsertBronzeLayerEntity registers a bronze entity keyed by (LakehouseID, Schema, Name).
// The landing entity it materializes must exist.
func (r *Registry) UpsertBronzeLayerEntity(ctx context.Context, e medallion.BronzeLayerEntity) (int64, error) {
	if err := requireRef("landing entity id", e.LandingzoneEntityID); err != nil {
		return 0, err
	}
	if err := requireRef("lakehouse id", e.LakehouseID); err != nil {
		return 0, err
	}
	if err := requireName("bronze name", e.Name); err != nil {
		return 0, err
	}

	e.IsActive = true
	id, err := r.store.UpsertBronzeLayerEntity(ctx, e)
	if err != nil {
		return 0, err
	}
	r.upserted("bronze", id, zap.String("table", e.Schema+"."+e.Name))
	return id, nil
}

// UpsertSilverLayerEntity registers a silver entity keyed by (LakehouseID, Schema, Name).
// The bronze entity it cleanses must exist.
func (r *Registry) UpsertSilverLayerEntity(ctx context.Context, e medallion.SilverLayerEntity) (int64, error) {
	if err := requireRef("bronze entity id", e.BronzeLayerEntityID); err != nil {
		return 0, err
	}
	if err := requireRef("lakehouse id", e.LakehouseID); err != nil {
		return 0, err
	}
	if err := requireName("silver name", e.Name); err != nil {
		return 0, err
	}

	e.IsActive = true
	id, err := r.store.UpsertSilverLayerEntity(ctx, e)
	if err != nil {
		return 0, err
	}
	r.upserted("silver", id, zap.String("table", e.Schema+"."+e.Name))
	return id, nil
}

// LandingzoneEntityID resolves a landing natural key. 0 means not registered yet.
func (r *Registry) LandingzoneEntityID(ctx context.Context, sourceSchema, sourceName string, dataSourceID int64) (int64, error) {
	return r.store.LandingzoneEntityID(ctx, sourceSchema, sourceName, dataSourceID)
}

// BronzeLayerEntityID resolves a bronze natural key. 0 means not registered yet.
func (r *Registry) BronzeLayerEntityID(ctx context.Context, lakehouseID int64, schema, name string) (int64, error) {
	return r.store.BronzeLayerEntityID(ctx, lakehouseID, schema, name)
}

// SilverLayerEntityID resolves a silver natural key. 0 means not registered yet.
func (r *Registry) SilverLayerEntityID(ctx context.Context, lakehouseID int64, schema, name string) (int64, error) {
	return r.store.SilverLayerEntityID(ctx, lakehouseID, schema, name)
}

// WorkspaceByExternalID returns medallion.ErrNotFound if no workspace has the id.
func (r *Registry) WorkspaceByExternalID(ctx context.Context, externalID uuid.UUID) (medallion.Workspace, error) {
	return r.store.GetWorkspace(ctx, externalID)
}

// LakehouseByExternalID returns medallion.ErrNotFound if no lakehouse has the id.
func (r *Registry) LakehouseByExternalID(ctx context.Context, externalID uuid.UUID) (medallion.Lakehouse, error) {
	return r.store.GetLakehouse(ctx, externalID)
}

// ConnectionByExternalID returns medallion.ErrNotFound if no connection has the id.
func (r *Registry) ConnectionByExternalID(ctx context.Context, externalID uuid.UUID) (medallion.Connection, error) {
	return r.store.GetConnection(ctx, externalID)
}

// DataSourceByExternalID returns medallion.ErrNotFound if no data source has the id.
func (r *Registry) DataSourceByExternalID(ctx context.Context, externalID uuid.UUID) (medallion.DataSource, error) {
	return r.store.GetDataSource(ctx, externalID)
}

// LandingzoneEntities lists landing entities ordered by id.
func (r *Registry) LandingzoneEntities(ctx context.Context, activeOnly bool) ([]medallion.LandingzoneEntity, error) {
	return r.store.ListLandingzoneEntities(ctx, activeOnly)
}

// Deactivate tombstones a catalog record. Work reading from or writing to an inactive lakehouse
// or workspace leaves the dispatch views, and landing extraction also stops for an inactive
// connection or data source.
func (r *Registry) Deactivate(ctx context.Context, kind store.CatalogKind, externalID uuid.UUID) error {
	if err := r.store.SetCatalogActive(ctx, kind, externalID, false); err != nil {
		return err
	}
	r.logger.Info("deactivated", zap.String("kind", string(kind)), zap.Stringer("externalID", externalID))
	return nil
}

// DeactivateEntity tombstones an entity of the given layer.
func (r *Registry) DeactivateEntity(ctx context.Context, layer medallion.Layer, id int64) error {
	if err := r.store.SetEntityActive(ctx, layer, id, false); err != nil {
		return err
	}
	r.logger.Info("deactivated", zap.String("layer", string(layer)), zap.Int64("id", id))
	return nil
}
