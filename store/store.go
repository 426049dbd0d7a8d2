package store

import (
	"context"
	"time"

	"github.com/getpup/medallion"
	"github.com/google/uuid"
)

// CatalogStore persists the deployment topology.
// Upserts are keyed by external id and never create two rows for the same id.
type CatalogStore interface {
	// UpsertWorkspace inserts the workspace or updates name and active flag in place.
	// Returns the surrogate id.
	UpsertWorkspace(ctx context.Context, ws medallion.Workspace) (int64, error)

	// UpsertLakehouse inserts or updates a lakehouse.
	// Returns a constraint error if the workspace does not exist.
	UpsertLakehouse(ctx context.Context, lh medallion.Lakehouse) (int64, error)

	// UpsertConnection inserts or updates a connection.
	UpsertConnection(ctx context.Context, conn medallion.Connection) (int64, error)

	// UpsertDataSource inserts or updates a data source.
	// Returns a constraint error if the connection does not exist.
	UpsertDataSource(ctx context.Context, ds medallion.DataSource) (int64, error)

	// GetWorkspace returns medallion.ErrNotFound if no workspace has the external id.
	GetWorkspace(ctx context.Context, externalID uuid.UUID) (medallion.Workspace, error)
	GetLakehouse(ctx context.Context, externalID uuid.UUID) (medallion.Lakehouse, error)
	GetConnection(ctx context.Context, externalID uuid.UUID) (medallion.Connection, error)
	GetDataSource(ctx context.Context, externalID uuid.UUID) (medallion.DataSource, error)

	// SetCatalogActive flips the tombstone of a catalog record.
	// Returns medallion.ErrNotFound if no record of the kind has the external id.
	SetCatalogActive(ctx context.Context, kind CatalogKind, externalID uuid.UUID, active bool) error
}

// CatalogKind names one of the catalog tables.
type CatalogKind string

const (
	CatalogWorkspace  CatalogKind = "workspace"
	CatalogLakehouse  CatalogKind = "lakehouse"
	CatalogConnection CatalogKind = "connection"
	CatalogDataSource CatalogKind = "datasource"
)

// EntityStore persists the medallion chain.
type EntityStore interface {
	// UpsertLandingzoneEntity is keyed by (SourceSchema, SourceName, DataSourceID).
	UpsertLandingzoneEntity(ctx context.Context, e medallion.LandingzoneEntity) (int64, error)

	// UpsertBronzeLayerEntity is keyed by (LakehouseID, Schema, Name).
	// Returns a constraint error if the landing entity does not exist.
	UpsertBronzeLayerEntity(ctx context.Context, e medallion.BronzeLayerEntity) (int64, error)

	// UpsertSilverLayerEntity is keyed by (LakehouseID, Schema, Name).
	// Returns a constraint error if the bronze entity does not exist.
	UpsertSilverLayerEntity(ctx context.Context, e medallion.SilverLayerEntity) (int64, error)

	// LandingzoneEntityID resolves a natural key. Returns 0 and a nil error if not registered.
	LandingzoneEntityID(ctx context.Context, sourceSchema, sourceName string, dataSourceID int64) (int64, error)
	BronzeLayerEntityID(ctx context.Context, lakehouseID int64, schema, name string) (int64, error)
	SilverLayerEntityID(ctx context.Context, lakehouseID int64, schema, name string) (int64, error)

	GetLandingzoneEntity(ctx context.Context, id int64) (medallion.LandingzoneEntity, error)
	GetBronzeLayerEntity(ctx context.Context, id int64) (medallion.BronzeLayerEntity, error)
	GetSilverLayerEntity(ctx context.Context, id int64) (medallion.SilverLayerEntity, error)

	// ListLandingzoneEntities returns entities ordered by id, active ones only when activeOnly is set.
	ListLandingzoneEntities(ctx context.Context, activeOnly bool) ([]medallion.LandingzoneEntity, error)

	// SetEntityActive flips the tombstone of an entity in the given layer.
	SetEntityActive(ctx context.Context, layer medallion.Layer, id int64, active bool) error
}

// CheckpointStore persists one watermark per landing entity.
type CheckpointStore interface {
	// SetLastLoadValue overwrites the watermark of the entity or inserts the first one.
	SetLastLoadValue(ctx context.Context, landingEntityID int64, value string, at time.Time) error

	// GetLastLoadValue returns medallion.ErrNotFound if the entity was never loaded.
	GetLastLoadValue(ctx context.Context, landingEntityID int64) (medallion.LastLoadValue, error)
}

// TrackerStore persists per-unit execution markers.
//
// Register* is an atomic conditional write: an open (unprocessed) row for the same
// entity and unit is never duplicated, even under concurrent callers.
type TrackerStore interface {
	// RegisterLandingUnit inserts a Registered row unless an open row exists, in which
	// case the existing row is returned with created=false.
	RegisterLandingUnit(ctx context.Context, entityID int64, unit medallion.LandingUnit, at time.Time) (row medallion.PipelineLandingzoneEntity, created bool, err error)

	// CompleteLandingUnit flips the open row to Processed and stamps LoadEndDateTime.
	// If no open row exists it inserts the unit directly as Processed.
	CompleteLandingUnit(ctx context.Context, entityID int64, unit medallion.LandingUnit, at time.Time) (medallion.PipelineLandingzoneEntity, error)

	// LandingUnitSeen reports whether any row, open or processed, exists for the unit.
	LandingUnitSeen(ctx context.Context, entityID int64, unit medallion.LandingUnit) (bool, error)

	RegisterBronzeUnit(ctx context.Context, entityID int64, unit medallion.BronzeUnit, at time.Time) (row medallion.PipelineBronzeLayerEntity, created bool, err error)
	CompleteBronzeUnit(ctx context.Context, entityID int64, unit medallion.BronzeUnit, at time.Time) (medallion.PipelineBronzeLayerEntity, error)

	// ListLandingUnits and ListBronzeUnits return all rows of an entity ordered by id.
	ListLandingUnits(ctx context.Context, entityID int64) ([]medallion.PipelineLandingzoneEntity, error)
	ListBronzeUnits(ctx context.Context, entityID int64) ([]medallion.PipelineBronzeLayerEntity, error)

	// AcquireClaim inserts the claim unless another owner holds the same key. A claim
	// older than staleBefore is replaced. It reports false when the key is held.
	AcquireClaim(ctx context.Context, claim medallion.Claim, staleBefore time.Time) (bool, error)

	// ReleaseClaim deletes the claim if it is still held by owner.
	ReleaseClaim(ctx context.Context, key medallion.ClaimKey, owner string) error

	// UnitOpen reports whether the tracker row of the layer exists and is not processed.
	UnitOpen(ctx context.Context, layer medallion.Layer, rowID int64) (bool, error)
}

// ViewStore computes the ready work sets by joining registry, checkpoint and tracker state.
// Every result is ordered by entity id, then by tracker row id.
type ViewStore interface {
	ReadyForLandingExtraction(ctx context.Context) ([]LandingReadyRow, error)
	ReadyForBronzeLoad(ctx context.Context) ([]BronzeReadyRow, error)
	ReadyForSilverLoad(ctx context.Context) ([]SilverReadyRow, error)
}

// AuditStore appends to the execution audit log. No update or delete path exists.
type AuditStore interface {
	// AppendAuditEvent stamps LogDateTime and returns the stored event.
	AppendAuditEvent(ctx context.Context, event medallion.AuditEvent) (medallion.AuditEvent, error)

	// ListAuditEvents returns events of a kind ordered by LogDateTime, then id.
	// A zero runID returns every run.
	ListAuditEvents(ctx context.Context, kind medallion.AuditKind, runID uuid.UUID) ([]medallion.AuditEvent, error)
}

// TransferStore persists the one-time migration log, validations and size analysis.
type TransferStore interface {
	// AppendMigrationLog assigns the next ExecutionSequence of (Phase, Operation).
	AppendMigrationLog(ctx context.Context, entry medallion.MigrationLogEntry) (medallion.MigrationLogEntry, error)

	// ListMigrationLog filters by phase and operation; empty values match everything.
	ListMigrationLog(ctx context.Context, phase, operation string) ([]medallion.MigrationLogEntry, error)

	AppendValidation(ctx context.Context, v medallion.DataLoadValidation) (medallion.DataLoadValidation, error)
	ListValidations(ctx context.Context) ([]medallion.DataLoadValidation, error)

	AppendTableSize(ctx context.Context, a medallion.TableSizeAnalysis) (medallion.TableSizeAnalysis, error)
	ListTableSizes(ctx context.Context) ([]medallion.TableSizeAnalysis, error)
}

// Store is the full relational state of the orchestration layer.
// Implementations must be safe for concurrent access.
type Store interface {
	CatalogStore
	EntityStore
	CheckpointStore
	TrackerStore
	ViewStore
	AuditStore
	TransferStore
}
