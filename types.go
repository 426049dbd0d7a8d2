package medallion

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Layer identifies a stage of the medallion chain.
type Layer string

const (
	// LayerLanding holds raw files as extracted from a data source.
	LayerLanding Layer = "landing"

	// LayerBronze holds structured raw tables materialized from landing files.
	LayerBronze Layer = "bronze"

	// LayerSilver holds cleansed tables derived from bronze tables.
	LayerSilver Layer = "silver"
)

// Workspace is a deployment workspace identified by an externally issued GUID.
type Workspace struct {
	// ID is the surrogate id assigned by the store.
	ID int64

	// ExternalID is the globally unique id issued by the hosting platform.
	ExternalID uuid.UUID

	Name string

	// IsActive is the soft-delete tombstone. Records are never removed.
	IsActive bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Lakehouse is a storage container inside a workspace.
type Lakehouse struct {
	ID          int64
	ExternalID  uuid.UUID
	WorkspaceID int64
	Name        string
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Connection describes how to reach a source system.
type Connection struct {
	ID         int64
	ExternalID uuid.UUID
	Name       string

	// Type is the connector type, for example "SqlServer" or "AzureDataLakeStorage".
	Type      string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DataSource is a logical source (a database, a folder) reached through a Connection.
type DataSource struct {
	ID           int64
	ExternalID   uuid.UUID
	ConnectionID int64
	Name         string

	// Namespace groups landing output of the data source, typically used as a folder prefix.
	Namespace string

	// Type is the source dialect, for example "ASQL", "ORACLE", "MYSQL" or "ADLS".
	Type        string
	Description string
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// LandingzoneEntity describes where a source object lands.
// Its natural key is (SourceSchema, SourceName, DataSourceID).
type LandingzoneEntity struct {
	ID           int64
	DataSourceID int64
	LakehouseID  int64
	SourceSchema string
	SourceName   string

	// FilePath and FileName form the path template of produced files.
	FilePath string
	FileName string
	FileType string

	// IsIncremental selects a watermark-filtered extraction driven by IncrementalColumn.
	IsIncremental     bool
	IncrementalColumn string

	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BronzeLayerEntity is the materialized form of a landing entity.
// Its natural key is (LakehouseID, Schema, Name).
type BronzeLayerEntity struct {
	ID                  int64
	LandingzoneEntityID int64
	LakehouseID         int64
	Schema              string
	Name                string

	// PrimaryKeys is a comma separated list of key columns.
	PrimaryKeys    string
	FileType       string
	CleansingRules string
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SilverLayerEntity is the cleansed form of a bronze entity.
// Its natural key is (LakehouseID, Schema, Name).
type SilverLayerEntity struct {
	ID                  int64
	BronzeLayerEntityID int64
	LakehouseID         int64
	Schema              string
	Name                string
	FileType            string
	CleansingRules      string
	IsActive            bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// LastLoadValue is the watermark of a landing entity. At most one exists per entity.
type LastLoadValue struct {
	LandingzoneEntityID int64

	// Value is opaque to the catalog; it is compared by the source system.
	Value     string
	UpdatedAt time.Time
}

// LandingUnit identifies one file produced for a landing entity.
type LandingUnit struct {
	FilePath string
	FileName string
}

// BronzeUnit identifies one table instance produced for a bronze entity.
type BronzeUnit struct {
	Schema string
	Table  string
}

// PipelineLandingzoneEntity tracks whether one landing file has been consumed by the bronze layer.
// The only transition is Registered (IsProcessed=false) to Processed (IsProcessed=true).
type PipelineLandingzoneEntity struct {
	ID                  int64
	LandingzoneEntityID int64
	Unit                LandingUnit
	IsProcessed         bool
	InsertDateTime      time.Time

	// LoadEndDateTime is set when the unit is marked processed.
	LoadEndDateTime *time.Time
}

// PipelineBronzeLayerEntity tracks whether one bronze table instance has been consumed by the silver layer.
type PipelineBronzeLayerEntity struct {
	ID                  int64
	BronzeLayerEntityID int64
	Unit                BronzeUnit
	IsProcessed         bool
	InsertDateTime      time.Time
	LoadEndDateTime     *time.Time
}

// ClaimKey identifies one dispatchable unit of work across executors.
// UnitRowID is zero for landing work and the consumed tracker row for bronze and silver work.
type ClaimKey struct {
	Layer     Layer
	EntityID  int64
	UnitRowID int64
}

func (k ClaimKey) String() string {
	return fmt.Sprintf("%s/%d/%d", k.Layer, k.EntityID, k.UnitRowID)
}

// Claim records which executor currently owns a unit of work.
type Claim struct {
	ClaimKey
	Owner     string
	ClaimedAt time.Time
}

// LogType tags an audit row with the phase of the execution it describes.
type LogType string

const (
	LogTypeStart LogType = "Start"
	LogTypeEnd   LogType = "End"
	LogTypeFail  LogType = "Fail"
)

// Valid reports whether t is one of Start, End or Fail.
func (t LogType) Valid() bool {
	switch t {
	case LogTypeStart, LogTypeEnd, LogTypeFail:
		return true
	}
	return false
}

// AuditKind selects the audit table an event is appended to.
type AuditKind string

const (
	AuditKindPipeline     AuditKind = "pipeline"
	AuditKindNotebook     AuditKind = "notebook"
	AuditKindCopyActivity AuditKind = "copy_activity"
)

// Valid reports whether k names a known audit table.
func (k AuditKind) Valid() bool {
	switch k {
	case AuditKindPipeline, AuditKindNotebook, AuditKindCopyActivity:
		return true
	}
	return false
}

// AuditEvent is one append-only row of the execution audit log.
type AuditEvent struct {
	ID   int64
	Kind AuditKind

	WorkspaceID           uuid.UUID
	PipelineRunGUID       uuid.UUID
	PipelineParentRunGUID uuid.UUID

	// ObjectID and ObjectName identify the pipeline, notebook or copy activity.
	ObjectID   uuid.UUID
	ObjectName string

	// EntityID is the registry id the execution worked on, 0 when not applicable.
	EntityID int64
	Layer    Layer

	// Parameters is the serialized parameter blob handed to the executor.
	Parameters string

	TriggerType string
	TriggerGUID uuid.UUID
	TriggerTime time.Time

	LogType LogType

	// LogDateTime is stamped by the store on append.
	LogDateTime time.Time
	LogData     string
}

// MigrationStatus is the outcome recorded for a migration step.
type MigrationStatus string

const (
	MigrationStatusStarted MigrationStatus = "STARTED"
	MigrationStatusSuccess MigrationStatus = "SUCCESS"
	MigrationStatusFailed  MigrationStatus = "FAILED"
	MigrationStatusRetry   MigrationStatus = "RETRY"
)

// MigrationLogEntry is one append-only event of a bulk migration.
type MigrationLogEntry struct {
	ID         int64
	Phase      string
	SchemaName string
	TableName  string
	Operation  string
	Status     MigrationStatus

	RowsProcessed   int64
	DurationSeconds float64
	FileSizeMB      float64

	ErrorNumber   int
	ErrorMessage  string
	ErrorSeverity int

	LoggedAt time.Time

	// ExecutionSequence increases monotonically per (Phase, Operation).
	ExecutionSequence int64
}

// ValidationStatus is the verdict of a row count comparison.
type ValidationStatus string

const (
	ValidationPass ValidationStatus = "PASS"
	ValidationFail ValidationStatus = "FAIL"
)

// DataLoadValidation is the persisted result of comparing source and target row counts of a table.
type DataLoadValidation struct {
	ID          int64
	SchemaName  string
	TableName   string
	SourceCount int64
	TargetCount int64
	VariancePct float64
	Status      ValidationStatus
	ValidatedAt time.Time
}

// TableSizeAnalysis is the persisted size profile of a table with storage recommendations.
type TableSizeAnalysis struct {
	ID                    int64
	SchemaName            string
	TableName             string
	RowCount              int64
	SizeMB                float64
	SizeGB                float64
	RecommendCompression  bool
	RecommendPartitioning bool
	AnalyzedAt            time.Time
}
