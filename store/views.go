package store

import "github.com/google/uuid"

// LandingReadyRow is one active landing entity joined with its data source, connection,
// target lakehouse and watermark.
type LandingReadyRow struct {
	LandingzoneEntityID int64     `db:"landingzone_entity_id"`
	DataSourceID        int64     `db:"data_source_id"`
	DataSourceName      string    `db:"data_source_name"`
	DataSourceNamespace string    `db:"data_source_namespace"`
	DataSourceType      string    `db:"data_source_type"`
	ConnectionID        uuid.UUID `db:"connection_id"`
	ConnectionType      string    `db:"connection_type"`

	SourceSchema      string `db:"source_schema"`
	SourceName        string `db:"source_name"`
	FilePath          string `db:"file_path"`
	FileName          string `db:"file_name"`
	FileType          string `db:"file_type"`
	IsIncremental     bool   `db:"is_incremental"`
	IncrementalColumn string `db:"incremental_column"`

	// LastLoadValue is empty and HasLastLoadValue false when the entity was never loaded.
	LastLoadValue    string `db:"-"`
	HasLastLoadValue bool   `db:"-"`

	TargetLakehouseID uuid.UUID `db:"target_lakehouse_id"`
	TargetWorkspaceID uuid.UUID `db:"target_workspace_id"`
}

// BronzeReadyRow is one unprocessed landing file awaiting promotion to bronze.
type BronzeReadyRow struct {
	BronzeLayerEntityID         int64 `db:"bronze_layer_entity_id"`
	LandingzoneEntityID         int64 `db:"landingzone_entity_id"`
	PipelineLandingzoneEntityID int64 `db:"pipeline_landingzone_entity_id"`

	SourceFilePath      string `db:"source_file_path"`
	SourceFileName      string `db:"source_file_name"`
	SourceSchema        string `db:"source_schema"`
	SourceName          string `db:"source_name"`
	DataSourceNamespace string `db:"data_source_namespace"`

	TargetSchema   string `db:"target_schema"`
	TargetName     string `db:"target_name"`
	PrimaryKeys    string `db:"primary_keys"`
	FileType       string `db:"file_type"`
	CleansingRules string `db:"cleansing_rules"`
	IsIncremental  bool   `db:"is_incremental"`

	SourceLakehouseID uuid.UUID `db:"source_lakehouse_id"`
	SourceWorkspaceID uuid.UUID `db:"source_workspace_id"`
	TargetLakehouseID uuid.UUID `db:"target_lakehouse_id"`
	TargetWorkspaceID uuid.UUID `db:"target_workspace_id"`
}

// SilverReadyRow is one unprocessed bronze table instance awaiting promotion to silver.
type SilverReadyRow struct {
	SilverLayerEntityID         int64 `db:"silver_layer_entity_id"`
	BronzeLayerEntityID         int64 `db:"bronze_layer_entity_id"`
	PipelineBronzeLayerEntityID int64 `db:"pipeline_bronze_layer_entity_id"`

	SourceSchema   string `db:"source_schema"`
	SourceName     string `db:"source_name"`
	TargetSchema   string `db:"target_schema"`
	TargetName     string `db:"target_name"`
	PrimaryKeys    string `db:"primary_keys"`
	FileType       string `db:"file_type"`
	CleansingRules string `db:"cleansing_rules"`
	IsIncremental  bool   `db:"is_incremental"`

	SourceLakehouseID uuid.UUID `db:"source_lakehouse_id"`
	SourceWorkspaceID uuid.UUID `db:"source_workspace_id"`
	TargetLakehouseID uuid.UUID `db:"target_lakehouse_id"`
	TargetWorkspaceID uuid.UUID `db:"target_workspace_id"`
}
