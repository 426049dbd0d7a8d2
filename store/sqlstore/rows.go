package sqlstore

import (
	"time"

	"github.com/getpup/medallion"
	"github.com/google/uuid"
)

type catalogRow struct {
	ID          int64     `db:"id"`
	ExternalID  uuid.UUID `db:"external_id"`
	ParentID    int64     `db:"parent_id"`
	Name        string    `db:"name"`
	Type        string    `db:"type"`
	Namespace   string    `db:"namespace"`
	Description string    `db:"description"`
	IsActive    bool      `db:"is_active"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

type landingRow struct {
	ID                int64     `db:"id"`
	DataSourceID      int64     `db:"data_source_id"`
	LakehouseID       int64     `db:"lakehouse_id"`
	SourceSchema      string    `db:"source_schema"`
	SourceName        string    `db:"source_name"`
	FilePath          string    `db:"file_path"`
	FileName          string    `db:"file_name"`
	FileType          string    `db:"file_type"`
	IsIncremental     bool      `db:"is_incremental"`
	IncrementalColumn string    `db:"incremental_column"`
	IsActive          bool      `db:"is_active"`
	CreatedAt         time.Time `db:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"`
}

func (r landingRow) entity() medallion.LandingzoneEntity {
	return medallion.LandingzoneEntity{
		ID:                r.ID,
		DataSourceID:      r.DataSourceID,
		LakehouseID:       r.LakehouseID,
		SourceSchema:      r.SourceSchema,
		SourceName:        r.SourceName,
		FilePath:          r.FilePath,
		FileName:          r.FileName,
		FileType:          r.FileType,
		IsIncremental:     r.IsIncremental,
		IncrementalColumn: r.IncrementalColumn,
		IsActive:          r.IsActive,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

type bronzeRow struct {
	ID                  int64     `db:"id"`
	LandingzoneEntityID int64     `db:"landingzone_entity_id"`
	LakehouseID         int64     `db:"lakehouse_id"`
	SchemaName          string    `db:"schema_name"`
	Name                string    `db:"name"`
	PrimaryKeys         string    `db:"primary_keys"`
	FileType            string    `db:"file_type"`
	CleansingRules      string    `db:"cleansing_rules"`
	IsActive            bool      `db:"is_active"`
	CreatedAt           time.Time `db:"created_at"`
	UpdatedAt           time.Time `db:"updated_at"`
}

func (r bronzeRow) entity() medallion.BronzeLayerEntity {
	return medallion.BronzeLayerEntity{
		ID:                  r.ID,
		LandingzoneEntityID: r.LandingzoneEntityID,
		LakehouseID:         r.LakehouseID,
		Schema:              r.SchemaName,
		Name:                r.Name,
		PrimaryKeys:         r.PrimaryKeys,
		FileType:            r.FileType,
		CleansingRules:      r.CleansingRules,
		IsActive:            r.IsActive,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
}

type silverRow struct {
	ID                  int64     `db:"id"`
	BronzeLayerEntityID int64     `db:"bronze_layer_entity_id"`
	LakehouseID         int64     `db:"lakehouse_id"`
	SchemaName          string    `db:"schema_name"`
	Name                string    `db:"name"`
	FileType            string    `db:"file_type"`
	CleansingRules      string    `db:"cleansing_rules"`
	IsActive            bool      `db:"is_active"`
	CreatedAt           time.Time `db:"created_at"`
	UpdatedAt           time.Time `db:"updated_at"`
}

func (r silverRow) entity() medallion.SilverLayerEntity {
	return medallion.SilverLayerEntity{
		ID:                  r.ID,
		BronzeLayerEntityID: r.BronzeLayerEntityID,
		LakehouseID:         r.LakehouseID,
		Schema:              r.SchemaName,
		Name:                r.Name,
		FileType:            r.FileType,
		CleansingRules:      r.CleansingRules,
		IsActive:            r.IsActive,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
}

// unitRow scans both tracker tables; Key1/Key2 are file path/name or schema/table.
type unitRow struct {
	ID              int64      `db:"id"`
	EntityID        int64      `db:"entity_id"`
	Key1            string     `db:"key1"`
	Key2            string     `db:"key2"`
	IsProcessed     bool       `db:"is_processed"`
	InsertDateTime  time.Time  `db:"insert_datetime"`
	LoadEndDateTime *time.Time `db:"load_end_datetime"`
}

func (r unitRow) landing() medallion.PipelineLandingzoneEntity {
	return medallion.PipelineLandingzoneEntity{
		ID:                  r.ID,
		LandingzoneEntityID: r.EntityID,
		Unit:                medallion.LandingUnit{FilePath: r.Key1, FileName: r.Key2},
		IsProcessed:         r.IsProcessed,
		InsertDateTime:      r.InsertDateTime,
		LoadEndDateTime:     r.LoadEndDateTime,
	}
}

func (r unitRow) bronze() medallion.PipelineBronzeLayerEntity {
	return medallion.PipelineBronzeLayerEntity{
		ID:                  r.ID,
		BronzeLayerEntityID: r.EntityID,
		Unit:                medallion.BronzeUnit{Schema: r.Key1, Table: r.Key2},
		IsProcessed:         r.IsProcessed,
		InsertDateTime:      r.InsertDateTime,
		LoadEndDateTime:     r.LoadEndDateTime,
	}
}

type auditRow struct {
	ID                    int64      `db:"id"`
	WorkspaceID           uuid.UUID  `db:"workspace_id"`
	PipelineRunGUID       uuid.UUID  `db:"pipeline_run_guid"`
	PipelineParentRunGUID uuid.UUID  `db:"pipeline_parent_run_guid"`
	ObjectID              uuid.UUID  `db:"object_id"`
	ObjectName            string     `db:"object_name"`
	EntityID              int64      `db:"entity_id"`
	EntityLayer           string     `db:"entity_layer"`
	PipelineParameters    string     `db:"pipeline_parameters"`
	TriggerType           string     `db:"trigger_type"`
	TriggerGUID           uuid.UUID  `db:"trigger_guid"`
	TriggerTime           *time.Time `db:"trigger_time"`
	LogType               string     `db:"log_type"`
	LogDateTime           time.Time  `db:"log_datetime"`
	LogData               string     `db:"log_data"`
}

func (r auditRow) event(kind medallion.AuditKind) medallion.AuditEvent {
	e := medallion.AuditEvent{
		ID:                    r.ID,
		Kind:                  kind,
		WorkspaceID:           r.WorkspaceID,
		PipelineRunGUID:       r.PipelineRunGUID,
		PipelineParentRunGUID: r.PipelineParentRunGUID,
		ObjectID:              r.ObjectID,
		ObjectName:            r.ObjectName,
		EntityID:              r.EntityID,
		Layer:                 medallion.Layer(r.EntityLayer),
		Parameters:            r.PipelineParameters,
		TriggerType:           r.TriggerType,
		TriggerGUID:           r.TriggerGUID,
		LogType:               medallion.LogType(r.LogType),
		LogDateTime:           r.LogDateTime,
		LogData:               r.LogData,
	}
	if r.TriggerTime != nil {
		e.TriggerTime = *r.TriggerTime
	}
	return e
}
