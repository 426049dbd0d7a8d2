package sqlstore

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/getpup/medallion"
)

var identifierRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// TableConfig configures the table names used by the store.
type TableConfig struct {
	Workspace  string
	Lakehouse  string
	Connection string
	DataSource string

	LandingzoneEntity string
	BronzeLayerEntity string
	SilverLayerEntity string

	// LastLoadValue holds one watermark row per landing entity.
	LastLoadValue string

	PipelineLandingzoneEntity string
	PipelineBronzeLayerEntity string

	// DispatchClaim holds at most one claim per unit of work being executed.
	DispatchClaim string

	PipelineExecution     string
	NotebookExecution     string
	CopyActivityExecution string

	MigrationLog       string
	DataLoadValidation string
	TableSizeAnalysis  string
}

// DefaultTableConfig returns table names carrying the given prefix, "medallion_" if empty.
func DefaultTableConfig(prefix string) TableConfig {
	if prefix == "" {
		prefix = "medallion_"
	}
	return TableConfig{
		Workspace:                 prefix + "workspace",
		Lakehouse:                 prefix + "lakehouse",
		Connection:                prefix + "connection",
		DataSource:                prefix + "datasource",
		LandingzoneEntity:         prefix + "landingzone_entity",
		BronzeLayerEntity:         prefix + "bronze_layer_entity",
		SilverLayerEntity:         prefix + "silver_layer_entity",
		LastLoadValue:             prefix + "landingzone_entity_last_load_value",
		PipelineLandingzoneEntity: prefix + "pipeline_landingzone_entity",
		PipelineBronzeLayerEntity: prefix + "pipeline_bronze_layer_entity",
		DispatchClaim:             prefix + "dispatch_claim",
		PipelineExecution:         prefix + "pipeline_execution",
		NotebookExecution:         prefix + "notebook_execution",
		CopyActivityExecution:     prefix + "copy_activity_execution",
		MigrationLog:              prefix + "migration_log",
		DataLoadValidation:        prefix + "data_load_validation",
		TableSizeAnalysis:         prefix + "table_size_analysis",
	}
}

// all returns every table in creation order.
func (c TableConfig) all() []string {
	return []string{
		c.Workspace, c.Lakehouse, c.Connection, c.DataSource,
		c.LandingzoneEntity, c.BronzeLayerEntity, c.SilverLayerEntity,
		c.LastLoadValue,
		c.PipelineLandingzoneEntity, c.PipelineBronzeLayerEntity,
		c.DispatchClaim,
		c.PipelineExecution, c.NotebookExecution, c.CopyActivityExecution,
		c.MigrationLog, c.DataLoadValidation, c.TableSizeAnalysis,
	}
}

// Validate ensures every table name is a plain identifier. Table names are
// interpolated into SQL text and must never carry quotes or separators.
func (c TableConfig) Validate() error {
	for _, name := range c.all() {
		if !identifierRegex.MatchString(name) {
			return fmt.Errorf("%w: table name must start with a letter and contain only letters, numbers, and underscores (got: %q)", medallion.ErrInvalidArgument, name)
		}
	}
	return nil
}

// auditTable returns the table of an audit kind.
func (c TableConfig) auditTable(kind medallion.AuditKind) (string, error) {
	switch kind {
	case medallion.AuditKindPipeline:
		return c.PipelineExecution, nil
	case medallion.AuditKindNotebook:
		return c.NotebookExecution, nil
	case medallion.AuditKindCopyActivity:
		return c.CopyActivityExecution, nil
	}
	return "", fmt.Errorf("%w: audit kind %q", medallion.ErrInvalidArgument, kind)
}

type tableDef struct {
	name        string
	columns     []string
	constraints []string
	indexes     []string
}

func (t tableDef) statements() []string {
	lines := make([]string, 0, len(t.columns)+len(t.constraints))
	lines = append(lines, t.columns...)
	lines = append(lines, t.constraints...)
	out := []string{fmt.Sprintf("CREATE TABLE %s (\n    %s\n)", t.name, strings.Join(lines, ",\n    "))}
	return append(out, t.indexes...)
}

func fk(column, parent string) string {
	return fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s(id)", column, parent)
}

func uniqueIndex(table, suffix, columns string) string {
	return fmt.Sprintf("CREATE UNIQUE INDEX ux_%s_%s ON %s (%s)", table, suffix, table, columns)
}

func index(table, suffix, columns string) string {
	return fmt.Sprintf("CREATE INDEX ix_%s_%s ON %s (%s)", table, suffix, table, columns)
}

// openUnitIndex returns the columns and index statement that keep at most one
// unprocessed tracker row per (entity, unit).
func openUnitIndex(d Dialect, table, columns string) (extraColumn string, stmt string) {
	if d == MySQL {
		return "open_marker TINYINT GENERATED ALWAYS AS (IF(is_processed = 0, 1, NULL)) STORED",
			uniqueIndex(table, "open", columns+", open_marker")
	}
	return "", fmt.Sprintf("CREATE UNIQUE INDEX ux_%s_open ON %s (%s) WHERE %s", table, table, columns, d.openFilter())
}

func schema(d Dialect, c TableConfig) []tableDef {
	ty := d.types()
	name := ty.varchar(256)
	typ := ty.varchar(64)
	schemaName := ty.varchar(128)
	path := ty.varchar(255)
	nn := func(t string) string { return t + " NOT NULL" }

	audit := func(table string) tableDef {
		return tableDef{
			name: table,
			columns: []string{
				"id " + ty.id,
				"workspace_id " + nn(ty.uuid),
				"pipeline_run_guid " + nn(ty.uuid),
				"pipeline_parent_run_guid " + nn(ty.uuid),
				"object_id " + nn(ty.uuid),
				"object_name " + nn(name),
				"entity_id " + nn(ty.bigint),
				"entity_layer " + nn(ty.varchar(16)),
				"pipeline_parameters " + nn(ty.text),
				"trigger_type " + nn(typ),
				"trigger_guid " + nn(ty.uuid),
				"trigger_time " + ty.timestamp + " NULL",
				"log_type " + nn(ty.varchar(8)),
				"log_datetime " + nn(ty.timestamp),
				"log_data " + nn(ty.text),
			},
			constraints: []string{"CHECK (log_type IN ('Start', 'End', 'Fail'))"},
			indexes:     []string{index(table, "run", "pipeline_run_guid, log_datetime")},
		}
	}

	landingOpenCol, landingOpenIdx := openUnitIndex(d, c.PipelineLandingzoneEntity, "landingzone_entity_id, file_path, file_name")
	bronzeOpenCol, bronzeOpenIdx := openUnitIndex(d, c.PipelineBronzeLayerEntity, "bronze_layer_entity_id, schema_name, table_name")

	pipelineLanding := tableDef{
		name: c.PipelineLandingzoneEntity,
		columns: []string{
			"id " + ty.id,
			"landingzone_entity_id " + nn(ty.bigint),
			"file_path " + nn(path),
			"file_name " + nn(path),
			"is_processed " + nn(ty.boolean),
			"insert_datetime " + nn(ty.timestamp),
			"load_end_datetime " + ty.timestamp + " NULL",
		},
		constraints: []string{fk("landingzone_entity_id", c.LandingzoneEntity)},
		indexes: []string{
			landingOpenIdx,
			index(c.PipelineLandingzoneEntity, "entity", "landingzone_entity_id, is_processed"),
		},
	}
	pipelineBronze := tableDef{
		name: c.PipelineBronzeLayerEntity,
		columns: []string{
			"id " + ty.id,
			"bronze_layer_entity_id " + nn(ty.bigint),
			"schema_name " + nn(schemaName),
			"table_name " + nn(name),
			"is_processed " + nn(ty.boolean),
			"insert_datetime " + nn(ty.timestamp),
			"load_end_datetime " + ty.timestamp + " NULL",
		},
		constraints: []string{fk("bronze_layer_entity_id", c.BronzeLayerEntity)},
		indexes: []string{
			bronzeOpenIdx,
			index(c.PipelineBronzeLayerEntity, "entity", "bronze_layer_entity_id, is_processed"),
		},
	}
	if landingOpenCol != "" {
		pipelineLanding.columns = append(pipelineLanding.columns, landingOpenCol)
		pipelineBronze.columns = append(pipelineBronze.columns, bronzeOpenCol)
	}

	return []tableDef{
		{
			name: c.Workspace,
			columns: []string{
				"id " + ty.id,
				"external_id " + nn(ty.uuid),
				"name " + nn(name),
				"is_active " + nn(ty.boolean),
				"created_at " + nn(ty.timestamp),
				"updated_at " + nn(ty.timestamp),
			},
			indexes: []string{uniqueIndex(c.Workspace, "external_id", "external_id")},
		},
		{
			name: c.Lakehouse,
			columns: []string{
				"id " + ty.id,
				"external_id " + nn(ty.uuid),
				"workspace_id " + nn(ty.bigint),
				"name " + nn(name),
				"is_active " + nn(ty.boolean),
				"created_at " + nn(ty.timestamp),
				"updated_at " + nn(ty.timestamp),
			},
			constraints: []string{fk("workspace_id", c.Workspace)},
			indexes:     []string{uniqueIndex(c.Lakehouse, "external_id", "external_id")},
		},
		{
			name: c.Connection,
			columns: []string{
				"id " + ty.id,
				"external_id " + nn(ty.uuid),
				"name " + nn(name),
				"type " + nn(typ),
				"is_active " + nn(ty.boolean),
				"created_at " + nn(ty.timestamp),
				"updated_at " + nn(ty.timestamp),
			},
			indexes: []string{uniqueIndex(c.Connection, "external_id", "external_id")},
		},
		{
			name: c.DataSource,
			columns: []string{
				"id " + ty.id,
				"external_id " + nn(ty.uuid),
				"connection_id " + nn(ty.bigint),
				"name " + nn(name),
				"namespace " + nn(name),
				"type " + nn(typ),
				"description " + nn(ty.text),
				"is_active " + nn(ty.boolean),
				"created_at " + nn(ty.timestamp),
				"updated_at " + nn(ty.timestamp),
			},
			constraints: []string{fk("connection_id", c.Connection)},
			indexes:     []string{uniqueIndex(c.DataSource, "external_id", "external_id")},
		},
		{
			name: c.LandingzoneEntity,
			columns: []string{
				"id " + ty.id,
				"data_source_id " + nn(ty.bigint),
				"lakehouse_id " + nn(ty.bigint),
				"source_schema " + nn(schemaName),
				"source_name " + nn(name),
				"file_path " + nn(path),
				"file_name " + nn(path),
				"file_type " + nn(ty.varchar(32)),
				"is_incremental " + nn(ty.boolean),
				"incremental_column " + nn(schemaName),
				"is_active " + nn(ty.boolean),
				"created_at " + nn(ty.timestamp),
				"updated_at " + nn(ty.timestamp),
			},
			constraints: []string{fk("data_source_id", c.DataSource), fk("lakehouse_id", c.Lakehouse)},
			indexes:     []string{uniqueIndex(c.LandingzoneEntity, "natural_key", "source_schema, source_name, data_source_id")},
		},
		{
			name: c.BronzeLayerEntity,
			columns: []string{
				"id " + ty.id,
				"landingzone_entity_id " + nn(ty.bigint),
				"lakehouse_id " + nn(ty.bigint),
				"schema_name " + nn(schemaName),
				"name " + nn(name),
				"primary_keys " + nn(ty.text),
				"file_type " + nn(ty.varchar(32)),
				"cleansing_rules " + nn(ty.text),
				"is_active " + nn(ty.boolean),
				"created_at " + nn(ty.timestamp),
				"updated_at " + nn(ty.timestamp),
			},
			constraints: []string{fk("landingzone_entity_id", c.LandingzoneEntity), fk("lakehouse_id", c.Lakehouse)},
			indexes:     []string{uniqueIndex(c.BronzeLayerEntity, "natural_key", "lakehouse_id, schema_name, name")},
		},
		{
			name: c.SilverLayerEntity,
			columns: []string{
				"id " + ty.id,
				"bronze_layer_entity_id " + nn(ty.bigint),
				"lakehouse_id " + nn(ty.bigint),
				"schema_name " + nn(schemaName),
				"name " + nn(name),
				"file_type " + nn(ty.varchar(32)),
				"cleansing_rules " + nn(ty.text),
				"is_active " + nn(ty.boolean),
				"created_at " + nn(ty.timestamp),
				"updated_at " + nn(ty.timestamp),
			},
			constraints: []string{fk("bronze_layer_entity_id", c.BronzeLayerEntity), fk("lakehouse_id", c.Lakehouse)},
			indexes:     []string{uniqueIndex(c.SilverLayerEntity, "natural_key", "lakehouse_id, schema_name, name")},
		},
		{
			name: c.LastLoadValue,
			columns: []string{
				"id " + ty.id,
				"landingzone_entity_id " + nn(ty.bigint),
				"load_value " + nn(ty.varchar(512)),
				"updated_at " + nn(ty.timestamp),
			},
			constraints: []string{fk("landingzone_entity_id", c.LandingzoneEntity)},
			indexes:     []string{uniqueIndex(c.LastLoadValue, "entity", "landingzone_entity_id")},
		},
		pipelineLanding,
		pipelineBronze,
		{
			name: c.DispatchClaim,
			columns: []string{
				"id " + ty.id,
				"layer " + nn(ty.varchar(16)),
				"entity_id " + nn(ty.bigint),
				"unit_row_id " + nn(ty.bigint),
				"owner " + nn(typ),
				"claimed_at " + nn(ty.timestamp),
			},
			indexes: []string{uniqueIndex(c.DispatchClaim, "key", "layer, entity_id, unit_row_id")},
		},
		audit(c.PipelineExecution),
		audit(c.NotebookExecution),
		audit(c.CopyActivityExecution),
		{
			name: c.MigrationLog,
			columns: []string{
				"id " + ty.id,
				"phase " + nn(typ),
				"schema_name " + nn(schemaName),
				"table_name " + nn(name),
				"operation " + nn(typ),
				"status " + nn(ty.varchar(16)),
				"rows_processed " + nn(ty.bigint),
				"duration_seconds " + nn(ty.float),
				"file_size_mb " + nn(ty.float),
				"error_number " + nn(ty.integer),
				"error_message " + nn(ty.text),
				"error_severity " + nn(ty.integer),
				"logged_at " + nn(ty.timestamp),
				"execution_sequence " + nn(ty.bigint),
			},
			indexes: []string{uniqueIndex(c.MigrationLog, "sequence", "phase, operation, execution_sequence")},
		},
		{
			name: c.DataLoadValidation,
			columns: []string{
				"id " + ty.id,
				"schema_name " + nn(schemaName),
				"table_name " + nn(name),
				"source_count " + nn(ty.bigint),
				"target_count " + nn(ty.bigint),
				"variance_pct " + nn(ty.float),
				"status " + nn(ty.varchar(8)),
				"validated_at " + nn(ty.timestamp),
			},
		},
		{
			name: c.TableSizeAnalysis,
			columns: []string{
				"id " + ty.id,
				"schema_name " + nn(schemaName),
				"table_name " + nn(name),
				"row_count " + nn(ty.bigint),
				"size_mb " + nn(ty.float),
				"size_gb " + nn(ty.float),
				"recommend_compression " + nn(ty.boolean),
				"recommend_partitioning " + nn(ty.boolean),
				"analyzed_at " + nn(ty.timestamp),
			},
		},
	}
}

// MigrationUp returns the statements that create every table and index, in dependency order.
// Statements are meant to be executed one at a time.
func MigrationUp(d Dialect, config TableConfig) []string {
	var out []string
	for _, t := range schema(d, config) {
		out = append(out, t.statements()...)
	}
	return out
}

// MigrationDown returns the statements that drop every table, children first.
func MigrationDown(d Dialect, config TableConfig) []string {
	tables := config.all()
	out := make([]string, 0, len(tables))
	for i := len(tables) - 1; i >= 0; i-- {
		out = append(out, fmt.Sprintf("DROP TABLE IF EXISTS %s", tables[i]))
	}
	return out
}
