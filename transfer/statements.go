package transfer

import (
	"fmt"
	"strings"

	"github.com/getpup/medallion"
	"github.com/getpup/medallion/dispatch"
)

// Defaults of the staging objects shared by extraction and load.
const (
	DefaultDataSource = "MigrationStaging"
	DefaultFileFormat = "ParquetFormat"
	DefaultCredential = "MigrationCredential"
	DefaultMaxErrors  = 10000
)

var tsql = dispatch.QuoteBrackets

// ADLSPath returns the abfss URI of path inside a storage container.
func ADLSPath(account, container, path string) string {
	base := fmt.Sprintf("abfss://%s@%s.dfs.core.windows.net", container, account)
	if path == "" {
		return base
	}
	return base + "/" + strings.TrimPrefix(path, "/")
}

// Location is the folder a table is staged to, relative to the external data source.
func Location(schema, table string) string {
	return schema + "/" + table + "/"
}

// ExternalTableName is the CETAS table created to stage a source table.
func ExternalTableName(table string) string {
	return "ext_" + table + "_migration"
}

// Staging names the external objects through which tables move between the warehouses and the lake.
type Staging struct {
	DataSource string
	FileFormat string
	Credential string

	// MaxErrors is the number of rejected rows COPY INTO tolerates.
	MaxErrors int
}

// DefaultStaging returns the default staging object names.
func DefaultStaging() Staging {
	return Staging{
		DataSource: DefaultDataSource,
		FileFormat: DefaultFileFormat,
		Credential: DefaultCredential,
		MaxErrors:  DefaultMaxErrors,
	}
}

func (st Staging) withDefaults() Staging {
	def := DefaultStaging()
	if st.DataSource == "" {
		st.DataSource = def.DataSource
	}
	if st.FileFormat == "" {
		st.FileFormat = def.FileFormat
	}
	if st.Credential == "" {
		st.Credential = def.Credential
	}
	if st.MaxErrors <= 0 {
		st.MaxErrors = def.MaxErrors
	}
	return st
}

// Setup returns the idempotent batches creating the master key, the managed identity
// credential, the external data source and the parquet file format. An empty
// masterKeyPassword skips the master key.
func (st Staging) Setup(account, container, masterKeyPassword string) []string {
	st = st.withDefaults()
	var batches []string

	if masterKeyPassword != "" {
		batches = append(batches, fmt.Sprintf(`IF NOT EXISTS (SELECT * FROM sys.symmetric_keys WHERE name = '##MS_DatabaseMasterKey##')
BEGIN
    CREATE MASTER KEY ENCRYPTION BY PASSWORD = %s;
END`, tsql.Literal(masterKeyPassword)))
	}

	batches = append(batches,
		fmt.Sprintf(`IF NOT EXISTS (SELECT * FROM sys.database_scoped_credentials WHERE name = %s)
BEGIN
    CREATE DATABASE SCOPED CREDENTIAL %s
    WITH IDENTITY = 'Managed Identity';
END`, tsql.Literal(st.Credential), tsql.Ident(st.Credential)),

		fmt.Sprintf(`IF NOT EXISTS (SELECT * FROM sys.external_data_sources WHERE name = %s)
BEGIN
    CREATE EXTERNAL DATA SOURCE %s
    WITH (
        TYPE = HADOOP,
        LOCATION = %s,
        CREDENTIAL = %s
    );
END`, tsql.Literal(st.DataSource), tsql.Ident(st.DataSource),
			tsql.Literal(ADLSPath(account, container, "")), tsql.Ident(st.Credential)),

		fmt.Sprintf(`IF NOT EXISTS (SELECT * FROM sys.external_file_formats WHERE name = %s)
BEGIN
    CREATE EXTERNAL FILE FORMAT %s
    WITH (
        FORMAT_TYPE = PARQUET,
        DATA_COMPRESSION = 'org.apache.hadoop.io.compress.SnappyCodec'
    );
END`, tsql.Literal(st.FileFormat), tsql.Ident(st.FileFormat)),
	)
	return batches
}

// CETAS returns the batches that drop a previous staging table and export the table to
// Location(schema, table) as parquet.
func (st Staging) CETAS(schema, table string) []string {
	st = st.withDefaults()
	ext := ExternalTableName(table)

	return []string{
		fmt.Sprintf(`IF EXISTS (SELECT * FROM sys.external_tables WHERE name = %s)
    DROP EXTERNAL TABLE %s`, tsql.Literal(ext), tsql.Table(schema, ext)),

		fmt.Sprintf(`CREATE EXTERNAL TABLE %s
WITH (
    LOCATION = %s,
    DATA_SOURCE = %s,
    FILE_FORMAT = %s
)
AS
SELECT * FROM %s`, tsql.Table(schema, ext), tsql.Literal(Location(schema, table)),
			tsql.Ident(st.DataSource), tsql.Ident(st.FileFormat), tsql.Table(schema, table)),
	}
}

// CopyInto returns the statement loading the staged parquet files of a table into the target.
// Rejected rows go to errors/<schema>/<table>/.
func (st Staging) CopyInto(schema, table string) string {
	st = st.withDefaults()
	return fmt.Sprintf(`COPY INTO %s
FROM %s
WITH (
    DATA_SOURCE = %s,
    FILE_TYPE = 'PARQUET',
    MAXERRORS = %d,
    ERRORFILE = %s
)`, tsql.Table(schema, table), tsql.Literal(Location(schema, table)), tsql.Literal(st.DataSource),
		st.MaxErrors, tsql.Literal("errors/"+Location(schema, table)))
}

// EnsureSchema returns the batch creating schema on the target unless it exists.
func EnsureSchema(schema string) string {
	return fmt.Sprintf(`IF NOT EXISTS (SELECT * FROM sys.schemas WHERE name = %s)
BEGIN
    EXEC(%s)
END`, tsql.Literal(schema), tsql.Literal("CREATE SCHEMA "+tsql.Ident(schema)))
}

// DropTable returns the batch dropping a target table if it exists.
func DropTable(schema, table string) string {
	return fmt.Sprintf(`IF EXISTS (SELECT * FROM sys.tables t
          INNER JOIN sys.schemas s ON t.schema_id = s.schema_id
          WHERE s.name = %s AND t.name = %s)
    DROP TABLE %s`, tsql.Literal(schema), tsql.Literal(table), tsql.Table(schema, table))
}

// Column is one column of a source table as read from sys.columns.
type Column struct {
	Name      string `db:"column_name"`
	DataType  string `db:"data_type"`
	MaxLength int    `db:"max_length"`
	Precision int    `db:"precision"`
	Scale     int    `db:"scale"`
	Nullable  bool   `db:"is_nullable"`
}

// TargetType maps the source type to one the target warehouse accepts. MAX types are
// capped at 8000 bytes, and datetime and money types become DATETIME2 and DECIMAL.
func (c Column) TargetType() string {
	switch t := strings.ToLower(c.DataType); t {
	case "varchar", "char", "binary", "varbinary":
		if c.MaxLength == -1 {
			if t == "varchar" || t == "varbinary" {
				return t + "(8000)"
			}
			return t + "(4000)"
		}
		return fmt.Sprintf("%s(%d)", t, c.MaxLength)
	case "nvarchar", "nchar":
		if c.MaxLength == -1 {
			return t + "(4000)"
		}
		// max_length counts bytes; n-types store two bytes per character.
		return fmt.Sprintf("%s(%d)", t, c.MaxLength/2)
	case "decimal", "numeric":
		return fmt.Sprintf("%s(%d,%d)", t, c.Precision, c.Scale)
	case "datetime":
		return "DATETIME2(3)"
	case "smalldatetime":
		return "DATETIME2(0)"
	case "money":
		return "DECIMAL(19,4)"
	case "smallmoney":
		return "DECIMAL(10,4)"
	default:
		return t
	}
}

// CreateTable returns the DDL of a target table with the given source columns.
func CreateTable(schema, table string, columns []Column) (string, error) {
	if len(columns) == 0 {
		return "", fmt.Errorf("%w: %s has no columns", medallion.ErrInvalidArgument, tsql.Table(schema, table))
	}
	defs := make([]string, 0, len(columns))
	for _, c := range columns {
		null := "NULL"
		if !c.Nullable {
			null = "NOT NULL"
		}
		defs = append(defs, fmt.Sprintf("%s %s %s", tsql.Ident(c.Name), c.TargetType(), null))
	}
	return fmt.Sprintf("CREATE TABLE %s (\n    %s\n)", tsql.Table(schema, table), strings.Join(defs, ",\n    ")), nil
}

// UpdateStatistics returns the statement refreshing the statistics of a loaded table.
func UpdateStatistics(schema, table string) string {
	return "UPDATE STATISTICS " + tsql.Table(schema, table)
}
