package transfer

import (
	"context"
	"database/sql"

	"github.com/getpup/medallion/store/sqlstore"
	"github.com/jmoiron/sqlx"
)

const tableSizesQuery = `
	SELECT
		s.name AS schema_name,
		t.name AS table_name,
		SUM(p.rows) AS row_count,
		SUM(a.total_pages) * 8.0 / 1024 / 1024 AS size_gb
	FROM sys.tables t
	INNER JOIN sys.schemas s ON t.schema_id = s.schema_id
	INNER JOIN sys.partitions p ON t.object_id = p.object_id
	INNER JOIN sys.allocation_units a ON p.partition_id = a.container_id
	WHERE s.name NOT IN ('sys', 'INFORMATION_SCHEMA', 'migration')
		AND p.index_id IN (0, 1)
	GROUP BY s.name, t.name
	HAVING SUM(p.rows) > 0
	ORDER BY size_gb DESC`

const rowCountsQuery = `
	SELECT
		s.name AS schema_name,
		t.name AS table_name,
		COALESCE(SUM(p.rows), 0) AS row_count
	FROM sys.tables t
	INNER JOIN sys.schemas s ON t.schema_id = s.schema_id
	INNER JOIN sys.partitions p ON t.object_id = p.object_id
	WHERE s.name NOT IN ('sys', 'INFORMATION_SCHEMA', 'migration')
		AND p.index_id IN (0, 1)
	GROUP BY s.name, t.name
	ORDER BY s.name, t.name`

const columnsQuery = `
	SELECT
		c.name AS column_name,
		t.name AS data_type,
		c.max_length,
		c.precision,
		c.scale,
		c.is_nullable
	FROM sys.columns c
	INNER JOIN sys.types t ON c.user_type_id = t.user_type_id
	INNER JOIN sys.tables tbl ON c.object_id = tbl.object_id
	INNER JOIN sys.schemas s ON tbl.schema_id = s.schema_id
	WHERE s.name = ? AND tbl.name = ?
	ORDER BY c.column_id`

// SQLServerCatalog reads table sizes and row counts from the catalog views of a
// SQL Server, Synapse or Fabric warehouse database.
type SQLServerCatalog struct {
	db *sqlx.DB
}

var (
	_ Counter      = (*SQLServerCatalog)(nil)
	_ SizeSource   = (*SQLServerCatalog)(nil)
	_ Execer       = (*SQLServerCatalog)(nil)
	_ ColumnSource = (*SQLServerCatalog)(nil)
)

// NewSQLServerCatalog wraps an open sqlserver connection pool.
func NewSQLServerCatalog(db *sql.DB) *SQLServerCatalog {
	return &SQLServerCatalog{db: sqlx.NewDb(db, sqlstore.SQLServer.DriverName())}
}

// OpenSQLServerCatalog connects to dsn and verifies the connection.
func OpenSQLServerCatalog(ctx context.Context, dsn string) (*SQLServerCatalog, error) {
	db, err := sqlstore.Open(ctx, sqlstore.SQLServer, dsn, 4)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return NewSQLServerCatalog(db), nil
}

// TableSizes returns every non-empty user table, largest first.
func (c *SQLServerCatalog) TableSizes(ctx context.Context) ([]TableSize, error) {
	var sizes []TableSize
	if err := c.db.SelectContext(ctx, &sizes, tableSizesQuery); err != nil {
		return nil, Error.Wrap(err)
	}
	return sizes, nil
}

type rowCount struct {
	Schema string `db:"schema_name"`
	Table  string `db:"table_name"`
	Rows   int64  `db:"row_count"`
}

// RowCounts returns the row count of every user table.
func (c *SQLServerCatalog) RowCounts(ctx context.Context) (map[TableKey]int64, error) {
	var rows []rowCount
	if err := c.db.SelectContext(ctx, &rows, rowCountsQuery); err != nil {
		return nil, Error.Wrap(err)
	}

	out := make(map[TableKey]int64, len(rows))
	for _, r := range rows {
		out[TableKey{Schema: r.Schema, Table: r.Table}] = r.Rows
	}
	return out, nil
}

// Exec runs each batch in order, stopping at the first failure, and returns the rows
// the batches reported as affected.
func (c *SQLServerCatalog) Exec(ctx context.Context, batches ...string) (int64, error) {
	var total int64
	for _, batch := range batches {
		res, err := c.db.ExecContext(ctx, batch)
		if err != nil {
			return total, err
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			total += n
		}
	}
	return total, nil
}

// Columns returns the columns of a table in ordinal order, or none if the table does not exist.
func (c *SQLServerCatalog) Columns(ctx context.Context, schema, table string) ([]Column, error) {
	var cols []Column
	if err := c.db.SelectContext(ctx, &cols, c.db.Rebind(columnsQuery), schema, table); err != nil {
		return nil, Error.Wrap(err)
	}
	return cols, nil
}

// Close closes the connection pool.
func (c *SQLServerCatalog) Close() error {
	return c.db.Close()
}
