package sqlstore

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/getpup/medallion"
	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	mssql "github.com/microsoft/go-mssqldb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDialect(t *testing.T) {
	cases := map[string]Dialect{
		"postgres":   Postgres,
		"PostgreSQL": Postgres,
		"mysql":      MySQL,
		"mariadb":    MySQL,
		"sqlite":     SQLite,
		"sqlite3":    SQLite,
		"mssql":      SQLServer,
		"fabric":     SQLServer,
	}
	for in, want := range cases {
		got, err := ParseDialect(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseDialect("oracle")
	assert.ErrorIs(t, err, medallion.ErrInvalidArgument)
}

func TestNewWithConfig(t *testing.T) {
	t.Run("default table names", func(t *testing.T) {
		s, err := New(nil, Postgres)
		require.NoError(t, err)
		assert.Equal(t, "medallion_workspace", s.Tables().Workspace)
		assert.Equal(t, "medallion_landingzone_entity_last_load_value", s.Tables().LastLoadValue)
	})

	t.Run("custom prefix", func(t *testing.T) {
		s, err := NewWithConfig(nil, Config{Dialect: SQLite, Tables: DefaultTableConfig("etl_")})
		require.NoError(t, err)
		assert.Equal(t, "etl_pipeline_execution", s.Tables().PipelineExecution)
	})

	t.Run("unknown dialect", func(t *testing.T) {
		_, err := New(nil, Dialect("db2"))
		assert.ErrorIs(t, err, medallion.ErrInvalidArgument)
	})

	t.Run("unsafe table name", func(t *testing.T) {
		tables := DefaultTableConfig("")
		tables.Workspace = "workspace; DROP TABLE x"
		_, err := NewWithConfig(nil, Config{Dialect: Postgres, Tables: tables})
		assert.ErrorIs(t, err, medallion.ErrInvalidArgument)
	})
}

func TestMigrationUp(t *testing.T) {
	config := DefaultTableConfig("")

	for _, d := range []Dialect{Postgres, MySQL, SQLite, SQLServer} {
		t.Run(string(d), func(t *testing.T) {
			stmts := MigrationUp(d, config)
			sql := strings.Join(stmts, ";\n")

			for _, table := range config.all() {
				assert.Contains(t, sql, "CREATE TABLE "+table+" (")
			}
			assert.Contains(t, sql, "CREATE UNIQUE INDEX ux_medallion_workspace_external_id")
			assert.Contains(t, sql, "CREATE UNIQUE INDEX ux_medallion_landingzone_entity_natural_key")
			assert.Contains(t, sql, "CREATE UNIQUE INDEX ux_medallion_landingzone_entity_last_load_value_entity")
			assert.Contains(t, sql, "CREATE UNIQUE INDEX ux_medallion_migration_log_sequence")
			assert.Contains(t, sql, "CREATE UNIQUE INDEX ux_medallion_dispatch_claim_key ON medallion_dispatch_claim (layer, entity_id, unit_row_id)")
			assert.Contains(t, sql, "CHECK (log_type IN ('Start', 'End', 'Fail'))")
			assert.Contains(t, sql, "FOREIGN KEY (workspace_id) REFERENCES medallion_workspace(id)")

			for _, stmt := range stmts {
				assert.NotContains(t, stmt, ";", "statements are executed one at a time")
			}
		})
	}

	t.Run("parents are created before children", func(t *testing.T) {
		sql := strings.Join(MigrationUp(Postgres, config), "\n")
		assert.Less(t, strings.Index(sql, "CREATE TABLE medallion_workspace ("), strings.Index(sql, "CREATE TABLE medallion_lakehouse ("))
		assert.Less(t, strings.Index(sql, "CREATE TABLE medallion_landingzone_entity ("), strings.Index(sql, "CREATE TABLE medallion_bronze_layer_entity ("))
		assert.Less(t, strings.Index(sql, "CREATE TABLE medallion_bronze_layer_entity ("), strings.Index(sql, "CREATE TABLE medallion_pipeline_bronze_layer_entity ("))
	})

	t.Run("open unit index", func(t *testing.T) {
		pg := strings.Join(MigrationUp(Postgres, config), "\n")
		assert.Contains(t, pg, "ON medallion_pipeline_landingzone_entity (landingzone_entity_id, file_path, file_name) WHERE is_processed = FALSE")

		lite := strings.Join(MigrationUp(SQLite, config), "\n")
		assert.Contains(t, lite, "ON medallion_pipeline_bronze_layer_entity (bronze_layer_entity_id, schema_name, table_name) WHERE is_processed = 0")

		my := strings.Join(MigrationUp(MySQL, config), "\n")
		assert.Contains(t, my, "open_marker TINYINT GENERATED ALWAYS AS (IF(is_processed = 0, 1, NULL)) STORED")
		assert.Contains(t, my, "(landingzone_entity_id, file_path, file_name, open_marker)")
		assert.NotContains(t, my, "WHERE is_processed")
	})

	t.Run("dialect types", func(t *testing.T) {
		assert.Contains(t, strings.Join(MigrationUp(Postgres, config), "\n"), "id BIGSERIAL PRIMARY KEY")
		assert.Contains(t, strings.Join(MigrationUp(MySQL, config), "\n"), "id BIGINT AUTO_INCREMENT PRIMARY KEY")
		assert.Contains(t, strings.Join(MigrationUp(SQLite, config), "\n"), "id INTEGER PRIMARY KEY AUTOINCREMENT")
		assert.Contains(t, strings.Join(MigrationUp(SQLServer, config), "\n"), "id BIGINT IDENTITY(1,1) PRIMARY KEY")
	})
}

func TestMigrationDown(t *testing.T) {
	config := DefaultTableConfig("")
	stmts := MigrationDown(SQLite, config)

	require.Len(t, stmts, len(config.all()))
	assert.Equal(t, "DROP TABLE IF EXISTS medallion_table_size_analysis", stmts[0])
	assert.Equal(t, "DROP TABLE IF EXISTS medallion_workspace", stmts[len(stmts)-1])
}

func TestSQLiteDSN(t *testing.T) {
	cases := map[string]string{
		"file:/tmp/m.db":                     "file:/tmp/m.db?_foreign_keys=on",
		"/tmp/m.db":                          "/tmp/m.db?_foreign_keys=on",
		"file:/tmp/m.db?_busy_timeout=5000":  "file:/tmp/m.db?_busy_timeout=5000&_foreign_keys=on",
		"file:/tmp/m.db?_foreign_keys=on":    "file:/tmp/m.db?_foreign_keys=on",
		"file:/tmp/m.db?_fk=1&cache=shared":  "file:/tmp/m.db?_fk=1&cache=shared",
		"file:/tmp/m.db?_foreign_keys=off":   "file:/tmp/m.db?_foreign_keys=off",
		"file::memory:?cache=shared":         "file::memory:?cache=shared&_foreign_keys=on",
	}
	for in, want := range cases {
		assert.Equal(t, want, sqliteDSN(in), in)
	}
}

func TestClassify(t *testing.T) {
	unique := []error{
		&pq.Error{Code: "23505"},
		&mysql.MySQLError{Number: 1062},
		sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique},
		mssql.Error{Number: 2627},
		mssql.Error{Number: 2601},
	}
	for _, driverErr := range unique {
		wrapped := fmt.Errorf("exec: %w", driverErr)
		assert.True(t, isUniqueViolation(wrapped))

		err := classify("upsert workspace", wrapped)
		assert.True(t, medallion.IsConstraint(err))
		assert.ErrorIs(t, err, medallion.ErrConstraint)
	}

	broken := []error{
		&pq.Error{Code: "23503"},
		&mysql.MySQLError{Number: 1452},
		sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintForeignKey},
		mssql.Error{Number: 547},
	}
	for _, driverErr := range broken {
		assert.False(t, isUniqueViolation(driverErr))
		assert.True(t, isForeignKeyViolation(driverErr))
		assert.True(t, medallion.IsConstraint(classify("upsert lakehouse", driverErr)))
	}

	t.Run("passthrough", func(t *testing.T) {
		assert.NoError(t, classify("op", nil))
		assert.Equal(t, medallion.ErrNotFound, classify("op", medallion.ErrNotFound))
	})

	t.Run("unexpected errors are wrapped", func(t *testing.T) {
		cause := errors.New("connection reset")
		err := classify("list validations", cause)
		assert.True(t, Error.Has(err))
		assert.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "failed to list validations")
		assert.False(t, medallion.IsConstraint(err))
	})
}

func TestAuditTable(t *testing.T) {
	config := DefaultTableConfig("")

	table, err := config.auditTable(medallion.AuditKindNotebook)
	require.NoError(t, err)
	assert.Equal(t, "medallion_notebook_execution", table)

	_, err = config.auditTable(medallion.AuditKind("job"))
	assert.ErrorIs(t, err, medallion.ErrInvalidArgument)
}
