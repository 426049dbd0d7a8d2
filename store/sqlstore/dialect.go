package sqlstore

import (
	"fmt"
	"strings"

	"github.com/getpup/medallion"
)

// Dialect names a supported database/sql driver.
type Dialect string

const (
	Postgres  Dialect = "postgres"
	MySQL     Dialect = "mysql"
	SQLite    Dialect = "sqlite3"
	SQLServer Dialect = "sqlserver"
)

// ParseDialect maps a driver name to a Dialect.
func ParseDialect(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "postgres", "postgresql", "pq":
		return Postgres, nil
	case "mysql", "mariadb":
		return MySQL, nil
	case "sqlite3", "sqlite":
		return SQLite, nil
	case "sqlserver", "mssql", "azuresql", "fabric":
		return SQLServer, nil
	}
	return "", fmt.Errorf("%w: unsupported driver %q", medallion.ErrInvalidArgument, driver)
}

// DriverName is the name the driver registers with database/sql.
func (d Dialect) DriverName() string {
	return string(d)
}

// columnTypes holds the physical type of every logical column kind.
type columnTypes struct {
	id        string
	bigint    string
	integer   string
	boolean   string
	timestamp string
	float     string
	uuid      string
	text      string
	varchar   func(n int) string
}

func (d Dialect) types() columnTypes {
	switch d {
	case MySQL:
		return columnTypes{
			id:        "BIGINT AUTO_INCREMENT PRIMARY KEY",
			bigint:    "BIGINT",
			integer:   "INT",
			boolean:   "TINYINT(1)",
			timestamp: "DATETIME(6)",
			float:     "DOUBLE",
			uuid:      "CHAR(36)",
			text:      "LONGTEXT",
			varchar:   func(n int) string { return fmt.Sprintf("VARCHAR(%d)", n) },
		}
	case SQLite:
		return columnTypes{
			id:        "INTEGER PRIMARY KEY AUTOINCREMENT",
			bigint:    "INTEGER",
			integer:   "INTEGER",
			boolean:   "BOOLEAN",
			timestamp: "TIMESTAMP",
			float:     "REAL",
			uuid:      "TEXT",
			text:      "TEXT",
			varchar:   func(int) string { return "TEXT" },
		}
	case SQLServer:
		return columnTypes{
			id:        "BIGINT IDENTITY(1,1) PRIMARY KEY",
			bigint:    "BIGINT",
			integer:   "INT",
			boolean:   "BIT",
			timestamp: "DATETIME2",
			float:     "FLOAT",
			uuid:      "NVARCHAR(36)",
			text:      "NVARCHAR(MAX)",
			varchar:   func(n int) string { return fmt.Sprintf("NVARCHAR(%d)", n) },
		}
	default:
		return columnTypes{
			id:        "BIGSERIAL PRIMARY KEY",
			bigint:    "BIGINT",
			integer:   "INTEGER",
			boolean:   "BOOLEAN",
			timestamp: "TIMESTAMPTZ",
			float:     "DOUBLE PRECISION",
			uuid:      "UUID",
			text:      "TEXT",
			varchar:   func(n int) string { return fmt.Sprintf("VARCHAR(%d)", n) },
		}
	}
}

// openFilter is the predicate of the partial index that keeps one open tracker row per unit.
// MySQL has no partial indexes and uses a generated column instead.
func (d Dialect) openFilter() string {
	if d == Postgres {
		return "is_processed = FALSE"
	}
	return "is_processed = 0"
}
