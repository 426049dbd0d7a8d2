package migrations

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/getpup/medallion/store/sqlstore"
)

var prefixRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// validateConfig ensures the table prefix only contains characters that are safe in SQL identifiers.
func validateConfig(config *Config) error {
	if config.TablePrefix == "" {
		return fmt.Errorf("TablePrefix cannot be empty")
	}
	if !prefixRegex.MatchString(config.TablePrefix) {
		return fmt.Errorf("TablePrefix must start with a letter and contain only letters, numbers, and underscores (got: %s)", config.TablePrefix)
	}
	if config.OutputFilename == "" {
		return fmt.Errorf("OutputFilename cannot be empty")
	}
	return nil
}

// Config configures migration generation for the orchestration metadata tables.
type Config struct {
	// OutputFolder is the directory where the migration file will be written
	OutputFolder string

	// OutputFilename is the name of the migration file
	OutputFilename string

	// TablePrefix is prepended to every table name, e.g. "medallion_" gives medallion_workspace
	TablePrefix string
}

// DefaultConfig returns the default configuration for medallion migrations.
func DefaultConfig() Config {
	timestamp := time.Now().Format("20060102150405")
	return Config{
		OutputFolder:   "migrations",
		OutputFilename: fmt.Sprintf("%s_init_medallion.sql", timestamp),
		TablePrefix:    "medallion_",
	}
}

// GeneratePostgres generates a PostgreSQL migration file.
func GeneratePostgres(config *Config) error {
	return generate(config, sqlstore.Postgres, "PostgreSQL")
}

// GenerateMySQL generates a MySQL/MariaDB migration file.
// The generated file relies on generated columns and needs MySQL 5.7 or MariaDB 10.2.
func GenerateMySQL(config *Config) error {
	return generate(config, sqlstore.MySQL, "MySQL/MariaDB")
}

// GenerateSQLite generates a SQLite migration file.
func GenerateSQLite(config *Config) error {
	return generate(config, sqlstore.SQLite, "SQLite")
}

// GenerateSQLServer generates a SQL Server / Azure SQL migration file.
func GenerateSQLServer(config *Config) error {
	return generate(config, sqlstore.SQLServer, "SQL Server")
}

// Generate writes the migration file for a dialect name accepted by sqlstore.ParseDialect.
func Generate(config *Config, adapter string) error {
	d, err := sqlstore.ParseDialect(adapter)
	if err != nil {
		return err
	}
	switch d {
	case sqlstore.MySQL:
		return GenerateMySQL(config)
	case sqlstore.SQLite:
		return GenerateSQLite(config)
	case sqlstore.SQLServer:
		return GenerateSQLServer(config)
	default:
		return GeneratePostgres(config)
	}
}

func generate(config *Config, d sqlstore.Dialect, database string) error {
	if err := validateConfig(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	tables := sqlstore.DefaultTableConfig(config.TablePrefix)
	if err := tables.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := os.MkdirAll(config.OutputFolder, 0o755); err != nil {
		return fmt.Errorf("failed to create output folder: %w", err)
	}

	sql := generateSQL(d, tables, database)

	outputPath := filepath.Join(config.OutputFolder, config.OutputFilename)
	if err := os.WriteFile(outputPath, []byte(sql), 0o600); err != nil {
		return fmt.Errorf("failed to write migration file: %w", err)
	}

	return nil
}

func generateSQL(d sqlstore.Dialect, tables sqlstore.TableConfig, database string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "-- Medallion Orchestration Metadata Migration\n")
	fmt.Fprintf(&b, "-- Generated: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(&b, "-- Database: %s\n", database)

	for _, stmt := range sqlstore.MigrationUp(d, tables) {
		b.WriteString("\n")
		b.WriteString(stmt)
		b.WriteString(";\n")
	}
	return b.String()
}
