// Package migrations writes SQL migration files for the orchestration metadata tables:
// the catalog, the medallion chain, watermarks, trackers, audit logs and the transfer log.
// PostgreSQL, MySQL/MariaDB, SQLite and SQL Server are supported.
package migrations
