package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/getpup/medallion/store"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// maxConflictRetries bounds how often a write is retried after losing a unique-key race.
const maxConflictRetries = 3

// Config configures a Store.
type Config struct {
	// Dialect selects SQL syntax. Required.
	Dialect Dialect

	// Tables overrides the table names. Zero value means DefaultTableConfig("").
	Tables TableConfig

	// Logger is optional. Defaults to zap.NewNop().
	Logger *zap.Logger

	// Now stamps catalog and audit rows. Defaults to time.Now.
	Now func() time.Time
}

// Store is a database/sql implementation of store.Store for PostgreSQL, MySQL, SQLite and SQL Server.
type Store struct {
	db      *sqlx.DB
	dialect Dialect
	tables  TableConfig
	logger  *zap.Logger
	now     func() time.Time
}

var _ store.Store = (*Store)(nil)

// New creates a store with default table names.
func New(db *sql.DB, dialect Dialect) (*Store, error) {
	return NewWithConfig(db, Config{Dialect: dialect})
}

// NewWithConfig creates a store with custom table names, logger and clock.
func NewWithConfig(db *sql.DB, config Config) (*Store, error) {
	if _, err := ParseDialect(string(config.Dialect)); err != nil {
		return nil, err
	}
	if config.Tables == (TableConfig{}) {
		config.Tables = DefaultTableConfig("")
	}
	if err := config.Tables.Validate(); err != nil {
		return nil, err
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Store{
		db:      sqlx.NewDb(db, config.Dialect.DriverName()),
		dialect: config.Dialect,
		tables:  config.Tables,
		logger:  config.Logger,
		now:     config.Now,
	}, nil
}

// Open opens a connection pool for the dialect and verifies it with a ping.
// SQLite connections get foreign key enforcement unless the DSN sets it explicitly,
// in which case Open fails if it is off.
func Open(ctx context.Context, dialect Dialect, dsn string, maxOpenConns int) (*sql.DB, error) {
	if dialect == SQLite {
		dsn = sqliteDSN(dsn)
	}
	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, Error.New("failed to ping %s: %v", dialect, err)
	}
	if dialect == SQLite {
		var enabled int
		if err := db.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&enabled); err != nil {
			_ = db.Close()
			return nil, Error.New("failed to read foreign_keys pragma: %v", err)
		}
		if enabled != 1 {
			_ = db.Close()
			return nil, Error.New("sqlite foreign keys are disabled by the DSN")
		}
	}
	return db, nil
}

// sqliteDSN adds _foreign_keys=on to a SQLite DSN that does not configure foreign keys.
func sqliteDSN(dsn string) string {
	query := ""
	if i := strings.IndexByte(dsn, '?'); i >= 0 {
		query = dsn[i+1:]
	}
	for _, param := range strings.Split(query, "&") {
		name := strings.SplitN(param, "=", 2)[0]
		if name == "_foreign_keys" || name == "_fk" {
			return dsn
		}
	}
	if query == "" && !strings.Contains(dsn, "?") {
		return dsn + "?_foreign_keys=on"
	}
	return dsn + "&_foreign_keys=on"
}

// Migrate creates every table and index. It is not idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range MigrationUp(s.dialect, s.tables) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return Error.New("migration failed: %v\n%s", err, stmt)
		}
	}
	s.logger.Info("schema migrated", zap.String("dialect", string(s.dialect)))
	return nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Tables returns the table names in use.
func (s *Store) Tables() TableConfig {
	return s.tables
}

// timestamp returns the store clock in UTC, truncated to microseconds so every backend round-trips it.
func (s *Store) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// withTx runs fn in a transaction and commits if fn returns nil.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// retryOnConflict runs fn in a fresh transaction until it succeeds, fails with something
// other than a unique violation, or maxConflictRetries is reached.
// A unique violation means a concurrent writer inserted the same key first; the retry observes its row.
func (s *Store) retryOnConflict(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxConflictRetries; attempt++ {
		err = s.withTx(ctx, fn)
		if err == nil || !isUniqueViolation(err) {
			break
		}
		s.logger.Debug("unique conflict, retrying", zap.String("op", op), zap.Int("attempt", attempt))
	}
	return classify(op, err)
}

// insert inserts one row and returns its generated id.
func (s *Store) insert(ctx context.Context, q sqlx.ExtContext, table string, columns []string, args ...interface{}) (int64, error) {
	cols := strings.Join(columns, ", ")
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")

	var id int64
	switch s.dialect {
	case Postgres:
		query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id", table, cols, marks)
		err := q.QueryRowxContext(ctx, q.Rebind(query), args...).Scan(&id)
		return id, err
	case SQLServer:
		query := fmt.Sprintf("INSERT INTO %s (%s) OUTPUT INSERTED.id VALUES (%s)", table, cols, marks)
		err := q.QueryRowxContext(ctx, q.Rebind(query), args...).Scan(&id)
		return id, err
	default:
		query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, cols, marks)
		res, err := q.ExecContext(ctx, q.Rebind(query), args...)
		if err != nil {
			return 0, err
		}
		return res.LastInsertId()
	}
}

// lookupID returns the id selected by query, or 0 if no row matches.
func lookupID(ctx context.Context, q sqlx.QueryerContext, query string, args ...interface{}) (int64, error) {
	var id int64
	err := sqlx.GetContext(ctx, q, &id, query, args...)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return id, err
}

// utc normalizes caller supplied times the same way as timestamp.
func utc(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// nullTime maps the zero time to NULL.
func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return utc(t)
}
