package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/getpup/medallion"
	"github.com/jmoiron/sqlx"
)

type migrationLogRow struct {
	ID                int64     `db:"id"`
	Phase             string    `db:"phase"`
	SchemaName        string    `db:"schema_name"`
	TableName         string    `db:"table_name"`
	Operation         string    `db:"operation"`
	Status            string    `db:"status"`
	RowsProcessed     int64     `db:"rows_processed"`
	DurationSeconds   float64   `db:"duration_seconds"`
	FileSizeMB        float64   `db:"file_size_mb"`
	ErrorNumber       int       `db:"error_number"`
	ErrorMessage      string    `db:"error_message"`
	ErrorSeverity     int       `db:"error_severity"`
	LoggedAt          time.Time `db:"logged_at"`
	ExecutionSequence int64     `db:"execution_sequence"`
}

func (r migrationLogRow) entry() medallion.MigrationLogEntry {
	return medallion.MigrationLogEntry{
		ID:                r.ID,
		Phase:             r.Phase,
		SchemaName:        r.SchemaName,
		TableName:         r.TableName,
		Operation:         r.Operation,
		Status:            medallion.MigrationStatus(r.Status),
		RowsProcessed:     r.RowsProcessed,
		DurationSeconds:   r.DurationSeconds,
		FileSizeMB:        r.FileSizeMB,
		ErrorNumber:       r.ErrorNumber,
		ErrorMessage:      r.ErrorMessage,
		ErrorSeverity:     r.ErrorSeverity,
		LoggedAt:          r.LoggedAt,
		ExecutionSequence: r.ExecutionSequence,
	}
}

type validationRow struct {
	ID          int64     `db:"id"`
	SchemaName  string    `db:"schema_name"`
	TableName   string    `db:"table_name"`
	SourceCount int64     `db:"source_count"`
	TargetCount int64     `db:"target_count"`
	VariancePct float64   `db:"variance_pct"`
	Status      string    `db:"status"`
	ValidatedAt time.Time `db:"validated_at"`
}

type tableSizeRow struct {
	ID                    int64     `db:"id"`
	SchemaName            string    `db:"schema_name"`
	TableName             string    `db:"table_name"`
	RowCount              int64     `db:"row_count"`
	SizeMB                float64   `db:"size_mb"`
	SizeGB                float64   `db:"size_gb"`
	RecommendCompression  bool      `db:"recommend_compression"`
	RecommendPartitioning bool      `db:"recommend_partitioning"`
	AnalyzedAt            time.Time `db:"analyzed_at"`
}

// stamp returns t normalized, or the store clock when t is zero.
func (s *Store) stamp(t time.Time) time.Time {
	if t.IsZero() {
		return s.timestamp()
	}
	return utc(t)
}

// AppendMigrationLog assigns the next ExecutionSequence of (Phase, Operation) and appends the entry.
// Two writers racing for the same sequence collide on the unique index and the loser retries.
func (s *Store) AppendMigrationLog(ctx context.Context, entry medallion.MigrationLogEntry) (medallion.MigrationLogEntry, error) {
	entry.LoggedAt = s.stamp(entry.LoggedAt)

	var out medallion.MigrationLogEntry
	err := s.retryOnConflict(ctx, "append migration log", func(tx *sqlx.Tx) error {
		query := tx.Rebind(fmt.Sprintf(`
			SELECT COALESCE(MAX(execution_sequence), 0) + 1 FROM %s
			WHERE phase = ? AND operation = ?
		`, s.tables.MigrationLog))

		var seq int64
		if err := sqlx.GetContext(ctx, tx, &seq, query, entry.Phase, entry.Operation); err != nil {
			return err
		}

		id, err := s.insert(ctx, tx, s.tables.MigrationLog,
			[]string{
				"phase", "schema_name", "table_name", "operation", "status",
				"rows_processed", "duration_seconds", "file_size_mb",
				"error_number", "error_message", "error_severity",
				"logged_at", "execution_sequence",
			},
			entry.Phase, entry.SchemaName, entry.TableName, entry.Operation, string(entry.Status),
			entry.RowsProcessed, entry.DurationSeconds, entry.FileSizeMB,
			entry.ErrorNumber, entry.ErrorMessage, entry.ErrorSeverity,
			entry.LoggedAt, seq)
		if err != nil {
			return err
		}

		out = entry
		out.ID = id
		out.ExecutionSequence = seq
		return nil
	})
	if err != nil {
		return medallion.MigrationLogEntry{}, err
	}
	return out, nil
}

// ListMigrationLog returns entries ordered by id. Empty phase and operation match everything.
func (s *Store) ListMigrationLog(ctx context.Context, phase, operation string) ([]medallion.MigrationLogEntry, error) {
	query := fmt.Sprintf(`SELECT id, phase, schema_name, table_name, operation, status, rows_processed,
		duration_seconds, file_size_mb, error_number, error_message, error_severity, logged_at, execution_sequence
		FROM %s WHERE 1 = 1`, s.tables.MigrationLog)

	var args []interface{}
	if phase != "" {
		query += " AND phase = ?"
		args = append(args, phase)
	}
	if operation != "" {
		query += " AND operation = ?"
		args = append(args, operation)
	}
	query += " ORDER BY id"

	var rows []migrationLogRow
	if err := sqlx.SelectContext(ctx, s.db, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, classify("list migration log", err)
	}

	out := make([]medallion.MigrationLogEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.entry())
	}
	return out, nil
}

// AppendValidation inserts a row count validation and returns it with its id.
func (s *Store) AppendValidation(ctx context.Context, v medallion.DataLoadValidation) (medallion.DataLoadValidation, error) {
	v.ValidatedAt = s.stamp(v.ValidatedAt)

	id, err := s.insert(ctx, s.db, s.tables.DataLoadValidation,
		[]string{"schema_name", "table_name", "source_count", "target_count", "variance_pct", "status", "validated_at"},
		v.SchemaName, v.TableName, v.SourceCount, v.TargetCount, v.VariancePct, string(v.Status), v.ValidatedAt)
	if err != nil {
		return medallion.DataLoadValidation{}, classify("append validation", err)
	}
	v.ID = id
	return v, nil
}

// ListValidations returns every validation ordered by id.
func (s *Store) ListValidations(ctx context.Context) ([]medallion.DataLoadValidation, error) {
	query := fmt.Sprintf(`SELECT id, schema_name, table_name, source_count, target_count, variance_pct, status, validated_at
		FROM %s ORDER BY id`, s.tables.DataLoadValidation)

	var rows []validationRow
	if err := sqlx.SelectContext(ctx, s.db, &rows, query); err != nil {
		return nil, classify("list validations", err)
	}

	out := make([]medallion.DataLoadValidation, 0, len(rows))
	for _, r := range rows {
		out = append(out, medallion.DataLoadValidation{
			ID:          r.ID,
			SchemaName:  r.SchemaName,
			TableName:   r.TableName,
			SourceCount: r.SourceCount,
			TargetCount: r.TargetCount,
			VariancePct: r.VariancePct,
			Status:      medallion.ValidationStatus(r.Status),
			ValidatedAt: r.ValidatedAt,
		})
	}
	return out, nil
}

// AppendTableSize inserts a table size analysis and returns it with its id.
func (s *Store) AppendTableSize(ctx context.Context, a medallion.TableSizeAnalysis) (medallion.TableSizeAnalysis, error) {
	a.AnalyzedAt = s.stamp(a.AnalyzedAt)

	id, err := s.insert(ctx, s.db, s.tables.TableSizeAnalysis,
		[]string{
			"schema_name", "table_name", "row_count", "size_mb", "size_gb",
			"recommend_compression", "recommend_partitioning", "analyzed_at",
		},
		a.SchemaName, a.TableName, a.RowCount, a.SizeMB, a.SizeGB,
		a.RecommendCompression, a.RecommendPartitioning, a.AnalyzedAt)
	if err != nil {
		return medallion.TableSizeAnalysis{}, classify("append table size", err)
	}
	a.ID = id
	return a, nil
}

// ListTableSizes returns every analysis ordered by id.
func (s *Store) ListTableSizes(ctx context.Context) ([]medallion.TableSizeAnalysis, error) {
	query := fmt.Sprintf(`SELECT id, schema_name, table_name, row_count, size_mb, size_gb,
		recommend_compression, recommend_partitioning, analyzed_at
		FROM %s ORDER BY id`, s.tables.TableSizeAnalysis)

	var rows []tableSizeRow
	if err := sqlx.SelectContext(ctx, s.db, &rows, query); err != nil {
		return nil, classify("list table sizes", err)
	}

	out := make([]medallion.TableSizeAnalysis, 0, len(rows))
	for _, r := range rows {
		out = append(out, medallion.TableSizeAnalysis{
			ID:                    r.ID,
			SchemaName:            r.SchemaName,
			TableName:             r.TableName,
			RowCount:              r.RowCount,
			SizeMB:                r.SizeMB,
			SizeGB:                r.SizeGB,
			RecommendCompression:  r.RecommendCompression,
			RecommendPartitioning: r.RecommendPartitioning,
			AnalyzedAt:            r.AnalyzedAt,
		})
	}
	return out, nil
}
