package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/getpup/medallion"
	"github.com/getpup/medallion/store"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// upsertSpec describes an update-else-insert keyed by a unique column set.
type upsertSpec struct {
	op    string
	table string

	// where selects the existing row, e.g. "external_id = ?".
	where     string
	whereArgs []interface{}

	// columns and args are written on insert; the same columns except keyColumns are set on update.
	columns    []string
	args       []interface{}
	keyColumns int
}

// upsert selects the row by key inside a transaction and updates it in place, or inserts it.
// A concurrent insert of the same key surfaces as a unique violation and the whole
// transaction is retried, so the retry updates the row the other writer created.
func (s *Store) upsert(ctx context.Context, spec upsertSpec) (int64, error) {
	now := s.timestamp()

	var id int64
	err := s.retryOnConflict(ctx, spec.op, func(tx *sqlx.Tx) error {
		var err error
		query := tx.Rebind(fmt.Sprintf("SELECT id FROM %s WHERE %s", spec.table, spec.where))
		id, err = lookupID(ctx, tx, query, spec.whereArgs...)
		if err != nil {
			return err
		}

		if id != 0 {
			set := make([]string, 0, len(spec.columns))
			for _, c := range spec.columns[spec.keyColumns:] {
				set = append(set, c+" = ?")
			}
			set = append(set, "updated_at = ?")
			args := append(append([]interface{}{}, spec.args[spec.keyColumns:]...), now, id)

			update := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", spec.table, strings.Join(set, ", "))
			_, err = tx.ExecContext(ctx, tx.Rebind(update), args...)
			return err
		}

		columns := append(append([]string{}, spec.columns...), "created_at", "updated_at")
		args := append(append([]interface{}{}, spec.args...), now, now)
		id, err = s.insert(ctx, tx, spec.table, columns, args...)
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// UpsertWorkspace inserts the workspace or updates name and active flag in place.
func (s *Store) UpsertWorkspace(ctx context.Context, ws medallion.Workspace) (int64, error) {
	return s.upsert(ctx, upsertSpec{
		op:         "upsert workspace",
		table:      s.tables.Workspace,
		where:      "external_id = ?",
		whereArgs:  []interface{}{ws.ExternalID},
		columns:    []string{"external_id", "name", "is_active"},
		args:       []interface{}{ws.ExternalID, ws.Name, ws.IsActive},
		keyColumns: 1,
	})
}

// UpsertLakehouse inserts or updates a lakehouse.
func (s *Store) UpsertLakehouse(ctx context.Context, lh medallion.Lakehouse) (int64, error) {
	return s.upsert(ctx, upsertSpec{
		op:         "upsert lakehouse",
		table:      s.tables.Lakehouse,
		where:      "external_id = ?",
		whereArgs:  []interface{}{lh.ExternalID},
		columns:    []string{"external_id", "workspace_id", "name", "is_active"},
		args:       []interface{}{lh.ExternalID, lh.WorkspaceID, lh.Name, lh.IsActive},
		keyColumns: 1,
	})
}

// UpsertConnection inserts or updates a connection.
func (s *Store) UpsertConnection(ctx context.Context, conn medallion.Connection) (int64, error) {
	return s.upsert(ctx, upsertSpec{
		op:         "upsert connection",
		table:      s.tables.Connection,
		where:      "external_id = ?",
		whereArgs:  []interface{}{conn.ExternalID},
		columns:    []string{"external_id", "name", "type", "is_active"},
		args:       []interface{}{conn.ExternalID, conn.Name, conn.Type, conn.IsActive},
		keyColumns: 1,
	})
}

// UpsertDataSource inserts or updates a data source.
func (s *Store) UpsertDataSource(ctx context.Context, ds medallion.DataSource) (int64, error) {
	return s.upsert(ctx, upsertSpec{
		op:        "upsert data source",
		table:     s.tables.DataSource,
		where:     "external_id = ?",
		whereArgs: []interface{}{ds.ExternalID},
		columns:   []string{"external_id", "connection_id", "name", "namespace", "type", "description", "is_active"},
		args: []interface{}{
			ds.ExternalID, ds.ConnectionID, ds.Name, ds.Namespace, ds.Type, ds.Description, ds.IsActive,
		},
		keyColumns: 1,
	})
}

func (s *Store) getCatalog(ctx context.Context, op, columns, table string, externalID uuid.UUID) (catalogRow, error) {
	query := s.db.Rebind(fmt.Sprintf(`
		SELECT %s, is_active, created_at, updated_at
		FROM %s
		WHERE external_id = ?
	`, columns, table))

	var row catalogRow
	err := sqlx.GetContext(ctx, s.db, &row, query, externalID)
	if err == sql.ErrNoRows {
		return catalogRow{}, medallion.ErrNotFound
	}
	if err != nil {
		return catalogRow{}, classify(op, err)
	}
	return row, nil
}

// GetWorkspace returns medallion.ErrNotFound if no workspace has the external id.
func (s *Store) GetWorkspace(ctx context.Context, externalID uuid.UUID) (medallion.Workspace, error) {
	row, err := s.getCatalog(ctx, "get workspace", "id, external_id, name", s.tables.Workspace, externalID)
	if err != nil {
		return medallion.Workspace{}, err
	}
	return medallion.Workspace{
		ID:         row.ID,
		ExternalID: row.ExternalID,
		Name:       row.Name,
		IsActive:   row.IsActive,
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
	}, nil
}

// GetLakehouse returns medallion.ErrNotFound if no lakehouse has the external id.
func (s *Store) GetLakehouse(ctx context.Context, externalID uuid.UUID) (medallion.Lakehouse, error) {
	row, err := s.getCatalog(ctx, "get lakehouse", "id, external_id, workspace_id AS parent_id, name", s.tables.Lakehouse, externalID)
	if err != nil {
		return medallion.Lakehouse{}, err
	}
	return medallion.Lakehouse{
		ID:          row.ID,
		ExternalID:  row.ExternalID,
		WorkspaceID: row.ParentID,
		Name:        row.Name,
		IsActive:    row.IsActive,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}, nil
}

// GetConnection returns medallion.ErrNotFound if no connection has the external id.
func (s *Store) GetConnection(ctx context.Context, externalID uuid.UUID) (medallion.Connection, error) {
	row, err := s.getCatalog(ctx, "get connection", "id, external_id, name, type", s.tables.Connection, externalID)
	if err != nil {
		return medallion.Connection{}, err
	}
	return medallion.Connection{
		ID:         row.ID,
		ExternalID: row.ExternalID,
		Name:       row.Name,
		Type:       row.Type,
		IsActive:   row.IsActive,
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
	}, nil
}

// GetDataSource returns medallion.ErrNotFound if no data source has the external id.
func (s *Store) GetDataSource(ctx context.Context, externalID uuid.UUID) (medallion.DataSource, error) {
	row, err := s.getCatalog(ctx, "get data source",
		"id, external_id, connection_id AS parent_id, name, namespace, type, description", s.tables.DataSource, externalID)
	if err != nil {
		return medallion.DataSource{}, err
	}
	return medallion.DataSource{
		ID:           row.ID,
		ExternalID:   row.ExternalID,
		ConnectionID: row.ParentID,
		Name:         row.Name,
		Namespace:    row.Namespace,
		Type:         row.Type,
		Description:  row.Description,
		IsActive:     row.IsActive,
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}, nil
}

// SetCatalogActive flips the tombstone of a catalog record.
// Returns medallion.ErrNotFound if no record of the kind has the external id.
func (s *Store) SetCatalogActive(ctx context.Context, kind store.CatalogKind, externalID uuid.UUID, active bool) error {
	var table string
	switch kind {
	case store.CatalogWorkspace:
		table = s.tables.Workspace
	case store.CatalogLakehouse:
		table = s.tables.Lakehouse
	case store.CatalogConnection:
		table = s.tables.Connection
	case store.CatalogDataSource:
		table = s.tables.DataSource
	default:
		return fmt.Errorf("%w: %q", store.ErrUnknownCatalogKind, kind)
	}

	query := s.db.Rebind(fmt.Sprintf(`
		UPDATE %s
		SET is_active = ?, updated_at = ?
		WHERE external_id = ?
	`, table))

	result, err := s.db.ExecContext(ctx, query, active, s.timestamp(), externalID)
	if err != nil {
		return classify("set "+string(kind)+" active", err)
	}
	return requireAffected(result)
}

// requireAffected returns medallion.ErrNotFound if the statement matched no row.
func requireAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return Error.New("failed to check rows affected: %v", err)
	}
	if rowsAffected == 0 {
		return medallion.ErrNotFound
	}
	return nil
}
