package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/getpup/medallion"
	"github.com/getpup/medallion/store"
	"github.com/jmoiron/sqlx"
)

const (
	landingColumns = `id, data_source_id, lakehouse_id, source_schema, source_name, file_path, file_name,
		file_type, is_incremental, incremental_column, is_active, created_at, updated_at`
	bronzeColumns = `id, landingzone_entity_id, lakehouse_id, schema_name, name, primary_keys, file_type,
		cleansing_rules, is_active, created_at, updated_at`
	silverColumns = `id, bronze_layer_entity_id, lakehouse_id, schema_name, name, file_type,
		cleansing_rules, is_active, created_at, updated_at`
)

// UpsertLandingzoneEntity is keyed by (SourceSchema, SourceName, DataSourceID).
func (s *Store) UpsertLandingzoneEntity(ctx context.Context, e medallion.LandingzoneEntity) (int64, error) {
	return s.upsert(ctx, upsertSpec{
		op:        "upsert landing entity",
		table:     s.tables.LandingzoneEntity,
		where:     "source_schema = ? AND source_name = ? AND data_source_id = ?",
		whereArgs: []interface{}{e.SourceSchema, e.SourceName, e.DataSourceID},
		columns: []string{
			"source_schema", "source_name", "data_source_id",
			"lakehouse_id", "file_path", "file_name", "file_type", "is_incremental", "incremental_column", "is_active",
		},
		args: []interface{}{
			e.SourceSchema, e.SourceName, e.DataSourceID,
			e.LakehouseID, e.FilePath, e.FileName, e.FileType, e.IsIncremental, e.IncrementalColumn, e.IsActive,
		},
		keyColumns: 3,
	})
}

// UpsertBronzeLayerEntity is keyed by (LakehouseID, Schema, Name).
func (s *Store) UpsertBronzeLayerEntity(ctx context.Context, e medallion.BronzeLayerEntity) (int64, error) {
	return s.upsert(ctx, upsertSpec{
		op:        "upsert bronze entity",
		table:     s.tables.BronzeLayerEntity,
		where:     "lakehouse_id = ? AND schema_name = ? AND name = ?",
		whereArgs: []interface{}{e.LakehouseID, e.Schema, e.Name},
		columns: []string{
			"lakehouse_id", "schema_name", "name",
			"landingzone_entity_id", "primary_keys", "file_type", "cleansing_rules", "is_active",
		},
		args: []interface{}{
			e.LakehouseID, e.Schema, e.Name,
			e.LandingzoneEntityID, e.PrimaryKeys, e.FileType, e.CleansingRules, e.IsActive,
		},
		keyColumns: 3,
	})
}

// UpsertSilverLayerEntity is keyed by (LakehouseID, Schema, Name).
func (s *Store) UpsertSilverLayerEntity(ctx context.Context, e medallion.SilverLayerEntity) (int64, error) {
	return s.upsert(ctx, upsertSpec{
		op:        "upsert silver entity",
		table:     s.tables.SilverLayerEntity,
		where:     "lakehouse_id = ? AND schema_name = ? AND name = ?",
		whereArgs: []interface{}{e.LakehouseID, e.Schema, e.Name},
		columns: []string{
			"lakehouse_id", "schema_name", "name",
			"bronze_layer_entity_id", "file_type", "cleansing_rules", "is_active",
		},
		args: []interface{}{
			e.LakehouseID, e.Schema, e.Name,
			e.BronzeLayerEntityID, e.FileType, e.CleansingRules, e.IsActive,
		},
		keyColumns: 3,
	})
}

// LandingzoneEntityID returns 0 and a nil error if the natural key is not registered.
func (s *Store) LandingzoneEntityID(ctx context.Context, sourceSchema, sourceName string, dataSourceID int64) (int64, error) {
	query := s.db.Rebind(fmt.Sprintf(`
		SELECT id FROM %s
		WHERE source_schema = ? AND source_name = ? AND data_source_id = ?
	`, s.tables.LandingzoneEntity))

	id, err := lookupID(ctx, s.db, query, sourceSchema, sourceName, dataSourceID)
	return id, classify("look up landing entity", err)
}

// BronzeLayerEntityID returns 0 and a nil error if the natural key is not registered.
func (s *Store) BronzeLayerEntityID(ctx context.Context, lakehouseID int64, schema, name string) (int64, error) {
	query := s.db.Rebind(fmt.Sprintf(`
		SELECT id FROM %s
		WHERE lakehouse_id = ? AND schema_name = ? AND name = ?
	`, s.tables.BronzeLayerEntity))

	id, err := lookupID(ctx, s.db, query, lakehouseID, schema, name)
	return id, classify("look up bronze entity", err)
}

// SilverLayerEntityID returns 0 and a nil error if the natural key is not registered.
func (s *Store) SilverLayerEntityID(ctx context.Context, lakehouseID int64, schema, name string) (int64, error) {
	query := s.db.Rebind(fmt.Sprintf(`
		SELECT id FROM %s
		WHERE lakehouse_id = ? AND schema_name = ? AND name = ?
	`, s.tables.SilverLayerEntity))

	id, err := lookupID(ctx, s.db, query, lakehouseID, schema, name)
	return id, classify("look up silver entity", err)
}

// getByID scans the row with the given id into dest, mapping no rows to medallion.ErrNotFound.
func (s *Store) getByID(ctx context.Context, op string, dest interface{}, columns, table string, id int64) error {
	query := s.db.Rebind(fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", columns, table))

	err := sqlx.GetContext(ctx, s.db, dest, query, id)
	if err == sql.ErrNoRows {
		return medallion.ErrNotFound
	}
	return classify(op, err)
}

func (s *Store) GetLandingzoneEntity(ctx context.Context, id int64) (medallion.LandingzoneEntity, error) {
	var row landingRow
	if err := s.getByID(ctx, "get landing entity", &row, landingColumns, s.tables.LandingzoneEntity, id); err != nil {
		return medallion.LandingzoneEntity{}, err
	}
	return row.entity(), nil
}

func (s *Store) GetBronzeLayerEntity(ctx context.Context, id int64) (medallion.BronzeLayerEntity, error) {
	var row bronzeRow
	if err := s.getByID(ctx, "get bronze entity", &row, bronzeColumns, s.tables.BronzeLayerEntity, id); err != nil {
		return medallion.BronzeLayerEntity{}, err
	}
	return row.entity(), nil
}

func (s *Store) GetSilverLayerEntity(ctx context.Context, id int64) (medallion.SilverLayerEntity, error) {
	var row silverRow
	if err := s.getByID(ctx, "get silver entity", &row, silverColumns, s.tables.SilverLayerEntity, id); err != nil {
		return medallion.SilverLayerEntity{}, err
	}
	return row.entity(), nil
}

// ListLandingzoneEntities returns entities ordered by id.
func (s *Store) ListLandingzoneEntities(ctx context.Context, activeOnly bool) ([]medallion.LandingzoneEntity, error) {
	query := fmt.Sprintf("SELECT %s FROM %s", landingColumns, s.tables.LandingzoneEntity)
	var args []interface{}
	if activeOnly {
		query += " WHERE is_active = ?"
		args = append(args, true)
	}
	query += " ORDER BY id"

	var rows []landingRow
	if err := sqlx.SelectContext(ctx, s.db, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, classify("list landing entities", err)
	}

	out := make([]medallion.LandingzoneEntity, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.entity())
	}
	return out, nil
}

// SetEntityActive flips the tombstone of an entity in the given layer.
func (s *Store) SetEntityActive(ctx context.Context, layer medallion.Layer, id int64, active bool) error {
	var table string
	switch layer {
	case medallion.LayerLanding:
		table = s.tables.LandingzoneEntity
	case medallion.LayerBronze:
		table = s.tables.BronzeLayerEntity
	case medallion.LayerSilver:
		table = s.tables.SilverLayerEntity
	default:
		return fmt.Errorf("%w: %q", store.ErrUnknownLayer, layer)
	}

	query := s.db.Rebind(fmt.Sprintf("UPDATE %s SET is_active = ?, updated_at = ? WHERE id = ?", table))
	result, err := s.db.ExecContext(ctx, query, active, s.timestamp(), id)
	if err != nil {
		return classify("set "+string(layer)+" entity active", err)
	}
	return requireAffected(result)
}
