package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/getpup/medallion"
	"github.com/jmoiron/sqlx"
)

// SetLastLoadValue overwrites the watermark of the entity or inserts the first one.
// The unique index on the entity column keeps a single row per entity.
func (s *Store) SetLastLoadValue(ctx context.Context, landingEntityID int64, value string, at time.Time) error {
	at = utc(at)
	return s.retryOnConflict(ctx, "set last load value", func(tx *sqlx.Tx) error {
		query := tx.Rebind(fmt.Sprintf("SELECT id FROM %s WHERE landingzone_entity_id = ?", s.tables.LastLoadValue))
		id, err := lookupID(ctx, tx, query, landingEntityID)
		if err != nil {
			return err
		}

		if id != 0 {
			update := tx.Rebind(fmt.Sprintf("UPDATE %s SET load_value = ?, updated_at = ? WHERE id = ?", s.tables.LastLoadValue))
			_, err = tx.ExecContext(ctx, update, value, at, id)
			return err
		}

		_, err = s.insert(ctx, tx, s.tables.LastLoadValue,
			[]string{"landingzone_entity_id", "load_value", "updated_at"},
			landingEntityID, value, at)
		return err
	})
}

// GetLastLoadValue returns medallion.ErrNotFound if the entity was never loaded.
func (s *Store) GetLastLoadValue(ctx context.Context, landingEntityID int64) (medallion.LastLoadValue, error) {
	query := s.db.Rebind(fmt.Sprintf(`
		SELECT load_value, updated_at FROM %s WHERE landingzone_entity_id = ?
	`, s.tables.LastLoadValue))

	v := medallion.LastLoadValue{LandingzoneEntityID: landingEntityID}
	err := s.db.QueryRowxContext(ctx, query, landingEntityID).Scan(&v.Value, &v.UpdatedAt)
	if err == sql.ErrNoRows {
		return medallion.LastLoadValue{}, medallion.ErrNotFound
	}
	if err != nil {
		return medallion.LastLoadValue{}, classify("get last load value", err)
	}
	return v, nil
}

// unitTable describes one tracker table.
type unitTable struct {
	name      string
	entityCol string
	key1Col   string
	key2Col   string
}

func (s *Store) landingUnitTable() unitTable {
	return unitTable{
		name:      s.tables.PipelineLandingzoneEntity,
		entityCol: "landingzone_entity_id",
		key1Col:   "file_path",
		key2Col:   "file_name",
	}
}

func (s *Store) bronzeUnitTable() unitTable {
	return unitTable{
		name:      s.tables.PipelineBronzeLayerEntity,
		entityCol: "bronze_layer_entity_id",
		key1Col:   "schema_name",
		key2Col:   "table_name",
	}
}

func (t unitTable) selectColumns() string {
	return fmt.Sprintf("id, %s AS entity_id, %s AS key1, %s AS key2, is_processed, insert_datetime, load_end_datetime",
		t.entityCol, t.key1Col, t.key2Col)
}

// openUnit returns the unprocessed row of a unit, or sql.ErrNoRows.
func (s *Store) openUnit(ctx context.Context, q sqlx.ExtContext, t unitTable, entityID int64, key1, key2 string) (unitRow, error) {
	query := q.Rebind(fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE %s = ? AND %s = ? AND %s = ? AND is_processed = ?
	`, t.selectColumns(), t.name, t.entityCol, t.key1Col, t.key2Col))

	var row unitRow
	err := sqlx.GetContext(ctx, q, &row, query, entityID, key1, key2, false)
	return row, err
}

// register inserts a Registered row unless an open one exists. The open-unit unique index
// turns a concurrent duplicate insert into a unique violation; the retry then finds the winner's row.
func (s *Store) register(ctx context.Context, op string, t unitTable, entityID int64, key1, key2 string, at time.Time) (unitRow, bool, error) {
	at = utc(at)

	var row unitRow
	var created bool
	err := s.retryOnConflict(ctx, op, func(tx *sqlx.Tx) error {
		existing, err := s.openUnit(ctx, tx, t, entityID, key1, key2)
		if err == nil {
			row, created = existing, false
			return nil
		}
		if err != sql.ErrNoRows {
			return err
		}

		id, err := s.insert(ctx, tx, t.name,
			[]string{t.entityCol, t.key1Col, t.key2Col, "is_processed", "insert_datetime"},
			entityID, key1, key2, false, at)
		if err != nil {
			return err
		}
		row = unitRow{ID: id, EntityID: entityID, Key1: key1, Key2: key2, InsertDateTime: at}
		created = true
		return nil
	})
	return row, created, err
}

// complete flips the open row of a unit to Processed, or inserts a Processed row if none is open.
func (s *Store) complete(ctx context.Context, op string, t unitTable, entityID int64, key1, key2 string, at time.Time) (unitRow, error) {
	at = utc(at)

	var row unitRow
	err := s.retryOnConflict(ctx, op, func(tx *sqlx.Tx) error {
		existing, err := s.openUnit(ctx, tx, t, entityID, key1, key2)
		switch {
		case err == nil:
			update := tx.Rebind(fmt.Sprintf(`
				UPDATE %s SET is_processed = ?, load_end_datetime = ?
				WHERE id = ? AND is_processed = ?
			`, t.name))
			// A concurrent completer may have flipped the row first; the unit is processed either way.
			if _, err := tx.ExecContext(ctx, update, true, at, existing.ID, false); err != nil {
				return err
			}
			existing.IsProcessed = true
			existing.LoadEndDateTime = &at
			row = existing
			return nil

		case err == sql.ErrNoRows:
			id, err := s.insert(ctx, tx, t.name,
				[]string{t.entityCol, t.key1Col, t.key2Col, "is_processed", "insert_datetime", "load_end_datetime"},
				entityID, key1, key2, true, at, at)
			if err != nil {
				return err
			}
			row = unitRow{ID: id, EntityID: entityID, Key1: key1, Key2: key2, IsProcessed: true, InsertDateTime: at, LoadEndDateTime: &at}
			return nil

		default:
			return err
		}
	})
	return row, err
}

func (s *Store) listUnits(ctx context.Context, op string, t unitTable, entityID int64) ([]unitRow, error) {
	query := s.db.Rebind(fmt.Sprintf("SELECT %s FROM %s WHERE %s = ? ORDER BY id", t.selectColumns(), t.name, t.entityCol))

	var rows []unitRow
	if err := sqlx.SelectContext(ctx, s.db, &rows, query, entityID); err != nil {
		return nil, classify(op, err)
	}
	return rows, nil
}

// RegisterLandingUnit inserts a Registered row unless an open row for the unit exists.
func (s *Store) RegisterLandingUnit(ctx context.Context, entityID int64, unit medallion.LandingUnit, at time.Time) (medallion.PipelineLandingzoneEntity, bool, error) {
	row, created, err := s.register(ctx, "register landing unit", s.landingUnitTable(), entityID, unit.FilePath, unit.FileName, at)
	if err != nil {
		return medallion.PipelineLandingzoneEntity{}, false, err
	}
	return row.landing(), created, nil
}

// CompleteLandingUnit flips the open row to Processed, or inserts the unit as Processed if none is open.
func (s *Store) CompleteLandingUnit(ctx context.Context, entityID int64, unit medallion.LandingUnit, at time.Time) (medallion.PipelineLandingzoneEntity, error) {
	row, err := s.complete(ctx, "complete landing unit", s.landingUnitTable(), entityID, unit.FilePath, unit.FileName, at)
	if err != nil {
		return medallion.PipelineLandingzoneEntity{}, err
	}
	return row.landing(), nil
}

// LandingUnitSeen reports whether any row exists for the unit.
func (s *Store) LandingUnitSeen(ctx context.Context, entityID int64, unit medallion.LandingUnit) (bool, error) {
	query := s.db.Rebind(fmt.Sprintf(`
		SELECT COUNT(*) FROM %s
		WHERE landingzone_entity_id = ? AND file_path = ? AND file_name = ?
	`, s.tables.PipelineLandingzoneEntity))

	var n int64
	if err := sqlx.GetContext(ctx, s.db, &n, query, entityID, unit.FilePath, unit.FileName); err != nil {
		return false, classify("check landing unit", err)
	}
	return n > 0, nil
}

// RegisterBronzeUnit inserts a Registered row unless an open row for the unit exists.
func (s *Store) RegisterBronzeUnit(ctx context.Context, entityID int64, unit medallion.BronzeUnit, at time.Time) (medallion.PipelineBronzeLayerEntity, bool, error) {
	row, created, err := s.register(ctx, "register bronze unit", s.bronzeUnitTable(), entityID, unit.Schema, unit.Table, at)
	if err != nil {
		return medallion.PipelineBronzeLayerEntity{}, false, err
	}
	return row.bronze(), created, nil
}

// CompleteBronzeUnit flips the open row to Processed, or inserts the unit as Processed if none is open.
func (s *Store) CompleteBronzeUnit(ctx context.Context, entityID int64, unit medallion.BronzeUnit, at time.Time) (medallion.PipelineBronzeLayerEntity, error) {
	row, err := s.complete(ctx, "complete bronze unit", s.bronzeUnitTable(), entityID, unit.Schema, unit.Table, at)
	if err != nil {
		return medallion.PipelineBronzeLayerEntity{}, err
	}
	return row.bronze(), nil
}

// ListLandingUnits returns all rows of an entity ordered by id.
func (s *Store) ListLandingUnits(ctx context.Context, entityID int64) ([]medallion.PipelineLandingzoneEntity, error) {
	rows, err := s.listUnits(ctx, "list landing units", s.landingUnitTable(), entityID)
	if err != nil {
		return nil, err
	}
	out := make([]medallion.PipelineLandingzoneEntity, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.landing())
	}
	return out, nil
}

// ListBronzeUnits returns all rows of an entity ordered by id.
func (s *Store) ListBronzeUnits(ctx context.Context, entityID int64) ([]medallion.PipelineBronzeLayerEntity, error) {
	rows, err := s.listUnits(ctx, "list bronze units", s.bronzeUnitTable(), entityID)
	if err != nil {
		return nil, err
	}
	out := make([]medallion.PipelineBronzeLayerEntity, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.bronze())
	}
	return out, nil
}
