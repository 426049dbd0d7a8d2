package sqlstore

import (
	"context"
	"fmt"

	"github.com/getpup/medallion/store"
	"github.com/jmoiron/sqlx"
)

type landingReadyRow struct {
	store.LandingReadyRow
	LastLoad *string `db:"last_load_value"`
}

// ReadyForLandingExtraction returns one row per active landing entity whose data source, connection,
// target lakehouse and workspace are active.
func (s *Store) ReadyForLandingExtraction(ctx context.Context) ([]store.LandingReadyRow, error) {
	t := s.tables
	query := s.db.Rebind(fmt.Sprintf(`
		SELECT
			le.id AS landingzone_entity_id,
			ds.id AS data_source_id,
			ds.name AS data_source_name,
			ds.namespace AS data_source_namespace,
			ds.type AS data_source_type,
			c.external_id AS connection_id,
			c.type AS connection_type,
			le.source_schema,
			le.source_name,
			le.file_path,
			le.file_name,
			le.file_type,
			le.is_incremental,
			le.incremental_column,
			lv.load_value AS last_load_value,
			lh.external_id AS target_lakehouse_id,
			ws.external_id AS target_workspace_id
		FROM %s le
		JOIN %s ds ON ds.id = le.data_source_id
		JOIN %s c ON c.id = ds.connection_id
		JOIN %s lh ON lh.id = le.lakehouse_id
		JOIN %s ws ON ws.id = lh.workspace_id
		LEFT JOIN %s lv ON lv.landingzone_entity_id = le.id
		WHERE le.is_active = ? AND ds.is_active = ? AND c.is_active = ?
			AND lh.is_active = ? AND ws.is_active = ?
		ORDER BY le.id
	`, t.LandingzoneEntity, t.DataSource, t.Connection, t.Lakehouse, t.Workspace, t.LastLoadValue))

	var rows []landingReadyRow
	if err := sqlx.SelectContext(ctx, s.db, &rows, query, true, true, true, true, true); err != nil {
		return nil, classify("read landing work", err)
	}

	out := make([]store.LandingReadyRow, 0, len(rows))
	for _, r := range rows {
		row := r.LandingReadyRow
		if r.LastLoad != nil {
			row.LastLoadValue = *r.LastLoad
			row.HasLastLoadValue = true
		}
		out = append(out, row)
	}
	return out, nil
}

// ReadyForBronzeLoad returns one row per unprocessed landing unit and active bronze entity fed by it,
// skipping inactive lakehouses and workspaces, ordered by bronze entity id, then tracker row id.
func (s *Store) ReadyForBronzeLoad(ctx context.Context) ([]store.BronzeReadyRow, error) {
	t := s.tables
	query := s.db.Rebind(fmt.Sprintf(`
		SELECT
			b.id AS bronze_layer_entity_id,
			le.id AS landingzone_entity_id,
			p.id AS pipeline_landingzone_entity_id,
			p.file_path AS source_file_path,
			p.file_name AS source_file_name,
			le.source_schema,
			le.source_name,
			ds.namespace AS data_source_namespace,
			b.schema_name AS target_schema,
			b.name AS target_name,
			b.primary_keys,
			b.file_type,
			b.cleansing_rules,
			le.is_incremental,
			slh.external_id AS source_lakehouse_id,
			sws.external_id AS source_workspace_id,
			tlh.external_id AS target_lakehouse_id,
			tws.external_id AS target_workspace_id
		FROM %s p
		JOIN %s le ON le.id = p.landingzone_entity_id
		JOIN %s b ON b.landingzone_entity_id = le.id
		JOIN %s ds ON ds.id = le.data_source_id
		JOIN %s slh ON slh.id = le.lakehouse_id
		JOIN %s sws ON sws.id = slh.workspace_id
		JOIN %s tlh ON tlh.id = b.lakehouse_id
		JOIN %s tws ON tws.id = tlh.workspace_id
		WHERE p.is_processed = ? AND b.is_active = ? AND le.is_active = ?
			AND slh.is_active = ? AND sws.is_active = ? AND tlh.is_active = ? AND tws.is_active = ?
		ORDER BY b.id, p.id
	`, t.PipelineLandingzoneEntity, t.LandingzoneEntity, t.BronzeLayerEntity, t.DataSource,
		t.Lakehouse, t.Workspace, t.Lakehouse, t.Workspace))

	var rows []store.BronzeReadyRow
	if err := sqlx.SelectContext(ctx, s.db, &rows, query, false, true, true, true, true, true, true); err != nil {
		return nil, classify("read bronze work", err)
	}
	return rows, nil
}

// ReadyForSilverLoad returns one row per unprocessed bronze unit and active silver entity fed by it,
// skipping inactive lakehouses and workspaces, ordered by silver entity id, then tracker row id.
func (s *Store) ReadyForSilverLoad(ctx context.Context) ([]store.SilverReadyRow, error) {
	t := s.tables
	query := s.db.Rebind(fmt.Sprintf(`
		SELECT
			sv.id AS silver_layer_entity_id,
			b.id AS bronze_layer_entity_id,
			p.id AS pipeline_bronze_layer_entity_id,
			p.schema_name AS source_schema,
			p.table_name AS source_name,
			sv.schema_name AS target_schema,
			sv.name AS target_name,
			b.primary_keys,
			sv.file_type,
			sv.cleansing_rules,
			le.is_incremental,
			slh.external_id AS source_lakehouse_id,
			sws.external_id AS source_workspace_id,
			tlh.external_id AS target_lakehouse_id,
			tws.external_id AS target_workspace_id
		FROM %s p
		JOIN %s b ON b.id = p.bronze_layer_entity_id
		JOIN %s sv ON sv.bronze_layer_entity_id = b.id
		JOIN %s le ON le.id = b.landingzone_entity_id
		JOIN %s slh ON slh.id = b.lakehouse_id
		JOIN %s sws ON sws.id = slh.workspace_id
		JOIN %s tlh ON tlh.id = sv.lakehouse_id
		JOIN %s tws ON tws.id = tlh.workspace_id
		WHERE p.is_processed = ? AND sv.is_active = ? AND b.is_active = ?
			AND slh.is_active = ? AND sws.is_active = ? AND tlh.is_active = ? AND tws.is_active = ?
		ORDER BY sv.id, p.id
	`, t.PipelineBronzeLayerEntity, t.BronzeLayerEntity, t.SilverLayerEntity, t.LandingzoneEntity,
		t.Lakehouse, t.Workspace, t.Lakehouse, t.Workspace))

	var rows []store.SilverReadyRow
	if err := sqlx.SelectContext(ctx, s.db, &rows, query, false, true, true, true, true, true, true); err != nil {
		return nil, classify("read silver work", err)
	}
	return rows, nil
}
