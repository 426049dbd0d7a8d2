package sqlstore

import (
	"context"
	"fmt"

	"github.com/getpup/medallion"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const auditColumns = `id, workspace_id, pipeline_run_guid, pipeline_parent_run_guid, object_id, object_name,
	entity_id, entity_layer, pipeline_parameters, trigger_type, trigger_guid, trigger_time,
	log_type, log_datetime, log_data`

// AppendAuditEvent stamps LogDateTime and appends the event to the table of its kind.
func (s *Store) AppendAuditEvent(ctx context.Context, event medallion.AuditEvent) (medallion.AuditEvent, error) {
	table, err := s.tables.auditTable(event.Kind)
	if err != nil {
		return medallion.AuditEvent{}, err
	}
	if !event.LogType.Valid() {
		return medallion.AuditEvent{}, fmt.Errorf("%w: log type %q", medallion.ErrInvalidArgument, event.LogType)
	}

	event.LogDateTime = s.timestamp()
	id, err := s.insert(ctx, s.db, table,
		[]string{
			"workspace_id", "pipeline_run_guid", "pipeline_parent_run_guid", "object_id", "object_name",
			"entity_id", "entity_layer", "pipeline_parameters", "trigger_type", "trigger_guid", "trigger_time",
			"log_type", "log_datetime", "log_data",
		},
		event.WorkspaceID, event.PipelineRunGUID, event.PipelineParentRunGUID, event.ObjectID, event.ObjectName,
		event.EntityID, string(event.Layer), event.Parameters, event.TriggerType, event.TriggerGUID, nullTime(event.TriggerTime),
		string(event.LogType), event.LogDateTime, event.LogData)
	if err != nil {
		return medallion.AuditEvent{}, classify("append "+string(event.Kind)+" audit event", err)
	}

	event.ID = id
	if !event.TriggerTime.IsZero() {
		event.TriggerTime = utc(event.TriggerTime)
	}
	return event, nil
}

// ListAuditEvents returns events of a kind ordered by LogDateTime, then id.
// A zero runID returns every run.
func (s *Store) ListAuditEvents(ctx context.Context, kind medallion.AuditKind, runID uuid.UUID) ([]medallion.AuditEvent, error) {
	table, err := s.tables.auditTable(kind)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT %s FROM %s", auditColumns, table)
	var args []interface{}
	if runID != uuid.Nil {
		query += " WHERE pipeline_run_guid = ?"
		args = append(args, runID)
	}
	query += " ORDER BY log_datetime, id"

	var rows []auditRow
	if err := sqlx.SelectContext(ctx, s.db, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, classify("list "+string(kind)+" audit events", err)
	}

	out := make([]medallion.AuditEvent, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.event(kind))
	}
	return out, nil
}
