package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/getpup/medallion"
	"github.com/google/uuid"
)

// AppendAuditEvent stamps LogDateTime and appends the event to the table of its kind.
func (s *Store) AppendAuditEvent(ctx context.Context, event medallion.AuditEvent) (medallion.AuditEvent, error) {
	if !event.Kind.Valid() {
		return medallion.AuditEvent{}, fmt.Errorf("%w: audit kind %q", medallion.ErrInvalidArgument, event.Kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	event.ID = s.nextID("audit_" + string(event.Kind))
	event.LogDateTime = s.now()
	s.audit[event.Kind] = append(s.audit[event.Kind], event)
	return event, nil
}

// ListAuditEvents returns events of a kind ordered by LogDateTime, then id.
func (s *Store) ListAuditEvents(ctx context.Context, kind medallion.AuditKind, runID uuid.UUID) ([]medallion.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []medallion.AuditEvent
	for _, e := range s.audit[kind] {
		if runID != uuid.Nil && e.PipelineRunGUID != runID {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].LogDateTime.Equal(out[j].LogDateTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].LogDateTime.Before(out[j].LogDateTime)
	})
	return out, nil
}
