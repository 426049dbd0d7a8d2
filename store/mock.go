package store

import (
	"context"
	"sync"
	"time"

	"github.com/getpup/medallion"
	"github.com/google/uuid"
)

// MockAuditStore is a configurable AuditStore for tests. It records every call and
// returns the configured function's result, or a stamped copy of the event.
type MockAuditStore struct {
	mu sync.RWMutex

	// AppendAuditEventFunc is called by AppendAuditEvent if set.
	AppendAuditEventFunc func(ctx context.Context, event medallion.AuditEvent) (medallion.AuditEvent, error)

	// ListAuditEventsFunc is called by ListAuditEvents if set.
	ListAuditEventsFunc func(ctx context.Context, kind medallion.AuditKind, runID uuid.UUID) ([]medallion.AuditEvent, error)

	AppendAuditEventCalls []medallion.AuditEvent
	ListAuditEventsCalls  []ListAuditEventsCall
}

type ListAuditEventsCall struct {
	Kind  medallion.AuditKind
	RunID uuid.UUID
}

// NewMockAuditStore creates a new mock audit store.
func NewMockAuditStore() *MockAuditStore {
	return &MockAuditStore{}
}

// AppendAuditEvent implements AuditStore.
func (m *MockAuditStore) AppendAuditEvent(ctx context.Context, event medallion.AuditEvent) (medallion.AuditEvent, error) {
	m.mu.Lock()
	m.AppendAuditEventCalls = append(m.AppendAuditEventCalls, event)
	seq := int64(len(m.AppendAuditEventCalls))
	m.mu.Unlock()

	if m.AppendAuditEventFunc != nil {
		return m.AppendAuditEventFunc(ctx, event)
	}

	event.ID = seq
	event.LogDateTime = time.Now()
	return event, nil
}

// ListAuditEvents implements AuditStore.
func (m *MockAuditStore) ListAuditEvents(ctx context.Context, kind medallion.AuditKind, runID uuid.UUID) ([]medallion.AuditEvent, error) {
	m.mu.Lock()
	m.ListAuditEventsCalls = append(m.ListAuditEventsCalls, ListAuditEventsCall{Kind: kind, RunID: runID})
	m.mu.Unlock()

	if m.ListAuditEventsFunc != nil {
		return m.ListAuditEventsFunc(ctx, kind, runID)
	}

	return nil, nil
}

// Appended returns a copy of the events passed to AppendAuditEvent.
func (m *MockAuditStore) Appended() []medallion.AuditEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]medallion.AuditEvent, len(m.AppendAuditEventCalls))
	copy(out, m.AppendAuditEventCalls)
	return out
}

// Reset clears all call tracking data.
func (m *MockAuditStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.AppendAuditEventCalls = nil
	m.ListAuditEventsCalls = nil
}

// MockViewStore is a configurable ViewStore for tests.
type MockViewStore struct {
	mu sync.Mutex

	LandingRows []LandingReadyRow
	BronzeRows  []BronzeReadyRow
	SilverRows  []SilverReadyRow

	// Err is returned by every method if set.
	Err error

	Calls int
}

// ReadyForLandingExtraction implements ViewStore.
func (m *MockViewStore) ReadyForLandingExtraction(_ context.Context) ([]LandingReadyRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls++
	return m.LandingRows, m.Err
}

// ReadyForBronzeLoad implements ViewStore.
func (m *MockViewStore) ReadyForBronzeLoad(_ context.Context) ([]BronzeReadyRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls++
	return m.BronzeRows, m.Err
}

// ReadyForSilverLoad implements ViewStore.
func (m *MockViewStore) ReadyForSilverLoad(_ context.Context) ([]SilverReadyRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls++
	return m.SilverRows, m.Err
}

// MockCheckpointStore is a configurable CheckpointStore for tests.
type MockCheckpointStore struct {
	mu sync.Mutex

	// SetLastLoadValueFunc is called by SetLastLoadValue if set.
	SetLastLoadValueFunc func(ctx context.Context, landingEntityID int64, value string, at time.Time) error

	// GetLastLoadValueFunc is called by GetLastLoadValue if set.
	GetLastLoadValueFunc func(ctx context.Context, landingEntityID int64) (medallion.LastLoadValue, error)

	SetLastLoadValueCalls []medallion.LastLoadValue
}

// SetLastLoadValue implements CheckpointStore.
func (m *MockCheckpointStore) SetLastLoadValue(ctx context.Context, landingEntityID int64, value string, at time.Time) error {
	m.mu.Lock()
	m.SetLastLoadValueCalls = append(m.SetLastLoadValueCalls, medallion.LastLoadValue{
		LandingzoneEntityID: landingEntityID,
		Value:               value,
		UpdatedAt:           at,
	})
	m.mu.Unlock()

	if m.SetLastLoadValueFunc != nil {
		return m.SetLastLoadValueFunc(ctx, landingEntityID, value, at)
	}

	return nil
}

// GetLastLoadValue implements CheckpointStore.
func (m *MockCheckpointStore) GetLastLoadValue(ctx context.Context, landingEntityID int64) (medallion.LastLoadValue, error) {
	if m.GetLastLoadValueFunc != nil {
		return m.GetLastLoadValueFunc(ctx, landingEntityID)
	}

	return medallion.LastLoadValue{}, medallion.ErrNotFound
}
