package executor

import (
	"context"
	"sync"
)

// MockRunner is a mock implementation of Runner for testing.
type MockRunner struct {
	mu       sync.Mutex
	RunFunc  func(ctx context.Context, item Item) (Outcome, error)
	RunCalls []Item
}

var _ Runner = (*MockRunner)(nil)

// NewMockRunner creates a new MockRunner with an empty call history.
func NewMockRunner() *MockRunner {
	return &MockRunner{
		RunCalls: make([]Item, 0),
	}
}

// Run implements the Runner interface.
// It records the item, then:
// - If RunFunc is set, calls and returns it
// - Otherwise, reports success with an empty Outcome
func (m *MockRunner) Run(ctx context.Context, item Item) (Outcome, error) {
	m.mu.Lock()
	m.RunCalls = append(m.RunCalls, item)
	m.mu.Unlock()

	if m.RunFunc != nil {
		return m.RunFunc(ctx, item)
	}
	return Outcome{}, nil
}

// Calls returns a copy of the call history.
func (m *MockRunner) Calls() []Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Item(nil), m.RunCalls...)
}

// Reset clears the call history.
func (m *MockRunner) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RunCalls = make([]Item, 0)
}
