package executor

import (
	"context"
	"time"

	"github.com/getpup/medallion"
	"github.com/getpup/medallion/dispatch"
	"github.com/getpup/medallion/store"
	"github.com/google/uuid"
)

// Runner executes one instruction, for example by triggering a notebook run, and
// returns when the execution has finished.
// This interface allows for mock implementations in tests.
type Runner interface {
	Run(ctx context.Context, item Item) (Outcome, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, item Item) (Outcome, error)

// Run calls f(ctx, item).
func (f RunnerFunc) Run(ctx context.Context, item Item) (Outcome, error) {
	return f(ctx, item)
}

// Item is one instruction of a cycle.
type Item struct {
	Layer       medallion.Layer
	RunID       uuid.UUID
	EntityID    int64
	Instruction dispatch.Instruction

	key         string
	claim       medallion.ClaimKey
	workspaceID uuid.UUID
	ready       func(ctx context.Context) (bool, error)
	complete    func(ctx context.Context, out Outcome) error
}

// Outcome is what a Runner reports about a successful execution. Every field is optional.
type Outcome struct {
	// LastLoadValue is the new watermark of an incremental landing extraction.
	LastLoadValue string `json:"last_load_value,omitempty"`

	// FilePath and FileName override the landing file the extraction produced.
	FilePath string `json:"file_path,omitempty"`
	FileName string `json:"file_name,omitempty"`

	// Schema and Table override the bronze table the load produced.
	Schema string `json:"schema,omitempty"`
	Table  string `json:"table,omitempty"`

	// Log is stored as the audit log data of the End event.
	Log string `json:"log,omitempty"`
}

// Work provides the ready rows of every layer.
type Work interface {
	Targets() dispatch.Targets
	ReadyLanding(ctx context.Context) ([]store.LandingReadyRow, error)
	ReadyBronze(ctx context.Context) ([]store.BronzeReadyRow, error)
	ReadySilver(ctx context.Context) ([]store.SilverReadyRow, error)
}

// Tracker records produced and consumed units and arbitrates which executor runs a unit.
type Tracker interface {
	RegisterOrUpdateLanding(ctx context.Context, entityID int64, unit medallion.LandingUnit, isProcessed bool) (medallion.PipelineLandingzoneEntity, error)
	RegisterOrUpdateBronze(ctx context.Context, entityID int64, unit medallion.BronzeUnit, isProcessed bool) (medallion.PipelineBronzeLayerEntity, error)
	Claim(ctx context.Context, key medallion.ClaimKey, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key medallion.ClaimKey, owner string) error
	UnitOpen(ctx context.Context, layer medallion.Layer, rowID int64) (bool, error)
}

// Checkpoints reads and advances landing watermarks.
type Checkpoints interface {
	Watermark(ctx context.Context, landingEntityID int64) (value string, found bool, err error)
	SetLastLoadValue(ctx context.Context, landingEntityID int64, value string) error
}

// Auditor records execution events.
type Auditor interface {
	Record(event medallion.AuditEvent) error
}
