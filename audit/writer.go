// Package audit is the append-only execution log writer.
//
// Writer is injected into whatever runs external executions. Recording an event only
// enqueues it; a background loop appends it to the store. Store failures and a full
// buffer are logged and counted but never reach the caller, so auditing cannot abort
// the work it describes.
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/getpup/medallion"
	"github.com/getpup/medallion/metrics"
	"github.com/getpup/medallion/store"
	"github.com/google/uuid"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
)

// Error is the error class of this package.
var Error = errs.Class("audit")

const (
	// DefaultBufferSize is the number of events queued before new ones are dropped.
	DefaultBufferSize = 256

	// DefaultWriteTimeout bounds a single append to the store.
	DefaultWriteTimeout = 5 * time.Second
)

// Config holds configuration for the Writer.
type Config struct {
	Store store.AuditStore

	// BufferSize defaults to DefaultBufferSize.
	BufferSize int

	// WriteTimeout defaults to DefaultWriteTimeout.
	WriteTimeout time.Duration

	// Logger is optional. Defaults to zap.NewNop().
	Logger *zap.Logger

	// Metrics is optional.
	Metrics *metrics.Collector
}

// Writer appends audit events asynchronously.
type Writer struct {
	store        store.AuditStore
	writeTimeout time.Duration
	logger       *zap.Logger
	metrics      *metrics.Collector

	events chan medallion.AuditEvent
	done   chan struct{}

	mu      sync.RWMutex
	closed  bool
	running bool
}

// New creates a Writer. Call Run to start appending and Close to flush and stop.
func New(cfg Config) *Writer {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Writer{
		store:        cfg.Store,
		writeTimeout: cfg.WriteTimeout,
		logger:       cfg.Logger.Named("audit"),
		metrics:      cfg.Metrics,
		events:       make(chan medallion.AuditEvent, cfg.BufferSize),
		done:         make(chan struct{}),
	}
}

// Run appends queued events until Close is called or ctx is done.
// Events still queued at that point are flushed before Run returns.
func (w *Writer) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return Error.New("writer already running")
	}
	w.running = true
	w.mu.Unlock()
	defer close(w.done)

	for {
		select {
		case ev, ok := <-w.events:
			if !ok {
				return nil
			}
			w.write(ev)
		case <-ctx.Done():
			w.shutdown()
			w.drain()
			return ctx.Err()
		}
	}
}

// Close stops accepting events and waits until every queued event has been written.
func (w *Writer) Close() error {
	w.shutdown()

	w.mu.RLock()
	running := w.running
	w.mu.RUnlock()

	if running {
		<-w.done
		return nil
	}
	w.drain()
	return nil
}

// Record queues an event. It fails only on invalid input or after Close; a full buffer
// drops the event.
func (w *Writer) Record(event medallion.AuditEvent) error {
	if !event.Kind.Valid() {
		return fmt.Errorf("%w: unknown audit kind %q", medallion.ErrInvalidArgument, event.Kind)
	}
	if !event.LogType.Valid() {
		return fmt.Errorf("%w: unknown log type %q", medallion.ErrInvalidArgument, event.LogType)
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return medallion.ErrClosed
	}

	select {
	case w.events <- event:
	default:
		w.metrics.IncAuditDropped()
		w.logger.Warn("audit buffer full, event dropped",
			zap.String("kind", string(event.Kind)),
			zap.String("logType", string(event.LogType)),
			zap.Stringer("runID", event.PipelineRunGUID))
	}
	return nil
}

// RecordPipelineEvent queues a pipeline execution event.
func (w *Writer) RecordPipelineEvent(event medallion.AuditEvent) error {
	event.Kind = medallion.AuditKindPipeline
	return w.Record(event)
}

// RecordNotebookEvent queues a notebook execution event.
func (w *Writer) RecordNotebookEvent(event medallion.AuditEvent) error {
	event.Kind = medallion.AuditKindNotebook
	return w.Record(event)
}

// RecordCopyActivityEvent queues a copy activity execution event.
func (w *Writer) RecordCopyActivityEvent(event medallion.AuditEvent) error {
	event.Kind = medallion.AuditKindCopyActivity
	return w.Record(event)
}

// History returns the events of a kind ordered by log time. A zero runID returns every run.
func (w *Writer) History(ctx context.Context, kind medallion.AuditKind, runID uuid.UUID) ([]medallion.AuditEvent, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown audit kind %q", medallion.ErrInvalidArgument, kind)
	}
	return w.store.ListAuditEvents(ctx, kind, runID)
}

func (w *Writer) shutdown() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	w.closed = true
	close(w.events)
}

// drain writes every event left in the closed channel.
func (w *Writer) drain() {
	for ev := range w.events {
		w.write(ev)
	}
}

// write appends one event under its own timeout, so events of a cancelled execution are still written.
func (w *Writer) write(event medallion.AuditEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), w.writeTimeout)
	defer cancel()

	if _, err := w.store.AppendAuditEvent(ctx, event); err != nil {
		w.metrics.IncAuditFailures()
		w.logger.Warn("failed to append audit event",
			zap.String("kind", string(event.Kind)),
			zap.String("logType", string(event.LogType)),
			zap.Stringer("runID", event.PipelineRunGUID),
			zap.Error(err))
		return
	}
	w.metrics.IncAuditEvents(string(event.Kind), string(event.LogType))
}
