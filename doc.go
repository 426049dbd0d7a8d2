// Package medallion is a metadata-driven orchestration layer for a Landing, Bronze and Silver
// data lake pipeline.
//
// It does not move data. It records the deployment topology and the medallion chain of
// every entity, keeps one incremental watermark per landing entity, tracks which landing
// files and bronze tables have already been consumed by the next layer, and turns that
// state into ordered work instructions for external executors. Every external execution
// is recorded in an append-only audit log.
//
// The root package holds the shared record types and errors. Storage lives in store,
// store/memory and store/sqlstore; the services built on top of it are registry,
// checkpoint, tracker, dispatch and audit. The transfer package is a standalone framework
// for one-time bulk migrations.
package medallion
