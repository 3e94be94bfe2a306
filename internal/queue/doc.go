// Package queue persists ingest items as an append-only event log in SQLite and
// derives their current state by folding those events.
//
// Rows in queue_events are never updated or deleted (triggers abort such
// statements); every state change is a new event. Item state is computed by
// Fold, so replaying the log from the start always reproduces the same view.
//
// Items are keyed by the content-hash identifier. Enqueue is idempotent: an
// identifier that already has a pending, processing, or done record is a
// no-op, and one recorded as failed stays failed until an operator appends an
// explicit requeue event. Each write runs its read-fold-append sequence inside
// an immediate transaction so concurrent writers cannot both act on the same
// stale view.
//
// Schema changes bump the version in schema.go; users clear the database to
// adopt the new schema.
package queue
