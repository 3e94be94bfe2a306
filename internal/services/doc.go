// Package services defines shared utilities consumed by the watcher, the
// dispatch side and the remote daemon.
//
// Key responsibilities:
//   - Context helpers that stamp item IDs, stage names, and work request
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper, and Classify, which sorts
//     failures into transient (defer and retry), fatal (abort at startup) and
//     terminal (record as failed).
//
// Use these helpers when wiring new stage logic so failure handling stays
// uniform across the pipeline.
package services
