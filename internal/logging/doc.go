// Package logging assembles structured slog loggers and formatting helpers used
// across voxpipe.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so pipeline code can tag log
// lines with item IDs, stages, and work request IDs. The package also provides
// a no-op logger for tests and wiring code that cannot fail, plus the
// age-based file retention used for logs and the daemon audio cache.
package logging
