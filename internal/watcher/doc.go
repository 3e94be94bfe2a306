// Package watcher turns a directory of arriving recordings into queue items.
//
// Each poll lists the watch directory, feeds every candidate through the
// stability detector, and only for stable files runs the media probe, the
// content hasher, the normalization stage and finally an idempotent enqueue.
// Files that are not ready are reported as deferrals with their reason and
// age; files that keep failing the probe are recorded as failed items. The
// stability table is owned by the caller and passed into every poll.
//
// Run wraps PollOnce in a loop woken by a ticker and by fsnotify events, and
// holds an exclusive lock so only one watcher serves a state directory.
package watcher
