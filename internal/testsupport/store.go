package testsupport

import (
	"context"
	"path/filepath"
	"testing"

	"voxpipe/internal/config"
	"voxpipe/internal/contenthash"
	"voxpipe/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// EnqueueFile hashes path and enqueues it as a canonical recording.
func EnqueueFile(t testing.TB, store *queue.Store, path string, durationSeconds float64) *queue.Item {
	t.Helper()

	digest, err := contenthash.File(path)
	if err != nil {
		t.Fatalf("hash %s: %v", path, err)
	}
	outcome, item, err := store.Enqueue(context.Background(), queue.EnqueueInput{
		ID:              digest.ID,
		SourcePath:      path,
		FileName:        filepath.Base(path),
		SizeBytes:       digest.Size,
		DurationSeconds: durationSeconds,
	})
	if err != nil {
		t.Fatalf("store.Enqueue: %v", err)
	}
	if !outcome.Appended() {
		t.Fatalf("expected new item for %s, got %s", path, outcome)
	}
	return item
}
