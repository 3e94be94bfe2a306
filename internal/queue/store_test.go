package queue_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"voxpipe/internal/queue"
)

func openStore(t *testing.T) *queue.Store {
	t.Helper()
	store, err := queue.OpenPath(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func input(id string) queue.EnqueueInput {
	return queue.EnqueueInput{
		ID:              id,
		SourcePath:      "/watch/" + id + ".m4a",
		FileName:        id + ".m4a",
		SizeBytes:       2048,
		DurationSeconds: 61.5,
	}
}

func TestEnqueueIsIdempotent(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	outcome, item, err := store.Enqueue(ctx, input("aaaaaaaaaaaa"))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if outcome != queue.OutcomeQueued || item.Status != queue.StatusPending {
		t.Fatalf("unexpected first enqueue: %s %s", outcome, item.Status)
	}

	for i := 0; i < 3; i++ {
		outcome, item, err = store.Enqueue(ctx, input("aaaaaaaaaaaa"))
		if err != nil {
			t.Fatalf("repeat Enqueue: %v", err)
		}
		if outcome != queue.OutcomeAlreadyQueued {
			t.Fatalf("expected already_queued, got %s", outcome)
		}
	}

	events, err := store.Events(ctx)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected exactly one event, got %d", len(events))
	}
	if item.DurationSeconds != 61.5 || item.Duration() != 61500*time.Millisecond {
		t.Fatalf("unexpected duration %v", item.DurationSeconds)
	}
}

func TestEnqueueOutcomesFollowStatus(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	mustEnqueue(t, store, "bbbbbbbbbbbb")
	if _, err := store.MarkProcessing(ctx, "bbbbbbbbbbbb", "req-1"); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	if outcome, _, _ := store.Enqueue(ctx, input("bbbbbbbbbbbb")); outcome != queue.OutcomeAlreadyQueued {
		t.Fatalf("processing item should report already_queued, got %s", outcome)
	}
	if _, err := store.MarkDone(ctx, "bbbbbbbbbbbb", "results/req-1.json#bbbbbbbbbbbb"); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}
	if outcome, _, _ := store.Enqueue(ctx, input("bbbbbbbbbbbb")); outcome != queue.OutcomeAlreadyDone {
		t.Fatalf("done item should report already_done, got %s", outcome)
	}

	mustEnqueue(t, store, "cccccccccccc")
	if _, err := store.MarkFailed(ctx, "cccccccccccc", "unprobeable"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	outcome, item, err := store.Enqueue(ctx, input("cccccccccccc"))
	if err != nil {
		t.Fatalf("Enqueue failed item: %v", err)
	}
	if outcome != queue.OutcomePreviouslyFailed || item.Status != queue.StatusFailed {
		t.Fatalf("failed item must stay failed on re-detection, got %s %s", outcome, item.Status)
	}
}

func TestFailedItemOnlyRetriesThroughRequeue(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	mustEnqueue(t, store, "dddddddddddd")
	if _, err := store.MarkFailed(ctx, "dddddddddddd", "provider exhausted"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if _, err := store.MarkProcessing(ctx, "dddddddddddd", "req-2"); !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition for failed item, got %v", err)
	}
	item, err := store.Requeue(ctx, "dddddddddddd", "operator retry")
	if err != nil {
		t.Fatalf("Requeue: %v", err)
	}
	if item.Status != queue.StatusPending || item.RetryCount != 1 || item.Error != "" {
		t.Fatalf("unexpected requeued item: %+v", item)
	}
	if _, err := store.Requeue(ctx, "dddddddddddd", "again"); !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("requeue of pending item must fail, got %v", err)
	}
}

func TestTransitionsRejectIllegalMoves(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	mustEnqueue(t, store, "eeeeeeeeeeee")

	if _, err := store.MarkDone(ctx, "eeeeeeeeeeee", "ref"); !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("pending -> done must be rejected, got %v", err)
	}
	if _, err := store.Release(ctx, "eeeeeeeeeeee", "x"); !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("release of pending must be rejected, got %v", err)
	}
	if _, err := store.MarkProcessing(ctx, "ffffffffffff", "req"); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	item, err := store.MarkProcessing(ctx, "eeeeeeeeeeee", "req-9")
	if err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	if item.RequestID != "req-9" || item.Attempts != 1 {
		t.Fatalf("unexpected processing item: %+v", item)
	}
	item, err = store.Release(ctx, "eeeeeeeeeeee", "request write failed")
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if item.Status != queue.StatusPending || item.RequestID != "" {
		t.Fatalf("unexpected released item: %+v", item)
	}
}

func TestEnqueueRejectsMalformedInput(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	if _, _, err := store.Enqueue(ctx, input("short")); !errors.Is(err, queue.ErrInvalidItem) {
		t.Fatalf("expected invalid item, got %v", err)
	}
	in := input("abcabcabcabc")
	in.SourcePath = ""
	if _, _, err := store.Enqueue(ctx, in); !errors.Is(err, queue.ErrInvalidItem) {
		t.Fatalf("expected invalid item for missing path, got %v", err)
	}
}

func TestReplayReproducesState(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	ok := requireOK(t)
	ids := []string{"111111111111", "222222222222", "333333333333"}
	for _, id := range ids {
		mustEnqueue(t, store, id)
	}
	ok(store.MarkProcessing(ctx, ids[0], "req-a"))
	ok(store.MarkDone(ctx, ids[0], "ref-a"))
	ok(store.MarkFailed(ctx, ids[1], "bad"))
	ok(store.Requeue(ctx, ids[1], "retry"))
	ok(store.MarkProcessing(ctx, ids[1], "req-b"))

	first, err := store.Replay(ctx)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	events, err := store.Events(ctx)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	second, err := queue.Fold(events)
	if err != nil {
		t.Fatalf("Fold: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatal("replay is not deterministic")
	}

	// Reopen from disk and fold again.
	path := store.Path()
	_ = store.Close()
	reopened, err := queue.OpenPath(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	third, err := reopened.Replay(ctx)
	if err != nil {
		t.Fatalf("Replay after reopen: %v", err)
	}
	if len(third) != 3 {
		t.Fatalf("expected 3 items, got %d", len(third))
	}
	for id, item := range first {
		other := third[id]
		if other == nil || other.Status != item.Status || other.LastSeq != item.LastSeq || other.RetryCount != item.RetryCount {
			t.Fatalf("state mismatch for %s: %+v vs %+v", id, item, other)
		}
	}
	if third[ids[0]].Status != queue.StatusDone || third[ids[1]].Status != queue.StatusProcessing || third[ids[2]].Status != queue.StatusPending {
		t.Fatalf("unexpected final states: %s %s %s", third[ids[0]].Status, third[ids[1]].Status, third[ids[2]].Status)
	}
}

func TestEventLogIsAppendOnly(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	mustEnqueue(t, store, "999999999999")

	db, err := sql.Open("sqlite", store.Path())
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	defer db.Close()
	if _, err := db.ExecContext(ctx, "UPDATE queue_events SET event_type = 'completed'"); err == nil {
		t.Fatal("expected update to be rejected")
	}
	if _, err := db.ExecContext(ctx, "DELETE FROM queue_events"); err == nil {
		t.Fatal("expected delete to be rejected")
	}
	if _, err := db.ExecContext(ctx,
		"INSERT INTO queue_events (event_id, item_id, event_type, created_at) VALUES ('x', '999999999999', 'enqueued', '2026-01-01T00:00:00Z')",
	); err == nil {
		t.Fatal("expected duplicate enqueued event to be rejected")
	}
}

func TestConcurrentEnqueueAcrossStoresYieldsOneEvent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	stores := make([]*queue.Store, 4)
	for i := range stores {
		s, err := queue.OpenPath(path)
		if err != nil {
			t.Fatalf("OpenPath %d: %v", i, err)
		}
		defer s.Close()
		stores[i] = s
	}

	ctx := context.Background()
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = map[queue.EnqueueOutcome]int{}
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(s *queue.Store) {
			defer wg.Done()
			outcome, _, err := s.Enqueue(ctx, input("abcdef123456"))
			if err != nil {
				t.Errorf("Enqueue: %v", err)
				return
			}
			mu.Lock()
			outcomes[outcome]++
			mu.Unlock()
		}(stores[i%len(stores)])
	}
	wg.Wait()

	if outcomes[queue.OutcomeQueued] != 1 {
		t.Fatalf("expected exactly one queued outcome, got %v", outcomes)
	}
	events, err := stores[0].ItemEvents(ctx, "abcdef123456")
	if err != nil {
		t.Fatalf("ItemEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
}

func TestSummaryAndList(t *testing.T) {
	clock := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	store, err := queue.OpenPath(filepath.Join(t.TempDir(), "queue.db"), queue.WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}))
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	ok := requireOK(t)
	for _, id := range []string{"aaaaaaaaaaa1", "aaaaaaaaaaa2", "aaaaaaaaaaa3"} {
		mustEnqueue(t, store, id)
	}
	ok(store.MarkFailed(ctx, "aaaaaaaaaaa2", "unprobeable"))

	summary, err := store.Summary(ctx, 2)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if summary.Total != 3 || summary.Counts[queue.StatusPending] != 2 || summary.Counts[queue.StatusFailed] != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.Counts[queue.StatusDone] != 0 {
		t.Fatalf("expected zero done count to be present")
	}
	if len(summary.Recent) != 2 || summary.Recent[0].ID != "aaaaaaaaaaa2" {
		t.Fatalf("unexpected recent items: %+v", summary.Recent)
	}

	pending, err := store.List(ctx, queue.StatusPending)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != "aaaaaaaaaaa1" || pending[1].ID != "aaaaaaaaaaa3" {
		t.Fatalf("unexpected pending list: %+v", pending)
	}
}

func TestFoldRejectsCorruptHistory(t *testing.T) {
	events := []queue.Event{
		{Seq: 1, ItemID: "aaaaaaaaaaaa", Type: queue.EventCompleted},
	}
	if _, err := queue.Fold(events); !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func mustEnqueue(t *testing.T, store *queue.Store, id string) {
	t.Helper()
	outcome, _, err := store.Enqueue(context.Background(), input(id))
	if err != nil {
		t.Fatalf("Enqueue %s: %v", id, err)
	}
	if outcome != queue.OutcomeQueued {
		t.Fatalf("expected queued for %s, got %s", id, outcome)
	}
}

func requireOK(t *testing.T) func(*queue.Item, error) {
	return func(_ *queue.Item, err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
}
