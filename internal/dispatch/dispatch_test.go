package dispatch_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"voxpipe/internal/contract"
	"voxpipe/internal/dispatch"
	"voxpipe/internal/fileutil"
	"voxpipe/internal/queue"
	"voxpipe/internal/testsupport"
)

func newDispatcher(t *testing.T) (*dispatch.Dispatcher, *queue.Store, *contract.Validator, func(string) *queue.Item) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	validator, err := contract.NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	d := dispatch.New(cfg, store, validator, dispatch.WithClock(func() time.Time {
		return time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	}))
	add := func(name string) *queue.Item {
		path := testsupport.WriteContent(t, filepath.Join(cfg.Paths.WatchDir, name), "audio:"+name)
		return testsupport.EnqueueFile(t, store, path, 60)
	}
	return d, store, validator, add
}

func TestSubmitStagesMediaAndMarksProcessing(t *testing.T) {
	d, store, validator, add := newDispatcher(t)
	first := add("a.m4a")
	second := add("b.m4a")
	third := add("c.m4a")

	report, err := d.Submit(context.Background(), dispatch.SubmitOptions{Limit: 2})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(report.Items) != 2 || report.Items[0].ItemID != first.ID || report.Items[1].ItemID != second.ID {
		t.Fatalf("expected the two oldest items, got %+v", report.Items)
	}

	data, err := os.ReadFile(report.RequestPath)
	if err != nil {
		t.Fatalf("read request: %v", err)
	}
	req, err := validator.DecodeRequest(data)
	if err != nil {
		t.Fatalf("request does not validate: %v", err)
	}
	if req.ID != report.RequestID || req.Params.EffectiveMode() != contract.ModeItems || req.RequestedBy != "test-host" {
		t.Fatalf("unexpected request %+v", req)
	}

	for _, ref := range report.Items {
		staged := filepath.Join(filepath.Dir(filepath.Dir(report.RequestPath)), "media", ref.File)
		if ok, _ := fileutil.Exists(staged); !ok {
			t.Fatalf("expected staged media %s", staged)
		}
		item, err := store.Get(context.Background(), ref.ItemID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if item.Status != queue.StatusProcessing || item.RequestID != report.RequestID {
			t.Fatalf("unexpected item state %+v", item)
		}
	}
	left, err := store.Get(context.Background(), third.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if left.Status != queue.StatusPending {
		t.Fatalf("item beyond the limit must stay pending, got %s", left.Status)
	}
}

func TestSubmitNothingPending(t *testing.T) {
	d, _, _, _ := newDispatcher(t)
	report, err := d.Submit(context.Background(), dispatch.SubmitOptions{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if report.RequestID != "" || len(report.Items) != 0 {
		t.Fatalf("expected empty report, got %+v", report)
	}
}

func TestSubmitDryRunLeavesQueueAlone(t *testing.T) {
	d, store, _, add := newDispatcher(t)
	item := add("a.m4a")
	report, err := d.Submit(context.Background(), dispatch.SubmitOptions{DryRun: true})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(report.Items) != 1 {
		t.Fatalf("expected planned item, got %+v", report)
	}
	if ok, _ := fileutil.Exists(report.RequestPath); ok {
		t.Fatal("dry run must not write a request")
	}
	got, _ := store.Get(context.Background(), item.ID)
	if got.Status != queue.StatusPending {
		t.Fatalf("dry run changed status to %s", got.Status)
	}
}

func TestSubmitReleasesItemsWhenRequestCannotBeWritten(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	validator, err := contract.NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	path := testsupport.WriteContent(t, filepath.Join(cfg.Paths.WatchDir, "a.m4a"), "a")
	item := testsupport.EnqueueFile(t, store, path, 30)

	// Only the contract rejects this quality tier, after the item was marked.
	d := dispatch.New(cfg, store, validator)
	if _, err := d.Submit(context.Background(), dispatch.SubmitOptions{Quality: "ultra"}); err == nil {
		t.Fatal("expected submission to fail")
	}
	got, err := store.Get(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != queue.StatusPending {
		t.Fatalf("expected item released to pending, got %s", got.Status)
	}
	events, _ := store.ItemEvents(context.Background(), item.ID)
	if len(events) != 3 || events[2].Type != queue.EventReleased {
		t.Fatalf("expected enqueued, processing_started, released; got %+v", events)
	}
}

func TestCollectAppliesResults(t *testing.T) {
	d, store, validator, add := newDispatcher(t)
	ok := add("ok.m4a")
	bad := add("bad.m4a")
	skipped := add("skipped.m4a")

	report, err := d.Submit(context.Background(), dispatch.SubmitOptions{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	waiting, err := d.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if waiting.Waiting != 3 || len(waiting.Done) != 0 {
		t.Fatalf("expected all items waiting, got %+v", waiting)
	}

	now := time.Date(2026, 10, 19, 9, 5, 0, 0, time.UTC)
	result := contract.WorkResult{
		ID:             report.RequestID,
		Status:         contract.StatusPartial,
		ProcessedCount: 1,
		Transcripts: []contract.Transcript{{
			File: ok.ID + ".m4a", ItemID: ok.ID, Provider: "groq", Transcript: "hello", TranscribedAt: now.Format(time.RFC3339),
		}},
		Failures:    []contract.Failure{{File: bad.ID + ".m4a", ItemID: bad.ID, Error: "all transcription providers exhausted"}},
		CompletedAt: now,
	}
	data, err := validator.EncodeResult(result)
	if err != nil {
		t.Fatalf("EncodeResult: %v", err)
	}
	resultsDir := filepath.Join(filepath.Dir(filepath.Dir(report.RequestPath)), "results")
	if err := os.WriteFile(filepath.Join(resultsDir, report.RequestID+".json"), data, 0o644); err != nil {
		t.Fatalf("write result: %v", err)
	}

	collected, err := d.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(collected.Done) != 1 || len(collected.Failed) != 1 || len(collected.Released) != 1 {
		t.Fatalf("unexpected collect report %+v", collected)
	}

	checks := map[string]queue.Status{ok.ID: queue.StatusDone, bad.ID: queue.StatusFailed, skipped.ID: queue.StatusPending}
	for id, want := range checks {
		got, err := store.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("Get %s: %v", id, err)
		}
		if got.Status != want {
			t.Fatalf("item %s: got %s want %s", id, got.Status, want)
		}
	}
	done, _ := store.Get(context.Background(), ok.ID)
	if done.ResultRef == "" {
		t.Fatal("expected result reference on done item")
	}

	again, err := d.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(again.Requests) != 0 {
		t.Fatalf("second collect must be a no-op, got %+v", again)
	}
}

func TestSubmitControlWritesCancelRequest(t *testing.T) {
	d, _, validator, _ := newDispatcher(t)
	report, err := d.SubmitControl(context.Background(), contract.ActionCancel, "req-1")
	if err != nil {
		t.Fatalf("SubmitControl: %v", err)
	}
	data, err := os.ReadFile(report.RequestPath)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	req, err := validator.DecodeRequest(data)
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if req.Action != contract.ActionCancel || req.Params.TargetID != "req-1" {
		t.Fatalf("unexpected request %+v", req)
	}
	if _, err := d.SubmitControl(context.Background(), contract.ActionProcess, ""); err == nil {
		t.Fatal("process is not a control action")
	}
}
