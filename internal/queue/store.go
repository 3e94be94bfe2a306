package queue

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"voxpipe/internal/contenthash"
)

// Enqueue appends an enqueued event for a newly stable file unless the
// identifier already has history. The returned item is the current state in
// every case.
func (s *Store) Enqueue(ctx context.Context, in EnqueueInput) (EnqueueOutcome, *Item, error) {
	if !contenthash.Valid(in.ID) {
		return "", nil, fmt.Errorf("%w: identifier %q", ErrInvalidItem, in.ID)
	}
	if strings.TrimSpace(in.SourcePath) == "" {
		return "", nil, fmt.Errorf("%w: source path required", ErrInvalidItem)
	}

	var (
		outcome EnqueueOutcome
		item    *Item
	)
	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		current, err := loadItem(ctx, tx, in.ID)
		if err != nil {
			return err
		}
		if current != nil {
			item = current
			switch current.Status {
			case StatusDone:
				outcome = OutcomeAlreadyDone
			case StatusFailed:
				outcome = OutcomePreviouslyFailed
			default:
				outcome = OutcomeAlreadyQueued
			}
			return nil
		}

		ev := Event{
			ItemID: in.ID,
			Type:   EventEnqueued,
			Payload: Payload{
				SourcePath:      in.SourcePath,
				FileName:        norm.NFC.String(in.FileName),
				NormalizedPath:  in.NormalizedPath,
				SizeBytes:       in.SizeBytes,
				DurationSeconds: in.DurationSeconds,
			},
		}
		if err := s.insertEvent(ctx, tx, &ev); err != nil {
			return err
		}
		item, err = Apply(nil, ev)
		outcome = OutcomeQueued
		return err
	})
	if err != nil {
		return "", nil, err
	}
	return outcome, item, nil
}

// MarkProcessing records that a pending item was handed off under requestID.
func (s *Store) MarkProcessing(ctx context.Context, id, requestID string) (*Item, error) {
	return s.transition(ctx, id, EventProcessingStarted, Payload{RequestID: requestID})
}

// Release returns a processing item to pending, for example when its work
// request could not be written.
func (s *Store) Release(ctx context.Context, id, reason string) (*Item, error) {
	return s.transition(ctx, id, EventReleased, Payload{Reason: reason})
}

// MarkDone records the successful result reference for a processing item.
func (s *Store) MarkDone(ctx context.Context, id, resultRef string) (*Item, error) {
	return s.transition(ctx, id, EventCompleted, Payload{ResultRef: resultRef})
}

// MarkFailed records a terminal failure for a pending or processing item.
func (s *Store) MarkFailed(ctx context.Context, id, reason string) (*Item, error) {
	return s.transition(ctx, id, EventFailed, Payload{Reason: reason})
}

// Requeue is the explicit operator action that moves a failed item back to
// pending. Nothing in the pipeline calls it automatically.
func (s *Store) Requeue(ctx context.Context, id, reason string) (*Item, error) {
	return s.transition(ctx, id, EventRequeued, Payload{Reason: reason})
}

// Get returns the current state of id.
func (s *Store) Get(ctx context.Context, id string) (*Item, error) {
	ctx = ensureContext(ctx)
	item, err := loadItem(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return item, nil
}

// Lookup returns the current state of id, or nil when it has no history.
func (s *Store) Lookup(ctx context.Context, id string) (*Item, error) {
	return loadItem(ensureContext(ctx), s.db, id)
}

// Events returns the full log in append order.
func (s *Store) Events(ctx context.Context) ([]Event, error) {
	ctx = ensureContext(ctx)
	events, err := queryEvents(ctx, s.db, "SELECT "+eventColumns+" FROM queue_events ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	return events, nil
}

// ItemEvents returns the history of a single identifier.
func (s *Store) ItemEvents(ctx context.Context, id string) ([]Event, error) {
	ctx = ensureContext(ctx)
	return queryEvents(ctx, s.db, "SELECT "+eventColumns+" FROM queue_events WHERE item_id = ? ORDER BY seq", id)
}

// Replay folds the whole log from the start.
func (s *Store) Replay(ctx context.Context) (map[string]*Item, error) {
	events, err := s.Events(ctx)
	if err != nil {
		return nil, err
	}
	return Fold(events)
}

// List returns items ordered by creation, optionally filtered by status.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Item, error) {
	items, err := s.Replay(ctx)
	if err != nil {
		return nil, err
	}
	sorted := SortedItems(items)
	if len(statuses) == 0 {
		return sorted, nil
	}
	want := make(map[Status]struct{}, len(statuses))
	for _, st := range statuses {
		want[st] = struct{}{}
	}
	out := sorted[:0]
	for _, item := range sorted {
		if _, ok := want[item.Status]; ok {
			out = append(out, item)
		}
	}
	return out, nil
}

// Summary returns per-status counts and the most recently updated items.
func (s *Store) Summary(ctx context.Context, recent int) (Summary, error) {
	events, err := s.Events(ctx)
	if err != nil {
		return Summary{}, err
	}
	items, err := Fold(events)
	if err != nil {
		return Summary{}, err
	}
	summary := Summary{Counts: make(map[Status]int, len(allStatuses)), Events: int64(len(events))}
	for _, st := range allStatuses {
		summary.Counts[st] = 0
	}
	all := make([]*Item, 0, len(items))
	for _, item := range items {
		summary.Counts[item.Status]++
		all = append(all, item)
	}
	summary.Total = len(items)
	sort.Slice(all, func(i, j int) bool {
		return all[i].LastSeq > all[j].LastSeq
	})
	if recent > 0 && len(all) > recent {
		all = all[:recent]
	}
	if recent > 0 {
		summary.Recent = all
	}
	return summary, nil
}
