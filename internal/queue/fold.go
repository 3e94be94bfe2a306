package queue

import (
	"fmt"
	"sort"
)

// transitions lists the statuses an event may be applied to. The empty status
// stands for "no item yet".
var transitions = map[EventType]struct {
	from []Status
	to   Status
}{
	EventEnqueued:          {from: []Status{""}, to: StatusPending},
	EventProcessingStarted: {from: []Status{StatusPending}, to: StatusProcessing},
	EventReleased:          {from: []Status{StatusProcessing}, to: StatusPending},
	EventCompleted:         {from: []Status{StatusProcessing}, to: StatusDone},
	EventFailed:            {from: []Status{StatusPending, StatusProcessing}, to: StatusFailed},
	EventRequeued:          {from: []Status{StatusFailed}, to: StatusPending},
}

// CanApply reports whether an event of type t is legal for an item currently in status from.
func CanApply(from Status, t EventType) bool {
	rule, ok := transitions[t]
	if !ok {
		return false
	}
	for _, s := range rule.from {
		if s == from {
			return true
		}
	}
	return false
}

// Apply folds one event into item and returns the result. A nil item means the
// identifier has no history yet. Apply does not mutate its input.
func Apply(item *Item, ev Event) (*Item, error) {
	var current Status
	if item != nil {
		current = item.Status
	}
	if !CanApply(current, ev.Type) {
		return nil, fmt.Errorf("%w: %s on %s item %s", ErrInvalidTransition, ev.Type, statusLabel(current), ev.ItemID)
	}

	var next Item
	if item != nil {
		next = *item
	} else {
		next = Item{ID: ev.ItemID, CreatedAt: ev.CreatedAt}
	}
	next.Status = transitions[ev.Type].to
	next.UpdatedAt = ev.CreatedAt
	next.LastSeq = ev.Seq

	p := ev.Payload
	switch ev.Type {
	case EventEnqueued:
		next.SourcePath = p.SourcePath
		next.FileName = p.FileName
		next.NormalizedPath = p.NormalizedPath
		next.SizeBytes = p.SizeBytes
		next.DurationSeconds = p.DurationSeconds
	case EventProcessingStarted:
		next.RequestID = p.RequestID
		next.Attempts++
		next.Error = ""
	case EventReleased:
		next.RequestID = ""
		next.Error = p.Reason
	case EventCompleted:
		next.ResultRef = p.ResultRef
		next.Error = ""
	case EventFailed:
		next.Error = p.Reason
	case EventRequeued:
		next.RequestID = ""
		next.Error = ""
		next.RetryCount++
	}
	return &next, nil
}

// Fold replays events in sequence order and returns the derived items keyed by
// identifier. Events must be ordered by Seq; the same input always yields the
// same output.
func Fold(events []Event) (map[string]*Item, error) {
	items := make(map[string]*Item)
	for _, ev := range events {
		next, err := Apply(items[ev.ItemID], ev)
		if err != nil {
			return nil, fmt.Errorf("replay seq %d: %w", ev.Seq, err)
		}
		items[ev.ItemID] = next
	}
	return items, nil
}

// SortedItems returns items ordered by creation time then identifier.
func SortedItems(items map[string]*Item) []*Item {
	out := make([]*Item, 0, len(items))
	for _, item := range items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func statusLabel(s Status) string {
	if s == "" {
		return "absent"
	}
	return string(s)
}
