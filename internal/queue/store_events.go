package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const eventColumns = "seq, event_id, item_id, event_type, created_at, payload"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(scanner rowScanner) (Event, error) {
	var (
		ev        Event
		eventType string
		createdAt string
		payload   string
	)
	if err := scanner.Scan(&ev.Seq, &ev.EventID, &ev.ItemID, &eventType, &createdAt, &payload); err != nil {
		return Event{}, err
	}
	ev.Type = EventType(eventType)
	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Event{}, fmt.Errorf("parse created_at for seq %d: %w", ev.Seq, err)
	}
	ev.CreatedAt = ts
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &ev.Payload); err != nil {
			return Event{}, fmt.Errorf("decode payload for seq %d: %w", ev.Seq, err)
		}
	}
	return ev, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryEvents(ctx context.Context, q querier, query string, args ...any) ([]Event, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// loadItem folds the events of a single identifier. Returns nil when the
// identifier has no history.
func loadItem(ctx context.Context, q querier, id string) (*Item, error) {
	events, err := queryEvents(ctx, q,
		"SELECT "+eventColumns+" FROM queue_events WHERE item_id = ? ORDER BY seq", id)
	if err != nil {
		return nil, fmt.Errorf("load events for %s: %w", id, err)
	}
	if len(events) == 0 {
		return nil, nil
	}
	items, err := Fold(events)
	if err != nil {
		return nil, err
	}
	return items[id], nil
}

func (s *Store) insertEvent(ctx context.Context, tx *sql.Tx, ev *Event) error {
	ev.EventID = uuid.NewString()
	ev.CreatedAt = s.now()
	payload, err := ev.MarshalPayload()
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		"INSERT INTO queue_events (event_id, item_id, event_type, created_at, payload) VALUES (?, ?, ?, ?, ?)",
		ev.EventID, ev.ItemID, string(ev.Type), ev.CreatedAt.Format(time.RFC3339Nano), payload,
	)
	if err != nil {
		return fmt.Errorf("append %s event: %w", ev.Type, err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("read event seq: %w", err)
	}
	ev.Seq = seq
	return nil
}

// withWriteTx runs fn inside an immediate transaction, retrying the whole unit
// when SQLite reports the database as busy.
func (s *Store) withWriteTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

// transition appends a single event for id after checking it against the
// item's current folded state.
func (s *Store) transition(ctx context.Context, id string, eventType EventType, payload Payload) (*Item, error) {
	var result *Item
	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		current, err := loadItem(ctx, tx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if !CanApply(current.Status, eventType) {
			return fmt.Errorf("%w: %s on %s item %s", ErrInvalidTransition, eventType, current.Status, id)
		}
		ev := Event{ItemID: id, Type: eventType, Payload: payload}
		if err := s.insertEvent(ctx, tx, &ev); err != nil {
			return err
		}
		result, err = Apply(current, ev)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
