package queue

import (
	"encoding/json"
	"time"
)

// Status represents the lifecycle of a queue item.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

var allStatuses = []Status{StatusPending, StatusProcessing, StatusDone, StatusFailed}

// AllStatuses returns every status in display order.
func AllStatuses() []Status {
	return append([]Status(nil), allStatuses...)
}

// ParseStatus converts a string to a Status if it is known.
func ParseStatus(value string) (Status, bool) {
	for _, s := range allStatuses {
		if string(s) == value {
			return s, true
		}
	}
	return "", false
}

// EventType names a single state change.
type EventType string

const (
	EventEnqueued          EventType = "enqueued"
	EventProcessingStarted EventType = "processing_started"
	EventReleased          EventType = "released"
	EventCompleted         EventType = "completed"
	EventFailed            EventType = "failed"
	EventRequeued          EventType = "requeued"
)

// Payload carries the event-specific fields. Only the fields relevant to the
// event type are set.
type Payload struct {
	SourcePath      string  `json:"source_path,omitempty"`
	FileName        string  `json:"file_name,omitempty"`
	NormalizedPath  string  `json:"normalized_path,omitempty"`
	SizeBytes       int64   `json:"size_bytes,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	RequestID       string  `json:"request_id,omitempty"`
	ResultRef       string  `json:"result_ref,omitempty"`
	Reason          string  `json:"reason,omitempty"`
}

// Event is one immutable row of the log.
type Event struct {
	Seq       int64
	EventID   string
	ItemID    string
	Type      EventType
	CreatedAt time.Time
	Payload   Payload
}

// MarshalPayload encodes the payload for storage.
func (e Event) MarshalPayload() (string, error) {
	raw, err := json.Marshal(e.Payload)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// Item is the current state of one content hash, derived from its events.
type Item struct {
	ID              string
	Status          Status
	SourcePath      string
	FileName        string
	NormalizedPath  string
	SizeBytes       int64
	DurationSeconds float64
	RequestID       string
	ResultRef       string
	Error           string
	Attempts        int
	RetryCount      int
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastSeq         int64
}

// AudioPath returns the file that should be sent for processing.
func (i *Item) AudioPath() string {
	if i.NormalizedPath != "" {
		return i.NormalizedPath
	}
	return i.SourcePath
}

// Duration returns the probed duration.
func (i *Item) Duration() time.Duration {
	return time.Duration(i.DurationSeconds * float64(time.Second))
}

// EnqueueInput describes a newly stable file.
type EnqueueInput struct {
	ID              string
	SourcePath      string
	FileName        string
	NormalizedPath  string
	SizeBytes       int64
	DurationSeconds float64
}

// EnqueueOutcome reports what Enqueue did.
type EnqueueOutcome string

const (
	// OutcomeQueued means a new enqueued event was appended.
	OutcomeQueued EnqueueOutcome = "queued"
	// OutcomeAlreadyQueued means the hash is pending or processing.
	OutcomeAlreadyQueued EnqueueOutcome = "already_queued"
	// OutcomeAlreadyDone means the hash was processed before.
	OutcomeAlreadyDone EnqueueOutcome = "already_done"
	// OutcomePreviouslyFailed means the hash is recorded as failed and needs an explicit requeue.
	OutcomePreviouslyFailed EnqueueOutcome = "previously_failed"
)

// Appended reports whether the outcome wrote a new event.
func (o EnqueueOutcome) Appended() bool {
	return o == OutcomeQueued
}

// Summary is the status snapshot used by status views.
type Summary struct {
	Counts map[Status]int
	Total  int
	Events int64
	Recent []*Item
}
