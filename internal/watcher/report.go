package watcher

import (
	"fmt"
	"time"
)

// Deferral is a candidate that was not ready this poll.
type Deferral struct {
	Path   string
	Reason string
	Age    time.Duration
	Checks int
}

// Failure is a candidate recorded as a terminal failure.
type Failure struct {
	Path   string
	ItemID string
	Reason string
}

// ScanReport summarizes one poll, or several when merged.
type ScanReport struct {
	Seen             int
	Enqueued         []string
	AlreadyQueued    int
	AlreadyDone      int
	PreviouslyFailed int
	Deferred         []Deferral
	Failed           []Failure
	Skipped          int
	Errors           []string
	Duration         time.Duration
	DryRun           bool
}

// Processed counts candidates that reached the queue, new or known.
func (r ScanReport) Processed() int {
	return len(r.Enqueued) + r.AlreadyQueued + r.AlreadyDone + r.PreviouslyFailed
}

// Merge folds a later poll into r. Deferrals are replaced, not accumulated,
// because a later poll supersedes the earlier view of the same files.
func (r *ScanReport) Merge(next ScanReport) {
	r.Seen = max(r.Seen, next.Seen)
	r.Enqueued = append(r.Enqueued, next.Enqueued...)
	r.AlreadyQueued += next.AlreadyQueued
	r.AlreadyDone += next.AlreadyDone
	r.PreviouslyFailed += next.PreviouslyFailed
	r.Deferred = next.Deferred
	r.Failed = append(r.Failed, next.Failed...)
	r.Skipped = next.Skipped
	r.Errors = append(r.Errors, next.Errors...)
	r.Duration += next.Duration
	r.DryRun = r.DryRun || next.DryRun
}

// String renders a one-line summary.
func (r ScanReport) String() string {
	return fmt.Sprintf("new=%d already_queued=%d already_done=%d previously_failed=%d deferred=%d failed=%d skipped=%d errors=%d",
		len(r.Enqueued), r.AlreadyQueued, r.AlreadyDone, r.PreviouslyFailed, len(r.Deferred), len(r.Failed), r.Skipped, len(r.Errors))
}
