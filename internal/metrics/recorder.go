package metrics

import "time"

// ScanOutcome enumerates what a watcher poll did with one candidate file.
type ScanOutcome string

const (
	ScanEnqueued         ScanOutcome = "enqueued"
	ScanAlreadyQueued    ScanOutcome = "already_queued"
	ScanAlreadyDone      ScanOutcome = "already_done"
	ScanPreviouslyFailed ScanOutcome = "previously_failed"
	ScanDeferred         ScanOutcome = "deferred"
	ScanFailed           ScanOutcome = "failed"
)

// Recorder defines observability hooks for the watcher and the daemon.
type Recorder interface {
	IncScanOutcome(outcome ScanOutcome)
	ObserveNormalizeDuration(converted bool, d time.Duration)
	IncProviderAttempt(provider string, success bool)
	ObserveProviderDuration(provider string, d time.Duration)
	IncRequest(action, status string)
	ObserveRequestDuration(action string, d time.Duration)
	SetQueueDepth(status string, n int)
}

// NoopRecorder is a Recorder that does nothing.
type NoopRecorder struct{}

func (NoopRecorder) IncScanOutcome(ScanOutcome)                    {}
func (NoopRecorder) ObserveNormalizeDuration(bool, time.Duration)  {}
func (NoopRecorder) IncProviderAttempt(string, bool)               {}
func (NoopRecorder) ObserveProviderDuration(string, time.Duration) {}
func (NoopRecorder) IncRequest(string, string)                     {}
func (NoopRecorder) ObserveRequestDuration(string, time.Duration)  {}
func (NoopRecorder) SetQueueDepth(string, int)                     {}

// OrNoop returns r, or a NoopRecorder when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return r
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failed"
}
