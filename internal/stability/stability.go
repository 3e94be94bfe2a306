package stability

import (
	"time"
)

// Thresholds control when a file is considered settled.
type Thresholds struct {
	QuietPeriod    time.Duration
	MinAge         time.Duration
	CheckInterval  time.Duration
	RequiredChecks int
}

// DefaultThresholds returns the stock settings for synced voice memos.
func DefaultThresholds() Thresholds {
	return Thresholds{
		QuietPeriod:    10 * time.Second,
		MinAge:         30 * time.Second,
		CheckInterval:  2 * time.Second,
		RequiredChecks: 3,
	}
}

// State is the outcome of a single observation.
type State string

const (
	StateNew      State = "new"
	StateChanging State = "changing"
	StateStable   State = "stable"
)

// Reason explains a non-stable outcome.
type Reason string

const (
	ReasonFirstObservation Reason = "first_observation"
	ReasonMetadataChanged  Reason = "metadata_changed"
	ReasonEmptyFile        Reason = "empty_file"
	ReasonBelowMinAge      Reason = "below_min_age"
	ReasonQuietPeriod      Reason = "quiet_period"
	ReasonAwaitingChecks   Reason = "awaiting_checks"
	ReasonStable           Reason = "stable"
)

// TrackedFile is the per-path observation record.
type TrackedFile struct {
	Path          string
	Size          int64
	ModTime       time.Time
	FirstSeen     time.Time
	LastChanged   time.Time
	LastCheck     time.Time
	StableChecks  int
	ProbeFailures int
	Settled       bool
}

// Age is the time since the file was first observed.
func (f *TrackedFile) Age(now time.Time) time.Duration {
	return now.Sub(f.FirstSeen)
}

// Observation reports what a single poll concluded about a path.
type Observation struct {
	Path   string
	State  State
	Reason Reason
	Age    time.Duration
	Quiet  time.Duration
	Checks int
	File   *TrackedFile
}

// Detector applies Thresholds to a Table.
type Detector struct {
	thresholds Thresholds
}

// NewDetector constructs a detector. Non-positive RequiredChecks is treated as 1.
func NewDetector(t Thresholds) *Detector {
	if t.RequiredChecks < 1 {
		t.RequiredChecks = 1
	}
	return &Detector{thresholds: t}
}

// Thresholds returns the active settings.
func (d *Detector) Thresholds() Thresholds {
	return d.thresholds
}

// Observe records the current (size, mtime) of path and classifies it.
//
// Any change in size or mtime discards previously counted checks and moves
// LastChanged to now. A check is only counted when at least CheckInterval has
// passed since the last counted one, so fast polling cannot satisfy
// RequiredChecks in a burst.
func (d *Detector) Observe(table Table, path string, size int64, modTime time.Time, now time.Time) Observation {
	tracked, ok := table[path]
	if !ok {
		tracked = &TrackedFile{
			Path:        path,
			Size:        size,
			ModTime:     modTime,
			FirstSeen:   now,
			LastChanged: now,
		}
		table[path] = tracked
		return d.observation(tracked, StateNew, ReasonFirstObservation, now)
	}

	if tracked.Size != size || !tracked.ModTime.Equal(modTime) {
		tracked.Size = size
		tracked.ModTime = modTime
		tracked.LastChanged = now
		tracked.StableChecks = 0
		tracked.LastCheck = time.Time{}
		tracked.Settled = false
		// Failures against earlier content do not count against the new bytes.
		tracked.ProbeFailures = 0
		return d.observation(tracked, StateChanging, ReasonMetadataChanged, now)
	}

	if size == 0 {
		tracked.StableChecks = 0
		return d.observation(tracked, StateChanging, ReasonEmptyFile, now)
	}

	if tracked.LastCheck.IsZero() || now.Sub(tracked.LastCheck) >= d.thresholds.CheckInterval {
		tracked.StableChecks++
		tracked.LastCheck = now
	}

	switch {
	case now.Sub(tracked.FirstSeen) < d.thresholds.MinAge:
		return d.observation(tracked, StateChanging, ReasonBelowMinAge, now)
	case now.Sub(tracked.LastChanged) < d.thresholds.QuietPeriod:
		return d.observation(tracked, StateChanging, ReasonQuietPeriod, now)
	case tracked.StableChecks < d.thresholds.RequiredChecks:
		return d.observation(tracked, StateChanging, ReasonAwaitingChecks, now)
	default:
		return d.observation(tracked, StateStable, ReasonStable, now)
	}
}

// Reset discards accumulated confirmation for path after a per-file failure
// (probe or conversion), restarting the quiet window without forgetting the
// file. Returns the updated probe-failure count when countProbe is set.
func (d *Detector) Reset(table Table, path string, now time.Time, countProbe bool) int {
	tracked, ok := table[path]
	if !ok {
		return 0
	}
	tracked.StableChecks = 0
	tracked.LastCheck = time.Time{}
	tracked.LastChanged = now
	tracked.Settled = false
	if countProbe {
		tracked.ProbeFailures++
	}
	return tracked.ProbeFailures
}

func (d *Detector) observation(f *TrackedFile, state State, reason Reason, now time.Time) Observation {
	return Observation{
		Path:   f.Path,
		State:  state,
		Reason: reason,
		Age:    now.Sub(f.FirstSeen),
		Quiet:  now.Sub(f.LastChanged),
		Checks: f.StableChecks,
		File:   f,
	}
}
