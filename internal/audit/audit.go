// Package audit appends structured events to a JSON-lines trail.
//
// Each line is one Entry. Writers hold an exclusive advisory lock on a sibling
// .lock file while appending, so the watcher, the CLI and one or more daemons
// can share a trail without interleaving partial lines. The file is never
// rewritten.
package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// Well-known event names.
const (
	EventRunnerStarted   = "runner_started"
	EventRecovered       = "recovered"
	EventReceived        = "received"
	EventClaimed         = "claimed"
	EventSkipped         = "skipped"
	EventProviderAttempt = "provider_attempt"
	EventTranscribed     = "transcribed"
	EventResultWritten   = "result_written"
	EventError           = "error"
	EventCacheCleanup    = "cache_cleanup"
	EventEnqueued        = "enqueued"
	EventItemFailed      = "item_failed"
	EventSubmitted       = "submitted"
	EventCollected       = "collected"
)

// Entry is one audit line.
type Entry struct {
	TS     time.Time      `json:"ts"`
	Event  string         `json:"event"`
	ID     string         `json:"id,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Recorder is the append-only sink used by pipeline components.
type Recorder interface {
	Record(event, id string, fields map[string]any) error
}

// Log appends entries to a single JSONL file.
type Log struct {
	path  string
	lock  *flock.Flock
	mu    sync.Mutex
	clock func() time.Time
}

// Open prepares the log at path, creating its directory.
func Open(path string) (*Log, error) {
	if path == "" {
		return nil, errors.New("audit: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("audit: ensure directory: %w", err)
	}
	return &Log{path: path, lock: flock.New(path + ".lock"), clock: time.Now}, nil
}

// SetClock overrides the timestamp source.
func (l *Log) SetClock(clock func() time.Time) {
	if clock != nil {
		l.clock = clock
	}
}

// Path returns the trail location.
func (l *Log) Path() string {
	return l.path
}

// Record appends an entry stamped with the current time.
func (l *Log) Record(event, id string, fields map[string]any) error {
	return l.Append(Entry{TS: l.clock().UTC(), Event: event, ID: id, Fields: fields})
}

// Append writes one line. The line is encoded fully before the file is
// touched, and written with a single write call under the cross-process lock.
func (l *Log) Append(entry Entry) error {
	if entry.TS.IsZero() {
		entry.TS = l.clock().UTC()
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("audit: encode %s: %w", entry.Event, err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.lock.Lock(); err != nil {
		return fmt.Errorf("audit: lock: %w", err)
	}
	defer func() { _ = l.lock.Unlock() }()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("audit: open: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("audit: append: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("audit: sync: %w", err)
	}
	return f.Close()
}

// ReadAll returns every entry in file order. A missing file yields no entries.
// A trailing line without newline (torn write from a crash) is skipped.
func ReadAll(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("audit: open: %w", err)
	}
	defer f.Close()

	var entries []Entry
	reader := bufio.NewReader(f)
	for lineNo := 1; ; lineNo++ {
		line, err := reader.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			// A final fragment without newline is an incomplete write.
			break
		}
		if err != nil {
			return nil, fmt.Errorf("audit: read: %w", err)
		}
		var entry Entry
		if jsonErr := json.Unmarshal(line, &entry); jsonErr != nil {
			return nil, fmt.Errorf("audit: line %d: %w", lineNo, jsonErr)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Filter returns entries whose ID matches id.
func Filter(entries []Entry, id string) []Entry {
	var out []Entry
	for _, e := range entries {
		if e.ID == id {
			out = append(out, e)
		}
	}
	return out
}

// Nop discards entries.
type Nop struct{}

// Record implements Recorder.
func (Nop) Record(string, string, map[string]any) error { return nil }
