package watcher

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"voxpipe/internal/audit"
	"voxpipe/internal/config"
	"voxpipe/internal/logging"
	"voxpipe/internal/media/ffprobe"
	"voxpipe/internal/metrics"
	"voxpipe/internal/normalize"
	"voxpipe/internal/queue"
	"voxpipe/internal/stability"
)

// ScanOptions bound a single poll or scan.
type ScanOptions struct {
	DryRun      bool
	Limit       int
	MaxDuration time.Duration
}

// Watcher wires the per-file stages together.
type Watcher struct {
	cfg        *config.Config
	store      *queue.Store
	detector   *stability.Detector
	prober     ffprobe.Prober
	normalizer *normalize.Normalizer
	audit      audit.Recorder
	metrics    metrics.Recorder
	logger     *slog.Logger
	now        func() time.Time
	sleep      func(time.Duration)
	extensions map[string]struct{}
	maxProbes  int
}

// Option customizes a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithProber replaces the ffprobe CLI.
func WithProber(p ffprobe.Prober) Option {
	return func(w *Watcher) {
		if p != nil {
			w.prober = p
		}
	}
}

// WithNormalizer replaces the default normalizer.
func WithNormalizer(n *normalize.Normalizer) Option {
	return func(w *Watcher) {
		if n != nil {
			w.normalizer = n
		}
	}
}

// WithAudit records enqueue and failure entries.
func WithAudit(r audit.Recorder) Option {
	return func(w *Watcher) {
		if r != nil {
			w.audit = r
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r metrics.Recorder) Option {
	return func(w *Watcher) {
		w.metrics = metrics.OrNoop(r)
	}
}

// WithClock overrides time.Now (useful for tests).
func WithClock(now func() time.Time) Option {
	return func(w *Watcher) {
		if now != nil {
			w.now = now
		}
	}
}

// WithSleeper overrides how Scan waits between polls (useful for tests).
func WithSleeper(sleep func(time.Duration)) Option {
	return func(w *Watcher) {
		if sleep != nil {
			w.sleep = sleep
		}
	}
}

// New builds a watcher over cfg.Paths.WatchDir backed by store.
func New(cfg *config.Config, store *queue.Store, opts ...Option) *Watcher {
	exts := make(map[string]struct{}, len(cfg.Watcher.Extensions))
	for _, ext := range cfg.Watcher.Extensions {
		exts[strings.ToLower(ext)] = struct{}{}
	}
	maxProbes := cfg.Watcher.MaxProbeAttempts
	if maxProbes < 1 {
		maxProbes = 1
	}
	w := &Watcher{
		cfg:   cfg,
		store: store,
		detector: stability.NewDetector(stability.Thresholds{
			QuietPeriod:    cfg.Watcher.QuietPeriod(),
			MinAge:         cfg.Watcher.MinAge(),
			CheckInterval:  cfg.Watcher.CheckInterval(),
			RequiredChecks: cfg.Watcher.RequiredChecks,
		}),
		prober:     ffprobe.CLI{Binary: cfg.FFprobeBinary(), Timeout: cfg.Watcher.ProbeTimeout()},
		normalizer: normalize.New(cfg.Paths.CacheDir, cfg.FFmpegBinary(), cfg.Watcher.LegacyExtensions, cfg.Watcher.ConvertTimeout()),
		audit:      audit.Nop{},
		metrics:    metrics.NoopRecorder{},
		logger:     logging.NewNop(),
		now:        time.Now,
		sleep:      time.Sleep,
		extensions: exts,
		maxProbes:  maxProbes,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = logging.NewComponentLogger(w.logger, "watcher")
	return w
}

// Detector exposes the stability thresholds in use.
func (w *Watcher) Detector() *stability.Detector {
	return w.detector
}

type candidate struct {
	path    string
	size    int64
	modTime time.Time
}

// candidates lists watched files in name order. Hidden files and
// subdirectories are ignored.
func (w *Watcher) candidates() ([]candidate, error) {
	entries, err := os.ReadDir(w.cfg.Paths.WatchDir)
	if err != nil {
		return nil, err
	}
	out := make([]candidate, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		if _, ok := w.extensions[strings.ToLower(filepath.Ext(name))]; !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}
		out = append(out, candidate{
			path:    filepath.Join(w.cfg.Paths.WatchDir, name),
			size:    info.Size(),
			modTime: info.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].path < out[j].path })
	return out, nil
}
