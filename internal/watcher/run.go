package watcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"

	"voxpipe/internal/deps"
	"voxpipe/internal/logging"
	"voxpipe/internal/queue"
	"voxpipe/internal/services"
	"voxpipe/internal/stability"
)

// Preflight refuses to start without the probe binary (and ffmpeg when
// legacy formats are watched).
func (w *Watcher) Preflight() error {
	return deps.Require(deps.WatcherRequirements(w.cfg))
}

// Lock takes the single-instance lock for the state directory. The caller
// must Unlock the returned handle.
func (w *Watcher) Lock() (*flock.Flock, error) {
	lock := flock.New(w.cfg.WatcherLockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "watcher", "lock", w.cfg.WatcherLockPath(), err)
	}
	if !ok {
		return nil, services.Wrap(services.ErrConfiguration, "watcher", "lock",
			"another watcher is already running for "+w.cfg.Paths.StateDir, nil)
	}
	return lock, nil
}

// Run polls until ctx is cancelled. Filesystem events wake the loop early;
// the ticker keeps stability checks advancing when nothing changes.
func (w *Watcher) Run(ctx context.Context, opts ScanOptions) error {
	if err := w.Preflight(); err != nil {
		return err
	}
	lock, err := w.Lock()
	if err != nil {
		return err
	}
	defer func() { _ = lock.Unlock() }()

	wake := make(chan struct{}, 1)
	if fw, err := fsnotify.NewWatcher(); err != nil {
		logging.WarnWithContext(w.logger, "filesystem notifications unavailable", "watcher_fsnotify_unavailable",
			logging.Error(err),
			logging.String(logging.FieldImpact, "falling back to interval polling only"))
	} else {
		defer fw.Close()
		if err := fw.Add(w.cfg.Paths.WatchDir); err != nil {
			logging.WarnWithContext(w.logger, "cannot watch directory for events", "watcher_fsnotify_unavailable",
				logging.String(logging.FieldPath, w.cfg.Paths.WatchDir),
				logging.Error(err),
				logging.String(logging.FieldImpact, "falling back to interval polling only"))
		} else {
			go forwardEvents(ctx, fw, wake)
		}
	}

	interval := w.cfg.Watcher.PollInterval()
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	table := stability.NewTable()
	w.logger.Info("watcher started",
		logging.String(logging.FieldPath, w.cfg.Paths.WatchDir),
		logging.Duration("poll_interval", interval),
		logging.Bool("dry_run", opts.DryRun))

	for {
		report, err := w.PollOnce(ctx, table, opts)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if services.IsFatal(err) {
				return err
			}
			logging.ErrorWithContext(w.logger, "poll failed", "watcher_poll_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check queue database and watch directory permissions"))
		} else {
			w.logReport(report)
			w.publishDepth(ctx)
		}

		select {
		case <-ctx.Done():
			w.logger.Info("watcher stopped")
			return nil
		case <-ticker.C:
		case <-wake:
		}
	}
}

// Scan polls repeatedly until no file is left deferred, or until the longest
// possible stability window has elapsed. It backs the one-shot CLI command.
func (w *Watcher) Scan(ctx context.Context, opts ScanOptions) (ScanReport, error) {
	th := w.detector.Thresholds()
	interval := th.CheckInterval
	if interval <= 0 {
		interval = time.Second
	}
	window := max(th.MinAge, th.QuietPeriod) + time.Duration(th.RequiredChecks+1)*interval
	deadline := w.now().Add(window + interval)

	table := stability.NewTable()
	var total ScanReport
	for {
		report, err := w.PollOnce(ctx, table, opts)
		total.Merge(report)
		if err != nil {
			return total, err
		}
		if len(report.Deferred) == 0 || !w.now().Before(deadline) {
			return total, nil
		}
		if opts.Limit > 0 && len(total.Enqueued) >= opts.Limit {
			return total, nil
		}
		w.sleep(interval)
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
}

func forwardEvents(ctx context.Context, fw *fsnotify.Watcher, wake chan<- struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			select {
			case wake <- struct{}{}:
			default:
			}
		case _, ok := <-fw.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *Watcher) logReport(report ScanReport) {
	if report.Processed() == 0 && len(report.Failed) == 0 && len(report.Deferred) == 0 {
		return
	}
	w.logger.Info("poll complete",
		logging.Int("new", len(report.Enqueued)),
		logging.Int("already_queued", report.AlreadyQueued),
		logging.Int("already_done", report.AlreadyDone),
		logging.Int("previously_failed", report.PreviouslyFailed),
		logging.Int("deferred", len(report.Deferred)),
		logging.Int("failed", len(report.Failed)),
		logging.Int("skipped", report.Skipped))
	for _, d := range report.Deferred {
		w.logger.Info("file deferred",
			logging.String(logging.FieldPath, d.Path),
			logging.String("reason", d.Reason),
			logging.Duration("age", d.Age))
	}
}

func (w *Watcher) publishDepth(ctx context.Context) {
	summary, err := w.store.Summary(ctx, 0)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			w.logger.Debug("queue summary failed", logging.Error(err))
		}
		return
	}
	for _, status := range queue.AllStatuses() {
		w.metrics.SetQueueDepth(string(status), summary.Counts[status])
	}
}

// Describe renders the thresholds for startup banners.
func (w *Watcher) Describe() string {
	th := w.detector.Thresholds()
	return fmt.Sprintf("quiet=%s min_age=%s checks=%d every %s", th.QuietPeriod, th.MinAge, th.RequiredChecks, th.CheckInterval)
}
