package watcher

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"time"

	"voxpipe/internal/audit"
	"voxpipe/internal/contenthash"
	"voxpipe/internal/logging"
	"voxpipe/internal/media/ffprobe"
	"voxpipe/internal/metrics"
	"voxpipe/internal/queue"
	"voxpipe/internal/services"
	"voxpipe/internal/stability"
)

// Deferral reasons beyond the stability detector's own.
const (
	ReasonProbeFailed      = "probe_failed"
	ReasonHashFailed       = "hash_failed"
	ReasonConversionFailed = "conversion_failed"
)

// PollOnce runs one pass over the watch directory. The returned error is
// non-nil only for conditions that must stop the watcher (missing probe
// binary, unreadable watch directory, queue failures, cancellation);
// per-file problems are reported in the ScanReport.
func (w *Watcher) PollOnce(ctx context.Context, table stability.Table, opts ScanOptions) (ScanReport, error) {
	report := ScanReport{DryRun: opts.DryRun}
	files, err := w.candidates()
	if err != nil {
		return report, services.Wrap(services.ErrConfiguration, "watcher", "list", w.cfg.Paths.WatchDir, err)
	}
	report.Seen = len(files)

	seen := make(map[string]struct{}, len(files))
	var budget time.Duration
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		seen[file.path] = struct{}{}

		now := w.now()
		obs := w.detector.Observe(table, file.path, file.size, file.modTime, now)
		if obs.File.Settled {
			continue
		}
		if obs.State != stability.StateStable {
			w.deferFile(&report, file.path, string(obs.Reason), obs)
			continue
		}

		if opts.Limit > 0 && len(report.Enqueued) >= opts.Limit {
			report.Skipped++
			continue
		}
		if opts.MaxDuration > 0 && budget >= opts.MaxDuration {
			report.Skipped++
			continue
		}

		added, err := w.handleStable(ctx, table, file, obs, opts, &report)
		if err != nil {
			return report, err
		}
		budget += added
	}

	for _, path := range table.Prune(seen) {
		w.logger.Debug("forgot vanished file", logging.String(logging.FieldPath, path))
	}
	report.Duration = budget
	return report, nil
}

// handleStable probes, hashes, normalizes and enqueues one stable file. It
// returns the audio duration added to the scan budget.
func (w *Watcher) handleStable(ctx context.Context, table stability.Table, file candidate, obs stability.Observation, opts ScanOptions, report *ScanReport) (time.Duration, error) {
	info, err := w.prober.Probe(ctx, file.path)
	if err != nil {
		switch {
		case errors.Is(err, exec.ErrNotFound):
			return 0, services.Wrap(services.ErrConfiguration, "watcher", "probe", "ffprobe binary missing", err)
		case ctx.Err() != nil:
			return 0, ctx.Err()
		case errors.Is(err, ffprobe.ErrUnprobeable), errors.Is(err, context.DeadlineExceeded):
			return 0, w.probeFailure(ctx, table, file, ReasonProbeFailed, err, opts, report)
		default:
			w.detector.Reset(table, file.path, w.now(), false)
			w.deferFile(report, file.path, ReasonProbeFailed, obs)
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", file.path, err))
			return 0, nil
		}
	}

	digest, err := contenthash.File(file.path)
	if err != nil {
		w.detector.Reset(table, file.path, w.now(), false)
		w.deferFile(report, file.path, ReasonHashFailed, obs)
		report.Errors = append(report.Errors, err.Error())
		return 0, nil
	}
	ctx = services.WithItemID(ctx, digest.ID)
	logger := logging.WithContext(ctx, w.logger)

	existing, err := w.store.Lookup(ctx, digest.ID)
	if err != nil {
		return 0, fmt.Errorf("queue lookup %s: %w", digest.ID, err)
	}
	if existing != nil {
		w.countKnown(report, existing.Status)
		table.Settle(file.path)
		logger.Debug("content already known",
			logging.String(logging.FieldPath, file.path),
			logging.String("status", string(existing.Status)))
		return 0, nil
	}

	if opts.DryRun {
		report.Enqueued = append(report.Enqueued, digest.ID)
		table.Settle(file.path)
		logger.Info("would enqueue",
			logging.String(logging.FieldPath, file.path),
			logging.Duration("duration", info.Duration),
			logging.Bool("convert", w.normalizer.NeedsConversion(file.path)))
		return info.Duration, nil
	}

	started := w.now()
	norm, err := w.normalizer.Normalize(ctx, file.path, digest.ID)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, w.probeFailure(ctx, table, file, ReasonConversionFailed, err, opts, report)
	}
	if norm.Converted || norm.Cached {
		w.metrics.ObserveNormalizeDuration(norm.Converted, w.now().Sub(started))
	}

	in := queue.EnqueueInput{
		ID:              digest.ID,
		SourcePath:      file.path,
		FileName:        filepath.Base(file.path),
		SizeBytes:       digest.Size,
		DurationSeconds: info.Seconds(),
	}
	if norm.Path != file.path {
		in.NormalizedPath = norm.Path
	}
	outcome, item, err := w.store.Enqueue(ctx, in)
	if err != nil {
		return 0, fmt.Errorf("enqueue %s: %w", digest.ID, err)
	}
	table.Settle(file.path)
	if !outcome.Appended() {
		w.countKnown(report, item.Status)
		return 0, nil
	}

	report.Enqueued = append(report.Enqueued, digest.ID)
	w.metrics.IncScanOutcome(metrics.ScanEnqueued)
	logger.Info("enqueued recording",
		logging.String(logging.FieldPath, file.path),
		logging.Duration("duration", info.Duration),
		logging.Bool("converted", norm.Converted),
		logging.Duration("age", obs.Age))
	w.record(audit.EventEnqueued, digest.ID, map[string]any{
		"file":             in.FileName,
		"duration_seconds": in.DurationSeconds,
		"converted":        norm.Converted,
	})
	return info.Duration, nil
}

// probeFailure resets the file for a later retry and, once the attempt
// budget is spent, records it as a failed queue item so it is not retried
// under the same content hash.
func (w *Watcher) probeFailure(ctx context.Context, table stability.Table, file candidate, reason string, cause error, opts ScanOptions, report *ScanReport) error {
	attempts := w.detector.Reset(table, file.path, w.now(), true)
	if attempts < w.maxProbes {
		logging.WarnWithContext(w.logger, "deferring file after per-file failure", "watcher_"+reason,
			logging.String(logging.FieldPath, file.path),
			logging.Int("attempt", attempts),
			logging.Int("max_attempts", w.maxProbes),
			logging.Error(cause),
			logging.String(logging.FieldErrorHint, "file may still be finalizing; it will be retried"),
			logging.String(logging.FieldImpact, "file deferred"))
		report.Deferred = append(report.Deferred, Deferral{Path: file.path, Reason: reason, Age: table[file.path].Age(w.now())})
		w.metrics.IncScanOutcome(metrics.ScanDeferred)
		return nil
	}

	table.Settle(file.path)
	failure := Failure{Path: file.path, Reason: fmt.Sprintf("%s after %d attempts: %v", reason, attempts, cause)}

	digest, err := contenthash.File(file.path)
	if err != nil {
		report.Failed = append(report.Failed, failure)
		w.metrics.IncScanOutcome(metrics.ScanFailed)
		report.Errors = append(report.Errors, err.Error())
		return nil
	}
	// A copy of content that is already queued must not fail the existing item.
	existing, err := w.store.Lookup(ctx, digest.ID)
	if err != nil {
		return fmt.Errorf("queue lookup %s: %w", digest.ID, err)
	}
	if existing != nil {
		w.countKnown(report, existing.Status)
		logging.WarnWithContext(w.logger, "unreadable copy of known content ignored", "watcher_duplicate_failed",
			logging.String(logging.FieldItemID, digest.ID),
			logging.String(logging.FieldPath, file.path),
			logging.String("status", string(existing.Status)),
			logging.String("reason", failure.Reason),
			logging.String(logging.FieldImpact, "existing queue item left unchanged"))
		return nil
	}

	failure.ItemID = digest.ID
	if !opts.DryRun {
		outcome, item, err := w.store.Enqueue(ctx, queue.EnqueueInput{
			ID:         digest.ID,
			SourcePath: file.path,
			FileName:   filepath.Base(file.path),
			SizeBytes:  digest.Size,
		})
		if err != nil {
			return fmt.Errorf("enqueue failed item %s: %w", digest.ID, err)
		}
		if !outcome.Appended() {
			// Another writer queued this content between the lookup and the append.
			w.countKnown(report, item.Status)
			return nil
		}
		if _, err := w.store.MarkFailed(ctx, digest.ID, failure.Reason); err != nil {
			return fmt.Errorf("mark failed %s: %w", digest.ID, err)
		}
	}
	report.Failed = append(report.Failed, failure)
	w.metrics.IncScanOutcome(metrics.ScanFailed)
	logging.ErrorWithContext(w.logger, "recording failed permanently", "watcher_item_failed",
		logging.String(logging.FieldItemID, digest.ID),
		logging.String(logging.FieldPath, file.path),
		logging.String("reason", failure.Reason),
		logging.String(logging.FieldErrorHint, "replace the file or run `voxpipe queue retry` after fixing it"))
	if opts.DryRun {
		return nil
	}
	w.record(audit.EventItemFailed, digest.ID, map[string]any{
		"file":   filepath.Base(file.path),
		"reason": failure.Reason,
	})
	return nil
}

func (w *Watcher) deferFile(report *ScanReport, path, reason string, obs stability.Observation) {
	report.Deferred = append(report.Deferred, Deferral{Path: path, Reason: reason, Age: obs.Age, Checks: obs.Checks})
	w.metrics.IncScanOutcome(metrics.ScanDeferred)
	w.logger.Debug("deferred",
		logging.String(logging.FieldPath, path),
		logging.String("reason", reason),
		logging.Duration("age", obs.Age),
		logging.Int("checks", obs.Checks))
}

func (w *Watcher) countKnown(report *ScanReport, status queue.Status) {
	switch status {
	case queue.StatusDone:
		report.AlreadyDone++
		w.metrics.IncScanOutcome(metrics.ScanAlreadyDone)
	case queue.StatusFailed:
		report.PreviouslyFailed++
		w.metrics.IncScanOutcome(metrics.ScanPreviouslyFailed)
	default:
		report.AlreadyQueued++
		w.metrics.IncScanOutcome(metrics.ScanAlreadyQueued)
	}
}

func (w *Watcher) record(event, id string, fields map[string]any) {
	if err := w.audit.Record(event, id, fields); err != nil {
		logging.WarnWithContext(w.logger, "audit append failed", "audit_write_failed",
			logging.String(logging.FieldItemID, id),
			logging.Error(err),
			logging.String(logging.FieldImpact, "audit trail is missing an entry"))
	}
}
