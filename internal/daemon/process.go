package daemon

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"voxpipe/internal/audit"
	"voxpipe/internal/contenthash"
	"voxpipe/internal/contract"
	"voxpipe/internal/fileutil"
	"voxpipe/internal/logging"
	"voxpipe/internal/services"
	"voxpipe/internal/transcribe"
)

const errAllFailed = "all transcriptions failed"

// Process answers one claimed request and removes it from the in-flight
// directory. When ctx is cancelled mid-request the in-flight file stays in
// place for recovery and no result is written.
func (d *Daemon) Process(ctx context.Context, inflightPath string) error {
	name := filepath.Base(inflightPath)
	id := strings.TrimSuffix(name, requestExt)
	ctx = services.WithRequestID(ctx, id)
	logger := logging.WithContext(ctx, d.logger)
	started := d.now()

	resultPath := filepath.Join(d.cfg.Daemon.ResultsDir, id+requestExt)
	exists, err := fileutil.Exists(resultPath)
	if err != nil {
		return fmt.Errorf("check result %s: %w", resultPath, err)
	}
	if exists {
		logger.Info("result already present; skipping request")
		d.record(audit.EventSkipped, id, map[string]any{"reason": "result exists"})
		return d.finish(inflightPath)
	}

	d.record(audit.EventReceived, id, map[string]any{"file": name})
	data, err := os.ReadFile(inflightPath)
	if err != nil {
		return fmt.Errorf("read request %s: %w", inflightPath, err)
	}
	req, err := d.validator.DecodeRequest(data)
	if err == nil && req.ID != id {
		err = fmt.Errorf("%w: id %q does not match file name %q", contract.ErrInvalid, req.ID, name)
	}
	if err != nil {
		return d.reject(ctx, inflightPath, id, err)
	}

	d.record(audit.EventClaimed, id, map[string]any{
		"action":       string(req.Action),
		"requested_by": req.RequestedBy,
	})

	var result contract.WorkResult
	switch req.Action {
	case contract.ActionProcess:
		result, err = d.process(ctx, req)
	case contract.ActionStatus:
		result = d.status(req)
	case contract.ActionCancel:
		result, err = d.cancel(ctx, req)
	default:
		err = fmt.Errorf("%w: unsupported action %q", contract.ErrInvalid, req.Action)
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return d.reject(ctx, inflightPath, id, err)
	}

	if err := d.writeResult(ctx, result); err != nil {
		return err
	}
	d.metrics.IncRequest(string(req.Action), string(result.Status))
	d.metrics.ObserveRequestDuration(string(req.Action), d.now().Sub(started))
	logger.Info("request answered",
		logging.String("action", string(req.Action)),
		logging.String("status", string(result.Status)),
		logging.Int("processed", result.ProcessedCount),
		logging.Duration("elapsed", d.now().Sub(started)))
	return d.finish(inflightPath)
}

// reject answers an invalid request with a failed result when its name is a
// usable identifier, and drops it either way.
func (d *Daemon) reject(ctx context.Context, inflightPath, id string, cause error) error {
	logging.ErrorWithContext(logging.WithContext(ctx, d.logger), "request rejected", "request_invalid",
		logging.String(logging.FieldPath, inflightPath),
		logging.Error(cause),
		logging.String(logging.FieldErrorHint, "check the request against the work request contract"),
		logging.String(logging.FieldImpact, "request dropped"))
	d.record(audit.EventError, id, map[string]any{"stage": "validate", "error": cause.Error()})
	if contract.ValidRequestID(id) {
		result := contract.WorkResult{
			ID:          id,
			Status:      contract.StatusFailed,
			CompletedAt: d.now().UTC(),
			Error:       "invalid request: " + cause.Error(),
		}
		if err := d.writeResult(ctx, result); err != nil {
			return err
		}
		d.metrics.IncRequest("invalid", string(contract.StatusFailed))
	}
	return d.finish(inflightPath)
}

func (d *Daemon) writeResult(ctx context.Context, result contract.WorkResult) error {
	data, err := d.validator.EncodeResult(result)
	if err != nil {
		return services.Wrap(services.ErrValidation, "daemon", "encode result", result.ID, err)
	}
	path := filepath.Join(d.cfg.Daemon.ResultsDir, result.ID+requestExt)
	if err := fileutil.WriteFileOnce(path, data, 0o644); err != nil {
		if errors.Is(err, fileutil.ErrExists) {
			logging.WarnWithContext(logging.WithContext(ctx, d.logger), "result already written by another daemon", "result_exists",
				logging.String(logging.FieldPath, path),
				logging.String(logging.FieldImpact, "this daemon's result discarded"))
			d.record(audit.EventSkipped, result.ID, map[string]any{"reason": "result written concurrently"})
			return nil
		}
		return services.Wrap(services.ErrTransient, "daemon", "write result", path, err)
	}
	d.record(audit.EventResultWritten, result.ID, map[string]any{
		"status":          string(result.Status),
		"processed_count": result.ProcessedCount,
		"failures":        len(result.Failures),
	})
	return nil
}

func (d *Daemon) finish(inflightPath string) error {
	if err := os.Remove(inflightPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove in-flight request: %w", err)
	}
	return nil
}

type mediaFile struct {
	path     string
	file     string
	itemID   string
	duration float64
}

func (d *Daemon) process(ctx context.Context, req contract.WorkRequest) (contract.WorkResult, error) {
	limit := req.Params.Limit
	if limit <= 0 {
		limit = d.cfg.Daemon.DefaultLimit
	}
	if ceiling := d.cfg.Daemon.MaxLimit; ceiling > 0 && limit > ceiling {
		limit = ceiling
	}
	mode := req.Params.EffectiveMode()

	var candidates []mediaFile
	if mode == contract.ModeItems {
		for _, ref := range req.Params.Items {
			candidates = append(candidates, mediaFile{
				path:     filepath.Join(d.cfg.Daemon.MediaDir, ref.File),
				file:     ref.File,
				itemID:   ref.ItemID,
				duration: ref.DurationSeconds,
			})
		}
	} else {
		scanned, err := d.scanMedia()
		if err != nil {
			return contract.WorkResult{}, err
		}
		candidates = scanned
	}

	budget := req.Params.MaxDuration().Seconds()
	var selected []mediaFile
	total := 0.0
	for _, m := range candidates {
		if len(selected) >= limit {
			break
		}
		if budget > 0 && total >= budget {
			break
		}
		selected = append(selected, m)
		total += m.duration
	}

	result := contract.WorkResult{ID: req.ID, Transcripts: []contract.Transcript{}}
	for _, m := range selected {
		transcript, err := d.transcribeOne(ctx, req, m)
		if err != nil {
			if ctx.Err() != nil {
				return contract.WorkResult{}, ctx.Err()
			}
			result.Failures = append(result.Failures, contract.Failure{File: m.file, ItemID: m.itemID, Error: err.Error()})
			continue
		}
		result.Transcripts = append(result.Transcripts, transcript)
		result.TotalDurationSeconds += m.duration
		if mode == contract.ModeScan {
			if err := os.Remove(m.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				logging.WarnWithContext(d.logger, "scanned media not removed", "media_cleanup_failed",
					logging.String(logging.FieldRequestID, req.ID),
					logging.String(logging.FieldPath, m.path),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "remove the file by hand or fix media directory permissions"),
					logging.String(logging.FieldImpact, "the next scan request transcribes this file again"))
				d.record(audit.EventError, req.ID, map[string]any{"stage": "cleanup", "file": m.file, "error": err.Error()})
			}
		}
	}

	result.ProcessedCount = len(result.Transcripts)
	switch {
	case len(result.Failures) == 0:
		result.Status = contract.StatusCompleted
	case result.ProcessedCount > 0:
		result.Status = contract.StatusPartial
	default:
		result.Status = contract.StatusFailed
		result.Error = errAllFailed
	}
	result.CompletedAt = d.now().UTC()
	return result, nil
}

func (d *Daemon) transcribeOne(ctx context.Context, req contract.WorkRequest, m mediaFile) (contract.Transcript, error) {
	ctx = services.WithItemID(ctx, m.itemID)
	logger := logging.WithContext(ctx, d.logger)

	staged := filepath.Join(d.cfg.Daemon.CacheDir, m.file)
	if err := fileutil.CopyFileVerified(m.path, staged); err != nil {
		logging.WarnWithContext(logger, "cannot stage media", "daemon_stage_failed",
			logging.String(logging.FieldPath, m.path),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check that the media file was copied into the exchange"),
			logging.String(logging.FieldImpact, "item reported as failed"))
		d.record(audit.EventError, req.ID, map[string]any{"stage": "stage", "file": m.file, "error": err.Error()})
		return contract.Transcript{}, fmt.Errorf("stage %s: %w", m.file, err)
	}

	outcome, err := d.chain.Transcribe(ctx, transcribe.Request{
		Path:      staged,
		Quality:   req.Params.Quality,
		RequestID: req.ID,
		ItemID:    m.itemID,
	})
	if err != nil {
		if ctx.Err() == nil {
			logging.ErrorWithContext(logger, "transcription failed", "transcription_failed",
				logging.String(logging.FieldPath, m.file),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check provider credentials and quotas"),
				logging.String(logging.FieldImpact, "item reported as failed"))
			d.record(audit.EventError, req.ID, map[string]any{"stage": "transcribe", "file": m.file, "error": err.Error()})
		}
		return contract.Transcript{}, err
	}

	d.record(audit.EventTranscribed, req.ID, map[string]any{
		"file":     m.file,
		"item_id":  m.itemID,
		"provider": outcome.Provider,
		"attempts": outcome.Attempts,
		"chars":    len(outcome.Text),
	})
	return contract.Transcript{
		File:            m.file,
		ItemID:          m.itemID,
		Provider:        outcome.Provider,
		Transcript:      outcome.Text,
		DurationSeconds: m.duration,
		TranscribedAt:   d.now().UTC().Format(time.RFC3339),
	}, nil
}

// scanMedia lists media files matching the configured pattern. Files named
// after a content hash carry that hash as their item identifier.
func (d *Daemon) scanMedia() ([]mediaFile, error) {
	matches, err := filepath.Glob(filepath.Join(d.cfg.Daemon.MediaDir, d.cfg.Daemon.MediaPattern))
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "daemon", "scan media", d.cfg.Daemon.MediaPattern, err)
	}
	sort.Strings(matches)
	out := make([]mediaFile, 0, len(matches))
	for _, path := range matches {
		base := filepath.Base(path)
		if strings.HasPrefix(base, ".") {
			continue
		}
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		m := mediaFile{path: path, file: base}
		if stem := strings.TrimSuffix(base, filepath.Ext(base)); contenthash.Valid(stem) {
			m.itemID = stem
		}
		out = append(out, m)
	}
	return out, nil
}

func (d *Daemon) status(req contract.WorkRequest) contract.WorkResult {
	pending, _ := listRequests(d.cfg.Daemon.RequestsDir)
	inflight, _ := listRequests(d.cfg.Daemon.InflightDir)
	results, _ := listRequests(d.cfg.Daemon.ResultsDir)
	return contract.WorkResult{
		ID:          req.ID,
		Status:      contract.StatusCompleted,
		Transcripts: []contract.Transcript{},
		Summary: &contract.Summary{
			RequestsPending:  len(pending),
			RequestsInflight: len(inflight),
			Results:          len(results),
			MediaFiles:       countFiles(d.cfg.Daemon.MediaDir, d.cfg.Daemon.MediaPattern),
		},
		CompletedAt: d.now().UTC(),
	}
}

// cancel withdraws a request that no daemon has claimed yet by answering it
// with a failed result. Claimed or finished requests cannot be cancelled.
func (d *Daemon) cancel(ctx context.Context, req contract.WorkRequest) (contract.WorkResult, error) {
	target := req.Params.TargetID
	result := contract.WorkResult{ID: req.ID, Transcripts: []contract.Transcript{}}

	path, err := d.Claim(target + requestExt)
	if err != nil {
		if !errors.Is(err, ErrClaimLost) {
			return contract.WorkResult{}, err
		}
		result.Status = contract.StatusFailed
		result.Error = fmt.Sprintf("request %s is not pending", target)
		result.CompletedAt = d.now().UTC()
		return result, nil
	}

	d.record(audit.EventClaimed, target, map[string]any{"action": "cancelled", "cancelled_by": req.ID})
	cancelled := contract.WorkResult{
		ID:          target,
		Status:      contract.StatusFailed,
		CompletedAt: d.now().UTC(),
		Error:       "cancelled by " + req.ID,
	}
	if err := d.writeResult(ctx, cancelled); err != nil {
		return contract.WorkResult{}, err
	}
	if err := d.finish(path); err != nil {
		return contract.WorkResult{}, err
	}
	result.Status = contract.StatusCompleted
	result.CompletedAt = d.now().UTC()
	return result, nil
}
