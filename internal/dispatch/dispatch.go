// Package dispatch hands pending queue items to the remote daemon and folds
// its results back into the queue.
//
// Submit stages each item's audio in the shared media directory, marks the
// items processing under a fresh request identifier and publishes one work
// request. Collect reads the results for in-flight requests and records done,
// failed or released events. The queue stays the source of truth; the
// exchange directories only carry work across the boundary.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"voxpipe/internal/audit"
	"voxpipe/internal/config"
	"voxpipe/internal/contract"
	"voxpipe/internal/fileutil"
	"voxpipe/internal/logging"
	"voxpipe/internal/normalize"
	"voxpipe/internal/queue"
	"voxpipe/internal/services"
)

// Dispatcher submits and collects work requests.
type Dispatcher struct {
	cfg       *config.Config
	store     *queue.Store
	validator *contract.Validator
	audit     audit.Recorder
	logger    *slog.Logger
	now       func() time.Time
	newID     func(time.Time) string
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithAudit records submitted and collected entries.
func WithAudit(r audit.Recorder) Option {
	return func(d *Dispatcher) {
		if r != nil {
			d.audit = r
		}
	}
}

// WithClock overrides time.Now (useful for tests).
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// New constructs a Dispatcher.
func New(cfg *config.Config, store *queue.Store, validator *contract.Validator, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		cfg:       cfg,
		store:     store,
		validator: validator,
		audit:     audit.Nop{},
		logger:    logging.NewNop(),
		now:       time.Now,
		newID:     NewRequestID,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = logging.NewComponentLogger(d.logger, "dispatch")
	return d
}

// NewRequestID returns a sortable, collision-resistant request identifier.
func NewRequestID(now time.Time) string {
	return "req-" + now.UTC().Format("20060102T150405Z") + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// SubmitOptions bound a submission.
type SubmitOptions struct {
	Limit       int
	MaxDuration time.Duration
	Quality     string
	DryRun      bool
}

// SubmitReport describes what Submit published.
type SubmitReport struct {
	RequestID   string
	RequestPath string
	Items       []contract.ItemRef
	Duration    time.Duration
	DryRun      bool
}

// Submit selects pending items oldest first within the limit and duration
// cap, and publishes them as one process request. It returns an empty report
// when nothing is pending.
func (d *Dispatcher) Submit(ctx context.Context, opts SubmitOptions) (SubmitReport, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = d.cfg.Dispatch.DefaultLimit
	}
	if ceiling := d.cfg.Daemon.MaxLimit; ceiling > 0 && limit > ceiling {
		limit = ceiling
	}

	pending, err := d.store.List(ctx, queue.StatusPending)
	if err != nil {
		return SubmitReport{}, err
	}

	report := SubmitReport{DryRun: opts.DryRun}
	var selected []*queue.Item
	for _, item := range pending {
		if len(selected) >= limit {
			break
		}
		if opts.MaxDuration > 0 && report.Duration >= opts.MaxDuration {
			break
		}
		selected = append(selected, item)
		report.Duration += item.Duration()
	}
	if len(selected) == 0 {
		return report, nil
	}

	now := d.now()
	report.RequestID = d.newID(now)
	report.RequestPath = filepath.Join(d.cfg.Dispatch.RequestsDir, report.RequestID+".json")
	for _, item := range selected {
		report.Items = append(report.Items, contract.ItemRef{
			ItemID:          item.ID,
			File:            item.ID + normalize.CanonicalExt,
			DurationSeconds: item.DurationSeconds,
		})
	}
	if opts.DryRun {
		return report, nil
	}

	ctx = services.WithRequestID(ctx, report.RequestID)
	logger := logging.WithContext(ctx, d.logger)

	if err := os.MkdirAll(d.cfg.Dispatch.MediaDir, 0o755); err != nil {
		return SubmitReport{}, services.Wrap(services.ErrConfiguration, "dispatch", "prepare media dir", d.cfg.Dispatch.MediaDir, err)
	}
	if err := os.MkdirAll(d.cfg.Dispatch.RequestsDir, 0o755); err != nil {
		return SubmitReport{}, services.Wrap(services.ErrConfiguration, "dispatch", "prepare requests dir", d.cfg.Dispatch.RequestsDir, err)
	}

	var marked []string
	release := func(reason string) {
		for _, id := range marked {
			if _, err := d.store.Release(ctx, id, reason); err != nil {
				logging.ErrorWithContext(logger, "release after failed submission", "dispatch_release_failed",
					logging.String(logging.FieldItemID, id),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "run `voxpipe queue list` and inspect the item"))
			}
		}
	}

	staged := make([]contract.ItemRef, 0, len(report.Items))
	for i, item := range selected {
		ref := report.Items[i]
		target := filepath.Join(d.cfg.Dispatch.MediaDir, ref.File)
		if err := fileutil.CopyFileVerified(item.AudioPath(), target); err != nil {
			logging.WarnWithContext(logger, "cannot stage audio; leaving item pending", "dispatch_stage_failed",
				logging.String(logging.FieldItemID, item.ID),
				logging.String(logging.FieldPath, item.AudioPath()),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check that the source or cached file still exists"),
				logging.String(logging.FieldImpact, "item skipped for this submission"))
			report.Duration -= item.Duration()
			continue
		}
		if _, err := d.store.MarkProcessing(ctx, item.ID, report.RequestID); err != nil {
			release("submission aborted")
			return SubmitReport{}, fmt.Errorf("mark processing %s: %w", item.ID, err)
		}
		marked = append(marked, item.ID)
		staged = append(staged, ref)
	}
	report.Items = staged
	if len(report.Items) == 0 {
		return SubmitReport{DryRun: opts.DryRun}, nil
	}

	req := contract.WorkRequest{
		ID:     report.RequestID,
		Action: contract.ActionProcess,
		Params: contract.Params{
			Limit:    len(report.Items),
			Mode:     contract.ModeItems,
			Quality:  opts.Quality,
			Items:    report.Items,
			MaxHours: opts.MaxDuration.Hours(),
		},
		RequestedBy: d.cfg.Dispatch.RequestedBy,
		RequestedAt: now.UTC(),
	}
	data, err := d.validator.EncodeRequest(req)
	if err == nil {
		err = fileutil.WriteFileAtomic(report.RequestPath, data, 0o644)
	}
	if err != nil {
		release("request could not be written")
		return SubmitReport{}, services.Wrap(services.ErrTransient, "dispatch", "write request", report.RequestPath, err)
	}

	logger.Info("work request submitted",
		logging.Int("items", len(report.Items)),
		logging.Duration("duration", report.Duration),
		logging.String(logging.FieldPath, report.RequestPath))
	d.record(audit.EventSubmitted, report.RequestID, map[string]any{
		"items":            len(report.Items),
		"duration_seconds": report.Duration.Seconds(),
	})
	return report, nil
}

// SubmitControl publishes a status or cancel request.
func (d *Dispatcher) SubmitControl(ctx context.Context, action contract.Action, targetID string) (SubmitReport, error) {
	if action != contract.ActionStatus && action != contract.ActionCancel {
		return SubmitReport{}, services.Wrap(services.ErrValidation, "dispatch", "control", fmt.Sprintf("unsupported action %q", action), nil)
	}
	now := d.now()
	req := contract.WorkRequest{
		ID:          d.newID(now),
		Action:      action,
		Params:      contract.Params{TargetID: targetID},
		RequestedBy: d.cfg.Dispatch.RequestedBy,
		RequestedAt: now.UTC(),
	}
	data, err := d.validator.EncodeRequest(req)
	if err != nil {
		return SubmitReport{}, services.Wrap(services.ErrValidation, "dispatch", "control", string(action), err)
	}
	path := filepath.Join(d.cfg.Dispatch.RequestsDir, req.ID+".json")
	if err := fileutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return SubmitReport{}, services.Wrap(services.ErrTransient, "dispatch", "write request", path, err)
	}
	d.record(audit.EventSubmitted, req.ID, map[string]any{"action": string(action), "target_id": targetID})
	return SubmitReport{RequestID: req.ID, RequestPath: path}, nil
}

// CollectReport describes what Collect applied.
type CollectReport struct {
	Requests []string
	Done     []string
	Failed   []string
	Released []string
	Waiting  int
}

// Collect applies every available result to the items still processing
// under its request.
func (d *Dispatcher) Collect(ctx context.Context) (CollectReport, error) {
	processing, err := d.store.List(ctx, queue.StatusProcessing)
	if err != nil {
		return CollectReport{}, err
	}
	byRequest := make(map[string][]*queue.Item)
	var order []string
	for _, item := range processing {
		if _, ok := byRequest[item.RequestID]; !ok {
			order = append(order, item.RequestID)
		}
		byRequest[item.RequestID] = append(byRequest[item.RequestID], item)
	}

	var report CollectReport
	for _, rid := range order {
		items := byRequest[rid]
		path := filepath.Join(d.cfg.Dispatch.ResultsDir, rid+".json")
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				report.Waiting += len(items)
				continue
			}
			return report, fmt.Errorf("read result %s: %w", path, err)
		}
		result, err := d.validator.DecodeResult(data)
		if err != nil {
			logging.WarnWithContext(d.logger, "ignoring invalid result", "dispatch_result_invalid",
				logging.String(logging.FieldRequestID, rid),
				logging.Error(err),
				logging.String(logging.FieldImpact, "items stay processing"))
			report.Waiting += len(items)
			continue
		}
		if err := d.apply(ctx, rid, path, result, items, &report); err != nil {
			return report, err
		}
		report.Requests = append(report.Requests, rid)
	}
	return report, nil
}

func (d *Dispatcher) apply(ctx context.Context, rid, path string, result contract.WorkResult, items []*queue.Item, report *CollectReport) error {
	ctx = services.WithRequestID(ctx, rid)
	for _, item := range items {
		switch {
		case hasTranscript(result, item.ID):
			if _, err := d.store.MarkDone(ctx, item.ID, path+"#"+item.ID); err != nil {
				return fmt.Errorf("mark done %s: %w", item.ID, err)
			}
			report.Done = append(report.Done, item.ID)
		case hasFailure(result, item.ID):
			f, _ := result.FailureByID(item.ID)
			if _, err := d.store.MarkFailed(ctx, item.ID, f.Error); err != nil {
				return fmt.Errorf("mark failed %s: %w", item.ID, err)
			}
			report.Failed = append(report.Failed, item.ID)
		default:
			reason := "not processed by " + rid
			if result.Error != "" {
				reason = result.Error
			}
			if _, err := d.store.Release(ctx, item.ID, reason); err != nil {
				return fmt.Errorf("release %s: %w", item.ID, err)
			}
			report.Released = append(report.Released, item.ID)
			continue
		}
		_ = os.Remove(filepath.Join(d.cfg.Dispatch.MediaDir, item.ID+normalize.CanonicalExt))
	}
	logging.WithContext(ctx, d.logger).Info("result collected",
		logging.String("status", string(result.Status)),
		logging.Int("processed", result.ProcessedCount))
	d.record(audit.EventCollected, rid, map[string]any{
		"status":          string(result.Status),
		"processed_count": result.ProcessedCount,
	})
	return nil
}

func hasTranscript(result contract.WorkResult, id string) bool {
	_, ok := result.ItemByID(id)
	return ok
}

func hasFailure(result contract.WorkResult, id string) bool {
	_, ok := result.FailureByID(id)
	return ok
}

func (d *Dispatcher) record(event, id string, fields map[string]any) {
	if err := d.audit.Record(event, id, fields); err != nil {
		logging.WarnWithContext(d.logger, "audit append failed", "audit_write_failed",
			logging.String(logging.FieldRequestID, id),
			logging.Error(err),
			logging.String(logging.FieldImpact, "audit trail is missing an entry"))
	}
}
