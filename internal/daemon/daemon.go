package daemon

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"voxpipe/internal/audit"
	"voxpipe/internal/config"
	"voxpipe/internal/contract"
	"voxpipe/internal/logging"
	"voxpipe/internal/metrics"
	"voxpipe/internal/services"
	"voxpipe/internal/transcribe"
)

// ErrClaimLost reports that another daemon renamed the request first.
var ErrClaimLost = errors.New("request already claimed")

// Daemon claims and answers work requests.
type Daemon struct {
	cfg        *config.Config
	validator  *contract.Validator
	providers  []transcribe.Provider
	chain      *transcribe.Chain
	audit      audit.Recorder
	metrics    metrics.Recorder
	metricsMux http.Handler
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// Option customizes a Daemon.
type Option func(*Daemon)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Daemon) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithAudit sets the audit trail.
func WithAudit(r audit.Recorder) Option {
	return func(d *Daemon) {
		if r != nil {
			d.audit = r
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r metrics.Recorder) Option {
	return func(d *Daemon) {
		d.metrics = metrics.OrNoop(r)
	}
}

// WithMetricsHandler exposes h on the configured metrics bind address.
func WithMetricsHandler(h http.Handler) Option {
	return func(d *Daemon) {
		d.metricsMux = h
	}
}

// WithHTTPClient sets the HTTP client shared by the configured providers.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Daemon) {
		d.httpClient = client
	}
}

// WithProviders replaces the providers built from configuration.
func WithProviders(providers ...transcribe.Provider) Option {
	return func(d *Daemon) {
		d.providers = providers
	}
}

// WithClock overrides time.Now (useful for tests).
func WithClock(now func() time.Time) Option {
	return func(d *Daemon) {
		if now != nil {
			d.now = now
		}
	}
}

// New constructs a Daemon. It fails with a configuration error when no
// transcription provider carries a credential.
func New(cfg *config.Config, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "daemon", "init", "config is required", nil)
	}
	validator, err := contract.NewValidator()
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "daemon", "load contract", "schema did not compile", err)
	}
	d := &Daemon{
		cfg:       cfg,
		validator: validator,
		audit:     audit.Nop{},
		metrics:   metrics.NoopRecorder{},
		logger:    logging.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = logging.NewComponentLogger(d.logger, "daemon")

	if d.providers == nil {
		d.providers, err = transcribe.ProvidersFromConfig(cfg, transcribe.WithHTTPClient(d.httpClient))
		if err != nil {
			return nil, err
		}
	}
	d.chain, err = transcribe.NewChain(d.providers,
		transcribe.WithMaxAttempts(cfg.Daemon.MaxAttempts),
		transcribe.WithRetryDelay(cfg.Daemon.RetryDelay()),
		transcribe.WithCallTimeout(cfg.Daemon.ProviderTimeout()),
		transcribe.WithObserver(d.observeAttempt),
	)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Providers returns the provider names in fallback order.
func (d *Daemon) Providers() []string {
	return d.chain.Providers()
}

func (d *Daemon) observeAttempt(a transcribe.Attempt) {
	success := a.Err == nil
	d.metrics.IncProviderAttempt(a.Provider, success)
	d.metrics.ObserveProviderDuration(a.Provider, a.Elapsed)
	fields := map[string]any{
		"provider":   a.Provider,
		"attempt":    a.Number,
		"success":    success,
		"elapsed_ms": a.Elapsed.Milliseconds(),
		"item_id":    a.Request.ItemID,
	}
	if a.Err != nil {
		fields["error"] = a.Err.Error()
		logging.WarnWithContext(d.logger, "provider attempt failed", "provider_attempt_failed",
			logging.String(logging.FieldProvider, a.Provider),
			logging.String(logging.FieldRequestID, a.Request.RequestID),
			logging.String(logging.FieldItemID, a.Request.ItemID),
			logging.Int("attempt", a.Number),
			logging.Error(a.Err),
			logging.String(logging.FieldImpact, "retrying or falling back to the next provider"))
	}
	d.record(audit.EventProviderAttempt, a.Request.RequestID, fields)
}

func (d *Daemon) record(event, id string, fields map[string]any) {
	if err := d.audit.Record(event, id, fields); err != nil {
		logging.WarnWithContext(d.logger, "audit append failed", "audit_write_failed",
			logging.String(logging.FieldRequestID, id),
			logging.String("audit_event", event),
			logging.Error(err),
			logging.String(logging.FieldImpact, "audit trail is missing an entry"))
	}
}
