package daemon

import (
	"context"
	"log/slog"

	prom "github.com/prometheus/client_golang/prometheus"

	"voxpipe/internal/audit"
	"voxpipe/internal/config"
	"voxpipe/internal/metrics"
)

// RunFromConfig wires the audit trail and Prometheus metrics from cfg and
// runs a daemon until ctx is cancelled.
func RunFromConfig(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	auditLog, err := audit.Open(cfg.Daemon.AuditLog)
	if err != nil {
		return err
	}
	reg := prom.NewRegistry()
	d, err := New(cfg,
		WithLogger(logger),
		WithAudit(auditLog),
		WithMetrics(metrics.NewPrometheusRecorder(reg)),
		WithMetricsHandler(metrics.HTTPHandler(reg)),
	)
	if err != nil {
		return err
	}
	return d.Run(ctx)
}
