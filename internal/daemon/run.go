package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-co-op/gocron/v2"

	"voxpipe/internal/audit"
	"voxpipe/internal/logging"
	"voxpipe/internal/services"
)

const cacheSweepInterval = time.Hour

// PollOnce claims and answers every pending request and returns how many
// this daemon answered. Requests taken by another daemon are skipped.
func (d *Daemon) PollOnce(ctx context.Context) (int, error) {
	names, err := d.Pending()
	if err != nil {
		return 0, services.Wrap(services.ErrTransient, "daemon", "list requests", d.cfg.Daemon.RequestsDir, err)
	}
	handled := 0
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return handled, err
		}
		path, err := d.Claim(name)
		if err != nil {
			if errors.Is(err, ErrClaimLost) {
				continue
			}
			return handled, services.Wrap(services.ErrTransient, "daemon", "claim", name, err)
		}
		if err := d.Process(ctx, path); err != nil {
			if ctx.Err() != nil {
				return handled, ctx.Err()
			}
			logging.ErrorWithContext(d.logger, "request processing failed", "request_failed",
				logging.String(logging.FieldPath, path),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "inspect the results directory permissions and free space"),
				logging.String(logging.FieldImpact, "request stays in flight until the next restart"))
			d.record(audit.EventError, requestID(name), map[string]any{"stage": "process", "error": err.Error()})
			continue
		}
		handled++
	}
	return handled, nil
}

// Run prepares the exchange and answers requests until ctx is cancelled.
// New request files wake the loop early; the poll interval is the fallback.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Prepare(ctx); err != nil {
		return err
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	if _, err := scheduler.NewJob(
		gocron.DurationJob(cacheSweepInterval),
		gocron.NewTask(func() { d.CleanupCache() }),
		gocron.WithName("cache-retention"),
	); err != nil {
		return fmt.Errorf("schedule cache retention: %w", err)
	}
	scheduler.Start()
	defer func() { _ = scheduler.Shutdown() }()

	if d.metricsMux != nil && d.cfg.Daemon.MetricsBind != "" {
		stop, err := d.serveMetrics(d.cfg.Daemon.MetricsBind)
		if err != nil {
			return err
		}
		defer stop()
	}

	wake := make(chan struct{}, 1)
	if fw, err := fsnotify.NewWatcher(); err != nil {
		logging.WarnWithContext(d.logger, "filesystem notifications unavailable", "daemon_fsnotify_unavailable",
			logging.Error(err),
			logging.String(logging.FieldImpact, "falling back to interval polling only"))
	} else {
		defer fw.Close()
		if err := fw.Add(d.cfg.Daemon.RequestsDir); err != nil {
			logging.WarnWithContext(d.logger, "cannot watch requests directory", "daemon_fsnotify_unavailable",
				logging.String(logging.FieldPath, d.cfg.Daemon.RequestsDir),
				logging.Error(err),
				logging.String(logging.FieldImpact, "falling back to interval polling only"))
		} else {
			go forwardEvents(ctx, fw, wake)
		}
	}

	interval := d.cfg.Daemon.PollInterval()
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := d.PollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				d.logger.Info("daemon stopped")
				return nil
			}
			logging.ErrorWithContext(d.logger, "poll failed", "daemon_poll_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the exchange directories"))
		}
		select {
		case <-ctx.Done():
			d.logger.Info("daemon stopped")
			return nil
		case <-ticker.C:
		case <-wake:
		}
	}
}

func (d *Daemon) serveMetrics(bind string) (func(), error) {
	listener, err := net.Listen("tcp", bind)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "daemon", "metrics listen", bind, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", d.metricsMux)
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.WarnWithContext(d.logger, "metrics server stopped", "metrics_server_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "metrics no longer exported"))
		}
	}()
	d.logger.Info("metrics exported", logging.String("bind", listener.Addr().String()))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}, nil
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
			if ev.Op&(fsnotify.Create|fsnotify.Rename) == 0 {
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

func requestID(name string) string {
	if len(name) > len(requestExt) {
		return name[:len(name)-len(requestExt)]
	}
	return name
}
