package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"voxpipe/internal/config"
	"voxpipe/internal/metrics"
	"voxpipe/internal/queue"
	"voxpipe/internal/watcher"
)

type scanFlags struct {
	dryRun      bool
	limit       int
	maxDuration time.Duration
}

func (f *scanFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "Report what would be enqueued without touching the queue")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "Maximum new items per scan (default from config)")
	cmd.Flags().DurationVar(&f.maxDuration, "max-duration", 0, "Cap on cumulative audio duration per scan, e.g. 2h (default from config)")
}

func (f *scanFlags) options(cmd *cobra.Command, cfg *config.Config) watcher.ScanOptions {
	opts := watcher.ScanOptions{
		DryRun:      f.dryRun,
		Limit:       cfg.Watcher.BatchLimit,
		MaxDuration: cfg.Watcher.MaxDuration(),
	}
	if cmd.Flags().Changed("limit") {
		opts.Limit = f.limit
	}
	if cmd.Flags().Changed("max-duration") {
		opts.MaxDuration = f.maxDuration
	}
	return opts
}

func newScanCommand(ctx *commandContext) *cobra.Command {
	var flags scanFlags
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan the watch directory once and enqueue stable recordings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger("watcher")
			if err != nil {
				return err
			}
			auditLog, err := ctx.auditLog()
			if err != nil {
				return err
			}
			return ctx.withStore(func(store *queue.Store) error {
				w := watcher.New(cfg, store, watcher.WithLogger(logger), watcher.WithAudit(auditLog))
				if err := w.Preflight(); err != nil {
					return err
				}
				lock, err := w.Lock()
				if err != nil {
					return err
				}
				defer func() { _ = lock.Unlock() }()

				report, err := w.Scan(commandCtx(cmd), flags.options(cmd, cfg))
				printScanReport(cmd.OutOrStdout(), report)
				return err
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var flags scanFlags
	var metricsBind string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the inbox continuously until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger("watcher")
			if err != nil {
				return err
			}
			auditLog, err := ctx.auditLog()
			if err != nil {
				return err
			}

			reg := prom.NewRegistry()
			recorder := metrics.NewPrometheusRecorder(reg)
			runCtx := commandCtx(cmd)
			if metricsBind != "" {
				server := &http.Server{Addr: metricsBind, Handler: metrics.HTTPHandler(reg), ReadHeaderTimeout: 5 * time.Second}
				go func() {
					if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Warn("metrics server stopped", "error", err)
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = server.Shutdown(shutdownCtx)
				}()
			}

			return ctx.withStore(func(store *queue.Store) error {
				w := watcher.New(cfg, store,
					watcher.WithLogger(logger),
					watcher.WithAudit(auditLog),
					watcher.WithMetrics(recorder))
				fmt.Fprintln(cmd.OutOrStdout(), w.Describe())
				return w.Run(runCtx, flags.options(cmd, cfg))
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&metricsBind, "metrics-bind", "", "Expose Prometheus metrics on this address, e.g. 127.0.0.1:9464")
	return cmd
}

func printScanReport(out io.Writer, report watcher.ScanReport) {
	prefix := ""
	if report.DryRun {
		prefix = "[dry-run] "
	}
	fmt.Fprintf(out, "%s%s\n", prefix, report.String())
	for _, id := range report.Enqueued {
		fmt.Fprintf(out, "  + %s\n", id)
	}
	for _, d := range report.Deferred {
		fmt.Fprintf(out, "  ~ %s (%s, age %s)\n", d.Path, d.Reason, d.Age.Round(time.Second))
	}
	for _, f := range report.Failed {
		fmt.Fprintf(out, "  ! %s: %s\n", f.Path, f.Reason)
	}
	for _, e := range report.Errors {
		fmt.Fprintf(out, "  ! %s\n", e)
	}
}
