package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"voxpipe/internal/contract"
	"voxpipe/internal/dispatch"
	"voxpipe/internal/queue"
	"voxpipe/internal/transcribe"
)

func (c *commandContext) withDispatcher(fn func(*dispatch.Dispatcher, *queue.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := c.logger("cli")
	if err != nil {
		return err
	}
	auditLog, err := c.auditLog()
	if err != nil {
		return err
	}
	validator, err := contract.NewValidator()
	if err != nil {
		return err
	}
	return c.withStore(func(store *queue.Store) error {
		d := dispatch.New(cfg, store, validator, dispatch.WithLogger(logger), dispatch.WithAudit(auditLog))
		return fn(d, store)
	})
}

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var opts dispatch.SubmitOptions
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Hand pending items to the remote daemon as one work request",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Quality != "" && opts.Quality != transcribe.QualityStandard && opts.Quality != transcribe.QualityFast {
				return fmt.Errorf("unknown quality %q (want %s or %s)", opts.Quality, transcribe.QualityStandard, transcribe.QualityFast)
			}
			return ctx.withDispatcher(func(d *dispatch.Dispatcher, _ *queue.Store) error {
				report, err := d.Submit(commandCtx(cmd), opts)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(report.Items) == 0 {
					fmt.Fprintln(out, "Nothing pending to submit")
					return nil
				}
				prefix := ""
				if report.DryRun {
					prefix = "[dry-run] "
				}
				fmt.Fprintf(out, "%sRequest %s: %d item(s), %s of audio\n", prefix, displayID(report.RequestID), len(report.Items), formatDuration(report.Duration))
				for _, ref := range report.Items {
					fmt.Fprintf(out, "  %s  %s\n", ref.ItemID, formatDuration(time.Duration(ref.DurationSeconds*float64(time.Second))))
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum items in the request (default from config)")
	cmd.Flags().DurationVar(&opts.MaxDuration, "max-duration", 0, "Cap on cumulative audio duration, e.g. 90m")
	cmd.Flags().StringVar(&opts.Quality, "quality", "", "Transcription quality: standard or fast")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Show the selection without publishing a request")
	return cmd
}

func newCollectCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "collect",
		Short: "Apply daemon results to in-flight queue items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withDispatcher(func(d *dispatch.Dispatcher, _ *queue.Store) error {
				report, err := d.Collect(commandCtx(cmd))
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Collected %d result(s): %d done, %d failed, %d released, %d still waiting\n",
					len(report.Requests), len(report.Done), len(report.Failed), len(report.Released), report.Waiting)
				return err
			})
		},
	}
}

func newRemoteCommand(ctx *commandContext) *cobra.Command {
	remoteCmd := &cobra.Command{
		Use:   "remote",
		Short: "Send control requests to the remote daemon",
	}

	var wait time.Duration
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Ask the daemon for exchange counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.sendControl(cmd, contract.ActionStatus, "", wait)
		},
	}
	cancelCmd := &cobra.Command{
		Use:   "cancel <request-id>",
		Short: "Withdraw a request the daemon has not claimed yet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.sendControl(cmd, contract.ActionCancel, args[0], wait)
		},
	}
	for _, c := range []*cobra.Command{statusCmd, cancelCmd} {
		c.Flags().DurationVar(&wait, "wait", 30*time.Second, "How long to wait for the daemon's answer (0 returns immediately)")
		remoteCmd.AddCommand(c)
	}
	return remoteCmd
}

func (c *commandContext) sendControl(cmd *cobra.Command, action contract.Action, target string, wait time.Duration) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	return c.withDispatcher(func(d *dispatch.Dispatcher, _ *queue.Store) error {
		report, err := d.SubmitControl(commandCtx(cmd), action, target)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Submitted %s request %s\n", action, report.RequestID)
		if wait <= 0 {
			return nil
		}
		validator, err := contract.NewValidator()
		if err != nil {
			return err
		}
		result, err := waitForResult(cmd, validator, filepath.Join(cfg.Dispatch.ResultsDir, report.RequestID+".json"), wait)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Status: %s\n", result.Status)
		if result.Error != "" {
			fmt.Fprintf(out, "Error:  %s\n", result.Error)
		}
		if s := result.Summary; s != nil {
			fmt.Fprint(out, renderTable([]string{"Exchange", "Count"}, [][]string{
				{"requests pending", fmt.Sprintf("%d", s.RequestsPending)},
				{"requests in flight", fmt.Sprintf("%d", s.RequestsInflight)},
				{"results", fmt.Sprintf("%d", s.Results)},
				{"media files", fmt.Sprintf("%d", s.MediaFiles)},
			}, []columnAlignment{alignLeft, alignRight}))
		}
		return nil
	})
}

func waitForResult(cmd *cobra.Command, validator *contract.Validator, path string, wait time.Duration) (contract.WorkResult, error) {
	ctx := commandCtx(cmd)
	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		data, err := os.ReadFile(path)
		if err == nil {
			return validator.DecodeResult(data)
		}
		if !errors.Is(err, os.ErrNotExist) {
			return contract.WorkResult{}, err
		}
		if time.Now().After(deadline) {
			return contract.WorkResult{}, fmt.Errorf("no result at %s after %s; is the daemon running?", path, wait)
		}
		select {
		case <-ctx.Done():
			return contract.WorkResult{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func displayID(id string) string {
	if id == "" {
		return "(not assigned)"
	}
	return id
}
