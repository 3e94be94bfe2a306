package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"voxpipe/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and repair the ingest queue",
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueReplayCommand(ctx))

	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var listStatuses []string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queue items",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses := make([]queue.Status, 0, len(listStatuses))
			for _, raw := range listStatuses {
				status, ok := queue.ParseStatus(raw)
				if !ok {
					return fmt.Errorf("unknown status %q (want one of %s)", raw, joinStatuses())
				}
				statuses = append(statuses, status)
			}
			return ctx.withStore(func(store *queue.Store) error {
				items, err := store.List(commandCtx(cmd), statuses...)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, items)
				}
				if len(items) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Status", "File", "Duration", "Request", "Updated"},
					buildQueueListRows(items),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&listStatuses, "status", "s", nil, "Filter by queue status (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print items as JSON")
	return cmd
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <item-id>",
		Short: "Show one item and its event history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				item, err := store.Get(commandCtx(cmd), args[0])
				if err != nil {
					if errors.Is(err, queue.ErrNotFound) {
						return fmt.Errorf("item %s not found", args[0])
					}
					return err
				}
				events, err := store.ItemEvents(commandCtx(cmd), item.ID)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Item:      %s\n", item.ID)
				fmt.Fprintf(out, "Status:    %s\n", item.Status)
				fmt.Fprintf(out, "Source:    %s\n", item.SourcePath)
				if item.NormalizedPath != "" {
					fmt.Fprintf(out, "Audio:     %s\n", item.NormalizedPath)
				}
				fmt.Fprintf(out, "Duration:  %s\n", formatDuration(item.Duration()))
				if item.RequestID != "" {
					fmt.Fprintf(out, "Request:   %s\n", item.RequestID)
				}
				if item.ResultRef != "" {
					fmt.Fprintf(out, "Result:    %s\n", item.ResultRef)
				}
				if item.Error != "" {
					fmt.Fprintf(out, "Error:     %s\n", item.Error)
				}
				fmt.Fprintf(out, "Attempts:  %d (retries %d)\n", item.Attempts, item.RetryCount)

				rows := make([][]string, 0, len(events))
				for _, ev := range events {
					rows = append(rows, []string{
						fmt.Sprintf("%d", ev.Seq),
						ev.CreatedAt.Local().Format(time.DateTime),
						string(ev.Type),
						describePayload(ev.Payload),
					})
				}
				fmt.Fprint(out, renderTable([]string{"Seq", "At", "Event", "Detail"}, rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft}))
				return nil
			})
		},
	}
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "retry <item-id>...",
		Short: "Return failed items to pending",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				out := cmd.OutOrStdout()
				var failed []string
				for _, id := range args {
					if _, err := store.Requeue(commandCtx(cmd), id, reason); err != nil {
						fmt.Fprintf(out, "%s: %v\n", id, err)
						failed = append(failed, id)
						continue
					}
					fmt.Fprintf(out, "%s: pending\n", id)
				}
				if len(failed) > 0 {
					return fmt.Errorf("could not requeue %d item(s)", len(failed))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "manual retry", "Reason recorded on the requeue event")
	return cmd
}

func newQueueReplayCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "replay",
		Short: "Rebuild item state from the event log and report per-status counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				summary, err := store.Summary(commandCtx(cmd), 0)
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(queue.AllStatuses()))
				for _, status := range queue.AllStatuses() {
					rows = append(rows, []string{string(status), fmt.Sprintf("%d", summary.Counts[status])})
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Replayed %d events into %d items\n", summary.Events, summary.Total)
				fmt.Fprint(out, renderTable([]string{"Status", "Items"}, rows, []columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}
}

func buildQueueListRows(items []*queue.Item) [][]string {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		name := item.FileName
		if item.Status == queue.StatusFailed && item.Error != "" {
			name += " (" + truncate(item.Error, 40) + ")"
		}
		rows = append(rows, []string{
			item.ID,
			string(item.Status),
			name,
			formatDuration(item.Duration()),
			item.RequestID,
			item.UpdatedAt.Local().Format(time.DateTime),
		})
	}
	return rows
}

func describePayload(p queue.Payload) string {
	var parts []string
	if p.FileName != "" {
		parts = append(parts, "file="+p.FileName)
	}
	if p.RequestID != "" {
		parts = append(parts, "request="+p.RequestID)
	}
	if p.ResultRef != "" {
		parts = append(parts, "result="+p.ResultRef)
	}
	if p.Reason != "" {
		parts = append(parts, "reason="+p.Reason)
	}
	return strings.Join(parts, " ")
}

func joinStatuses() string {
	names := make([]string, 0, 4)
	for _, s := range queue.AllStatuses() {
		names = append(names, string(s))
	}
	return strings.Join(names, ", ")
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Second).String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
