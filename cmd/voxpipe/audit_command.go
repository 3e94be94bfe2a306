package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"voxpipe/internal/audit"
)

func newAuditCommand(ctx *commandContext) *cobra.Command {
	var daemonTrail bool
	var tail int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "audit [id]",
		Short: "Print the audit trail, optionally for one request or item",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path := cfg.Paths.AuditLog
			if daemonTrail {
				path = cfg.Daemon.AuditLog
			}
			entries, err := audit.ReadAll(path)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				entries = audit.Filter(entries, args[0])
			}
			if tail > 0 && len(entries) > tail {
				entries = entries[len(entries)-tail:]
			}
			if asJSON {
				return writeJSON(cmd, entries)
			}
			if len(entries) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No audit entries in %s\n", path)
				return nil
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{e.TS.Local().Format(time.DateTime), e.Event, e.ID, formatFields(e.Fields)})
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"At", "Event", "ID", "Fields"}, rows, nil))
			return nil
		},
	}
	cmd.Flags().BoolVar(&daemonTrail, "daemon", false, "Read the daemon's audit trail instead of the watcher's")
	cmd.Flags().IntVarP(&tail, "tail", "n", 50, "Show only the last N entries (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print entries as JSON")
	return cmd
}

func formatFields(fields map[string]any) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return truncate(strings.Join(parts, " "), 80)
}
