package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"voxpipe/internal/deps"
	"voxpipe/internal/preflight"
	"voxpipe/internal/queue"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var probe bool
	var recent int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show configuration health and queue state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			color := shouldColorize(out)
			var lines []string

			lines = append(lines, renderSectionHeader("Configuration", color))
			lines = append(lines, renderStatusLine("Config file", statusInfo, ctx.configPath, color))
			lines = append(lines, renderStatusLine("Watch directory", statusInfo, cfg.Paths.WatchDir, color))

			lines = append(lines, "", renderSectionHeader("Dependencies", color))
			for _, st := range deps.CheckBinaries(deps.WatcherRequirements(cfg)) {
				kind, msg := statusOK, st.Path
				if !st.Available {
					kind, msg = statusError, st.Detail
					if st.Optional {
						kind = statusWarn
					}
				}
				lines = append(lines, renderStatusLine(st.Name, kind, msg, color))
			}

			lines = append(lines, "", renderSectionHeader("Directories", color))
			for _, r := range preflight.RunWatcher(cfg) {
				lines = append(lines, resultLine(r, statusError, color))
			}
			for _, r := range preflight.RunDaemon(cfg) {
				// Daemon directories usually live on another host.
				lines = append(lines, resultLine(r, statusWarn, color))
			}

			lines = append(lines, "", renderSectionHeader("Providers", color))
			lines = append(lines, resultLine(preflight.CheckProviders(cfg), statusWarn, color))
			if probe {
				for _, name := range cfg.ConfiguredProviders() {
					p, _ := cfg.Provider(name)
					lines = append(lines, resultLine(preflight.CheckProviderEndpoint(commandCtx(cmd), name, p.BaseURL, p.APIKey), statusError, color))
				}
			}

			fmt.Fprintln(out, strings.Join(lines, "\n"))

			return ctx.withStore(func(store *queue.Store) error {
				summary, err := store.Summary(commandCtx(cmd), recent)
				if err != nil {
					return err
				}
				fmt.Fprintln(out)
				fmt.Fprintln(out, renderSectionHeader("Queue", color))
				rows := make([][]string, 0, len(queue.AllStatuses()))
				for _, status := range queue.AllStatuses() {
					rows = append(rows, []string{string(status), fmt.Sprintf("%d", summary.Counts[status])})
				}
				fmt.Fprint(out, renderTable([]string{"Status", "Items"}, rows, []columnAlignment{alignLeft, alignRight}))
				if len(summary.Recent) > 0 {
					recentRows := make([][]string, 0, len(summary.Recent))
					for _, item := range summary.Recent {
						recentRows = append(recentRows, []string{item.ID, string(item.Status), item.FileName, item.UpdatedAt.Local().Format(time.DateTime)})
					}
					fmt.Fprint(out, renderTable([]string{"Recent", "Status", "File", "Updated"}, recentRows, nil))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&probe, "probe", false, "Call each configured provider's models endpoint")
	cmd.Flags().IntVar(&recent, "recent", 5, "Number of recently updated items to show")
	return cmd
}

func resultLine(r preflight.Result, failKind statusKind, color bool) string {
	if r.Passed {
		return renderStatusLine(r.Name, statusOK, r.Detail, color)
	}
	return renderStatusLine(r.Name, failKind, r.Detail, color)
}
