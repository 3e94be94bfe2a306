package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"voxpipe/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool
	cmd := &cobra.Command{
		Use:       "logs [watcher|daemon|cli]",
		Short:     "Print a role's log file",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"watcher", "daemon", "cli"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			role := "watcher"
			if len(args) == 1 {
				role = args[0]
			}
			path := filepath.Join(cfg.Paths.LogDir, role+".log")
			out := cmd.OutOrStdout()

			tail, offset, err := logs.Last(path, lines)
			if err != nil {
				return err
			}
			for _, line := range tail {
				fmt.Fprintln(out, line)
			}
			if !follow {
				return nil
			}
			return logs.Follow(commandCtx(cmd), path, offset, func(line string) {
				fmt.Fprintln(out, line)
			})
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to print")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing lines as they are written")
	return cmd
}
