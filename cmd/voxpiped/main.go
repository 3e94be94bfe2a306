// Command voxpiped runs the remote processing daemon as a service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"voxpipe/internal/config"
	"voxpipe/internal/daemon"
	"voxpipe/internal/logging"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "voxpiped:", err)
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:           "voxpiped",
		Short:         "Remote processing daemon",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, _, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.NewFromConfig(cfg, "daemon")
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			if err := daemon.RunFromConfig(cmd.Context(), cfg, logger); err != nil {
				logging.ErrorWithContext(logger, "daemon exited", "daemon_exit",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "run `voxpipe status` to check configuration and exchange access"))
				return err
			}
			logger.Info("voxpiped shut down")
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Configuration file path")
	return cmd
}
