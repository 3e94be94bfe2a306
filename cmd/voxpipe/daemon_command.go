package main

import (
	"github.com/spf13/cobra"

	"voxpipe/internal/daemon"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the remote processing daemon in the foreground",
		Long: "Claims work requests from the exchange, transcribes their media and writes one result per request.\n" +
			"Several daemons may share an exchange; each request is answered once.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger("daemon")
			if err != nil {
				return err
			}
			return daemon.RunFromConfig(commandCtx(cmd), cfg, logger)
		},
	}
}
