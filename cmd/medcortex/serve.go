package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/medcortex/medcortex"
	"github.com/medcortex/medcortex/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP server",
	Long:  `Wires the engine from configuration and serves the MCP tool surface on the configured transport until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		client, err := medcortex.New(ctx, *cfg)
		if err != nil {
			return err
		}
		defer client.Close()

		return medcortex.Serve(ctx, client)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
