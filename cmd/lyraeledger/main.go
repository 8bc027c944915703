package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"LyraeLedger/internal/config"
	"LyraeLedger/internal/observability"
)

var configPath string

func rootCommand() *cobra.Command {
	c := &cobra.Command{
		Use:           "lyraeledger",
		Short:         "Cross-margined spot and perp ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	c.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	c.AddCommand(serveCommand(), snapshotCommand())
	return c
}

func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCommand().ExecuteContext(ctx); err != nil {
		log := observability.NewLogger("main")
		log.Error().Err(err).Msg("lyraeledger failed")
		os.Exit(1)
	}
}
