package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bootwake/bootwaked/internal/config"
	"github.com/bootwake/bootwaked/internal/daemon"
	"github.com/bootwake/bootwaked/internal/logger"
)

func main() {
	root := &cobra.Command{
		Use:   "bootwaked",
		Short: "remote boot orchestrator daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")

			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			if err := logger.Init(cfg.LogLevel, ""); err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.Log.Info("bootwaked starting", "agent_addr", cfg.AgentAddr, "http_addr", cfg.HTTPAddr)
			return daemon.Run(ctx, cfg, configPath, logger.Log)
		},
	}

	root.Flags().String("config", "bootwaked.yaml", "path to the YAML config file")

	if err := root.Execute(); err != nil {
		slog.Error("bootwaked exited with error", "error", err)
		os.Exit(1)
	}
}
