package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"socketbot/pkg/config"
	"socketbot/pkg/gateway"
	"socketbot/pkg/logger"
	"socketbot/pkg/processor"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the socket channel server",
	Long:  "Serves the socket channel with health and readiness endpoints, handing user messages to the configured processor.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		cfg, err := config.LoadConfig()
		if err != nil {
			fmt.Printf("failed to load config: %v\n", err)
			return
		}

		appLogger, err := logger.New(cfg.Logging)
		if err != nil {
			fmt.Printf("failed to initialize logger: %v\n", err)
			return
		}
		slog.SetDefault(appLogger)
		log := slog.Default().With("component", "cmd.serve")

		proc, closer, err := processor.New(cfg, appLogger)
		if err != nil {
			log.Error("Failed to initialize processor", "type", cfg.Processor.Type, "error", err)
			return
		}
		defer func() {
			if err := closer.Close(); err != nil {
				log.Warn("Failed to close processor", "error", err)
			}
		}()

		svc, err := gateway.NewService(cfg, proc, appLogger)
		if err != nil {
			log.Error("Failed to initialize socket service", "error", err)
			return
		}

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Info("Serving socket channel", "processor", cfg.Processor.Type)
		if err := svc.Run(runCtx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Error("Socket service failed", "error", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
