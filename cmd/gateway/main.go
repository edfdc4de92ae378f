package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lumachat/gateway/internal/app"
	"github.com/lumachat/gateway/internal/config"
	"github.com/lumachat/gateway/internal/log"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "gateway",
		Short:         "lumachat real-time gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "run the websocket gateway",
		RunE: func(cmd *cobra.Command, _ []string) error {
			bootLog := log.New("info")

			cfg, resolvedPath, err := config.Load(bootLog, configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			flags := cmd.Flags()
			if flags.Changed("addr") {
				cfg.Addr, _ = flags.GetString("addr")
			}
			if flags.Changed("log-level") {
				cfg.LogLevel, _ = flags.GetString("log-level")
			}
			if flags.Changed("db") {
				cfg.DatabasePath, _ = flags.GetString("db")
			}

			logger := log.New(cfg.LogLevel)
			logger.Info().Str("config", resolvedPath).Msg("configuration loaded")

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.New(ctx, &cfg, logger)
			if err != nil {
				return err
			}

			if err := application.Run(ctx); err != nil {
				return fmt.Errorf("gateway exited: %w", err)
			}
			logger.Info().Msg("gateway stopped")
			return nil
		},
	}
	serve.Flags().String("addr", "", "HTTP listen address")
	serve.Flags().String("log-level", "", "log level (trace..panic)")
	serve.Flags().String("db", "", "SQLite database path")

	root.AddCommand(serve)
	return root
}
