package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/terminalnexus/tnchat/internal/app"
	"github.com/terminalnexus/tnchat/internal/config"
	"github.com/terminalnexus/tnchat/internal/log"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		overrides  config.Config
	)

	cmd := &cobra.Command{
		Use:           "tnchat-broker",
		Short:         "STOMP over WebSocket chat broker",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			bootstrap := log.New("info")
			cfg, path, err := config.Load(bootstrap, configPath)
			if err != nil {
				bootstrap.Error().Err(err).Str("path", path).Msg("failed to load config")
				return err
			}
			cfg.UpdateFrom(overrides)

			logger := log.New(cfg.LogLevel)
			logger.Info().Str("config", path).Msg("config loaded")
			if cfg.JWTSecret == config.Default().JWTSecret {
				logger.Warn().Msg("jwt secret is the built-in default, set jwt_secret or TNCHAT_JWT_SECRET")
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.New(&cfg, logger)
			if err != nil {
				logger.Error().Err(err).Msg("failed to initialize broker")
				return err
			}

			logger.Info().Str("addr", cfg.Addr).Msg("starting tnchat broker")
			if err := application.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("broker exited with error")
				return err
			}
			logger.Info().Msg("broker stopped")
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "path to config file (default ./config.yaml or $TNCHAT_CONFIG_DEFAULT_PATH/config.yaml)")
	flags.StringVar(&overrides.Addr, "addr", "", "HTTP listen address")
	flags.StringVar(&overrides.DatabasePath, "db", "", "SQLite database path")
	flags.StringVar(&overrides.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.BoolVar(&overrides.JWTRequired, "jwt-required", false, "reject STOMP connections without a valid token")
	flags.DurationVar(&overrides.Heartbeat, "heartbeat", 0, "heart-beat interval offered to clients")
	return cmd
}
