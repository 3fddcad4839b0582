package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/terminalnexus/tnchat/internal/api"
	"github.com/terminalnexus/tnchat/internal/auth"
	"github.com/terminalnexus/tnchat/internal/config"
	"github.com/terminalnexus/tnchat/internal/log"
	"github.com/terminalnexus/tnchat/internal/session"
)

type rootOptions struct {
	configPath string
	endpoint   string
	apiBase    string
	token      string
	nickname   string
	room       string
	logLevel   string
	logFile    string
}

var opts rootOptions

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tnchat",
		Short:         "Terminal chat client for the tnchat broker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "client config file (default ./client.yaml or $TNCHAT_CONFIG_DEFAULT_PATH/client.yaml)")
	pf.StringVar(&opts.endpoint, "endpoint", "", "broker STOMP WebSocket endpoint")
	pf.StringVar(&opts.apiBase, "api", "", "broker REST API base URL")
	pf.StringVar(&opts.token, "token", "", "access token (default: a fresh guest token)")
	pf.StringVarP(&opts.nickname, "nickname", "n", "", "username for login")
	pf.StringVarP(&opts.room, "room", "r", "", "room to join on start")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVar(&opts.logFile, "log-file", "", "write logs to this file instead of stderr")

	root.AddCommand(
		newLoginCmd(),
		newRoomsCmd(),
		newHistoryCmd(),
		newChatCmd(),
		newTUICmd(),
	)
	return root
}

// loadConfig resolves the client configuration and applies the flags the user set.
func loadConfig(cmd *cobra.Command) (config.ClientConfig, error) {
	cfg, err := config.LoadClient(nil, opts.configPath)
	if err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	if flags.Changed("endpoint") {
		cfg.Endpoint = opts.endpoint
	}
	if flags.Changed("api") {
		cfg.APIBase = opts.apiBase
	}
	if flags.Changed("token") {
		cfg.Token = opts.token
	}
	if flags.Changed("nickname") {
		cfg.Nickname = opts.nickname
	}
	if flags.Changed("room") {
		cfg.DefaultRoom = opts.room
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}
	if flags.Changed("log-file") {
		cfg.LogFile = opts.logFile
	}
	return cfg, nil
}

// newLogger returns the client logger and a function closing its output. Without a
// log file the logger writes to fallback; a nil fallback disables logging.
func newLogger(cfg config.ClientConfig, fallback io.Writer) (*zerolog.Logger, func(), error) {
	if cfg.LogFile == "" {
		if fallback == nil {
			return log.Nop(), func() {}, nil
		}
		return log.NewTo(fallback, cfg.LogLevel), func() {}, nil
	}
	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return log.NewTo(f, cfg.LogLevel), func() { _ = f.Close() }, nil
}

// authenticate returns an API client bound to a valid token and the identity behind
// it. Without a configured token a guest token is requested.
func authenticate(ctx context.Context, cfg *config.ClientConfig, logger *zerolog.Logger) (*api.Client, auth.Identity, error) {
	client := api.New(cfg.APIBase, cfg.Token)
	if cfg.Token == "" {
		token, err := client.Guest(ctx)
		if err != nil {
			return nil, auth.Identity{}, fmt.Errorf("request guest token: %w", err)
		}
		cfg.Token = token
		client = client.WithToken(token)
		logger.Debug().Msg("no token configured, using a guest identity")
	}

	me, err := client.Me(ctx)
	if err != nil {
		return nil, auth.Identity{}, fmt.Errorf("resolve identity: %w", err)
	}
	return client, me, nil
}

// startSession authenticates, starts the session loop and connects to the broker.
func startSession(ctx context.Context, cfg config.ClientConfig, logger *zerolog.Logger) (*session.Session, *api.Client, error) {
	client, me, err := authenticate(ctx, &cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	s := session.New(
		session.DialerFromConfig(cfg),
		client,
		session.OptionsFromConfig(cfg, strconv.FormatInt(me.UserID, 10), me.Username, cfg.Token),
		logger,
	)
	go s.Run(ctx)

	if err := s.Connect(ctx); err != nil {
		_ = s.Close()
		return nil, nil, fmt.Errorf("connect to %s: %w", cfg.Endpoint, err)
	}
	logger.Info().Str("nickname", me.Username).Str("endpoint", cfg.Endpoint).Msg("connected")
	return s, client, nil
}
