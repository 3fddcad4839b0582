package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix            = "TNCHAT"
	envConfigDefaultPath = "TNCHAT_CONFIG_DEFAULT_PATH"
	defaultConfigName    = "config.yaml"
	defaultClientName    = "client.yaml"
)

// Load builds broker configuration from defaults, optional config file, env vars, and returns the resolved path.
// Precedence: defaults < config file < env vars < caller overrides.
func Load(logger *zerolog.Logger, explicitPath string) (Config, string, error) {
	cfg := Default()

	v := newViper()
	v.SetDefault("addr", cfg.Addr)
	v.SetDefault("read_header_timeout", cfg.ReadHeaderTimeout)
	v.SetDefault("shutdown_timeout", cfg.ShutdownTimeout)
	v.SetDefault("max_message_bytes", cfg.MaxMessageBytes)
	v.SetDefault("rate_limit_per_min", cfg.RateLimitPerMin)
	v.SetDefault("database_path", cfg.DatabasePath)
	v.SetDefault("jwt_secret", cfg.JWTSecret)
	v.SetDefault("jwt_issuer", cfg.JWTIssuer)
	v.SetDefault("jwt_audience", cfg.JWTAudience)
	v.SetDefault("jwt_required", cfg.JWTRequired)
	v.SetDefault("token_ttl", cfg.TokenTTL)
	v.SetDefault("heartbeat", cfg.Heartbeat)
	v.SetDefault("log_level", cfg.LogLevel)

	configPath := resolveConfigPath(explicitPath, defaultConfigName)
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		if !isNotFound(err) {
			return cfg, configPath, fmt.Errorf("read config: %w", err)
		}
		if writeErr := writeDefaultConfig(configPath, cfg); writeErr != nil && logger != nil {
			logger.Warn().Err(writeErr).Str("path", configPath).Msg("failed to write default config")
		} else if logger != nil {
			logger.Info().Str("path", configPath).Msg("created default config")
		}
		// try reading again in case it was just written
		if readErr := v.ReadInConfig(); readErr != nil && logger != nil {
			logger.Warn().Err(readErr).Str("path", configPath).Msg("failed to read config after writing default")
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, configPath, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, configPath, nil
}

// LoadClient builds client configuration. A missing file is not an error and is not created:
// the client usually runs with flags and env vars only.
func LoadClient(logger *zerolog.Logger, explicitPath string) (ClientConfig, error) {
	cfg := DefaultClient()

	v := newViper()
	v.SetDefault("endpoint", cfg.Endpoint)
	v.SetDefault("api_base", cfg.APIBase)
	v.SetDefault("token", cfg.Token)
	v.SetDefault("nickname", cfg.Nickname)
	v.SetDefault("default_room", cfg.DefaultRoom)
	v.SetDefault("heartbeat_outgoing", cfg.HeartbeatOutgoing)
	v.SetDefault("heartbeat_incoming", cfg.HeartbeatIncoming)
	v.SetDefault("reconnect_delay", cfg.ReconnectDelay)
	v.SetDefault("failure_threshold", cfg.FailureThreshold)
	v.SetDefault("receipt_timeout", cfg.ReceiptTimeout)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_file", cfg.LogFile)

	configPath := resolveConfigPath(explicitPath, defaultClientName)
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		if !isNotFound(err) {
			return cfg, fmt.Errorf("read client config: %w", err)
		}
		if logger != nil {
			logger.Debug().Str("path", configPath).Msg("no client config file, using defaults and env")
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal client config: %w", err)
	}
	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func isNotFound(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)
}

func resolveConfigPath(explicitPath, name string) string {
	if explicitPath != "" {
		return explicitPath
	}

	if base := os.Getenv(envConfigDefaultPath); base != "" {
		if err := os.MkdirAll(base, 0o755); err == nil {
			return filepath.Join(base, name)
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return name
	}
	return filepath.Join(cwd, name)
}

func writeDefaultConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
