package config

import "time"

// Config holds broker server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	MaxMessageBytes   int64         `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	RateLimitPerMin   int           `mapstructure:"rate_limit_per_min" yaml:"rate_limit_per_min"`
	DatabasePath      string        `mapstructure:"database_path" yaml:"database_path"`
	JWTSecret         string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer         string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience       string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	JWTRequired       bool          `mapstructure:"jwt_required" yaml:"jwt_required"`
	TokenTTL          time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`
	Heartbeat         time.Duration `mapstructure:"heartbeat" yaml:"heartbeat"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		MaxMessageBytes:   64 << 10,
		RateLimitPerMin:   120,
		DatabasePath:      "tnchat.db",
		JWTSecret:         "change-me",
		JWTIssuer:         "tnchat",
		JWTAudience:       "tnchat",
		JWTRequired:       false,
		TokenTTL:          24 * time.Hour,
		Heartbeat:         4 * time.Second,
		LogLevel:          "info",
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.MaxMessageBytes != 0 {
		c.MaxMessageBytes = other.MaxMessageBytes
	}
	if other.RateLimitPerMin != 0 {
		c.RateLimitPerMin = other.RateLimitPerMin
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.JWTSecret != "" {
		c.JWTSecret = other.JWTSecret
	}
	if other.JWTIssuer != "" {
		c.JWTIssuer = other.JWTIssuer
	}
	if other.JWTAudience != "" {
		c.JWTAudience = other.JWTAudience
	}
	if other.JWTRequired {
		c.JWTRequired = true
	}
	if other.TokenTTL != 0 {
		c.TokenTTL = other.TokenTTL
	}
	if other.Heartbeat != 0 {
		c.Heartbeat = other.Heartbeat
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
}

// ClientConfig holds chat client settings.
type ClientConfig struct {
	Endpoint          string        `mapstructure:"endpoint" yaml:"endpoint"`
	APIBase           string        `mapstructure:"api_base" yaml:"api_base"`
	Token             string        `mapstructure:"token" yaml:"token"`
	Nickname          string        `mapstructure:"nickname" yaml:"nickname"`
	DefaultRoom       string        `mapstructure:"default_room" yaml:"default_room"`
	HeartbeatOutgoing time.Duration `mapstructure:"heartbeat_outgoing" yaml:"heartbeat_outgoing"`
	HeartbeatIncoming time.Duration `mapstructure:"heartbeat_incoming" yaml:"heartbeat_incoming"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay" yaml:"reconnect_delay"`
	FailureThreshold  int           `mapstructure:"failure_threshold" yaml:"failure_threshold"`
	ReceiptTimeout    time.Duration `mapstructure:"receipt_timeout" yaml:"receipt_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	LogFile           string        `mapstructure:"log_file" yaml:"log_file"`
}

// DefaultClient returns client defaults: 5s reconnect delay, 4s heart-beats both ways.
func DefaultClient() ClientConfig {
	return ClientConfig{
		Endpoint:          "ws://localhost:8080/ws-chat",
		APIBase:           "http://localhost:8080",
		DefaultRoom:       "public",
		HeartbeatOutgoing: 4 * time.Second,
		HeartbeatIncoming: 4 * time.Second,
		ReconnectDelay:    5 * time.Second,
		FailureThreshold:  3,
		ReceiptTimeout:    5 * time.Second,
		LogLevel:          "warn",
	}
}
