// Package config provides configuration management for metaview using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort       = 8080
	defaultServerTimeout    = 30 * time.Second
	defaultShutdownTimeout  = 10 * time.Second
	defaultClientTimeout    = 30 * time.Second
	defaultRetryAttempts    = 3
	defaultRetryDelay       = 1 * time.Second
	defaultCircuitThreshold = 5
	defaultCircuitTimeout   = 30 * time.Second
	defaultPollInterval     = 2 * time.Second
	defaultMaxPlaylistBytes = 256 * 1024
	defaultMaxFetchErrors   = 6
	defaultWatchDuration    = 30 * time.Second
	defaultExportDir        = "exports"
	defaultResolveTimeout   = 15 * time.Second
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Client   ClientConfig   `mapstructure:"client"`
	Session  SessionConfig  `mapstructure:"session"`
	Resolver ResolverConfig `mapstructure:"resolver"`
	Export   ExportConfig   `mapstructure:"export"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// ClientConfig holds outbound HTTP client configuration.
type ClientConfig struct {
	Timeout          time.Duration `mapstructure:"timeout"`
	RetryAttempts    int           `mapstructure:"retry_attempts"`
	RetryDelay       time.Duration `mapstructure:"retry_delay"`
	CircuitThreshold int           `mapstructure:"circuit_threshold"`
	CircuitTimeout   time.Duration `mapstructure:"circuit_timeout"`
	UserAgent        string        `mapstructure:"user_agent"`
}

// SessionConfig holds playback session configuration.
type SessionConfig struct {
	// PollInterval is the fallback media playlist poll interval when the
	// playlist does not advertise a target duration.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// MaxPlaylistBytes caps the size of a fetched manifest.
	MaxPlaylistBytes int `mapstructure:"max_playlist_bytes"`
	// MaxFetchErrors is the number of consecutive fetch failures before the
	// player reports a fatal network error.
	MaxFetchErrors int `mapstructure:"max_fetch_errors"`
	// WatchDuration is the default foreground watch duration for the CLI.
	WatchDuration time.Duration `mapstructure:"watch_duration"`
}

// EnvironmentConfig holds one environment entry in the channel lookup table.
type EnvironmentConfig struct {
	Path string `mapstructure:"path"`
}

// ChannelConfig holds one channel entry in the channel lookup table.
type ChannelConfig struct {
	Category string `mapstructure:"category"`
	// Env optionally overrides the category endpoint per environment. The
	// category table must still carry an entry for that environment.
	Env map[string]EnvironmentConfig `mapstructure:"env"`
	// Pattern optionally overrides the category request pattern.
	Pattern string `mapstructure:"pattern"`
}

// ResolverConfig holds the channel resolution lookup tables and credentials.
type ResolverConfig struct {
	// Environments maps category -> environment name -> lookup endpoint.
	Environments map[string]map[string]EnvironmentConfig `mapstructure:"environments"`
	// Patterns maps category -> default request pattern.
	Patterns map[string]string `mapstructure:"patterns"`
	// Channels maps channel name (lowercase) -> channel configuration.
	Channels map[string]ChannelConfig `mapstructure:"channels"`
	// Timeout is the resolution request timeout.
	Timeout time.Duration `mapstructure:"timeout"`
	// APIKey is an optional bearer credential for the lookup service.
	// Redacted from logs.
	APIKey string `mapstructure:"api_key"`
}

// ExportConfig holds session export configuration.
type ExportConfig struct {
	// Dir is the directory export files are written into.
	Dir string `mapstructure:"dir"`
}

// SetDefaults sets default configuration values on the given Viper instance.
// Call this before reading the config file so defaults apply to missing keys.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)

	v.SetDefault("client.timeout", defaultClientTimeout)
	v.SetDefault("client.retry_attempts", defaultRetryAttempts)
	v.SetDefault("client.retry_delay", defaultRetryDelay)
	v.SetDefault("client.circuit_threshold", defaultCircuitThreshold)
	v.SetDefault("client.circuit_timeout", defaultCircuitTimeout)

	v.SetDefault("session.poll_interval", defaultPollInterval)
	v.SetDefault("session.max_playlist_bytes", defaultMaxPlaylistBytes)
	v.SetDefault("session.max_fetch_errors", defaultMaxFetchErrors)
	v.SetDefault("session.watch_duration", defaultWatchDuration)

	v.SetDefault("resolver.timeout", defaultResolveTimeout)

	v.SetDefault("export.dir", defaultExportDir)
}

// Load unmarshals configuration from the given Viper instance.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be 0-65535, got %d", c.Server.Port))
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level))
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "text":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format))
	}

	if c.Session.MaxPlaylistBytes < 0 {
		errs = append(errs, fmt.Errorf("session.max_playlist_bytes must not be negative, got %d", c.Session.MaxPlaylistBytes))
	}

	// Every channel must point at a known category.
	for name, ch := range c.Resolver.Channels {
		if ch.Category == "" {
			errs = append(errs, fmt.Errorf("resolver.channels.%s: category is required", name))
			continue
		}
		if _, ok := c.Resolver.Environments[ch.Category]; !ok {
			errs = append(errs, fmt.Errorf("resolver.channels.%s: category %q has no environment table", name, ch.Category))
		}
	}

	return errors.Join(errs...)
}
