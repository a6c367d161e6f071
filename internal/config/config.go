// Package config provides configuration management for chunkplay using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "CHUNKPLAY"

// Default configuration values.
const (
	defaultServerPort             = 8080
	defaultServerTimeout          = 30 * time.Second
	defaultShutdownTimeout        = 10 * time.Second
	defaultBackendURL             = "http://127.0.0.1:3000"
	defaultBackendTimeout         = 30 * time.Second
	defaultBackendRetryDelay      = time.Second
	defaultCircuitBreakerThresh   = 5
	defaultCircuitBreakerTimeout  = 30 * time.Second
	defaultMaxChunkSize           = "16MB"
	defaultMimeType               = `audio/webm; codecs="opus"`
	defaultPrefetchThreshold      = 3 * time.Second
	defaultChunkDuration          = 5 * time.Second
	defaultMaxChunkRetries        = 5
	defaultRetryBackoff           = 500 * time.Millisecond
	defaultRetryMaxBackoff        = 8 * time.Second
	defaultEngineTickInterval     = 250 * time.Millisecond
	defaultEngineSpeed            = 1.0
	defaultEngineReadyDelay       = time.Duration(0)
	defaultEngineSourceOpenWindow = 10 * time.Second
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Backend  BackendConfig  `mapstructure:"backend"`
	Playback PlaybackConfig `mapstructure:"playback"`
	Engine   EngineConfig   `mapstructure:"engine"`
}

// ServerConfig holds control API server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// BackendConfig describes the streaming service that serves manifests and chunks.
type BackendConfig struct {
	BaseURL string `mapstructure:"base_url"`
	// AuthToken is sent as a bearer token when set. It is never logged.
	AuthToken               string        `mapstructure:"auth_token"`
	Timeout                 time.Duration `mapstructure:"timeout"`
	RetryAttempts           int           `mapstructure:"retry_attempts"` // transport-level retries, 0 by default
	RetryDelay              time.Duration `mapstructure:"retry_delay"`
	CircuitBreakerThreshold int           `mapstructure:"circuit_breaker_threshold"`
	CircuitBreakerTimeout   time.Duration `mapstructure:"circuit_breaker_timeout"`
	// MaxChunkSize caps a single response body. Supports values like "16MB".
	MaxChunkSize ByteSize `mapstructure:"max_chunk_size"`
}

// PlaybackConfig holds buffering controller configuration.
type PlaybackConfig struct {
	MimeType             string        `mapstructure:"mime_type"`
	PrefetchThreshold    time.Duration `mapstructure:"prefetch_threshold"`
	DefaultChunkDuration time.Duration `mapstructure:"default_chunk_duration"` // used when the manifest has no offsets
	MaxChunkRetries      int           `mapstructure:"max_chunk_retries"`      // 0 = retry forever
	RetryBackoff         time.Duration `mapstructure:"retry_backoff"`
	RetryMaxBackoff      time.Duration `mapstructure:"retry_max_backoff"`
}

// EngineConfig holds simulated playback engine configuration.
type EngineConfig struct {
	TickInterval time.Duration `mapstructure:"tick_interval"`
	// Speed scales the playback clock; 2.0 plays twice as fast as real time.
	Speed float64 `mapstructure:"speed"`
	// ReadyDelay postpones the source-ready signal after a buffer is created.
	ReadyDelay time.Duration `mapstructure:"ready_delay"`
	// SourceOpenTimeout bounds how long a load waits for source-ready.
	SourceOpenTimeout time.Duration `mapstructure:"source_open_timeout"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with CHUNKPLAY_ and use underscores for nesting.
// Example: CHUNKPLAY_BACKEND_BASE_URL=http://media:3000.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/chunkplay")
		v.AddConfigPath("$HOME/.chunkplay")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	return FromViper(v)
}

// FromViper decodes and validates configuration from an already populated
// viper instance. The CLI uses this with the global viper so flag bindings apply.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(DecodeHook())); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// DecodeHook returns the mapstructure hooks used to decode durations,
// byte sizes and comma separated lists.
func DecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	v.SetDefault("backend.base_url", defaultBackendURL)
	v.SetDefault("backend.auth_token", "")
	v.SetDefault("backend.timeout", defaultBackendTimeout)
	v.SetDefault("backend.retry_attempts", 0)
	v.SetDefault("backend.retry_delay", defaultBackendRetryDelay)
	v.SetDefault("backend.circuit_breaker_threshold", defaultCircuitBreakerThresh)
	v.SetDefault("backend.circuit_breaker_timeout", defaultCircuitBreakerTimeout)
	v.SetDefault("backend.max_chunk_size", defaultMaxChunkSize)

	v.SetDefault("playback.mime_type", defaultMimeType)
	v.SetDefault("playback.prefetch_threshold", defaultPrefetchThreshold)
	v.SetDefault("playback.default_chunk_duration", defaultChunkDuration)
	v.SetDefault("playback.max_chunk_retries", defaultMaxChunkRetries)
	v.SetDefault("playback.retry_backoff", defaultRetryBackoff)
	v.SetDefault("playback.retry_max_backoff", defaultRetryMaxBackoff)

	v.SetDefault("engine.tick_interval", defaultEngineTickInterval)
	v.SetDefault("engine.speed", defaultEngineSpeed)
	v.SetDefault("engine.ready_delay", defaultEngineReadyDelay)
	v.SetDefault("engine.source_open_timeout", defaultEngineSourceOpenWindow)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("backend.base_url must be an absolute http(s) URL")
	}
	if c.Backend.RetryAttempts < 0 {
		return fmt.Errorf("backend.retry_attempts must not be negative")
	}
	if c.Backend.MaxChunkSize < 0 {
		return fmt.Errorf("backend.max_chunk_size must not be negative")
	}

	if c.Playback.MimeType == "" {
		return fmt.Errorf("playback.mime_type is required")
	}
	if c.Playback.PrefetchThreshold <= 0 {
		return fmt.Errorf("playback.prefetch_threshold must be positive")
	}
	if c.Playback.DefaultChunkDuration <= 0 {
		return fmt.Errorf("playback.default_chunk_duration must be positive")
	}
	if c.Playback.MaxChunkRetries < 0 {
		return fmt.Errorf("playback.max_chunk_retries must not be negative")
	}
	if c.Playback.RetryMaxBackoff < c.Playback.RetryBackoff {
		return fmt.Errorf("playback.retry_max_backoff must be >= playback.retry_backoff")
	}

	if c.Engine.TickInterval <= 0 {
		return fmt.Errorf("engine.tick_interval must be positive")
	}
	if c.Engine.Speed <= 0 {
		return fmt.Errorf("engine.speed must be positive")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
