package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for TrackView Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Channel  ChannelConfig  `yaml:"channel"`
	Tracking TrackingConfig `yaml:"tracking"`
	Playback PlaybackConfig `yaml:"playback"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig contains settings for the backend REST API.
type ServerConfig struct {
	// BaseURL is the root of the backend API, e.g. "https://track.example.com/v1".
	BaseURL string `yaml:"base_url" validate:"required,url"`

	// Token is the bearer token attached to API requests and the channel
	// connection. Empty means unauthenticated (development only).
	Token string `yaml:"token"`

	// Timeout is the per-request timeout in seconds.
	Timeout int `yaml:"timeout" validate:"min=1"`
}

// ChannelConfig contains settings for the push-channel connection.
type ChannelConfig struct {
	// URL is the websocket endpoint, e.g. "wss://track.example.com/ws".
	URL string `yaml:"url" validate:"required,url"`

	// PingInterval is the keepalive ping interval in seconds.
	// Zero disables client-side pings.
	PingInterval int `yaml:"ping_interval" validate:"min=0"`

	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig contains reconnection backoff settings.
//
// After an unexpected close, attempt n is scheduled after
// BaseDelay * n seconds, up to MaxAttempts attempts.
type ReconnectConfig struct {
	BaseDelay   int `yaml:"base_delay" validate:"min=1"`
	MaxAttempts int `yaml:"max_attempts" validate:"min=0"`
}

// TrackingConfig contains tracking store settings.
type TrackingConfig struct {
	// OnlineWindow is how recently a device must have reported to count
	// as online, in seconds.
	OnlineWindow int `yaml:"online_window" validate:"min=1"`

	// TrailDepth is the number of recent positions retained per entity.
	TrailDepth int `yaml:"trail_depth" validate:"min=1"`

	// AlertLogDepth is the number of recent alerts retained.
	AlertLogDepth int `yaml:"alert_log_depth" validate:"min=1"`
}

// PlaybackConfig contains playback controller settings.
type PlaybackConfig struct {
	// TickMillis is the base playback tick interval in milliseconds.
	// The effective interval is TickMillis / Speed.
	TickMillis int `yaml:"tick_millis" validate:"min=10"`

	// Speed is the default playback speed multiplier.
	Speed float64 `yaml:"speed" validate:"gt=0"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"omitempty,oneof=json text"`
	Output string `yaml:"output" validate:"omitempty,oneof=stdout stderr"`
}

// OnlineWindowDuration returns the online window as a time.Duration.
func (c TrackingConfig) OnlineWindowDuration() time.Duration {
	return time.Duration(c.OnlineWindow) * time.Second
}

// BaseDelayDuration returns the reconnect base delay as a time.Duration.
func (c ReconnectConfig) BaseDelayDuration() time.Duration {
	return time.Duration(c.BaseDelay) * time.Second
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: TRACKVIEW_SECTION_KEY
// For example: TRACKVIEW_SERVER_TOKEN, TRACKVIEW_CHANNEL_URL
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := Default()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with sensible defaults.
// BaseURL and URL have no default; they must come from file or environment.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Timeout: 15,
		},
		Channel: ChannelConfig{
			PingInterval: 30,
			Reconnect: ReconnectConfig{
				BaseDelay:   3,
				MaxAttempts: 5,
			},
		},
		Tracking: TrackingConfig{
			OnlineWindow:  300,
			TrailDepth:    10,
			AlertLogDepth: 50,
		},
		Playback: PlaybackConfig{
			TickMillis: 1000,
			Speed:      1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: TRACKVIEW_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Server
	if v := os.Getenv("TRACKVIEW_SERVER_BASE_URL"); v != "" {
		cfg.Server.BaseURL = v
	}
	if v := os.Getenv("TRACKVIEW_SERVER_TOKEN"); v != "" {
		cfg.Server.Token = v
	}

	// Channel
	if v := os.Getenv("TRACKVIEW_CHANNEL_URL"); v != "" {
		cfg.Channel.URL = v
	}
	if v := os.Getenv("TRACKVIEW_CHANNEL_PING_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Channel.PingInterval = n
		}
	}

	// Logging
	if v := os.Getenv("TRACKVIEW_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Struct-tag constraints are checked with go-playground/validator;
// cross-field rules are checked by hand.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return err
	}

	// A secured API implies a secured channel; mixed schemes are almost
	// always a misconfiguration.
	if hasScheme(c.Server.BaseURL, "https") && hasScheme(c.Channel.URL, "ws") {
		return fmt.Errorf("channel.url uses ws:// while server.base_url uses https://")
	}

	return nil
}

// hasScheme reports whether rawURL starts with scheme + "://".
func hasScheme(rawURL, scheme string) bool {
	prefix := scheme + "://"
	return len(rawURL) >= len(prefix) && rawURL[:len(prefix)] == prefix
}
