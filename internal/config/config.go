package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/layzsource/midi-morphing-power-arranger-sub002/internal/domain"
)

// Config holds all application configuration
type Config struct {
	// Server
	Port            string        `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Security
	AllowedOrigins []string `yaml:"allowed_origins"`

	// Rate Limiting
	RateLimitAPI rate.Limit `yaml:"rate_limit_api"`
	RateLimitWS  rate.Limit `yaml:"rate_limit_ws"`

	// Logging
	LogLevel   string `yaml:"log_level"` // Options: debug, info, warn, error, silent
	LogEnv     string `yaml:"log_env"`   // dev|stage|prod, APP_ENV when empty
	LogBackend string `yaml:"log_backend"`
	Service    string `yaml:"service"`
	Version    string `yaml:"version"`

	// WebSocket
	MaxMessageSize int     `yaml:"max_message_size"`
	MaxHistorySize int     `yaml:"max_history_size"`
	SendQueueSize  int     `yaml:"send_queue_size"`
	FeedFPS        float64 `yaml:"feed_fps"` // 0 disables the telemetry feed

	// Storage
	JournalPath string `yaml:"journal_path"` // empty disables the journal

	// Metrics
	MetricsEnabled bool `yaml:"metrics_enabled"`
}

// DefaultConfig returns configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Port:            "7070",
		ShutdownTimeout: 10 * time.Second,
		AllowedOrigins:  []string{"http://localhost:7070", "http://localhost:3000", "http://localhost:5173"},
		RateLimitAPI:    domain.DefaultRateLimitAPI,
		RateLimitWS:     domain.DefaultRateLimitWS,
		LogLevel:        "info",
		Service:         "sonolumi-collab",
		Version:         "dev",
		MaxMessageSize:  domain.MaxMessageSize,
		MaxHistorySize:  domain.MaxHistorySize,
		SendQueueSize:   domain.SendQueueSize,
		FeedFPS:         domain.FeedFPS,
		MetricsEnabled:  true,
	}
}

// Load builds the configuration: defaults, then the YAML file named by
// CONFIG_PATH (if any), then environment variables.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays the YAML document at path onto cfg
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from environment variables
func (c *Config) ApplyEnv() {
	// Server
	if port := os.Getenv("PORT"); port != "" {
		c.Port = port
	}

	if d := os.Getenv("SHUTDOWN_TIMEOUT"); d != "" {
		c.ShutdownTimeout = parseDurationOr(c.ShutdownTimeout, d)
	}

	// Security
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		c.AllowedOrigins = parseOrigins(origins)
	}

	// Rate Limiting
	if rl := os.Getenv("RATE_LIMIT_API"); rl != "" {
		if val, err := strconv.Atoi(rl); err == nil && val > 0 {
			c.RateLimitAPI = rate.Limit(val)
		}
	}

	if rl := os.Getenv("RATE_LIMIT_WS"); rl != "" {
		if val, err := strconv.Atoi(rl); err == nil && val > 0 {
			c.RateLimitWS = rate.Limit(val)
		}
	}

	// Logging
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
	if env := os.Getenv("APP_ENV"); env != "" {
		c.LogEnv = env
	}
	if backend := os.Getenv("LOG_BACKEND"); backend != "" {
		c.LogBackend = backend
	}
	if v := os.Getenv("APP_VERSION"); v != "" {
		c.Version = v
	}

	// WebSocket
	if size := os.Getenv("MAX_MESSAGE_SIZE"); size != "" {
		if val, err := strconv.Atoi(size); err == nil && val > 0 {
			c.MaxMessageSize = val
		}
	}

	if size := os.Getenv("MAX_HISTORY_SIZE"); size != "" {
		if val, err := strconv.Atoi(size); err == nil && val > 0 {
			c.MaxHistorySize = val
		}
	}

	if size := os.Getenv("SEND_QUEUE_SIZE"); size != "" {
		if val, err := strconv.Atoi(size); err == nil && val > 0 {
			c.SendQueueSize = val
		}
	}

	if fps := os.Getenv("FEED_FPS"); fps != "" {
		if val, err := strconv.ParseFloat(fps, 64); err == nil && val >= 0 {
			c.FeedFPS = val
		}
	}

	// Storage
	if path, ok := os.LookupEnv("JOURNAL_PATH"); ok {
		c.JournalPath = path
	}

	// Metrics
	if v := os.Getenv("METRICS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.MetricsEnabled = b
		}
	}
}

// Validate rejects values the server cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("port is required"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown_timeout must be positive"))
	}
	if c.RateLimitAPI <= 0 || c.RateLimitWS <= 0 {
		errs = append(errs, errors.New("rate limits must be positive"))
	}
	if c.MaxMessageSize <= 0 {
		errs = append(errs, errors.New("max_message_size must be positive"))
	}
	if c.MaxHistorySize <= 0 {
		errs = append(errs, errors.New("max_history_size must be positive"))
	}
	if c.SendQueueSize <= 0 {
		errs = append(errs, errors.New("send_queue_size must be positive"))
	}
	if c.FeedFPS < 0 {
		errs = append(errs, errors.New("feed_fps must not be negative"))
	}
	return errors.Join(errs...)
}

// FeedInterval converts FeedFPS into a tick period; zero when disabled
func (c *Config) FeedInterval() time.Duration {
	if c.FeedFPS <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / c.FeedFPS)
}

// parseOrigins parses comma-separated origins
func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

func parseDurationOr(def time.Duration, s string) time.Duration {
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return def
}
