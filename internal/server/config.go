// Package server provides configuration helpers that define runtime defaults,
// validation, and environment/file loading for the relay.
package server

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `yaml:"burst"`
	RefillInterval time.Duration `yaml:"refill_interval"`
}

// Config holds the server configuration settings.
type Config struct {
	Port            string          `yaml:"port"`
	Env             string          `yaml:"env"`
	LogLevel        string          `yaml:"log_level"`
	AllowedOrigins  []string        `yaml:"allowed_origins"`
	MaxMessageSize  int64           `yaml:"max_message_size"`
	SendBufferSize  int             `yaml:"send_buffer_size"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
	SelfDelivery    bool            `yaml:"self_delivery"`
	AnnounceRooms   bool            `yaml:"announce_rooms"`
	MetricsInterval time.Duration   `yaml:"metrics_interval"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
}

// Default values for configuration fields.
const (
	DefaultPort            = ":8080"
	DefaultEnv             = "dev"
	DefaultMaxMessageSize  = 64 * 1024
	DefaultSendBufferSize  = 256
	DefaultRateBurst       = 20
	DefaultRefillInterval  = time.Second
	DefaultMetricsInterval = time.Minute
	DefaultShutdownTimeout = 10 * time.Second
)

func defaultConfig() Config {
	return Config{
		Port: DefaultPort,
		Env:  DefaultEnv,
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: DefaultMaxMessageSize,
		SendBufferSize: DefaultSendBufferSize,
		RateLimit: RateLimitConfig{
			Burst:          DefaultRateBurst,
			RefillInterval: DefaultRefillInterval,
		},
		SelfDelivery:    true,
		MetricsInterval: DefaultMetricsInterval,
		ShutdownTimeout: DefaultShutdownTimeout,
	}
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// LoadConfig builds the configuration from defaults, then the optional YAML
// file at path, then environment variables. The result is sanitized and
// validated.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, err
		}
	}
	applyEnv(&cfg)
	cfg.sanitize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// loadFile overlays the YAML file onto cfg. ${VAR} references are expanded
// from the environment before parsing.
func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}
	if env := os.Getenv("APP_ENV"); env != "" {
		cfg.Env = env
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}
	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}
	if size := os.Getenv("SEND_BUFFER_SIZE"); size != "" {
		cfg.SendBufferSize = parseIntValue(size, cfg.SendBufferSize)
	}
	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}
	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseDuration(interval, cfg.RateLimit.RefillInterval)
	}
	if self := os.Getenv("SELF_DELIVERY"); self != "" {
		cfg.SelfDelivery = parseBool(self, cfg.SelfDelivery)
	}
	if announce := os.Getenv("ANNOUNCE_ROOMS"); announce != "" {
		cfg.AnnounceRooms = parseBool(announce, cfg.AnnounceRooms)
	}
	if interval := os.Getenv("METRICS_INTERVAL"); interval != "" {
		cfg.MetricsInterval = parseDuration(interval, cfg.MetricsInterval)
	}
	if timeout := os.Getenv("SHUTDOWN_TIMEOUT"); timeout != "" {
		cfg.ShutdownTimeout = parseDuration(timeout, cfg.ShutdownTimeout)
	}
}

// sanitize replaces unset or non-positive values with defaults.
func (c *Config) sanitize() {
	if c.Port == "" {
		c.Port = DefaultPort
	}
	if !strings.Contains(c.Port, ":") {
		c.Port = ":" + c.Port
	}
	if c.Env == "" {
		c.Env = DefaultEnv
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.SendBufferSize <= 0 {
		c.SendBufferSize = DefaultSendBufferSize
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = DefaultRateBurst
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = DefaultRefillInterval
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	normalized, allowAll := normalizeOrigins(c.AllowedOrigins)
	if allowAll {
		normalized = append(normalized, "*")
	}
	c.AllowedOrigins = normalized
}

// Validate checks values that sanitize cannot repair.
func (c *Config) Validate() error {
	if c.MetricsInterval < 0 {
		return errors.New("metrics_interval must be >= 0")
	}
	if len(c.AllowedOrigins) == 0 {
		return errors.New("allowed_origins must contain at least one valid origin")
	}
	switch c.Env {
	case "dev", "test", "prod":
	default:
		return fmt.Errorf("env must be one of dev, test, prod; got %q", c.Env)
	}
	return nil
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseDuration accepts Go duration syntax ("1500ms") or whole seconds ("2").
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}

func parseBool(value string, defaultValue bool) bool {
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	return defaultValue
}
