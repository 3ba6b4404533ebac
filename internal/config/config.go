// Package config handles configuration loading for threatops.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Detection  DetectionConfig  `yaml:"detection"`
	Correlator CorrelatorConfig `yaml:"correlator"`
	Response   ResponseConfig   `yaml:"response"`
	Notifier   NotifierConfig   `yaml:"notifier"`
	Intake     IntakeConfig     `yaml:"intake"`
	Validation ValidationConfig `yaml:"validation"`
	Auth       AuthConfig       `yaml:"auth"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	HTTPPort       int           `yaml:"http_port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxPayloadSize int           `yaml:"max_payload_size"`
}

// PipelineConfig holds anomaly pipeline settings.
type PipelineConfig struct {
	Workers      int           `yaml:"workers"`
	QueueSize    int           `yaml:"queue_size"`
	PollInterval time.Duration `yaml:"poll_interval"`
	ShutdownWait time.Duration `yaml:"shutdown_wait"`
}

// DetectionConfig holds rule engine thresholds.
type DetectionConfig struct {
	RateWindow        time.Duration `yaml:"rate_window"`
	RateThreshold     int           `yaml:"rate_threshold"`
	BruteWindow       time.Duration `yaml:"brute_window"`
	BruteThreshold    int           `yaml:"brute_threshold"`
	PortScanWindow    time.Duration `yaml:"port_scan_window"`
	PortScanThreshold int           `yaml:"port_scan_threshold"`
}

// CorrelatorConfig holds alert correlation settings.
type CorrelatorConfig struct {
	Cooldown  time.Duration `yaml:"cooldown"`
	MaxAlerts int           `yaml:"max_alerts"`
	Redis     RedisConfig   `yaml:"redis"`
}

// RedisConfig holds optional Redis-backed suppression settings.
type RedisConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	KeyPrefix    string        `yaml:"key_prefix"`
}

// ResponseConfig holds response orchestration settings.
type ResponseConfig struct {
	DefaultThrottleLimit int `yaml:"default_throttle_limit"`
	ActionLogCapacity    int `yaml:"action_log_capacity"`
}

// NotifierConfig holds notification settings.
type NotifierConfig struct {
	WebhookURL      string            `yaml:"webhook_url"`
	WebhookHeaders  map[string]string `yaml:"webhook_headers"`
	SlackWebhookURL string            `yaml:"slack_webhook_url"`
	SlackChannel    string            `yaml:"slack_channel"`
	Timeout         time.Duration     `yaml:"timeout"`
}

// IntakeConfig holds optional Kafka intake settings.
type IntakeConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Brokers       []string      `yaml:"brokers"`
	Topic         string        `yaml:"topic"`
	ConsumerGroup string        `yaml:"consumer_group"`
	MinBytes      int           `yaml:"min_bytes"`
	MaxBytes      int           `yaml:"max_bytes"`
	MaxWait       time.Duration `yaml:"max_wait"`
	PublishAlerts bool          `yaml:"publish_alerts"`
	AlertsTopic   string        `yaml:"alerts_topic"`
}

// ValidationConfig holds event validation settings.
type ValidationConfig struct {
	MaxEventAge time.Duration `yaml:"max_event_age"`
	MaxFuture   time.Duration `yaml:"max_future"`
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	Enabled      bool     `yaml:"enabled"`
	APIKeyHeader string   `yaml:"api_key_header"`
	APIKeys      []string `yaml:"api_keys"`
}

// RateLimitConfig holds HTTP rate limiting settings.
type RateLimitConfig struct {
	Enabled       bool          `yaml:"enabled"`
	RequestsPerIP int           `yaml:"requests_per_ip"`
	WindowSize    time.Duration `yaml:"window_size"`
	BurstSize     int           `yaml:"burst_size"`
	CleanupPeriod time.Duration `yaml:"cleanup_period"`
	ExemptPaths   []string      `yaml:"exempt_paths"`
	TrustProxy    bool          `yaml:"trust_proxy"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:       8090,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			MaxPayloadSize: 1 * 1024 * 1024, // 1MB
		},
		Pipeline: PipelineConfig{
			Workers:      4,
			QueueSize:    10000,
			PollInterval: 100 * time.Millisecond,
			ShutdownWait: 10 * time.Second,
		},
		Detection: DetectionConfig{
			RateWindow:        60 * time.Second,
			RateThreshold:     100,
			BruteWindow:       5 * time.Minute,
			BruteThreshold:    5,
			PortScanWindow:    60 * time.Second,
			PortScanThreshold: 15,
		},
		Correlator: CorrelatorConfig{
			Cooldown:  30 * time.Second,
			MaxAlerts: 50,
			Redis: RedisConfig{
				Enabled:      false,
				Addr:         "localhost:6379",
				DialTimeout:  5 * time.Second,
				ReadTimeout:  3 * time.Second,
				WriteTimeout: 3 * time.Second,
				KeyPrefix:    "threatops:cooldown:",
			},
		},
		Response: ResponseConfig{
			DefaultThrottleLimit: 10,
			ActionLogCapacity:    1000,
		},
		Notifier: NotifierConfig{
			Timeout: 2 * time.Second,
		},
		Intake: IntakeConfig{
			Enabled:       false,
			Brokers:       []string{"localhost:9092"},
			Topic:         "telemetry-events",
			ConsumerGroup: "threatops",
			MinBytes:      1,
			MaxBytes:      10 * 1024 * 1024,
			MaxWait:       500 * time.Millisecond,
			PublishAlerts: false,
			AlertsTopic:   "threatops-alerts",
		},
		Validation: ValidationConfig{
			MaxEventAge: 24 * time.Hour,
			MaxFuture:   5 * time.Minute,
		},
		Auth: AuthConfig{
			Enabled:      false,
			APIKeyHeader: "X-API-Key",
		},
		RateLimit: RateLimitConfig{
			Enabled:       true,
			RequestsPerIP: 1000,
			WindowSize:    time.Minute,
			BurstSize:     50,
			CleanupPeriod: 5 * time.Minute,
			ExemptPaths:   []string{"/health", "/metrics"},
			TrustProxy:    false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a file or returns defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := os.Getenv("THREATOPS_CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if port := os.Getenv("THREATOPS_HTTP_PORT"); port != "" {
		fmt.Sscanf(port, "%d", &c.Server.HTTPPort)
	}

	if level := os.Getenv("THREATOPS_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}

	if apiKey := os.Getenv("THREATOPS_API_KEY"); apiKey != "" {
		c.Auth.APIKeys = append(c.Auth.APIKeys, apiKey)
		c.Auth.Enabled = true
	}

	if url := os.Getenv("THREATOPS_WEBHOOK_URL"); url != "" {
		c.Notifier.WebhookURL = url
	}

	if addr := os.Getenv("THREATOPS_REDIS_ADDR"); addr != "" {
		c.Correlator.Redis.Addr = addr
		c.Correlator.Redis.Enabled = true
	}

	if brokers := os.Getenv("THREATOPS_KAFKA_BROKERS"); brokers != "" {
		c.Intake.Brokers = splitAndTrim(brokers, ",")
		c.Intake.Enabled = true
	}
}

// splitAndTrim splits a string by separator and trims whitespace.
func splitAndTrim(s, sep string) []string {
	parts := make([]string, 0)
	for _, part := range strings.Split(s, sep) {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port: %d", c.Server.HTTPPort)
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline workers must be positive")
	}
	if c.Pipeline.QueueSize <= 0 {
		return fmt.Errorf("pipeline queue_size must be positive")
	}
	if c.Correlator.Cooldown <= 0 {
		return fmt.Errorf("correlator cooldown must be positive")
	}
	if c.Correlator.MaxAlerts <= 0 {
		return fmt.Errorf("correlator max_alerts must be positive")
	}
	if c.Response.DefaultThrottleLimit <= 0 {
		return fmt.Errorf("default_throttle_limit must be positive")
	}
	if c.Intake.Enabled && len(c.Intake.Brokers) == 0 {
		return fmt.Errorf("intake enabled but no brokers configured")
	}
	return nil
}
