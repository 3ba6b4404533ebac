package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}

	if cfg.Server.HTTPPort != 8090 {
		t.Errorf("expected HTTPPort 8090, got %d", cfg.Server.HTTPPort)
	}
	if cfg.Server.ReadTimeout != 30*time.Second {
		t.Errorf("expected ReadTimeout 30s, got %v", cfg.Server.ReadTimeout)
	}

	if cfg.Pipeline.Workers != 4 {
		t.Errorf("expected Workers 4, got %d", cfg.Pipeline.Workers)
	}
	if cfg.Pipeline.QueueSize != 10000 {
		t.Errorf("expected QueueSize 10000, got %d", cfg.Pipeline.QueueSize)
	}

	if cfg.Detection.RateWindow != 60*time.Second {
		t.Errorf("expected RateWindow 60s, got %v", cfg.Detection.RateWindow)
	}
	if cfg.Detection.RateThreshold != 100 {
		t.Errorf("expected RateThreshold 100, got %d", cfg.Detection.RateThreshold)
	}
	if cfg.Detection.BruteThreshold != 5 {
		t.Errorf("expected BruteThreshold 5, got %d", cfg.Detection.BruteThreshold)
	}

	if cfg.Correlator.Cooldown != 30*time.Second {
		t.Errorf("expected Cooldown 30s, got %v", cfg.Correlator.Cooldown)
	}
	if cfg.Correlator.MaxAlerts != 50 {
		t.Errorf("expected MaxAlerts 50, got %d", cfg.Correlator.MaxAlerts)
	}
	if cfg.Correlator.Redis.Enabled {
		t.Error("expected Redis disabled by default")
	}

	if cfg.Response.DefaultThrottleLimit != 10 {
		t.Errorf("expected DefaultThrottleLimit 10, got %d", cfg.Response.DefaultThrottleLimit)
	}

	if cfg.Notifier.Timeout != 2*time.Second {
		t.Errorf("expected Notifier.Timeout 2s, got %v", cfg.Notifier.Timeout)
	}

	if cfg.Intake.Enabled {
		t.Error("expected Intake disabled by default")
	}

	if !cfg.RateLimit.Enabled {
		t.Error("expected RateLimit enabled by default")
	}
}

func TestValidate(t *testing.T) {
	t.Run("default is valid", func(t *testing.T) {
		if err := DefaultConfig().Validate(); err != nil {
			t.Errorf("DefaultConfig should be valid, got error: %v", err)
		}
	})

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"invalid port", func(c *Config) { c.Server.HTTPPort = 0 }},
		{"port too large", func(c *Config) { c.Server.HTTPPort = 70000 }},
		{"zero workers", func(c *Config) { c.Pipeline.Workers = 0 }},
		{"zero queue size", func(c *Config) { c.Pipeline.QueueSize = 0 }},
		{"zero cooldown", func(c *Config) { c.Correlator.Cooldown = 0 }},
		{"zero max alerts", func(c *Config) { c.Correlator.MaxAlerts = 0 }},
		{"zero throttle limit", func(c *Config) { c.Response.DefaultThrottleLimit = 0 }},
		{"intake without brokers", func(c *Config) {
			c.Intake.Enabled = true
			c.Intake.Brokers = nil
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() returned nil for invalid config")
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
server:
  http_port: 9999
correlator:
  cooldown: 45s
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("THREATOPS_CONFIG_PATH", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPPort != 9999 {
		t.Errorf("HTTPPort = %d, want 9999", cfg.Server.HTTPPort)
	}
	if cfg.Correlator.Cooldown != 45*time.Second {
		t.Errorf("Cooldown = %v, want 45s", cfg.Correlator.Cooldown)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %q, want debug", cfg.Logging.Level)
	}
	// Untouched values keep their defaults.
	if cfg.Correlator.MaxAlerts != 50 {
		t.Errorf("MaxAlerts = %d, want default 50", cfg.Correlator.MaxAlerts)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("THREATOPS_CONFIG_PATH", filepath.Join(t.TempDir(), "absent.yaml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.HTTPPort != 8090 {
		t.Errorf("HTTPPort = %d, want default 8090", cfg.Server.HTTPPort)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("{not yaml"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("THREATOPS_CONFIG_PATH", path)

	if _, err := Load(); err == nil {
		t.Error("Load() returned nil error for malformed file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("THREATOPS_CONFIG_PATH", filepath.Join(t.TempDir(), "absent.yaml"))
	t.Setenv("THREATOPS_HTTP_PORT", "7070")
	t.Setenv("THREATOPS_LOG_LEVEL", "warn")
	t.Setenv("THREATOPS_API_KEY", "test-key")
	t.Setenv("THREATOPS_REDIS_ADDR", "redis:6379")
	t.Setenv("THREATOPS_KAFKA_BROKERS", "k1:9092, k2:9092")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPPort != 7070 {
		t.Errorf("HTTPPort = %d, want 7070", cfg.Server.HTTPPort)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Level = %q, want warn", cfg.Logging.Level)
	}
	if !cfg.Auth.Enabled || len(cfg.Auth.APIKeys) != 1 {
		t.Error("API key override did not enable auth")
	}
	if !cfg.Correlator.Redis.Enabled || cfg.Correlator.Redis.Addr != "redis:6379" {
		t.Error("redis override not applied")
	}
	if !cfg.Intake.Enabled || len(cfg.Intake.Brokers) != 2 {
		t.Errorf("kafka override not applied: %v", cfg.Intake.Brokers)
	}
	if cfg.Intake.Brokers[1] != "k2:9092" {
		t.Errorf("broker not trimmed: %q", cfg.Intake.Brokers[1])
	}
}
