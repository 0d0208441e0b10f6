package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("expected default config to be valid, got error: %v", err)
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name: "polling interval must be > 0",
			mutate: func(c *Config) {
				c.Polling.Interval = 0
			},
		},
		{
			name: "fetch timeout must be >= 0",
			mutate: func(c *Config) {
				c.Polling.FetchTimeout = -time.Second
			},
		},
		{
			name: "breaker threshold must be > 0 when enabled",
			mutate: func(c *Config) {
				c.Polling.Breaker.Enabled = true
				c.Polling.Breaker.FailureThreshold = 0
			},
		},
		{
			name: "breaker open timeout must be > 0 when enabled",
			mutate: func(c *Config) {
				c.Polling.Breaker.Enabled = true
				c.Polling.Breaker.OpenTimeout = 0
			},
		},
		{
			name: "at least one media kind",
			mutate: func(c *Config) {
				c.WebRTC.Audio = false
				c.WebRTC.Video = false
			},
		},
		{
			name: "push requires server",
			mutate: func(c *Config) {
				c.Server.Enabled = false
			},
		},
		{
			name: "redis address required when enabled",
			mutate: func(c *Config) {
				c.Redis.Enabled = true
				c.Redis.Address = ""
			},
		},
		{
			name: "redis key prefix required when enabled",
			mutate: func(c *Config) {
				c.Redis.Enabled = true
				c.Redis.KeyPrefix = ""
			},
		},
		{
			name: "tracing sample rate within range",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.SampleRate = 1.5
			},
		},
		{
			name: "rate limit must be positive when enabled",
			mutate: func(c *Config) {
				c.Server.RateLimit.Enabled = true
				c.Server.RateLimit.RequestsPerSecond = 0
			},
		},
		{
			name: "ice server url needs a stun or turn scheme",
			mutate: func(c *Config) {
				c.WebRTC.ICEServers = []ICEServer{{URLs: []string{"https://stun.example.com"}}}
			},
		},
		{
			name: "snapshot directory required when enabled",
			mutate: func(c *Config) {
				c.Snapshots.Enabled = true
				c.Snapshots.Directory = ""
			},
		},
		{
			name: "redis connect attempts must be >= 0",
			mutate: func(c *Config) {
				c.Redis.Enabled = true
				c.Redis.ConnectAttempts = -1
			},
		},
		{
			name: "logging level must not be empty",
			mutate: func(c *Config) {
				c.Logging.Level = ""
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for case %q, got nil", tc.name)
			}
		})
	}
}

func TestValidate_ServerDisabledSkipsAddress(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Enabled = false
	cfg.Server.Address = ""
	cfg.Push.Enabled = false

	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected config to be valid with server disabled, got error: %v", err)
	}
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte(`
polling:
  interval: 250ms
  fetch_timeout: 2s
webrtc:
  audio: false
  video: true
logging:
  level: debug
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Polling.Interval != 250*time.Millisecond {
		t.Errorf("Polling.Interval = %v, want 250ms", cfg.Polling.Interval)
	}
	if cfg.Polling.FetchTimeout != 2*time.Second {
		t.Errorf("Polling.FetchTimeout = %v, want 2s", cfg.Polling.FetchTimeout)
	}
	if cfg.WebRTC.Audio {
		t.Errorf("WebRTC.Audio = true, want false")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	// untouched sections keep defaults
	if cfg.Server.Address != ":8080" {
		t.Errorf("Server.Address = %q, want :8080", cfg.Server.Address)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Polling.Interval != time.Second {
		t.Errorf("Polling.Interval = %v, want 1s", cfg.Polling.Interval)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("STATWINDOW_POLL_INTERVAL", "500ms")
	t.Setenv("STATWINDOW_LOG_LEVEL", "warn")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Polling.Interval != 500*time.Millisecond {
		t.Errorf("Polling.Interval = %v, want 500ms", cfg.Polling.Interval)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want warn", cfg.Logging.Level)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("polling: [unterminated"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid yaml")
	}
}
