package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"statwindow/pkg/validation"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Enabled         bool          `yaml:"enabled"`
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

		// RateLimit applies to the control API only; /ws and /metrics are
		// not limited.
		RateLimit struct {
			Enabled           bool    `yaml:"enabled"`
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"`
		} `yaml:"rate_limit"`
	} `yaml:"server"`

	Polling struct {
		// FetchTimeout bounds a single handle's stats fetch; 0 waits forever.
		// FailureLogEvery throttles repeated fetch failure warnings.
		Interval        time.Duration `yaml:"interval"`
		FetchTimeout    time.Duration `yaml:"fetch_timeout"`
		FailureLogEvery time.Duration `yaml:"failure_log_every"`

		Breaker struct {
			Enabled          bool          `yaml:"enabled"`
			FailureThreshold int           `yaml:"failure_threshold"`
			OpenTimeout      time.Duration `yaml:"open_timeout"`
		} `yaml:"breaker"`
	} `yaml:"polling"`

	WebRTC struct {
		ICEServers []ICEServer `yaml:"ice_servers"`
		Audio      bool        `yaml:"audio"`
		Video      bool        `yaml:"video"`
	} `yaml:"webrtc"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Push struct {
		Enabled      bool          `yaml:"enabled"`
		PingInterval time.Duration `yaml:"ping_interval"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
		QueueSize    int           `yaml:"queue_size"`
	} `yaml:"push"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled   bool          `yaml:"enabled"`
		Address   string        `yaml:"address"`
		Password  string        `yaml:"password"`
		DB        int           `yaml:"db"`
		PoolSize  int           `yaml:"pool_size"`
		KeyPrefix string        `yaml:"key_prefix"`
		EntryTTL  time.Duration `yaml:"entry_ttl"`
		// ConnectAttempts is how often the first ping is tried before
		// falling back to memory stores.
		ConnectAttempts int `yaml:"connect_attempts"`
		// PublishBatches also sends every batch on a pub/sub channel.
		PublishBatches bool `yaml:"publish_batches"`
	} `yaml:"redis"`

	Snapshots struct {
		Enabled   bool          `yaml:"enabled"`
		Directory string        `yaml:"directory"`
		Interval  time.Duration `yaml:"interval"`
		Retain    int           `yaml:"retain"`
	} `yaml:"snapshots"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`
}

// ICEServer is one STUN or TURN server handed to both loopback peers.
type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Enabled {
		if c.Server.Address == "" {
			return fmt.Errorf("server.address must not be empty when server.enabled=true")
		}
		if c.Server.ReadTimeout <= 0 {
			return fmt.Errorf("server.read_timeout must be > 0")
		}
		if c.Server.WriteTimeout <= 0 {
			return fmt.Errorf("server.write_timeout must be > 0")
		}
	}
	if c.Server.RateLimit.Enabled {
		if c.Server.RateLimit.RequestsPerSecond <= 0 {
			return fmt.Errorf("server.rate_limit.requests_per_second must be > 0")
		}
		if c.Server.RateLimit.Burst <= 0 {
			return fmt.Errorf("server.rate_limit.burst must be > 0")
		}
		if c.Server.RateLimit.MaxConcurrent < 0 {
			return fmt.Errorf("server.rate_limit.max_concurrent must be >= 0")
		}
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Polling
	if c.Polling.Interval <= 0 {
		return fmt.Errorf("polling.interval must be > 0")
	}
	if c.Polling.FetchTimeout < 0 {
		return fmt.Errorf("polling.fetch_timeout must be >= 0")
	}
	if c.Polling.FailureLogEvery < 0 {
		return fmt.Errorf("polling.failure_log_every must be >= 0")
	}
	if c.Polling.Breaker.Enabled {
		if c.Polling.Breaker.FailureThreshold <= 0 {
			return fmt.Errorf("polling.breaker.failure_threshold must be > 0 when breaker is enabled")
		}
		if c.Polling.Breaker.OpenTimeout <= 0 {
			return fmt.Errorf("polling.breaker.open_timeout must be > 0 when breaker is enabled")
		}
	}

	// WebRTC
	if !c.WebRTC.Audio && !c.WebRTC.Video {
		return fmt.Errorf("webrtc: at least one of audio or video must be enabled")
	}
	for _, server := range c.WebRTC.ICEServers {
		for _, u := range server.URLs {
			if err := validation.ValidateICEServerURL(u); err != nil {
				return fmt.Errorf("webrtc.ice_servers: %w", err)
			}
		}
	}

	// Push
	if c.Push.Enabled {
		if !c.Server.Enabled {
			return fmt.Errorf("push.enabled requires server.enabled")
		}
		if c.Push.PingInterval <= 0 {
			return fmt.Errorf("push.ping_interval must be > 0")
		}
		if c.Push.WriteTimeout <= 0 {
			return fmt.Errorf("push.write_timeout must be > 0")
		}
		if c.Push.QueueSize <= 0 {
			return fmt.Errorf("push.queue_size must be > 0")
		}
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
		if c.Redis.KeyPrefix == "" {
			return fmt.Errorf("redis.key_prefix must not be empty when redis.enabled=true")
		}
		if c.Redis.EntryTTL < 0 {
			return fmt.Errorf("redis.entry_ttl must be >= 0")
		}
		if c.Redis.ConnectAttempts < 0 {
			return fmt.Errorf("redis.connect_attempts must be >= 0")
		}
	}

	// Snapshots
	if c.Snapshots.Enabled {
		if c.Snapshots.Directory == "" {
			return fmt.Errorf("snapshots.directory must not be empty when snapshots.enabled=true")
		}
		if c.Snapshots.Interval < 0 {
			return fmt.Errorf("snapshots.interval must be >= 0")
		}
		if c.Snapshots.Retain < 0 {
			return fmt.Errorf("snapshots.retain must be >= 0")
		}
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Enabled = true
	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 10 * time.Second
	cfg.Server.WriteTimeout = 10 * time.Second
	cfg.Server.ShutdownTimeout = 10 * time.Second
	cfg.Server.RateLimit.Enabled = true
	cfg.Server.RateLimit.RequestsPerSecond = 20
	cfg.Server.RateLimit.Burst = 40
	cfg.Server.RateLimit.MaxConcurrent = 100

	cfg.Polling.Interval = time.Second
	cfg.Polling.FetchTimeout = 0
	cfg.Polling.FailureLogEvery = 10 * time.Second
	cfg.Polling.Breaker.Enabled = false
	cfg.Polling.Breaker.FailureThreshold = 5
	cfg.Polling.Breaker.OpenTimeout = 10 * time.Second

	cfg.WebRTC.Audio = true
	cfg.WebRTC.Video = true

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Push.Enabled = true
	cfg.Push.PingInterval = 30 * time.Second
	cfg.Push.WriteTimeout = 5 * time.Second
	cfg.Push.QueueSize = 64

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10
	cfg.Redis.KeyPrefix = "statwindow"
	cfg.Redis.EntryTTL = 0
	cfg.Redis.ConnectAttempts = 3
	cfg.Redis.PublishBatches = false

	cfg.Snapshots.Enabled = false
	cfg.Snapshots.Directory = "snapshots"
	cfg.Snapshots.Interval = time.Minute
	cfg.Snapshots.Retain = 10

	cfg.Tracing.Enabled = false
	cfg.Tracing.ServiceName = "statwindow"
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("STATWINDOW_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if level := os.Getenv("STATWINDOW_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if interval := os.Getenv("STATWINDOW_POLL_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			c.Polling.Interval = d
		}
	}
	if addr := os.Getenv("STATWINDOW_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
	}
	if enabled := os.Getenv("STATWINDOW_REDIS_ENABLED"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			c.Redis.Enabled = b
		}
	}
}
