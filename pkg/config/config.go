package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Gateway struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"gateway"`

	User struct {
		ID    string `yaml:"id"`
		Name  string `yaml:"name"`
		Image string `yaml:"image"`
	} `yaml:"user"`

	WebRTC struct {
		ICEServers []struct {
			URLs       []string `yaml:"urls"`
			Username   string   `yaml:"username,omitempty"`
			Credential string   `yaml:"credential,omitempty"`
		} `yaml:"ice_servers"`
		DisconnectTimeout time.Duration `yaml:"disconnect_timeout"`
	} `yaml:"webrtc"`

	Call struct {
		GraceDelay      time.Duration `yaml:"grace_delay"`
		IncomingSeenTTL time.Duration `yaml:"incoming_seen_ttl"`
	} `yaml:"call"`

	Media struct {
		VideoFPS    int `yaml:"video_fps"`
		VideoWidth  int `yaml:"video_width"`
		VideoHeight int `yaml:"video_height"`
	} `yaml:"media"`

	Store struct {
		Backend string `yaml:"backend"` // "memory" or "redis"
		Redis   struct {
			Address  string `yaml:"address"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			PoolSize int    `yaml:"pool_size"`
		} `yaml:"redis"`
	} `yaml:"store"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled    bool    `yaml:"enabled"`
		JaegerURL  string  `yaml:"jaeger_url"`
		SampleRate float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`

	RateLimiting struct {
		Enabled           bool    `yaml:"enabled"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
		CallsPerMinute    float64 `yaml:"calls_per_minute"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Gateway
	if c.Gateway.Address == "" {
		return fmt.Errorf("gateway.address must not be empty")
	}
	if c.Gateway.ReadTimeout <= 0 {
		return fmt.Errorf("gateway.read_timeout must be > 0")
	}
	if c.Gateway.WriteTimeout <= 0 {
		return fmt.Errorf("gateway.write_timeout must be > 0")
	}
	if c.Gateway.ShutdownTimeout <= 0 {
		return fmt.Errorf("gateway.shutdown_timeout must be > 0")
	}

	// User
	if c.User.ID == "" {
		return fmt.Errorf("user.id must not be empty")
	}

	// WebRTC
	if c.WebRTC.DisconnectTimeout <= 0 {
		return fmt.Errorf("webrtc.disconnect_timeout must be > 0")
	}

	// Call
	if c.Call.GraceDelay <= 0 {
		return fmt.Errorf("call.grace_delay must be > 0")
	}
	if c.Call.IncomingSeenTTL <= 0 {
		return fmt.Errorf("call.incoming_seen_ttl must be > 0")
	}

	// Media
	if c.Media.VideoFPS <= 0 || c.Media.VideoFPS > 60 {
		return fmt.Errorf("media.video_fps must be in (0, 60]")
	}
	if c.Media.VideoWidth <= 0 || c.Media.VideoHeight <= 0 {
		return fmt.Errorf("media.video_width and media.video_height must be > 0")
	}

	// Store
	switch c.Store.Backend {
	case "memory":
	case "redis":
		if c.Store.Redis.Address == "" {
			return fmt.Errorf("store.redis.address must not be empty when backend=redis")
		}
		if c.Store.Redis.PoolSize <= 0 {
			return fmt.Errorf("store.redis.pool_size must be > 0")
		}
	default:
		return fmt.Errorf("store.backend must be \"memory\" or \"redis\", got %q", c.Store.Backend)
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing is enabled")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be in [0, 1]")
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.requests_per_second must be > 0")
		}
		if c.RateLimiting.Burst <= 0 {
			return fmt.Errorf("rate_limiting.burst must be > 0")
		}
		if c.RateLimiting.CallsPerMinute <= 0 {
			return fmt.Errorf("rate_limiting.calls_per_minute must be > 0")
		}
	}

	return nil
}

// Default returns a configuration with sensible defaults for local use.
func Default() *Config {
	cfg := &Config{}
	cfg.Gateway.Address = ":8080"
	cfg.Gateway.ReadTimeout = 10 * time.Second
	cfg.Gateway.WriteTimeout = 10 * time.Second
	cfg.Gateway.ShutdownTimeout = 15 * time.Second
	cfg.WebRTC.ICEServers = []struct {
		URLs       []string `yaml:"urls"`
		Username   string   `yaml:"username,omitempty"`
		Credential string   `yaml:"credential,omitempty"`
	}{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
	}
	cfg.WebRTC.DisconnectTimeout = 5 * time.Second
	cfg.Call.GraceDelay = 3 * time.Second
	cfg.Call.IncomingSeenTTL = 5 * time.Minute
	cfg.Media.VideoFPS = 15
	cfg.Media.VideoWidth = 640
	cfg.Media.VideoHeight = 480
	cfg.Store.Backend = "memory"
	cfg.Store.Redis.PoolSize = 10
	cfg.Logging.Level = "info"
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.SampleRate = 1.0
	return cfg
}

// Load reads and validates configuration from a YAML file. Missing fields
// keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}
