package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/cuemby/trainyard/pkg/types"
	"gopkg.in/yaml.v3"
)

// Config is the trainyard serve configuration
type Config struct {
	DataDir     string            `yaml:"dataDir"`
	API         APIConfig         `yaml:"api"`
	GRPCAddr    string            `yaml:"grpcAddr"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Audit       AuditConfig       `yaml:"audit"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Log         LogConfig         `yaml:"log"`
}

// APIConfig configures the HTTP API server
type APIConfig struct {
	Addr string `yaml:"addr"`
	// PublicURL is the base URL the coordinator uses for completion callbacks
	PublicURL   string  `yaml:"publicURL"`
	MaxUploadMb int64   `yaml:"maxUploadMb"`
	RateLimit   float64 `yaml:"rateLimit"` // requests/sec per client IP, 0 disables
	RateBurst   int     `yaml:"rateBurst"`
}

// CoordinatorConfig configures the outbound training coordinator client
type CoordinatorConfig struct {
	URL             string        `yaml:"url"`
	Timeout         time.Duration `yaml:"timeout"`
	CompressDataset bool          `yaml:"compressDataset"`

	// HealthPath enables the readiness probe against <url><healthPath>
	HealthPath     string        `yaml:"healthPath"`
	HealthStatus   int           `yaml:"healthStatus"`
	HealthInterval time.Duration `yaml:"healthInterval"`
}

// SchedulerConfig configures task placement
type SchedulerConfig struct {
	AllocateOnSubmit bool    `yaml:"allocateOnSubmit"`
	MemoryMultiplier float64 `yaml:"memoryMultiplier"`
}

// AuditConfig configures the ledger auditor
type AuditConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// MetricsConfig configures the inventory collector
type MetricsConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// LogConfig configures the global logger
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		DataDir: "./trainyard-data",
		API: APIConfig{
			Addr:        "0.0.0.0:8000",
			PublicURL:   "http://localhost:8000",
			MaxUploadMb: 512,
			RateBurst:   20,
		},
		GRPCAddr: "127.0.0.1:8001",
		Coordinator: CoordinatorConfig{
			URL:            "http://localhost:5000",
			Timeout:        30 * time.Second,
			HealthStatus:   200,
			HealthInterval: 30 * time.Second,
		},
		Scheduler: SchedulerConfig{
			MemoryMultiplier: 1.2,
		},
		Audit:   AuditConfig{Interval: time.Minute},
		Metrics: MetricsConfig{Interval: 15 * time.Second},
		Log:     LogConfig{Level: "info"},
	}
}

// Load reads a YAML file over the defaults. An empty path returns Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("%w: dataDir is required", types.ErrValidation)
	}
	if c.API.Addr == "" {
		return fmt.Errorf("%w: api.addr is required", types.ErrValidation)
	}
	if err := validURL("api.publicURL", c.API.PublicURL); err != nil {
		return err
	}
	if err := validURL("coordinator.url", c.Coordinator.URL); err != nil {
		return err
	}
	if c.API.MaxUploadMb <= 0 {
		return fmt.Errorf("%w: api.maxUploadMb must be positive", types.ErrValidation)
	}
	if c.API.RateLimit < 0 {
		return fmt.Errorf("%w: api.rateLimit must not be negative", types.ErrValidation)
	}
	if c.API.RateLimit > 0 && c.API.RateBurst <= 0 {
		return fmt.Errorf("%w: api.rateBurst must be positive when rate limiting is enabled", types.ErrValidation)
	}
	if c.Coordinator.Timeout <= 0 {
		return fmt.Errorf("%w: coordinator.timeout must be positive", types.ErrValidation)
	}
	if c.Coordinator.HealthPath != "" && !strings.HasPrefix(c.Coordinator.HealthPath, "/") {
		return fmt.Errorf("%w: coordinator.healthPath must start with /", types.ErrValidation)
	}
	if c.Coordinator.HealthPath != "" {
		if c.Coordinator.HealthStatus < 100 || c.Coordinator.HealthStatus > 599 {
			return fmt.Errorf("%w: coordinator.healthStatus must be an HTTP status code", types.ErrValidation)
		}
		if c.Coordinator.HealthInterval <= 0 {
			return fmt.Errorf("%w: coordinator.healthInterval must be positive", types.ErrValidation)
		}
	}
	if c.Scheduler.MemoryMultiplier < 1 {
		return fmt.Errorf("%w: scheduler.memoryMultiplier must be at least 1", types.ErrValidation)
	}
	if c.Audit.Interval <= 0 || c.Metrics.Interval <= 0 {
		return fmt.Errorf("%w: audit.interval and metrics.interval must be positive", types.ErrValidation)
	}
	return nil
}

func validURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: %s must be an absolute URL, got %q", types.ErrValidation, field, raw)
	}
	return nil
}
