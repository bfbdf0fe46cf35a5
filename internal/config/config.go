package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v10"
)

// Prefix is prepended to every environment variable name
const Prefix = "PROBE_"

// Backend names accepted for the instance store and the event bus
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Journey drivers
const (
	DriverBrowser = "browser"
	DriverForm    = "form"
)

// Config holds all configuration for dago-probe
type Config struct {
	// Server configuration
	HTTPPort        int           `env:"HTTP_PORT" envDefault:"8080"`
	// GRPCPort serves the gRPC health protocol; 0 disables it
	GRPCPort        int           `env:"GRPC_PORT" envDefault:"9090"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	Client    ClientConfig
	Harness   HarnessConfig
	Simulator SimulatorConfig
	Redis     RedisConfig
}

// ClientConfig configures the controller behind the UI
type ClientConfig struct {
	// BaseURL is the orchestration platform root; empty means this server's own address
	BaseURL        string        `env:"BASE_URL"`
	Orchestrator   string        `env:"ORCHESTRATOR" envDefault:"Hello"`
	RewriteOrigin  bool          `env:"REWRITE_ORIGIN" envDefault:"true"`
	// TrustForwarded honours X-Forwarded-* headers for displayed URLs; enable behind a proxy
	TrustForwarded bool          `env:"TRUST_FORWARDED" envDefault:"false"`
	ActionTimeout  time.Duration `env:"ACTION_TIMEOUT" envDefault:"60s"`
	SessionTTL     time.Duration `env:"SESSION_TTL" envDefault:"30m"`
}

// HarnessConfig configures the verification commands
type HarnessConfig struct {
	// TargetURL is the UI page for journeys and the platform root for direct checks
	TargetURL          string        `env:"TARGET_URL" envDefault:"http://localhost:8080"`
	Driver             string        `env:"DRIVER" envDefault:"browser"`
	PollAttempts       int           `env:"POLL_ATTEMPTS" envDefault:"5"`
	PollInterval       time.Duration `env:"POLL_INTERVAL" envDefault:"3s"`
	URLWaitTimeout     time.Duration `env:"URL_WAIT_TIMEOUT" envDefault:"30s"`
	ExpectURLSubstring string        `env:"EXPECT_URL_SUBSTRING" envDefault:"/runtime/webhooks/durabletask"`
	ArtifactDir        string        `env:"ARTIFACT_DIR" envDefault:"artifacts"`
	ChromePath         string        `env:"CHROME_PATH"`
	Headless           bool          `env:"HEADLESS" envDefault:"true"`
	NoSandbox          bool          `env:"NO_SANDBOX" envDefault:"false"`
}

// SimulatorConfig configures the in-process orchestration backend
type SimulatorConfig struct {
	Enabled             bool          `env:"SIM_ENABLED" envDefault:"true"`
	Orchestrators       []string      `env:"SIM_ORCHESTRATORS" envSeparator:"," envDefault:"Hello,hello_orchestrator,HelloOrchestrator"`
	TaskHub             string        `env:"SIM_TASK_HUB" envDefault:"TestHubName"`
	StartDelay          time.Duration `env:"SIM_START_DELAY" envDefault:"1s"`
	ActivityDuration    time.Duration `env:"SIM_ACTIVITY_DURATION" envDefault:"2s"`
	InstanceTimeout     time.Duration `env:"SIM_INSTANCE_TIMEOUT" envDefault:"5m"`
	InstanceTTL         time.Duration `env:"SIM_INSTANCE_TTL" envDefault:"24h"`
	WorkerPoolSize      int           `env:"SIM_WORKER_POOL_SIZE" envDefault:"4"`
	HealthCheckInterval time.Duration `env:"SIM_HEALTH_CHECK_INTERVAL" envDefault:"30s"`
	Store               string        `env:"SIM_STORE" envDefault:"memory"`
	EventBus            string        `env:"SIM_EVENT_BUS" envDefault:"memory"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	return LoadFrom(nil)
}

// LoadFrom reads configuration from environ instead of the process
// environment when environ is not nil
func LoadFrom(environ map[string]string) (*Config, error) {
	cfg := &Config{}
	opts := env.Options{Prefix: Prefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 0 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	if c.Client.BaseURL != "" {
		if err := absoluteURL(c.Client.BaseURL); err != nil {
			return fmt.Errorf("invalid base URL: %w", err)
		}
	}
	if c.Client.Orchestrator == "" {
		return fmt.Errorf("orchestrator name is required")
	}
	if c.Client.ActionTimeout <= 0 {
		return fmt.Errorf("action timeout must be positive")
	}

	if err := absoluteURL(c.Harness.TargetURL); err != nil {
		return fmt.Errorf("invalid target URL: %w", err)
	}
	if c.Harness.Driver != DriverBrowser && c.Harness.Driver != DriverForm {
		return fmt.Errorf("unsupported driver: %s (must be %s or %s)", c.Harness.Driver, DriverBrowser, DriverForm)
	}
	if c.Harness.PollAttempts < 1 {
		return fmt.Errorf("poll attempts must be at least 1")
	}
	if c.Harness.PollInterval < 0 || c.Harness.URLWaitTimeout < 0 {
		return fmt.Errorf("poll interval and URL wait timeout must not be negative")
	}

	if c.Simulator.Enabled {
		if len(c.Simulator.Orchestrators) == 0 {
			return fmt.Errorf("simulator needs at least one orchestrator name")
		}
		if c.Simulator.WorkerPoolSize < 1 {
			return fmt.Errorf("worker pool size must be at least 1")
		}
		for _, backend := range []string{c.Simulator.Store, c.Simulator.EventBus} {
			if backend != BackendMemory && backend != BackendRedis {
				return fmt.Errorf("unsupported backend: %s (must be %s or %s)", backend, BackendMemory, BackendRedis)
			}
		}
		if c.UsesRedis() && c.Redis.Addr == "" {
			return fmt.Errorf("redis address is required")
		}
	}

	return nil
}

// UsesRedis reports whether the simulator needs a Redis connection
func (c *Config) UsesRedis() bool {
	return c.Simulator.Enabled &&
		(c.Simulator.Store == BackendRedis || c.Simulator.EventBus == BackendRedis)
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetGRPCAddr returns the gRPC server address
func (c *Config) GetGRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}

func absoluteURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("%q is not an absolute URL", raw)
	}
	return nil
}
