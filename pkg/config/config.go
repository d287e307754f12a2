package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/viewcount/pkg/storage"
)

// ConfigFileEnv names the environment variable holding the optional YAML file path
const ConfigFileEnv = "VIEWCOUNT_CONFIG_FILE"

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Storage       storage.Config      `yaml:"storage"`
	WAL           WALConfig           `yaml:"wal"`
	Jobs          JobsConfig          `yaml:"jobs"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`
}

// WALConfig holds write-ahead log settings
type WALConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	ReplayLimit int    `yaml:"replay_limit"`
	SyncWrites  bool   `yaml:"sync_writes"`
	// ReplayTimeout bounds one recovery pass
	ReplayTimeout time.Duration `yaml:"replay_timeout"`
	// RecoverOnStart replays and clears the log once at process start
	RecoverOnStart bool `yaml:"recover_on_start"`
}

// JobsConfig holds background job settings
type JobsConfig struct {
	SyncSchedule        string        `yaml:"sync_schedule"`
	SyncBatchSize       int           `yaml:"sync_batch_size"`
	SyncConcurrency     int           `yaml:"sync_concurrency"`
	ConsistencySchedule string        `yaml:"consistency_schedule"`
	ConsistencyWindow   time.Duration `yaml:"consistency_window"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Metrics
	MetricsEnabled bool `yaml:"metrics_enabled"`

	// OpenTelemetry
	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"` // Use insecure gRPC connection
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
	// Per-call exporter deadline and the metric push interval
	OTelExportTimeout  time.Duration `yaml:"otel_export_timeout"`
	OTelExportInterval time.Duration `yaml:"otel_export_interval"`
}

// DefaultConfig returns the configuration used when nothing is overridden
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			HealthPort:      "9090",
		},
		Storage: storage.DefaultConfig(),
		WAL: WALConfig{
			Enabled:       true,
			Path:          "/var/log/viewcount/view_wal.log",
			ReplayLimit:   1000,
			ReplayTimeout: 30 * time.Second,
		},
		Jobs: JobsConfig{
			SyncSchedule:        "@every 1m",
			SyncBatchSize:       100,
			SyncConcurrency:     4,
			ConsistencySchedule: "@every 15m",
			ConsistencyWindow:   time.Hour,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			LogFormat:          "json",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "viewcount",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
			OTelSampleRatio:    1,
			OTelExportTimeout:  10 * time.Second,
			OTelExportInterval: 30 * time.Second,
		},
	}
}

// LoadConfig loads defaults, the optional YAML file, and environment overrides
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	if path := os.Getenv(ConfigFileEnv); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides every field whose environment variable is set
func (c *Config) applyEnv() {
	s := &c.Server
	s.Host = getEnv("VIEWCOUNT_HOST", s.Host)
	s.Port = getEnv("VIEWCOUNT_PORT", s.Port)
	s.ReadTimeout = getEnvDuration("VIEWCOUNT_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("VIEWCOUNT_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("VIEWCOUNT_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("VIEWCOUNT_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.HealthPort = getEnv("VIEWCOUNT_HEALTH_PORT", s.HealthPort)

	st := &c.Storage
	st.DurableType = getEnv("VIEWCOUNT_DURABLE_TYPE", st.DurableType)
	st.PostgresURL = getEnv("VIEWCOUNT_POSTGRES_URL", st.PostgresURL)
	st.PostgresReplicaURLs = getEnv("VIEWCOUNT_POSTGRES_REPLICA_URLS", st.PostgresReplicaURLs)
	st.PostgresMaxConns = getEnvInt("VIEWCOUNT_POSTGRES_MAX_CONNS", st.PostgresMaxConns)
	st.PostgresMinConns = getEnvInt("VIEWCOUNT_POSTGRES_MIN_CONNS", st.PostgresMinConns)
	st.PostgresTimeout = getEnvDuration("VIEWCOUNT_POSTGRES_TIMEOUT", st.PostgresTimeout)
	st.SQLitePath = getEnv("VIEWCOUNT_SQLITE_PATH", st.SQLitePath)
	st.RedisURL = getEnv("VIEWCOUNT_REDIS_URL", st.RedisURL)
	st.RedisPassword = getEnv("VIEWCOUNT_REDIS_PASSWORD", st.RedisPassword)
	st.RedisDB = getEnvInt("VIEWCOUNT_REDIS_DB", st.RedisDB)
	st.RedisMaxRetries = getEnvInt("VIEWCOUNT_REDIS_MAX_RETRIES", st.RedisMaxRetries)
	st.RedisPoolSize = getEnvInt("VIEWCOUNT_REDIS_POOL_SIZE", st.RedisPoolSize)
	st.CounterTTL = getEnvDuration("VIEWCOUNT_COUNTER_TTL", st.CounterTTL)
	st.FastOpTimeout = getEnvDuration("VIEWCOUNT_FAST_OP_TIMEOUT", st.FastOpTimeout)
	st.DurableOpTimeout = getEnvDuration("VIEWCOUNT_DURABLE_OP_TIMEOUT", st.DurableOpTimeout)

	w := &c.WAL
	w.Enabled = getEnvBool("VIEWCOUNT_WAL_ENABLED", w.Enabled)
	w.Path = getEnv("VIEWCOUNT_WAL_PATH", w.Path)
	w.ReplayLimit = getEnvInt("VIEWCOUNT_WAL_REPLAY_LIMIT", w.ReplayLimit)
	w.SyncWrites = getEnvBool("VIEWCOUNT_WAL_SYNC_WRITES", w.SyncWrites)
	w.ReplayTimeout = getEnvDuration("VIEWCOUNT_WAL_REPLAY_TIMEOUT", w.ReplayTimeout)
	w.RecoverOnStart = getEnvBool("VIEWCOUNT_WAL_RECOVER_ON_START", w.RecoverOnStart)

	j := &c.Jobs
	j.SyncSchedule = getEnv("VIEWCOUNT_SYNC_SCHEDULE", j.SyncSchedule)
	j.SyncBatchSize = getEnvInt("VIEWCOUNT_SYNC_BATCH_SIZE", j.SyncBatchSize)
	j.SyncConcurrency = getEnvInt("VIEWCOUNT_SYNC_CONCURRENCY", j.SyncConcurrency)
	j.ConsistencySchedule = getEnv("VIEWCOUNT_CONSISTENCY_SCHEDULE", j.ConsistencySchedule)
	j.ConsistencyWindow = getEnvDuration("VIEWCOUNT_CONSISTENCY_WINDOW", j.ConsistencyWindow)

	o := &c.Observability
	o.LogLevel = getEnv("VIEWCOUNT_LOG_LEVEL", o.LogLevel)
	o.LogFormat = getEnv("VIEWCOUNT_LOG_FORMAT", o.LogFormat)
	o.MetricsEnabled = getEnvBool("VIEWCOUNT_METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("VIEWCOUNT_OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("VIEWCOUNT_OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("VIEWCOUNT_OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("VIEWCOUNT_OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("VIEWCOUNT_OTEL_INSECURE", o.OTelInsecure)
	o.OTelSampleRatio = getEnvFloat("VIEWCOUNT_OTEL_SAMPLE_RATIO", o.OTelSampleRatio)
	o.OTelExportTimeout = getEnvDuration("VIEWCOUNT_OTEL_EXPORT_TIMEOUT", o.OTelExportTimeout)
	o.OTelExportInterval = getEnvDuration("VIEWCOUNT_OTEL_EXPORT_INTERVAL", o.OTelExportInterval)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	// Validate storage config based on durable type
	switch c.Storage.DurableType {
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres storage")
		}
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required for sqlite storage")
		}
	default:
		return fmt.Errorf("invalid durable type: %s (must be postgres or sqlite)", c.Storage.DurableType)
	}
	if c.Storage.RedisURL == "" {
		return fmt.Errorf("redis URL is required")
	}
	if c.Storage.CounterTTL <= 0 {
		return fmt.Errorf("counter TTL must be positive")
	}
	if c.Storage.FastOpTimeout <= 0 || c.Storage.DurableOpTimeout <= 0 {
		return fmt.Errorf("store operation timeouts must be positive")
	}

	// Validate write-ahead log config
	if c.WAL.Enabled {
		if c.WAL.Path == "" {
			return fmt.Errorf("WAL path is required when the WAL is enabled")
		}
		if c.WAL.ReplayLimit < 1 {
			return fmt.Errorf("WAL replay limit must be at least 1")
		}
		if c.WAL.ReplayTimeout <= 0 {
			return fmt.Errorf("WAL replay timeout must be positive")
		}
	}

	// Validate job config
	if c.Jobs.SyncBatchSize <= 0 {
		return fmt.Errorf("sync batch size must be positive")
	}
	if c.Jobs.SyncConcurrency <= 0 {
		return fmt.Errorf("sync concurrency must be positive")
	}
	if c.Jobs.ConsistencyWindow <= 0 {
		return fmt.Errorf("consistency window must be positive")
	}
	if _, err := cron.ParseStandard(c.Jobs.SyncSchedule); err != nil {
		return fmt.Errorf("invalid sync schedule %q: %w", c.Jobs.SyncSchedule, err)
	}
	if _, err := cron.ParseStandard(c.Jobs.ConsistencySchedule); err != nil {
		return fmt.Errorf("invalid consistency schedule %q: %w", c.Jobs.ConsistencySchedule, err)
	}

	// Validate observability config
	if _, err := logrus.ParseLevel(c.Observability.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q", c.Observability.LogLevel)
	}
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
		if c.Observability.OTelExportTimeout <= 0 || c.Observability.OTelExportInterval <= 0 {
			return fmt.Errorf("OpenTelemetry export timeout and interval must be positive")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
