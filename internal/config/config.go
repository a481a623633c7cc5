// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix scopes environment overrides, e.g. CATALOG_DATABASE_DSN.
const EnvPrefix = "CATALOG"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Database  DatabaseConfig  `mapstructure:"database"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
	// Workers is the number of dispatcher workers executing queued runs.
	Workers    int `mapstructure:"workers"`
	QueueDepth int `mapstructure:"queue_depth"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig governs the site pipelines.
type CrawlerConfig struct {
	Concurrency       int      `mapstructure:"concurrency"`
	InsertBatchSize   int      `mapstructure:"insert_batch_size"`
	UserAgent         string   `mapstructure:"user_agent"`
	RespectRobots     bool     `mapstructure:"respect_robots"`
	RunTimeoutSeconds int      `mapstructure:"run_timeout_seconds"`
	MaxAttempts       int      `mapstructure:"max_attempts"`
	Sites             []string `mapstructure:"sites"`
}

// HTTPConfig configures the fetchers.
type HTTPConfig struct {
	TimeoutSeconds   int  `mapstructure:"timeout_seconds"`
	CloudflareBypass bool `mapstructure:"cloudflare_bypass"`
	MaxRetries       int  `mapstructure:"max_retries"`
	BackoffInitialMs int  `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int  `mapstructure:"backoff_max_ms"`
	// MaxImageBytes caps picture downloads. Zero means no cap.
	MaxImageBytes int `mapstructure:"max_image_bytes"`
}

// RateLimitConfig throttles requests per host.
type RateLimitConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	DefaultRPS   float64 `mapstructure:"default_rps"`
	DefaultBurst int     `mapstructure:"default_burst"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	MaxParallel   int    `mapstructure:"max_parallel"`
	NavTimeoutSec int    `mapstructure:"nav_timeout_seconds"`
	WaitSelector  string `mapstructure:"wait_selector"`
}

// Storage backends for downloaded pictures.
const (
	StorageMemory = "memory"
	StorageLocal  = "local"
	StorageGCS    = "gcs"
)

// StorageConfig selects where pictures are written.
type StorageConfig struct {
	Backend string             `mapstructure:"backend"`
	Local   LocalStorageConfig `mapstructure:"local"`
	Bucket  string             `mapstructure:"bucket"`
	Prefix  string             `mapstructure:"prefix"`
}

// LocalStorageConfig roots the local file store.
type LocalStorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// Database backends for catalog rows.
const (
	DatabasePostgres = "postgres"
	DatabaseMongo    = "mongo"
	DatabaseMemory   = "memory"
)

// DatabaseConfig controls access to the catalog database.
type DatabaseConfig struct {
	Backend       string `mapstructure:"backend"`
	DSN           string `mapstructure:"dsn"`
	Schema        string `mapstructure:"schema"`
	MaxConns      int    `mapstructure:"max_conns"`
	MongoURI      string `mapstructure:"mongo_uri"`
	MongoDatabase string `mapstructure:"mongo_database"`
}

// PubSubConfig holds metadata for run report notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProgressConfig controls the progress hub and its sinks.
type ProgressConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	LogEnabled bool `mapstructure:"log_enabled"`
	BufferSize int  `mapstructure:"buffer_size"`
	Batch      int  `mapstructure:"batch"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// TelemetryConfig describes the service to OpenTelemetry. Traces are
// exported to Cloud Trace only when ProjectID is set.
type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	Version     string `mapstructure:"version"`
	ProjectID   string `mapstructure:"project_id"`
}

// Load builds a Config from the optional file at path, the environment and
// any existing envFiles, which are applied first without overriding variables
// already set.
func Load(path string, envFiles ...string) (Config, error) {
	if err := loadEnvFiles(envFiles); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func loadEnvFiles(files []string) error {
	for _, f := range files {
		if f == "" {
			continue
		}
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load env file %s: %w", f, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.workers", 1)
	v.SetDefault("server.queue_depth", 16)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("crawler.concurrency", 10)
	v.SetDefault("crawler.insert_batch_size", 500)
	v.SetDefault("crawler.user_agent", "catalog-crawler/0.1")
	v.SetDefault("crawler.respect_robots", false)
	v.SetDefault("crawler.run_timeout_seconds", 0)
	v.SetDefault("crawler.max_attempts", 1)
	v.SetDefault("crawler.sites", []string{})
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.cloudflare_bypass", false)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 5000)
	v.SetDefault("http.max_image_bytes", 0)
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.default_rps", 5.0)
	v.SetDefault("rate_limit.default_burst", 5)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.wait_selector", "body")
	v.SetDefault("storage.backend", StorageLocal)
	v.SetDefault("storage.local.base_dir", "pictures")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("database.backend", DatabasePostgres)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.schema", "marketplaces")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.mongo_uri", "")
	v.SetDefault("database.mongo_database", "marketplaces")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_enabled", false)
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.batch", 1000)
	v.SetDefault("logging.development", true)
	v.SetDefault("telemetry.service_name", "catalog-crawler")
	v.SetDefault("telemetry.version", "dev")
	v.SetDefault("telemetry.project_id", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.InsertBatchSize <= 0 {
		return fmt.Errorf("crawler.insert_batch_size must be > 0")
	}
	if c.Crawler.RunTimeoutSeconds < 0 {
		return fmt.Errorf("crawler.run_timeout_seconds must be >= 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.RateLimit.Enabled && c.RateLimit.DefaultRPS < 0 {
		return fmt.Errorf("rate_limit.default_rps must be >= 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Storage.Backend {
	case StorageMemory:
	case StorageLocal:
		if strings.TrimSpace(c.Storage.Local.BaseDir) == "" {
			return fmt.Errorf("storage.local.base_dir is required for the local backend")
		}
	case StorageGCS:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of memory, local, gcs", c.Storage.Backend)
	}
	switch c.Database.Backend {
	case DatabaseMemory:
	case DatabasePostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres backend")
		}
	case DatabaseMongo:
		if c.Database.MongoURI == "" || c.Database.MongoDatabase == "" {
			return fmt.Errorf("database.mongo_uri and database.mongo_database are required for the mongo backend")
		}
	default:
		return fmt.Errorf("database.backend %q is not one of postgres, mongo, memory", c.Database.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id is required when pubsub.topic_name is set")
	}
	return nil
}

// HTTPTimeout converts the fetch timeout to a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// RunTimeout is the per-run deadline; zero means none.
func (c Config) RunTimeout() time.Duration {
	return time.Duration(c.Crawler.RunTimeoutSeconds) * time.Second
}

// NavTimeout is the headless navigation deadline.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSec) * time.Second
}

// Backoff returns the persistence retry delays.
func (c Config) Backoff() (base, maxDelay time.Duration) {
	return time.Duration(c.HTTP.BackoffInitialMs) * time.Millisecond,
		time.Duration(c.HTTP.BackoffMaxMs) * time.Millisecond
}
