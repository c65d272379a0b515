// Package config loads and validates sitecrawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. SITECRAWLER_SERVER_PORT.
const EnvPrefix = "SITECRAWLER"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Progress ProgressConfig `mapstructure:"progress"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxRequestBytes int64         `mapstructure:"max_request_bytes"`
}

// CrawlerConfig governs fetching, retries, and the admission gate.
type CrawlerConfig struct {
	UserAgent       string            `mapstructure:"user_agent"`
	Headers         map[string]string `mapstructure:"headers"`
	RequestTimeout  time.Duration     `mapstructure:"request_timeout"`
	MaxBodyBytes    int               `mapstructure:"max_body_bytes"`
	MaxConcurrency  int64             `mapstructure:"max_concurrency"`
	MaxAttempts     int               `mapstructure:"max_attempts"`
	RetryBaseDelay  time.Duration     `mapstructure:"retry_base_delay"`
	RetryMaxDelay   time.Duration     `mapstructure:"retry_max_delay"`
	RetryMaxElapsed time.Duration     `mapstructure:"retry_max_elapsed"`
	LinksFile       string            `mapstructure:"links_file"`
	SeedURL         string            `mapstructure:"seed_url"`
	SeedSelector    string            `mapstructure:"seed_selector"`
}

// StorageConfig selects where site records are committed.
type StorageConfig struct {
	Driver   string         `mapstructure:"driver"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig controls access to the relational database.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	EnsureSchema    bool          `mapstructure:"ensure_schema"`
}

// RedisConfig addresses the Redis server.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// ArchiveConfig selects where raw page bodies are kept.
type ArchiveConfig struct {
	Driver    string `mapstructure:"driver"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for crawl summary notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
	LogEvents      bool          `mapstructure:"log_events"`
}

// Storage and archive drivers.
const (
	DriverNone     = "none"
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverLocal    = "local"
	DriverGCS      = "gcs"
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
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

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.max_request_bytes", 1<<20)
	v.SetDefault("crawler.user_agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/92.0.4515.107 Safari/537.36")
	v.SetDefault("crawler.headers", map[string]string{
		"accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"accept-language":           "en-US,en;q=0.9",
		"cache-control":             "max-age=0",
		"upgrade-insecure-requests": "1",
	})
	v.SetDefault("crawler.request_timeout", "15s")
	v.SetDefault("crawler.max_body_bytes", 5*1024*1024)
	v.SetDefault("crawler.max_concurrency", 500)
	v.SetDefault("crawler.max_attempts", 3)
	v.SetDefault("crawler.retry_base_delay", "500ms")
	v.SetDefault("crawler.retry_max_delay", "10s")
	v.SetDefault("crawler.retry_max_elapsed", "45s")
	v.SetDefault("crawler.links_file", "links.txt")
	v.SetDefault("crawler.seed_selector", "a")
	v.SetDefault("storage.driver", DriverMemory)
	v.SetDefault("storage.postgres.table", "sites")
	v.SetDefault("storage.postgres.max_conn_lifetime", "30m")
	v.SetDefault("storage.postgres.ensure_schema", true)
	v.SetDefault("storage.redis.key_prefix", "site:")
	v.SetDefault("archive.driver", DriverNone)
	v.SetDefault("archive.prefix", "bodies")
	v.SetDefault("logging.development", true)
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.max_batch_events", 256)
	v.SetDefault("progress.max_batch_wait", "500ms")
	v.SetDefault("progress.log_events", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return errors.New("server.port must be > 0")
	}
	if c.Crawler.RequestTimeout <= 0 {
		return errors.New("crawler.request_timeout must be > 0")
	}
	if c.Crawler.MaxConcurrency <= 0 {
		return errors.New("crawler.max_concurrency must be > 0")
	}
	if c.Crawler.MaxAttempts <= 0 {
		return errors.New("crawler.max_attempts must be > 0")
	}
	if c.Crawler.RetryBaseDelay <= 0 || c.Crawler.RetryMaxDelay < c.Crawler.RetryBaseDelay {
		return errors.New("crawler.retry_max_delay must be >= crawler.retry_base_delay > 0")
	}
	switch c.Storage.Driver {
	case DriverNone, DriverMemory:
	case DriverPostgres:
		if c.Storage.Postgres.DSN == "" {
			return errors.New("storage.postgres.dsn must be set when storage.driver is postgres")
		}
	case DriverRedis:
		if c.Storage.Redis.Addr == "" {
			return errors.New("storage.redis.addr must be set when storage.driver is redis")
		}
	default:
		return fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver)
	}
	switch c.Archive.Driver {
	case DriverNone, DriverMemory:
	case DriverLocal:
		if c.Archive.BaseDir == "" {
			return errors.New("archive.base_dir must be set when archive.driver is local")
		}
	case DriverGCS:
		if c.Archive.GCSBucket == "" {
			return errors.New("archive.gcs_bucket must be set when archive.driver is gcs")
		}
	default:
		return fmt.Errorf("archive.driver %q is not supported", c.Archive.Driver)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return errors.New("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// RequestHeaders returns the configured headers in canonical form.
func (c CrawlerConfig) RequestHeaders() http.Header {
	h := make(http.Header, len(c.Headers))
	for k, v := range c.Headers {
		h.Set(k, v)
	}
	return h
}
