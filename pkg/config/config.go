// Package config loads and validates configuration from YAML files with
// environment-variable overrides. It provides typed structs for every
// subsystem (Index, Search, BlockStore, Redis, Postgres, Kafka, MinIO, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Index      IndexConfig      `yaml:"index"`
	Search     SearchConfig     `yaml:"search"`
	BlockStore BlockStoreConfig `yaml:"blockStore"`
	Redis      RedisConfig      `yaml:"redis"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Minio      MinioConfig      `yaml:"minio"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// IndexConfig selects where the term dictionary and the postings blocks are
// read from.
type IndexConfig struct {
	Name       string `yaml:"name"`
	Path       string `yaml:"path"`
	Dictionary string `yaml:"dictionary"`
	Blocks     string `yaml:"blocks"`
}

// SearchConfig controls term weighting and evaluation limits.
type SearchConfig struct {
	IDF                   string  `yaml:"idf"`
	FrequentTermThreshold float64 `yaml:"frequentTermThreshold"`
	MaxAllocationBytes    int64   `yaml:"maxAllocationBytes"`
	FeedbackWorkers       int     `yaml:"feedbackWorkers"`
	FeedbackWeight        float64 `yaml:"feedbackWeight"`
}

// BlockStoreConfig controls block compression, caching and fetch resilience.
type BlockStoreConfig struct {
	Compression         string               `yaml:"compression"`
	CacheBytes          int64                `yaml:"cacheBytes"`
	MaxFetchesPerSecond float64              `yaml:"maxFetchesPerSecond"`
	FetchTimeout        time.Duration        `yaml:"fetchTimeout"`
	Retry               RetryConfig          `yaml:"retry"`
	CircuitBreaker      CircuitBreakerConfig `yaml:"circuitBreaker"`
}

// RetryConfig mirrors resilience.RetryConfig for YAML.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"maxAttempts"`
	InitialDelay time.Duration `yaml:"initialDelay"`
	MaxDelay     time.Duration `yaml:"maxDelay"`
}

// CircuitBreakerConfig mirrors resilience.CircuitBreakerConfig for YAML.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failureThreshold"`
	ResetTimeout     time.Duration `yaml:"resetTimeout"`
}

// RedisConfig holds Redis connection parameters for the remote block store.
type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	PoolSize  int           `yaml:"poolSize"`
	KeyPrefix string        `yaml:"keyPrefix"`
	BlockTTL  time.Duration `yaml:"blockTTL"`
}

// PostgresConfig holds PostgreSQL connection parameters for the term
// dictionary.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	Table           string        `yaml:"table"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds the broker settings for index-update notifications.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	IndexUpdates string `yaml:"indexUpdates"`
}

// MinioConfig holds object-store settings for the remote block store.
type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	UseSSL    bool   `yaml:"useSSL"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with defaults for any missing
// values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the search core cannot run with.
func (c *Config) Validate() error {
	if c.Search.FrequentTermThreshold < 0 {
		return fmt.Errorf("search.frequentTermThreshold must not be negative, got %v", c.Search.FrequentTermThreshold)
	}
	if c.Search.FeedbackWeight <= 0 {
		return fmt.Errorf("search.feedbackWeight must be positive, got %v", c.Search.FeedbackWeight)
	}
	switch c.Index.Dictionary {
	case "segment", "postgres":
	default:
		return fmt.Errorf("index.dictionary: unknown backend %q", c.Index.Dictionary)
	}
	switch c.Index.Blocks {
	case "segment", "redis", "minio":
	default:
		return fmt.Errorf("index.blocks: unknown backend %q", c.Index.Blocks)
	}
	switch c.BlockStore.Compression {
	case "none", "lz4", "zstd":
	default:
		return fmt.Errorf("blockStore.compression: unknown codec %q", c.BlockStore.Compression)
	}
	return nil
}

// defaultConfig returns a Config with defaults for local development.
func defaultConfig() *Config {
	return &Config{
		Index: IndexConfig{
			Name:       "default",
			Path:       "data/index.mps",
			Dictionary: "segment",
			Blocks:     "segment",
		},
		Search: SearchConfig{
			IDF:                "cosine",
			MaxAllocationBytes: 1 << 30,
			FeedbackWorkers:    4,
			FeedbackWeight:     0.1,
		},
		BlockStore: BlockStoreConfig{
			Compression:  "none",
			CacheBytes:   64 << 20,
			FetchTimeout: 2 * time.Second,
			Retry: RetryConfig{
				MaxAttempts:  3,
				InitialDelay: 50 * time.Millisecond,
				MaxDelay:     2 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				ResetTimeout:     30 * time.Second,
			},
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			PoolSize:  10,
			KeyPrefix: "mps:block:",
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "mps",
			User:            "mps",
			Password:        "localdev",
			SSLMode:         "disable",
			Table:           "term_dictionary",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "mps-search",
			Topics: KafkaTopics{
				IndexUpdates: "index-updates",
			},
		},
		Minio: MinioConfig{
			Endpoint: "localhost:9000",
			Bucket:   "mps-blocks",
			Prefix:   "blocks/",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
		},
	}
}

// envOverrides maps MPS_* environment variables onto config fields.
// Unparsable numeric values are ignored.
var envOverrides = []struct {
	name  string
	apply func(cfg *Config, v string)
}{
	{"MPS_INDEX_NAME", func(c *Config, v string) { c.Index.Name = v }},
	{"MPS_INDEX_PATH", func(c *Config, v string) { c.Index.Path = v }},
	{"MPS_INDEX_DICTIONARY", func(c *Config, v string) { c.Index.Dictionary = v }},
	{"MPS_INDEX_BLOCKS", func(c *Config, v string) { c.Index.Blocks = v }},
	{"MPS_SEARCH_IDF", func(c *Config, v string) { c.Search.IDF = v }},
	{"MPS_SEARCH_FREQUENT_TERM_THRESHOLD", func(c *Config, v string) { parseFloat(v, &c.Search.FrequentTermThreshold) }},
	{"MPS_SEARCH_MAX_ALLOCATION_BYTES", func(c *Config, v string) { parseInt64(v, &c.Search.MaxAllocationBytes) }},
	{"MPS_SEARCH_FEEDBACK_WORKERS", func(c *Config, v string) { parseInt(v, &c.Search.FeedbackWorkers) }},
	{"MPS_BLOCKSTORE_COMPRESSION", func(c *Config, v string) { c.BlockStore.Compression = v }},
	{"MPS_BLOCKSTORE_CACHE_BYTES", func(c *Config, v string) { parseInt64(v, &c.BlockStore.CacheBytes) }},
	{"MPS_BLOCKSTORE_MAX_FETCHES_PER_SECOND", func(c *Config, v string) { parseFloat(v, &c.BlockStore.MaxFetchesPerSecond) }},
	{"MPS_REDIS_ADDR", func(c *Config, v string) { c.Redis.Addr = v }},
	{"MPS_REDIS_PASSWORD", func(c *Config, v string) { c.Redis.Password = v }},
	{"MPS_POSTGRES_HOST", func(c *Config, v string) { c.Postgres.Host = v }},
	{"MPS_POSTGRES_PORT", func(c *Config, v string) { parseInt(v, &c.Postgres.Port) }},
	{"MPS_POSTGRES_DATABASE", func(c *Config, v string) { c.Postgres.Database = v }},
	{"MPS_POSTGRES_USER", func(c *Config, v string) { c.Postgres.User = v }},
	{"MPS_POSTGRES_PASSWORD", func(c *Config, v string) { c.Postgres.Password = v }},
	{"MPS_KAFKA_BROKERS", func(c *Config, v string) { c.Kafka.Brokers = strings.Split(v, ",") }},
	{"MPS_MINIO_ENDPOINT", func(c *Config, v string) { c.Minio.Endpoint = v }},
	{"MPS_MINIO_ACCESS_KEY", func(c *Config, v string) { c.Minio.AccessKey = v }},
	{"MPS_MINIO_SECRET_KEY", func(c *Config, v string) { c.Minio.SecretKey = v }},
	{"MPS_LOGGING_LEVEL", func(c *Config, v string) { c.Logging.Level = v }},
	{"MPS_LOGGING_FORMAT", func(c *Config, v string) { c.Logging.Format = v }},
	{"MPS_METRICS_PORT", func(c *Config, v string) { parseInt(v, &c.Metrics.Port) }},
}

func applyEnvOverrides(cfg *Config) {
	for _, o := range envOverrides {
		if v, ok := os.LookupEnv(o.name); ok && v != "" {
			o.apply(cfg, v)
		}
	}
}

func parseInt(v string, dst *int) {
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

func parseInt64(v string, dst *int64) {
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		*dst = n
	}
}

func parseFloat(v string, dst *float64) {
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = f
	}
}
