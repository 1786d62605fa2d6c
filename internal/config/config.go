/**
 * Configuration for the docoptic worker
 *
 * Loads configuration from environment variables (and, optionally, a YAML
 * file) matching .env conventions from the worker's deployment.
 */

package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// RedisConfig holds queue/status-store connection settings.
type RedisConfig struct {
	URL string
}

// PostgresConfig holds the property-search backing store connection settings.
type PostgresConfig struct {
	DatabaseURL string
}

// VectorStoreConfig holds the vector-search backing store connection settings.
type VectorStoreConfig struct {
	URL        string
	Collection string
}

// QueueConfig holds job-queue tuning knobs.
type QueueConfig struct {
	Name              string
	Concurrency       int
	ProcessingTimeoutMillis int64
}

// OCRConfig holds MEO defaults.
type OCRConfig struct {
	DefaultStrategy    string
	DefaultThreshold   float64
	TesseractPath      string
	TesseractConfigStr string
}

// CacheConfig holds LRU sizing knobs.
type CacheConfig struct {
	MaxSize             int
	MaxPatternCacheSize int
}

// OptimizerConfig holds QOS base/specialized optimizer knobs.
type OptimizerConfig struct {
	MaxScanCount      int
	AdaptiveThreshold float64 // ms; loaded but not read by the optimizer stack, whose scan-tightening threshold is a fixed 500 ms
	MinVectorWeight   float64
	MaxVectorWeight   float64
}

// Config holds the full worker configuration.
type Config struct {
	Redis       RedisConfig
	Postgres    PostgresConfig
	VectorStore VectorStoreConfig
	Queue       QueueConfig
	OCR         OCRConfig
	Cache       CacheConfig
	Optimizer   OptimizerConfig
	TempDir     string
	Environment string
}

// LoadConfig loads configuration from environment variables, with an
// optional config.yaml overlay for non-secret defaults. Required values
// fail fast, matching the teacher's getEnvOrThrow discipline.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	databaseURL := v.GetString("DATABASE_URL")
	if databaseURL == "" {
		return nil, fmt.Errorf("required environment variable DATABASE_URL is not set")
	}

	cfg := &Config{
		Redis: RedisConfig{
			URL: v.GetString("REDIS_URL"),
		},
		Postgres: PostgresConfig{
			DatabaseURL: databaseURL,
		},
		VectorStore: VectorStoreConfig{
			URL:        v.GetString("VECTOR_STORE_URL"),
			Collection: v.GetString("VECTOR_STORE_COLLECTION"),
		},
		Queue: QueueConfig{
			Name:                    v.GetString("QUEUE_NAME"),
			Concurrency:             v.GetInt("WORKER_CONCURRENCY"),
			ProcessingTimeoutMillis: v.GetInt64("PROCESSING_TIMEOUT_MS"),
		},
		OCR: OCRConfig{
			DefaultStrategy:    v.GetString("OCR_DEFAULT_STRATEGY"),
			DefaultThreshold:   v.GetFloat64("OCR_DEFAULT_THRESHOLD"),
			TesseractPath:      v.GetString("TESSERACT_PATH"),
			TesseractConfigStr: v.GetString("TESSERACT_CONFIG"),
		},
		Cache: CacheConfig{
			MaxSize:             v.GetInt("CACHE_MAX_SIZE"),
			MaxPatternCacheSize: v.GetInt("GRAPH_PATTERN_CACHE_SIZE"),
		},
		Optimizer: OptimizerConfig{
			MaxScanCount:      v.GetInt("OPTIMIZER_MAX_SCAN_COUNT"),
			AdaptiveThreshold: v.GetFloat64("OPTIMIZER_ADAPTIVE_THRESHOLD_MS"),
			MinVectorWeight:   v.GetFloat64("HYBRID_MIN_VECTOR_WEIGHT"),
			MaxVectorWeight:   v.GetFloat64("HYBRID_MAX_VECTOR_WEIGHT"),
		},
		TempDir:     v.GetString("TEMP_DIR"),
		Environment: v.GetString("NODE_ENV"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("REDIS_URL", "redis://localhost:6379")
	v.SetDefault("VECTOR_STORE_URL", "localhost:6334")
	v.SetDefault("VECTOR_STORE_COLLECTION", "docoptic_vectors")
	v.SetDefault("QUEUE_NAME", "docoptic:ocr-jobs")
	v.SetDefault("WORKER_CONCURRENCY", 10)
	v.SetDefault("PROCESSING_TIMEOUT_MS", 300000)
	v.SetDefault("OCR_DEFAULT_STRATEGY", "quality_first")
	v.SetDefault("OCR_DEFAULT_THRESHOLD", 0.8)
	v.SetDefault("TESSERACT_PATH", "/usr/bin/tesseract")
	v.SetDefault("TESSERACT_CONFIG", "--psm 6 -c tessedit_char_whitelist=0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz .,!?-")
	v.SetDefault("CACHE_MAX_SIZE", 100)
	v.SetDefault("GRAPH_PATTERN_CACHE_SIZE", 100)
	v.SetDefault("OPTIMIZER_MAX_SCAN_COUNT", 10000)
	v.SetDefault("OPTIMIZER_ADAPTIVE_THRESHOLD_MS", 500.0)
	v.SetDefault("HYBRID_MIN_VECTOR_WEIGHT", 0.3)
	v.SetDefault("HYBRID_MAX_VECTOR_WEIGHT", 0.8)
	v.SetDefault("TEMP_DIR", "/tmp/docoptic")
	v.SetDefault("NODE_ENV", "development")
}

// Validate checks that configuration values are within accepted bounds.
func (c *Config) Validate() error {
	if c.Postgres.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Queue.Concurrency < 1 || c.Queue.Concurrency > 100 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.Queue.Concurrency)
	}

	if c.Cache.MaxSize < 1 {
		return fmt.Errorf("CACHE_MAX_SIZE must be at least 1, got %d", c.Cache.MaxSize)
	}

	if c.Cache.MaxPatternCacheSize < 1 {
		return fmt.Errorf("GRAPH_PATTERN_CACHE_SIZE must be at least 1, got %d", c.Cache.MaxPatternCacheSize)
	}

	if c.OCR.DefaultThreshold < 0 || c.OCR.DefaultThreshold > 1 {
		return fmt.Errorf("OCR_DEFAULT_THRESHOLD must be in [0,1], got %f", c.OCR.DefaultThreshold)
	}

	if c.Optimizer.MinVectorWeight < 0 || c.Optimizer.MaxVectorWeight > 1 || c.Optimizer.MinVectorWeight > c.Optimizer.MaxVectorWeight {
		return fmt.Errorf("hybrid vector weight bounds are invalid: [%f, %f]", c.Optimizer.MinVectorWeight, c.Optimizer.MaxVectorWeight)
	}

	return nil
}
