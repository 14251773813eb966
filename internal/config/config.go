// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port          string
	Env           string
	AllowedOrigin string
	LogStore      LogStoreConfig
	Model         ModelConfig
	Cache         CacheConfig
	Turn          TurnConfig
	RecordsPath   string
}

// IsDevelopment reports whether the app runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// LogStoreConfig controls the remote log store client.
type LogStoreConfig struct {
	BaseURLs       []string
	APIKey         string
	TimeoutSeconds int
	ItemCap        int
	MaxBackoff     time.Duration
}

// ModelConfig controls the language model client.
type ModelConfig struct {
	BaseURL        string
	Model          string
	APIKey         string
	TimeoutSeconds int
	Temperature    float64
}

// CacheConfig controls the disk result cache.
type CacheConfig struct {
	Dir           string
	CapacityBytes int64
	TTL           time.Duration
	RecencyFloor  time.Duration
}

// TurnConfig bounds a single conversation turn.
type TurnConfig struct {
	MaxToolIterations   int
	MaxRetryAttempts    int
	TimeExpansionFactor float64
	FanOutLimit         int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("APP_ENV", "development"),
		AllowedOrigin: getEnv("ALLOWED_ORIGIN", "*"),
		LogStore: LogStoreConfig{
			BaseURLs:       splitList(getEnv("LOGSTORE_BASE_URLS", "http://localhost:9428")),
			APIKey:         getEnv("LOGSTORE_API_KEY", ""),
			TimeoutSeconds: getEnvInt("LOGSTORE_TIMEOUT_SECONDS", 30),
			ItemCap:        getEnvInt("LOGSTORE_ITEM_CAP", 500),
			MaxBackoff:     getEnvDuration("LOGSTORE_MAX_BACKOFF", 8*time.Second),
		},
		Model: ModelConfig{
			BaseURL:        getEnv("MODEL_BASE_URL", "http://localhost:1234/v1"),
			Model:          getEnv("MODEL_NAME", ""),
			APIKey:         getEnv("MODEL_API_KEY", ""),
			TimeoutSeconds: getEnvInt("MODEL_TIMEOUT_SECONDS", 120),
			Temperature:    getEnvFloat("MODEL_TEMPERATURE", 0.2),
		},
		Cache: CacheConfig{
			Dir:           getEnv("CACHE_DIR", "./data/cache"),
			CapacityBytes: int64(getEnvInt("CACHE_CAPACITY_MB", 64)) * 1024 * 1024,
			TTL:           getEnvDuration("CACHE_TTL", 15*time.Minute),
			RecencyFloor:  getEnvDuration("CACHE_RECENCY_FLOOR", 2*time.Second),
		},
		Turn: TurnConfig{
			MaxToolIterations:   getEnvInt("TURN_MAX_TOOL_ITERATIONS", 15),
			MaxRetryAttempts:    getEnvInt("TURN_MAX_RETRY_ATTEMPTS", 3),
			TimeExpansionFactor: getEnvFloat("TURN_TIME_EXPANSION_FACTOR", 4.0),
			FanOutLimit:         getEnvInt("TURN_FANOUT_LIMIT", 8),
		},
		RecordsPath: getEnv("RECORDS_DB_PATH", "./data/records.db"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if len(c.LogStore.BaseURLs) == 0 {
		return fmt.Errorf("LOGSTORE_BASE_URLS cannot be empty")
	}
	if c.LogStore.ItemCap <= 0 {
		return fmt.Errorf("LOGSTORE_ITEM_CAP must be > 0")
	}
	if c.Model.BaseURL == "" {
		return fmt.Errorf("MODEL_BASE_URL cannot be empty")
	}
	if c.Cache.Dir == "" {
		return fmt.Errorf("CACHE_DIR cannot be empty")
	}
	if c.Cache.CapacityBytes <= 0 {
		return fmt.Errorf("CACHE_CAPACITY_MB must be > 0")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be > 0")
	}
	if c.Cache.RecencyFloor < 0 {
		return fmt.Errorf("CACHE_RECENCY_FLOOR cannot be negative")
	}
	if c.Turn.MaxToolIterations <= 0 {
		return fmt.Errorf("TURN_MAX_TOOL_ITERATIONS must be > 0")
	}
	if c.Turn.MaxRetryAttempts < 0 {
		return fmt.Errorf("TURN_MAX_RETRY_ATTEMPTS cannot be negative")
	}
	if c.Turn.TimeExpansionFactor <= 1 {
		return fmt.Errorf("TURN_TIME_EXPANSION_FACTOR must be > 1")
	}
	if c.Turn.FanOutLimit <= 0 {
		return fmt.Errorf("TURN_FANOUT_LIMIT must be > 0")
	}
	if c.RecordsPath == "" {
		return fmt.Errorf("RECORDS_DB_PATH cannot be empty")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
