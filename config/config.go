package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds scraper configuration.
type Config struct {
	// Fetching
	MaxAttempts       int           `yaml:"max_attempts"`
	MinDelay          time.Duration `yaml:"min_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	RateLimitCooldown time.Duration `yaml:"rate_limit_cooldown"`
	RetryCooldown     time.Duration `yaml:"retry_cooldown"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Workers           int           `yaml:"workers"`
	UserAgent         string        `yaml:"user_agent"` // empty means randomized per request
	Accept            string        `yaml:"accept"`
	AcceptLanguage    string        `yaml:"accept_language"`

	// Cache
	CacheBackend       string        `yaml:"cache_backend"` // file or redis
	CacheDir           string        `yaml:"cache_dir"`
	CacheFreshness     time.Duration `yaml:"cache_freshness"`
	CacheMemoryEntries int           `yaml:"cache_memory_entries"`
	RedisAddr          string        `yaml:"redis_addr"`

	// Persistence
	StoreBackend string `yaml:"store_backend"` // sqlite or postgres
	DBPath       string `yaml:"db_path"`
	PostgresDSN  string `yaml:"postgres_dsn"`

	// Output
	OutputDir    string `yaml:"output_dir"`
	OutputPrefix string `yaml:"output_prefix"`
	LogFile      string `yaml:"log_file"`
	Verbose      bool   `yaml:"verbose"`
	MetricsAddr  string `yaml:"metrics_addr"`
	ListenAddr   string `yaml:"listen_addr"`
}

// DefaultConfig returns the politeness defaults used against real shops.
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:        3,
		MinDelay:           1 * time.Second,
		MaxDelay:           3 * time.Second,
		RateLimitCooldown:  30 * time.Second,
		RetryCooldown:      5 * time.Second,
		Timeout:            10 * time.Second,
		RequestsPerSecond:  1,
		Workers:            1,
		UserAgent:          "",
		Accept:             "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
		AcceptLanguage:     "es-ES,es;q=0.8,en-US;q=0.5,en;q=0.3",
		CacheBackend:       "file",
		CacheDir:           "cache",
		CacheFreshness:     24 * time.Hour,
		CacheMemoryEntries: 256,
		RedisAddr:          "localhost:6379",
		StoreBackend:       "sqlite",
		DBPath:             "scraper_data.db",
		OutputDir:          "datos_scraping",
		OutputPrefix:       "datos_scraping",
		LogFile:            "scraper.log",
	}
}

// LoadFile overlays the YAML document at path onto the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %q: %w", path, err)
	}
	return cfg, nil
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive")
	}
	if c.MinDelay < 0 || c.MaxDelay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.MaxDelay < c.MinDelay {
		return fmt.Errorf("max delay (%s) cannot be lower than min delay (%s)", c.MaxDelay, c.MinDelay)
	}
	if c.RateLimitCooldown < 0 {
		return fmt.Errorf("rate limit cooldown cannot be negative")
	}
	if c.RetryCooldown < 0 {
		return fmt.Errorf("retry cooldown cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("requests per second cannot be negative")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}

	switch c.CacheBackend {
	case "file":
		if c.CacheDir == "" {
			return fmt.Errorf("cache dir cannot be empty")
		}
	case "redis":
		if c.RedisAddr == "" {
			return fmt.Errorf("redis addr cannot be empty")
		}
	default:
		return fmt.Errorf("cache backend must be file or redis")
	}
	if c.CacheFreshness <= 0 {
		return fmt.Errorf("cache freshness must be positive")
	}
	if c.CacheMemoryEntries < 0 {
		return fmt.Errorf("cache memory entries cannot be negative")
	}

	switch c.StoreBackend {
	case "sqlite":
		if c.DBPath == "" {
			return fmt.Errorf("db path cannot be empty")
		}
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("postgres dsn cannot be empty")
		}
	default:
		return fmt.Errorf("store backend must be sqlite or postgres")
	}

	if c.OutputDir == "" {
		return fmt.Errorf("output dir cannot be empty")
	}
	if c.OutputPrefix == "" {
		return fmt.Errorf("output prefix cannot be empty")
	}
	return nil
}
