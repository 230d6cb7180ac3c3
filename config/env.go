package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvString returns the trimmed value of key when it is set and non-empty.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses key as an integer.
func EnvInt(key string) (int, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// EnvDuration parses key with time.ParseDuration.
func EnvDuration(key string) (time.Duration, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// ApplyEnv overrides cfg with SCRAPER_* environment variables.
func (c *Config) ApplyEnv() error {
	if v, ok := EnvString("SCRAPER_CACHE_BACKEND"); ok {
		c.CacheBackend = strings.ToLower(v)
	}
	if v, ok := EnvString("SCRAPER_CACHE_DIR"); ok {
		c.CacheDir = v
	}
	if v, ok := EnvString("SCRAPER_REDIS_ADDR"); ok {
		c.RedisAddr = v
	}
	if v, ok := EnvString("SCRAPER_STORE_BACKEND"); ok {
		c.StoreBackend = strings.ToLower(v)
	}
	if v, ok := EnvString("SCRAPER_DB_PATH"); ok {
		c.DBPath = v
	}
	if v, ok := EnvString("SCRAPER_POSTGRES_DSN"); ok {
		c.PostgresDSN = v
	}
	if v, ok := EnvString("SCRAPER_OUTPUT_DIR"); ok {
		c.OutputDir = v
	}
	if v, ok := EnvString("SCRAPER_METRICS_ADDR"); ok {
		c.MetricsAddr = v
	}
	if v, ok := EnvString("SCRAPER_USER_AGENT"); ok {
		c.UserAgent = v
	}
	if v, ok, err := EnvInt("SCRAPER_WORKERS"); err != nil {
		return err
	} else if ok {
		c.Workers = v
	}
	if v, ok, err := EnvInt("SCRAPER_MAX_ATTEMPTS"); err != nil {
		return err
	} else if ok {
		c.MaxAttempts = v
	}
	if v, ok, err := EnvDuration("SCRAPER_TIMEOUT"); err != nil {
		return err
	} else if ok {
		c.Timeout = v
	}
	if v, ok, err := EnvDuration("SCRAPER_CACHE_FRESHNESS"); err != nil {
		return err
	} else if ok {
		c.CacheFreshness = v
	}
	return nil
}
