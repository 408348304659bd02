package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/kotori-note/kabunote/pkg/cache"
	"github.com/kotori-note/kabunote/pkg/explain"
	"github.com/kotori-note/kabunote/pkg/logger"
	"github.com/kotori-note/kabunote/pkg/prices"
	"github.com/kotori-note/kabunote/pkg/provider"
	"github.com/kotori-note/kabunote/pkg/quota"
	"github.com/kotori-note/kabunote/pkg/store"
)

// Config holds all kabunote configuration.
type Config struct {
	Listen   string          `yaml:"listen"`
	Log      logger.Config   `yaml:"log"`
	Database store.Config    `yaml:"database"`
	Limits   quota.Limits    `yaml:"limits"`
	Cache    CacheConfig     `yaml:"cache"`
	Provider provider.Config `yaml:"provider"`
	Prices   PricesConfig    `yaml:"prices"`
	Explain  explain.Config  `yaml:"explain"`
	Jobs     JobsConfig      `yaml:"jobs"`
	CORS     CORSConfig      `yaml:"cors"`
}

// CacheConfig controls payload encoding and entry lifetimes.
type CacheConfig struct {
	Codec string          `yaml:"codec"` // json or msgpack
	TTL   cache.TTLPolicy `yaml:"ttl"`
}

// PricesConfig selects the market data source.
type PricesConfig struct {
	// Source is "yahoo" or "synthetic". Synthetic never calls out.
	Source string             `yaml:"source"`
	Yahoo  prices.YahooConfig `yaml:"yahoo"`
}

// JobsConfig schedules background maintenance. Schedules use cron syntax,
// including descriptors such as "@every 10m".
type JobsConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Cleanup         string        `yaml:"cleanup"`
	WarmUp          string        `yaml:"warm_up"`
	MinuteRetention time.Duration `yaml:"minute_retention"`
}

// CORSConfig lists the browser origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen:   ":8080",
		Log:      logger.Config{Level: "info"},
		Database: store.Config{Driver: store.DriverSQLite, DSN: "kabunote.db"},
		Limits:   quota.DefaultLimits(),
		Cache: CacheConfig{
			Codec: "json",
			TTL:   cache.DefaultTTLs(),
		},
		Provider: provider.DefaultConfig(),
		Prices: PricesConfig{
			Source: "yahoo",
			Yahoo:  prices.DefaultYahooConfig(),
		},
		Explain: explain.DefaultConfig(),
		Jobs: JobsConfig{
			Enabled:         true,
			Cleanup:         "@every 10m",
			WarmUp:          "@hourly",
			MinuteRetention: time.Hour,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"http://localhost:3000"},
		},
	}
}

// Load reads a YAML config file and expands environment variables. A .env
// file in the working directory is loaded first if present. An empty path
// yields the defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}

		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = os.Getenv("GEMINI_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error

	if err := c.Limits.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("limits: %w", err))
	}

	switch c.Database.Driver {
	case store.DriverSQLite, store.DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("database.driver: unsupported %q", c.Database.Driver))
	}
	if c.Database.Driver == store.DriverPostgres && c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn: required for pgx"))
	}

	if _, err := cache.CodecByName(c.Cache.Codec); err != nil {
		errs = append(errs, fmt.Errorf("cache.codec: %w", err))
	}
	for ns, ttl := range c.Cache.TTL {
		if ttl <= 0 {
			errs = append(errs, fmt.Errorf("cache.ttl.%s: must be positive, got %s", ns, ttl))
		}
	}

	switch c.Prices.Source {
	case "yahoo", "synthetic":
	default:
		errs = append(errs, fmt.Errorf("prices.source: unsupported %q", c.Prices.Source))
	}

	if c.Provider.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("provider.timeout: must be positive, got %s", c.Provider.Timeout))
	}

	if c.Jobs.Enabled {
		for name, spec := range map[string]string{"jobs.cleanup": c.Jobs.Cleanup, "jobs.warm_up": c.Jobs.WarmUp} {
			if spec == "" {
				continue
			}
			if _, err := cron.ParseStandard(spec); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
		}
		if c.Jobs.MinuteRetention < time.Minute {
			errs = append(errs, fmt.Errorf("jobs.minute_retention: must be at least 1m, got %s", c.Jobs.MinuteRetention))
		}
	}

	return errors.Join(errs...)
}
