// Package config loads the gradebook client configuration by layering
// defaults, an optional YAML file, and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	redisstore "github.com/school-hub/gradebook/internal/infrastructure/persistence/redis"
)

// Session store backends.
const (
	SessionBackendFile  = "file"
	SessionBackendRedis = "redis"
)

// Config holds all application configuration.
type Config struct {
	App     AppConfig     `koanf:"app"`
	API     APIConfig     `koanf:"api"`
	Cache   CacheConfig   `koanf:"cache"`
	Report  ReportConfig  `koanf:"report"`
	Session SessionConfig `koanf:"session"`
	Redis   RedisConfig   `koanf:"redis"`
	Metrics MetricsConfig `koanf:"metrics"`
}

// AppConfig holds general application settings.
type AppConfig struct {
	LogLevel    string `koanf:"log_level"`
	Debug       bool   `koanf:"debug"`
	DownloadDir string `koanf:"download_dir"`
}

// APIConfig holds grade service connection settings.
type APIConfig struct {
	BaseURL        string        `koanf:"base_url"`
	Timeout        time.Duration `koanf:"timeout"`
	RateLimitRPS   float64       `koanf:"rate_limit_rps"`
	RateLimitBurst int           `koanf:"rate_limit_burst"`
}

// CacheConfig tunes the read caches.
type CacheConfig struct {
	FreshFor     time.Duration `koanf:"fresh_for"`
	RetainFor    time.Duration `koanf:"retain_for"`
	FetchRetries int           `koanf:"fetch_retries"`
	RetryDelay   time.Duration `koanf:"retry_delay"`
}

// ReportConfig tunes the report delivery poll loop.
type ReportConfig struct {
	MaxAttempts  int           `koanf:"max_attempts"`
	PollInterval time.Duration `koanf:"poll_interval"`
}

// SessionConfig selects where the session is persisted.
type SessionConfig struct {
	// Backend is "file" or "redis".
	Backend string `koanf:"backend"`

	// FilePath overrides the default session file location.
	FilePath string `koanf:"file_path"`
}

// RedisConfig holds Redis settings for the redis session backend.
type RedisConfig struct {
	Host       string        `koanf:"host"`
	Port       int           `koanf:"port"`
	Password   string        `koanf:"password"`
	DB         int           `koanf:"db"`
	Terminal   string        `koanf:"terminal"`
	SessionTTL time.Duration `koanf:"session_ttl"`
}

// StoreConfig converts to the redis store's configuration.
func (c RedisConfig) StoreConfig() redisstore.Config {
	cfg := redisstore.DefaultConfig()
	if c.Host != "" {
		cfg.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Port = c.Port
	}
	cfg.Password = c.Password
	cfg.DB = c.DB
	if c.Terminal != "" {
		cfg.Terminal = c.Terminal
	}
	if c.SessionTTL > 0 {
		cfg.SessionTTL = c.SessionTTL
	}
	return cfg
}

// MetricsConfig controls the Prometheus registry.
type MetricsConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Namespace string `koanf:"namespace"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		App: AppConfig{
			LogLevel:    "info",
			DownloadDir: "downloads",
		},
		API: APIConfig{
			BaseURL:        "http://localhost:8000",
			Timeout:        30 * time.Second,
			RateLimitRPS:   10,
			RateLimitBurst: 20,
		},
		Cache: CacheConfig{
			FreshFor:     5 * time.Minute,
			RetainFor:    10 * time.Minute,
			FetchRetries: 1,
			RetryDelay:   200 * time.Millisecond,
		},
		Report: ReportConfig{
			MaxAttempts:  10,
			PollInterval: 1 * time.Second,
		},
		Session: SessionConfig{
			Backend: SessionBackendFile,
		},
		Redis: RedisConfig{
			Host:       "localhost",
			Port:       6379,
			Terminal:   "default",
			SessionTTL: 24 * time.Hour,
		},
		Metrics: MetricsConfig{
			Namespace: "gradebook",
		},
	}
}

// Load builds a Config by layering defaults, an optional YAML file, and
// environment variables.
//
// Order of precedence (low -> high):
//  1. defaults (Default())
//  2. file (YAML) if GRADEBOOK_CONFIG is set
//  3. env (prefix GRADEBOOK_, double underscore nests:
//     GRADEBOOK_API__BASE_URL -> api.base_url)
func Load() (Config, error) {
	cfg := Default()

	k := koanf.New(".")

	if path := os.Getenv("GRADEBOOK_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file: %w", err)
		}
	}

	envProvider := env.Provider("GRADEBOOK_", ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, "GRADEBOOK_"))
		return strings.ReplaceAll(s, "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}

	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the invariants the rest of the program relies on.
func (c Config) Validate() error {
	if c.API.BaseURL == "" {
		return errors.New("api.base_url must not be empty")
	}
	if c.Report.MaxAttempts <= 0 {
		return errors.New("report.max_attempts must be positive")
	}
	if c.Report.PollInterval <= 0 {
		return errors.New("report.poll_interval must be positive")
	}
	switch c.Session.Backend {
	case SessionBackendFile, SessionBackendRedis:
	default:
		return fmt.Errorf("session.backend must be %q or %q", SessionBackendFile, SessionBackendRedis)
	}
	return nil
}
