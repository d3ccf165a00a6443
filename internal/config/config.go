// Package config loads and validates commentater configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Fetcher    FetcherConfig    `mapstructure:"fetcher"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	WorldAnvil WorldAnvilConfig `mapstructure:"worldanvil"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// DatabaseConfig controls access to Postgres.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MigrateOnStart  bool          `mapstructure:"migrate_on_start"`
}

// WorkerConfig governs the scheduling loop.
type WorkerConfig struct {
	Concurrency  int           `mapstructure:"concurrency"`
	IdleInterval time.Duration `mapstructure:"idle_interval"`
	Cooldown     time.Duration `mapstructure:"cooldown"`
}

// FetcherConfig selects and tunes the page fetcher.
type FetcherConfig struct {
	Mode                string        `mapstructure:"mode"`
	UserAgent           string        `mapstructure:"user_agent"`
	Timeout             time.Duration `mapstructure:"timeout"`
	HeadlessMaxParallel int           `mapstructure:"headless_max_parallel"`
	RatePerSecond       float64       `mapstructure:"rate_per_second"`
	Burst               int           `mapstructure:"burst"`
}

// ArchiveConfig sets where rejected pages are kept.
type ArchiveConfig struct {
	Provider  string `mapstructure:"provider"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// WorldAnvilConfig configures the vendor API client.
type WorldAnvilConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	ApplicationKey string        `mapstructure:"application_key"`
	PageSize       int           `mapstructure:"page_size"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Fetcher modes.
const (
	FetcherModeColly    = "colly"
	FetcherModeHeadless = "headless"
)

// Archive providers.
const (
	ArchiveNone  = "none"
	ArchiveLocal = "local"
	ArchiveGCS   = "gcs"
)

// DefaultUserAgent identifies commentater to World Anvil.
const DefaultUserAgent = "commentater (+https://github.com/skairunner/commentater)"

// Load builds a Config from disk/environment. A .env file in the working
// directory is applied to the environment first when present.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("COMMENTATER")
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
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 8)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime", time.Hour)
	v.SetDefault("database.migrate_on_start", false)
	v.SetDefault("worker.concurrency", 1)
	v.SetDefault("worker.idle_interval", time.Second)
	v.SetDefault("worker.cooldown", 2*time.Second)
	v.SetDefault("fetcher.mode", FetcherModeColly)
	v.SetDefault("fetcher.user_agent", DefaultUserAgent)
	v.SetDefault("fetcher.timeout", 30*time.Second)
	v.SetDefault("fetcher.headless_max_parallel", 1)
	v.SetDefault("fetcher.rate_per_second", 1.0)
	v.SetDefault("fetcher.burst", 2)
	v.SetDefault("archive.provider", ArchiveNone)
	v.SetDefault("archive.base_dir", "")
	v.SetDefault("archive.gcs_bucket", "")
	v.SetDefault("archive.prefix", "rejected")
	v.SetDefault("worldanvil.base_url", "https://www.worldanvil.com/api/external/boromir")
	v.SetDefault("worldanvil.application_key", "")
	v.SetDefault("worldanvil.page_size", 50)
	v.SetDefault("worldanvil.timeout", 20*time.Second)
	v.SetDefault("worldanvil.max_attempts", 3)
	v.SetDefault("worldanvil.initial_backoff", 500*time.Millisecond)
	v.SetDefault("worldanvil.max_backoff", 5*time.Second)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Database.MaxConns < 0 || c.Database.MinConns < 0 {
		return fmt.Errorf("database.max_conns and database.min_conns must be >= 0")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0")
	}
	if c.Worker.IdleInterval <= 0 {
		return fmt.Errorf("worker.idle_interval must be > 0")
	}
	if c.Worker.Cooldown < 0 {
		return fmt.Errorf("worker.cooldown must be >= 0")
	}
	switch c.Fetcher.Mode {
	case FetcherModeColly:
	case FetcherModeHeadless:
		if c.Fetcher.HeadlessMaxParallel <= 0 {
			return fmt.Errorf("fetcher.headless_max_parallel must be > 0 in headless mode")
		}
	default:
		return fmt.Errorf("fetcher.mode must be %q or %q, got %q", FetcherModeColly, FetcherModeHeadless, c.Fetcher.Mode)
	}
	if c.Fetcher.Timeout <= 0 {
		return fmt.Errorf("fetcher.timeout must be > 0")
	}
	if c.Fetcher.RatePerSecond < 0 || c.Fetcher.Burst < 0 {
		return fmt.Errorf("fetcher.rate_per_second and fetcher.burst must be >= 0")
	}
	switch c.Archive.Provider {
	case "", ArchiveNone:
	case ArchiveLocal:
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir must be set for the local archive")
		}
	case ArchiveGCS:
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket must be set for the gcs archive")
		}
	default:
		return fmt.Errorf("archive.provider %q is not supported", c.Archive.Provider)
	}
	if c.WorldAnvil.PageSize <= 0 {
		return fmt.Errorf("worldanvil.page_size must be > 0")
	}
	if c.WorldAnvil.MaxAttempts <= 0 {
		return fmt.Errorf("worldanvil.max_attempts must be > 0")
	}
	return nil
}

// RequireDatabase reports an error when no DSN has been configured.
func (c Config) RequireDatabase() error {
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	return nil
}
