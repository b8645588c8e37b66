package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	OutboxDriverSQLite = "sqlite"
	OutboxDriverMemory = "memory"
)

type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	Store    StoreConfig    `mapstructure:"store"`
	Org      OrgConfig      `mapstructure:"org"`
	Reorder  ReorderConfig  `mapstructure:"reorder"`
	Outbox   OutboxConfig   `mapstructure:"outbox"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"`
}

// OrgConfig names the organization CLI commands act on when none is given.
type OrgConfig struct {
	Default string `mapstructure:"default"`
}

type ReorderConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type OutboxConfig struct {
	Driver       string        `mapstructure:"driver"`
	SQLitePath   string        `mapstructure:"sqlite_path"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	MaxBackoff   time.Duration `mapstructure:"max_backoff"`
}

// RedisConfig enables the Redis stream sink when Addr is set; otherwise
// drained messages go to the log.
type RedisConfig struct {
	Addr         string `mapstructure:"addr"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	StreamPrefix string `mapstructure:"stream_prefix"`
	StreamMaxLen int64  `mapstructure:"stream_max_len"`
}

// Load reads .env (if present), then config.yaml from . or ./config, then
// environment variables, which win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	bindEnvVariables(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("store.driver", StoreDriverPostgres)
	v.SetDefault("org.default", "DEFAULT")
	v.SetDefault("reorder.interval", 15*time.Minute)
	v.SetDefault("outbox.driver", OutboxDriverSQLite)
	v.SetDefault("outbox.sqlite_path", "outbox.db")
	v.SetDefault("outbox.poll_interval", 5*time.Second)
	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.max_attempts", 10)
	v.SetDefault("outbox.max_backoff", 10*time.Minute)
	v.SetDefault("redis.pool_size", 5)
	v.SetDefault("redis.stream_prefix", "production-ledger:")
	v.SetDefault("redis.stream_max_len", 100000)
}

func bindEnvVariables(v *viper.Viper) {
	// Database
	v.BindEnv("database.url", "DATABASE_URL")
	v.BindEnv("database.max_conns", "DATABASE_MAX_CONNS")

	// Logging
	v.BindEnv("log.level", "LOG_LEVEL")
	v.BindEnv("log.format", "LOG_FORMAT")

	// Stores
	v.BindEnv("store.driver", "STORE_DRIVER")
	v.BindEnv("org.default", "ORG_ID")

	// Workers
	v.BindEnv("reorder.interval", "REORDER_INTERVAL")
	v.BindEnv("outbox.driver", "OUTBOX_DRIVER")
	v.BindEnv("outbox.sqlite_path", "OUTBOX_SQLITE_PATH")
	v.BindEnv("outbox.poll_interval", "OUTBOX_POLL_INTERVAL")
	v.BindEnv("outbox.max_attempts", "OUTBOX_MAX_ATTEMPTS")

	// Redis
	v.BindEnv("redis.addr", "REDIS_ADDR")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.db", "REDIS_DB")
	v.BindEnv("redis.stream_prefix", "REDIS_STREAM_PREFIX")
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreDriverPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is %s", StoreDriverPostgres)
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("unknown store driver %q (want %s or %s)", c.Store.Driver, StoreDriverPostgres, StoreDriverMemory)
	}
	switch c.Outbox.Driver {
	case OutboxDriverSQLite:
		if c.Outbox.SQLitePath == "" {
			return fmt.Errorf("OUTBOX_SQLITE_PATH is required when OUTBOX_DRIVER is %s", OutboxDriverSQLite)
		}
	case OutboxDriverMemory:
	default:
		return fmt.Errorf("unknown outbox driver %q (want %s or %s)", c.Outbox.Driver, OutboxDriverSQLite, OutboxDriverMemory)
	}
	if c.Reorder.Interval <= 0 {
		return fmt.Errorf("reorder interval must be positive, got %s", c.Reorder.Interval)
	}
	return nil
}
