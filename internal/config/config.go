package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"

	ProviderCurve    = "curve"
	ProviderSubgraph = "subgraph"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	PGDSN string
	Store string

	Provider        string
	ProviderURL     string
	ProviderTimeout time.Duration
	PercentUnits    bool
	MaxRetries      int
	RetryBackoff    time.Duration

	ScheduleInterval time.Duration
	RunTimeout       time.Duration
	RunOnStart       bool
	BatchSize        int
	StateFile        string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	LockTTL       time.Duration

	// RPCURL enables on-chain confirmation of transfers when set.
	RPCURL string

	HTTPAddr string
	LogLevel string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("YIELDSCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("store", StorePostgres)
	v.SetDefault("provider", ProviderCurve)
	v.SetDefault("provider-timeout", 30*time.Second)
	v.SetDefault("percent-units", true)
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("schedule-interval", 8*time.Hour)
	v.SetDefault("run-timeout", 10*time.Minute)
	v.SetDefault("run-on-start", true)
	v.SetDefault("batch-size", 500)
	v.SetDefault("redis-db", 0)
	v.SetDefault("lock-ttl", 15*time.Minute)
	v.SetDefault("http-addr", ":8080")
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		PGDSN:            v.GetString("pg-dsn"),
		Store:            strings.ToLower(v.GetString("store")),
		Provider:         strings.ToLower(v.GetString("provider")),
		ProviderURL:      v.GetString("provider-url"),
		ProviderTimeout:  v.GetDuration("provider-timeout"),
		PercentUnits:     v.GetBool("percent-units"),
		MaxRetries:       v.GetInt("max-retries"),
		RetryBackoff:     v.GetDuration("retry-backoff"),
		ScheduleInterval: v.GetDuration("schedule-interval"),
		RunTimeout:       v.GetDuration("run-timeout"),
		RunOnStart:       v.GetBool("run-on-start"),
		BatchSize:        v.GetInt("batch-size"),
		StateFile:        v.GetString("state-file"),
		RedisAddr:        v.GetString("redis-addr"),
		RedisPassword:    v.GetString("redis-password"),
		RedisDB:          v.GetInt("redis-db"),
		LockTTL:          v.GetDuration("lock-ttl"),
		RPCURL:           v.GetString("rpc-url"),
		HTTPAddr:         v.GetString("http-addr"),
		LogLevel:         v.GetString("log-level"),
	}

	return cfg, cfg.Validate()
}

// Validate checks the combinations Load cannot express as defaults.
func (c Config) Validate() error {
	var errs []error
	switch c.Store {
	case StorePostgres:
		if c.PGDSN == "" {
			errs = append(errs, errors.New("pg-dsn is required for the postgres store"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}
	switch c.Provider {
	case ProviderCurve, ProviderSubgraph:
	default:
		errs = append(errs, fmt.Errorf("unknown provider %q", c.Provider))
	}
	if c.ScheduleInterval <= 0 {
		errs = append(errs, errors.New("schedule-interval must be positive"))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, errors.New("batch-size must be positive"))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, errors.New("max-retries must not be negative"))
	}
	return errors.Join(errs...)
}
