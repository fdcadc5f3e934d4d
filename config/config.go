// Package config loads service settings from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const EnvPrefix = "SWIMLEDGER"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	App    AppConfig
	Store  StoreConfig
	Redis  RedisConfig
	Ledger LedgerConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field settings envconfig cannot express.
func (c *Config) Validate() error {
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("%s_SQLITE_PATH is required for the sqlite driver", EnvPrefix)
		}
	case DriverPostgres:
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("%s_POSTGRES_DSN is required for the postgres driver", EnvPrefix)
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Ledger.CommitDelay < 0 {
		return fmt.Errorf("commit delay must not be negative")
	}
	return nil
}

type AppConfig struct {
	Env          string   `envconfig:"SWIMLEDGER_APP_ENV" default:"dev"`
	Port         string   `envconfig:"SWIMLEDGER_PORT" default:"8080"`
	LogLevel     string   `envconfig:"SWIMLEDGER_LOG_LEVEL" default:"info"`
	LogFormat    string   `envconfig:"SWIMLEDGER_LOG_FORMAT" default:"json"`
	LogWarnStack bool     `envconfig:"SWIMLEDGER_LOG_WARN_STACK" default:"false"`
	CORSOrigins  []string `envconfig:"SWIMLEDGER_CORS_ORIGINS" default:"*"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type StoreConfig struct {
	Driver      string `envconfig:"SWIMLEDGER_STORE_DRIVER" default:"memory"`
	SQLitePath  string `envconfig:"SWIMLEDGER_SQLITE_PATH" default:"./ledger.db"`
	PostgresDSN string `envconfig:"SWIMLEDGER_POSTGRES_DSN"`
}

// RedisConfig is optional; an empty URL disables idempotent replay.
type RedisConfig struct {
	URL            string        `envconfig:"SWIMLEDGER_REDIS_URL"`
	IdempotencyTTL time.Duration `envconfig:"SWIMLEDGER_IDEMPOTENCY_TTL" default:"24h"`
	DialTimeout    time.Duration `envconfig:"SWIMLEDGER_REDIS_DIAL_TIMEOUT" default:"5s"`
}

func (r RedisConfig) Enabled() bool {
	return r.URL != ""
}

type LedgerConfig struct {
	CommitDelay    time.Duration `envconfig:"SWIMLEDGER_COMMIT_DELAY" default:"0s"`
	SeedDemo       bool          `envconfig:"SWIMLEDGER_SEED_DEMO" default:"true"`
	ReportInterval time.Duration `envconfig:"SWIMLEDGER_REPORT_INTERVAL" default:"1m"`
}
