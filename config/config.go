// Package config loads medallion settings from config.yaml and MEDALLION_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/getpup/medallion"
	"github.com/getpup/medallion/executor"
	"github.com/getpup/medallion/store/sqlstore"
	"github.com/getpup/medallion/transfer"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// EnvPrefix prefixes every environment override, e.g. MEDALLION_DATABASE_DSN.
const EnvPrefix = "MEDALLION"

// Config is the complete runtime configuration.
type Config struct {
	Database DatabaseConfig
	Metrics  MetricsConfig
	Audit    AuditConfig
	Dispatch DispatchConfig
	Storage  StorageConfig
	Transfer TransferConfig
	Log      LogConfig
}

// DatabaseConfig selects the catalog database.
type DatabaseConfig struct {
	Driver       string
	DSN          string
	TablePrefix  string
	MaxOpenConns int
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled     bool
	Addr        string
	Environment string
}

// AuditConfig sizes the asynchronous audit writer.
type AuditConfig struct {
	BufferSize int
}

// DispatchConfig controls the executor cycle.
type DispatchConfig struct {
	Parallelism int
	Command     string

	// ClaimTimeout is how long a unit claimed by a crashed executor stays blocked.
	ClaimTimeout time.Duration
}

// StorageConfig locates the landing container.
type StorageConfig struct {
	ConnectionString string
	Container        string
	Account          string
}

// TransferConfig controls warehouse migration.
type TransferConfig struct {
	MaxRetries int
	DataSource string
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string
	Development bool
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Database: DatabaseConfig{
			Driver:       string(sqlstore.Postgres),
			TablePrefix:  "medallion_",
			MaxOpenConns: 10,
		},
		Metrics: MetricsConfig{
			Addr:        ":9090",
			Environment: "default",
		},
		Audit:    AuditConfig{BufferSize: 256},
		Dispatch: DispatchConfig{Parallelism: executor.DefaultParallelism, ClaimTimeout: executor.DefaultClaimTimeout},
		Transfer: TransferConfig{
			MaxRetries: transfer.DefaultMaxRetries,
			DataSource: transfer.DefaultDataSource,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads config.yaml from configPath, if present, and applies environment overrides
// on top of Default. A missing file is not an error.
func Load(configPath string) (Config, error) {
	def := Default()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("database.driver", def.Database.Driver)
	v.SetDefault("database.dsn", def.Database.DSN)
	v.SetDefault("database.table_prefix", def.Database.TablePrefix)
	v.SetDefault("database.max_open_conns", def.Database.MaxOpenConns)
	v.SetDefault("metrics.enabled", def.Metrics.Enabled)
	v.SetDefault("metrics.addr", def.Metrics.Addr)
	v.SetDefault("metrics.environment", def.Metrics.Environment)
	v.SetDefault("audit.buffer_size", def.Audit.BufferSize)
	v.SetDefault("dispatch.parallelism", def.Dispatch.Parallelism)
	v.SetDefault("dispatch.command", def.Dispatch.Command)
	v.SetDefault("dispatch.claim_timeout", def.Dispatch.ClaimTimeout)
	v.SetDefault("storage.connection_string", def.Storage.ConnectionString)
	v.SetDefault("storage.container", def.Storage.Container)
	v.SetDefault("storage.account", def.Storage.Account)
	v.SetDefault("transfer.max_retries", def.Transfer.MaxRetries)
	v.SetDefault("transfer.data_source", def.Transfer.DataSource)
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.development", def.Log.Development)

	if configPath != "" {
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	cfg := Config{
		Database: DatabaseConfig{
			Driver:       v.GetString("database.driver"),
			DSN:          v.GetString("database.dsn"),
			TablePrefix:  v.GetString("database.table_prefix"),
			MaxOpenConns: v.GetInt("database.max_open_conns"),
		},
		Metrics: MetricsConfig{
			Enabled:     v.GetBool("metrics.enabled"),
			Addr:        v.GetString("metrics.addr"),
			Environment: v.GetString("metrics.environment"),
		},
		Audit: AuditConfig{BufferSize: v.GetInt("audit.buffer_size")},
		Dispatch: DispatchConfig{
			Parallelism: executor.ClampParallelism(v.GetInt("dispatch.parallelism")),
			Command:     v.GetString("dispatch.command"),

			ClaimTimeout: v.GetDuration("dispatch.claim_timeout"),
		},
		Storage: StorageConfig{
			ConnectionString: v.GetString("storage.connection_string"),
			Container:        v.GetString("storage.container"),
			Account:          v.GetString("storage.account"),
		},
		Transfer: TransferConfig{
			MaxRetries: v.GetInt("transfer.max_retries"),
			DataSource: v.GetString("transfer.data_source"),
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
		},
	}
	return cfg, cfg.Validate()
}

// Validate checks values that cannot be defaulted.
func (c Config) Validate() error {
	if _, err := sqlstore.ParseDialect(c.Database.Driver); err != nil {
		return err
	}
	if c.Database.MaxOpenConns < 0 {
		return fmt.Errorf("%w: database.max_open_conns must not be negative", medallion.ErrInvalidArgument)
	}
	if c.Audit.BufferSize < 0 {
		return fmt.Errorf("%w: audit.buffer_size must not be negative", medallion.ErrInvalidArgument)
	}
	if c.Dispatch.ClaimTimeout <= 0 {
		return fmt.Errorf("%w: dispatch.claim_timeout must be positive", medallion.ErrInvalidArgument)
	}
	if c.Transfer.MaxRetries < 0 {
		return fmt.Errorf("%w: transfer.max_retries must not be negative", medallion.ErrInvalidArgument)
	}
	if _, err := zap.ParseAtomicLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %v", medallion.ErrInvalidArgument, err)
	}
	return nil
}

// Tables returns the catalog table names for the configured prefix.
func (c Config) Tables() sqlstore.TableConfig {
	return sqlstore.DefaultTableConfig(c.Database.TablePrefix)
}

// NewLogger builds a production or development zap logger at the configured level.
func (c LogConfig) NewLogger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}
