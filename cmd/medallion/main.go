// Command medallion manages the metadata catalog of a medallion lakehouse, hands ready work to
// executors and drives warehouse migrations.
//
// Settings come from config.yaml in the --config directory and MEDALLION_* environment variables:
//
//	MEDALLION_DATABASE_DRIVER=sqlserver MEDALLION_DATABASE_DSN=... medallion migrate
//	medallion work bronze > work.json
//	medallion run --interval 5m
//	medallion transfer validate --source-dsn ... --target-dsn ...
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getpup/medallion/config"
	"github.com/getpup/medallion/metrics"
	"github.com/getpup/medallion/store/sqlstore"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configDir string

// app holds what every command shares once the configuration is loaded.
var app struct {
	cfg     config.Config
	logger  *zap.Logger
	metrics *metrics.Collector
}

var rootCmd = &cobra.Command{
	Use:           "medallion",
	Short:         "Medallion lakehouse orchestration metadata",
	Long:          "Register sources and entities, generate landing, bronze and silver work, run executors and migrate warehouses.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configDir)
		if err != nil {
			return err
		}
		logger, err := cfg.Log.NewLogger()
		if err != nil {
			return err
		}
		app.cfg = cfg
		app.logger = logger
		app.metrics = metrics.NewCollector(cfg.Metrics.Environment)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if app.logger != nil {
			_ = app.logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config", ".", "Directory containing config.yaml")
}

// openStore opens the catalog database and returns the store and a function closing it.
func openStore(ctx context.Context) (*sqlstore.Store, func(), error) {
	dialect, err := sqlstore.ParseDialect(app.cfg.Database.Driver)
	if err != nil {
		return nil, nil, err
	}
	if app.cfg.Database.DSN == "" {
		return nil, nil, fmt.Errorf("database.dsn is not set")
	}

	db, err := sqlstore.Open(ctx, dialect, app.cfg.Database.DSN, app.cfg.Database.MaxOpenConns)
	if err != nil {
		return nil, nil, err
	}
	s, err := sqlstore.NewWithConfig(db, sqlstore.Config{
		Dialect: dialect,
		Tables:  app.cfg.Tables(),
		Logger:  app.logger.Named("sqlstore"),
	})
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return s, func() { _ = db.Close() }, nil
}

// startMetrics starts the metrics server if enabled and returns its shutdown function.
func startMetrics(checks ...metrics.HealthCheck) func() {
	if !app.cfg.Metrics.Enabled {
		return func() {}
	}
	server := metrics.NewServer(app.cfg.Metrics.Addr, checks...)
	server.Start()
	app.logger.Info("metrics server started", zap.String("addr", app.cfg.Metrics.Addr))

	return func() {
		if err := server.Err(); err != nil {
			app.logger.Warn("metrics server failed", zap.Error(err))
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
