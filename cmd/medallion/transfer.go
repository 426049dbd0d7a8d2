package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/getpup/medallion"
	"github.com/getpup/medallion/discovery"
	"github.com/getpup/medallion/transfer"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var transferCmd = &cobra.Command{
	Use:   "transfer",
	Short: "Migrate tables between warehouses through parquet staging",
	Long: `Extract tables from the source warehouse to the staging container with CETAS, load them into the
target with COPY INTO and reconcile row counts. Every step is recorded in the migration log of the catalog.`,
}

var transferFlags struct {
	sourceDSN         string
	targetDSN         string
	account           string
	container         string
	masterKeyPassword string
	maxRetries        int
	execute           bool
	workers           int
	fromStorage       bool
	updateStatistics  bool
}

// staging returns the staging object names with the configured data source.
func staging() transfer.Staging {
	st := transfer.DefaultStaging()
	if app.cfg.Transfer.DataSource != "" {
		st.DataSource = app.cfg.Transfer.DataSource
	}
	return st
}

func maxRetries(cmd *cobra.Command) int {
	if cmd.Flags().Changed("max-retries") {
		return transferFlags.maxRetries
	}
	return app.cfg.Transfer.MaxRetries
}

// parseTables parses schema.table arguments.
func parseTables(args []string) ([]transfer.TableKey, error) {
	keys := make([]transfer.TableKey, 0, len(args))
	for _, a := range args {
		schema, table, ok := strings.Cut(a, ".")
		if !ok || schema == "" || table == "" {
			return nil, fmt.Errorf("%w: %q is not schema.table", medallion.ErrInvalidArgument, a)
		}
		keys = append(keys, transfer.TableKey{Schema: schema, Table: table})
	}
	return keys, nil
}

// withTransfer runs fn with a transfer service logging into the catalog.
func withTransfer(ctx context.Context, fn func(svc *transfer.Service) error) error {
	s, closeStore, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()
	return fn(transfer.New(transfer.Config{Store: s, Logger: app.logger, Metrics: app.metrics}))
}

func openWarehouse(ctx context.Context, dsn, flag string) (*transfer.SQLServerCatalog, error) {
	if dsn == "" {
		return nil, fmt.Errorf("--%s is required", flag)
	}
	return transfer.OpenSQLServerCatalog(ctx, dsn)
}

var transferSetupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create the credential, external data source and file format",
	Long:  `Print the setup batches, or run them against the source warehouse with --execute.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		account := transferFlags.account
		if account == "" {
			account = app.cfg.Storage.Account
		}
		container := transferFlags.container
		if container == "" {
			container = app.cfg.Storage.Container
		}
		if account == "" || container == "" {
			return fmt.Errorf("storage account and container are required")
		}
		batches := staging().Setup(account, container, transferFlags.masterKeyPassword)

		if !transferFlags.execute {
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(batches, "\nGO\n")+"\nGO")
			return nil
		}

		ctx := cmd.Context()
		source, err := openWarehouse(ctx, transferFlags.sourceDSN, "source-dsn")
		if err != nil {
			return err
		}
		defer func() { _ = source.Close() }()

		return withTransfer(ctx, func(svc *transfer.Service) error {
			start := time.Now()
			_, err := source.Exec(ctx, batches...)
			ev := transfer.Event{
				Phase:     transfer.PhaseSetup,
				Operation: transfer.OperationExternalObjects,
				Status:    medallion.MigrationStatusSuccess,
				Duration:  time.Since(start),
				Err:       err,
			}
			if err != nil {
				ev.Status = medallion.MigrationStatusFailed
			}
			if _, logErr := svc.LogEvent(ctx, ev); logErr != nil {
				app.logger.Warn("failed to log setup", zap.Error(logErr))
			}
			return err
		})
	},
}

// loadTables returns the tables named on the command line, or the tables staged in the
// storage container with --from-storage.
func loadTables(ctx context.Context, args []string) ([]transfer.TableKey, error) {
	if !transferFlags.fromStorage {
		if len(args) == 0 {
			return nil, fmt.Errorf("name the tables to load or pass --from-storage")
		}
		return parseTables(args)
	}
	if len(args) > 0 {
		return nil, fmt.Errorf("--from-storage does not take table arguments")
	}
	lister, err := discovery.NewAzureLister(app.cfg.Storage.ConnectionString, app.cfg.Storage.Container)
	if err != nil {
		return nil, err
	}
	tables, err := transfer.StagedTables(ctx, lister)
	if err != nil {
		return nil, err
	}
	app.logger.Info("found staged tables", zap.Int("count", len(tables)))
	return tables, nil
}

var transferExtractCmd = &cobra.Command{
	Use:   "extract [schema.table]...",
	Short: "Export tables from the source warehouse to parquet with CETAS",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tables, err := parseTables(args)
		if err != nil {
			return err
		}
		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		source, err := openWarehouse(ctx, transferFlags.sourceDSN, "source-dsn")
		if err != nil {
			return err
		}
		defer func() { _ = source.Close() }()

		st := staging()
		return withTransfer(ctx, func(svc *transfer.Service) error {
			return svc.Run(ctx, source, tables, transfer.Plan{
				Phase:      transfer.PhaseExtract,
				Operation:  transfer.OperationCETAS,
				MaxRetries: maxRetries(cmd),
				Workers:    transferFlags.workers,
				Batches: func(ctx context.Context, k transfer.TableKey) ([]string, error) {
					return st.CETAS(k.Schema, k.Table), nil
				},
			})
		})
	},
}

var transferLoadCmd = &cobra.Command{
	Use:   "load [schema.table]...",
	Short: "Load staged parquet files into the target warehouse with COPY INTO",
	Long: `Load creates missing schemas, recreates each table from its source definition when --source-dsn
is set, and loads the staged files with COPY INTO. Statistics of the loaded tables are refreshed afterwards.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		tables, err := loadTables(ctx, args)
		if err != nil {
			return err
		}

		target, err := openWarehouse(ctx, transferFlags.targetDSN, "target-dsn")
		if err != nil {
			return err
		}
		defer func() { _ = target.Close() }()

		var columns transfer.ColumnSource
		if transferFlags.sourceDSN != "" {
			source, err := openWarehouse(ctx, transferFlags.sourceDSN, "source-dsn")
			if err != nil {
				return err
			}
			defer func() { _ = source.Close() }()
			columns = source
		}

		st := staging()
		return withTransfer(ctx, func(svc *transfer.Service) error {
			err := svc.Run(ctx, target, tables, transfer.Plan{
				Phase:      transfer.PhaseLoad,
				Operation:  transfer.OperationCopyInto,
				MaxRetries: maxRetries(cmd),
				Workers:    transferFlags.workers,
				Batches: func(ctx context.Context, k transfer.TableKey) ([]string, error) {
					return st.LoadBatches(ctx, columns, k)
				},
			})
			if !transferFlags.updateStatistics || ctx.Err() != nil {
				return err
			}

			statsErr := svc.Run(ctx, target, tables, transfer.Plan{
				Phase:     transfer.PhaseLoad,
				Operation: transfer.OperationStatistics,
				Workers:   transferFlags.workers,
				Batches: func(ctx context.Context, k transfer.TableKey) ([]string, error) {
					return []string{transfer.UpdateStatistics(k.Schema, k.Table)}, nil
				},
			})
			if statsErr != nil {
				app.logger.Warn("failed to update statistics", zap.Error(statsErr))
			}
			return err
		})
	},
}

var transferValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Compare row counts of every table in source and target and print a report",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		source, err := openWarehouse(ctx, transferFlags.sourceDSN, "source-dsn")
		if err != nil {
			return err
		}
		defer func() { _ = source.Close() }()
		target, err := openWarehouse(ctx, transferFlags.targetDSN, "target-dsn")
		if err != nil {
			return err
		}
		defer func() { _ = target.Close() }()

		return withTransfer(ctx, func(svc *transfer.Service) error {
			r, err := svc.Reconcile(ctx, source, target)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), transfer.Report(transfer.ReportHeader{
				Source:    "source warehouse",
				Target:    "target warehouse",
				Generated: time.Now(),
			}, r))
			if !r.Passed() {
				return fmt.Errorf("validation failed: %d mismatched, %d missing", len(r.Mismatches), len(r.MissingInTarget))
			}
			return nil
		})
	},
}

var transferAnalyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Record table sizes of the source warehouse with storage recommendations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		source, err := openWarehouse(ctx, transferFlags.sourceDSN, "source-dsn")
		if err != nil {
			return err
		}
		defer func() { _ = source.Close() }()

		return withTransfer(ctx, func(svc *transfer.Service) error {
			analyses, err := svc.AnalyzeTableSizes(ctx, source)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%-40s %15s %12s  %s\n", "TABLE", "ROWS", "SIZE (MB)", "RECOMMENDATIONS")
			for _, a := range analyses {
				var recs []string
				if a.RecommendCompression {
					recs = append(recs, "compression")
				}
				if a.RecommendPartitioning {
					recs = append(recs, "partitioning")
				}
				fmt.Fprintf(w, "%-40s %15d %12.2f  %s\n", a.SchemaName+"."+a.TableName, a.RowCount, a.SizeMB, strings.Join(recs, ", "))
			}
			return nil
		})
	},
}

var transferScriptCmd = &cobra.Command{
	Use:   "script [schema.table]",
	Short: "Print a T-SQL script running COPY INTO with retries and migration logging",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tables, err := parseTables(args)
		if err != nil {
			return err
		}
		script, err := transfer.GenerateRetryableBulkCopy(transfer.ScriptConfig{
			Schema:     tables[0].Schema,
			Table:      tables[0].Table,
			MaxRetries: maxRetries(cmd),
			LogTable:   app.cfg.Tables().MigrationLog,
			Staging:    staging(),
		})
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), script)
		return nil
	},
}

func init() {
	transferCmd.PersistentFlags().StringVar(&transferFlags.sourceDSN, "source-dsn", "", "sqlserver:// DSN of the source warehouse")
	transferCmd.PersistentFlags().StringVar(&transferFlags.targetDSN, "target-dsn", "", "sqlserver:// DSN of the target warehouse")
	transferCmd.PersistentFlags().IntVar(&transferFlags.maxRetries, "max-retries", transfer.DefaultMaxRetries, "Retries after the first attempt")
	transferCmd.PersistentFlags().IntVar(&transferFlags.workers, "workers", transfer.DefaultWorkers, "Tables extracted or loaded concurrently")

	transferLoadCmd.Flags().BoolVar(&transferFlags.fromStorage, "from-storage", false, "Load every schema/table folder of storage.container")
	transferLoadCmd.Flags().BoolVar(&transferFlags.updateStatistics, "update-statistics", true, "Refresh statistics of the loaded tables")

	transferSetupCmd.Flags().StringVar(&transferFlags.account, "account", "", "Storage account, defaults to storage.account")
	transferSetupCmd.Flags().StringVar(&transferFlags.container, "container", "", "Staging container, defaults to storage.container")
	transferSetupCmd.Flags().StringVar(&transferFlags.masterKeyPassword, "master-key-password", "", "Create the database master key with this password")
	transferSetupCmd.Flags().BoolVar(&transferFlags.execute, "execute", false, "Run the batches against --source-dsn")

	transferCmd.AddCommand(transferSetupCmd)
	transferCmd.AddCommand(transferExtractCmd)
	transferCmd.AddCommand(transferLoadCmd)
	transferCmd.AddCommand(transferValidateCmd)
	transferCmd.AddCommand(transferAnalyzeCmd)
	transferCmd.AddCommand(transferScriptCmd)

	rootCmd.AddCommand(transferCmd)
}
