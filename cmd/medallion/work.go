package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/getpup/medallion"
	"github.com/getpup/medallion/audit"
	"github.com/getpup/medallion/checkpoint"
	"github.com/getpup/medallion/discovery"
	"github.com/getpup/medallion/dispatch"
	"github.com/getpup/medallion/executor"
	"github.com/getpup/medallion/registry"
	"github.com/getpup/medallion/tracker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var workCmd = &cobra.Command{
	Use:   "work [landing|bronze|silver]",
	Short: "Print the ready work of a layer as a JSON array",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, closeStore, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()

		d := dispatch.New(dispatch.Config{Views: s, Logger: app.logger, Metrics: app.metrics})
		work, err := d.GetWork(cmd.Context(), medallion.Layer(args[0]))
		if err != nil {
			return err
		}
		out, err := dispatch.Marshal(work)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

var runFlags struct {
	layer       string
	interval    time.Duration
	parallelism int
	command     string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run ready work through an executor command",
	Long: `Run hands every ready instruction to the executor command, writing the instruction as JSON
to its stdin, and records the outcome. Without --interval one pass over the layers is made.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		command := runFlags.command
		if command == "" {
			command = app.cfg.Dispatch.Command
		}
		fields := strings.Fields(command)
		if len(fields) == 0 {
			return fmt.Errorf("no executor command: set --command or dispatch.command")
		}
		parallelism := app.cfg.Dispatch.Parallelism
		if cmd.Flags().Changed("parallelism") {
			parallelism = runFlags.parallelism
		}

		ctx, cancel := signalContext(cmd.Context())
		defer cancel()
		s, closeStore, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer closeStore()

		stopMetrics := startMetrics(s.Ping)
		defer stopMetrics()

		writer := audit.New(audit.Config{
			Store:      s,
			BufferSize: app.cfg.Audit.BufferSize,
			Logger:     app.logger,
			Metrics:    app.metrics,
		})
		go func() { _ = writer.Run(context.Background()) }()
		defer func() { _ = writer.Close() }()

		e := executor.New(executor.Config{
			Work:        dispatch.New(dispatch.Config{Views: s, Logger: app.logger, Metrics: app.metrics}),
			Runner:      &executor.CommandRunner{Command: fields[0], Args: fields[1:]},
			Tracker:     tracker.New(tracker.Config{Store: s, Logger: app.logger, Metrics: app.metrics}),
			Checkpoints: checkpoint.New(checkpoint.Config{Store: s, Logger: app.logger, Metrics: app.metrics}),
			Audit:       writer,
			Parallelism: parallelism,
			Logger:      app.logger,
			Metrics:     app.metrics,

			ClaimTimeout: app.cfg.Dispatch.ClaimTimeout,
		})

		if runFlags.interval > 0 {
			err := e.Loop(ctx, runFlags.interval)
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		var results []executor.CycleResult
		if runFlags.layer != "" {
			r, err := e.RunCycle(ctx, medallion.Layer(runFlags.layer))
			if err != nil {
				return err
			}
			results = append(results, r)
		} else {
			results, err = e.RunAll(ctx)
			if err != nil {
				return err
			}
		}

		failed := 0
		for _, r := range results {
			fmt.Fprintf(cmd.OutOrStdout(), "%-8s ready=%d succeeded=%d failed=%d skipped=%d (%s)\n",
				r.Layer, r.Ready, r.Succeeded, r.Failed, r.Skipped, r.Duration.Round(time.Millisecond))
			failed += r.Failed
		}
		if failed > 0 {
			return fmt.Errorf("%d executions failed", failed)
		}
		return nil
	},
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Register landing files found in the storage container",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		lister, err := discovery.NewAzureLister(app.cfg.Storage.ConnectionString, app.cfg.Storage.Container)
		if err != nil {
			return err
		}
		s, closeStore, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()

		d := discovery.New(discovery.Config{
			Lister:   lister,
			Entities: registry.New(registry.Config{Store: s, Logger: app.logger, Metrics: app.metrics}),
			Tracker:  tracker.New(tracker.Config{Store: s, Logger: app.logger, Metrics: app.metrics}),
			Logger:   app.logger,
			Metrics:  app.metrics,
		})
		result, err := d.Discover(cmd.Context())
		fmt.Fprintf(cmd.OutOrStdout(), "entities=%d listed=%d registered=%d\n", result.Entities, result.Listed, result.Registered)
		if err != nil {
			app.logger.Warn("discovery finished with errors", zap.Error(err))
		}
		return err
	},
}

func init() {
	runCmd.Flags().StringVar(&runFlags.layer, "layer", "", "Run a single layer: landing, bronze or silver")
	runCmd.Flags().DurationVar(&runFlags.interval, "interval", 0, "Repeat every interval until interrupted")
	runCmd.Flags().IntVar(&runFlags.parallelism, "parallelism", executor.DefaultParallelism, "Concurrent executions, 1 to 16")
	runCmd.Flags().StringVar(&runFlags.command, "command", "", "Executor command, overrides dispatch.command")

	rootCmd.AddCommand(workCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(discoverCmd)
}
