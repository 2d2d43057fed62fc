package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	app "github.com/okian/wellness/internal/app"
	"github.com/okian/wellness/internal/backfill"
	"github.com/okian/wellness/internal/config"
	"github.com/okian/wellness/pkg/logger"
)

const dateLayout = "2006-01-02"

// errMemoryStore is returned when the configured store cannot hold raw
// events from an earlier process.
var errMemoryStore = errors.New("backfill needs storage_driver=postgres: the memory store starts empty on every run")

type options struct {
	dryRun     bool
	batchSize  int
	batchDelay time.Duration
	startDate  string
	endDate    string
}

func main() {
	if err := logger.Init(); err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize logging:", err)
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	_ = logger.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Replay stored raw Garmin payloads into the metric store",
		Long: `Replay stored raw Garmin payloads into the metric store.

Raw events are read in received_at order and run through the same
normalization and upsert path as the live webhook. Re-running is safe:
observations are upserted on (connection, metric, timestamp).

Storage and timeouts come from the service configuration (WELLNESS_* env
and the optional WELLNESS_CONFIG file). The postgres driver is required.
A dry run does not migrate the schema.

Examples:
  backfill --dry-run
  backfill --start-date=2024-03-01 --end-date=2024-04-01 --batch-size=100`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "run every read and log intended writes without writing")
	cmd.Flags().IntVar(&opts.batchSize, "batch-size", 0, "raw events per page (default from backfill_batch_size)")
	cmd.Flags().DurationVar(&opts.batchDelay, "batch-delay", 0, "pause between pages (default from backfill_batch_delay_ms)")
	cmd.Flags().StringVar(&opts.startDate, "start-date", "", "first received_at day to include, YYYY-MM-DD")
	cmd.Flags().StringVar(&opts.endDate, "end-date", "", "first received_at day to exclude, YYYY-MM-DD")
	return cmd
}

func run(cmd *cobra.Command, opts options) error {
	ctx := cmd.Context()
	start, err := parseDate(opts.startDate)
	if err != nil {
		return fmt.Errorf("--start-date: %w", err)
	}
	end, err := parseDate(opts.endDate)
	if err != nil {
		return fmt.Errorf("--end-date: %w", err)
	}

	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		_ = logger.SetLevelString("info")
	}

	bcfg := backfill.Config{
		DryRun:     opts.dryRun,
		BatchSize:  cfg.BackfillBatchSize,
		StartDate:  start,
		EndDate:    end,
		BatchDelay: cfg.BackfillBatchDelay(),
	}
	if cmd.Flags().Changed("batch-size") {
		if opts.batchSize <= 0 {
			return fmt.Errorf("--batch-size must be positive, got %d", opts.batchSize)
		}
		bcfg.BatchSize = opts.batchSize
	}
	if cmd.Flags().Changed("batch-delay") {
		bcfg.BatchDelay = opts.batchDelay
	}
	if bcfg.BatchDelay == 0 {
		// zero means no pause here; backfill.Config treats zero as the default
		bcfg.BatchDelay = -1
	}

	if cfg.StorageDriver != config.StoragePostgres {
		return errMemoryStore
	}

	log := logger.Named("backfill")
	svcOpts := []app.Option{app.WithConfig(cfg), app.WithLogger(log)}
	if opts.dryRun {
		svcOpts = append(svcOpts, app.WithoutMigration())
	}
	svc := app.New(svcOpts...)
	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer svc.Stop()

	stats, err := backfill.Run(ctx, bcfg, backfill.Deps{
		RawEvents: svc.Store(),
		Processor: svc.Processor(),
		Resolvers: svc.Resolvers(),
		Logger:    log,
	})
	printSummary(cmd.OutOrStdout(), stats)
	return err
}

// parseDate returns nil for an empty value.
func parseDate(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(dateLayout, v, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("want YYYY-MM-DD, got %q", v)
	}
	return &t, nil
}

func printSummary(w io.Writer, s backfill.Stats) {
	mode := "live"
	if s.DryRun {
		mode = "dry run"
	}
	fmt.Fprintf(w, "Backfill summary (%s)\n", mode)
	fmt.Fprintf(w, "  raw events:   %d/%d processed in %d batches\n", s.Processed, s.Total, s.Batches)
	fmt.Fprintf(w, "  extracted:    %d\n", s.Extracted)
	fmt.Fprintf(w, "  succeeded:    %d\n", s.Succeeded)
	fmt.Fprintf(w, "  failed:       %d\n", s.Failed)
	fmt.Fprintf(w, "  unresolved:   %d\n", s.Unresolved)
	fmt.Fprintf(w, "  event errors: %d\n", s.EventErrors)
	fmt.Fprintf(w, "  success rate: %.1f%%\n", s.SuccessRate())
	fmt.Fprintf(w, "  duration:     %s\n", s.Duration.Round(time.Millisecond))
	if s.Interrupted {
		fmt.Fprintln(w, "  interrupted before completion")
	}
}
