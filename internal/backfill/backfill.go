// Package backfill replays stored raw webhook payloads through the
// ingestion pipeline.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/okian/wellness/internal/adapters/repository"
	"github.com/okian/wellness/internal/domain/model"
	"github.com/okian/wellness/internal/domain/pipeline"
	"github.com/okian/wellness/internal/domain/resolve"
	"github.com/okian/wellness/pkg/logger"
	"github.com/okian/wellness/pkg/metrics"
	"github.com/okian/wellness/pkg/tracing"
)

// Defaults applied to zero Config fields.
const (
	DefaultBatchSize    = 50
	DefaultBatchDelay   = 100 * time.Millisecond
	DefaultEventTimeout = 30 * time.Second
)

// ErrInvalidRange is returned when EndDate is not after StartDate.
var ErrInvalidRange = errors.New("end date must be after start date")

// Config selects and paces the replay.
type Config struct {
	DryRun     bool
	BatchSize  int
	StartDate  *time.Time    // inclusive bound on received_at
	EndDate    *time.Time    // exclusive bound on received_at
	BatchDelay time.Duration // negative disables the pause

	// EventTimeout bounds one event. Cancelling the run does not cut an
	// event short; it stops the run before the next one.
	EventTimeout time.Duration
}

// Processor runs the ingestion pipeline for one payload.
type Processor interface {
	Process(ctx context.Context, payload any, opts ...pipeline.RunOption) (pipeline.Summary, error)
}

// Deps are the collaborators of Run.
type Deps struct {
	RawEvents repository.RawEventStore
	Processor Processor
	// Resolvers provides one resolver scope shared by every event of the run.
	// Nil lets each event resolve on its own.
	Resolvers *resolve.Factory
	Logger    logger.Logger
}

// Stats summarizes a run.
type Stats struct {
	Total       int64
	Processed   int
	Batches     int
	EventErrors int
	pipeline.Summary
	DryRun      bool
	Interrupted bool
	Duration    time.Duration
}

// SuccessRate is the share of attempted writes that succeeded, in percent.
func (s Stats) SuccessRate() float64 {
	attempted := s.Succeeded + s.Failed
	if attempted == 0 {
		return 0
	}
	return float64(s.Succeeded) / float64(attempted) * 100
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	switch {
	case c.BatchDelay == 0:
		c.BatchDelay = DefaultBatchDelay
	case c.BatchDelay < 0:
		c.BatchDelay = 0
	}
	if c.EventTimeout <= 0 {
		c.EventTimeout = DefaultEventTimeout
	}
	return c
}

func (c Config) filter() repository.RawEventFilter {
	return repository.RawEventFilter{From: c.StartDate, To: c.EndDate}
}

// Run replays every raw event inside the configured range in received_at
// order. Per-event failures are counted, not returned. When ctx ends the run
// stops after the current event and returns the partial Stats with
// Interrupted set.
func Run(ctx context.Context, cfg Config, deps Deps) (Stats, error) {
	cfg = cfg.withDefaults()
	stats := Stats{DryRun: cfg.DryRun}
	if cfg.StartDate != nil && cfg.EndDate != nil && !cfg.EndDate.After(*cfg.StartDate) {
		return stats, ErrInvalidRange
	}
	log := deps.Logger
	if log == nil {
		log = logger.Named("backfill")
	}

	ctx, span := tracing.Tracer("backfill").Start(ctx, "backfill.run")
	defer span.End()

	started := time.Now()
	metrics.SetBackfillRunning(true)
	metrics.UpdateBackfillProgress(0)
	defer metrics.SetBackfillRunning(false)

	total, err := deps.RawEvents.Count(ctx, cfg.filter())
	if err != nil {
		return stats, fmt.Errorf("count raw events: %w", err)
	}
	stats.Total = total
	log.Info(ctx, "starting backfill",
		logger.Int64("total", total),
		logger.Int("batchSize", cfg.BatchSize),
		logger.Bool("dryRun", cfg.DryRun))

	runOpts := []pipeline.RunOption{pipeline.WithSource(model.SourceBackfill)}
	if cfg.DryRun {
		runOpts = append(runOpts, pipeline.WithDryRun())
	}
	if deps.Resolvers != nil {
		runOpts = append(runOpts, pipeline.WithResolver(deps.Resolvers.Scope()))
	}

	var cursor repository.Cursor
	for {
		if ctx.Err() != nil {
			stats.Interrupted = true
			break
		}
		batch, err := deps.RawEvents.ListAfter(ctx, cfg.filter(), cursor, cfg.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				stats.Interrupted = true
				break
			}
			return finish(ctx, log, stats, started), fmt.Errorf("list raw events: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		stats.Batches++
		if stopped := processBatch(ctx, log, deps.Processor, batch, runOpts, cfg.EventTimeout, &stats); stopped {
			stats.Interrupted = true
			break
		}
		cursor = repository.CursorAfter(batch[len(batch)-1])
		if total > 0 {
			metrics.UpdateBackfillProgress(float64(stats.Processed) / float64(total))
		}
		log.Info(ctx, "batch complete",
			logger.Int("batch", stats.Batches),
			logger.Int("processed", stats.Processed),
			logger.Int64("total", total))
		if len(batch) < cfg.BatchSize {
			break
		}
		if !sleep(ctx, cfg.BatchDelay) {
			stats.Interrupted = true
			break
		}
	}

	stats = finish(ctx, log, stats, started)
	span.SetAttributes(
		attribute.Int("processed", stats.Processed),
		attribute.Int("event_errors", stats.EventErrors),
		attribute.Bool("interrupted", stats.Interrupted),
	)
	return stats, nil
}

// processBatch reports true when ctx ended during the batch. The event in
// flight when ctx ends still runs to completion.
func processBatch(ctx context.Context, log logger.Logger, p Processor, batch []model.RawEvent, opts []pipeline.RunOption, timeout time.Duration, stats *Stats) bool {
	for _, ev := range batch {
		if ctx.Err() != nil {
			return true
		}
		ectx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		sum, err := p.Process(ectx, ev.Payload, opts...)
		cancel()
		stats.Processed++
		stats.Add(sum)
		metrics.RecordBackfillEvent()
		if err != nil {
			stats.EventErrors++
			metrics.RecordBackfillEventError()
			log.Error(ctx, "raw event replay failed",
				logger.String("rawEventID", ev.ID),
				logger.Time("receivedAt", ev.ReceivedAt),
				logger.Error(err))
			continue
		}
		log.Debug(ctx, "raw event replayed",
			logger.String("rawEventID", ev.ID),
			logger.Int("extracted", sum.Extracted),
			logger.Int("succeeded", sum.Succeeded))
	}
	return ctx.Err() != nil
}

func finish(ctx context.Context, log logger.Logger, stats Stats, started time.Time) Stats {
	stats.Duration = time.Since(started)
	log.Info(ctx, "backfill finished",
		logger.Int("processed", stats.Processed),
		logger.Int("extracted", stats.Extracted),
		logger.Int("succeeded", stats.Succeeded),
		logger.Int("failed", stats.Failed),
		logger.Int("unresolved", stats.Unresolved),
		logger.Int("eventErrors", stats.EventErrors),
		logger.Float64("successRate", stats.SuccessRate()),
		logger.Bool("interrupted", stats.Interrupted),
		logger.Duration("duration", stats.Duration))
	return stats
}

// sleep waits d or until ctx ends. It reports whether the full delay elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
