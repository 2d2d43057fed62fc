// Package pipeline runs normalize -> resolve -> upsert for one payload. The
// webhook handler and the backfill driver both go through Process.
package pipeline

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/okian/wellness/internal/domain/model"
	"github.com/okian/wellness/internal/domain/normalize"
	"github.com/okian/wellness/internal/domain/resolve"
	"github.com/okian/wellness/pkg/logger"
	"github.com/okian/wellness/pkg/metrics"
	"github.com/okian/wellness/pkg/tracing"
)

const defaultStoreTimeout = 5 * time.Second

// Write results, also used as metric labels.
const (
	resultSuccess = "success"
	resultFailure = "failure"
	resultDryRun  = "dry_run"
)

// MetricWriter persists one observation idempotently.
type MetricWriter interface {
	Upsert(ctx context.Context, o model.Observation) error
}

// Summary counts what happened to one or more payloads.
type Summary struct {
	Wrappers           int `json:"wrappers"`
	SkippedWrappers    int `json:"skipped_wrappers"`
	Extracted          int `json:"extracted"`
	Unresolved         int `json:"unresolved"`
	UnresolvedAccounts int `json:"unresolved_accounts"`
	Succeeded          int `json:"succeeded"`
	Failed             int `json:"failed"`
}

// Add accumulates o into s.
func (s *Summary) Add(o Summary) {
	s.Wrappers += o.Wrappers
	s.SkippedWrappers += o.SkippedWrappers
	s.Extracted += o.Extracted
	s.Unresolved += o.Unresolved
	s.UnresolvedAccounts += o.UnresolvedAccounts
	s.Succeeded += o.Succeeded
	s.Failed += o.Failed
}

// Processor owns the shared collaborators. It holds no per-payload state.
type Processor struct {
	normalizer  *normalize.Normalizer
	resolvers   *resolve.Factory
	writer      MetricWriter
	concurrency int
	timeout     time.Duration
	log         logger.Logger
}

// NewProcessor creates a Processor.
func NewProcessor(n *normalize.Normalizer, resolvers *resolve.Factory, writer MetricWriter, opts ...Option) *Processor {
	p := &Processor{
		normalizer:  n,
		resolvers:   resolvers,
		writer:      writer,
		concurrency: runtime.NumCPU(),
		timeout:     defaultStoreTimeout,
		log:         logger.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Normalizer exposes the normalizer shared with the debug endpoint.
func (p *Processor) Normalizer() *normalize.Normalizer { return p.normalizer }

// Process normalizes payload, resolves each distinct account once and
// upserts the observations concurrently. Per-metric failures are counted in
// the Summary; the returned error is only set when ctx ends first.
func (p *Processor) Process(ctx context.Context, payload any, opts ...RunOption) (Summary, error) {
	r := run{source: model.SourceWebhook}
	for _, opt := range opts {
		opt(&r)
	}
	if r.resolver == nil {
		r.resolver = p.resolvers.Scope()
	}

	ctx, span := tracing.Tracer("pipeline").Start(ctx, "pipeline.process")
	defer span.End()

	res := p.normalizer.Normalize(ctx, payload)
	sum := Summary{
		Wrappers:        len(res.Wrappers),
		SkippedWrappers: res.Skipped,
		Extracted:       len(res.Observations),
	}
	metrics.RecordObservationsExtracted(r.source, sum.Extracted)

	conns := make(map[string]string)
	failedAccounts := make(map[string]bool)
	for _, id := range res.AccountIDs() {
		connID, found, err := r.resolver.Resolve(ctx, id)
		switch {
		case err != nil:
			p.log.Error(ctx, "connection lookup failed",
				logger.String("externalAccountID", id), logger.Error(err))
			failedAccounts[id] = true
		case !found:
			sum.UnresolvedAccounts++
			metrics.RecordUnresolvedAccount()
		default:
			conns[id] = connID
		}
	}

	var succeeded, failed atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(p.concurrency)
	for _, o := range res.Observations {
		connID, ok := conns[o.ExternalAccountID]
		if !ok {
			if failedAccounts[o.ExternalAccountID] {
				failed.Add(1)
				metrics.RecordObservationWrite(r.source, resultFailure)
			} else {
				sum.Unresolved++
			}
			continue
		}
		obs := model.Observation{
			ConnectionID: connID,
			MetricType:   o.MetricType,
			Value:        o.Value,
			Unit:         o.Unit,
			Timestamp:    o.Timestamp,
			Source:       r.source,
		}
		if ctx.Err() != nil {
			failed.Add(1)
			continue
		}
		g.Go(func() error {
			if err := p.write(ctx, r, obs); err != nil {
				failed.Add(1)
				metrics.RecordObservationWrite(r.source, resultFailure)
				p.log.Error(ctx, "metric upsert failed",
					logger.String("connectionID", obs.ConnectionID),
					logger.String("metricType", obs.MetricType),
					logger.Time("timestamp", obs.Timestamp),
					logger.Error(err))
				return nil
			}
			succeeded.Add(1)
			if r.dryRun {
				metrics.RecordObservationWrite(r.source, resultDryRun)
			} else {
				metrics.RecordObservationWrite(r.source, resultSuccess)
			}
			return nil
		})
	}
	_ = g.Wait()

	sum.Succeeded = int(succeeded.Load())
	sum.Failed = int(failed.Load())

	span.SetAttributes(
		attribute.String("source", r.source),
		attribute.Bool("dry_run", r.dryRun),
		attribute.Int("extracted", sum.Extracted),
		attribute.Int("succeeded", sum.Succeeded),
		attribute.Int("failed", sum.Failed),
	)
	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return sum, err
	}
	return sum, nil
}

func (p *Processor) write(ctx context.Context, r run, o model.Observation) error {
	if r.dryRun {
		p.log.Debug(ctx, "would insert",
			logger.String("connectionID", o.ConnectionID),
			logger.String("metricType", o.MetricType),
			logger.Float64("value", o.Value),
			logger.String("unit", o.Unit),
			logger.Time("timestamp", o.Timestamp))
		return nil
	}
	wctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	start := time.Now()
	err := p.writer.Upsert(wctx, o)
	metrics.RecordStoreLatency("metric_upsert", float64(time.Since(start).Microseconds())/1000)
	return err
}
