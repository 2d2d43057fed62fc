package pipeline

import (
	"time"

	"github.com/okian/wellness/internal/domain/resolve"
	"github.com/okian/wellness/pkg/logger"
)

// Option configures a Processor.
type Option func(*Processor)

// WithConcurrency bounds concurrent upserts within one payload.
func WithConcurrency(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithStoreTimeout bounds each upsert.
func WithStoreTimeout(d time.Duration) Option {
	return func(p *Processor) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(p *Processor) {
		if l != nil {
			p.log = l
		}
	}
}

// RunOption configures a single Process call.
type RunOption func(*run)

type run struct {
	source   string
	dryRun   bool
	resolver *resolve.Resolver
}

// WithSource tags written observations, e.g. model.SourceBackfill.
func WithSource(source string) RunOption {
	return func(r *run) {
		if source != "" {
			r.source = source
		}
	}
}

// WithDryRun replaces the writer with one that only logs and counts.
func WithDryRun() RunOption {
	return func(r *run) { r.dryRun = true }
}

// WithResolver reuses a resolver across several calls, e.g. one backfill run.
func WithResolver(res *resolve.Resolver) RunOption {
	return func(r *run) { r.resolver = res }
}
