// Package resolve maps vendor account ids to connection ids with a cache
// scoped to one ingestion run.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/wellness/internal/domain/model"
	"github.com/okian/wellness/pkg/logger"
	"github.com/okian/wellness/pkg/metrics"
)

const defaultTimeout = 5 * time.Second

// Lookup result labels.
const (
	resultHit       = "hit"
	resultSharedHit = "shared_hit"
	resultStoreHit  = "store_hit"
	resultNotFound  = "not_found"
	resultError     = "error"
)

// ConnectionLookup finds the connection linked to a vendor account. It must
// wrap model.ErrNotFound when nothing is linked.
type ConnectionLookup interface {
	FindByExternalID(ctx context.Context, device model.DeviceType, externalID string) (model.Connection, error)
}

// SharedCache is an optional cache shared between processes. Only positive
// entries are stored there.
type SharedCache interface {
	Get(ctx context.Context, externalID string) (connectionID string, found bool, err error)
	Set(ctx context.Context, externalID, connectionID string) error
}

// Factory holds the long-lived collaborators and hands out run-scoped Resolvers.
type Factory struct {
	lookup  ConnectionLookup
	shared  SharedCache
	timeout time.Duration
	device  model.DeviceType
	log     logger.Logger
}

// NewFactory creates a Factory.
func NewFactory(lookup ConnectionLookup, opts ...Option) *Factory {
	f := &Factory{
		lookup:  lookup,
		timeout: defaultTimeout,
		device:  model.DeviceGarmin,
		log:     logger.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Scope returns a fresh Resolver. Its cache lives as long as the Resolver.
func (f *Factory) Scope() *Resolver {
	return &Resolver{f: f, entries: make(map[string]entry)}
}

type entry struct {
	connectionID string
	found        bool
}

// Resolver caches positive and negative answers for the duration of one
// webhook request or backfill run.
type Resolver struct {
	f       *Factory
	mu      sync.Mutex
	entries map[string]entry
	lookups int
}

// Resolve returns the connection id for externalID. found is false when the
// account is not linked; that is not an error. Store failures are returned
// and not cached.
func (r *Resolver) Resolve(ctx context.Context, externalID string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[externalID]; ok {
		metrics.RecordResolverLookup(resultHit)
		return e.connectionID, e.found, nil
	}

	if r.f.shared != nil {
		cctx, cancel := context.WithTimeout(ctx, r.f.timeout)
		id, ok, err := r.f.shared.Get(cctx, externalID)
		cancel()
		switch {
		case err != nil:
			r.f.log.Warn(ctx, "shared connection cache read failed",
				logger.String("externalAccountID", externalID), logger.Error(err))
		case ok:
			metrics.RecordResolverLookup(resultSharedHit)
			r.entries[externalID] = entry{connectionID: id, found: true}
			return id, true, nil
		}
	}

	r.lookups++
	sctx, cancel := context.WithTimeout(ctx, r.f.timeout)
	conn, err := r.f.lookup.FindByExternalID(sctx, r.f.device, externalID)
	cancel()
	if errors.Is(err, model.ErrNotFound) {
		metrics.RecordResolverLookup(resultNotFound)
		r.f.log.Debug(ctx, "no connection for external account",
			logger.String("externalAccountID", externalID))
		r.entries[externalID] = entry{}
		return "", false, nil
	}
	if err != nil {
		metrics.RecordResolverLookup(resultError)
		return "", false, fmt.Errorf("resolve %s: %w", externalID, err)
	}

	metrics.RecordResolverLookup(resultStoreHit)
	r.entries[externalID] = entry{connectionID: conn.ID, found: true}
	if r.f.shared != nil {
		cctx, cancel := context.WithTimeout(ctx, r.f.timeout)
		if err := r.f.shared.Set(cctx, externalID, conn.ID); err != nil {
			r.f.log.Warn(ctx, "shared connection cache write failed",
				logger.String("externalAccountID", externalID), logger.Error(err))
		}
		cancel()
	}
	return conn.ID, true, nil
}

// StoreLookups reports how many store round trips this Resolver made.
func (r *Resolver) StoreLookups() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookups
}
