// Package service wires the stores, the ingestion pipeline and the
// calculators behind the HTTP API and the backfill command.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/wellness/internal/adapters/cache"
	"github.com/okian/wellness/internal/adapters/http/api"
	"github.com/okian/wellness/internal/adapters/repository"
	"github.com/okian/wellness/internal/config"
	"github.com/okian/wellness/internal/domain/model"
	"github.com/okian/wellness/internal/domain/normalize"
	"github.com/okian/wellness/internal/domain/pipeline"
	"github.com/okian/wellness/internal/domain/resolve"
	"github.com/okian/wellness/internal/domain/scoring"
	"github.com/okian/wellness/internal/domain/signature"
	"github.com/okian/wellness/pkg/logger"
	"github.com/okian/wellness/pkg/metrics"
)

const statsTimeout = 2 * time.Second

var (
	// ErrNotStarted is returned by accessors used before Start.
	ErrNotStarted = errors.New("service not started")
	// ErrMissingDSN is returned when the postgres driver has no DSN.
	ErrMissingDSN = errors.New("database_dsn is required for the postgres driver")
)

// ConnectionCache is the cross-instance connection lookup cache.
type ConnectionCache interface {
	resolve.SharedCache
	Forget(ctx context.Context, externalID string) error
	Close() error
}

// Service owns the long-lived collaborators of the ingestion service.
type Service struct {
	mu sync.RWMutex

	cfg *config.Config

	// Core components
	store      repository.Store
	ownStore   bool
	shared     ConnectionCache
	ownShared  bool
	verifier   *signature.Verifier
	normalizer *normalize.Normalizer
	resolvers  *resolve.Factory
	processor  *pipeline.Processor
	calculator *scoring.Calculator

	// State
	migrate   bool
	started   bool
	startedAt time.Time
	now       func() time.Time

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithConfig sets the configuration. Defaults from config.New are used otherwise.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		if cfg != nil {
			s.cfg = cfg
		}
	}
}

// WithStore injects a store instead of opening the configured driver. The
// caller keeps ownership and Stop does not close it.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		s.store = store
	}
}

// WithSharedCache injects the connection cache instead of dialing
// redis_addr. The caller keeps ownership and Stop does not close it.
func WithSharedCache(c ConnectionCache) Option {
	return func(s *Service) {
		s.shared = c
	}
}

// WithoutMigration opens the configured store without touching its schema.
func WithoutMigration() Option {
	return func(s *Service) {
		s.migrate = false
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides time.Now for the calculators.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		cfg:     config.New(),
		now:     time.Now,
		migrate: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens the store and builds the pipeline.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}
	cfg := s.cfg
	s.logger.Info(ctx, "starting wellness service...", logger.String("storage", cfg.StorageDriver))

	if s.store == nil {
		store, err := s.openStore(ctx)
		if err != nil {
			return err
		}
		s.store, s.ownStore = store, true
	}

	if s.shared == nil && cfg.RedisAddr != "" {
		shared, err := cache.NewRedis(ctx, cfg.RedisAddr,
			cache.WithTTL(cfg.RedisCacheTTL()),
			cache.WithDevice(model.DeviceGarmin),
		)
		if err != nil {
			s.closeStore()
			return fmt.Errorf("start shared cache: %w", err)
		}
		s.shared, s.ownShared = shared, true
		s.logger.Info(ctx, "using redis connection cache", logger.String("addr", cfg.RedisAddr))
	}
	var resolveOpts []resolve.Option
	if s.shared != nil {
		resolveOpts = append(resolveOpts, resolve.WithSharedCache(s.shared))
	}

	s.verifier = signature.NewVerifier(cfg.GarminConsumerSecret)
	metrics.SetSignatureEnforced(s.verifier.Enabled())
	if !s.verifier.Enabled() {
		s.logger.Warn(ctx, "garmin_consumer_secret is not set; webhook signatures will NOT be verified")
	}

	s.normalizer = normalize.New(normalize.WithLogger(s.logger.Named("normalize")))
	s.resolvers = resolve.NewFactory(s.store, append(resolveOpts,
		resolve.WithTimeout(cfg.StoreTimeout()),
		resolve.WithLogger(s.logger.Named("resolve")),
	)...)
	s.processor = pipeline.NewProcessor(s.normalizer, s.resolvers, s.store,
		pipeline.WithConcurrency(cfg.WriteConcurrency),
		pipeline.WithStoreTimeout(cfg.StoreTimeout()),
		pipeline.WithLogger(s.logger.Named("pipeline")),
	)
	s.calculator = scoring.NewCalculator(s.store,
		scoring.WithClock(s.now),
		scoring.WithReadTimeout(cfg.StoreTimeout()),
		scoring.WithLogger(s.logger.Named("scoring")),
	)

	s.started = true
	s.startedAt = s.now()
	s.logger.Info(ctx, "wellness service started",
		logger.Int("writeConcurrency", cfg.WriteConcurrency),
		logger.Bool("signatureVerification", s.verifier.Enabled()),
		logger.Bool("sharedCache", s.shared != nil),
	)
	return nil
}

func (s *Service) openStore(ctx context.Context) (repository.Store, error) {
	opts := []repository.Option{
		repository.WithTimeout(s.cfg.StoreTimeout()),
		repository.WithLogger(s.logger.Named("repository")),
	}
	if !s.migrate {
		opts = append(opts, repository.WithoutMigration())
	}
	switch s.cfg.StorageDriver {
	case config.StoragePostgres:
		if s.cfg.DatabaseDSN == "" {
			return nil, ErrMissingDSN
		}
		p, err := repository.OpenPostgres(ctx, s.cfg.DatabaseDSN, opts...)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return p, nil
	default:
		s.logger.Warn(ctx, "using in-memory store; data is lost on restart")
		return repository.NewMemory(opts...), nil
	}
}

// closeStore releases a store opened by Start. Injected stores are left alone.
func (s *Service) closeStore() {
	if !s.ownStore {
		return
	}
	if s.store != nil {
		_ = s.store.Close()
	}
	s.store, s.ownStore = nil, false
}

// Stop releases the store and the shared cache.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	s.logger.Info(context.Background(), "stopping wellness service...")

	if s.ownShared && s.shared != nil {
		_ = s.shared.Close()
		s.shared, s.ownShared = nil, false
	}
	s.closeStore()

	s.started = false
	s.logger.Info(context.Background(), "wellness service stopped")
}

// DeleteConnection removes the Garmin connection of userID and drops its
// entry from the shared cache so other instances stop resolving to it.
// It wraps model.ErrNotFound when the user has no connection.
func (s *Service) DeleteConnection(ctx context.Context, userID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return ErrNotStarted
	}

	conn, err := s.store.ConnectionForUser(ctx, userID, model.DeviceGarmin)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, conn.ID); err != nil {
		return fmt.Errorf("delete connection %s: %w", conn.ID, err)
	}
	if s.shared != nil {
		if err := s.shared.Forget(ctx, conn.ExternalAccountID); err != nil {
			s.logger.Warn(ctx, "shared cache entry not dropped; it expires with its TTL",
				logger.String("externalAccountID", conn.ExternalAccountID),
				logger.Error(err))
		}
	}
	s.logger.Info(ctx, "connection deleted",
		logger.String("userID", userID),
		logger.String("connectionID", conn.ID))
	return nil
}

// Config returns the active configuration.
func (s *Service) Config() *config.Config { return s.cfg }

// Store returns the repository. It is nil before Start.
func (s *Service) Store() repository.Store {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store
}

// Processor returns the ingestion pipeline. It is nil before Start.
func (s *Service) Processor() *pipeline.Processor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.processor
}

// Resolvers returns the connection resolver factory. It is nil before Start.
func (s *Service) Resolvers() *resolve.Factory {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolvers
}

// APIDependencies bundles what the HTTP handlers need.
func (s *Service) APIDependencies() (api.Dependencies, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return api.Dependencies{}, ErrNotStarted
	}
	return api.Dependencies{
		RawEvents:  s.store,
		Processor:  s.processor,
		Verifier:   s.verifier,
		Insights:   s.calculator,
		Debug:      s.store,
		Normalizer: s.normalizer,
		Stats:      s,
	}, nil
}

// APIOptions maps the configuration onto server options.
func (s *Service) APIOptions() []api.Option {
	s.mu.RLock()
	log := s.logger
	s.mu.RUnlock()
	if log == nil {
		log = logger.NewNop()
	}
	return []api.Option{
		api.WithMaxBodyBytes(s.cfg.MaxBodyBytes),
		api.WithPublicBaseURL(s.cfg.PublicBaseURL),
		api.WithRateLimit(s.cfg.RateLimitRPS, s.cfg.RateLimitBurst),
		api.WithLogger(log.Named("api")),
	}
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":          s.started,
		"storageDriver":    s.cfg.StorageDriver,
		"writeConcurrency": s.cfg.WriteConcurrency,
	}
	if !s.started {
		return stats
	}

	ctx, cancel := context.WithTimeout(context.Background(), statsTimeout)
	defer cancel()
	stats["signatureVerification"] = s.verifier.Enabled()
	stats["sharedCache"] = s.shared != nil
	stats["uptimeSeconds"] = int64(s.now().Sub(s.startedAt).Seconds())
	if n, err := s.store.Count(ctx, repository.RawEventFilter{}); err == nil {
		stats["rawEvents"] = n
	} else {
		stats["rawEventsError"] = err.Error()
	}
	return stats
}
