package repository

import (
	"time"

	"github.com/okian/wellness/pkg/logger"
)

const defaultTimeout = 5 * time.Second

type settings struct {
	timeout time.Duration
	now     func() time.Time
	log     logger.Logger
	migrate bool
}

func newSettings(opts []Option) settings {
	s := settings{
		timeout: defaultTimeout,
		now:     time.Now,
		log:     logger.NewNop(),
		migrate: true,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Option applies a configuration option to a store.
type Option func(*settings)

// WithTimeout bounds every store round trip.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithClock overrides the clock used for received_at and bookkeeping columns.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.log = l
		}
	}
}

// WithoutMigration leaves the schema untouched. The store only checks that
// the database is reachable before first use, so read-only callers never
// issue DDL.
func WithoutMigration() Option {
	return func(s *settings) {
		s.migrate = false
	}
}
