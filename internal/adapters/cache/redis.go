// Package cache holds the optional cross-process connection cache.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/okian/wellness/internal/domain/model"
)

const (
	defaultTTL         = 5 * time.Minute
	defaultDialTimeout = 5 * time.Second
	defaultPrefix      = "wellness:conn"
)

// ErrEmptyAddr is returned when no Redis address is configured.
var ErrEmptyAddr = errors.New("redis address is empty")

// Option configures a ConnectionCache.
type Option func(*ConnectionCache)

// WithTTL sets how long positive lookups are kept.
func WithTTL(d time.Duration) Option {
	return func(c *ConnectionCache) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithKeyPrefix namespaces cache keys.
func WithKeyPrefix(p string) Option {
	return func(c *ConnectionCache) {
		if p != "" {
			c.prefix = p
		}
	}
}

// WithDevice scopes keys to a vendor.
func WithDevice(d model.DeviceType) Option {
	return func(c *ConnectionCache) {
		if d != "" {
			c.device = d
		}
	}
}

// ConnectionCache maps vendor account ids to connection ids in Redis.
type ConnectionCache struct {
	rdb    redis.UniversalClient
	ttl    time.Duration
	prefix string
	device model.DeviceType
	owned  bool
}

// NewRedis dials addr and verifies it with PING.
func NewRedis(ctx context.Context, addr string, opts ...Option) (*ConnectionCache, error) {
	if addr == "" {
		return nil, ErrEmptyAddr
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: defaultDialTimeout,
	})
	pctx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	c := New(rdb, opts...)
	c.owned = true
	return c, nil
}

// New wraps an existing client. Close leaves the client open.
func New(rdb redis.UniversalClient, opts ...Option) *ConnectionCache {
	c := &ConnectionCache{
		rdb:    rdb,
		ttl:    defaultTTL,
		prefix: defaultPrefix,
		device: model.DeviceGarmin,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *ConnectionCache) key(externalID string) string {
	return c.prefix + ":" + string(c.device) + ":" + externalID
}

// Get returns the cached connection id. A miss is not an error.
func (c *ConnectionCache) Get(ctx context.Context, externalID string) (string, bool, error) {
	v, err := c.rdb.Get(ctx, c.key(externalID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", externalID, err)
	}
	return v, true, nil
}

// Set stores a positive lookup with the configured TTL.
func (c *ConnectionCache) Set(ctx context.Context, externalID, connectionID string) error {
	if err := c.rdb.Set(ctx, c.key(externalID), connectionID, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", externalID, err)
	}
	return nil
}

// Forget drops an entry, e.g. after a connection is deleted.
func (c *ConnectionCache) Forget(ctx context.Context, externalID string) error {
	if err := c.rdb.Del(ctx, c.key(externalID)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", externalID, err)
	}
	return nil
}

// Close closes the client when the cache dialed it.
func (c *ConnectionCache) Close() error {
	if !c.owned {
		return nil
	}
	return c.rdb.Close()
}
