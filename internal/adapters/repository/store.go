// Package repository persists raw webhook payloads, device connections and
// metric observations. Postgres is the production backend; Memory serves
// tests and local runs.
package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/okian/wellness/internal/domain/model"
	"github.com/okian/wellness/internal/domain/types"
)

// RawEventFilter narrows raw event reads. Zero fields match everything.
type RawEventFilter struct {
	// From is inclusive.
	From *time.Time
	// To is exclusive.
	To *time.Time
	// Contains matches a substring of the payload text.
	Contains string
}

// Cursor is a keyset position in (received_at, id) order.
type Cursor struct {
	ReceivedAt time.Time
	ID         string
}

// IsZero reports whether c points before the first event.
func (c Cursor) IsZero() bool {
	return c.ID == "" && c.ReceivedAt.IsZero()
}

// CursorAfter returns the cursor positioned on e.
func CursorAfter(e model.RawEvent) Cursor {
	return Cursor{ReceivedAt: e.ReceivedAt, ID: e.ID}
}

// RawEventStore is the append-only log of accepted webhook bodies.
type RawEventStore interface {
	// Append stores payload verbatim and assigns ID and ReceivedAt.
	Append(ctx context.Context, payload json.RawMessage) (model.RawEvent, error)
	Count(ctx context.Context, f RawEventFilter) (int64, error)
	// ListAfter returns up to limit events strictly after the cursor in
	// (received_at, id) order.
	ListAfter(ctx context.Context, f RawEventFilter, after Cursor, limit int) ([]model.RawEvent, error)
}

// ConnectionStore manages user to vendor account links.
type ConnectionStore interface {
	Create(ctx context.Context, c model.Connection) (model.Connection, error)
	Delete(ctx context.Context, id string) error
	// FindByExternalID wraps model.ErrNotFound when no connection matches.
	FindByExternalID(ctx context.Context, device model.DeviceType, externalID string) (model.Connection, error)
	// ConnectionForUser wraps model.ErrNotFound when the user has no device.
	ConnectionForUser(ctx context.Context, userID string, device model.DeviceType) (model.Connection, error)
}

// MetricStore is the time-series table keyed by (connection, metric type, timestamp).
type MetricStore interface {
	// Upsert inserts o or overwrites value, unit and source of the stored point.
	Upsert(ctx context.Context, o model.Observation) error
	// Observations returns points in [from, to) ordered by timestamp. An
	// empty metricTypes matches every type.
	Observations(ctx context.Context, connectionID string, metricTypes []string, from, to time.Time) ([]model.Observation, error)
	// Summaries returns per-type counts and the latest point in [from, to).
	Summaries(ctx context.Context, connectionID string, from, to time.Time) ([]types.MetricSummary, error)
}

// Store bundles every repository the service needs.
type Store interface {
	RawEventStore
	ConnectionStore
	MetricStore
	Ping(ctx context.Context) error
	Close() error
}
