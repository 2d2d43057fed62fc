package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/wellness/internal/domain/model"
	"github.com/okian/wellness/internal/domain/types"
)

// Memory is an in-process Store. It is safe for concurrent use.
type Memory struct {
	settings

	mu      sync.RWMutex
	events  []model.RawEvent // kept in (received_at, id) order
	conns   map[string]model.Connection
	metrics map[model.ObservationKey]model.Observation
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty Memory store.
func NewMemory(opts ...Option) *Memory {
	return &Memory{
		settings: newSettings(opts),
		conns:    make(map[string]model.Connection),
		metrics:  make(map[model.ObservationKey]model.Observation),
	}
}

// Ping always succeeds.
func (m *Memory) Ping(context.Context) error { return nil }

// Close is a no-op.
func (m *Memory) Close() error { return nil }

func cursorLess(a, b Cursor) bool {
	if !a.ReceivedAt.Equal(b.ReceivedAt) {
		return a.ReceivedAt.Before(b.ReceivedAt)
	}
	return a.ID < b.ID
}

// Append stores a copy of payload.
func (m *Memory) Append(ctx context.Context, payload json.RawMessage) (model.RawEvent, error) {
	if err := ctx.Err(); err != nil {
		return model.RawEvent{}, err
	}
	if !json.Valid(payload) {
		return model.RawEvent{}, ErrInvalidPayload
	}
	ev := model.RawEvent{
		ID:         uuid.NewString(),
		ReceivedAt: m.now().UTC(),
		Payload:    append(json.RawMessage(nil), payload...),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	at := CursorAfter(ev)
	i := sort.Search(len(m.events), func(i int) bool { return cursorLess(at, CursorAfter(m.events[i])) })
	m.events = append(m.events, model.RawEvent{})
	copy(m.events[i+1:], m.events[i:])
	m.events[i] = ev
	return ev, nil
}

func (f RawEventFilter) match(e model.RawEvent) bool {
	if f.From != nil && e.ReceivedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && !e.ReceivedAt.Before(*f.To) {
		return false
	}
	if f.Contains != "" && !bytes.Contains(e.Payload, []byte(f.Contains)) {
		return false
	}
	return true
}

// Count returns the number of raw events matching f.
func (m *Memory) Count(ctx context.Context, f RawEventFilter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, e := range m.events {
		if f.match(e) {
			n++
		}
	}
	return n, nil
}

// ListAfter pages raw events by keyset.
func (m *Memory) ListAfter(ctx context.Context, f RawEventFilter, after Cursor, limit int) ([]model.RawEvent, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	start := 0
	if !after.IsZero() {
		start = sort.Search(len(m.events), func(i int) bool { return cursorLess(after, CursorAfter(m.events[i])) })
	}
	var out []model.RawEvent
	for _, e := range m.events[start:] {
		if len(out) == limit {
			break
		}
		if f.match(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Create inserts a connection. ID and CreatedAt are assigned when empty.
func (m *Memory) Create(ctx context.Context, c model.Connection) (model.Connection, error) {
	if err := ctx.Err(); err != nil {
		return model.Connection{}, err
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = m.now().UTC()
	}
	c.Scopes = append([]string(nil), c.Scopes...)

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.conns {
		if existing.ID == c.ID || (existing.UserID == c.UserID && existing.DeviceType == c.DeviceType) {
			return model.Connection{}, fmt.Errorf("%w: user %s device %s", ErrDuplicateConnection, c.UserID, c.DeviceType)
		}
	}
	m.conns[c.ID] = c
	return c, nil
}

// Delete removes a connection. Stored observations are kept.
func (m *Memory) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conns[id]; !ok {
		return fmt.Errorf("connection %s: %w", id, model.ErrNotFound)
	}
	delete(m.conns, id)
	return nil
}

// first returns the oldest connection matching keep.
func (m *Memory) first(keep func(model.Connection) bool) (model.Connection, bool) {
	var best model.Connection
	found := false
	for _, c := range m.conns {
		if !keep(c) {
			continue
		}
		if !found || c.CreatedAt.Before(best.CreatedAt) {
			best, found = c, true
		}
	}
	return best, found
}

// FindByExternalID returns the connection linked to a vendor account.
func (m *Memory) FindByExternalID(ctx context.Context, device model.DeviceType, externalID string) (model.Connection, error) {
	if err := ctx.Err(); err != nil {
		return model.Connection{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.first(func(c model.Connection) bool {
		return c.DeviceType == device && c.ExternalAccountID == externalID
	})
	if !ok {
		return model.Connection{}, fmt.Errorf("connection for %s: %w", externalID, model.ErrNotFound)
	}
	return c, nil
}

// ConnectionForUser returns the user's connection for device.
func (m *Memory) ConnectionForUser(ctx context.Context, userID string, device model.DeviceType) (model.Connection, error) {
	if err := ctx.Err(); err != nil {
		return model.Connection{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.first(func(c model.Connection) bool {
		return c.UserID == userID && c.DeviceType == device
	})
	if !ok {
		return model.Connection{}, fmt.Errorf("connection for %s: %w", userID, model.ErrNotFound)
	}
	return c, nil
}

// Upsert writes o; the last write for a key wins.
func (m *Memory) Upsert(ctx context.Context, o model.Observation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o, err := canonical(o)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics[o.Key()] = o
	return nil
}

func (m *Memory) inWindow(connectionID string, from, to time.Time, keep func(string) bool) []model.Observation {
	var out []model.Observation
	for _, o := range m.metrics {
		if o.ConnectionID != connectionID || o.Timestamp.Before(from) || !o.Timestamp.Before(to) {
			continue
		}
		if keep != nil && !keep(o.MetricType) {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].MetricType < out[j].MetricType
	})
	return out
}

// Observations reads stored points in [from, to).
func (m *Memory) Observations(ctx context.Context, connectionID string, metricTypes []string, from, to time.Time) ([]model.Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var keep func(string) bool
	if len(metricTypes) > 0 {
		want := make(map[string]bool, len(metricTypes))
		for _, t := range metricTypes {
			want[t] = true
		}
		keep = func(t string) bool { return want[t] }
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.inWindow(connectionID, from, to, keep), nil
}

// Summaries aggregates stored points per metric type.
func (m *Memory) Summaries(ctx context.Context, connectionID string, from, to time.Time) ([]types.MetricSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	obs := m.inWindow(connectionID, from, to, nil)
	m.mu.RUnlock()

	idx := make(map[string]int)
	var out []types.MetricSummary
	for _, o := range obs {
		i, ok := idx[o.MetricType]
		if !ok {
			i = len(out)
			idx[o.MetricType] = i
			out = append(out, types.MetricSummary{MetricType: o.MetricType})
		}
		s := &out[i]
		s.Count++
		// obs is ascending so the last point seen is the latest.
		at, v := o.Timestamp, o.Value
		s.LatestAt, s.LatestValue, s.Unit = &at, &v, o.Unit
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MetricType < out[j].MetricType })
	return out, nil
}
