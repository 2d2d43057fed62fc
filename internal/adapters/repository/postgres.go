package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/okian/wellness/internal/domain/model"
	"github.com/okian/wellness/internal/domain/types"
	"github.com/okian/wellness/pkg/logger"
	"github.com/okian/wellness/pkg/metrics"
)

const slowQueryThreshold = time.Second

// Postgres implements Store on top of gorm.
type Postgres struct {
	settings
	db *gorm.DB

	readyOnce sync.Once
	readyErr  error
}

var _ Store = (*Postgres)(nil)

// OpenPostgres connects to dsn and migrates the schema unless
// WithoutMigration is given.
func OpenPostgres(ctx context.Context, dsn string, opts ...Option) (*Postgres, error) {
	s := newSettings(opts)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
		Logger: gormlogger.New(gormWriter{log: s.log}, gormlogger.Config{
			SlowThreshold:             slowQueryThreshold,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		}),
		NowFunc: func() time.Time { return s.now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	p := &Postgres{settings: s, db: db}
	if err := p.ensureReady(ctx); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

// NewPostgres wraps an open gorm handle. The schema is migrated on first use.
func NewPostgres(db *gorm.DB, opts ...Option) *Postgres {
	return &Postgres{settings: newSettings(opts), db: db}
}

func (p *Postgres) ensureReady(ctx context.Context) error {
	p.readyOnce.Do(func() {
		if !p.migrate {
			if err := p.Ping(ctx); err != nil {
				p.readyErr = fmt.Errorf("%w: %v", ErrNotReady, err)
			}
			return
		}
		mctx, cancel := context.WithTimeout(ctx, p.timeout*4)
		defer cancel()
		if err := p.db.WithContext(mctx).AutoMigrate(&rawEventRow{}, &connectionRow{}, &metricRow{}); err != nil {
			p.readyErr = fmt.Errorf("%w: %v", ErrNotReady, err)
		}
	})
	return p.readyErr
}

// do runs fn under the store timeout and records latency for op.
func (p *Postgres) do(ctx context.Context, op string, fn func(db *gorm.DB) error) error {
	if err := p.ensureReady(ctx); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	err := fn(p.db.WithContext(ctx))
	metrics.RecordStoreLatency(op, float64(time.Since(start).Microseconds())/1000)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		metrics.RecordErrorByComponent("repository", op)
	}
	return err
}

// Ping checks the database connection.
func (p *Postgres) Ping(ctx context.Context) error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool.
func (p *Postgres) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Append stores payload as a new raw event.
func (p *Postgres) Append(ctx context.Context, payload json.RawMessage) (model.RawEvent, error) {
	if !json.Valid(payload) {
		return model.RawEvent{}, ErrInvalidPayload
	}
	row := rawEventRow{
		ID:         uuid.NewString(),
		ReceivedAt: p.now().UTC().Truncate(time.Microsecond),
		Payload:    datatypes.JSON(append([]byte(nil), payload...)),
	}
	err := p.do(ctx, "raw_append", func(db *gorm.DB) error {
		return db.Create(&row).Error
	})
	if err != nil {
		return model.RawEvent{}, fmt.Errorf("append raw event: %w", err)
	}
	return row.toModel(), nil
}

func rawFilter(db *gorm.DB, f RawEventFilter) *gorm.DB {
	q := db.Model(&rawEventRow{})
	if f.From != nil {
		q = q.Where("received_at >= ?", f.From.UTC())
	}
	if f.To != nil {
		q = q.Where("received_at < ?", f.To.UTC())
	}
	if f.Contains != "" {
		q = q.Where("payload::text LIKE ?", likePattern(f.Contains))
	}
	return q
}

// Count returns the number of raw events matching f.
func (p *Postgres) Count(ctx context.Context, f RawEventFilter) (int64, error) {
	var n int64
	err := p.do(ctx, "raw_count", func(db *gorm.DB) error {
		return rawFilter(db, f).Count(&n).Error
	})
	if err != nil {
		return 0, fmt.Errorf("count raw events: %w", err)
	}
	return n, nil
}

// ListAfter pages raw events by keyset.
func (p *Postgres) ListAfter(ctx context.Context, f RawEventFilter, after Cursor, limit int) ([]model.RawEvent, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	var rows []rawEventRow
	err := p.do(ctx, "raw_list", func(db *gorm.DB) error {
		q := rawFilter(db, f)
		if !after.IsZero() {
			q = q.Where("(received_at, id) > (?, ?)", after.ReceivedAt.UTC(), after.ID)
		}
		return q.Order("received_at ASC, id ASC").Limit(limit).Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list raw events: %w", err)
	}
	out := make([]model.RawEvent, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

// Create inserts a connection. ID and CreatedAt are assigned when empty.
func (p *Postgres) Create(ctx context.Context, c model.Connection) (model.Connection, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = p.now().UTC().Truncate(time.Microsecond)
	}
	row, err := connectionToRow(c)
	if err != nil {
		return model.Connection{}, err
	}
	err = p.do(ctx, "connection_create", func(db *gorm.DB) error {
		return db.Create(&row).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return model.Connection{}, fmt.Errorf("%w: user %s device %s", ErrDuplicateConnection, c.UserID, c.DeviceType)
	}
	if err != nil {
		return model.Connection{}, fmt.Errorf("create connection: %w", err)
	}
	return row.toModel(), nil
}

// Delete removes a connection. Stored observations are kept.
func (p *Postgres) Delete(ctx context.Context, id string) error {
	var affected int64
	err := p.do(ctx, "connection_delete", func(db *gorm.DB) error {
		res := db.Where("id = ?", id).Delete(&connectionRow{})
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return fmt.Errorf("delete connection %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("connection %s: %w", id, model.ErrNotFound)
	}
	return nil
}

func (p *Postgres) findConnection(ctx context.Context, op, what string, query string, args ...any) (model.Connection, error) {
	var row connectionRow
	err := p.do(ctx, op, func(db *gorm.DB) error {
		return db.Where(query, args...).Order("created_at ASC").Take(&row).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Connection{}, fmt.Errorf("connection for %s: %w", what, model.ErrNotFound)
	}
	if err != nil {
		return model.Connection{}, fmt.Errorf("find connection for %s: %w", what, err)
	}
	return row.toModel(), nil
}

// FindByExternalID returns the connection linked to a vendor account.
func (p *Postgres) FindByExternalID(ctx context.Context, device model.DeviceType, externalID string) (model.Connection, error) {
	return p.findConnection(ctx, "connection_by_external", externalID,
		"device_type = ? AND external_account_id = ?", string(device), externalID)
}

// ConnectionForUser returns the user's connection for device.
func (p *Postgres) ConnectionForUser(ctx context.Context, userID string, device model.DeviceType) (model.Connection, error) {
	return p.findConnection(ctx, "connection_by_user", userID,
		"user_id = ? AND device_type = ?", userID, string(device))
}

// Upsert writes o; the last write for a key wins.
func (p *Postgres) Upsert(ctx context.Context, o model.Observation) error {
	o, err := canonical(o)
	if err != nil {
		return err
	}
	row := metricRow{
		ConnectionID: o.ConnectionID,
		MetricType:   o.MetricType,
		RecordedAt:   o.Timestamp,
		Value:        o.Value,
		Unit:         o.Unit,
		Source:       o.Source,
	}
	err = p.do(ctx, "metric_upsert", func(db *gorm.DB) error {
		return db.Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "connection_id"},
				{Name: "metric_type"},
				{Name: "recorded_at"},
			},
			DoUpdates: clause.AssignmentColumns([]string{"value", "unit", "source", "updated_at"}),
		}).Create(&row).Error
	})
	if err != nil {
		return fmt.Errorf("upsert %s for %s: %w", o.MetricType, o.ConnectionID, err)
	}
	return nil
}

// Observations reads stored points in [from, to).
func (p *Postgres) Observations(ctx context.Context, connectionID string, metricTypes []string, from, to time.Time) ([]model.Observation, error) {
	var rows []metricRow
	err := p.do(ctx, "metric_read", func(db *gorm.DB) error {
		q := db.Where("connection_id = ? AND recorded_at >= ? AND recorded_at < ?", connectionID, from.UTC(), to.UTC())
		if len(metricTypes) > 0 {
			q = q.Where("metric_type IN ?", metricTypes)
		}
		return q.Order("recorded_at ASC, metric_type ASC").Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("read observations for %s: %w", connectionID, err)
	}
	out := make([]model.Observation, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

// Summaries aggregates stored points per metric type.
func (p *Postgres) Summaries(ctx context.Context, connectionID string, from, to time.Time) ([]types.MetricSummary, error) {
	var counts []struct {
		MetricType string
		Count      int
	}
	var latest []metricRow
	err := p.do(ctx, "metric_summary", func(db *gorm.DB) error {
		err := db.Model(&metricRow{}).
			Select("metric_type, COUNT(*) AS count").
			Where("connection_id = ? AND recorded_at >= ? AND recorded_at < ?", connectionID, from.UTC(), to.UTC()).
			Group("metric_type").
			Scan(&counts).Error
		if err != nil {
			return err
		}
		return db.Raw(`SELECT DISTINCT ON (metric_type) metric_type, value, unit, recorded_at
			FROM metric_observations
			WHERE connection_id = ? AND recorded_at >= ? AND recorded_at < ?
			ORDER BY metric_type, recorded_at DESC`, connectionID, from.UTC(), to.UTC()).
			Scan(&latest).Error
	})
	if err != nil {
		return nil, fmt.Errorf("summarize observations for %s: %w", connectionID, err)
	}

	byType := make(map[string]metricRow, len(latest))
	for _, r := range latest {
		byType[r.MetricType] = r
	}
	out := make([]types.MetricSummary, 0, len(counts))
	for _, c := range counts {
		s := types.MetricSummary{MetricType: c.MetricType, Count: c.Count}
		if r, ok := byType[c.MetricType]; ok {
			at, v := r.RecordedAt.UTC(), r.Value
			s.LatestAt, s.LatestValue, s.Unit = &at, &v, r.Unit
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MetricType < out[j].MetricType })
	return out, nil
}

// gormWriter routes gorm's slow query and error log lines to our logger.
type gormWriter struct {
	log logger.Logger
}

func (w gormWriter) Printf(format string, args ...any) {
	w.log.Warn(context.Background(), strings.TrimSpace(fmt.Sprintf(format, args...)), logger.String("component", "gorm"))
}
