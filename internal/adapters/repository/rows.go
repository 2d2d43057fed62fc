package repository

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"gorm.io/datatypes"

	"github.com/okian/wellness/internal/domain/model"
)

type rawEventRow struct {
	ID         string         `gorm:"type:uuid;primaryKey;index:idx_raw_events_keyset,priority:2"`
	ReceivedAt time.Time      `gorm:"not null;index:idx_raw_events_keyset,priority:1"`
	Payload    datatypes.JSON `gorm:"type:jsonb;not null"`
}

func (rawEventRow) TableName() string { return "raw_events" }

func (r rawEventRow) toModel() model.RawEvent {
	return model.RawEvent{
		ID:         r.ID,
		ReceivedAt: r.ReceivedAt.UTC(),
		Payload:    json.RawMessage(r.Payload),
	}
}

type connectionRow struct {
	ID                string         `gorm:"type:uuid;primaryKey"`
	UserID            string         `gorm:"not null;uniqueIndex:idx_connections_user_device,priority:1"`
	DeviceType        string         `gorm:"not null;uniqueIndex:idx_connections_user_device,priority:2;index:idx_connections_external,priority:1"`
	ExternalAccountID string         `gorm:"not null;index:idx_connections_external,priority:2"`
	AccessToken       string         `gorm:"not null;default:''"`
	RefreshToken      string         `gorm:"not null;default:''"`
	TokenExpiresAt    *time.Time     `gorm:""`
	Scopes            datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt         time.Time      `gorm:"not null"`
}

func (connectionRow) TableName() string { return "device_connections" }

func connectionToRow(c model.Connection) (connectionRow, error) {
	scopes := c.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	raw, err := json.Marshal(scopes)
	if err != nil {
		return connectionRow{}, fmt.Errorf("encode scopes: %w", err)
	}
	return connectionRow{
		ID:                c.ID,
		UserID:            c.UserID,
		DeviceType:        string(c.DeviceType),
		ExternalAccountID: c.ExternalAccountID,
		AccessToken:       c.AccessToken,
		RefreshToken:      c.RefreshToken,
		TokenExpiresAt:    c.TokenExpiresAt,
		Scopes:            datatypes.JSON(raw),
		CreatedAt:         c.CreatedAt,
	}, nil
}

func (r connectionRow) toModel() model.Connection {
	var scopes []string
	if len(r.Scopes) > 0 {
		_ = json.Unmarshal(r.Scopes, &scopes)
	}
	return model.Connection{
		ID:                r.ID,
		UserID:            r.UserID,
		ExternalAccountID: r.ExternalAccountID,
		DeviceType:        model.DeviceType(r.DeviceType),
		AccessToken:       r.AccessToken,
		RefreshToken:      r.RefreshToken,
		TokenExpiresAt:    r.TokenExpiresAt,
		Scopes:            scopes,
		CreatedAt:         r.CreatedAt.UTC(),
	}
}

type metricRow struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement"`
	ConnectionID string    `gorm:"type:uuid;not null;uniqueIndex:idx_metric_observations_key,priority:1"`
	MetricType   string    `gorm:"not null;uniqueIndex:idx_metric_observations_key,priority:2"`
	RecordedAt   time.Time `gorm:"not null;uniqueIndex:idx_metric_observations_key,priority:3"`
	Value        float64   `gorm:"not null"`
	Unit         string    `gorm:"not null;default:''"`
	Source       string    `gorm:"not null;default:''"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (metricRow) TableName() string { return "metric_observations" }

func (r metricRow) toModel() model.Observation {
	return model.Observation{
		ConnectionID: r.ConnectionID,
		MetricType:   r.MetricType,
		Value:        r.Value,
		Unit:         r.Unit,
		Timestamp:    r.RecordedAt.UTC(),
		Source:       r.Source,
	}
}

// canonical validates o and truncates its timestamp to the key precision.
func canonical(o model.Observation) (model.Observation, error) {
	switch {
	case o.ConnectionID == "":
		return o, fmt.Errorf("%w: empty connection id", ErrInvalidObservation)
	case o.MetricType == "":
		return o, fmt.Errorf("%w: empty metric type", ErrInvalidObservation)
	case math.IsNaN(o.Value) || math.IsInf(o.Value, 0):
		return o, fmt.Errorf("%w: non-finite value for %s", ErrInvalidObservation, o.MetricType)
	case o.Timestamp.IsZero():
		return o, fmt.Errorf("%w: zero timestamp for %s", ErrInvalidObservation, o.MetricType)
	}
	o.Timestamp = time.Unix(o.Key().Timestamp, 0).UTC()
	return o, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}
