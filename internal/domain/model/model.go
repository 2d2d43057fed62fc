// Package model contains domain models passed between layers.
package model

import (
	"encoding/json"
	"time"
)

// RawEvent is one accepted webhook body exactly as received. Never mutated.
type RawEvent struct {
	ID         string
	ReceivedAt time.Time
	Payload    json.RawMessage
}

// DeviceType identifies the vendor behind a Connection.
type DeviceType string

// DeviceGarmin is the only supported vendor.
const DeviceGarmin DeviceType = "garmin"

// Connection links an internal user to a vendor account.
type Connection struct {
	ID                string
	UserID            string
	ExternalAccountID string
	DeviceType        DeviceType
	AccessToken       string
	RefreshToken      string
	TokenExpiresAt    *time.Time
	Scopes            []string
	CreatedAt         time.Time
}

// Observation sources.
const (
	SourceWebhook  = "garmin_webhook"
	SourceBackfill = "garmin_backfill"
)

// Observation is one stored time-series point. (ConnectionID, MetricType,
// Timestamp) identifies it; re-ingesting the same key overwrites Value, Unit
// and Source.
type Observation struct {
	ConnectionID string
	MetricType   string
	Value        float64
	Unit         string
	Timestamp    time.Time
	Source       string
}

// ObservationKey is the idempotency key of an Observation.
type ObservationKey struct {
	ConnectionID string
	MetricType   string
	Timestamp    int64
}

// Key returns the idempotency key. Timestamps are compared at second precision in UTC.
func (o Observation) Key() ObservationKey {
	return ObservationKey{
		ConnectionID: o.ConnectionID,
		MetricType:   o.MetricType,
		Timestamp:    o.Timestamp.UTC().Unix(),
	}
}

// Metric types read by the calculators.
const (
	MetricSteps            = "steps"
	MetricRestingHeartRate = "heart_rate_resting"
	MetricStressAvg        = "stress_avg"
	MetricStressScore      = "stress_score"
	MetricHRV              = "hrv_rmssd"
	MetricSleepTotal       = "sleep_total_seconds"
	MetricSleepDeep        = "sleep_deep_seconds"
	MetricRespirationRate  = "respiration_rate"
)
