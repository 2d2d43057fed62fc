// Package types contains response shapes shared by the HTTP layer and the
// debug tooling.
package types

import "time"

// ConnectionInfo is the public view of a device connection.
type ConnectionInfo struct {
	ID                string    `json:"id"`
	UserID            string    `json:"user_id"`
	ExternalAccountID string    `json:"external_account_id"`
	DeviceType        string    `json:"device_type"`
	CreatedAt         time.Time `json:"created_at"`
}

// MetricSummary describes what is stored for one metric type.
type MetricSummary struct {
	MetricType  string     `json:"metric_type"`
	Count       int        `json:"count"`
	LatestAt    *time.Time `json:"latest_at,omitempty"`
	LatestValue *float64   `json:"latest_value,omitempty"`
	Unit        string     `json:"unit,omitempty"`
}

// RawEventRef points at a raw payload that mentions the account.
type RawEventRef struct {
	ID           string    `json:"id"`
	ReceivedAt   time.Time `json:"received_at"`
	Categories   []string  `json:"categories"`
	Observations int       `json:"observations"`
}

// MetricComparison compares what raw payloads imply against what is stored.
type MetricComparison struct {
	MetricType string `json:"metric_type"`
	Expected   int    `json:"expected"`
	Stored     int    `json:"stored"`
	Missing    int    `json:"missing"`
}

// DebugReport is the body of GET /debug/garmin.
type DebugReport struct {
	UserID        string             `json:"user_id"`
	Days          int                `json:"days"`
	Since         time.Time          `json:"since"`
	Connection    *ConnectionInfo    `json:"connection"`
	StoredMetrics []MetricSummary    `json:"stored_metrics"`
	RawEvents     []RawEventRef      `json:"raw_events"`
	Comparison    []MetricComparison `json:"comparison"`
	Warnings      []string           `json:"warnings,omitempty"`
}
