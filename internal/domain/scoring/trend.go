package scoring

import "math"

// Stable thresholds in percent. Each caller picks its own.
const (
	TrendStableThreshold  = 5.0
	WeeklyStableThreshold = 2.0
)

// Direction is the raw movement of a metric.
type Direction string

// Directions.
const (
	DirectionIncreasing Direction = "increasing"
	DirectionDecreasing Direction = "decreasing"
	DirectionStable     Direction = "stable"
)

// Assessment interprets a Direction for a given metric.
type Assessment string

// Assessments.
const (
	AssessmentImproving Assessment = "improving"
	AssessmentDeclining Assessment = "declining"
	AssessmentStable    Assessment = "stable"
)

// Polarity says whether a higher value is good.
type Polarity int

// Polarities.
const (
	HigherIsBetter Polarity = iota
	HigherIsWorse
)

// DeepSleepPercentMetric is the pseudo metric computed from deep and total sleep.
const DeepSleepPercentMetric = "deep_sleep_pct"

// PolarityOf returns the polarity of a metric type. Unknown metrics are
// treated as higher-is-better.
func PolarityOf(metricType string) Polarity {
	switch metricType {
	case "heart_rate_resting", "stress_avg", "stress_score", "stress_max":
		return HigherIsWorse
	default:
		return HigherIsBetter
	}
}

// Trend compares a recent window average against the previous one.
type Trend struct {
	MetricType    string     `json:"metric_type"`
	Recent        *float64   `json:"recent"`
	Previous      *float64   `json:"previous"`
	PercentChange float64    `json:"percent_change"`
	Direction     Direction  `json:"direction"`
	Assessment    Assessment `json:"assessment"`
	Status        Status     `json:"status"`
}

// PercentChange is (recent-previous)/previous*100, or 0 when previous is not positive.
func PercentChange(recent, previous float64) float64 {
	if previous <= 0 {
		return 0
	}
	return (recent - previous) / previous * 100
}

// ComputeTrend classifies the change between two averages. |change| <= threshold is stable.
func ComputeTrend(recent, previous, threshold float64, polarity Polarity) Trend {
	pct := PercentChange(recent, previous)
	t := Trend{
		Recent:        ptr(recent),
		Previous:      ptr(previous),
		PercentChange: Round1(pct),
		Direction:     DirectionStable,
		Assessment:    AssessmentStable,
		Status:        StatusOK,
	}
	if math.Abs(pct) <= threshold {
		return t
	}
	up := pct > 0
	if up {
		t.Direction = DirectionIncreasing
	} else {
		t.Direction = DirectionDecreasing
	}
	if up == (polarity == HigherIsBetter) {
		t.Assessment = AssessmentImproving
	} else {
		t.Assessment = AssessmentDeclining
	}
	return t
}
