package scoring

// Recovery component maxima.
const (
	RecoveryHRVMax       = 30
	RecoverySleepMax     = 25
	RecoveryRHRMax       = 20
	RecoveryStressMax    = 15
	RecoveryDeepSleepMax = 10
)

// RecoveryStatus buckets a recovery score.
type RecoveryStatus string

// Recovery statuses.
const (
	RecoveryExcellent RecoveryStatus = "excellent"
	RecoveryGood      RecoveryStatus = "good"
	RecoveryFair      RecoveryStatus = "fair"
	RecoveryPoor      RecoveryStatus = "poor"
)

// tier awards points when a value passes its bound.
type tier struct {
	bound  float64
	points int
}

// Higher-is-better tiers are checked with >=, lower-is-better with <=.
var (
	hrvTiers       = []tier{{70, 30}, {50, 24}, {35, 16}, {20, 8}}
	sleepHourTiers = []tier{{8, 25}, {7, 20}, {6, 12}, {5, 6}}
	rhrTiers       = []tier{{50, 20}, {60, 16}, {70, 10}, {80, 5}}
	stressTiers    = []tier{{25, 15}, {40, 10}, {60, 5}}
	deepSleepTiers = []tier{{20, 10}, {15, 6}, {10, 3}}
)

func atLeast(v float64, tiers []tier) int {
	for _, t := range tiers {
		if v >= t.bound {
			return t.points
		}
	}
	return 0
}

func atMost(v float64, tiers []tier) int {
	for _, t := range tiers {
		if v <= t.bound {
			return t.points
		}
	}
	return 0
}

// RecoveryInputs are absolute 7-day levels. nil means no data.
type RecoveryInputs struct {
	HRV          *float64 `json:"hrv_rmssd"`
	SleepHours   *float64 `json:"sleep_hours"`
	RestingHR    *float64 `json:"resting_heart_rate"`
	Stress       *float64 `json:"stress_avg"`
	DeepSleepPct *float64 `json:"deep_sleep_pct"`
}

// RecoveryComponent is one sub-score. Points is nil when the input is missing.
type RecoveryComponent struct {
	Name   string   `json:"name"`
	Value  *float64 `json:"value"`
	Points *int     `json:"points"`
	Max    int      `json:"max"`
}

// RecoveryBreakdown is the additive score and its parts. Missing components
// are excluded from Score and from MaxPossible.
type RecoveryBreakdown struct {
	Score       int                 `json:"score"`
	MaxPossible int                 `json:"max_possible"`
	Status      RecoveryStatus      `json:"status"`
	Components  []RecoveryComponent `json:"components"`
	Available   int                 `json:"available"`
}

// RecoveryScore sums the tiered sub-scores of the available inputs.
func RecoveryScore(in RecoveryInputs) RecoveryBreakdown {
	var b RecoveryBreakdown
	add := func(name string, v *float64, maxPts int, score func(float64) int) {
		c := RecoveryComponent{Name: name, Value: v, Max: maxPts}
		if v != nil {
			p := score(*v)
			c.Points = &p
			b.Score += p
			b.MaxPossible += maxPts
			b.Available++
		}
		b.Components = append(b.Components, c)
	}
	add("hrv", in.HRV, RecoveryHRVMax, func(v float64) int { return atLeast(v, hrvTiers) })
	add("sleep_duration", in.SleepHours, RecoverySleepMax, func(v float64) int { return atLeast(v, sleepHourTiers) })
	add("resting_heart_rate", in.RestingHR, RecoveryRHRMax, func(v float64) int { return atMost(v, rhrTiers) })
	add("stress", in.Stress, RecoveryStressMax, func(v float64) int { return atMost(v, stressTiers) })
	add("deep_sleep", in.DeepSleepPct, RecoveryDeepSleepMax, func(v float64) int { return atLeast(v, deepSleepTiers) })
	b.Status = recoveryStatus(b.Score)
	return b
}

func recoveryStatus(score int) RecoveryStatus {
	switch {
	case score >= 80:
		return RecoveryExcellent
	case score >= 65:
		return RecoveryGood
	case score >= 45:
		return RecoveryFair
	default:
		return RecoveryPoor
	}
}
