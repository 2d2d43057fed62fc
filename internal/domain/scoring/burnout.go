package scoring

import (
	"fmt"
	"strings"
)

// Burnout thresholds.
const (
	BurnoutHRVDropThreshold   = 15.0 // percent drop week over week
	BurnoutDeepSleepThreshold = 18.0 // percent of total sleep
	BurnoutStressThreshold    = 60.0
	BurnoutRHRRiseThreshold   = 3.0  // bpm week over week
	BurnoutStepsThreshold     = 10.0 // percent change week over week

	burnoutHRVPoints       = 3
	burnoutDeepSleepPoints = 2
	burnoutStressPoints    = 2
	burnoutRHRPoints       = 2
	burnoutStepsPoints     = 1

	burnoutHighAt     = 7
	burnoutModerateAt = 4
)

// RiskLevel buckets a burnout score.
type RiskLevel string

// Risk levels.
const (
	RiskLow      RiskLevel = "low"
	RiskModerate RiskLevel = "moderate"
	RiskHigh     RiskLevel = "high"
)

// BurnoutInputs are the five contributing sub-metrics. nil means no data.
type BurnoutInputs struct {
	// HRVDrop is the percent drop of the 7-day HRV average vs the prior 7 days.
	HRVDrop *float64 `json:"hrv_drop_pct"`
	// DeepSleepPct is deep / total sleep over the last 7 days.
	DeepSleepPct *float64 `json:"deep_sleep_pct"`
	// StressAvg is the 7-day stress average.
	StressAvg *float64 `json:"stress_avg"`
	// RHRChange is the rise of the 7-day resting heart rate average in bpm.
	RHRChange *float64 `json:"rhr_change_bpm"`
	// StepsTrend is increasing, decreasing or stable; empty means no data.
	StepsTrend Direction `json:"steps_trend,omitempty"`
}

// StepsTrendFor classifies a percent change in daily steps.
func StepsTrendFor(pct float64) Direction {
	switch {
	case pct < -BurnoutStepsThreshold:
		return DirectionDecreasing
	case pct > BurnoutStepsThreshold:
		return DirectionIncreasing
	default:
		return DirectionStable
	}
}

// BurnoutScore adds up the crossed thresholds into a 0-10 score.
func BurnoutScore(in BurnoutInputs) (int, RiskLevel) {
	score := 0
	if in.HRVDrop != nil && *in.HRVDrop > BurnoutHRVDropThreshold {
		score += burnoutHRVPoints
	}
	if in.DeepSleepPct != nil && *in.DeepSleepPct < BurnoutDeepSleepThreshold {
		score += burnoutDeepSleepPoints
	}
	if in.StressAvg != nil && *in.StressAvg > BurnoutStressThreshold {
		score += burnoutStressPoints
	}
	if in.RHRChange != nil && *in.RHRChange > BurnoutRHRRiseThreshold {
		score += burnoutRHRPoints
	}
	if in.StepsTrend == DirectionDecreasing {
		score += burnoutStepsPoints
	}
	return score, riskLevel(score)
}

func riskLevel(score int) RiskLevel {
	switch {
	case score >= burnoutHighAt:
		return RiskHigh
	case score >= burnoutModerateAt:
		return RiskModerate
	default:
		return RiskLow
	}
}

// BurnoutSummary describes which thresholds were crossed and which inputs were missing.
func BurnoutSummary(in BurnoutInputs, score int, level RiskLevel) string {
	var signs, missing []string

	if in.HRVDrop == nil {
		missing = append(missing, "HRV")
	} else if *in.HRVDrop > BurnoutHRVDropThreshold {
		signs = append(signs, fmt.Sprintf("HRV dropped %.1f%% week over week", *in.HRVDrop))
	}
	if in.DeepSleepPct == nil {
		missing = append(missing, "deep sleep")
	} else if *in.DeepSleepPct < BurnoutDeepSleepThreshold {
		signs = append(signs, fmt.Sprintf("deep sleep was only %.1f%% of total sleep", *in.DeepSleepPct))
	}
	if in.StressAvg == nil {
		missing = append(missing, "stress")
	} else if *in.StressAvg > BurnoutStressThreshold {
		signs = append(signs, fmt.Sprintf("average stress was elevated at %.1f", *in.StressAvg))
	}
	if in.RHRChange == nil {
		missing = append(missing, "resting heart rate")
	} else if *in.RHRChange > BurnoutRHRRiseThreshold {
		signs = append(signs, fmt.Sprintf("resting heart rate rose %.1f bpm", *in.RHRChange))
	}
	if in.StepsTrend == "" {
		missing = append(missing, "steps")
	} else if in.StepsTrend == DirectionDecreasing {
		signs = append(signs, "daily steps are decreasing")
	}

	var b strings.Builder
	switch {
	case len(signs) == 0:
		b.WriteString("No burnout warning signs in the last 7 days")
	case level == RiskHigh:
		fmt.Fprintf(&b, "High burnout risk (%d/10): %s", score, strings.Join(signs, "; "))
	case level == RiskModerate:
		fmt.Fprintf(&b, "Moderate burnout risk (%d/10): %s", score, strings.Join(signs, "; "))
	default:
		fmt.Fprintf(&b, "Low burnout risk (%d/10), but %s", score, strings.Join(signs, "; "))
	}
	b.WriteString(".")
	if len(missing) > 0 {
		fmt.Fprintf(&b, " Not enough data for: %s.", strings.Join(missing, ", "))
	}
	return b.String()
}
