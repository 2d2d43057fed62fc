// Package scoring derives trend, burnout and recovery assessments from
// stored metric observations. Calculations are pure; Calculator adds the
// store reads and the clock.
package scoring

import (
	"math"
	"time"

	"github.com/okian/wellness/internal/domain/model"
)

const day = 24 * time.Hour

// Window is the half-open interval [From, To).
type Window struct {
	From time.Time
	To   time.Time
}

// LastDays returns [now-days, now).
func LastDays(now time.Time, days int) Window {
	return Window{From: now.Add(-time.Duration(days) * day), To: now}
}

// Previous returns the window of equal length ending where w starts.
func (w Window) Previous() Window {
	return Window{From: w.From.Add(-w.To.Sub(w.From)), To: w.From}
}

// Contains reports whether t falls inside w.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.From) && t.Before(w.To)
}

// Round1 rounds to one decimal place.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// WindowAverage is the mean of obs inside w, rounded to one decimal. It
// reports false when no observation falls inside w.
func WindowAverage(obs []model.Observation, w Window) (float64, bool) {
	sum, n := windowSum(obs, w)
	if n == 0 {
		return 0, false
	}
	return Round1(sum / float64(n)), true
}

func windowSum(obs []model.Observation, w Window) (float64, int) {
	var sum float64
	var n int
	for _, o := range obs {
		if w.Contains(o.Timestamp) {
			sum += o.Value
			n++
		}
	}
	return sum, n
}

// DeepSleepPercent is sum(deep)/sum(total)*100 over w, rounded to one decimal.
func DeepSleepPercent(deep, total []model.Observation, w Window) (float64, bool) {
	d, dn := windowSum(deep, w)
	t, tn := windowSum(total, w)
	if dn == 0 || tn == 0 || t <= 0 {
		return 0, false
	}
	return Round1(d / t * 100), true
}

// byMetric groups observations by metric type.
func byMetric(obs []model.Observation) map[string][]model.Observation {
	out := make(map[string][]model.Observation)
	for _, o := range obs {
		out[o.MetricType] = append(out[o.MetricType], o)
	}
	return out
}

func ptr(v float64) *float64 { return &v }
