package scoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/wellness/internal/domain/model"
	"github.com/okian/wellness/pkg/logger"
	"github.com/okian/wellness/pkg/metrics"
)

const (
	windowDays         = 7
	defaultReadTimeout = 5 * time.Second
	secondsPerHour     = 3600.0
)

// Reader is the read side of the connection and metric stores.
type Reader interface {
	// ConnectionForUser wraps model.ErrNotFound when the user has no device.
	ConnectionForUser(ctx context.Context, userID string, device model.DeviceType) (model.Connection, error)
	Observations(ctx context.Context, connectionID string, metricTypes []string, from, to time.Time) ([]model.Observation, error)
}

// Option configures a Calculator.
type Option func(*Calculator)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Calculator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithReadTimeout bounds each store read.
func WithReadTimeout(d time.Duration) Option {
	return func(c *Calculator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Calculator) {
		if l != nil {
			c.log = l
		}
	}
}

// Calculator computes assessments for a user from stored observations.
type Calculator struct {
	reader  Reader
	now     func() time.Time
	timeout time.Duration
	log     logger.Logger
}

// NewCalculator creates a Calculator.
func NewCalculator(reader Reader, opts ...Option) *Calculator {
	c := &Calculator{
		reader:  reader,
		now:     time.Now,
		timeout: defaultReadTimeout,
		log:     logger.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BurnoutAssessment is the result of Calculator.Burnout.
type BurnoutAssessment struct {
	UserID  string        `json:"user_id"`
	Status  Status        `json:"status"`
	Message string        `json:"message,omitempty"`
	Score   *int          `json:"score,omitempty"`
	Level   RiskLevel     `json:"level,omitempty"`
	Inputs  BurnoutInputs `json:"inputs"`
	Summary string        `json:"summary,omitempty"`
}

// RecoveryAssessment is the result of Calculator.Recovery.
type RecoveryAssessment struct {
	UserID    string             `json:"user_id"`
	Status    Status             `json:"status"`
	Message   string             `json:"message,omitempty"`
	Inputs    RecoveryInputs     `json:"inputs"`
	Breakdown *RecoveryBreakdown `json:"breakdown,omitempty"`
}

// TrendReport is the result of Calculator.Trends and Calculator.WeeklyComparison.
type TrendReport struct {
	UserID    string  `json:"user_id"`
	Status    Status  `json:"status"`
	Message   string  `json:"message,omitempty"`
	Threshold float64 `json:"threshold_pct"`
	Trends    []Trend `json:"trends"`
}

// DefaultTrendMetrics are reported when the caller names none.
var DefaultTrendMetrics = []string{
	model.MetricHRV,
	model.MetricRestingHeartRate,
	model.MetricSteps,
	model.MetricStressAvg,
	model.MetricSleepTotal,
	DeepSleepPercentMetric,
}

var burnoutMetrics = []string{
	model.MetricHRV,
	model.MetricSleepDeep,
	model.MetricSleepTotal,
	model.MetricStressAvg,
	model.MetricStressScore,
	model.MetricRestingHeartRate,
	model.MetricSteps,
}

// load returns the observations of the user's connection inside w. ok is
// false when the user has no connection.
func (c *Calculator) load(ctx context.Context, userID string, metricTypes []string, w Window) (map[string][]model.Observation, bool, error) {
	rctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	conn, err := c.reader.ConnectionForUser(rctx, userID, model.DeviceGarmin)
	if errors.Is(err, model.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load connection for %s: %w", userID, err)
	}
	obs, err := c.reader.Observations(rctx, conn.ID, metricTypes, w.From, w.To)
	if err != nil {
		return nil, true, fmt.Errorf("load observations for %s: %w", userID, err)
	}
	return byMetric(obs), true, nil
}

// Burnout scores the last 7 days against the 7 before.
func (c *Calculator) Burnout(ctx context.Context, userID string) (BurnoutAssessment, error) {
	out := BurnoutAssessment{UserID: userID}
	recent := LastDays(c.now(), windowDays)
	prev := recent.Previous()

	groups, ok, err := c.load(ctx, userID, burnoutMetrics, Window{From: prev.From, To: recent.To})
	if err != nil {
		return out, err
	}
	if !ok {
		return c.finishBurnout(out, StatusNoDevice), nil
	}

	var in BurnoutInputs
	hrvR, okR := WindowAverage(groups[model.MetricHRV], recent)
	hrvP, okP := WindowAverage(groups[model.MetricHRV], prev)
	if okR && okP && hrvP > 0 {
		in.HRVDrop = ptr(Round1((hrvP - hrvR) / hrvP * 100))
	}
	if v, ok := DeepSleepPercent(groups[model.MetricSleepDeep], groups[model.MetricSleepTotal], recent); ok {
		in.DeepSleepPct = ptr(v)
	}
	if v, ok := stressAverage(groups, recent); ok {
		in.StressAvg = ptr(v)
	}
	rhrR, okR := WindowAverage(groups[model.MetricRestingHeartRate], recent)
	rhrP, okP := WindowAverage(groups[model.MetricRestingHeartRate], prev)
	if okR && okP {
		in.RHRChange = ptr(Round1(rhrR - rhrP))
	}
	stepsR, okR := WindowAverage(groups[model.MetricSteps], recent)
	stepsP, okP := WindowAverage(groups[model.MetricSteps], prev)
	if okR && okP {
		in.StepsTrend = StepsTrendFor(PercentChange(stepsR, stepsP))
	}
	out.Inputs = in

	anyRecent, anyPrev := coverage(groups, recent, prev)
	if !anyRecent {
		return c.finishBurnout(out, StatusNoData), nil
	}
	score, level := BurnoutScore(in)
	out.Score = &score
	out.Level = level
	out.Summary = BurnoutSummary(in, score, level)
	if !anyPrev {
		return c.finishBurnout(out, StatusInsufficientHistory), nil
	}
	return c.finishBurnout(out, StatusOK), nil
}

func (c *Calculator) finishBurnout(out BurnoutAssessment, s Status) BurnoutAssessment {
	out.Status = s
	out.Message = s.Message()
	metrics.RecordAssessment("burnout", string(s))
	return out
}

// Recovery scores absolute levels over the last 7 days.
func (c *Calculator) Recovery(ctx context.Context, userID string) (RecoveryAssessment, error) {
	out := RecoveryAssessment{UserID: userID}
	recent := LastDays(c.now(), windowDays)

	groups, ok, err := c.load(ctx, userID, burnoutMetrics, recent)
	if err != nil {
		return out, err
	}
	status := StatusNoDevice
	if ok {
		var in RecoveryInputs
		if v, ok := WindowAverage(groups[model.MetricHRV], recent); ok {
			in.HRV = ptr(v)
		}
		if v, ok := WindowAverage(groups[model.MetricSleepTotal], recent); ok {
			in.SleepHours = ptr(Round1(v / secondsPerHour))
		}
		if v, ok := WindowAverage(groups[model.MetricRestingHeartRate], recent); ok {
			in.RestingHR = ptr(v)
		}
		if v, ok := stressAverage(groups, recent); ok {
			in.Stress = ptr(v)
		}
		if v, ok := DeepSleepPercent(groups[model.MetricSleepDeep], groups[model.MetricSleepTotal], recent); ok {
			in.DeepSleepPct = ptr(v)
		}
		out.Inputs = in
		b := RecoveryScore(in)
		if b.Available == 0 {
			status = StatusNoData
		} else {
			status = StatusOK
			out.Breakdown = &b
		}
	}
	out.Status = status
	out.Message = status.Message()
	metrics.RecordAssessment("recovery", string(status))
	return out, nil
}

// Trends compares the last 7 days with the 7 before for each metric using
// TrendStableThreshold.
func (c *Calculator) Trends(ctx context.Context, userID string, metricTypes []string) (TrendReport, error) {
	if len(metricTypes) == 0 {
		metricTypes = DefaultTrendMetrics
	}
	return c.compare(ctx, "trends", userID, metricTypes, TrendStableThreshold)
}

// WeeklyComparison is the week-over-week view of the default metrics using
// WeeklyStableThreshold.
func (c *Calculator) WeeklyComparison(ctx context.Context, userID string) (TrendReport, error) {
	return c.compare(ctx, "weekly", userID, DefaultTrendMetrics, WeeklyStableThreshold)
}

func (c *Calculator) compare(ctx context.Context, kind, userID string, metricTypes []string, threshold float64) (TrendReport, error) {
	out := TrendReport{UserID: userID, Threshold: threshold}
	recent := LastDays(c.now(), windowDays)
	prev := recent.Previous()

	groups, ok, err := c.load(ctx, userID, storedMetrics(metricTypes), Window{From: prev.From, To: recent.To})
	if err != nil {
		return out, err
	}
	if !ok {
		out.Status = StatusNoDevice
	} else {
		var okCount, recentCount int
		for _, m := range metricTypes {
			t := metricTrend(groups, m, recent, prev, threshold)
			switch t.Status {
			case StatusOK:
				okCount++
				recentCount++
			case StatusInsufficientHistory:
				recentCount++
			}
			out.Trends = append(out.Trends, t)
		}
		switch {
		case recentCount == 0:
			out.Status = StatusNoData
		case okCount == 0:
			out.Status = StatusInsufficientHistory
		default:
			out.Status = StatusOK
		}
	}
	out.Message = out.Status.Message()
	metrics.RecordAssessment(kind, string(out.Status))
	return out, nil
}

func metricTrend(groups map[string][]model.Observation, metricType string, recent, prev Window, threshold float64) Trend {
	r, okR := metricValue(groups, metricType, recent)
	if !okR {
		return Trend{MetricType: metricType, Status: StatusNoData}
	}
	p, okP := metricValue(groups, metricType, prev)
	if !okP {
		return Trend{MetricType: metricType, Recent: ptr(r), Status: StatusInsufficientHistory}
	}
	t := ComputeTrend(r, p, threshold, PolarityOf(metricType))
	t.MetricType = metricType
	return t
}

func metricValue(groups map[string][]model.Observation, metricType string, w Window) (float64, bool) {
	if metricType == DeepSleepPercentMetric {
		return DeepSleepPercent(groups[model.MetricSleepDeep], groups[model.MetricSleepTotal], w)
	}
	return WindowAverage(groups[metricType], w)
}

// storedMetrics expands pseudo metrics into the stored metric types they need.
func storedMetrics(metricTypes []string) []string {
	out := make([]string, 0, len(metricTypes)+1)
	for _, m := range metricTypes {
		if m == DeepSleepPercentMetric {
			out = append(out, model.MetricSleepDeep, model.MetricSleepTotal)
			continue
		}
		out = append(out, m)
	}
	return out
}

// stressAverage prefers the daily summary average and falls back to the
// stress detail score.
func stressAverage(groups map[string][]model.Observation, w Window) (float64, bool) {
	if v, ok := WindowAverage(groups[model.MetricStressAvg], w); ok {
		return v, true
	}
	return WindowAverage(groups[model.MetricStressScore], w)
}

func coverage(groups map[string][]model.Observation, recent, prev Window) (anyRecent, anyPrev bool) {
	for _, obs := range groups {
		for _, o := range obs {
			if recent.Contains(o.Timestamp) {
				anyRecent = true
			}
			if prev.Contains(o.Timestamp) {
				anyPrev = true
			}
		}
	}
	return anyRecent, anyPrev
}
