package normalize

import "sort"

// FieldSpec maps one vendor field to a canonical metric.
type FieldSpec struct {
	Vendor     string
	MetricType string
	Unit       string
}

// DerivedSpec computes a metric from several vendor fields. Compute reports
// false when the inputs are absent, in which case no observation is emitted.
type DerivedSpec struct {
	MetricType string
	Unit       string
	Compute    func(data map[string]any) (float64, bool)
}

// Category describes one telemetry array of the vendor payload.
type Category struct {
	// Name is the canonical category recorded on observations.
	Name string
	// PayloadKeys are the top-level array names that carry this category.
	PayloadKeys []string
	Fields      []FieldSpec
	Derived     []DerivedSpec
}

// Registry resolves payload array names to categories.
type Registry struct {
	categories []Category
	byKey      map[string]int
}

// NewRegistry builds a registry. Later categories win on duplicate payload keys.
func NewRegistry(categories ...Category) *Registry {
	r := &Registry{byKey: make(map[string]int)}
	for _, c := range categories {
		r.categories = append(r.categories, c)
		for _, k := range c.PayloadKeys {
			r.byKey[k] = len(r.categories) - 1
		}
	}
	return r
}

// Lookup returns the category for a payload key.
func (r *Registry) Lookup(payloadKey string) (Category, bool) {
	i, ok := r.byKey[payloadKey]
	if !ok {
		return Category{}, false
	}
	return r.categories[i], true
}

// PayloadKeys lists every recognised array name in a stable order.
func (r *Registry) PayloadKeys() []string {
	keys := make([]string, 0, len(r.byKey))
	for k := range r.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MetricTypes lists every metric the registry can emit, sorted and unique.
func (r *Registry) MetricTypes() []string {
	seen := make(map[string]struct{})
	for _, c := range r.categories {
		for _, f := range c.Fields {
			seen[f.MetricType] = struct{}{}
		}
		for _, d := range c.Derived {
			seen[d.MetricType] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for m := range seen {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Units.
const (
	UnitSteps        = "steps"
	UnitKcal         = "kcal"
	UnitFloors       = "floors"
	UnitMeters       = "meters"
	UnitSeconds      = "seconds"
	UnitBPM          = "bpm"
	UnitScore        = "score"
	UnitEpochSeconds = "epoch_seconds"
	UnitMillis       = "ms"
	UnitBreaths      = "breaths_per_minute"
)

// Garmin returns the registry for the Garmin Health push payload.
func Garmin() *Registry {
	return NewRegistry(
		Category{
			Name:        "dailies",
			PayloadKeys: []string{"dailies"},
			Fields: []FieldSpec{
				{"steps", "steps", UnitSteps},
				{"activeKilocalories", "active_calories", UnitKcal},
				{"bmrKilocalories", "bmr_calories", UnitKcal},
				{"floorsClimbed", "floors", UnitFloors},
				{"distanceInMeters", "distance", UnitMeters},
				{"durationInSeconds", "duration", UnitSeconds},
				{"activeTimeInSeconds", "active_time", UnitSeconds},
				{"maxHeartRateInBeatsPerMinute", "heart_rate_max", UnitBPM},
				{"averageHeartRateInBeatsPerMinute", "heart_rate_avg", UnitBPM},
				{"restingHeartRateInBeatsPerMinute", "heart_rate_resting", UnitBPM},
				{"minHeartRateInBeatsPerMinute", "heart_rate_min", UnitBPM},
				{"maxStressLevel", "stress_max", UnitScore},
				{"averageStressLevel", "stress_avg", UnitScore},
				{"stressDurationInSeconds", "stress_duration", UnitSeconds},
				{"lowStressDurationInSeconds", "stress_low_duration", UnitSeconds},
				{"mediumStressDurationInSeconds", "stress_medium_duration", UnitSeconds},
				{"highStressDurationInSeconds", "stress_high_duration", UnitSeconds},
				{"moderateIntensityDurationInSeconds", "intensity_moderate_duration", UnitSeconds},
				{"vigorousIntensityDurationInSeconds", "intensity_vigorous_duration", UnitSeconds},
			},
		},
		Category{
			Name:        "sleep",
			PayloadKeys: []string{"wellnessSleep", "sleeps"},
			Fields: []FieldSpec{
				{"durationInSeconds", "sleep_total_seconds", UnitSeconds},
				{"deepSleepDurationInSeconds", "sleep_deep_seconds", UnitSeconds},
				{"remSleepInSeconds", "sleep_rem_seconds", UnitSeconds},
				{"lightSleepDurationInSeconds", "sleep_light_seconds", UnitSeconds},
				{"awakeDurationInSeconds", "sleep_awake_seconds", UnitSeconds},
				{"startTimeInSeconds", "sleep_start_time", UnitEpochSeconds},
			},
			Derived: []DerivedSpec{
				{MetricType: "sleep_end_time", Unit: UnitEpochSeconds, Compute: sleepEnd},
			},
		},
		Category{
			Name:        "hrv",
			PayloadKeys: []string{"hrv"},
			Fields: []FieldSpec{
				{"lastNightAvg", "hrv_rmssd", UnitMillis},
			},
		},
		Category{
			Name:        "stress",
			PayloadKeys: []string{"stress", "stressDetails"},
			Fields: []FieldSpec{
				{"averageStressLevel", "stress_score", UnitScore},
			},
			Derived: []DerivedSpec{
				{MetricType: "stress_score", Unit: UnitScore, Compute: stressFromSamples},
			},
		},
		Category{
			Name:        "respirationEpoch",
			PayloadKeys: []string{"respirationEpoch"},
			Fields: []FieldSpec{
				{"respirationValue", "respiration_rate", UnitBreaths},
			},
		},
		Category{
			Name:        "allDayRespiration",
			PayloadKeys: []string{"allDayRespiration"},
			Derived: []DerivedSpec{
				{MetricType: "respiration_rate", Unit: UnitBreaths, Compute: allDayRespiration},
			},
		},
	)
}

func sleepEnd(data map[string]any) (float64, bool) {
	start, ok := number(data["startTimeInSeconds"])
	if !ok {
		return 0, false
	}
	dur, ok := number(data["durationInSeconds"])
	if !ok {
		return 0, false
	}
	return start + dur, true
}

// stressFromSamples only fills in when the summary value is absent.
func stressFromSamples(data map[string]any) (float64, bool) {
	if _, ok := number(data["averageStressLevel"]); ok {
		return 0, false
	}
	return positiveMean(data["timeOffsetStressLevelValues"])
}

func allDayRespiration(data map[string]any) (float64, bool) {
	return positiveMean(data["timeOffsetEpochToBreaths"])
}
