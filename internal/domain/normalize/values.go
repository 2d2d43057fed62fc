package normalize

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

const calendarDateLayout = "2006-01-02"

// number coerces JSON numbers and numeric strings. Non-finite values are rejected.
func number(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// positiveMean averages the strictly positive values of an offset->value map.
func positiveMean(v any) (float64, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return 0, false
	}
	var sum float64
	var n int
	for _, raw := range m {
		f, ok := number(raw)
		if !ok || f <= 0 {
			continue
		}
		sum += f
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// timestamp prefers epoch seconds and falls back to a calendar date at
// midnight UTC.
func timestamp(data map[string]any) (time.Time, bool) {
	if sec, ok := number(data["startTimeInSeconds"]); ok {
		return time.Unix(int64(sec), 0).UTC(), true
	}
	if s, ok := data["calendarDate"].(string); ok {
		if t, err := time.ParseInLocation(calendarDateLayout, strings.TrimSpace(s), time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// accountID reads userId, accepting numeric ids as well.
func accountID(data map[string]any) string {
	switch v := data["userId"].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}
