// Package normalize flattens vendor push payloads into canonical metric
// observations. It is shared by live webhook ingestion and backfill.
package normalize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/okian/wellness/pkg/logger"
	"github.com/okian/wellness/pkg/metrics"
)

// Skip reasons, also used as metric labels.
const (
	ReasonMissingUserID    = "missing_user_id"
	ReasonMissingTimestamp = "missing_timestamp"
	ReasonNotObject        = "not_object"
)

// eventsKey is the envelope array whose elements are payload-shaped objects.
const eventsKey = "events"

// Observation is one normalized metric before connection resolution.
type Observation struct {
	ExternalAccountID string
	MetricType        string
	Value             float64
	Unit              string
	Timestamp         time.Time
	Category          string
}

// Wrapper is one element of a category array, tagged with its account.
type Wrapper struct {
	Category          string
	ExternalAccountID string
	Timestamp         time.Time
	Data              map[string]any
}

// Result is the outcome of normalizing one payload.
type Result struct {
	Observations []Observation
	Wrappers     []Wrapper
	Skipped      int
	Warnings     []string
}

// AccountIDs returns the distinct external account ids, sorted.
func (r Result) AccountIDs() []string {
	seen := make(map[string]struct{})
	for _, o := range r.Observations {
		seen[o.ExternalAccountID] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ForAccount filters the result down to a single external account.
func (r Result) ForAccount(externalID string) Result {
	out := Result{Skipped: r.Skipped, Warnings: r.Warnings}
	for _, w := range r.Wrappers {
		if w.ExternalAccountID == externalID {
			out.Wrappers = append(out.Wrappers, w)
		}
	}
	for _, o := range r.Observations {
		if o.ExternalAccountID == externalID {
			out.Observations = append(out.Observations, o)
		}
	}
	return out
}

// Normalizer maps payloads through a Registry.
type Normalizer struct {
	registry *Registry
	log      logger.Logger
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithRegistry replaces the Garmin registry.
func WithRegistry(r *Registry) Option {
	return func(n *Normalizer) {
		if r != nil {
			n.registry = r
		}
	}
}

// WithLogger sets the logger used for skipped wrappers.
func WithLogger(l logger.Logger) Option {
	return func(n *Normalizer) {
		if l != nil {
			n.log = l
		}
	}
}

// New returns a Normalizer over the Garmin registry.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{registry: Garmin(), log: logger.NewNop()}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Registry exposes the registry in use.
func (n *Normalizer) Registry() *Registry { return n.registry }

// Normalize never fails: unparseable input, unknown arrays and incomplete
// wrappers produce warnings instead of errors. payload may be raw JSON bytes,
// json.RawMessage or an already decoded map.
func (n *Normalizer) Normalize(ctx context.Context, payload any) Result {
	var res Result

	root, err := decode(payload)
	if err != nil {
		n.warn(ctx, &res, "payload is not a JSON object", logger.Error(err))
		return res
	}

	n.collect(ctx, root, &res)
	if events, ok := root[eventsKey].([]any); ok {
		for i, e := range events {
			obj, ok := e.(map[string]any)
			if !ok {
				res.Skipped++
				metrics.RecordWrapperSkipped(ReasonNotObject)
				n.warn(ctx, &res, "events element is not an object", logger.Int("index", i))
				continue
			}
			n.collect(ctx, obj, &res)
		}
	}
	return res
}

// collect walks the recognised category arrays of one object.
func (n *Normalizer) collect(ctx context.Context, obj map[string]any, res *Result) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		cat, ok := n.registry.Lookup(key)
		if !ok {
			continue
		}
		items, ok := obj[key].([]any)
		if !ok {
			n.warn(ctx, res, "category is not an array", logger.String("category", key))
			continue
		}
		for i, item := range items {
			data, ok := item.(map[string]any)
			if !ok {
				res.Skipped++
				metrics.RecordWrapperSkipped(ReasonNotObject)
				n.warn(ctx, res, "wrapper is not an object", logger.String("category", key), logger.Int("index", i))
				continue
			}
			id := accountID(data)
			if id == "" {
				res.Skipped++
				metrics.RecordWrapperSkipped(ReasonMissingUserID)
				n.warn(ctx, res, "wrapper has no userId, skipping", logger.String("category", key), logger.Int("index", i))
				continue
			}
			ts, ok := timestamp(data)
			if !ok {
				res.Skipped++
				metrics.RecordWrapperSkipped(ReasonMissingTimestamp)
				n.warn(ctx, res, "wrapper has no startTimeInSeconds or calendarDate",
					logger.String("category", key), logger.String("externalAccountID", id))
				continue
			}
			w := Wrapper{Category: cat.Name, ExternalAccountID: id, Timestamp: ts, Data: data}
			res.Wrappers = append(res.Wrappers, w)
			metrics.RecordWrapper(cat.Name)
			n.extract(cat, w, res)
		}
	}
}

func (n *Normalizer) extract(cat Category, w Wrapper, res *Result) {
	emit := func(metricType, unit string, v float64) {
		res.Observations = append(res.Observations, Observation{
			ExternalAccountID: w.ExternalAccountID,
			MetricType:        metricType,
			Value:             v,
			Unit:              unit,
			Timestamp:         w.Timestamp,
			Category:          cat.Name,
		})
	}
	for _, f := range cat.Fields {
		if v, ok := number(w.Data[f.Vendor]); ok {
			emit(f.MetricType, f.Unit, v)
		}
	}
	for _, d := range cat.Derived {
		if v, ok := d.Compute(w.Data); ok {
			emit(d.MetricType, d.Unit, v)
		}
	}
}

func (n *Normalizer) warn(ctx context.Context, res *Result, msg string, fields ...logger.Field) {
	n.log.Warn(ctx, msg, fields...)
	res.Warnings = append(res.Warnings, msg)
}

func decode(payload any) (map[string]any, error) {
	switch p := payload.(type) {
	case map[string]any:
		return p, nil
	case json.RawMessage:
		return decodeBytes(p)
	case []byte:
		return decodeBytes(p)
	case string:
		return decodeBytes([]byte(p))
	case nil:
		return nil, errors.New("nil payload")
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		return decodeBytes(b)
	}
}

func decodeBytes(b []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if out == nil {
		return nil, errors.New("payload is null")
	}
	return out, nil
}
