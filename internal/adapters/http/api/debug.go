package api

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/okian/wellness/internal/adapters/repository"
	"github.com/okian/wellness/internal/domain/model"
	"github.com/okian/wellness/internal/domain/types"
	"github.com/okian/wellness/pkg/logger"
)

const (
	defaultDebugDays = 7
	maxDebugDays     = 90
	debugPageSize    = 100
	maxDebugEvents   = 1000
)

// DebugHandler reports what is stored for a user next to what the raw
// payloads imply.
type DebugHandler struct {
	server *Server
}

func parseDays(v string) (int, error) {
	if v == "" {
		return defaultDebugDays, nil
	}
	d, err := strconv.Atoi(v)
	if err != nil || d < 1 {
		return 0, fmt.Errorf("days must be a positive integer, got %q", v)
	}
	if d > maxDebugDays {
		d = maxDebugDays
	}
	return d, nil
}

// HandleDebug handles GET /debug/garmin?userId=...&days=N.
func (h *DebugHandler) HandleDebug(w http.ResponseWriter, r *http.Request) {
	const op = "api.debug"
	if !requireMethod(w, r, op, http.MethodGet) {
		return
	}
	s := h.server
	ctx := r.Context()
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, errors.New("missing userId")))
		return
	}
	days, err := parseDays(r.URL.Query().Get("days"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	now := s.now().UTC()
	since := now.Add(-time.Duration(days) * 24 * time.Hour)
	report := types.DebugReport{UserID: userID, Days: days, Since: since}

	conn, err := s.deps.Debug.ConnectionForUser(ctx, userID, model.DeviceGarmin)
	if errors.Is(err, model.ErrNotFound) {
		report.Warnings = append(report.Warnings, "no device connected")
		writeJSON(w, http.StatusOK, report)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage_error", WrapKind(op, ErrStorage, err))
		return
	}
	report.Connection = &types.ConnectionInfo{
		ID:                conn.ID,
		UserID:            conn.UserID,
		ExternalAccountID: conn.ExternalAccountID,
		DeviceType:        string(conn.DeviceType),
		CreatedAt:         conn.CreatedAt,
	}

	if report.StoredMetrics, err = s.deps.Debug.Summaries(ctx, conn.ID, since, now.Add(time.Second)); err != nil {
		writeError(w, http.StatusInternalServerError, "storage_error", WrapKind(op, ErrStorage, err))
		return
	}

	expected, refs, truncated, err := h.expected(r, conn.ExternalAccountID, since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage_error", WrapKind(op, ErrStorage, err))
		return
	}
	report.RawEvents = refs
	if truncated {
		report.Warnings = append(report.Warnings, fmt.Sprintf("only the first %d raw events were inspected", maxDebugEvents))
	}

	if report.Comparison, err = h.compare(r, conn.ID, expected); err != nil {
		writeError(w, http.StatusInternalServerError, "storage_error", WrapKind(op, ErrStorage, err))
		return
	}
	s.log.Debug(ctx, "debug report built",
		logger.String("userID", userID),
		logger.Int("rawEvents", len(refs)),
		logger.Int("metricTypes", len(report.Comparison)))
	writeJSON(w, http.StatusOK, report)
}

// expected re-normalizes the raw events received since that mention the
// account and returns the implied observation keys per metric type.
func (h *DebugHandler) expected(r *http.Request, externalID string, since time.Time) (map[string]map[int64]bool, []types.RawEventRef, bool, error) {
	s := h.server
	ctx := r.Context()
	f := repository.RawEventFilter{From: &since, Contains: externalID}
	keys := make(map[string]map[int64]bool)
	refs := []types.RawEventRef{}

	var cur repository.Cursor
	seen := 0
	for seen < maxDebugEvents {
		page, err := s.deps.Debug.ListAfter(ctx, f, cur, debugPageSize)
		if err != nil {
			return nil, nil, false, err
		}
		if len(page) == 0 {
			return keys, refs, false, nil
		}
		for _, ev := range page {
			seen++
			res := s.deps.Normalizer.Normalize(ctx, ev.Payload).ForAccount(externalID)
			if len(res.Wrappers) == 0 {
				continue
			}
			cats := map[string]bool{}
			var catList []string
			for _, wr := range res.Wrappers {
				if !cats[wr.Category] {
					cats[wr.Category] = true
					catList = append(catList, wr.Category)
				}
			}
			sort.Strings(catList)
			refs = append(refs, types.RawEventRef{
				ID:           ev.ID,
				ReceivedAt:   ev.ReceivedAt,
				Categories:   catList,
				Observations: len(res.Observations),
			})
			for _, o := range res.Observations {
				if keys[o.MetricType] == nil {
					keys[o.MetricType] = make(map[int64]bool)
				}
				keys[o.MetricType][o.Timestamp.UTC().Unix()] = true
			}
		}
		cur = repository.CursorAfter(page[len(page)-1])
	}
	return keys, refs, true, nil
}

// compare counts how many expected keys are present in the metric store.
func (h *DebugHandler) compare(r *http.Request, connectionID string, expected map[string]map[int64]bool) ([]types.MetricComparison, error) {
	out := []types.MetricComparison{}
	if len(expected) == 0 {
		return out, nil
	}
	metricTypes := make([]string, 0, len(expected))
	var lo, hi int64
	first := true
	for mt, ts := range expected {
		metricTypes = append(metricTypes, mt)
		for t := range ts {
			if first || t < lo {
				lo = t
			}
			if first || t > hi {
				hi = t
			}
			first = false
		}
	}
	sort.Strings(metricTypes)

	stored, err := h.server.deps.Debug.Observations(r.Context(), connectionID, metricTypes,
		time.Unix(lo, 0).UTC(), time.Unix(hi+1, 0).UTC())
	if err != nil {
		return nil, err
	}
	have := make(map[string]map[int64]bool)
	for _, o := range stored {
		if have[o.MetricType] == nil {
			have[o.MetricType] = make(map[int64]bool)
		}
		have[o.MetricType][o.Key().Timestamp] = true
	}

	for _, mt := range metricTypes {
		c := types.MetricComparison{MetricType: mt, Expected: len(expected[mt])}
		for t := range expected[mt] {
			if have[mt][t] {
				c.Stored++
			}
		}
		c.Missing = c.Expected - c.Stored
		out = append(out, c)
	}
	return out, nil
}
