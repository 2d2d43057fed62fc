package api

import (
	"errors"
	"net/http"
	"strings"
)

// InsightsHandler serves the derived assessments.
type InsightsHandler struct {
	server *Server
}

// HandleInsight handles GET /insights/{burnout|recovery|trends|weekly}?userId=...
// Trends also accepts metrics=a,b to pick metric types.
func (h *InsightsHandler) HandleInsight(w http.ResponseWriter, r *http.Request) {
	const op = "api.insights"
	if !requireMethod(w, r, op, http.MethodGet) {
		return
	}
	kind := strings.TrimPrefix(r.URL.Path, "/insights/")
	if kind == "" || strings.Contains(kind, "/") {
		writeError(w, http.StatusNotFound, "not_found", NewKind(op, ErrUnknownInsight))
		return
	}
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, errors.New("missing userId")))
		return
	}

	ins := h.server.deps.Insights
	ctx := r.Context()
	var (
		out any
		err error
	)
	switch kind {
	case "burnout":
		out, err = ins.Burnout(ctx, userID)
	case "recovery":
		out, err = ins.Recovery(ctx, userID)
	case "trends":
		out, err = ins.Trends(ctx, userID, splitList(r.URL.Query().Get("metrics")))
	case "weekly":
		out, err = ins.WeeklyComparison(ctx, userID)
	default:
		writeError(w, http.StatusNotFound, "not_found", NewKind(op, ErrUnknownInsight))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage_error", WrapKind(op, ErrStorage, err))
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
