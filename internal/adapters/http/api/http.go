// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/okian/wellness/internal/adapters/repository"
	"github.com/okian/wellness/internal/domain/model"
	"github.com/okian/wellness/internal/domain/normalize"
	"github.com/okian/wellness/internal/domain/pipeline"
	"github.com/okian/wellness/internal/domain/scoring"
	"github.com/okian/wellness/internal/domain/signature"
	"github.com/okian/wellness/internal/domain/types"
	"github.com/okian/wellness/pkg/logger"
)

const (
	defaultMaxBodyBytes   = 5 << 20
	defaultProcessTimeout = 30 * time.Second
)

// Processor runs the ingestion pipeline for one payload.
type Processor interface {
	Process(ctx context.Context, payload any, opts ...pipeline.RunOption) (pipeline.Summary, error)
}

// Insights computes the derived assessments.
type Insights interface {
	Burnout(ctx context.Context, userID string) (scoring.BurnoutAssessment, error)
	Recovery(ctx context.Context, userID string) (scoring.RecoveryAssessment, error)
	Trends(ctx context.Context, userID string, metricTypes []string) (scoring.TrendReport, error)
	WeeklyComparison(ctx context.Context, userID string) (scoring.TrendReport, error)
}

// DebugStore is the read side the debug endpoint inspects.
type DebugStore interface {
	ConnectionForUser(ctx context.Context, userID string, device model.DeviceType) (model.Connection, error)
	Summaries(ctx context.Context, connectionID string, from, to time.Time) ([]types.MetricSummary, error)
	Observations(ctx context.Context, connectionID string, metricTypes []string, from, to time.Time) ([]model.Observation, error)
	ListAfter(ctx context.Context, f repository.RawEventFilter, after repository.Cursor, limit int) ([]model.RawEvent, error)
}

// Dependencies required by HTTP handlers.
type Dependencies struct {
	RawEvents  repository.RawEventStore
	Processor  Processor
	Verifier   *signature.Verifier
	Insights   Insights
	Debug      DebugStore
	// Normalizer re-derives observations for the debug comparison.
	Normalizer Normalizer
	Stats      StatsProvider
}

// Normalizer maps a raw payload to observations.
type Normalizer interface {
	Normalize(ctx context.Context, payload any) normalize.Result
}

// Option configures the Server.
type Option func(*Server)

// WithMaxBodyBytes caps webhook bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBodyBytes = n
		}
	}
}

// WithPublicBaseURL sets the externally visible scheme://host used for signatures.
func WithPublicBaseURL(u string) Option {
	return func(s *Server) { s.publicBaseURL = u }
}

// WithRateLimit enables the per-client webhook limiter. rps <= 0 disables it.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) {
		if rps > 0 {
			s.limiter = newClientLimiter(rps, burst)
		}
	}
}

// WithProcessTimeout bounds pipeline work after the raw payload is stored.
func WithProcessTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.processTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock overrides time.Now for the debug window.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// Server wires HTTP routes for the business API.
type Server struct {
	deps Dependencies

	maxBodyBytes   int64
	publicBaseURL  string
	processTimeout time.Duration
	limiter        *clientLimiter
	now            func() time.Time
	log            logger.Logger

	healthHandler   *HealthHandler
	statsHandler    *StatsHandler
	webhookHandler  *WebhookHandler
	debugHandler    *DebugHandler
	insightsHandler *InsightsHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...Option) *Server {
	s := &Server{
		deps:           deps,
		maxBodyBytes:   defaultMaxBodyBytes,
		processTimeout: defaultProcessTimeout,
		now:            time.Now,
		log:            logger.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.healthHandler = NewHealthHandler()
	s.statsHandler = NewStatsHandler(deps.Stats)
	s.webhookHandler = &WebhookHandler{server: s}
	s.debugHandler = &DebugHandler{server: s}
	s.insightsHandler = &InsightsHandler{server: s}
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/webhooks/garmin", MetricsMiddleware(s.webhookHandler.HandleWebhook, "webhook"))
	mux.HandleFunc("/api/garmin/webhook", MetricsMiddleware(s.webhookHandler.HandleWebhook, "webhook"))
	mux.HandleFunc("/debug/garmin", MetricsMiddleware(s.debugHandler.HandleDebug, "debug"))
	mux.HandleFunc("/insights/", MetricsMiddleware(s.insightsHandler.HandleInsight, "insights"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// requireMethod answers 405 with an Allow header when r does not use method.
func requireMethod(w http.ResponseWriter, r *http.Request, op, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", NewKind(op, ErrMethodNotAllowed))
	return false
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
