package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/okian/wellness/internal/domain/pipeline"
	"github.com/okian/wellness/internal/domain/signature"
	"github.com/okian/wellness/pkg/logger"
	"github.com/okian/wellness/pkg/metrics"
	"github.com/okian/wellness/pkg/tracing"
)

// Signature outcome labels.
const (
	signatureValid    = "valid"
	signatureInvalid  = "invalid"
	signatureDisabled = "disabled"
)

// WebhookHandler accepts vendor push notifications.
type WebhookHandler struct {
	server *Server
}

// HandleWebhook handles POST /webhooks/garmin.
//
// The body is verified, stored verbatim and then processed. Once the raw
// event is stored the response is 200 even when metrics are dropped or fail.
func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	const op = "api.webhook"
	if !requireMethod(w, r, op, http.MethodPost) {
		return
	}
	s := h.server
	ctx, span := tracing.Tracer("api").Start(r.Context(), "webhook.garmin")
	defer span.End()

	if s.limiter != nil && !s.limiter.Allow(clientKey(r)) {
		metrics.RecordRateLimited()
		writeError(w, http.StatusTooManyRequests, "rate_limited", NewKind(op, ErrRateLimited))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", WrapKind(op, ErrPayloadTooLarge, err))
			return
		}
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	if err := h.verify(r); err != nil {
		span.SetStatus(codes.Error, "signature rejected")
		s.log.Warn(ctx, "webhook signature rejected",
			logger.String("remote", clientKey(r)), logger.Error(err))
		writeError(w, http.StatusUnauthorized, "unauthorized", WrapKind(op, ErrUnauthorized, err))
		return
	}

	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "invalid_json", NewKind(op, ErrBadRequest))
		return
	}

	ev, err := s.deps.RawEvents.Append(ctx, body)
	if err != nil {
		metrics.RecordRawEventFailed()
		span.SetStatus(codes.Error, err.Error())
		s.log.Error(ctx, "raw event append failed", logger.Error(err))
		writeError(w, http.StatusInternalServerError, "storage_error", WrapKind(op, ErrStorage, err))
		return
	}
	metrics.RecordRawEventStored()
	span.SetAttributes(attribute.String("raw_event_id", ev.ID))

	// The vendor may hang up once it has sent the body; finish the work anyway.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.processTimeout)
	defer cancel()
	sum, err := s.deps.Processor.Process(pctx, json.RawMessage(body))
	if err != nil {
		s.log.Error(ctx, "webhook processing interrupted",
			logger.String("rawEventID", ev.ID), logger.Error(err))
	}
	logSummary(ctx, s.log, ev.ID, sum)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *WebhookHandler) verify(r *http.Request) error {
	v := h.server.deps.Verifier
	if !v.Enabled() {
		metrics.RecordSignatureOutcome(signatureDisabled)
		return nil
	}
	err := v.Verify(signature.Request{
		Method:        r.Method,
		URL:           requestURL(r),
		Authorization: r.Header.Get("Authorization"),
		PublicBaseURL: h.server.publicBaseURL,
	})
	if err != nil {
		metrics.RecordSignatureOutcome(signatureInvalid)
		return err
	}
	metrics.RecordSignatureOutcome(signatureValid)
	return nil
}

// requestURL rebuilds the absolute URL the client addressed.
func requestURL(r *http.Request) *url.URL {
	u := *r.URL
	u.Host = r.Host
	switch {
	case r.Header.Get("X-Forwarded-Proto") != "":
		u.Scheme = r.Header.Get("X-Forwarded-Proto")
	case r.TLS != nil:
		u.Scheme = "https"
	default:
		u.Scheme = "http"
	}
	return &u
}

func logSummary(ctx context.Context, log logger.Logger, rawEventID string, sum pipeline.Summary) {
	fields := []logger.Field{
		logger.String("rawEventID", rawEventID),
		logger.Int("wrappers", sum.Wrappers),
		logger.Int("skippedWrappers", sum.SkippedWrappers),
		logger.Int("extracted", sum.Extracted),
		logger.Int("unresolved", sum.Unresolved),
		logger.Int("succeeded", sum.Succeeded),
		logger.Int("failed", sum.Failed),
	}
	if sum.Failed > 0 {
		log.Warn(ctx, "webhook processed with failures", fields...)
		return
	}
	log.Info(ctx, "webhook processed", fields...)
}
