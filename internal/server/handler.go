// Package server exposes the relay over HTTP with echo.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"whatsapp-relay/internal/domain"
	"whatsapp-relay/internal/usecase"
	"whatsapp-relay/internal/webhook"
)

const (
	maxWebhookBody = 1 << 20

	defaultTranscriptLimit = 20
	maxTranscriptLimit     = 100
)

// Relay is the subset of usecase.Relay used by the admin routes.
type Relay interface {
	ClearConversation(senderID string)
	Conversation(senderID string) (domain.ConversationEntry, bool)
	SweepNow() usecase.SweepResult
}

// Dispatcher processes a parsed webhook batch.
type Dispatcher interface {
	Dispatch(ctx context.Context, msgs []domain.InboundMessage) webhook.DispatchReport
}

// TranscriptReader lists archived exchanges for one sender, oldest first.
type TranscriptReader interface {
	ListTranscripts(ctx context.Context, senderID string, limit int) ([]domain.TranscriptRecord, error)
}

// Handler serves the webhook, health and admin routes.
type Handler struct {
	relay      Relay
	dispatcher Dispatcher
	metrics    http.Handler
	archive    TranscriptReader
	adminToken string
	logger     *slog.Logger
	now        func() time.Time

	inflight sync.WaitGroup
}

type Option func(*Handler)

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithMetricsHandler mounts h on GET /metrics.
func WithMetricsHandler(m http.Handler) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithAdminToken enables the conversation and sweep routes behind a bearer
// token. Without it those routes are not mounted.
func WithAdminToken(token string) Option {
	return func(h *Handler) {
		h.adminToken = strings.TrimSpace(token)
	}
}

// WithTranscripts serves archived exchanges on the admin routes.
func WithTranscripts(r TranscriptReader) Option {
	return func(h *Handler) {
		h.archive = r
	}
}

func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

func NewHandler(relay Relay, dispatcher Dispatcher, opts ...Option) (*Handler, error) {
	if relay == nil {
		return nil, errors.New("server: relay must not be nil")
	}
	if dispatcher == nil {
		return nil, errors.New("server: dispatcher must not be nil")
	}
	h := &Handler{
		relay:      relay,
		dispatcher: dispatcher,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With(slog.String("component", "server"))
	return h, nil
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)

	e.POST("/webhook/whatsapp", h.InboundWebhook)
	e.POST("/webhook/delivery", h.DeliveryReport)
	e.POST("/webhook/seen", h.SeenReport)

	// Per-route middleware: an echo group with an empty prefix would put every
	// unmatched path behind the token check.
	if h.adminToken != "" {
		auth := h.adminAuth()
		e.GET("/conversations/:sender", h.GetConversation, auth)
		e.DELETE("/conversations/:sender", h.ClearConversation, auth)
		e.GET("/conversations/:sender/transcripts", h.ListTranscripts, auth)
		e.POST("/admin/sweep", h.Sweep, auth)
	}

	if h.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(h.metrics))
	}
}

func (h *Handler) adminAuth() echo.MiddlewareFunc {
	return middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		Validator: func(key string, _ echo.Context) (bool, error) {
			return ValidAdminToken(h.adminToken, key), nil
		},
		ErrorHandler: func(_ error, c echo.Context) error {
			return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "UNAUTHORIZED"})
		},
	})
}

// ValidAdminToken compares a presented token with the configured one in
// constant time. An empty configured token never matches.
func ValidAdminToken(want, got string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}

func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, NewHealthResponse(h.now()))
}

// InboundWebhook acknowledges immediately and processes the batch in the
// background. The provider retries anything but 200, so malformed bodies are
// acknowledged too.
func (h *Handler) InboundWebhook(c echo.Context) error {
	correlationID := CorrelationID(c)
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		h.logger.Warn("webhook body unreadable", slog.String("correlation_id", correlationID), slog.Any("err", err))
		return c.String(http.StatusOK, "OK")
	}
	msgs, err := webhook.Parse(body)
	if err != nil {
		h.logger.Warn("webhook body rejected", slog.String("correlation_id", correlationID), slog.Any("err", err))
		return c.String(http.StatusOK, "OK")
	}

	// The request context ends with the response; the batch must outlive it.
	ctx := context.WithoutCancel(c.Request().Context())
	h.inflight.Add(1)
	go func() {
		defer h.inflight.Done()
		report := h.dispatcher.Dispatch(ctx, msgs)
		h.logger.Info("webhook batch processed",
			slog.String("correlation_id", correlationID),
			slog.Int("received", report.Received),
			slog.Int("skipped", report.Skipped),
			slog.Int("replied", report.Replied),
			slog.Int("sent", report.Sent),
			slog.Int("send_failed", report.SendFailed),
		)
	}()
	return c.String(http.StatusOK, "OK")
}

func (h *Handler) DeliveryReport(c echo.Context) error {
	return h.logReport(c, "delivery report")
}

func (h *Handler) SeenReport(c echo.Context) error {
	return h.logReport(c, "seen report")
}

func (h *Handler) logReport(c echo.Context, kind string) error {
	body, _ := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	h.logger.Info(kind,
		slog.String("correlation_id", CorrelationID(c)),
		slog.String("body", string(body)),
	)
	return c.String(http.StatusOK, "OK")
}

func (h *Handler) GetConversation(c echo.Context) error {
	sender := strings.TrimSpace(c.Param("sender"))
	if sender == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "missing_sender"})
	}
	entry, ok := h.relay.Conversation(sender)
	if !ok {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "NOT_FOUND", Reason: "no_conversation"})
	}
	return c.JSON(http.StatusOK, NewConversationResponse(entry))
}

func (h *Handler) ClearConversation(c echo.Context) error {
	sender := strings.TrimSpace(c.Param("sender"))
	if sender == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "missing_sender"})
	}
	h.relay.ClearConversation(sender)
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListTranscripts(c echo.Context) error {
	if h.archive == nil {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "NOT_FOUND", Reason: "no_archive"})
	}
	sender := strings.TrimSpace(c.Param("sender"))
	if sender == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "missing_sender"})
	}
	limit, err := TranscriptLimit(c.QueryParam("limit"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_limit"})
	}
	recs, err := h.archive.ListTranscripts(c.Request().Context(), sender, limit)
	if err != nil {
		h.logger.Error("transcript lookup failed",
			slog.String("correlation_id", CorrelationID(c)),
			slog.String("sender", sender),
			slog.Any("err", err),
		)
		return c.JSON(http.StatusBadGateway, ErrorResponse{Error: "ARCHIVE_UNAVAILABLE"})
	}
	return c.JSON(http.StatusOK, NewTranscriptsResponse(sender, recs))
}

// TranscriptLimit parses the limit query value: blank means the default and
// values above the maximum are clamped.
func TranscriptLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultTranscriptLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	return min(n, maxTranscriptLimit), nil
}

func (h *Handler) Sweep(c echo.Context) error {
	res := h.relay.SweepNow()
	h.logger.Info("manual sweep",
		slog.String("correlation_id", CorrelationID(c)),
		slog.Int("conversations", res.Conversations),
		slog.Int("dedup_records", res.DedupRecords),
	)
	return c.JSON(http.StatusOK, NewSweepResponse(res))
}

// Wait blocks until every background webhook batch has finished or ctx ends.
func (h *Handler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
