package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"whatsapp-relay/internal/server"
	"whatsapp-relay/internal/usecase"
	"whatsapp-relay/internal/webhook"
)

const (
	conversationsPrefix = "/conversations/"
	transcriptsSuffix   = "/transcripts"
	sweepPath           = "/admin/sweep"
	bearerScheme        = "Bearer"
)

type Handler struct {
	relay      server.Relay
	dispatcher server.Dispatcher
	archive    server.TranscriptReader
	adminToken string
	logger     *slog.Logger
	now        func() time.Time
}

type Option func(*Handler)

// WithAdminToken enables the conversation and sweep routes behind a bearer
// token. Without it they answer 404.
func WithAdminToken(token string) Option {
	return func(h *Handler) {
		h.adminToken = strings.TrimSpace(token)
	}
}

func WithTranscripts(r server.TranscriptReader) Option {
	return func(h *Handler) {
		h.archive = r
	}
}

func NewHandler(relay server.Relay, dispatcher server.Dispatcher, opts ...Option) (*Handler, error) {
	if relay == nil {
		return nil, errors.New("handler: relay must not be nil")
	}
	if dispatcher == nil {
		return nil, errors.New("handler: dispatcher must not be nil")
	}
	h := &Handler{
		relay:      relay,
		dispatcher: dispatcher,
		logger:     slog.Default().With(slog.String("component", "lambda")),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Handle routes an API Gateway proxy event. Unlike the long-running server,
// webhook batches are processed before returning because the execution
// environment is frozen once the response is sent.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(req.Headers, server.CorrelationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	log := h.logger.With(slog.String("correlation_id", correlationID))

	method := strings.ToUpper(req.HTTPMethod)
	path := strings.TrimRight(req.Path, "/")

	switch {
	case method == http.MethodGet && path == "/health":
		return jsonResponse(http.StatusOK, server.NewHealthResponse(h.now()), correlationID), nil

	case method == http.MethodPost && path == "/webhook/whatsapp":
		body, err := requestBody(req)
		if err != nil {
			log.WarnContext(ctx, "webhook body undecodable", slog.Any("err", err))
			return textResponse(http.StatusOK, "OK", correlationID), nil
		}
		msgs, err := webhook.Parse(body)
		if err != nil {
			log.WarnContext(ctx, "webhook body rejected", slog.Any("err", err))
			return textResponse(http.StatusOK, "OK", correlationID), nil
		}
		report := h.dispatcher.Dispatch(ctx, msgs)
		log.InfoContext(ctx, "webhook batch processed",
			slog.Int("received", report.Received),
			slog.Int("replied", report.Replied),
			slog.Int("send_failed", report.SendFailed),
		)
		return textResponse(http.StatusOK, "OK", correlationID), nil

	case method == http.MethodPost && (path == "/webhook/delivery" || path == "/webhook/seen"):
		log.InfoContext(ctx, "provider report", slog.String("path", path), slog.String("body", req.Body))
		return textResponse(http.StatusOK, "OK", correlationID), nil

	case path == sweepPath || strings.HasPrefix(path, conversationsPrefix):
		if h.adminToken == "" {
			return errorResponse(http.StatusNotFound, "NOT_FOUND", path, correlationID), nil
		}
		if !server.ValidAdminToken(h.adminToken, bearerToken(req.Headers)) {
			log.WarnContext(ctx, "admin request rejected", slog.String("path", path))
			return errorResponse(http.StatusUnauthorized, "UNAUTHORIZED", "", correlationID), nil
		}
		return h.admin(ctx, log, method, path, req, correlationID), nil
	}

	return errorResponse(http.StatusNotFound, "NOT_FOUND", path, correlationID), nil
}

func (h *Handler) admin(ctx context.Context, log *slog.Logger, method, path string, req events.APIGatewayProxyRequest, correlationID string) events.APIGatewayProxyResponse {
	if path == sweepPath {
		if method != http.MethodPost {
			return errorResponse(http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", method, correlationID)
		}
		return jsonResponse(http.StatusOK, server.NewSweepResponse(h.relay.SweepNow()), correlationID)
	}

	rest, transcripts := strings.CutSuffix(strings.TrimPrefix(path, conversationsPrefix), transcriptsSuffix)
	sender := senderParam(req, rest)
	if sender == "" {
		return errorResponse(http.StatusBadRequest, string(usecase.ErrorInvalidInput), "missing_sender", correlationID)
	}

	if transcripts {
		if method != http.MethodGet {
			return errorResponse(http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", method, correlationID)
		}
		if h.archive == nil {
			return errorResponse(http.StatusNotFound, "NOT_FOUND", "no_archive", correlationID)
		}
		limit, err := server.TranscriptLimit(req.QueryStringParameters["limit"])
		if err != nil {
			return errorResponse(http.StatusBadRequest, string(usecase.ErrorInvalidInput), "invalid_limit", correlationID)
		}
		recs, err := h.archive.ListTranscripts(ctx, sender, limit)
		if err != nil {
			log.ErrorContext(ctx, "transcript lookup failed", slog.String("sender", sender), slog.Any("err", err))
			return errorResponse(http.StatusBadGateway, "ARCHIVE_UNAVAILABLE", "", correlationID)
		}
		return jsonResponse(http.StatusOK, server.NewTranscriptsResponse(sender, recs), correlationID)
	}

	switch method {
	case http.MethodGet:
		entry, ok := h.relay.Conversation(sender)
		if !ok {
			return errorResponse(http.StatusNotFound, "NOT_FOUND", "no_conversation", correlationID)
		}
		return jsonResponse(http.StatusOK, server.NewConversationResponse(entry), correlationID)
	case http.MethodDelete:
		h.relay.ClearConversation(sender)
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusNoContent,
			Headers:    map[string]string{server.CorrelationHeader: correlationID},
		}
	}
	return errorResponse(http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", method, correlationID)
}

// senderParam prefers the API Gateway path parameter and falls back to the
// single path segment after /conversations/.
func senderParam(req events.APIGatewayProxyRequest, rest string) string {
	if v := strings.TrimSpace(req.PathParameters["sender"]); v != "" {
		return v
	}
	if strings.Contains(rest, "/") {
		return ""
	}
	return strings.TrimSpace(rest)
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header; the scheme matches case-insensitively.
func bearerToken(headers map[string]string) string {
	auth := headerValue(headers, "Authorization")
	scheme, token, ok := strings.Cut(auth, " ")
	if !ok || !strings.EqualFold(scheme, bearerScheme) {
		return ""
	}
	return strings.TrimSpace(token)
}

func requestBody(req events.APIGatewayProxyRequest) ([]byte, error) {
	if !req.IsBase64Encoded {
		return []byte(req.Body), nil
	}
	return base64.StdEncoding.DecodeString(req.Body)
}

// headerValue looks a header up case-insensitively; API Gateway preserves the
// client's casing.
func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func textResponse(status int, body, correlationID string) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":           "text/plain; charset=utf-8",
			server.CorrelationHeader: correlationID,
		},
		Body: body,
	}
}

func jsonResponse(status int, v any, correlationID string) events.APIGatewayProxyResponse {
	b, err := json.Marshal(v)
	if err != nil {
		return errorResponse(http.StatusInternalServerError, "INTERNAL", "marshal_error", correlationID)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":           "application/json",
			server.CorrelationHeader: correlationID,
		},
		Body: string(b),
	}
}

func errorResponse(status int, code, reason, correlationID string) events.APIGatewayProxyResponse {
	b, _ := json.Marshal(server.ErrorResponse{Error: code, Reason: reason})
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":           "application/json",
			server.CorrelationHeader: correlationID,
		},
		Body: string(b),
	}
}
