package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"media-relay/internal/domain"
	"media-relay/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"
	maxFormBytes      = 64 << 10
	// emptyTwiML acknowledges the webhook without an inline reply; replies
	// are sent through the REST API instead.
	emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`
)

// MessageHandler advances a sender's conversation.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg domain.InboundMessage) error
}

type Handler struct {
	messages MessageHandler
	logger   *slog.Logger
	pending  func() int
}

type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithPendingJobs exposes the dispatcher queue depth on the health endpoint.
func WithPendingJobs(fn func() int) Option {
	return func(h *Handler) {
		h.pending = fn
	}
}

func NewHandler(messages MessageHandler, opts ...Option) (*Handler, error) {
	if messages == nil {
		return nil, errors.New("handler: message handler must not be nil")
	}
	h := &Handler{messages: messages, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Handle is the Lambda entry point for API Gateway webhook events. It always
// acknowledges with 200 so the provider does not retry.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := headerValue(event.Headers, correlationHeader)
	if corrID == "" {
		corrID = newCorrelationID()
	}

	body := event.Body
	if event.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			h.logger.Warn("webhook body is not valid base64", "correlation_id", corrID, "err", err)
			return twimlResponse(corrID), nil
		}
		body = string(decoded)
	}

	form, err := url.ParseQuery(body)
	if err != nil {
		h.logger.Warn("webhook body is not form encoded", "correlation_id", corrID, "err", err)
		return twimlResponse(corrID), nil
	}
	h.dispatch(ctx, corrID, form)
	return twimlResponse(corrID), nil
}

// Webhook serves POST /webhook for the standalone HTTP server.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	corrID := strings.TrimSpace(r.Header.Get(correlationHeader))
	if corrID == "" {
		corrID = middleware.GetReqID(r.Context())
	}
	if corrID == "" {
		corrID = newCorrelationID()
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		h.logger.Warn("failed to parse webhook form", "correlation_id", corrID, "err", err)
	} else {
		h.dispatch(r.Context(), corrID, r.PostForm)
	}

	w.Header().Set("Content-Type", "text/xml")
	w.Header().Set(correlationHeader, corrID)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(emptyTwiML))
}

type healthResponse struct {
	Status      string `json:"status"`
	PendingJobs *int   `json:"pendingJobs,omitempty"`
}

// Health serves GET /health.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok"}
	if h.pending != nil {
		n := h.pending()
		resp.PendingJobs = &n
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *Handler) dispatch(ctx context.Context, corrID string, form url.Values) {
	msg := domain.InboundMessage{
		From:       strings.TrimSpace(form.Get("From")),
		Body:       strings.TrimSpace(form.Get("Body")),
		MessageSID: form.Get("MessageSid"),
	}
	logger := h.logger.With("correlation_id", corrID, "sender", msg.From, "message_sid", msg.MessageSID)

	err := h.messages.HandleMessage(ctx, msg)
	if err == nil {
		return
	}
	var usecaseErr *usecase.Error
	if errors.As(err, &usecaseErr) && usecaseErr.Code == usecase.ErrorInvalidInput {
		logger.Warn("webhook message rejected", "reason", usecaseErr.Reason, "err", err)
		return
	}
	logger.Error("webhook message failed", "err", err)
}

func twimlResponse(corrID string) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusOK,
		Headers: map[string]string{
			"Content-Type":    "text/xml",
			correlationHeader: corrID,
		},
		Body: emptyTwiML,
	}
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

var newCorrelationID = func() string {
	return uuid.NewString()
}
