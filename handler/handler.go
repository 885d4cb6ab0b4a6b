package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"blackbox-agent/internal/conversation"
	"blackbox-agent/internal/imageutil"
	"blackbox-agent/internal/integrations/blackbox"
	"blackbox-agent/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

type UseCase interface {
	Ask(ctx context.Context, in usecase.AskInput) (usecase.AskOutput, error)
	History(ctx context.Context, conversationID string) ([]conversation.Message, error)
	ClearHistory(ctx context.Context, conversationID string) error
	Delete(ctx context.Context, conversationID string) error
	List(ctx context.Context) ([]usecase.ConversationSummary, error)
}

type askRequest struct {
	Question       string              `json:"question"`
	ConversationID string              `json:"conversationId"`
	Model          string              `json:"model,omitempty"`
	Image          string              `json:"image,omitempty"`
	AgentMode      *blackbox.AgentMode `json:"agentMode,omitempty"`
	WebSearch      bool                `json:"webSearch,omitempty"`
}

type askResponse struct {
	Answer         string `json:"answer"`
	ConversationID string `json:"conversationId"`
	MessageCount   int    `json:"messageCount"`
}

type messageView struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Image     string    `json:"image,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type historyResponse struct {
	ConversationID string        `json:"conversationId"`
	Messages       []messageView `json:"messages"`
}

type summaryView struct {
	ConversationID string    `json:"conversationId"`
	CreatedAt      time.Time `json:"createdAt"`
	MessageCount   int       `json:"messageCount"`
	LastUpdated    time.Time `json:"lastUpdated"`
}

type listResponse struct {
	Conversations []summaryView `json:"conversations"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

type Handler struct {
	uc     UseCase
	logger *slog.Logger
}

type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func NewHandler(uc UseCase, opts ...Option) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	h := &Handler{uc: uc, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Handle routes an API Gateway proxy event:
//
//	POST   /ask                          ask a question
//	GET    /conversations                list conversations
//	GET    /conversations/{id}           conversation history
//	POST   /conversations/{id}/clear     clear a conversation's history
//	DELETE /conversations/{id}           delete a conversation
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(event.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	logger := h.logger.With("correlation_id", correlationID, "method", event.HTTPMethod, "path", event.Path)

	segments := pathSegments(event.Path)
	var resp events.APIGatewayProxyResponse
	switch {
	case event.HTTPMethod == http.MethodPost && len(segments) == 1 && segments[0] == "ask":
		resp = h.ask(ctx, logger, event.Body)
	case event.HTTPMethod == http.MethodGet && len(segments) == 1 && segments[0] == "conversations":
		resp = h.list(ctx, logger)
	case event.HTTPMethod == http.MethodGet && len(segments) == 2 && segments[0] == "conversations":
		resp = h.history(ctx, logger, segments[1])
	case event.HTTPMethod == http.MethodPost && len(segments) == 3 && segments[0] == "conversations" && segments[2] == "clear":
		resp = h.clear(ctx, logger, segments[1])
	case event.HTTPMethod == http.MethodDelete && len(segments) == 2 && segments[0] == "conversations":
		resp = h.delete(ctx, logger, segments[1])
	default:
		resp = jsonResponse(http.StatusNotFound, errorResponse{Error: "NOT_FOUND", Reason: "unknown_route"})
	}
	resp.Headers[correlationHeader] = correlationID
	return resp, nil
}

func (h *Handler) ask(ctx context.Context, logger *slog.Logger, body string) events.APIGatewayProxyResponse {
	var req askRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return jsonResponse(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_body"})
	}
	// File paths would be resolved on the server; only inline images are accepted.
	if req.Image != "" && !imageutil.IsDataURI(req.Image) {
		return jsonResponse(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "image_not_data_uri"})
	}
	out, err := h.uc.Ask(ctx, usecase.AskInput{
		Question:       req.Question,
		ConversationID: req.ConversationID,
		Model:          req.Model,
		Image:          req.Image,
		AgentMode:      req.AgentMode,
		WebSearch:      req.WebSearch,
	})
	if err != nil {
		return errorToResponse(logger, err)
	}
	logger.Info("ask complete", "conversation_id", out.ConversationID, "messages", out.MessageCount)
	return jsonResponse(http.StatusOK, askResponse{
		Answer:         out.Answer,
		ConversationID: out.ConversationID,
		MessageCount:   out.MessageCount,
	})
}

func (h *Handler) history(ctx context.Context, logger *slog.Logger, id string) events.APIGatewayProxyResponse {
	msgs, err := h.uc.History(ctx, id)
	if err != nil {
		return errorToResponse(logger, err)
	}
	out := historyResponse{ConversationID: id, Messages: make([]messageView, 0, len(msgs))}
	for _, m := range msgs {
		out.Messages = append(out.Messages, messageView{
			ID:        m.ID,
			Role:      string(m.Role),
			Content:   m.Content,
			Image:     m.Image,
			Timestamp: m.CreatedAt,
		})
	}
	return jsonResponse(http.StatusOK, out)
}

func (h *Handler) list(ctx context.Context, logger *slog.Logger) events.APIGatewayProxyResponse {
	all, err := h.uc.List(ctx)
	if err != nil {
		return errorToResponse(logger, err)
	}
	out := listResponse{Conversations: make([]summaryView, 0, len(all))}
	for _, s := range all {
		out.Conversations = append(out.Conversations, summaryView{
			ConversationID: s.ID,
			CreatedAt:      s.CreatedAt,
			MessageCount:   s.MessageCount,
			LastUpdated:    s.LastUpdated,
		})
	}
	return jsonResponse(http.StatusOK, out)
}

func (h *Handler) clear(ctx context.Context, logger *slog.Logger, id string) events.APIGatewayProxyResponse {
	if err := h.uc.ClearHistory(ctx, id); err != nil {
		return errorToResponse(logger, err)
	}
	return emptyResponse(http.StatusNoContent)
}

func (h *Handler) delete(ctx context.Context, logger *slog.Logger, id string) events.APIGatewayProxyResponse {
	if err := h.uc.Delete(ctx, id); err != nil {
		return errorToResponse(logger, err)
	}
	return emptyResponse(http.StatusNoContent)
}

func errorToResponse(logger *slog.Logger, err error) events.APIGatewayProxyResponse {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		logger.Error("unexpected error", "err", err)
		return jsonResponse(http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal)})
	}
	status := statusFor(ucErr.Code)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "code", ucErr.Code, "reason", ucErr.Reason, "err", ucErr.Err)
	} else {
		logger.Warn("request rejected", "code", ucErr.Code, "reason", ucErr.Reason)
	}
	return jsonResponse(status, errorResponse{Error: string(ucErr.Code), Reason: ucErr.Reason})
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorNotFound:
		return http.StatusNotFound
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests
	case usecase.ErrorUpstream:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func jsonResponse(status int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	}
}

func emptyResponse(status int) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{StatusCode: status, Headers: map[string]string{}}
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func pathSegments(path string) []string {
	var out []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
