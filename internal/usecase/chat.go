package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"blackbox-agent/internal/conversation"
	"blackbox-agent/internal/imageutil"
	"blackbox-agent/internal/integrations/blackbox"
)

const defaultMaxQuestion = 4000

type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

type ChatClient interface {
	Chat(ctx context.Context, in blackbox.ChatRequest) (string, error)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// ChatService runs chat turns against the conversation store. Each store
// call uses the blocking form when the backend supports it and the
// suspendable form otherwise.
type ChatService struct {
	store          *conversation.Store
	llm            ChatClient
	withHistory    bool
	maxQuestionLen int
	logger         *slog.Logger

	params      ParamGetter
	promptParam string

	promptMu     sync.RWMutex
	promptLoaded bool
	systemPrompt string
}

type Option func(*ChatService)

// WithHistory controls whether earlier messages are sent with each turn.
// Turns are recorded either way.
func WithHistory(enabled bool) Option {
	return func(s *ChatService) {
		s.withHistory = enabled
	}
}

func WithMaxQuestionLength(n int) Option {
	return func(s *ChatService) {
		if n > 0 {
			s.maxQuestionLen = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *ChatService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSystemPrompt sets a fixed system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(s *ChatService) {
		s.systemPrompt = prompt
		s.promptLoaded = true
	}
}

// WithSystemPromptParam loads the system prompt from a parameter on first
// use. A failed load is retried on the next request.
func WithSystemPromptParam(params ParamGetter, name string) Option {
	return func(s *ChatService) {
		name = strings.TrimSpace(name)
		if params == nil || name == "" {
			return
		}
		s.params = params
		s.promptParam = name
		s.promptLoaded = false
	}
}

type AskInput struct {
	Question       string
	ConversationID string
	Model          string
	// Image is a file path or a data URI.
	Image     string
	AgentMode *blackbox.AgentMode
	WebSearch bool
}

type AskOutput struct {
	Answer         string
	ConversationID string
	MessageCount   int
}

// ConversationSummary describes a stored conversation without its messages.
type ConversationSummary struct {
	ID           string
	CreatedAt    time.Time
	MessageCount int
	LastUpdated  time.Time
}

func NewChatService(store *conversation.Store, llm ChatClient, opts ...Option) (*ChatService, error) {
	if store == nil {
		return nil, errors.New("usecase: conversation store must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: chat client must not be nil")
	}
	s := &ChatService{
		store:          store,
		llm:            llm,
		withHistory:    true,
		maxQuestionLen: defaultMaxQuestion,
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		promptLoaded:   true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *ChatService) Ask(ctx context.Context, in AskInput) (AskOutput, error) {
	question := strings.TrimSpace(in.Question)
	if question == "" {
		return AskOutput{}, newError(ErrorInvalidInput, "empty_question", nil)
	}
	if len(question) > s.maxQuestionLen {
		return AskOutput{}, newError(ErrorInvalidInput, "question_too_long", nil)
	}

	model := blackbox.DefaultModel
	if id := strings.TrimSpace(in.Model); id != "" {
		m, ok := blackbox.LookupModel(id)
		if !ok {
			return AskOutput{}, newError(ErrorInvalidInput, "unknown_model", nil)
		}
		model = m
	}

	var image string
	if ref := strings.TrimSpace(in.Image); ref != "" {
		uri, err := imageutil.Load(ref)
		if err != nil {
			if errors.Is(err, imageutil.ErrUnsupportedFormat) {
				return AskOutput{}, newError(ErrorInvalidInput, "unsupported_image", err)
			}
			return AskOutput{}, newError(ErrorInvalidInput, "image_load_error", err)
		}
		image = uri
	}

	prompt, err := s.ensureSystemPrompt(ctx)
	if err != nil {
		return AskOutput{}, newError(ErrorInternal, "ssm_load_error", err)
	}

	convID := strings.TrimSpace(in.ConversationID)
	if convID == "" {
		convID = newUUID()
	}
	conv, err := s.getOrCreate(ctx, convID)
	if err != nil {
		return AskOutput{}, storeError("store_read_error", err)
	}
	if err := s.append(ctx, conv, conversation.RoleUser, question, image); err != nil {
		return AskOutput{}, storeError("store_write_error", err)
	}

	reply, err := s.llm.Chat(ctx, blackbox.ChatRequest{
		ChatID:    convID,
		Messages:  buildPromptMessages(prompt, conv.Messages(), s.withHistory),
		Model:     model,
		AgentMode: in.AgentMode,
		WebSearch: in.WebSearch,
	})
	if err != nil {
		if status, ok := upstreamStatusCode(err); ok && status == http.StatusTooManyRequests {
			return AskOutput{}, newError(ErrorRateLimited, "blackbox_rate_limited", err)
		}
		return AskOutput{}, newError(ErrorUpstream, "blackbox_error", err)
	}

	if err := s.append(ctx, conv, conversation.RoleAssistant, reply, ""); err != nil {
		return AskOutput{}, storeError("store_write_error", err)
	}
	s.logger.Debug("chat turn complete", "chat_id", convID, "messages", conv.Len())

	return AskOutput{
		Answer:         reply,
		ConversationID: convID,
		MessageCount:   conv.Metadata().MessageCount,
	}, nil
}

// History returns the stored messages of a conversation, oldest first.
func (s *ChatService) History(ctx context.Context, conversationID string) ([]conversation.Message, error) {
	conv, err := s.load(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return conv.Messages(), nil
}

// ClearHistory empties a conversation but keeps it.
func (s *ChatService) ClearHistory(ctx context.Context, conversationID string) error {
	conv, err := s.load(ctx, conversationID)
	if err != nil {
		return err
	}
	if s.blocking() {
		err = s.store.ClearHistory(ctx, conv)
	} else {
		_, err = s.store.ClearHistoryAsync(ctx, conv).Await(ctx)
	}
	if err != nil {
		return storeError("store_write_error", err)
	}
	return nil
}

func (s *ChatService) Delete(ctx context.Context, conversationID string) error {
	id := strings.TrimSpace(conversationID)
	if id == "" {
		return newError(ErrorInvalidInput, "empty_conversation_id", nil)
	}
	var err error
	if s.blocking() {
		err = s.store.Delete(ctx, id)
	} else {
		_, err = s.store.DeleteAsync(ctx, id).Await(ctx)
	}
	if err != nil {
		return storeError("store_write_error", err)
	}
	return nil
}

func (s *ChatService) List(ctx context.Context) ([]ConversationSummary, error) {
	var (
		all []*conversation.Conversation
		err error
	)
	if s.blocking() {
		all, err = s.store.ListAll(ctx)
	} else {
		all, err = s.store.ListAllAsync(ctx).Await(ctx)
	}
	if err != nil {
		return nil, storeError("store_read_error", err)
	}
	out := make([]ConversationSummary, 0, len(all))
	for _, c := range all {
		meta := c.Metadata()
		out = append(out, ConversationSummary{
			ID:           c.ID(),
			CreatedAt:    c.CreatedAt(),
			MessageCount: meta.MessageCount,
			LastUpdated:  meta.LastUpdated,
		})
	}
	return out, nil
}

func (s *ChatService) blocking() bool {
	return s.store.Capability().Supports(conversation.Blocking)
}

func (s *ChatService) getOrCreate(ctx context.Context, id string) (*conversation.Conversation, error) {
	if s.blocking() {
		return s.store.GetOrCreate(ctx, id)
	}
	return s.store.GetOrCreateAsync(ctx, id).Await(ctx)
}

func (s *ChatService) append(ctx context.Context, conv *conversation.Conversation, role conversation.Role, content, image string) error {
	if s.blocking() {
		return s.store.AppendMessage(ctx, conv, role, content, image)
	}
	_, err := s.store.AppendMessageAsync(ctx, conv, role, content, image).Await(ctx)
	return err
}

func (s *ChatService) load(ctx context.Context, conversationID string) (*conversation.Conversation, error) {
	id := strings.TrimSpace(conversationID)
	if id == "" {
		return nil, newError(ErrorInvalidInput, "empty_conversation_id", nil)
	}
	var (
		conv *conversation.Conversation
		err  error
	)
	if s.blocking() {
		conv, err = s.store.Load(ctx, id)
	} else {
		conv, err = s.store.LoadAsync(ctx, id).Await(ctx)
	}
	if err != nil {
		return nil, storeError("store_read_error", err)
	}
	return conv, nil
}

func (s *ChatService) ensureSystemPrompt(ctx context.Context) (string, error) {
	s.promptMu.RLock()
	if s.promptLoaded {
		p := s.systemPrompt
		s.promptMu.RUnlock()
		return p, nil
	}
	s.promptMu.RUnlock()

	s.promptMu.Lock()
	defer s.promptMu.Unlock()
	if s.promptLoaded {
		return s.systemPrompt, nil
	}
	p, err := s.params.GetParameter(ctx, s.promptParam)
	if err != nil {
		return "", fmt.Errorf("usecase: load system prompt: %w", err)
	}
	s.systemPrompt = p
	s.promptLoaded = true
	return p, nil
}

func storeError(reason string, err error) *Error {
	switch {
	case errors.Is(err, conversation.ErrNotFound):
		return newError(ErrorNotFound, "conversation_not_found", err)
	case errors.Is(err, conversation.ErrCapabilityMismatch):
		return newError(ErrorCapabilityMismatch, "backend_capability_mismatch", err)
	}
	return newError(ErrorInternal, reason, err)
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

var newUUID = func() string {
	return uuid.NewString()
}
