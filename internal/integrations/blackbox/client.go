package blackbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"blackbox-agent/internal/async"
	"blackbox-agent/internal/domain"
)

const DefaultBaseURL = "https://www.blackbox.ai"

// versionPrefix is the "$@$v=...$@$" marker some replies start with.
var versionPrefix = regexp.MustCompile(`^\$@\$v=[^$]*\$@\$`)

// TokenSource supplies the "validated" value; token.Cache satisfies it.
type TokenSource interface {
	GetToken(ctx context.Context) (string, bool)
}

// chatPayload is the request body of the chat endpoint.
type chatPayload struct {
	Messages          []domain.ChatMessage `json:"messages"`
	ID                string               `json:"id"`
	PreviewToken      *string              `json:"previewToken"`
	UserID            *string              `json:"userId"`
	CodeModelMode     bool                 `json:"codeModelMode"`
	AgentMode         any                  `json:"agentMode"`
	TrendingAgentMode struct{}             `json:"trendingAgentMode"`
	IsMicMode         bool                 `json:"isMicMode"`
	MaxTokens         int                  `json:"maxTokens"`
	IsChromeExt       bool                 `json:"isChromeExt"`
	GithubToken       *string              `json:"githubToken"`
	Validated         string               `json:"validated"`
	UserSelectedModel *string              `json:"userSelectedModel"`
	WebSearchMode     bool                 `json:"webSearchMode"`
}

// ChatRequest is one completion call.
type ChatRequest struct {
	ChatID        string
	Messages      []domain.ChatMessage
	Model         Model
	AgentMode     *AgentMode
	CodeModelMode bool
	WebSearch     bool
	// MaxTokens overrides the model's limit when positive.
	MaxTokens int
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("blackbox: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client talks to the chat endpoint with a browser session's cookies.
type Client struct {
	baseURL    string
	httpClient *http.Client
	headers    map[string]string
	cookie     string
	tokens     TokenSource
	logger     *slog.Logger
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithHeaders replaces the default browser headers.
func WithHeaders(headers map[string]string) Option {
	return func(c *Client) {
		if headers != nil {
			c.headers = headers
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a Client sending cookieHeader with every request and
// asking tokens for the "validated" value.
func NewClient(cookieHeader string, tokens TokenSource, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cookieHeader) == "" {
		return nil, errors.New("blackbox: cookie header must not be empty")
	}
	if tokens == nil {
		return nil, errors.New("blackbox: token source must not be nil")
	}
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		headers:    DefaultHeaders(),
		cookie:     cookieHeader,
		tokens:     tokens,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 60 * time.Second}
}

func chatURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	return base + "/api/chat"
}

// Chat sends the conversation and returns the assistant's reply text.
func (c *Client) Chat(ctx context.Context, in ChatRequest) (string, error) {
	if len(in.Messages) == 0 {
		return "", errors.New("blackbox: messages must not be empty")
	}
	model := in.Model
	if model.ID == "" {
		model = DefaultModel
	}
	chatID := in.ChatID
	if chatID == "" {
		chatID = newRequestID()
	}

	validated, ok := c.tokens.GetToken(ctx)
	if !ok {
		c.logger.Warn("no validated token available, sending request without it")
	}

	body, err := json.Marshal(buildPayload(in, model, chatID, validated))
	if err != nil {
		return "", fmt.Errorf("blackbox: marshal request: %w", err)
	}

	url := chatURL(c.baseURL)
	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if reqErr != nil {
		return "", fmt.Errorf("blackbox: create request: %w", reqErr)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	req.Header.Del("Accept-Encoding")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cookie", c.cookie)

	c.logger.Debug("sending chat request", "chat_id", chatID, "model", model.ID, "messages", len(in.Messages))
	raw, err := c.doRequest(req, url)
	if err != nil {
		return "", fmt.Errorf("blackbox: request failed: %w", err)
	}
	reply := StripVersionPrefix(string(raw))
	c.logger.Debug("received chat reply", "chat_id", chatID, "bytes", len(reply))
	return reply, nil
}

// ChatAsync is the suspendable form of Chat.
func (c *Client) ChatAsync(ctx context.Context, in ChatRequest) *async.Future[string] {
	return async.Run(ctx, func(ctx context.Context) (string, error) {
		return c.Chat(ctx, in)
	})
}

func buildPayload(in ChatRequest, model Model, chatID, validated string) chatPayload {
	maxTokens := model.MaxTokens
	if in.MaxTokens > 0 {
		maxTokens = in.MaxTokens
	}
	p := chatPayload{
		Messages:      in.Messages,
		ID:            chatID,
		CodeModelMode: in.CodeModelMode,
		AgentMode:     struct{}{},
		MaxTokens:     maxTokens,
		Validated:     validated,
		WebSearchMode: in.WebSearch,
	}
	if in.AgentMode != nil {
		p.AgentMode = in.AgentMode
	}
	if model.ID != DefaultModel.ID {
		id := model.ID
		p.UserSelectedModel = &id
	}
	return p
}

// StripVersionPrefix removes a leading "$@$v=...$@$" marker.
func StripVersionPrefix(s string) string {
	return versionPrefix.ReplaceAllString(s, "")
}

func (c *Client) doRequest(req *http.Request, url string) ([]byte, error) {
	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return nil, doErr
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}

var newRequestID = func() string {
	return uuid.NewString()
}
