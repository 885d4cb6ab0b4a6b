package blackbox

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"blackbox-agent/internal/domain"
)

type fakeTokens struct {
	val   string
	ok    bool
	calls int
}

func (f *fakeTokens) GetToken(context.Context) (string, bool) {
	f.calls++
	return f.val, f.ok
}

type capturedRequest struct {
	path    string
	method  string
	cookie  string
	origin  string
	payload map[string]any
}

func newChatServer(t *testing.T, status int, reply string) (*httptest.Server, *capturedRequest) {
	t.Helper()
	got := &capturedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.path = r.URL.Path
		got.method = r.Method
		got.cookie = r.Header.Get("Cookie")
		got.origin = r.Header.Get("Origin")
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, &got.payload))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func newTestClient(t *testing.T, srv *httptest.Server, tokens TokenSource) *Client {
	t.Helper()
	c, err := NewClient(
		"sessionId=abc; theme=dark",
		tokens,
		WithBaseURL(srv.URL),
		WithHTTPClient(&http.Client{Timeout: 2 * time.Second}),
	)
	require.NoError(t, err)
	return c
}

func userMessage(content string) []domain.ChatMessage {
	return []domain.ChatMessage{{ID: "m1", Role: "user", Content: content}}
}

func TestChatURL(t *testing.T) {
	require.Equal(t, "https://www.blackbox.ai/api/chat", chatURL(""))
	require.Equal(t, "http://localhost:9000/api/chat", chatURL("http://localhost:9000/"))
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient("", &fakeTokens{})
	require.Error(t, err)
	_, err = NewClient("a=b", nil)
	require.Error(t, err)

	c, err := NewClient("a=b", &fakeTokens{})
	require.NoError(t, err)
	require.Equal(t, DefaultBaseURL, c.baseURL)
	require.Equal(t, DefaultHeaders(), c.headers)
}

func TestChat_HappyPath(t *testing.T) {
	srv, got := newChatServer(t, http.StatusOK, "Hello there")
	tokens := &fakeTokens{val: "123e4567-e89b-12d3-a456-426614174000", ok: true}
	c := newTestClient(t, srv, tokens)

	reply, err := c.Chat(context.Background(), ChatRequest{ChatID: "chat-1", Messages: userMessage("hi")})
	require.NoError(t, err)
	require.Equal(t, "Hello there", reply)

	require.Equal(t, "/api/chat", got.path)
	require.Equal(t, http.MethodPost, got.method)
	require.Equal(t, "sessionId=abc; theme=dark", got.cookie)
	require.Equal(t, DefaultBaseURL, got.origin)

	p := got.payload
	require.Equal(t, "chat-1", p["id"])
	require.Equal(t, "123e4567-e89b-12d3-a456-426614174000", p["validated"])
	require.Equal(t, float64(4096), p["maxTokens"])
	require.Nil(t, p["userSelectedModel"])
	require.Equal(t, map[string]any{}, p["agentMode"])
	require.Equal(t, map[string]any{}, p["trendingAgentMode"])
	require.Equal(t, false, p["webSearchMode"])
	for _, k := range []string{"previewToken", "userId", "githubToken", "codeModelMode", "isMicMode", "isChromeExt"} {
		require.Contains(t, p, k)
	}
	msgs := p["messages"].([]any)
	require.Len(t, msgs, 1)
	require.Equal(t, map[string]any{"id": "m1", "role": "user", "content": "hi"}, msgs[0])
	require.Equal(t, 1, tokens.calls)
}

func TestChat_ModelAgentAndImage(t *testing.T) {
	srv, got := newChatServer(t, http.StatusOK, "ok")
	c := newTestClient(t, srv, &fakeTokens{val: "v", ok: true})

	msgs := []domain.ChatMessage{{
		ID: "m1", Role: "user", Content: "what is this",
		Data: &domain.ImageData{ImageBase64: "data:image/png;base64,AAAA"},
	}}
	_, err := c.Chat(context.Background(), ChatRequest{
		ChatID:    "chat-2",
		Messages:  msgs,
		Model:     ModelGPT4o,
		AgentMode: &AgentMode{Mode: true, ID: "PythonAgent", Name: "Python Agent"},
		WebSearch: true,
		MaxTokens: 100,
	})
	require.NoError(t, err)

	p := got.payload
	require.Equal(t, "gpt-4o", p["userSelectedModel"])
	require.Equal(t, float64(100), p["maxTokens"])
	require.Equal(t, true, p["webSearchMode"])
	require.Equal(t, map[string]any{"mode": true, "id": "PythonAgent", "name": "Python Agent"}, p["agentMode"])
	m := p["messages"].([]any)[0].(map[string]any)
	require.Equal(t, map[string]any{"fileText": "", "imageBase64": "data:image/png;base64,AAAA", "title": nil}, m["data"])
}

func TestChat_StripsVersionPrefix(t *testing.T) {
	srv, _ := newChatServer(t, http.StatusOK, "$@$v=undefined-rv1$@$Answer text")
	c := newTestClient(t, srv, &fakeTokens{val: "v", ok: true})

	reply, err := c.Chat(context.Background(), ChatRequest{Messages: userMessage("hi")})
	require.NoError(t, err)
	require.Equal(t, "Answer text", reply)
}

func TestStripVersionPrefix(t *testing.T) {
	require.Equal(t, "x", StripVersionPrefix("$@$v=1$@$x"))
	require.Equal(t, "plain $@$v=1$@$", StripVersionPrefix("plain $@$v=1$@$"))
	require.Equal(t, "", StripVersionPrefix(""))
}

func TestChat_NoTokenStillSends(t *testing.T) {
	srv, got := newChatServer(t, http.StatusOK, "ok")
	c := newTestClient(t, srv, &fakeTokens{})

	orig := newRequestID
	newRequestID = func() string { return "generated-id" }
	t.Cleanup(func() { newRequestID = orig })

	_, err := c.Chat(context.Background(), ChatRequest{Messages: userMessage("hi")})
	require.NoError(t, err)
	require.Equal(t, "", got.payload["validated"])
	require.Equal(t, "generated-id", got.payload["id"])
}

func TestChat_Non200(t *testing.T) {
	srv, _ := newChatServer(t, http.StatusTooManyRequests, "slow down")
	c := newTestClient(t, srv, &fakeTokens{val: "v", ok: true})

	_, err := c.Chat(context.Background(), ChatRequest{Messages: userMessage("hi")})
	require.Error(t, err)
	var statusErr *HTTPStatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusTooManyRequests, statusErr.HTTPStatusCode())
	require.Equal(t, "slow down", statusErr.Body)
	require.Contains(t, err.Error(), "unexpected status 429")
}

func TestChat_EmptyMessages(t *testing.T) {
	c, err := NewClient("a=b", &fakeTokens{})
	require.NoError(t, err)
	_, err = c.Chat(context.Background(), ChatRequest{})
	require.ErrorContains(t, err, "messages")
}

func TestChat_NetworkError(t *testing.T) {
	c, err := NewClient("a=b", &fakeTokens{}, WithBaseURL("http://127.0.0.1:1"),
		WithHTTPClient(&http.Client{Timeout: 100 * time.Millisecond}))
	require.NoError(t, err)

	_, err = c.Chat(context.Background(), ChatRequest{Messages: userMessage("hi")})
	require.Error(t, err)
	require.Contains(t, err.Error(), "request failed")
}

func TestChat_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte("late"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, &fakeTokens{})
	c.httpClient = &http.Client{Timeout: 50 * time.Millisecond}
	_, err := c.Chat(context.Background(), ChatRequest{Messages: userMessage("hi")})
	require.Error(t, err)
}

func TestChatAsync(t *testing.T) {
	srv, _ := newChatServer(t, http.StatusOK, "async reply")
	c := newTestClient(t, srv, &fakeTokens{val: "v", ok: true})

	ctx := context.Background()
	reply, err := c.ChatAsync(ctx, ChatRequest{Messages: userMessage("hi")}).Await(ctx)
	require.NoError(t, err)
	require.Equal(t, "async reply", reply)
}

func TestModels(t *testing.T) {
	m, ok := LookupModel("gpt-4o")
	require.True(t, ok)
	require.Equal(t, 8192, m.MaxTokens)
	_, ok = LookupModel("unknown")
	require.False(t, ok)

	list := Models()
	require.Len(t, list, 2)
	list[0].ID = "mutated"
	require.Equal(t, "blackbox", Models()[0].ID)
}
