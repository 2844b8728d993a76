package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"whatsapp-relay/internal/domain"
)

// ---------------------------------------------------------------------------
// chatURL helper
// ---------------------------------------------------------------------------

func TestChatURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"https://api.openai.com/v1", "https://api.openai.com/v1/chat/completions"},
		{"https://api.openai.com/v1/", "https://api.openai.com/v1/chat/completions"},
		{"http://localhost:8080", "http://localhost:8080/v1/chat/completions"},
		{"", "https://api.openai.com/v1/chat/completions"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, chatURL(tc.base), "base=%q", tc.base)
	}
}

// ---------------------------------------------------------------------------
// NewClient
// ---------------------------------------------------------------------------

func TestNewClient_NilGetter(t *testing.T) {
	_, err := NewClient(nil, "/relay/openai-api-key")
	require.Error(t, err)
	require.Contains(t, err.Error(), "nil")
}

func TestNewClient_EmptyKeyParam(t *testing.T) {
	_, err := NewClient(&fakeGetter{}, "  ")
	require.Error(t, err)
}

func TestNewClient_Defaults(t *testing.T) {
	c, err := NewClient(&fakeGetter{}, "/relay/openai-api-key")
	require.NoError(t, err)
	require.Equal(t, "https://api.openai.com/v1", c.baseURL)
	require.Equal(t, "gpt-4", c.Model())
	require.Equal(t, 500, c.maxTokens)

	c, err = NewClient(&fakeGetter{}, "/relay/openai-api-key", WithModel("gpt-4o-mini"), WithMaxTokens(200))
	require.NoError(t, err)
	require.Equal(t, "gpt-4o-mini", c.Model())
	require.Equal(t, 200, c.maxTokens)
}

// ---------------------------------------------------------------------------
// API key resolution
// ---------------------------------------------------------------------------

// fakeGetter is a minimal Getter stub for use within this package.
type fakeGetter struct {
	val    string
	err    error
	onCall func() // optional; called on each GetParameter invocation
}

func (f *fakeGetter) GetParameter(_ context.Context, _ string) (string, error) {
	if f.onCall != nil {
		f.onCall()
	}
	return f.val, f.err
}

func TestResolveAPIKey_CachedAfterSuccess(t *testing.T) {
	calls := 0
	g := &fakeGetter{val: "sk-raw"}
	g.onCall = func() { calls++ }
	c, err := NewClient(g, "/relay/openai-api-key")
	require.NoError(t, err)

	key, err := c.resolveAPIKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sk-raw", key)

	_, _ = c.resolveAPIKey(context.Background())
	require.Equal(t, 1, calls)
}

func TestResolveAPIKey_FailureIsRetried(t *testing.T) {
	g := &fakeGetter{err: fmt.Errorf("parameter not found: %w", domain.ErrSecretUnavailable)}
	c, err := NewClient(g, "/relay/openai-api-key")
	require.NoError(t, err)

	_, err = c.resolveAPIKey(context.Background())
	require.ErrorIs(t, err, domain.ErrCompletionConfig)

	g.err = nil
	g.val = "sk-later"
	key, err := c.resolveAPIKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sk-later", key)
}

func TestFetchAPIKey_Formats(t *testing.T) {
	key, err := fetchAPIKey(context.Background(), &fakeGetter{val: `{"token":"sk-from-json"}`}, "p")
	require.NoError(t, err)
	require.Equal(t, "sk-from-json", key)

	key, err = fetchAPIKey(context.Background(), &fakeGetter{val: " sk-raw \n"}, "p")
	require.NoError(t, err)
	require.Equal(t, "sk-raw", key)
}

func TestFetchAPIKey_ConfigErrors(t *testing.T) {
	cases := []struct {
		name   string
		getter Getter
		param  string
		want   string
	}{
		{name: "nil getter", getter: nil, param: "p", want: "nil"},
		{name: "empty name", getter: &fakeGetter{val: "sk"}, param: " ", want: "empty"},
		{name: "parameter missing", getter: &fakeGetter{err: fmt.Errorf("ParameterNotFound: %w", domain.ErrSecretUnavailable)}, param: "p", want: "ParameterNotFound"},
		{name: "empty value", getter: &fakeGetter{val: ""}, param: "p", want: "API key is empty"},
		{name: "json missing token", getter: &fakeGetter{val: `{"other":"v"}`}, param: "p", want: "API key is empty"},
		{name: "malformed json", getter: &fakeGetter{val: `{"broken`}, param: "p", want: "unmarshal"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := fetchAPIKey(context.Background(), tc.getter, tc.param)
			require.ErrorIs(t, err, domain.ErrCompletionConfig)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestFetchAPIKey_SecretSourceOutageIsNotConfigError(t *testing.T) {
	_, err := fetchAPIKey(context.Background(), &fakeGetter{err: errors.New("ThrottlingException: rate exceeded")}, "p")
	require.Error(t, err)
	require.NotErrorIs(t, err, domain.ErrCompletionConfig)
	require.Contains(t, err.Error(), "ThrottlingException")
}

// ---------------------------------------------------------------------------
// Prompt assembly
// ---------------------------------------------------------------------------

func TestSystemPrompt_Variants(t *testing.T) {
	first := systemPrompt("Persona", domain.PromptFirstContact)
	require.Contains(t, first, "Persona")
	require.Contains(t, first, "Greet them")
	require.NotContains(t, first, "CONTINUING")

	cont := systemPrompt("Persona", domain.PromptContinuation)
	require.Contains(t, cont, "CONTINUING")
	require.Contains(t, cont, "without greetings")

	require.Contains(t, systemPrompt("  ", domain.PromptContinuation), "Behavior Rules:")
}

func TestBuildMessages_Order(t *testing.T) {
	history := []domain.Turn{
		{Role: domain.RoleUser, Text: "When is it?"},
		{Role: domain.RoleAssistant, Text: "January 30th."},
		{Role: domain.RoleAssistant, Text: "   "},
	}
	msgs := buildMessages("Persona", domain.PromptContinuation, history, "Where?")
	require.Len(t, msgs, 4)
	require.Equal(t, "system", msgs[0].Role)
	require.Equal(t, domain.ChatMessage{Role: "user", Content: "When is it?"}, msgs[1])
	require.Equal(t, domain.ChatMessage{Role: "assistant", Content: "January 30th."}, msgs[2])
	require.Equal(t, domain.ChatMessage{Role: "user", Content: "Where?"}, msgs[3])
}

// ---------------------------------------------------------------------------
// Client.Generate
// ---------------------------------------------------------------------------

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(
		&fakeGetter{val: `{"token":"sk-test"}`},
		"/relay/openai-api-key",
		WithBaseURL(srv.URL),
		WithHTTPClient(&http.Client{Timeout: 2 * time.Second}),
		WithModel("gpt-mock"),
	)
	require.NoError(t, err)
	return c
}

func TestClient_Generate_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var req chatRequest
		require.NoError(t, json.Unmarshal(raw, &req))
		require.Equal(t, "gpt-mock", req.Model)
		require.Equal(t, 500, req.MaxTokens)
		require.NotNil(t, req.Temperature)
		require.InDelta(t, 0.7, *req.Temperature, 0.0001)
		require.Len(t, req.Messages, 2)
		require.Contains(t, req.Messages[0].Content, "Greet them")
		require.Equal(t, "Hi", req.Messages[1].Content)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-123",
			"choices": [{
				"index": 0,
				"message": { "role": "assistant", "content": "  Hello from mock \n" }
			}],
			"usage": {"total_tokens": 42}
		}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	resp, err := c.Generate(context.Background(), "Hi", nil, domain.PromptFirstContact)
	require.NoError(t, err)
	require.Equal(t, "Hello from mock", resp)
}

func TestClient_Generate_StatusClassification(t *testing.T) {
	cases := []struct {
		status int
		target error
	}{
		{status: http.StatusUnauthorized, target: domain.ErrCompletionConfig},
		{status: http.StatusForbidden, target: domain.ErrCompletionConfig},
		{status: http.StatusTooManyRequests, target: domain.ErrCompletionRateLimited},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(`{"error":"nope"}`))
		}))

		c := newTestClient(t, srv)
		_, err := c.Generate(context.Background(), "Hi", nil, domain.PromptContinuation)
		require.ErrorIs(t, err, tc.target, "status=%d", tc.status)

		var statusErr *HTTPStatusError
		require.ErrorAs(t, err, &statusErr)
		require.Equal(t, tc.status, statusErr.HTTPStatusCode())
		srv.Close()
	}
}

func TestClient_Generate_500IsProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Generate(context.Background(), "Hi", nil, domain.PromptContinuation)
	require.Error(t, err)
	require.Contains(t, err.Error(), "500")
	require.NotErrorIs(t, err, domain.ErrCompletionConfig)
	require.NotErrorIs(t, err, domain.ErrCompletionRateLimited)
}

func TestClient_Generate_MissingKeyIsConfigError(t *testing.T) {
	c, err := NewClient(&fakeGetter{val: ""}, "/relay/openai-api-key")
	require.NoError(t, err)
	_, err = c.Generate(context.Background(), "Hi", nil, domain.PromptFirstContact)
	require.ErrorIs(t, err, domain.ErrCompletionConfig)
}

func TestClient_Generate_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`not-a-json`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Generate(context.Background(), "Hi", nil, domain.PromptFirstContact)
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode response")
}

func TestClient_Generate_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Generate(context.Background(), "Hi", nil, domain.PromptFirstContact)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no choices")
}

func TestClient_Generate_EmptyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"  "}}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Generate(context.Background(), "Hi", nil, domain.PromptFirstContact)
	require.Error(t, err)
	require.Contains(t, err.Error(), "empty completion")
}

func TestClient_Generate_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	c.httpClient = &http.Client{Timeout: 50 * time.Millisecond}
	_, err := c.Generate(context.Background(), "Hi", nil, domain.PromptFirstContact)
	require.Error(t, err)
	require.Contains(t, err.Error(), "request failed")
}
