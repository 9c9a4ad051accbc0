package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/mcpdesk"
)

type captured struct {
	path string
	body map[string]interface{}
}

func server(t *testing.T, status int, reply string, got *captured) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		if got != nil {
			got.path = r.URL.Path
			_ = json.Unmarshal(data, &got.body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIModel_Generate(t *testing.T) {
	got := &captured{}
	srv := server(t, http.StatusOK, `{
		"id": "c1", "object": "chat.completion", "created": 1, "model": "gpt-4o-mini",
		"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "{\"steps\": []}"}}]
	}`, got)

	m := NewOpenAIModel(Config{APIKey: "k", BaseURL: srv.URL + "/v1", MaxTokens: 64})
	out, err := m.Generate(context.Background(), mcpdesk.Prompt{System: "plan", User: "hello"})
	require.NoError(t, err)
	assert.Equal(t, `{"steps": []}`, out)

	assert.True(t, strings.HasSuffix(got.path, "/chat/completions"), got.path)
	assert.Equal(t, DefaultOpenAIModel, got.body["model"])
	messages, ok := got.body["messages"].([]interface{})
	require.True(t, ok)
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]interface{})["role"])
	assert.Equal(t, "hello", messages[1].(map[string]interface{})["content"])
}

func TestOpenAIModel_ErrorIsClassified(t *testing.T) {
	srv := server(t, http.StatusUnauthorized, `{"error": {"message": "bad key", "type": "invalid_request_error"}}`, nil)
	m := NewOpenAIModel(Config{APIKey: "k", BaseURL: srv.URL + "/v1"})

	_, err := m.Generate(context.Background(), mcpdesk.Prompt{User: "hi"})
	require.Error(t, err)
	assert.True(t, mcpdesk.HasCode(err, mcpdesk.ErrCodeLanguageModel))
	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, ErrorAuth, pe.Type)
	assert.False(t, pe.Retryable())
}

func TestAnthropicModel_Generate(t *testing.T) {
	got := &captured{}
	srv := server(t, http.StatusOK, `{
		"id": "m1", "type": "message", "role": "assistant", "model": "claude-sonnet-4-5",
		"content": [{"type": "text", "text": "Hello "}, {"type": "text", "text": "there"}],
		"stop_reason": "end_turn", "usage": {"input_tokens": 3, "output_tokens": 2}
	}`, got)

	m := NewAnthropicModel(Config{APIKey: "k", BaseURL: srv.URL})
	out, err := m.Generate(context.Background(), mcpdesk.Prompt{System: "be brief", User: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "Hello there", out)

	assert.True(t, strings.HasSuffix(got.path, "/messages"), got.path)
	assert.Equal(t, float64(DefaultMaxTokens), got.body["max_tokens"])
	require.NotNil(t, got.body["system"])
}

func TestNewModel(t *testing.T) {
	m, err := NewModel(Config{Provider: ProviderOpenAI, APIKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAIModel{}, m)

	m, err = NewModel(Config{Provider: ProviderAnthropic, APIKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &AnthropicModel{}, m)

	_, err = NewModel(Config{Provider: ProviderLocal, BaseURL: "http://localhost:11434/v1"})
	assert.NoError(t, err, "local endpoints need no key")

	_, err = NewModel(Config{Provider: ProviderAnthropic})
	assert.True(t, mcpdesk.HasCode(err, mcpdesk.ErrCodeConfiguration))

	_, err = NewModel(Config{Provider: "gemini", APIKey: "k"})
	assert.Error(t, err)
}

type stubModel struct {
	out   string
	err   error
	calls int
}

func (s *stubModel) Generate(ctx context.Context, p mcpdesk.Prompt) (string, error) {
	s.calls++
	return s.out, s.err
}

func TestFallback(t *testing.T) {
	down := &stubModel{err: mcpdesk.NewLanguageModelError("a", &ProviderError{Type: ErrorServerError, Err: errors.New("503")})}
	ok := &stubModel{out: "answer"}
	out, err := NewFallback(down, ok).Generate(context.Background(), mcpdesk.Prompt{})
	require.NoError(t, err)
	assert.Equal(t, "answer", out)

	auth := &stubModel{err: mcpdesk.NewLanguageModelError("a", &ProviderError{Type: ErrorAuth, Err: errors.New("401")})}
	next := &stubModel{out: "never"}
	_, err = NewFallback(auth, next).Generate(context.Background(), mcpdesk.Prompt{})
	assert.Error(t, err)
	assert.Zero(t, next.calls, "auth failures are not retried elsewhere")

	_, err = NewFallback().Generate(context.Background(), mcpdesk.Prompt{})
	assert.Error(t, err)
}

func TestAnthropicModel_ErrorIsClassified(t *testing.T) {
	srv := server(t, http.StatusBadRequest, `{"type": "error", "error": {"type": "invalid_request_error", "message": "max_tokens too large"}}`, nil)
	m := NewAnthropicModel(Config{APIKey: "k", BaseURL: srv.URL})

	_, err := m.Generate(context.Background(), mcpdesk.Prompt{User: "hi"})
	require.Error(t, err)
	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, ErrorInvalidInput, pe.Type)
	var apiErr *anthropic.Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"openai rate limit", &openai.Error{StatusCode: http.StatusTooManyRequests}, ErrorRateLimit},
		{"openai forbidden", &openai.Error{StatusCode: http.StatusForbidden}, ErrorAuth},
		{"openai not found", &openai.Error{StatusCode: http.StatusNotFound}, ErrorInvalidInput},
		{"anthropic bad gateway", &anthropic.Error{StatusCode: http.StatusBadGateway}, ErrorServerError},
		{"anthropic overloaded", &anthropic.Error{StatusCode: 529}, ErrorServerError},
		{"anthropic gateway timeout", &anthropic.Error{StatusCode: http.StatusGatewayTimeout}, ErrorTimeout},
		{"wrapped status", fmt.Errorf("chat: %w", &openai.Error{StatusCode: http.StatusUnauthorized}), ErrorAuth},
		{"dial refused", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, ErrorNetwork},
		{"dns", &net.DNSError{Err: "no such host", Name: "api.invalid"}, ErrorNetwork},
		{"deadline", context.DeadlineExceeded, ErrorTimeout},
		{"message mentions 429", errors.New("429 Too Many Requests"), ErrorUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.err).Type)
		})
	}
}
