package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lamosty/aharadar-sub003/internal/domain"
	"github.com/lamosty/aharadar-sub003/internal/llmerr"
)

type capturedRequest struct {
	header http.Header
	path   string
	body   map[string]any
}

func newProviderServer(t *testing.T, status int, headers map[string]string, response string) (*httptest.Server, *capturedRequest) {
	t.Helper()
	captured := &capturedRequest{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.header = r.Header.Clone()
		captured.path = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &captured.body)
		for name, value := range headers {
			w.Header().Set(name, value)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(server.Close)
	return server, captured
}

func TestOpenAIResponsesRequestAndExtraction(t *testing.T) {
	server, captured := newProviderServer(t, http.StatusOK, nil, `{
		"output": [
			{"type": "reasoning", "summary": []},
			{"type": "message", "content": [{"type": "output_text", "text": "{\"ok\":true}"}]}
		],
		"usage": {"input_tokens": 120, "output_tokens": 30}
	}`)
	adapter := NewOpenAIAdapter("sk-test-key", server.Client())
	ref := domain.ModelRef{Provider: domain.ProviderOpenAI, Model: "gpt-5-mini", Endpoint: server.URL + "/v1/responses"}
	temperature := 0.2

	result, err := adapter.Call(context.Background(), ref, domain.Request{
		System:          "be strict",
		User:            "payload",
		MaxOutputTokens: 500,
		Temperature:     &temperature,
		ReasoningEffort: domain.EffortNone,
	})
	require.NoError(t, err)

	assert.Equal(t, `{"ok":true}`, result.OutputText)
	assert.Equal(t, int64(120), result.InputTokens)
	assert.Equal(t, int64(30), result.OutputTokens)
	assert.Equal(t, ref.Endpoint, result.Endpoint)

	assert.Equal(t, "Bearer sk-test-key", captured.header.Get("Authorization"))
	assert.NotEmpty(t, captured.header.Get("X-Client-Request-Id"))
	assert.Equal(t, "be strict", captured.body["instructions"])
	assert.Equal(t, "payload", captured.body["input"])
	assert.Equal(t, float64(500), captured.body["max_output_tokens"])
	assert.Equal(t, map[string]any{"effort": "minimal"}, captured.body["reasoning"])
	_, hasTemperature := captured.body["temperature"]
	assert.False(t, hasTemperature, "reasoning models reject temperature")
}

func TestOpenAIChatCompletionsShape(t *testing.T) {
	server, captured := newProviderServer(t, http.StatusOK, nil, `{
		"choices": [{"message": {"role": "assistant", "content": "hello"}}],
		"usage": {"prompt_tokens": 10, "completion_tokens": 2}
	}`)
	adapter := NewOpenAIAdapter("sk-test-key", server.Client())
	ref := domain.ModelRef{Provider: domain.ProviderOpenAI, Model: "gpt-4o-mini", Endpoint: server.URL + "/v1/chat/completions"}
	temperature := 0.0

	result, err := adapter.Call(context.Background(), ref, domain.Request{
		System:          "sys",
		User:            "usr",
		MaxOutputTokens: 64,
		Temperature:     &temperature,
		ReasoningEffort: domain.EffortHigh,
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", result.OutputText)
	assert.Equal(t, int64(10), result.InputTokens)
	assert.Equal(t, int64(2), result.OutputTokens)

	messages, ok := captured.body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 2)
	assert.Equal(t, float64(64), captured.body["max_tokens"])
	assert.Equal(t, float64(0), captured.body["temperature"])
	_, hasEffort := captured.body["reasoning_effort"]
	assert.False(t, hasEffort)
}

func TestOpenAIErrorEnrichment(t *testing.T) {
	body := `{"error":{"message":"boom","api_key":"sk-proj-ABCDEFGHIJKLMNOPQRSTUV"}}`
	server, _ := newProviderServer(t, http.StatusBadGateway, map[string]string{
		"cf-ray":       "ray-1",
		"x-request-id": "req-123",
	}, body)
	adapter := NewOpenAIAdapter("sk-test-key", server.Client())
	ref := domain.ModelRef{Provider: domain.ProviderOpenAI, Model: "gpt-5", Endpoint: server.URL + "/v1/responses"}

	_, err := adapter.Call(context.Background(), ref, domain.Request{User: "x"})
	require.Error(t, err)

	var providerErr *ProviderError
	require.True(t, errors.As(err, &providerErr))
	assert.Equal(t, http.StatusBadGateway, providerErr.Status)
	assert.Equal(t, "req-123", providerErr.RequestID)
	assert.Equal(t, "gpt-5", providerErr.Model)
	assert.Equal(t, ref.Endpoint, providerErr.Endpoint)
	assert.Contains(t, providerErr.Snippet, "boom")
	assert.NotContains(t, providerErr.Snippet, "ABCDEFGHIJKLMNOPQRSTUV")
	assert.True(t, llmerr.IsRetryable(err))
}

func TestOpenAIUnauthorizedIsAuthError(t *testing.T) {
	server, _ := newProviderServer(t, http.StatusUnauthorized, nil, `{"error":{"message":"Incorrect API key provided"}}`)
	adapter := NewOpenAIAdapter("bad", server.Client())
	ref := domain.ModelRef{Provider: domain.ProviderOpenAI, Model: "gpt-5", Endpoint: server.URL}

	_, err := adapter.Call(context.Background(), ref, domain.Request{User: "x"})
	require.Error(t, err)
	assert.True(t, llmerr.IsAuthError(err))
	assert.False(t, llmerr.IsRetryable(err))
}

func TestOpenAIRateLimitIsQuotaError(t *testing.T) {
	server, _ := newProviderServer(t, http.StatusTooManyRequests, nil, `{}`)
	adapter := NewOpenAIAdapter("sk-test-key", server.Client())
	ref := domain.ModelRef{Provider: domain.ProviderOpenAI, Model: "gpt-5", Endpoint: server.URL}

	_, err := adapter.Call(context.Background(), ref, domain.Request{User: "x"})
	assert.True(t, llmerr.IsQuotaError(err))
}

func TestMissingTextIsProviderError(t *testing.T) {
	server, _ := newProviderServer(t, http.StatusOK, map[string]string{"request-id": "abc"}, `{"output":[]}`)
	adapter := NewOpenAIAdapter("sk-test-key", server.Client())
	ref := domain.ModelRef{Provider: domain.ProviderOpenAI, Model: "gpt-5", Endpoint: server.URL}

	_, err := adapter.Call(context.Background(), ref, domain.Request{User: "x"})
	var providerErr *ProviderError
	require.True(t, errors.As(err, &providerErr))
	assert.Equal(t, "abc", providerErr.RequestID)
	assert.Contains(t, providerErr.Message, "no assistant text")
}

func TestAnthropicMessagesRequest(t *testing.T) {
	server, captured := newProviderServer(t, http.StatusOK, nil, `{
		"content": [
			{"type": "thinking", "thinking": "hmm"},
			{"type": "text", "text": "part one "},
			{"type": "text", "text": "part two"}
		],
		"usage": {"input_tokens": 7, "output_tokens": 9}
	}`)
	adapter := NewAnthropicAdapter("sk-ant-test", "", server.Client())
	ref := domain.ModelRef{Provider: domain.ProviderAnthropic, Model: "claude-sonnet-4-5", Endpoint: server.URL + "/v1/messages"}
	temperature := 0.5

	result, err := adapter.Call(context.Background(), ref, domain.Request{
		System:          "sys",
		User:            "usr",
		MaxOutputTokens: 1000,
		Temperature:     &temperature,
		ReasoningEffort: domain.EffortMedium,
	})
	require.NoError(t, err)
	assert.Equal(t, "part one part two", result.OutputText)
	assert.Equal(t, int64(7), result.InputTokens)

	assert.Equal(t, "sk-ant-test", captured.header.Get("x-api-key"))
	assert.Equal(t, DefaultAnthropicVersion, captured.header.Get("anthropic-version"))
	assert.Equal(t, "sys", captured.body["system"])
	assert.Equal(t, float64(1000+4096), captured.body["max_tokens"])
	assert.Equal(t, map[string]any{"type": "enabled", "budget_tokens": float64(4096)}, captured.body["thinking"])
	_, hasTemperature := captured.body["temperature"]
	assert.False(t, hasTemperature)
}

func TestAnthropicWithoutThinkingKeepsTemperature(t *testing.T) {
	temperature := 0.3
	body := messagesBody("claude-3-5-haiku-latest", domain.Request{User: "u", Temperature: &temperature, ReasoningEffort: domain.EffortHigh})
	assert.Equal(t, 0.3, body["temperature"])
	assert.Equal(t, 1200, body["max_tokens"])
	assert.NotContains(t, body, "thinking")
}

func TestSnippetTruncatesAndCompacts(t *testing.T) {
	long := `{"message": "` + strings.Repeat("x", 900) + `"}`
	out := snippet([]byte(long))
	assert.True(t, strings.HasPrefix(out, `{"message":"xxx`))
	assert.Equal(t, maxSnippetChars+len("..."), len([]rune(out)))
}
