package llm

import (
	"context"
	"net/http"

	"github.com/lamosty/aharadar-sub003/internal/domain"
)

// AnthropicAdapter speaks the vendor-native messages API.
type AnthropicAdapter struct {
	apiKey  string
	version string
	client  *http.Client
}

func NewAnthropicAdapter(apiKey, version string, client *http.Client) *AnthropicAdapter {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if version == "" {
		version = DefaultAnthropicVersion
	}
	return &AnthropicAdapter{apiKey: apiKey, version: version, client: client}
}

func (a *AnthropicAdapter) Call(ctx context.Context, ref domain.ModelRef, request domain.Request) (domain.CallResult, error) {
	headers := map[string]string{
		"x-api-key":         a.apiKey,
		"anthropic-version": a.version,
	}
	payload, requestID, err := postJSON(ctx, a.client, ref, headers, messagesBody(ref.Model, request))
	if err != nil {
		return domain.CallResult{}, err
	}
	return resultFrom(ref, payload, requestID)
}

func messagesBody(model string, request domain.Request) map[string]any {
	maxTokens := request.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxOutputTokens[domain.TierNormal]
	}
	body := map[string]any{
		"model": model,
		"messages": []map[string]any{
			{"role": "user", "content": request.User},
		},
	}
	if request.System != "" {
		body["system"] = request.System
	}

	budget := 0
	if anthropicSupportsThinking(model) {
		budget = anthropicThinkingBudget(request.ReasoningEffort)
	}
	if budget > 0 {
		body["thinking"] = map[string]any{"type": "enabled", "budget_tokens": budget}
		maxTokens += budget
	} else if request.Temperature != nil {
		body["temperature"] = *request.Temperature
	}
	body["max_tokens"] = maxTokens
	return body
}
