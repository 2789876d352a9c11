package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/lamosty/aharadar-sub003/internal/domain"
)

// OpenAIAdapter speaks the OpenAI responses API, or chat completions when the
// endpoint path ends in /chat/completions. Any compatible gateway works.
type OpenAIAdapter struct {
	apiKey string
	client *http.Client
}

func NewOpenAIAdapter(apiKey string, client *http.Client) *OpenAIAdapter {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &OpenAIAdapter{apiKey: apiKey, client: client}
}

func (a *OpenAIAdapter) Call(ctx context.Context, ref domain.ModelRef, request domain.Request) (domain.CallResult, error) {
	var body map[string]any
	if isChatEndpoint(ref.Endpoint) {
		body = chatCompletionsBody(ref.Model, request)
	} else {
		body = responsesBody(ref.Model, request)
	}
	headers := map[string]string{
		"Authorization":       "Bearer " + a.apiKey,
		"X-Client-Request-Id": uuid.NewString(),
	}
	payload, requestID, err := postJSON(ctx, a.client, ref, headers, body)
	if err != nil {
		return domain.CallResult{}, err
	}
	result, err := resultFrom(ref, payload, requestID)
	if err != nil {
		return domain.CallResult{}, err
	}
	if request.JSONSchema != nil {
		result.StructuredOutput = structuredFrom(result.OutputText)
	}
	return result, nil
}

func isChatEndpoint(endpoint string) bool {
	return strings.HasSuffix(strings.TrimRight(endpoint, "/"), "/chat/completions")
}

func responsesBody(model string, request domain.Request) map[string]any {
	body := map[string]any{
		"model": model,
		"input": request.User,
	}
	if request.System != "" {
		body["instructions"] = request.System
	}
	if request.MaxOutputTokens > 0 {
		body["max_output_tokens"] = request.MaxOutputTokens
	}
	if effort := mapEffort(model, request.ReasoningEffort); effort != "" {
		body["reasoning"] = map[string]any{"effort": string(effort)}
	}
	if request.Temperature != nil && !isReasoningModel(model) {
		body["temperature"] = *request.Temperature
	}
	if request.JSONSchema != nil {
		body["text"] = map[string]any{
			"format": map[string]any{
				"type":   "json_schema",
				"name":   "task_output",
				"schema": request.JSONSchema,
			},
		}
	}
	return body
}

func chatCompletionsBody(model string, request domain.Request) map[string]any {
	messages := make([]map[string]string, 0, 2)
	if request.System != "" {
		messages = append(messages, map[string]string{"role": "system", "content": request.System})
	}
	messages = append(messages, map[string]string{"role": "user", "content": request.User})
	body := map[string]any{
		"model":    model,
		"messages": messages,
	}
	if request.MaxOutputTokens > 0 {
		if isReasoningModel(model) {
			body["max_completion_tokens"] = request.MaxOutputTokens
		} else {
			body["max_tokens"] = request.MaxOutputTokens
		}
	}
	if effort := mapEffort(model, request.ReasoningEffort); effort != "" {
		body["reasoning_effort"] = string(effort)
	}
	if request.Temperature != nil && !isReasoningModel(model) {
		body["temperature"] = *request.Temperature
	}
	if request.JSONSchema != nil {
		body["response_format"] = map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   "task_output",
				"schema": request.JSONSchema,
			},
		}
	}
	return body
}

func structuredFrom(text string) map[string]any {
	var out map[string]any
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil
	}
	return out
}
