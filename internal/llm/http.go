package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/lamosty/aharadar-sub003/internal/domain"
)

const maxResponseBytes = 8 << 20

// postJSON sends body to ref.Endpoint and decodes a JSON object response.
// Non-2xx statuses and undecodable bodies come back as *ProviderError. The
// request id header, if any, is returned alongside the payload.
func postJSON(ctx context.Context, client *http.Client, ref domain.ModelRef, headers map[string]string, body any) (map[string]any, string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, "", fmt.Errorf("encode %s request: %w", ref.Provider, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ref.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, "", fmt.Errorf("build %s request: %w", ref.Provider, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for name, value := range headers {
		req.Header.Set(name, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, "", &ProviderError{
			Provider: ref.Provider,
			Endpoint: ref.Endpoint,
			Model:    ref.Model,
			Message:  err.Error(),
		}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, "", &ProviderError{
			Provider:  ref.Provider,
			Endpoint:  ref.Endpoint,
			Model:     ref.Model,
			Status:    resp.StatusCode,
			RequestID: requestIDFrom(resp.Header),
			Message:   "read response body: " + err.Error(),
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", &ProviderError{
			Provider:  ref.Provider,
			Endpoint:  ref.Endpoint,
			Model:     ref.Model,
			Status:    resp.StatusCode,
			RequestID: requestIDFrom(resp.Header),
			Snippet:   snippet(raw),
			Message:   "non-success response",
		}
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil || decoded == nil {
		return nil, "", &ProviderError{
			Provider:  ref.Provider,
			Endpoint:  ref.Endpoint,
			Model:     ref.Model,
			Status:    resp.StatusCode,
			RequestID: requestIDFrom(resp.Header),
			Snippet:   snippet(raw),
			Message:   "response is not a JSON object",
		}
	}
	return decoded, requestIDFrom(resp.Header), nil
}

// resultFrom runs the shape pipeline over a decoded response.
func resultFrom(ref domain.ModelRef, payload map[string]any, requestID string) (domain.CallResult, error) {
	text, _, ok := ExtractText(payload)
	if !ok {
		return domain.CallResult{}, &ProviderError{
			Provider:  ref.Provider,
			Endpoint:  ref.Endpoint,
			Model:     ref.Model,
			Status:    http.StatusOK,
			RequestID: requestID,
			Snippet:   snippetOf(payload),
			Message:   "response contained no assistant text",
		}
	}
	input, output := extractUsage(payload)
	return domain.CallResult{
		OutputText:   text,
		RawResponse:  payload,
		InputTokens:  input,
		OutputTokens: output,
		Endpoint:     ref.Endpoint,
	}, nil
}
