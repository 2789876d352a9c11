package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/lamosty/aharadar-sub003/internal/redact"
)

const maxSnippetChars = 500

// requestIDHeaders are checked in order; the first present value wins.
var requestIDHeaders = []string{
	"x-request-id",
	"request-id",
	"openai-request-id",
	"anthropic-request-id",
	"cf-ray",
}

// ProviderError is a transport or response-shape failure from one provider
// call. It never carries a credential: the snippet is redacted.
type ProviderError struct {
	Provider  string
	Endpoint  string
	Model     string
	Status    int
	RequestID string
	Snippet   string
	Message   string
	// Fatal marks failures a second attempt cannot fix.
	Fatal bool
}

func (e *ProviderError) Retryable() bool {
	return !e.Fatal
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s call failed: %s", e.Provider, e.Message)
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status=%d %s)", e.Status, http.StatusText(e.Status))
	}
	fmt.Fprintf(&b, " endpoint=%s model=%s", e.Endpoint, e.Model)
	if e.RequestID != "" {
		fmt.Fprintf(&b, " request_id=%s", e.RequestID)
	}
	if e.Snippet != "" {
		fmt.Fprintf(&b, " body=%s", e.Snippet)
	}
	return b.String()
}

func requestIDFrom(header http.Header) string {
	if header == nil {
		return ""
	}
	for _, name := range requestIDHeaders {
		if value := strings.TrimSpace(header.Get(name)); value != "" {
			return value
		}
	}
	return ""
}

// snippet renders body for diagnostics: compact JSON when it parses, raw text
// otherwise, then redacted and truncated.
func snippet(body []byte) string {
	text := strings.TrimSpace(string(body))
	if text == "" {
		return ""
	}
	var compact bytes.Buffer
	if json.Valid(body) && json.Compact(&compact, body) == nil {
		text = compact.String()
	}
	return truncate(redact.String(text), maxSnippetChars)
}

func snippetOf(value any) string {
	if value == nil {
		return ""
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return truncate(redact.String(fmt.Sprint(value)), maxSnippetChars)
	}
	return snippet(raw)
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
