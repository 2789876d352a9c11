package llmerr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/lamosty/aharadar-sub003/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyTagsAuthFailures(t *testing.T) {
	cases := []string{
		"Invalid API key provided",
		"Could not resolve authentication method. Expected either apiKey or authToken",
		"401 Unauthorized",
		"Error: Not logged in · Please run /login",
		"codex: login required",
	}
	for _, message := range cases {
		t.Run(message, func(t *testing.T) {
			classified := Classify(errors.New(message))
			appErr, ok := domain.AsAppError(classified)
			require.True(t, ok)
			assert.Equal(t, domain.CodeProviderAuthRequired, appErr.Code)
			assert.Equal(t, AuthMessage, appErr.Message)
			assert.True(t, IsAuthError(classified))
		})
	}
}

func TestClassifyIsIdempotent(t *testing.T) {
	once := Classify(errors.New("forbidden"))
	twice := Classify(once)

	assert.Same(t, once, twice)
	first, _ := domain.AsAppError(once)
	second, _ := domain.AsAppError(twice)
	assert.Equal(t, first.Code, second.Code)
	assert.Equal(t, first.Message, second.Message)
}

func TestClassifyLeavesOtherErrorsAlone(t *testing.T) {
	plain := errors.New("connection reset by peer")
	assert.Same(t, plain, Classify(plain))
	assert.Nil(t, Classify(nil))

	configErr := domain.Configuration("OPENAI_API_KEY is not set")
	assert.Same(t, error(configErr), Classify(configErr))
}

func TestIsAuthErrorFallsBackToMessage(t *testing.T) {
	wrapped := fmt.Errorf("call failed: %w", errors.New("HTTP 403 Forbidden"))
	assert.True(t, IsAuthError(wrapped))
	assert.False(t, IsAuthError(errors.New("timeout")))
	assert.False(t, IsAuthError(nil))
}

func TestIsQuotaError(t *testing.T) {
	assert.True(t, IsQuotaError(errors.New("Quota exceeded for this hour")))
	assert.True(t, IsQuotaError(errors.New("429 Too Many Requests")))
	assert.True(t, IsQuotaError(errors.New("rate limit reached")))
	assert.True(t, IsQuotaError(domain.ResourceExhausted("codex-subscription quota exhausted")))
	assert.False(t, IsQuotaError(errors.New("bad gateway")))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(errors.New("502 bad gateway")))
	assert.True(t, IsRetryable(context.DeadlineExceeded))
	assert.True(t, IsRetryable(domain.InvalidOutput("output is not valid JSON", nil)))
	assert.False(t, IsRetryable(errors.New("rate limit")))
	assert.False(t, IsRetryable(errors.New("not logged in")))
	assert.False(t, IsRetryable(domain.Configuration("ANTHROPIC_API_KEY is not set")))
	assert.False(t, IsRetryable(nil))
}

type markedError struct{ retry bool }

func (e markedError) Error() string   { return "transcript truncated" }
func (e markedError) Retryable() bool { return e.retry }

func TestIsRetryableHonoursErrorMarker(t *testing.T) {
	assert.False(t, IsRetryable(fmt.Errorf("wrapped: %w", markedError{retry: false})))
	assert.True(t, IsRetryable(markedError{retry: true}))
}
