// Package llmerr classifies provider failures into stable, user-actionable
// categories so retry logic can tell fatal errors from transient ones.
package llmerr

import (
	"errors"
	"strings"

	"github.com/lamosty/aharadar-sub003/internal/domain"
)

// AuthMessage replaces the raw provider text of an authentication failure.
const AuthMessage = "LLM provider authentication failed: re-login to the subscription CLI or switch to an API-key provider"

var authPatterns = []string{
	"invalid api key",
	"invalid_api_key",
	"invalid x-api-key",
	"incorrect api key",
	"missing api key",
	"api key not found",
	"no api key",
	"could not resolve authentication method",
	"authentication_error",
	"authentication failed",
	"unauthorized",
	"forbidden",
	"not logged in",
	"login required",
	"please log in",
	"please run /login",
	"oauth token has expired",
}

var quotaPatterns = []string{
	"quota exceeded",
	"rate limit",
	"too many",
}

// Classify tags authentication failures with domain.CodeProviderAuthRequired.
// Errors that already carry an AppError code are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if _, coded := domain.AsAppError(err); coded {
		return err
	}
	if !matchesAny(err.Error(), authPatterns) {
		return err
	}
	return &domain.AppError{
		Code:    domain.CodeProviderAuthRequired,
		Message: AuthMessage,
		Cause:   err,
	}
}

// IsAuthError checks the code first and falls back to the message text, so
// it works on errors that were never passed through Classify.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	if domain.HasCode(err, domain.CodeProviderAuthRequired) {
		return true
	}
	return matchesAny(err.Error(), authPatterns)
}

func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}
	if domain.HasCode(err, domain.CodeResourceExhausted) {
		return true
	}
	return matchesAny(err.Error(), quotaPatterns)
}

// retryMarker lets an error opt out of the single retry.
type retryMarker interface {
	Retryable() bool
}

// IsRetryable reports whether a failed attempt may be retried once.
// Configuration, quota and authentication errors are fatal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var marker retryMarker
	if errors.As(err, &marker) && !marker.Retryable() {
		return false
	}
	if domain.HasCode(err, domain.CodeConfiguration) || domain.HasCode(err, domain.CodeInvalidArgument) {
		return false
	}
	return !IsQuotaError(err) && !IsAuthError(err)
}

func matchesAny(message string, patterns []string) bool {
	lower := strings.ToLower(message)
	for _, pattern := range patterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
