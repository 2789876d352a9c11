package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndParseToken(t *testing.T) {
	raw, err := IssueToken("s3cret", "digest-worker", time.Hour, time.Now())
	require.NoError(t, err)
	assert.True(t, LooksLikeJWT(raw))

	claims, err := ParseToken("s3cret", raw)
	require.NoError(t, err)
	assert.Equal(t, "digest-worker", claims.Caller)
	assert.Equal(t, "digest-worker", claims.Subject)
	assert.NotEmpty(t, claims.ID)
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	raw, err := IssueToken("s3cret", "w", time.Hour, time.Now())
	require.NoError(t, err)

	_, err = ParseToken("other", raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseTokenReportsExpiry(t *testing.T) {
	raw, err := IssueToken("s3cret", "w", time.Minute, time.Now().Add(-2*time.Hour))
	require.NoError(t, err)

	_, err = ParseToken("s3cret", raw)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestIssueTokenNeedsSecret(t *testing.T) {
	_, err := IssueToken(" ", "w", time.Hour, time.Now())
	assert.Error(t, err)
	assert.False(t, LooksLikeJWT("plain-token"))
}
