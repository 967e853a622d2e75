package jwttoken

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"icstore/internal/platform/middleware"
	dErrors "icstore/pkg/domain-errors"
)

var _ middleware.JWTValidator = (*Service)(nil)

func TestIssueAndParse(t *testing.T) {
	svc := New("test-signing-key")
	token, err := svc.Issue("alice", true, time.Hour)
	require.NoError(t, err)

	claims, err := svc.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Curator)
	assert.Equal(t, "alice", claims.Subject)
	assert.True(t, claims.Admin)
	assert.NotEmpty(t, claims.ID)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, time.Minute)

	mw, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, &middleware.JWTClaims{UserID: "alice", Admin: true}, mw)
}

func TestIssueRequiresCurator(t *testing.T) {
	_, err := New("k").Issue("", false, time.Hour)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))
}

func TestParseRejects(t *testing.T) {
	svc := New("test-signing-key", WithLeeway(0))
	past := New("test-signing-key", WithClock(func() time.Time { return time.Now().Add(-2 * time.Hour) }))
	expired, err := past.Issue("alice", false, time.Hour)
	require.NoError(t, err)
	otherKey, err := New("another-key").Issue("alice", false, time.Hour)
	require.NoError(t, err)

	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, CuratorClaims{
		Curator: "alice",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			Audience:  jwt.ClaimStrings{Audience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	foreignToken, err := foreign.SignedString([]byte("test-signing-key"))
	require.NoError(t, err)

	noExpiry := jwt.NewWithClaims(jwt.SigningMethodHS256, CuratorClaims{
		Curator: "alice",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   Issuer,
			Audience: jwt.ClaimStrings{Audience},
		},
	})
	noExpiryToken, err := noExpiry.SignedString([]byte("test-signing-key"))
	require.NoError(t, err)

	tests := map[string]struct {
		token   string
		message string
	}{
		"garbage":      {token: "not-a-token", message: "invalid token"},
		"expired":      {token: expired, message: "expired"},
		"wrong key":    {token: otherKey, message: "invalid token"},
		"wrong issuer": {token: foreignToken, message: "invalid token"},
		"missing exp":  {token: noExpiryToken, message: "invalid token"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Parse(tt.token)
			require.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestLeewayAcceptsSmallSkew(t *testing.T) {
	skewed := New("k", WithClock(func() time.Time { return time.Now().Add(-65 * time.Second) }))
	token, err := skewed.Issue("bob", false, time.Minute)
	require.NoError(t, err)

	_, err = New("k", WithLeeway(0)).Parse(token)
	assert.Error(t, err)
	_, err = New("k", WithLeeway(time.Minute)).Parse(token)
	assert.NoError(t, err)
}
