// Package jwttoken issues and validates the HS256 bearer tokens that carry
// the acting curator's identity.
package jwttoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"icstore/internal/platform/middleware"
	dErrors "icstore/pkg/domain-errors"
)

const (
	// Issuer and Audience are fixed for icstore-minted tokens.
	Issuer   = "icstore"
	Audience = "icstore"

	defaultLeeway = 30 * time.Second
)

// CuratorClaims identifies a curator. Admin unlocks administrative routes.
type CuratorClaims struct {
	Curator string `json:"curator"`
	Admin   bool   `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

// Service signs and verifies curator tokens with a shared secret.
type Service struct {
	key    []byte
	leeway time.Duration
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLeeway tolerates clock skew when checking exp and iat.
func WithLeeway(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.leeway = d
		}
	}
}

// WithClock overrides the time source used when issuing tokens.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(signingKey string, opts ...Option) *Service {
	s := &Service{key: []byte(signingKey), leeway: defaultLeeway, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue signs a token for curator valid for ttl.
func (s *Service) Issue(curator string, admin bool, ttl time.Duration) (string, error) {
	if curator == "" {
		return "", dErrors.New(dErrors.CodeBadRequest, "curator is required")
	}
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, CuratorClaims{
		Curator: curator,
		Admin:   admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   curator,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    Issuer,
			Audience:  jwt.ClaimStrings{Audience},
			ID:        uuid.NewString(),
		},
	})
	return token.SignedString(s.key)
}

// Parse verifies signature, issuer, audience and expiry.
func (s *Service) Parse(raw string) (*CuratorClaims, error) {
	claims := &CuratorClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithAudience(Audience),
		jwt.WithLeeway(s.leeway),
		jwt.WithExpirationRequired(),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
	case err != nil:
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	case claims.Curator == "":
		return nil, dErrors.New(dErrors.CodeUnauthorized, "token names no curator")
	}
	return claims, nil
}

// ValidateToken satisfies middleware.JWTValidator.
func (s *Service) ValidateToken(raw string) (*middleware.JWTClaims, error) {
	claims, err := s.Parse(raw)
	if err != nil {
		return nil, err
	}
	return &middleware.JWTClaims{UserID: claims.Curator, Admin: claims.Admin}, nil
}
