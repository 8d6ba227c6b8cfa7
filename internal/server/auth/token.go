// Package auth implements the token service: issuing and validating the
// HMAC-signed bearer tokens used by the credential flows.
//
// Access tokens carry the subject user id plus role claims and live for a
// short period. Refresh tokens are anonymous at the cryptographic layer: the
// only claim besides issuer/audience/lifetime is a random token id. The
// binding between a refresh token and a user exists solely in the durable
// refresh-token record.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/dkravtsov/authd/internal/clock"
)

// AccessClaims is the claim set of an access token.
type AccessClaims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles,omitempty"`
}

// Config holds the signing material and token parameters. Both secrets are
// required; a missing secret is a configuration error, not a runtime one.
type Config struct {
	AccessSecret  []byte
	RefreshSecret []byte
	Issuer        string
	Audience      string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// TokenService creates and validates bearer tokens. It keeps no state beyond
// its configuration and clock.
type TokenService struct {
	cfg   Config
	clock clock.Clock
}

// NewTokenService validates the configuration and returns a TokenService.
func NewTokenService(cfg Config, clk clock.Clock) (*TokenService, error) {
	if len(cfg.AccessSecret) == 0 {
		return nil, errors.New("auth: access token secret is not configured")
	}
	if len(cfg.RefreshSecret) == 0 {
		return nil, errors.New("auth: refresh token secret is not configured")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 8 * time.Hour
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 12 * time.Hour
	}
	if clk == nil {
		clk = clock.System()
	}
	return &TokenService{cfg: cfg, clock: clk}, nil
}

// IssueAccessToken builds and signs an access token for the given user. The
// token id is random; everything else is deterministic given the clock.
func (s *TokenService) IssueAccessToken(userID string, roles []string) (string, error) {
	now := s.clock.Now()

	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        uuid.NewString(),
			Issuer:    s.cfg.Issuer,
			Audience:  jwt.ClaimStrings{s.cfg.Audience},
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.AccessTTL)),
		},
		Roles: roles,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
	return token.SignedString(s.cfg.AccessSecret)
}

// IssueRefreshToken builds and signs an anonymous refresh token carrying
// only a random token id.
func (s *TokenService) IssueRefreshToken() (string, error) {
	now := s.clock.Now()

	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    s.cfg.Issuer,
		Audience:  jwt.ClaimStrings{s.cfg.Audience},
		NotBefore: jwt.NewNumericDate(now),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.RefreshTTL)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
	return token.SignedString(s.cfg.RefreshSecret)
}

// ValidateRefreshToken reports whether the given string is a refresh token
// this service issued and that has not expired. It never returns an error:
// malformed input, a signature mismatch, a wrong issuer or audience, and an
// expired lifetime all yield false. No side effects; the durable store is
// not consulted.
func (s *TokenService) ValidateRefreshToken(tokenString string) bool {
	if tokenString == "" {
		return false
	}

	_, err := jwt.Parse(tokenString,
		func(t *jwt.Token) (any, error) { return s.cfg.RefreshSecret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithAudience(s.cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock.Now),
	)
	return err == nil
}

// ParseAccessToken verifies an access token and returns its claims. The
// transport layer uses this to resolve the current user for a request.
func (s *TokenService) ParseAccessToken(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (any, error) { return s.cfg.AccessSecret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithAudience(s.cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenUnverifiable
	}

	return claims, nil
}
