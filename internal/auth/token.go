// Package auth implements the token/credential validator external
// collaborator named by spec.md §1: a Principal identity attached to
// every SubscribeRequest and Update. Production deployments front the
// broker with their own identity provider and only ever call
// Validate; PrincipalStore exists solely to mint tokens for local
// testing and development.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/arces-wot/sepa/internal/apierror"
)

// Principal is the opaque authenticated identity carried by a
// SubscribeRequest or Update.
type Principal struct {
	Subject string
	Roles   []string
}

// claims is the JWT payload minted and validated by TokenService.
type claims struct {
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// TokenValidator validates an opaque bearer token into a Principal.
type TokenValidator interface {
	Validate(token string) (Principal, error)
}

// TokenService is a symmetric-key JWT TokenValidator; it also mints
// tokens, which only the local dev credential flow (PrincipalStore)
// uses.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenService builds a TokenService signing and verifying with
// HS256 over secret.
func NewTokenService(secret []byte, ttl time.Duration) *TokenService {
	return &TokenService{secret: secret, ttl: ttl}
}

var _ TokenValidator = (*TokenService)(nil)

// Validate implements TokenValidator.
func (s *TokenService) Validate(token string) (Principal, error) {
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("auth: unexpected signing method")
		}
		return s.secret, nil
	})
	if err != nil {
		return Principal{}, apierror.Auth(err.Error())
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return Principal{}, apierror.Auth("invalid token")
	}
	return Principal{Subject: c.Subject, Roles: c.Roles}, nil
}

// Mint issues a signed token for subject, for local dev use only.
func (s *TokenService) Mint(subject string, roles []string) (string, error) {
	now := time.Now()
	c := claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
}
