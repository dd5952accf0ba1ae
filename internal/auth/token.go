package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Authentication failures surfaced by the token service. Handlers map all of
// them to 401 responses; the distinct values exist so callers and tests can
// tell the sub-reasons apart.
var (
	ErrMissingCredential = errors.New("authorization header missing")
	ErrMalformedHeader   = errors.New("authorization header malformed")
	ErrInvalidSignature  = errors.New("token signature invalid")
	ErrExpiredToken      = errors.New("token expired")
	ErrMalformedToken    = errors.New("token malformed")
	ErrForbidden         = errors.New("not authorized")
)

// DefaultTokenLifetime is how long an issued token stays valid. Tokens are
// never refreshed or revoked; expiry is the only terminal state.
const DefaultTokenLifetime = 24 * time.Hour

// Claims is the fixed-field payload carried by every issued token.
type Claims struct {
	Username string `json:"username"`
	Admin    bool   `json:"admin"`
	jwt.RegisteredClaims
}

// TokenService issues and validates HS256-signed bearer tokens using a single
// shared symmetric secret. Validation is fully offline.
type TokenService struct {
	secret   []byte
	lifetime time.Duration
	now      func() time.Time
}

// Option customises a TokenService.
type Option func(*TokenService)

// WithClock overrides the time source, primarily for tests exercising expiry.
func WithClock(now func() time.Time) Option {
	return func(s *TokenService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewTokenService constructs a service signing with the provided secret. A
// non-positive lifetime falls back to DefaultTokenLifetime.
func NewTokenService(secret []byte, lifetime time.Duration, opts ...Option) *TokenService {
	svc := &TokenService{
		secret:   secret,
		lifetime: lifetime,
		now:      time.Now,
	}
	if svc.lifetime <= 0 {
		svc.lifetime = DefaultTokenLifetime
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Issue signs a token for the given principal. Every authenticated principal
// receives the admin claim; this deployment has a single privilege tier.
func (s *TokenService) Issue(username string) (string, error) {
	issued := s.now().UTC()
	claims := Claims{
		Username: username,
		Admin:    true,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(s.lifetime)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", err
	}
	return signed, nil
}

// Validate parses and verifies a raw token string. It returns the decoded
// claims only when the signature verifies, the token has not expired, and all
// required fields are present.
func (s *TokenService) Validate(raw string) (Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return Claims{}, ErrInvalidSignature
		case errors.Is(err, jwt.ErrTokenExpired):
			return Claims{}, ErrExpiredToken
		default:
			return Claims{}, ErrMalformedToken
		}
	}
	if !token.Valid {
		return Claims{}, ErrMalformedToken
	}
	if strings.TrimSpace(claims.Username) == "" || claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return Claims{}, ErrMalformedToken
	}
	return *claims, nil
}

// BearerFromRequest extracts the token segment from the Authorization header.
// The header is split on whitespace and the second field taken, mirroring the
// wire form "Bearer <token>".
func BearerFromRequest(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", ErrMissingCredential
	}
	fields := strings.Fields(header)
	if len(fields) < 2 {
		return "", ErrMalformedHeader
	}
	return fields[1], nil
}
