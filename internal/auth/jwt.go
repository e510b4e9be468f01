// Package auth validates the bearer tokens clients present when opening a
// debate session. Credential issuance belongs to the identity service; this
// package only mints tokens for tests and local development.
package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenTypeAccess is the only token type accepted by the coordinator.
const TokenTypeAccess = "access"

// AccessTokenExpiry is the lifetime of tokens minted by GenerateAccessToken.
const AccessTokenExpiry = 15 * time.Minute

// DefaultLeeway is the clock skew tolerated during validation.
const DefaultLeeway = 30 * time.Second

var (
	// ErrInvalidToken is returned when token validation fails.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when the token has expired.
	ErrExpiredToken = errors.New("token has expired")
	// ErrEmptyIdentity is returned when a token carries no identity.
	ErrEmptyIdentity = errors.New("identity cannot be empty")
)

// Claims are the JWT claims understood by the coordinator. The subject is
// the user's identity; Name is an optional display name.
type Claims struct {
	jwt.RegisteredClaims
	Name string `json:"name,omitempty"`
	Type string `json:"typ"`
}

// Identity returns the authenticated identity carried in the subject claim.
func (c *Claims) Identity() string {
	return c.Subject
}

// JWTService validates HS256 tokens. Tokens are signed with the current
// secret and accepted under either the current or previous secret, which
// allows zero-downtime rotation.
type JWTService struct {
	currentSecret  []byte
	previousSecret []byte
	leeway         time.Duration
	now            func() time.Time
}

// Option customizes a JWTService.
type Option func(*JWTService)

// WithPreviousSecret accepts tokens signed with a secret being rotated out.
func WithPreviousSecret(secret string) Option {
	return func(s *JWTService) {
		if secret != "" {
			s.previousSecret = []byte(secret)
		}
	}
}

// WithLeeway overrides DefaultLeeway.
func WithLeeway(d time.Duration) Option {
	return func(s *JWTService) { s.leeway = d }
}

// NewJWTService creates a JWTService for secret.
func NewJWTService(secret string, opts ...Option) *JWTService {
	svc := &JWTService{
		currentSecret: []byte(secret),
		leeway:        DefaultLeeway,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// GenerateAccessToken mints an access token for identity.
func (s *JWTService) GenerateAccessToken(identity, name string) (string, error) {
	return s.generate(identity, name, AccessTokenExpiry)
}

func (s *JWTService) generate(identity, name string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(identity) == "" {
		return "", ErrEmptyIdentity
	}
	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Name: name,
		Type: TokenTypeAccess,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.currentSecret)
}

// ValidateToken parses and validates an access token, returning its claims.
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	claims, err := s.parse(tokenString, s.currentSecret)
	if err != nil && s.previousSecret != nil && !errors.Is(err, jwt.ErrTokenExpired) {
		claims, err = s.parse(tokenString, s.previousSecret)
	}
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if claims.Type != TokenTypeAccess {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrEmptyIdentity
	}
	return claims, nil
}

func (s *JWTService) parse(tokenString string, secret []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, ErrInvalidToken
		}
		return secret, nil
	}, jwt.WithLeeway(s.leeway), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
