// Package csrf issues and verifies signed anti-forgery tokens for the contact
// endpoint. Tokens are stateless HS256 JWTs; nothing is stored server-side.
package csrf

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// HeaderName is the request header carrying the token
const HeaderName = "X-CSRF-Token"

// CookieName and MetaName are where a host page exposes the token
const (
	CookieName = "csrf-token"
	MetaName   = "csrf-token"
)

const (
	defaultIssuer = "zifr.one/contact"
	tokenType     = "csrf"
)

var (
	// ErrMissingToken is returned when no token was presented
	ErrMissingToken = errors.New("csrf: missing token")
	// ErrInvalidToken is returned for bad signatures, wrong type or expiry
	ErrInvalidToken = errors.New("csrf: invalid token")
)

// Claims are the JWT claims of a CSRF token
type Claims struct {
	Type string `json:"typ"`
	jwt.RegisteredClaims
}

// Token is an issued token and its expiry
type Token struct {
	Value     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Config holds Manager settings
type Config struct {
	Secret string
	TTL    time.Duration
	Issuer string
}

// Manager issues and verifies tokens
type Manager struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// NewManager creates a Manager. An empty secret is rejected.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Secret == "" {
		return nil, errors.New("csrf: secret is required")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	issuer := cfg.Issuer
	if issuer == "" {
		issuer = defaultIssuer
	}
	return &Manager{secret: []byte(cfg.Secret), ttl: ttl, issuer: issuer, now: time.Now}, nil
}

// Issue creates a fresh token
func (m *Manager) Issue() (Token, error) {
	now := m.now()
	expiresAt := now.Add(m.ttl)

	claims := Claims{
		Type: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.New().String(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return Token{}, fmt.Errorf("csrf: sign: %w", err)
	}
	return Token{Value: signed, ExpiresAt: expiresAt.UTC().Truncate(time.Second)}, nil
}

// Verify checks a presented token
func (m *Manager) Verify(value string) error {
	if value == "" {
		return ErrMissingToken
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(value, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secret, nil
	},
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Type != tokenType {
		return ErrInvalidToken
	}
	return nil
}
