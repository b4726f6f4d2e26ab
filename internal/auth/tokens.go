package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims are carried by session tokens.
type Claims struct {
	Role string `json:"role"`
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Tokens issues and validates HS256 session tokens and remembers revoked
// token IDs until they would have expired anyway.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time

	mu      sync.Mutex
	revoked map[string]time.Time
}

func NewTokens(secret []byte, ttl time.Duration, issuer string) *Tokens {
	if issuer == "" {
		issuer = "medchat"
	}
	return &Tokens{secret: secret, ttl: ttl, issuer: issuer, now: time.Now, revoked: map[string]time.Time{}}
}

func (t *Tokens) Issue(username, role, name string) (*Token, error) {
	now := t.now()
	exp := now.Add(t.ttl)
	id := uuid.NewString()
	claims := &Claims{
		Role: role,
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Subject:   username,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &Token{Type: "Bearer", Value: signed, ID: id, ExpiresAt: exp}, nil
}

// Validate parses s and rejects expired, foreign or revoked tokens.
func (t *Tokens) Validate(s string) (*Claims, error) {
	if s == "" {
		return nil, ErrInvalidToken
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(s, claims, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	t.mu.Lock()
	_, revoked := t.revoked[claims.ID]
	t.mu.Unlock()
	if revoked {
		return nil, ErrTokenRevoked
	}
	return claims, nil
}

// Revoke invalidates s. Revoking an invalid token is an error; revoking
// twice is not.
func (t *Tokens) Revoke(s string) error {
	claims, err := t.Validate(s)
	if errors.Is(err, ErrTokenRevoked) {
		return nil
	}
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	for id, exp := range t.revoked {
		if now.After(exp) {
			delete(t.revoked, id)
		}
	}
	t.revoked[claims.ID] = claims.ExpiresAt.Time
	return nil
}

// Revoked is the number of revocations still tracked.
func (t *Tokens) Revoked() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.revoked)
}
