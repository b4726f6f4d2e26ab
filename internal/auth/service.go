// Package auth guards the chat UI: a JSON users file with bcrypt hashes,
// login lockout after repeated failures and revocable JWT session tokens.
package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/medchat/internal/logger"
)

// Config configures a Service. Zero values fall back to the users file policy.
type Config struct {
	UsersFile   string
	JWTSecret   string
	TokenTTL    time.Duration
	Issuer      string
	MaxAttempts int
	Lockout     time.Duration
	Logger      *slog.Logger
}

// Service composes the users Store, the Verifier and Tokens.
type Service struct {
	store  *Store
	tokens *Tokens
	policy Policy
	log    *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	attempts map[string]Attempts
}

func NewService(cfg Config) (*Service, error) {
	return newService(NewStore(cfg.UsersFile), cfg)
}

func newService(store *Store, cfg Config) (*Service, error) {
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}
	policy, err := store.Policy()
	if err != nil {
		return nil, err
	}
	if cfg.MaxAttempts > 0 {
		policy.MaxLoginAttempts = cfg.MaxAttempts
	}
	if cfg.Lockout > 0 {
		policy.LockoutDurationMinutes = int(cfg.Lockout / time.Minute)
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = policy.SessionTimeout()
	}

	secret := []byte(cfg.JWTSecret)
	if len(secret) == 0 {
		// tokens will not survive a restart
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate JWT secret: %w", err)
		}
	}
	return &Service{
		store:    store,
		tokens:   NewTokens(secret, ttl, cfg.Issuer),
		policy:   policy,
		log:      cfg.Logger.With("component", "auth"),
		now:      time.Now,
		attempts: map[string]Attempts{},
	}, nil
}

func (s *Service) Store() *Store   { return s.store }
func (s *Service) Policy() Policy  { return s.policy }
func (s *Service) Tokens() *Tokens { return s.tokens }

// Login checks credentials and issues a token. Failures wrap
// ErrInvalidCredentials or ErrLocked with an operator-readable message.
func (s *Service) Login(username, password string) (*AuthResult, error) {
	if username == "" || password == "" {
		return nil, fmt.Errorf("%w: enter both username and password", ErrInvalidCredentials)
	}
	var user *User
	u, err := s.store.Get(username)
	switch {
	case err == nil:
		user = &u
	case !errors.Is(err, ErrUserNotFound):
		return nil, err
	}

	s.mu.Lock()
	d, next := Verifier{Policy: s.policy}.Verify(user, password, s.attempts[username], s.now())
	if next.Count == 0 {
		delete(s.attempts, username)
	} else {
		s.attempts[username] = next
	}
	s.mu.Unlock()

	switch {
	case d.OK:
	case d.Locked:
		s.log.Warn("login locked out", "user", username)
		return nil, fmt.Errorf("%w: %s", ErrLocked, d.Message)
	default:
		s.log.Info("login failed", "user", username, "remaining", d.Remaining)
		return nil, fmt.Errorf("%w: %s", ErrInvalidCredentials, d.Message)
	}

	tok, err := s.tokens.Issue(username, user.Role, user.Name)
	if err != nil {
		return nil, err
	}
	s.log.Info("login", "user", username, "role", user.Role)
	return &AuthResult{Username: username, Role: user.Role, Name: user.Name, Token: tok}, nil
}

// Authenticate validates a bearer token.
func (s *Service) Authenticate(token string) (*AuthResult, error) {
	c, err := s.tokens.Validate(token)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Username: c.Subject, Role: c.Role, Name: c.Name}, nil
}

// Logout revokes token.
func (s *Service) Logout(token string) error {
	return s.tokens.Revoke(token)
}
