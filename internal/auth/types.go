package auth

import (
	"errors"
	"time"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrLocked             = errors.New("account locked")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenRevoked       = errors.New("token revoked")
	ErrUserNotFound       = errors.New("user not found")
	ErrUserAlreadyExists  = errors.New("user already exists")
)

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// User is one entry of the users file.
type User struct {
	PasswordHash string    `json:"password_hash"`
	Role         string    `json:"role"`
	Name         string    `json:"name,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
}

// Policy holds the login limits stored next to the users.
type Policy struct {
	SessionTimeoutMinutes  int `json:"session_timeout_minutes"`
	MaxLoginAttempts       int `json:"max_login_attempts"`
	LockoutDurationMinutes int `json:"lockout_duration_minutes"`
}

func DefaultPolicy() Policy {
	return Policy{SessionTimeoutMinutes: 60, MaxLoginAttempts: 3, LockoutDurationMinutes: 15}
}

func (p Policy) SessionTimeout() time.Duration {
	return time.Duration(p.SessionTimeoutMinutes) * time.Minute
}

func (p Policy) Lockout() time.Duration {
	return time.Duration(p.LockoutDurationMinutes) * time.Minute
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.SessionTimeoutMinutes <= 0 {
		p.SessionTimeoutMinutes = d.SessionTimeoutMinutes
	}
	if p.MaxLoginAttempts <= 0 {
		p.MaxLoginAttempts = d.MaxLoginAttempts
	}
	if p.LockoutDurationMinutes <= 0 {
		p.LockoutDurationMinutes = d.LockoutDurationMinutes
	}
	return p
}

// AuthResult is the outcome of a login or token check.
type AuthResult struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	Name     string `json:"name,omitempty"`
	Token    *Token `json:"token,omitempty"`
}

// Token is a signed session token.
type Token struct {
	Type      string    `json:"type"` // "Bearer"
	Value     string    `json:"value"`
	ID        string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
}

// UserInfo is a user without its hash.
type UserInfo struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}
