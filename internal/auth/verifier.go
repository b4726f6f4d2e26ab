package auth

import (
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Attempts counts consecutive failed logins for one username.
type Attempts struct {
	Count int
	Last  time.Time
}

// Decision is the result of one Verify call.
type Decision struct {
	OK        bool
	Locked    bool
	Remaining int
	Message   string
}

// Verifier checks credentials against stored users. It keeps no state:
// callers pass the current counters in and store the returned ones.
type Verifier struct {
	Policy Policy
}

// Verify checks password for u (nil when the username is unknown).
func (v Verifier) Verify(u *User, password string, a Attempts, now time.Time) (Decision, Attempts) {
	p := v.Policy.withDefaults()
	if a.Count >= p.MaxLoginAttempts {
		if now.Before(a.Last.Add(p.Lockout())) {
			return Decision{Locked: true, Message: fmt.Sprintf(
				"account locked due to too many failed attempts, try again in %d minutes", p.LockoutDurationMinutes)}, a
		}
		a = Attempts{}
	}

	if u != nil && bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil {
		name := u.Name
		return Decision{OK: true, Message: "welcome, " + name}, Attempts{}
	}

	a.Count++
	a.Last = now
	remaining := p.MaxLoginAttempts - a.Count
	if remaining <= 0 {
		return Decision{Locked: true, Message: "account locked due to too many failed attempts"}, a
	}
	return Decision{Remaining: remaining, Message: fmt.Sprintf(
		"invalid username or password, %d attempts remaining", remaining)}, a
}
