package agent

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/loykin/medchat/internal/logger"
)

// Status is the availability of one agent alias.
type Status string

const (
	StatusUnknown       Status = "unknown"
	StatusAvailable     Status = "available"
	StatusNoAgentID     Status = "no_agent_id"
	StatusNotFound      Status = "not_found"
	StatusAccessDenied  Status = "access_denied"
	StatusInvalidConfig Status = "invalid_configuration"
	// StatusUnavailable means transient failures outlasted the retries.
	StatusUnavailable Status = "unavailable"
	StatusError       Status = "error"
)

// Label is the operator-facing text shown in the UI.
func (s Status) Label() string {
	switch s {
	case StatusAvailable:
		return "Available"
	case StatusNoAgentID:
		return "No Agent ID"
	case StatusNotFound:
		return "Agent Not Found"
	case StatusAccessDenied:
		return "Access Denied"
	case StatusInvalidConfig:
		return "Invalid Configuration"
	case StatusUnavailable:
		return "Temporarily Unavailable"
	case StatusError:
		return "Error"
	default:
		return "Unknown"
	}
}

// StatusOf maps an invocation error onto a Status.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusAvailable
	case errors.Is(err, ErrNoAgentID):
		return StatusNoAgentID
	case errors.Is(err, ErrAgentNotFound):
		return StatusNotFound
	case errors.Is(err, ErrAccessDenied):
		return StatusAccessDenied
	case errors.Is(err, ErrInvalidConfiguration):
		return StatusInvalidConfig
	case errors.Is(err, ErrTransient):
		return StatusUnavailable
	default:
		return StatusError
	}
}

// CheckResult is one availability probe outcome.
type CheckResult struct {
	Target    Target    `json:"target"`
	Status    Status    `json:"status"`
	Detail    string    `json:"detail,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
	Attempts  int       `json:"attempts"`
}

// CheckerOptions tunes StatusChecker.
type CheckerOptions struct {
	TTL             time.Duration // how long a definitive result is reused
	FailureTTL      time.Duration // how long an "unavailable" result is reused
	MaxTries        int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	ProbeText       string
	Logger          *slog.Logger
}

// StatusChecker probes agents with a throwaway session, retrying transient
// failures with exponential backoff and caching results per target.
type StatusChecker struct {
	inv  Invoker
	opts CheckerOptions
	log  *slog.Logger
	now  func() time.Time

	mu    sync.Mutex
	cache map[Target]CheckResult
}

func NewStatusChecker(inv Invoker, opts CheckerOptions) *StatusChecker {
	if opts.TTL <= 0 {
		opts.TTL = 5 * time.Minute
	}
	if opts.FailureTTL <= 0 {
		opts.FailureTTL = 30 * time.Second
	}
	if opts.MaxTries <= 0 {
		opts.MaxTries = 3
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 500 * time.Millisecond
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = 5 * time.Second
	}
	if opts.ProbeText == "" {
		opts.ProbeText = "Hello"
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	return &StatusChecker{
		inv:   inv,
		opts:  opts,
		log:   opts.Logger.With("component", "agent-status"),
		now:   time.Now,
		cache: map[Target]CheckResult{},
	}
}

// Check returns a cached result when still fresh, otherwise probes.
func (c *StatusChecker) Check(ctx context.Context, t Target) CheckResult {
	if r, ok := c.Cached(t); ok {
		return r
	}
	return c.Refresh(ctx, t)
}

// Cached returns the stored result for t if it has not expired.
func (c *StatusChecker) Cached(t Target) (CheckResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.cache[t]
	if !ok {
		return CheckResult{}, false
	}
	ttl := c.opts.TTL
	if r.Status == StatusUnavailable || r.Status == StatusError {
		ttl = c.opts.FailureTTL
	}
	if c.now().Sub(r.CheckedAt) > ttl {
		return CheckResult{}, false
	}
	return r, true
}

// Invalidate drops the cached result for t.
func (c *StatusChecker) Invalidate(t Target) {
	c.mu.Lock()
	delete(c.cache, t)
	c.mu.Unlock()
}

// Refresh probes t now and stores the result.
func (c *StatusChecker) Refresh(ctx context.Context, t Target) CheckResult {
	res := CheckResult{Target: t}
	if t.ID == "" {
		res.Status = StatusNoAgentID
		res.CheckedAt = c.now()
		return c.store(res)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.InitialInterval
	b.MaxInterval = c.opts.MaxInterval
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.opts.MaxTries-1)), ctx)

	err := backoff.Retry(func() error {
		res.Attempts++
		_, err := c.inv.Invoke(ctx, Request{
			Target:    t,
			SessionID: uuid.NewString(),
			Text:      c.opts.ProbeText,
		})
		err = Categorize(err)
		if err == nil || errors.Is(err, ErrTransient) {
			return err
		}
		return backoff.Permanent(err)
	}, policy)

	res.Status = StatusOf(err)
	if err != nil {
		res.Detail = err.Error()
		c.log.Warn("agent status check failed", "target", t.String(), "status", res.Status, "attempts", res.Attempts, "error", err)
	} else {
		c.log.Debug("agent available", "target", t.String(), "attempts", res.Attempts)
	}
	res.CheckedAt = c.now()
	return c.store(res)
}

func (c *StatusChecker) store(r CheckResult) CheckResult {
	c.mu.Lock()
	c.cache[r.Target] = r
	c.mu.Unlock()
	return r
}
