// Package agent talks to Bedrock agents: invocation, error categorization
// and a cached availability check.
package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/types"
	"github.com/aws/smithy-go"
)

var (
	ErrNoAgentID            = errors.New("no agent id configured")
	ErrAgentNotFound        = errors.New("agent not found")
	ErrAccessDenied         = errors.New("access denied")
	ErrInvalidConfiguration = errors.New("invalid agent configuration")
	// ErrTransient marks failures worth retrying: throttling, 5xx, network.
	ErrTransient = errors.New("transient agent error")
)

// Target identifies one deployed agent alias.
type Target struct {
	ID     string `json:"id"`
	Alias  string `json:"alias"`
	Region string `json:"region"`
}

func (t Target) String() string { return t.Region + "/" + t.ID + "/" + t.Alias }

// Request is one user turn.
type Request struct {
	Target
	SessionID string
	Text      string
	Trace     bool
}

// Response is the agent's reply. SessionID is the one the service used,
// which callers should keep for the next turn.
type Response struct {
	Text      string
	SessionID string
}

// Invoker sends a request to an agent.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (Response, error)
}

// WithTimeout bounds every call to inv by d. A non-positive d returns inv.
func WithTimeout(inv Invoker, d time.Duration) Invoker {
	if d <= 0 {
		return inv
	}
	return timeoutInvoker{inv: inv, d: d}
}

type timeoutInvoker struct {
	inv Invoker
	d   time.Duration
}

func (t timeoutInvoker) Invoke(ctx context.Context, req Request) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.inv.Invoke(ctx, req)
}

var transientCodes = map[string]bool{
	"ThrottlingException":           true,
	"ServiceQuotaExceededException": true,
	"InternalServerException":       true,
	"DependencyFailedException":     true,
	"BadGatewayException":           true,
	"ServiceUnavailableException":   true,
	"RequestTimeout":                true,
	"RequestTimeoutException":       true,
}

// Categorize wraps err with one of the package sentinels when it can be
// classified. Unclassified errors are returned unchanged.
func Categorize(err error) error {
	if err == nil {
		return nil
	}
	var (
		notFound   *types.ResourceNotFoundException
		denied     *types.AccessDeniedException
		invalid    *types.ValidationException
		throttled  *types.ThrottlingException
		internal   *types.InternalServerException
		quota      *types.ServiceQuotaExceededException
		dependency *types.DependencyFailedException
		gateway    *types.BadGatewayException
	)
	switch {
	case errors.Is(err, ErrNoAgentID), errors.Is(err, ErrAgentNotFound), errors.Is(err, ErrAccessDenied),
		errors.Is(err, ErrInvalidConfiguration), errors.Is(err, ErrTransient):
		return err
	case errors.As(err, &notFound):
		return fmt.Errorf("%w: %w", ErrAgentNotFound, err)
	case errors.As(err, &denied):
		return fmt.Errorf("%w: %w", ErrAccessDenied, err)
	case errors.As(err, &invalid):
		return fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	case errors.As(err, &throttled), errors.As(err, &internal), errors.As(err, &quota),
		errors.As(err, &dependency), errors.As(err, &gateway):
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}

	var ae smithy.APIError
	if errors.As(err, &ae) {
		switch code := ae.ErrorCode(); {
		case code == "ResourceNotFoundException":
			return fmt.Errorf("%w: %w", ErrAgentNotFound, err)
		case code == "AccessDeniedException" || code == "UnrecognizedClientException":
			return fmt.Errorf("%w: %w", ErrAccessDenied, err)
		case code == "ValidationException":
			return fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
		case transientCodes[code] || ae.ErrorFault() == smithy.FaultServer:
			return fmt.Errorf("%w: %w", ErrTransient, err)
		}
		return err
	}

	var ne net.Error
	if errors.As(err, &ne) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	if strings.Contains(err.Error(), "connection reset") {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	return err
}
