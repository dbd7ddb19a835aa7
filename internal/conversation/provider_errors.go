package conversation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind is the closed set of provider failure classes.
type ErrorKind int

const (
	KindOther ErrorKind = iota
	KindAuth
	KindQuota
	KindOverload
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindQuota:
		return "quota"
	case KindOverload:
		return "overload"
	default:
		return "other"
	}
}

// Decision is what the orchestrator does after a primary failure.
type Decision int

const (
	DecisionFailover Decision = iota
	DecisionRetry
)

// DefaultPolicy retries transient overloads against the same provider and
// fails over on everything else.
func DefaultPolicy() map[ErrorKind]Decision {
	return map[ErrorKind]Decision{
		KindAuth:     DecisionFailover,
		KindQuota:    DecisionFailover,
		KindOverload: DecisionRetry,
		KindOther:    DecisionFailover,
	}
}

// ProviderError tags a provider failure with its kind.
type ProviderError struct {
	Provider string
	Kind     ErrorKind
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("conversation: %s provider %s error: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// ErrAIUnavailable means every configured provider failed for a turn.
var ErrAIUnavailable = errors.New("conversation: ai providers unavailable")

// KindOf extracts the error kind, treating untyped errors as KindOther.
func KindOf(err error) ErrorKind {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindOverload
	}
	return KindOther
}

func kindFromStatus(code int) ErrorKind {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindAuth
	case http.StatusTooManyRequests, http.StatusPaymentRequired:
		return KindQuota
	case http.StatusServiceUnavailable:
		return KindOverload
	default:
		return KindOther
	}
}

// kindFromMessage is a last resort for SDK errors that carry no status.
func kindFromMessage(msg string) ErrorKind {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "api key"), strings.Contains(lower, "permission denied"), strings.Contains(lower, "unauthenticated"):
		return KindAuth
	case strings.Contains(lower, "429"), strings.Contains(lower, "quota"), strings.Contains(lower, "resource exhausted"), strings.Contains(lower, "resource has been exhausted"):
		return KindQuota
	case strings.Contains(lower, "503"), strings.Contains(lower, "overloaded"), strings.Contains(lower, "unavailable"):
		return KindOverload
	default:
		return KindOther
	}
}

func newProviderError(provider string, kind ErrorKind, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: kind, Err: err}
}
