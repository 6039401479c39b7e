package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
)

// Kind classifies a failure for retry, breaker and client handling.
type Kind string

// Error kinds.
const (
	KindValidation     Kind = "validation"
	KindAuth           Kind = "auth"
	KindRateLimit      Kind = "rate_limit"
	KindTimeout        Kind = "timeout"
	KindServerError    Kind = "server_error"
	KindOverloaded     Kind = "overloaded"
	KindCircuitOpen    Kind = "circuit_open"
	KindBudgetExceeded Kind = "budget_exceeded"
	KindConfig         Kind = "config"
	KindCanceled       Kind = "canceled"
	KindUnknown        Kind = "unknown"
)

// Kinds lists every error kind.
var Kinds = []Kind{
	KindValidation, KindAuth, KindRateLimit, KindTimeout, KindServerError,
	KindOverloaded, KindCircuitOpen, KindBudgetExceeded, KindConfig,
	KindCanceled, KindUnknown,
}

// DefaultRetryable lists the kinds retried when no override is configured.
var DefaultRetryable = []Kind{KindRateLimit, KindTimeout, KindServerError, KindOverloaded}

// ParseKind resolves a kind name.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if slices.Contains(Kinds, k) {
		return k, nil
	}
	return "", eris.Errorf("resilience: unknown error kind %q", s)
}

// Error is a classified failure, optionally attributed to a provider.
type Error struct {
	Kind       Kind
	Provider   string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Provider != "" {
		b.WriteString(e.Provider)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with a kind.
func NewError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Errorf creates a classified error from a format string.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: eris.Errorf(format, args...)}
}

// HTTPError classifies a provider HTTP failure by status code.
func HTTPError(provider string, status int, err error) *Error {
	return &Error{Kind: KindFromHTTPStatus(status), Provider: provider, StatusCode: status, Err: err}
}

// KindOf returns the kind of err. Unclassified errors are inspected for
// context, network and transport failures before falling back to unknown.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, ErrCircuitOpen) {
		return KindCircuitOpen
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	// Connection reset / refused / DNS.
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return KindServerError
	}

	// String-based heuristics for wrapped errors from HTTP clients.
	msg := strings.ToLower(err.Error())
	for _, p := range []string{"tls handshake timeout", "i/o timeout"} {
		if strings.Contains(msg, p) {
			return KindTimeout
		}
	}
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"server closed idle connection",
		"transport connection broken",
		"unexpected eof",
	} {
		if strings.Contains(msg, p) {
			return KindServerError
		}
	}

	return KindUnknown
}

// ProviderOf returns the provider attributed to err, if any.
func ProviderOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Provider
	}
	return ""
}

// IsRetryable reports whether err belongs to a default retryable kind.
func IsRetryable(err error) bool {
	return slices.Contains(DefaultRetryable, KindOf(err))
}

// KindFromHTTPStatus maps an HTTP status code onto a kind.
func KindFromHTTPStatus(status int) Kind {
	switch status {
	case 400, 404, 413, 415, 422:
		return KindValidation
	case 401, 403:
		return KindAuth
	case 408, 504:
		return KindTimeout
	case 429:
		return KindRateLimit
	case 503, 529:
		return KindOverloaded
	}
	if status >= 500 && status < 600 {
		return KindServerError
	}
	return KindUnknown
}
