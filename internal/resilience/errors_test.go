package resilience

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/rotisserie/eris"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"classified", NewError(KindAuth, errors.New("bad key")), KindAuth},
		{"wrapped classified", eris.Wrap(NewError(KindRateLimit, errors.New("429")), "call"), KindRateLimit},
		{"fmt wrapped", fmt.Errorf("outer: %w", NewError(KindOverloaded, errors.New("529"))), KindOverloaded},
		{"circuit open", eris.Wrap(ErrCircuitOpen, "k"), KindCircuitOpen},
		{"canceled", context.Canceled, KindCanceled},
		{"deadline", eris.Wrap(context.DeadlineExceeded, "call"), KindTimeout},
		{"net timeout", timeoutErr{}, KindTimeout},
		{"conn reset", fmt.Errorf("read: %w", syscall.ECONNRESET), KindServerError},
		{"string reset", errors.New("read tcp: connection reset by peer"), KindServerError},
		{"string io timeout", errors.New("dial tcp: i/o timeout"), KindTimeout},
		{"plain", errors.New("something odd"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestKindFromHTTPStatus(t *testing.T) {
	tests := map[int]Kind{
		400: KindValidation,
		401: KindAuth,
		403: KindAuth,
		408: KindTimeout,
		422: KindValidation,
		429: KindRateLimit,
		500: KindServerError,
		502: KindServerError,
		503: KindOverloaded,
		504: KindTimeout,
		529: KindOverloaded,
		302: KindUnknown,
	}
	for status, want := range tests {
		if got := KindFromHTTPStatus(status); got != want {
			t.Errorf("KindFromHTTPStatus(%d) = %s, want %s", status, got, want)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(NewError(KindTimeout, errors.New("t"))) {
		t.Error("expected timeout to be retryable")
	}
	if IsRetryable(NewError(KindValidation, errors.New("v"))) {
		t.Error("expected validation not to be retryable")
	}
	if IsRetryable(nil) {
		t.Error("expected nil not to be retryable")
	}
}

func TestErrorMessageAndAttribution(t *testing.T) {
	err := HTTPError("openai", 429, errors.New("rate limited"))
	if got := err.Error(); got != "openai: rate_limit (status 429): rate limited" {
		t.Errorf("unexpected message %q", got)
	}
	if ProviderOf(eris.Wrap(err, "tier")) != "openai" {
		t.Error("expected provider to survive wrapping")
	}
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" Server_Error ")
	if err != nil || k != KindServerError {
		t.Errorf("expected server_error, got %s (%v)", k, err)
	}
	if _, err := ParseKind("nope"); err == nil {
		t.Error("expected error for unknown kind")
	}
}
