package resilience

import (
	"context"
	"errors"
)

// Executor runs provider calls through a keyed breaker with retries inside
// a single breaker slot, so an exhausted retry sequence is one breaker
// failure.
type Executor struct {
	breakers *Breakers
	retry    RetryConfig
}

// NewExecutor creates an Executor.
func NewExecutor(breakers *Breakers, retry RetryConfig) *Executor {
	return &Executor{breakers: breakers, retry: retry}
}

// Breakers returns the breaker registry.
func (e *Executor) Breakers() *Breakers { return e.breakers }

// Call executes fn for key. Failures are returned as *Error attributed to
// key.Provider.
func Call[T any](ctx context.Context, e *Executor, key BreakerKey, fn func(ctx context.Context) (T, error)) (T, error) {
	cb := e.breakers.Get(key)

	retry := e.retry
	logRetry := RetryLogger(key.Provider, key.Task)
	onRetry := retry.OnRetry
	retry.OnRetry = func(attempt int, err error) {
		logRetry(attempt, err)
		if onRetry != nil {
			onRetry(attempt, err)
		}
	}

	val, err := ExecuteVal(ctx, cb, func(ctx context.Context) (T, error) {
		return DoVal(ctx, retry, fn)
	})
	if err != nil {
		return val, attribute(key.Provider, err)
	}
	return val, nil
}

func attribute(provider string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		if e.Provider == "" {
			e.Provider = provider
		}
		return err
	}
	return &Error{Kind: KindOf(err), Provider: provider, Err: err}
}
