package resilience

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// FromRetryConfig converts config values to a RetryConfig. Retryable kind
// names are validated; an empty list keeps DefaultRetryable.
func FromRetryConfig(maxAttempts, baseDelayMs, maxDelayMs int, jitter bool, retryable []string) (RetryConfig, error) {
	cfg := DefaultRetryConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if baseDelayMs >= 0 {
		cfg.BaseDelay = time.Duration(baseDelayMs) * time.Millisecond
	}
	if maxDelayMs > 0 {
		cfg.MaxDelay = time.Duration(maxDelayMs) * time.Millisecond
	}
	if !jitter {
		cfg.JitterFraction = 0
	}
	if len(retryable) > 0 {
		kinds := make([]Kind, 0, len(retryable))
		for _, name := range retryable {
			k, err := ParseKind(name)
			if err != nil {
				return RetryConfig{}, err
			}
			kinds = append(kinds, k)
		}
		cfg.RetryableKinds = kinds
	}
	return cfg, nil
}

// FromCircuitConfig converts config values to a CircuitBreakerConfig.
func FromCircuitConfig(failureThreshold, sampleWindowSecs, recoverySecs, successThreshold, halfOpenMaxCalls int, clock clockwork.Clock) CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if sampleWindowSecs > 0 {
		cfg.SampleWindow = time.Duration(sampleWindowSecs) * time.Second
	}
	if recoverySecs > 0 {
		cfg.RecoveryTimeout = time.Duration(recoverySecs) * time.Second
	}
	if successThreshold > 0 {
		cfg.SuccessThreshold = successThreshold
	}
	if halfOpenMaxCalls > 0 {
		cfg.HalfOpenMaxCalls = halfOpenMaxCalls
	}
	cfg.Clock = clock
	return cfg
}
