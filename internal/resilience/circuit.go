// Package resilience provides error classification, circuit breaker and
// retry patterns for provider calls.
package resilience

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed is the normal operating state. Requests flow through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means too many failures. Requests are rejected immediately.
	CircuitOpen
	// CircuitHalfOpen admits a limited number of trial requests.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a call is rejected because the circuit is open.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// CircuitBreakerConfig controls circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures inside
	// SampleWindow that opens the circuit. Default: 5.
	FailureThreshold int

	// SampleWindow bounds how far back failures are counted. Default: 60s.
	SampleWindow time.Duration

	// RecoveryTimeout is how long the circuit stays open before admitting
	// trial calls. Default: 30s.
	RecoveryTimeout time.Duration

	// SuccessThreshold is the number of successful trials in half-open
	// required to close the circuit. Default: 1.
	SuccessThreshold int

	// HalfOpenMaxCalls caps concurrent trial calls in half-open. Default: 1.
	HalfOpenMaxCalls int

	// ShouldTrip optionally overrides which errors count as failures.
	// If nil, every error except cancellation and admission rejections counts.
	ShouldTrip func(err error) bool

	// OnStateChange is called when the circuit transitions between states.
	OnStateChange func(name string, from, to CircuitState)

	// Clock drives every time decision. Default: the real clock.
	Clock clockwork.Clock
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SampleWindow:     60 * time.Second,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 1,
		HalfOpenMaxCalls: 1,
	}
}

func defaultShouldTrip(err error) bool {
	switch KindOf(err) {
	case KindCanceled, KindBudgetExceeded, KindCircuitOpen:
		return false
	}
	return err != nil
}

// CircuitBreaker implements the circuit breaker pattern for a single key.
type CircuitBreaker struct {
	name  string
	cfg   CircuitBreakerConfig
	clock clockwork.Clock

	mu       sync.Mutex
	state    CircuitState
	gen      uint64
	failures []time.Time
	openedAt time.Time

	halfOpenInFlight  int
	halfOpenSuccesses int
}

// NewCircuitBreaker creates a circuit breaker with the given config.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SampleWindow <= 0 {
		cfg.SampleWindow = 60 * time.Second
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 1
	}
	if cfg.ShouldTrip == nil {
		cfg.ShouldTrip = defaultShouldTrip
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &CircuitBreaker{
		name:  name,
		cfg:   cfg,
		clock: clock,
		state: CircuitClosed,
	}
}

// Name returns the breaker key.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Execute runs fn through the circuit breaker. Rejected calls return a
// KindCircuitOpen error wrapping ErrCircuitOpen.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := ExecuteVal(ctx, cb, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// ExecuteVal is like Execute but preserves a return value.
func ExecuteVal[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	ticket, err := cb.allowRequest()
	if err != nil {
		return zero, err
	}

	val, err := fn(ctx)
	cb.recordResult(ticket, err)
	return val, err
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen && cb.clock.Since(cb.openedAt) >= cb.cfg.RecoveryTimeout {
		return CircuitHalfOpen
	}
	return cb.state
}

// Reset forces the circuit back to closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(CircuitClosed)
}

// Counters returns the failures inside the sample window and the state.
func (cb *CircuitBreaker) Counters() (failures int, state CircuitState) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.pruneFailures()
	return len(cb.failures), cb.state
}

type ticket struct {
	gen   uint64
	trial bool
}

func (cb *CircuitBreaker) allowRequest() (ticket, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen && cb.clock.Since(cb.openedAt) >= cb.cfg.RecoveryTimeout {
		cb.transition(CircuitHalfOpen)
	}

	switch cb.state {
	case CircuitOpen:
		return ticket{}, cb.openError()
	case CircuitHalfOpen:
		if cb.halfOpenInFlight >= cb.cfg.HalfOpenMaxCalls {
			return ticket{}, cb.openError()
		}
		cb.halfOpenInFlight++
		return ticket{gen: cb.gen, trial: true}, nil
	default:
		return ticket{gen: cb.gen}, nil
	}
}

func (cb *CircuitBreaker) openError() error {
	return &Error{Kind: KindCircuitOpen, Err: eris.Wrap(ErrCircuitOpen, cb.name)}
}

func (cb *CircuitBreaker) recordResult(t ticket, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	// Results from calls admitted under an earlier state are stale.
	if t.gen != cb.gen {
		return
	}
	if t.trial {
		cb.halfOpenInFlight--
	}

	failed := err != nil && cb.cfg.ShouldTrip(err)

	switch cb.state {
	case CircuitClosed:
		if !failed {
			cb.failures = cb.failures[:0]
			return
		}
		cb.failures = append(cb.failures, cb.clock.Now())
		cb.pruneFailures()
		if len(cb.failures) >= cb.cfg.FailureThreshold {
			cb.transition(CircuitOpen)
		}
	case CircuitHalfOpen:
		if failed {
			cb.transition(CircuitOpen)
			return
		}
		if err != nil {
			return
		}
		cb.halfOpenSuccesses++
		if cb.halfOpenSuccesses >= cb.cfg.SuccessThreshold {
			cb.transition(CircuitClosed)
		}
	}
}

func (cb *CircuitBreaker) pruneFailures() {
	cutoff := cb.clock.Now().Add(-cb.cfg.SampleWindow)
	i := 0
	for i < len(cb.failures) && !cb.failures[i].After(cutoff) {
		i++
	}
	cb.failures = slices.Delete(cb.failures, 0, i)
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	cb.state = to
	cb.gen++
	cb.failures = cb.failures[:0]
	cb.halfOpenInFlight = 0
	cb.halfOpenSuccesses = 0
	if to == CircuitOpen {
		cb.openedAt = cb.clock.Now()
	}
	if from != to && cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.name, from, to)
	}
}

// BreakerKey identifies an independent breaker.
type BreakerKey struct {
	Provider string
	Model    string
	Task     string
}

func (k BreakerKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Provider, k.Model, k.Task)
}

// BreakerStatus is an observability snapshot of one breaker.
type BreakerStatus struct {
	Key      string `json:"key"`
	State    string `json:"state"`
	Failures int    `json:"failures"`
}

// Breakers manages one circuit breaker per provider, model and task.
type Breakers struct {
	mu       sync.RWMutex
	breakers map[BreakerKey]*CircuitBreaker
	cfg      CircuitBreakerConfig
}

// NewBreakers creates a registry of keyed circuit breakers.
func NewBreakers(cfg CircuitBreakerConfig) *Breakers {
	return &Breakers{
		breakers: make(map[BreakerKey]*CircuitBreaker),
		cfg:      cfg,
	}
}

// Get returns the circuit breaker for key, creating one if needed.
func (b *Breakers) Get(key BreakerKey) *CircuitBreaker {
	b.mu.RLock()
	cb, ok := b.breakers[key]
	b.mu.RUnlock()
	if ok {
		return cb
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	// Double-check after acquiring write lock.
	if cb, ok = b.breakers[key]; ok {
		return cb
	}
	cb = NewCircuitBreaker(key.String(), b.cfg)
	b.breakers[key] = cb
	return cb
}

// States returns a snapshot of all circuit breaker states.
func (b *Breakers) States() map[string]CircuitState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	states := make(map[string]CircuitState, len(b.breakers))
	for key, cb := range b.breakers {
		states[key.String()] = cb.State()
	}
	return states
}

// Snapshot returns every breaker's status sorted by key.
func (b *Breakers) Snapshot() []BreakerStatus {
	b.mu.RLock()
	list := make([]*CircuitBreaker, 0, len(b.breakers))
	for _, cb := range b.breakers {
		list = append(list, cb)
	}
	b.mu.RUnlock()

	out := make([]BreakerStatus, 0, len(list))
	for _, cb := range list {
		failures, _ := cb.Counters()
		out = append(out, BreakerStatus{Key: cb.Name(), State: cb.State().String(), Failures: failures})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
