// Package session holds per-conversation state: the phase, the in-flight
// identification and the last result the user is acting on.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/sells-group/wine-identify/internal/model"
	"github.com/sells-group/wine-identify/internal/resilience"
)

// Phase is where a session is in the identify-then-act flow.
type Phase string

// Session phases.
const (
	PhaseIdle        Phase = "idle"
	PhaseIdentifying Phase = "identifying"
	PhaseResult      Phase = "result"
	PhaseEnriching   Phase = "enriching"
	PhaseAdding      Phase = "adding"
	PhaseCamera      Phase = "camera"
	PhaseComplete    Phase = "complete"
	PhaseError       Phase = "error"
)

// Result is the identification a session is currently acting on.
type Result struct {
	RequestID         string
	Request           model.IdentificationRequest
	Result            model.IdentificationResult
	Confidence        float64
	TierIndex         int
	Exhausted         bool
	CanonicalProducer string
}

// ErrorEntry is a user-facing error recorded against the session.
type ErrorEntry struct {
	Message   string          `json:"message"`
	Kind      resilience.Kind `json:"kind"`
	Retryable bool            `json:"retryable"`
	At        time.Time       `json:"at"`
}

type inflight struct {
	id     string
	cancel context.CancelFunc
}

// Session is safe for concurrent use.
type Session struct {
	id    string
	clock clockwork.Clock

	mu         sync.Mutex
	phase      Phase
	current    *inflight
	result     *Result
	lastAction *model.Action
	errors     []ErrorEntry
	touched    time.Time
}

// New creates an idle session.
func New(id string, clock clockwork.Clock) *Session {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Session{id: id, clock: clock, phase: PhaseIdle, touched: clock.Now()}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Begin starts a request, canceling any request already in flight. The
// returned done func must be called when the request finishes.
func (s *Session) Begin(parent context.Context, requestID string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)

	s.mu.Lock()
	if s.current != nil {
		s.current.cancel()
	}
	s.current = &inflight{id: requestID, cancel: cancel}
	s.phase = PhaseIdentifying
	s.touched = s.clock.Now()
	s.mu.Unlock()

	return ctx, func() {
		s.mu.Lock()
		if s.current != nil && s.current.id == requestID {
			s.current = nil
		}
		s.mu.Unlock()
		cancel()
	}
}

// Cancel stops the in-flight request if its id matches. An empty id cancels
// whatever is in flight.
func (s *Session) Cancel(requestID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || (requestID != "" && s.current.id != requestID) {
		return false
	}
	s.current.cancel()
	s.current = nil
	if s.phase == PhaseIdentifying {
		s.phase = PhaseIdle
	}
	return true
}

// InFlight returns the id of the running request, if any.
func (s *Session) InFlight() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return "", false
	}
	return s.current.id, true
}

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// SetPhase moves the session to p.
func (s *Session) SetPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.touched = s.clock.Now()
	s.mu.Unlock()
}

// SetResult stores r and moves the session to the result phase.
func (s *Session) SetResult(r Result) {
	s.mu.Lock()
	s.result = &r
	s.phase = PhaseResult
	s.touched = s.clock.Now()
	s.mu.Unlock()
}

// Complete stores r as the outcome of requestID and moves the session to the
// result phase, but only while requestID is still the request in flight. It
// reports false when a newer request or a cancel superseded it.
func (s *Session) Complete(requestID string, r Result) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || s.current.id != requestID {
		return false
	}
	s.result = &r
	s.phase = PhaseResult
	s.touched = s.clock.Now()
	return true
}

// Result returns a copy of the current result.
func (s *Session) Result() (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return Result{}, false
	}
	r := *s.result
	r.Result = r.Result.Clone()
	return r, true
}

// RecordAction remembers a for a later bare retry.
func (s *Session) RecordAction(a model.Action) {
	s.mu.Lock()
	s.lastAction = &a
	s.touched = s.clock.Now()
	s.mu.Unlock()
}

// LastAction returns the last recorded action.
func (s *Session) LastAction() (model.Action, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastAction == nil {
		return model.Action{}, false
	}
	return *s.lastAction, true
}

// RecordError appends a user-facing error and moves to the error phase.
func (s *Session) RecordError(err error) ErrorEntry {
	e := ErrorEntry{
		Message:   err.Error(),
		Kind:      resilience.KindOf(err),
		Retryable: resilience.IsRetryable(err),
		At:        s.clock.Now(),
	}
	s.mu.Lock()
	s.errors = append(s.errors, e)
	s.phase = PhaseError
	s.touched = e.At
	s.mu.Unlock()
	return e
}

// Errors returns the recorded errors, oldest first.
func (s *Session) Errors() []ErrorEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ErrorEntry(nil), s.errors...)
}

// Reset cancels any request and clears all state.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		s.current.cancel()
		s.current = nil
	}
	s.phase = PhaseIdle
	s.result = nil
	s.lastAction = nil
	s.errors = nil
	s.touched = s.clock.Now()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		return s.clock.Now()
	}
	return s.touched
}
