package session

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/wine-identify/internal/model"
	"github.com/sells-group/wine-identify/internal/resilience"
)

func TestBegin_CancelsPreviousRequest(t *testing.T) {
	s := New("s1", clockwork.NewFakeClock())

	first, doneFirst := s.Begin(context.Background(), "r1")
	second, doneSecond := s.Begin(context.Background(), "r2")
	defer doneSecond()

	require.ErrorIs(t, first.Err(), context.Canceled)
	assert.NoError(t, second.Err())

	// A late finish of r1 must not clear r2.
	doneFirst()
	id, ok := s.InFlight()
	require.True(t, ok)
	assert.Equal(t, "r2", id)
	assert.Equal(t, PhaseIdentifying, s.Phase())
}

func TestComplete_DropsSupersededResult(t *testing.T) {
	s := New("s1", clockwork.NewFakeClock())

	_, doneFirst := s.Begin(context.Background(), "r1")
	defer doneFirst()
	_, doneSecond := s.Begin(context.Background(), "r2")
	defer doneSecond()

	assert.False(t, s.Complete("r1", Result{RequestID: "r1", Result: model.IdentificationResult{Producer: "Old"}}))
	_, ok := s.Result()
	assert.False(t, ok)
	assert.Equal(t, PhaseIdentifying, s.Phase())

	require.True(t, s.Complete("r2", Result{RequestID: "r2", Result: model.IdentificationResult{Producer: "New"}}))
	got, ok := s.Result()
	require.True(t, ok)
	assert.Equal(t, "New", got.Result.Producer)
	assert.Equal(t, PhaseResult, s.Phase())
}

func TestComplete_AfterCancel(t *testing.T) {
	s := New("s1", clockwork.NewFakeClock())
	_, done := s.Begin(context.Background(), "r1")
	defer done()

	require.True(t, s.Cancel("r1"))
	assert.False(t, s.Complete("r1", Result{RequestID: "r1"}))
	assert.Equal(t, PhaseIdle, s.Phase())
}

func TestCancel(t *testing.T) {
	s := New("s1", clockwork.NewFakeClock())
	ctx, done := s.Begin(context.Background(), "r1")
	defer done()

	assert.False(t, s.Cancel("other"))
	assert.NoError(t, ctx.Err())

	assert.True(t, s.Cancel("r1"))
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.Equal(t, PhaseIdle, s.Phase())
	assert.False(t, s.Cancel("r1"))
}

func TestSessionsAreIndependent(t *testing.T) {
	m := NewManager(time.Hour, clockwork.NewFakeClock())
	a, doneA := m.Get("a").Begin(context.Background(), "r1")
	defer doneA()
	_, doneB := m.Get("b").Begin(context.Background(), "r1")
	defer doneB()

	assert.True(t, m.Get("b").Cancel("r1"))
	assert.NoError(t, a.Err())
}

func TestResultIsCopied(t *testing.T) {
	s := New("s1", clockwork.NewFakeClock())
	s.SetResult(Result{RequestID: "r1", Result: model.IdentificationResult{Grapes: []string{"Syrah"}}})
	assert.Equal(t, PhaseResult, s.Phase())

	got, ok := s.Result()
	require.True(t, ok)
	got.Result.Grapes[0] = "Merlot"

	again, _ := s.Result()
	assert.Equal(t, "Syrah", again.Result.Grapes[0])
}

func TestRecordError(t *testing.T) {
	s := New("s1", clockwork.NewFakeClock())
	e := s.RecordError(resilience.Errorf(resilience.KindOverloaded, "busy"))

	assert.Equal(t, resilience.KindOverloaded, e.Kind)
	assert.True(t, e.Retryable)
	assert.Equal(t, PhaseError, s.Phase())
	assert.Len(t, s.Errors(), 1)
}

func TestReset(t *testing.T) {
	s := New("s1", clockwork.NewFakeClock())
	ctx, done := s.Begin(context.Background(), "r1")
	defer done()
	s.RecordAction(model.Action{Kind: model.ActionSubmitText, Text: "Ridge"})
	s.SetResult(Result{RequestID: "r1"})

	s.Reset()
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	_, ok := s.Result()
	assert.False(t, ok)
	_, ok = s.LastAction()
	assert.False(t, ok)
	assert.Equal(t, PhaseIdle, s.Phase())
}

func TestManager_Sweep(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := NewManager(30*time.Minute, clock)

	m.Get("stale")
	busy := m.Get("busy")
	_, done := busy.Begin(context.Background(), "r1")
	defer done()

	clock.Advance(10 * time.Minute)
	m.Get("fresh").SetPhase(PhaseResult)

	clock.Advance(25 * time.Minute)
	assert.Equal(t, 1, m.Sweep())

	_, ok := m.Lookup("stale")
	assert.False(t, ok)
	_, ok = m.Lookup("busy")
	assert.True(t, ok)
	_, ok = m.Lookup("fresh")
	assert.True(t, ok)
	assert.Equal(t, 2, m.Len())
}
