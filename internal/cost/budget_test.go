package cost

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/wine-identify/internal/resilience"
)

func fakeClock() *clockwork.FakeClock {
	return clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
}

func TestBudget_DailyRequests(t *testing.T) {
	b := NewBudget(Limits{DailyRequests: 2}, fakeClock())

	require.NoError(t, b.Admit())
	require.NoError(t, b.Admit())
	err := b.Admit()
	require.Error(t, err)
	assert.Equal(t, resilience.KindBudgetExceeded, resilience.KindOf(err))
	assert.False(t, resilience.IsRetryable(err))
}

func TestBudget_DailyCost(t *testing.T) {
	b := NewBudget(Limits{DailyCostUSD: 1.0}, fakeClock())

	require.NoError(t, b.Admit())
	b.Record(0.6)
	require.NoError(t, b.Admit())
	b.Record(0.5)

	err := b.Admit()
	assert.Equal(t, resilience.KindBudgetExceeded, resilience.KindOf(err))
	assert.InDelta(t, 1.1, b.Snapshot().CostUSD, 1e-9)
}

func TestBudget_DayRollover(t *testing.T) {
	clock := fakeClock()
	b := NewBudget(Limits{DailyRequests: 1, DailyCostUSD: 1}, clock)

	require.NoError(t, b.Admit())
	b.Record(2)
	require.Error(t, b.Admit())

	clock.Advance(15 * time.Hour)
	require.NoError(t, b.Admit())

	snap := b.Snapshot()
	assert.Equal(t, "2025-06-02", snap.Day)
	assert.Equal(t, 1, snap.Requests)
	assert.Zero(t, snap.CostUSD)
}

func TestBudget_PerMinute(t *testing.T) {
	clock := fakeClock()
	b := NewBudget(Limits{PerMinuteRequests: 3}, clock)

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Admit(), "request %d", i)
	}
	err := b.Admit()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "per minute")

	clock.Advance(20 * time.Second)
	assert.NoError(t, b.Admit())
}

func TestBudget_Unlimited(t *testing.T) {
	b := NewBudget(Limits{}, nil)
	for i := 0; i < 100; i++ {
		require.NoError(t, b.Admit())
	}
	snap := b.Snapshot()
	assert.Equal(t, 100, snap.Requests)
	assert.Zero(t, snap.RequestFraction())
	assert.Zero(t, snap.CostFraction())
}

func TestSnapshotFractions(t *testing.T) {
	s := Snapshot{Requests: 40, DailyRequests: 50, CostUSD: 5, DailyCostUSD: 20}
	assert.InDelta(t, 0.8, s.RequestFraction(), 1e-9)
	assert.InDelta(t, 0.25, s.CostFraction(), 1e-9)
}
