package monitoring

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/wine-identify/internal/cost"
	"github.com/sells-group/wine-identify/internal/resilience"
)

type fakeBreakers []resilience.BreakerStatus

func (f fakeBreakers) Snapshot() []resilience.BreakerStatus { return f }

type fakeBudget cost.Snapshot

func (f fakeBudget) Snapshot() cost.Snapshot { return cost.Snapshot(f) }

type fakeSessions int

func (f fakeSessions) Len() int { return int(f) }

func TestCollector_NilSources(t *testing.T) {
	c := NewCollector(nil, nil, nil)

	snap, err := c.Collect(context.Background())
	require.NoError(t, err)

	assert.Empty(t, snap.Breakers)
	assert.Equal(t, 0, snap.OpenBreakers)
	assert.Equal(t, 0.0, snap.RequestFraction)
	assert.False(t, snap.CollectedAt.IsZero())
}

func TestCollector_Collect(t *testing.T) {
	breakers := fakeBreakers{
		{Key: "anthropic/haiku/identify", State: "closed"},
		{Key: "anthropic/sonnet/identify", State: "open", Failures: 5},
		{Key: "openai/gpt-4o/identify", State: "half-open", Failures: 5},
	}
	budget := fakeBudget{Day: "2026-03-01", Requests: 25, DailyRequests: 100, CostUSD: 3, DailyCostUSD: 4}

	c := NewCollector(breakers, budget, fakeSessions(7))
	snap, err := c.Collect(context.Background())
	require.NoError(t, err)

	assert.Len(t, snap.Breakers, 3)
	assert.Equal(t, 2, snap.OpenBreakers)
	assert.InDelta(t, 0.25, snap.RequestFraction, 1e-9)
	assert.InDelta(t, 0.75, snap.CostFraction, 1e-9)
	assert.Equal(t, 7, snap.ActiveSessions)
	assert.Equal(t, "2026-03-01", snap.Budget.Day)

	assert.Equal(t, 2.0, testutil.ToFloat64(OpenBreakers))
	assert.InDelta(t, 0.75, testutil.ToFloat64(BudgetCostFraction), 1e-9)
	assert.Equal(t, 7.0, testutil.ToFloat64(ActiveSessions))
}

func TestCollector_RealBudget(t *testing.T) {
	b := cost.NewBudget(cost.Limits{DailyRequests: 10}, nil)
	require.NoError(t, b.Admit())

	snap, err := NewCollector(nil, b, nil).Collect(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 0.1, snap.RequestFraction, 1e-9)
}
