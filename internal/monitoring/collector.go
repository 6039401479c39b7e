package monitoring

import (
	"context"
	"time"

	"github.com/sells-group/wine-identify/internal/cost"
	"github.com/sells-group/wine-identify/internal/resilience"
)

// BreakerSource reports circuit breaker state.
type BreakerSource interface {
	Snapshot() []resilience.BreakerStatus
}

// BudgetSource reports budget usage.
type BudgetSource interface {
	Snapshot() cost.Snapshot
}

// SessionCounter reports the number of live sessions.
type SessionCounter interface {
	Len() int
}

// MetricsSnapshot is a point-in-time view of service health.
type MetricsSnapshot struct {
	Breakers        []resilience.BreakerStatus `json:"breakers"`
	OpenBreakers    int                        `json:"openBreakers"`
	Budget          cost.Snapshot              `json:"budget"`
	RequestFraction float64                    `json:"requestFraction"`
	CostFraction    float64                    `json:"costFraction"`
	ActiveSessions  int                        `json:"activeSessions"`
	CollectedAt     time.Time                  `json:"collectedAt"`
}

// Collector gathers health metrics from the breaker set, the budget and
// the session manager. Any source may be nil.
type Collector struct {
	breakers BreakerSource
	budget   BudgetSource
	sessions SessionCounter
}

// NewCollector creates a new metrics collector.
func NewCollector(breakers BreakerSource, budget BudgetSource, sessions SessionCounter) *Collector {
	return &Collector{breakers: breakers, budget: budget, sessions: sessions}
}

// Collect builds a MetricsSnapshot and updates the health gauges.
func (c *Collector) Collect(_ context.Context) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{CollectedAt: time.Now().UTC()}

	if c.breakers != nil {
		snap.Breakers = c.breakers.Snapshot()
		for _, b := range snap.Breakers {
			if b.State != resilience.CircuitClosed.String() {
				snap.OpenBreakers++
			}
		}
	}
	if c.budget != nil {
		snap.Budget = c.budget.Snapshot()
		snap.RequestFraction = snap.Budget.RequestFraction()
		snap.CostFraction = snap.Budget.CostFraction()
	}
	if c.sessions != nil {
		snap.ActiveSessions = c.sessions.Len()
	}

	OpenBreakers.Set(float64(snap.OpenBreakers))
	BudgetRequestFraction.Set(snap.RequestFraction)
	BudgetCostFraction.Set(snap.CostFraction)
	ActiveSessions.Set(float64(snap.ActiveSessions))

	return snap, nil
}
