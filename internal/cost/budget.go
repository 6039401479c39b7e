package cost

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/wine-identify/internal/resilience"
)

// Limits bounds provider spend. Zero disables a limit.
type Limits struct {
	DailyRequests     int
	DailyCostUSD      float64
	PerMinuteRequests int
}

// Budget is admission control checked before any provider call.
type Budget struct {
	mu       sync.Mutex
	limits   Limits
	clock    clockwork.Clock
	day      string
	requests int
	costUSD  float64
	limiter  *rate.Limiter
}

// Snapshot is a point-in-time view of budget usage.
type Snapshot struct {
	Day               string  `json:"day"`
	Requests          int     `json:"requests"`
	DailyRequests     int     `json:"dailyRequests"`
	CostUSD           float64 `json:"costUsd"`
	DailyCostUSD      float64 `json:"dailyCostUsd"`
	PerMinuteRequests int     `json:"perMinuteRequests"`
}

// RequestFraction is the share of the daily request budget used.
func (s Snapshot) RequestFraction() float64 {
	if s.DailyRequests <= 0 {
		return 0
	}
	return float64(s.Requests) / float64(s.DailyRequests)
}

// CostFraction is the share of the daily cost budget used.
func (s Snapshot) CostFraction() float64 {
	if s.DailyCostUSD <= 0 {
		return 0
	}
	return s.CostUSD / s.DailyCostUSD
}

// NewBudget creates a Budget. A nil clock uses the real clock.
func NewBudget(limits Limits, clock clockwork.Clock) *Budget {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	b := &Budget{limits: limits, clock: clock}
	if n := limits.PerMinuteRequests; n > 0 {
		b.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), n)
	}
	b.day = b.today()
	return b
}

func (b *Budget) today() string { return b.clock.Now().UTC().Format(time.DateOnly) }

func (b *Budget) rollover() {
	if d := b.today(); d != b.day {
		zap.L().Info("budget: new day, counters reset",
			zap.String("previous", b.day),
			zap.Int("requests", b.requests),
			zap.Float64("cost_usd", b.costUSD),
		)
		b.day, b.requests, b.costUSD = d, 0, 0
	}
}

// Admit reserves one request or fails fast with budget_exceeded.
func (b *Budget) Admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollover()

	if l := b.limits.DailyRequests; l > 0 && b.requests >= l {
		return resilience.Errorf(resilience.KindBudgetExceeded, "budget: daily request limit %d reached", l)
	}
	if l := b.limits.DailyCostUSD; l > 0 && b.costUSD >= l {
		return resilience.Errorf(resilience.KindBudgetExceeded, "budget: daily cost limit $%.2f reached", l)
	}
	if b.limiter != nil && !b.limiter.AllowN(b.clock.Now(), 1) {
		return resilience.Errorf(resilience.KindBudgetExceeded, "budget: more than %d requests per minute", b.limits.PerMinuteRequests)
	}
	b.requests++
	return nil
}

// Record adds spend to today's total.
func (b *Budget) Record(costUSD float64) {
	if costUSD <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollover()
	b.costUSD += costUSD
}

// Snapshot returns current usage.
func (b *Budget) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollover()
	return Snapshot{
		Day:               b.day,
		Requests:          b.requests,
		DailyRequests:     b.limits.DailyRequests,
		CostUSD:           b.costUSD,
		DailyCostUSD:      b.limits.DailyCostUSD,
		PerMinuteRequests: b.limits.PerMinuteRequests,
	}
}
