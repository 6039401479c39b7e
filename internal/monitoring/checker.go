package monitoring

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/sells-group/wine-identify/internal/config"
)

const defaultCheckInterval = 5 * time.Minute

// Checker evaluates breaker and budget health on a ticker and sends alerts
// for conditions that were not active on the previous tick.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	interval  time.Duration
	clock     clockwork.Clock
}

// Tick summarizes one health check.
type Tick struct {
	OpenBreakers    int
	RequestFraction float64
	CostFraction    float64
	Raised          int
	Suppressed      int
	Sent            int
}

// NewChecker creates a background health checker. A nil clock uses the real
// clock.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig, clock clockwork.Clock) *Checker {
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Checker{collector: collector, alerter: alerter, interval: interval, clock: clock}
}

// Interval returns the time between checks.
func (c *Checker) Interval() time.Duration { return c.interval }

// Run checks every interval until ctx is done.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("monitoring: health checker started",
		zap.Duration("interval", c.interval),
		zap.Float64("budget_alert_fraction", c.alerter.cfg.BudgetAlertFraction),
	)

	ticker := c.clock.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("monitoring: health checker stopped")
			return
		case <-ticker.Chan():
			c.check(ctx, log)
		}
	}
}

func (c *Checker) check(ctx context.Context, log *zap.Logger) Tick {
	snap, err := c.collector.Collect(ctx)
	if err != nil {
		log.Error("monitoring: collect failed", zap.Error(err))
		return Tick{}
	}

	raised := c.alerter.Evaluate(snap)
	fresh := c.alerter.Fresh(raised)
	t := Tick{
		OpenBreakers:    snap.OpenBreakers,
		RequestFraction: snap.RequestFraction,
		CostFraction:    snap.CostFraction,
		Raised:          len(raised),
		Suppressed:      len(raised) - len(fresh),
	}

	fields := []zap.Field{
		zap.Int("open_breakers", t.OpenBreakers),
		zap.Float64("budget_request_fraction", t.RequestFraction),
		zap.Float64("budget_cost_fraction", t.CostFraction),
		zap.Int("active_sessions", snap.ActiveSessions),
		zap.Int("alerts_raised", t.Raised),
		zap.Int("alerts_suppressed", t.Suppressed),
	}
	if len(fresh) == 0 {
		log.Debug("monitoring: health check", fields...)
		return t
	}

	t.Sent = c.alerter.SendAlerts(ctx, fresh)
	log.Info("monitoring: health check raised alerts", append(fields, zap.Int("alerts_sent", t.Sent))...)
	return t
}
