package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sells-group/wine-identify/internal/resilience"
)

var (
	Identifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wineid_identifications_total", Help: "Identifications by input type and recommended action.",
	}, []string{"input", "action"})
	IdentifyErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wineid_identify_errors_total", Help: "Failed identifications by error kind.",
	}, []string{"kind"})
	IdentifyLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wineid_identify_duration_seconds",
		Help:    "End to end identification latency.",
		Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
	}, []string{"input"})
	Escalations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wineid_escalations_total", Help: "Escalated identifications by whether a higher tier improved the result.",
	}, []string{"improved"})
	StoppedAtTier = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wineid_stopped_at_tier_total", Help: "Tier at which escalation stopped.",
	}, []string{"tier"})
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wineid_cache_lookups_total", Help: "Identification cache lookups by result.",
	}, []string{"result"})
	CostUSD = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wineid_cost_usd_total", Help: "Provider spend attributed to identifications and enrichment.",
	})
	BreakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wineid_breaker_transitions_total", Help: "Circuit breaker state transitions.",
	}, []string{"breaker", "to"})
	Retries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wineid_retries_total", Help: "Provider call retries by error kind.",
	}, []string{"kind"})
	OpenBreakers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wineid_open_breakers", Help: "Breakers currently open or half-open.",
	})
	BudgetRequestFraction = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wineid_budget_request_fraction", Help: "Fraction of the daily request budget used.",
	})
	BudgetCostFraction = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wineid_budget_cost_fraction", Help: "Fraction of the daily cost budget used.",
	})
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wineid_active_sessions", Help: "Sessions currently held in memory.",
	})
	Actions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wineid_actions_total", Help: "Dispatched session actions by kind and outcome.",
	}, []string{"kind", "outcome"})
)

// Observation summarizes one finished identification.
type Observation struct {
	Input     string
	Action    string
	Tier      string
	Escalated bool
	Improved  bool
	Cached    bool
	CostUSD   float64
	Elapsed   time.Duration
	Err       error
}

// ObserveIdentification records o in the identification metrics.
func ObserveIdentification(o Observation) {
	IdentifyLatency.WithLabelValues(o.Input).Observe(o.Elapsed.Seconds())
	if o.CostUSD > 0 {
		CostUSD.Add(o.CostUSD)
	}
	if o.Err != nil {
		IdentifyErrors.WithLabelValues(string(resilience.KindOf(o.Err))).Inc()
		return
	}
	Identifications.WithLabelValues(o.Input, o.Action).Inc()
	if o.Cached {
		CacheLookups.WithLabelValues("hit").Inc()
		return
	}
	if o.Tier != "" {
		StoppedAtTier.WithLabelValues(o.Tier).Inc()
	}
	if o.Escalated {
		improved := "false"
		if o.Improved {
			improved = "true"
		}
		Escalations.WithLabelValues(improved).Inc()
	}
}

// ObserveCacheMiss counts an identification cache miss.
func ObserveCacheMiss() { CacheLookups.WithLabelValues("miss").Inc() }

// ObserveBreakerTransition is an OnStateChange hook for the breaker set.
func ObserveBreakerTransition(name string, _, to resilience.CircuitState) {
	BreakerTransitions.WithLabelValues(name, to.String()).Inc()
}

// ObserveRetry is an OnRetry hook for the executor.
func ObserveRetry(_ int, err error) {
	Retries.WithLabelValues(string(resilience.KindOf(err))).Inc()
}
