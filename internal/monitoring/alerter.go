package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/wine-identify/internal/config"
	"github.com/sells-group/wine-identify/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertBreakerOpen   AlertType = "breaker_open"
	AlertBudgetRequest AlertType = "budget_requests"
	AlertBudgetCost    AlertType = "budget_cost"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Key       string         `json:"key"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client

	mu     sync.Mutex
	active map[string]bool
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		active: make(map[string]bool),
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	for _, b := range snap.Breakers {
		if b.State != resilience.CircuitOpen.String() {
			continue
		}
		alerts = append(alerts, Alert{
			Type:     AlertBreakerOpen,
			Key:      string(AlertBreakerOpen) + ":" + b.Key,
			Severity: "high",
			Message:  fmt.Sprintf("Circuit breaker %s is open after %d consecutive failures", b.Key, b.Failures),
			Details: map[string]any{
				"breaker":  b.Key,
				"failures": b.Failures,
			},
			Timestamp: now,
		})
	}

	threshold := a.cfg.BudgetAlertFraction
	if threshold <= 0 {
		return alerts
	}
	if snap.RequestFraction >= threshold {
		alerts = append(alerts, Alert{
			Type:     AlertBudgetRequest,
			Key:      string(AlertBudgetRequest),
			Severity: budgetSeverity(snap.RequestFraction),
			Message: fmt.Sprintf(
				"Daily request budget %.1f%% used (%d of %d)",
				snap.RequestFraction*100, snap.Budget.Requests, snap.Budget.DailyRequests,
			),
			Details: map[string]any{
				"fraction":  snap.RequestFraction,
				"threshold": threshold,
				"day":       snap.Budget.Day,
			},
			Timestamp: now,
		})
	}
	if snap.CostFraction >= threshold {
		alerts = append(alerts, Alert{
			Type:     AlertBudgetCost,
			Key:      string(AlertBudgetCost),
			Severity: budgetSeverity(snap.CostFraction),
			Message: fmt.Sprintf(
				"Daily cost budget %.1f%% used ($%.2f of $%.2f)",
				snap.CostFraction*100, snap.Budget.CostUSD, snap.Budget.DailyCostUSD,
			),
			Details: map[string]any{
				"fraction":  snap.CostFraction,
				"threshold": threshold,
				"day":       snap.Budget.Day,
			},
			Timestamp: now,
		})
	}

	return alerts
}

func budgetSeverity(fraction float64) string {
	if fraction >= 1 {
		return "high"
	}
	return "medium"
}

// Fresh filters alerts down to those not already raised by the previous
// evaluation. Conditions that cleared are forgotten so they fire again
// if they recur.
func (a *Alerter) Fresh(alerts []Alert) []Alert {
	a.mu.Lock()
	defer a.mu.Unlock()

	next := make(map[string]bool, len(alerts))
	var out []Alert
	for _, al := range alerts {
		next[al.Key] = true
		if !a.active[al.Key] {
			out = append(out, al)
		}
	}
	a.active = next
	return out
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
