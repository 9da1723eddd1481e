package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/coach-cli/internal/config"
	"github.com/sells-group/coach-cli/internal/weekly"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertNabellerHigh   AlertType = "coach_nabeller_high"
	AlertWonRateDrop    AlertType = "coach_won_rate_drop"
	AlertRunFailureRate AlertType = "run_failure_rate"
	AlertStaleRun       AlertType = "stale_run"
	AlertNoRun          AlertType = "no_run"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter turns run snapshots and weekly coach alerts into Alerts and sends
// them via webhook.
type Alerter struct {
	cfg    config.MonitorConfig
	client *http.Client
	now    func() time.Time
}

// NewAlerter creates a new Alerter with the given monitor config.
func NewAlerter(cfg config.MonitorConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *RunSnapshot) []Alert {
	var alerts []Alert
	now := a.now().UTC()

	finished := snap.RunsComplete + snap.RunsFailed
	if finished >= 2 && a.cfg.FailureRateMax > 0 && snap.RunFailRate > a.cfg.FailureRateMax {
		alerts = append(alerts, Alert{
			Type:     AlertRunFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Run failure rate %.1f%% exceeds %.1f%% (%d failed / %d finished in last %dh)",
				snap.RunFailRate*100, a.cfg.FailureRateMax*100,
				snap.RunsFailed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.RunFailRate,
				"threshold":    a.cfg.FailureRateMax,
				"failed":       snap.RunsFailed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	switch {
	case snap.CurrentRunID == "":
		alerts = append(alerts, Alert{
			Type:      AlertNoRun,
			Severity:  "high",
			Message:   "No complete scoring run available",
			Timestamp: now,
		})
	case a.cfg.StaleRunHours > 0 && snap.CurrentRunAge > time.Duration(a.cfg.StaleRunHours)*time.Hour:
		alerts = append(alerts, Alert{
			Type:     AlertStaleRun,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Current run %s is %.0fh old (limit %dh)",
				snap.CurrentRunID, snap.CurrentRunAge.Hours(), a.cfg.StaleRunHours,
			),
			Details: map[string]any{
				"run_id":    snap.CurrentRunID,
				"age_hours": snap.CurrentRunAge.Hours(),
			},
			Timestamp: now,
		})
	}

	return alerts
}

// FromWeekly converts coach alerts of the most recent week. A coach that
// trips both conditions yields two alerts.
func (a *Alerter) FromWeekly(coach []weekly.Alert) []Alert {
	now := a.now().UTC()
	var alerts []Alert
	for _, c := range coach {
		details := map[string]any{
			"coach_id":          c.CoachID,
			"coach_name":        c.CoachName,
			"week_start":        c.WeekStart.Format(time.DateOnly),
			"deal_count":        c.DealCount,
			"won_rate_week":     c.WonRateWeek,
			"nabeller_pct_week": c.NabellerPctWeek,
			"rolling_4w_rate":   c.Rolling4WRate,
		}
		for i, kind := range c.Kinds {
			typ := AlertWonRateDrop
			if kind == weekly.KindNabellerHigh {
				typ = AlertNabellerHigh
			}
			alerts = append(alerts, Alert{
				Type:      typ,
				Severity:  "medium",
				Message:   fmt.Sprintf("%s (%s): %s", c.CoachName, c.CoachID, c.Reasons[i]),
				Details:   details,
				Timestamp: now,
			})
		}
	}
	return alerts
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
