package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/coach-cli/internal/config"
	"github.com/sells-group/coach-cli/internal/weekly"
)

func testMonitorConfig() config.MonitorConfig {
	return config.MonitorConfig{
		FailureRateMax: 0.5,
		StaleRunHours:  72,
		LookbackHours:  168,
	}
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(testMonitorConfig())

	snap := &RunSnapshot{
		RunsTotal:     10,
		RunsComplete:  9,
		RunsFailed:    1,
		RunFailRate:   0.1,
		CurrentRunID:  "20260310_080000",
		CurrentRunAge: 5 * time.Hour,
		LookbackHours: 168,
	}

	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_RunFailureRate(t *testing.T) {
	a := NewAlerter(testMonitorConfig())

	snap := &RunSnapshot{
		RunsTotal:     5,
		RunsComplete:  1,
		RunsFailed:    4,
		RunFailRate:   0.8,
		CurrentRunID:  "r1",
		LookbackHours: 168,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertRunFailureRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "80.0%")
}

func TestAlerter_Evaluate_MinimumRunsRequired(t *testing.T) {
	a := NewAlerter(testMonitorConfig())

	// A single failed run is not a rate.
	snap := &RunSnapshot{
		RunsTotal:    1,
		RunsFailed:   1,
		RunFailRate:  1,
		CurrentRunID: "r1",
	}

	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_StaleRun(t *testing.T) {
	a := NewAlerter(testMonitorConfig())

	alerts := a.Evaluate(&RunSnapshot{CurrentRunID: "r1", CurrentRunAge: 100 * time.Hour})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertStaleRun, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "100h old")
}

func TestAlerter_Evaluate_NoRun(t *testing.T) {
	a := NewAlerter(testMonitorConfig())

	alerts := a.Evaluate(&RunSnapshot{})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertNoRun, alerts[0].Type)
}

func TestAlerter_FromWeekly(t *testing.T) {
	a := NewAlerter(testMonitorConfig())

	week := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	alerts := a.FromWeekly([]weekly.Alert{
		{
			CoachID:         "101",
			CoachName:       "Anna",
			WeekStart:       week,
			DealCount:       8,
			WonRateWeek:     10,
			NabellerPctWeek: 37.5,
			Rolling4WRate:   40,
			Kinds:           []string{weekly.KindNabellerHigh, weekly.KindWonRateDrop},
			Reasons:         []string{"Nabeller 37.5% > 20%", "Won rate 10.0% < 4w avg (40.0%) - 15%"},
		},
	})

	require.Len(t, alerts, 2)
	assert.Equal(t, AlertNabellerHigh, alerts[0].Type)
	assert.Equal(t, "Anna (101): Nabeller 37.5% > 20%", alerts[0].Message)
	assert.Equal(t, AlertWonRateDrop, alerts[1].Type)
	assert.Equal(t, "2026-03-09", alerts[1].Details["week_start"])
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		err := json.NewDecoder(r.Body).Decode(&alert)
		require.NoError(t, err)
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitorConfig{WebhookURL: ts.URL})

	alerts := []Alert{
		{Type: AlertNabellerHigh, Severity: "medium", Message: "test alert 1"},
		{Type: AlertStaleRun, Severity: "medium", Message: "test alert 2"},
	}

	sent := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	a := NewAlerter(config.MonitorConfig{})

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertNoRun, Message: "test"}})
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_EmptyAlerts(t *testing.T) {
	a := NewAlerter(config.MonitorConfig{WebhookURL: "http://example.com"})

	assert.Equal(t, 0, a.SendAlerts(context.Background(), nil))
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitorConfig{WebhookURL: ts.URL})

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertNoRun, Message: "test"}})
	assert.Equal(t, 0, sent)
}
