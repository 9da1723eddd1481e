package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sells-group/coach-cli/internal/model"
)

const namespace = "coach"

// Metrics holds the prometheus collectors exposed by serve.
type Metrics struct {
	Runs          *prometheus.GaugeVec
	RunFailRate   prometheus.Gauge
	CurrentRunAge prometheus.Gauge
	CurrentP50    prometheus.Gauge
	Coaches       *prometheus.GaugeVec
	Alerts        *prometheus.CounterVec
	HTTPRequests  *prometheus.CounterVec
	HTTPDuration  *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Runs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs",
			Help:      "Runs created within the lookback window by status.",
		}, []string{"status"}),
		RunFailRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_fail_rate",
			Help:      "Share of finished runs that failed within the lookback window.",
		}),
		CurrentRunAge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_run_age_seconds",
			Help:      "Age of the selected or latest complete run.",
		}),
		CurrentP50: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_p50_smoothed_rate",
			Help:      "Pool threshold of the current run.",
		}),
		Coaches: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "coaches",
			Help:      "Coaches in the current run by eligibility label.",
		}, []string{"eligibility"}),
		Alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alerts raised by type.",
		}, []string{"type"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests by route and status code.",
		}, []string{"route", "code"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "API request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
	reg.MustRegister(m.Runs, m.RunFailRate, m.CurrentRunAge, m.CurrentP50, m.Coaches, m.Alerts, m.HTTPRequests, m.HTTPDuration)
	return m
}

// ObserveSnapshot sets the gauges from snap.
func (m *Metrics) ObserveSnapshot(snap *RunSnapshot) {
	m.Runs.WithLabelValues(string(model.RunStatusComplete)).Set(float64(snap.RunsComplete))
	m.Runs.WithLabelValues(string(model.RunStatusFailed)).Set(float64(snap.RunsFailed))
	m.Runs.WithLabelValues("in_progress").Set(float64(snap.RunsInProgress))
	m.RunFailRate.Set(snap.RunFailRate)
	m.CurrentRunAge.Set(snap.CurrentRunAge.Seconds())
	m.CurrentP50.Set(snap.CurrentP50)

	for _, e := range model.Eligibilities {
		m.Coaches.WithLabelValues(string(e)).Set(float64(snap.EligibilityMix[e]))
	}
}

// ObserveAlerts counts alerts by type.
func (m *Metrics) ObserveAlerts(alerts []Alert) {
	for _, a := range alerts {
		m.Alerts.WithLabelValues(string(a.Type)).Inc()
	}
}
