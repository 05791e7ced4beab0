// Package metrics exposes sync cycle counters for Prometheus and a health
// endpoint for the listener.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"zerodha-copier/internal/models"
)

// Metrics holds all Prometheus metrics for the copier.
type Metrics struct {
	registry *prometheus.Registry

	RunsTotal      *prometheus.CounterVec // labels: status
	RunDuration    prometheus.Histogram
	OrdersTotal    *prometheus.CounterVec // labels: account, exchange, side, status
	TargetsTotal   *prometheus.CounterVec // labels: status
	SkippedTargets *prometheus.CounterVec // labels: reason
	LastSuccess    prometheus.Gauge
	TriggersTotal  *prometheus.CounterVec // labels: strategy
	TriggerErrors  prometheus.Counter
}

// NewMetrics registers and returns all metrics on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "copier_sync_runs_total",
			Help: "Sync cycles by outcome",
		}, []string{"status"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "copier_sync_duration_seconds",
			Help:    "Wall time of a sync cycle",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}),
		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "copier_orders_total",
			Help: "Logical trades by account, exchange, side and outcome",
		}, []string{"account", "exchange", "side", "status"}),
		TargetsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "copier_targets_total",
			Help: "Target account passes by outcome",
		}, []string{"status"}),
		SkippedTargets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "copier_skipped_targets_total",
			Help: "Skipped target accounts by reason",
		}, []string{"reason"}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "copier_last_success_timestamp_seconds",
			Help: "Unix time of the last cycle without failures",
		}),
		TriggersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "copier_triggers_total",
			Help: "Fired triggers by strategy",
		}, []string{"strategy"}),
		TriggerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "copier_trigger_poll_errors_total",
			Help: "Failed polls of the trigger flag",
		}),
	}

	m.registry.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.OrdersTotal,
		m.TargetsTotal,
		m.SkippedTargets,
		m.LastSuccess,
		m.TriggersTotal,
		m.TriggerErrors,
	)
	return m
}

// Observe records a finished cycle.
func (m *Metrics) Observe(report *models.SyncReport) {
	if report == nil {
		return
	}
	status := report.Status()
	m.RunsTotal.WithLabelValues(status).Inc()
	if !report.FinishedAt.IsZero() {
		m.RunDuration.Observe(report.Duration().Seconds())
	}
	if status == "ok" {
		m.LastSuccess.Set(float64(report.FinishedAt.Unix()))
	}

	for _, t := range report.Targets {
		m.TargetsTotal.WithLabelValues(string(t.Status)).Inc()
		if t.Status == models.TargetSkipped {
			m.SkippedTargets.WithLabelValues(skipLabel(t.SkipReason)).Inc()
		}
		for _, tr := range t.Trades {
			if tr.Status == models.TradeNoOp {
				continue
			}
			m.OrdersTotal.WithLabelValues(t.AccountID, string(tr.Exchange), string(tr.Side), string(tr.Status)).Inc()
		}
	}
}

// ObserveTrigger records one fired trigger.
func (m *Metrics) ObserveTrigger(strategy string) {
	m.TriggersTotal.WithLabelValues(strategy).Inc()
}

// ObservePollError records a failed flag poll.
func (m *Metrics) ObservePollError() {
	m.TriggerErrors.Inc()
}

// Registry exposes the private registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// skipLabel keeps label cardinality bounded: free-text reasons collapse to
// their leading word.
func skipLabel(reason string) string {
	for i, r := range reason {
		if r == ' ' || r == ':' {
			return reason[:i]
		}
	}
	if reason == "" {
		return "unknown"
	}
	return reason
}

// HealthStatus tracks listener liveness for /healthz.
type HealthStatus struct {
	mu sync.RWMutex

	Strategy      string    `json:"strategy"`
	LastRunID     string    `json:"last_run_id"`
	LastRunStatus string    `json:"last_run_status"`
	LastRunAt     time.Time `json:"last_run_at"`
	FlagReachable bool      `json:"flag_reachable"`
	LastPollAt    time.Time `json:"last_poll_at"`
	StartedAt     time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus(strategy string) *HealthStatus {
	return &HealthStatus{Strategy: strategy, FlagReachable: true, StartedAt: time.Now()}
}

// SetRun records the outcome of the latest cycle.
func (h *HealthStatus) SetRun(report *models.SyncReport) {
	if report == nil {
		return
	}
	h.mu.Lock()
	h.LastRunID = report.RunID
	h.LastRunStatus = report.Status()
	h.LastRunAt = report.FinishedAt
	h.mu.Unlock()
}

// SetPoll records whether the latest flag poll reached its source.
func (h *HealthStatus) SetPoll(reachable bool) {
	h.mu.Lock()
	h.FlagReachable = reachable
	h.LastPollAt = time.Now()
	h.mu.Unlock()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !h.FlagReachable || h.LastRunStatus == "fatal" {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	status := struct {
		Status        string `json:"status"`
		Uptime        string `json:"uptime"`
		Strategy      string `json:"strategy"`
		LastRunID     string `json:"last_run_id,omitempty"`
		LastRunStatus string `json:"last_run_status,omitempty"`
		LastRunAt     string `json:"last_run_at,omitempty"`
		FlagReachable bool   `json:"flag_reachable"`
	}{
		Status:        overallStatus,
		Uptime:        time.Since(h.StartedAt).Round(time.Second).String(),
		Strategy:      h.Strategy,
		LastRunID:     h.LastRunID,
		LastRunStatus: h.LastRunStatus,
		FlagReachable: h.FlagReachable,
	}
	if !h.LastRunAt.IsZero() {
		status.LastRunAt = h.LastRunAt.Format(time.RFC3339)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpCode)
	_ = json.NewEncoder(w).Encode(status)
}
