package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for leadcast
type Metrics struct {
	// Dispatch
	DispatchBatchesTotal         *prometheus.CounterVec
	DispatchLeadsTotal           *prometheus.CounterVec
	DispatchSkippedTotal         *prometheus.CounterVec
	DispatchBatchDurationSeconds prometheus.Histogram
	DispatchRunning              prometheus.Gauge

	// Selection and content
	SelectionsTotal       *prometheus.CounterVec
	ContentGeneratedTotal *prometheus.CounterVec
	TransportSendsTotal   *prometheus.CounterVec
	TransportSendDuration *prometheus.HistogramVec
	QuotaExceededTotal    *prometheus.CounterVec

	// Ingestion
	EventsIngestedTotal  *prometheus.CounterVec
	StatsIncrementsTotal *prometheus.CounterVec

	// Assignment gauges
	AssignmentsByStatus *prometheus.GaugeVec

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec
	APIErrorsTotal            *prometheus.CounterVec

	// System metrics
	UptimeSeconds    prometheus.Gauge
	Goroutines       prometheus.Gauge
	StorageUsedBytes prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		DispatchBatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadcast_dispatch_batches_total",
				Help: "Total number of dispatch batches by result",
			},
			[]string{"result"},
		),
		DispatchLeadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadcast_dispatch_leads_total",
				Help: "Total number of leads examined by outcome",
			},
			[]string{"outcome"},
		),
		DispatchSkippedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadcast_dispatch_skipped_total",
				Help: "Total number of skipped leads by error category",
			},
			[]string{"category"},
		),
		DispatchBatchDurationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "leadcast_dispatch_batch_duration_seconds",
				Help:    "Dispatch batch duration in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
			},
		),
		DispatchRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "leadcast_dispatch_running",
				Help: "1 while a dispatch batch is running",
			},
		),

		SelectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadcast_selections_total",
				Help: "Total number of variant selections by persona and phase",
			},
			[]string{"persona", "phase"},
		),
		ContentGeneratedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadcast_content_generated_total",
				Help: "Total number of generated content items by kind and source",
			},
			[]string{"kind", "source"},
		),
		TransportSendsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadcast_transport_sends_total",
				Help: "Total number of transport send attempts by result",
			},
			[]string{"transport", "result"},
		),
		TransportSendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "leadcast_transport_send_duration_seconds",
				Help:    "Transport send duration in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"transport"},
		),
		QuotaExceededTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadcast_quota_exceeded_total",
				Help: "Total number of sends denied by quota scope",
			},
			[]string{"scope"},
		),

		EventsIngestedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadcast_events_ingested_total",
				Help: "Total number of provider events by provider, type and outcome",
			},
			[]string{"provider", "type", "outcome"},
		),
		StatsIncrementsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadcast_stats_increments_total",
				Help: "Total number of variant statistic increments by kind",
			},
			[]string{"kind"},
		),

		AssignmentsByStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "leadcast_assignments",
				Help: "Number of assignments by status",
			},
			[]string{"status"},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadcast_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "leadcast_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		APIErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadcast_api_errors_total",
				Help: "Total number of API errors",
			},
			[]string{"error_type"},
		),

		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "leadcast_uptime_seconds",
				Help: "Server uptime in seconds",
			},
		),
		Goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "leadcast_goroutines",
				Help: "Number of active goroutines",
			},
		),
		StorageUsedBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "leadcast_storage_used_bytes",
				Help: "Database file size in bytes (SQLite only)",
			},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.DispatchBatchesTotal,
		m.DispatchLeadsTotal,
		m.DispatchSkippedTotal,
		m.DispatchBatchDurationSeconds,
		m.DispatchRunning,
		m.SelectionsTotal,
		m.ContentGeneratedTotal,
		m.TransportSendsTotal,
		m.TransportSendDuration,
		m.QuotaExceededTotal,
		m.EventsIngestedTotal,
		m.StatsIncrementsTotal,
		m.AssignmentsByStatus,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.APIErrorsTotal,
		m.UptimeSeconds,
		m.Goroutines,
		m.StorageUsedBytes,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// The helpers below are no-ops until SetGlobal is called, so packages can
// record metrics unconditionally.

// IncDispatchBatch counts a finished batch ("ok", "error", "busy")
func IncDispatchBatch(result string) {
	if m := Global(); m != nil {
		m.DispatchBatchesTotal.WithLabelValues(result).Inc()
	}
}

// ObserveDispatchBatch records a batch duration
func ObserveDispatchBatch(seconds float64) {
	if m := Global(); m != nil {
		m.DispatchBatchDurationSeconds.Observe(seconds)
	}
}

// SetDispatchRunning flags whether a batch is in progress
func SetDispatchRunning(running bool) {
	if m := Global(); m != nil {
		v := 0.0
		if running {
			v = 1
		}
		m.DispatchRunning.Set(v)
	}
}

// IncDispatchProcessed counts a lead that reached the transport successfully
func IncDispatchProcessed() {
	if m := Global(); m != nil {
		m.DispatchLeadsTotal.WithLabelValues("processed").Inc()
	}
}

// IncDispatchSkipped counts a lead skipped with an error category
func IncDispatchSkipped(category string) {
	if m := Global(); m != nil {
		m.DispatchLeadsTotal.WithLabelValues("skipped").Inc()
		m.DispatchSkippedTotal.WithLabelValues(category).Inc()
	}
}

// IncSelection counts a variant selection
func IncSelection(persona, phase string) {
	if m := Global(); m != nil {
		m.SelectionsTotal.WithLabelValues(persona, phase).Inc()
	}
}

// IncContentGenerated counts generated content ("subjects" or "body") by source
func IncContentGenerated(kind, source string) {
	if m := Global(); m != nil {
		m.ContentGeneratedTotal.WithLabelValues(kind, source).Inc()
	}
}

// ObserveTransportSend records a send attempt
func ObserveTransportSend(transport, result string, seconds float64) {
	if m := Global(); m != nil {
		m.TransportSendsTotal.WithLabelValues(transport, result).Inc()
		m.TransportSendDuration.WithLabelValues(transport).Observe(seconds)
	}
}

// IncQuotaExceeded counts a send denied by quota
func IncQuotaExceeded(scope string) {
	if m := Global(); m != nil {
		m.QuotaExceededTotal.WithLabelValues(scope).Inc()
	}
}

// IncEventIngested counts a provider event
func IncEventIngested(provider, eventType, outcome string) {
	if m := Global(); m != nil {
		m.EventsIngestedTotal.WithLabelValues(provider, eventType, outcome).Inc()
	}
}

// IncStatsIncrement counts a success or failure credit
func IncStatsIncrement(kind string) {
	if m := Global(); m != nil {
		m.StatsIncrementsTotal.WithLabelValues(kind).Inc()
	}
}

// IncAPIErrors increments API error counter
func IncAPIErrors(errorType string) {
	if m := Global(); m != nil {
		m.APIErrorsTotal.WithLabelValues(errorType).Inc()
	}
}
