package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for Crucible.
type Metrics struct {
	config MetricsConfig

	// Lifecycle operation metrics
	operationsStarted   *prometheus.CounterVec
	operationsCompleted *prometheus.CounterVec
	operationDuration   *prometheus.HistogramVec

	// Verification metrics
	verifications *prometheus.CounterVec

	// Ledger metrics
	ledgerAppends       *prometheus.CounterVec
	ledgerScans         prometheus.Counter
	ledgerCompactions   prometheus.Counter
	ledgerEventsRemoved prometheus.Counter
	ledgerSizeBytes     prometheus.Gauge

	// Extension state metrics
	extensionsTracked *prometheus.GaugeVec

	// Error metrics
	errorsByClass *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		operationsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_started_total",
				Help:      "Total number of lifecycle operations started",
			},
			[]string{"operation"},
		),
		operationsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_completed_total",
				Help:      "Total number of lifecycle operations completed",
			},
			[]string{"operation", "status"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of lifecycle operations in seconds",
				Buckets:   buckets,
			},
			[]string{"operation", "status"},
		),

		verifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "verifications_total",
				Help:      "Total number of extension verifications",
			},
			[]string{"result"},
		),

		ledgerAppends: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ledger_appends_total",
				Help:      "Total number of ledger append attempts",
			},
			[]string{"status"},
		),
		ledgerScans: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ledger_scans_total",
				Help:      "Total number of full ledger scans",
			},
		),
		ledgerCompactions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ledger_compactions_total",
				Help:      "Total number of ledger compactions",
			},
		),
		ledgerEventsRemoved: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ledger_events_removed_total",
				Help:      "Total number of events removed by compaction",
			},
		),
		ledgerSizeBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "ledger_size_bytes",
				Help:      "Current size of the ledger file in bytes",
			},
		),

		extensionsTracked: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "extensions_tracked",
				Help:      "Current number of tracked extensions by state",
			},
			[]string{"state"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
	}

	registry.MustRegister(
		m.operationsStarted,
		m.operationsCompleted,
		m.operationDuration,
		m.verifications,
		m.ledgerAppends,
		m.ledgerScans,
		m.ledgerCompactions,
		m.ledgerEventsRemoved,
		m.ledgerSizeBytes,
		m.extensionsTracked,
		m.errorsByClass,
	)

	return m, nil
}

// Lifecycle Metrics

// RecordOperationStarted increments the counter for started operations.
func (m *Metrics) RecordOperationStarted(operation string) {
	if m.operationsStarted == nil {
		return
	}
	m.operationsStarted.WithLabelValues(operation).Inc()
}

// RecordOperationCompleted records a completed operation with its
// outcome and duration.
func (m *Metrics) RecordOperationCompleted(operation, status string, duration time.Duration) {
	if m.operationsCompleted == nil {
		return
	}
	m.operationsCompleted.WithLabelValues(operation, status).Inc()
	m.operationDuration.WithLabelValues(operation, status).Observe(duration.Seconds())
}

// Verification Metrics

// RecordVerification records a verification outcome ("passed" or "failed").
func (m *Metrics) RecordVerification(result string) {
	if m.verifications == nil {
		return
	}
	m.verifications.WithLabelValues(result).Inc()
}

// Ledger Metrics

// RecordLedgerAppend records an append attempt with its outcome.
func (m *Metrics) RecordLedgerAppend(status string) {
	if m.ledgerAppends == nil {
		return
	}
	m.ledgerAppends.WithLabelValues(status).Inc()
}

// RecordLedgerScan increments the full-scan counter.
func (m *Metrics) RecordLedgerScan() {
	if m.ledgerScans == nil {
		return
	}
	m.ledgerScans.Inc()
}

// RecordLedgerCompaction records a compaction and the events it removed.
func (m *Metrics) RecordLedgerCompaction(removed int) {
	if m.ledgerCompactions == nil {
		return
	}
	m.ledgerCompactions.Inc()
	m.ledgerEventsRemoved.Add(float64(removed))
}

// SetLedgerSize sets the current ledger file size.
func (m *Metrics) SetLedgerSize(bytes int64) {
	if m.ledgerSizeBytes == nil {
		return
	}
	m.ledgerSizeBytes.Set(float64(bytes))
}

// Extension Metrics

// SetExtensionsTracked sets the count of tracked extensions in a state.
func (m *Metrics) SetExtensionsTracked(state string, count float64) {
	if m.extensionsTracked == nil {
		return
	}
	m.extensionsTracked.WithLabelValues(state).Set(count)
}

// Error Metrics

// RecordError records an error by class.
func (m *Metrics) RecordError(errorClass string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Log error but don't fail the application
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
