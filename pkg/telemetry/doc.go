// Package telemetry provides observability instrumentation for Crucible.
//
// The telemetry package integrates structured logging (zerolog), distributed
// tracing (OpenTelemetry), metrics (Prometheus), and an in-process progress
// bus into a unified system for monitoring and debugging Crucible operations.
//
// # Architecture
//
// The telemetry system is built on four pillars:
//
//  1. Structured Logging - Context-aware logging with zerolog
//  2. Distributed Tracing - OpenTelemetry traces with multiple exporters
//  3. Metrics Collection - Prometheus metrics for operational insights
//  4. Progress Publishing - In-process event bus for live CLI progress
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "crucible"
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
// Add telemetry to context:
//
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
// The logger provides component-specific logging with automatic context
// propagation:
//
//	logger := tel.Logger.NewComponentLogger("lifecycle")
//	logger = logger.WithExtension("python").WithOperation("install")
//	logger.Info("Starting installation")
//	logger.WithError(err).Error("Installation failed")
//
// Log levels: trace, debug, info, warn, error, fatal
//
// # Distributed Tracing
//
// Tracing provides visibility into operation flow and timing:
//
//	ctx, span := tel.Tracer.StartOperationSpan(ctx, "install", "python")
//	defer span.End()
//
//	if err != nil {
//	    telemetry.RecordError(span, err)
//	}
//
// Supported exporters: OTLP (production), Stdout (development), None (testing)
//
// # Metrics
//
// Prometheus metrics track lifecycle and ledger behavior:
//
//	tel.Metrics.RecordOperationStarted("install")
//	tel.Metrics.RecordOperationCompleted("install", "succeeded", duration)
//	tel.Metrics.RecordLedgerAppend("ok")
//	tel.Metrics.RecordLedgerCompaction(removed)
//
// Metrics are exposed via HTTP at /metrics when enabled (default: :9090/metrics)
//
// # Progress Publishing
//
// The progress bus delivers operation progress to in-process subscribers,
// which is how the CLI renders live output for concurrent operations:
//
//	tel.Progress.Subscribe(func(event telemetry.ProgressEvent) {
//	    fmt.Printf("%s: %s\n", event.Extension, event.Message)
//	}, telemetry.FilterByLevel("info"))
//
// Event filters: FilterByLevel, FilterByType, FilterByExtension
//
// # Context Helpers
//
// High-level helpers simplify common instrumentation patterns:
//
//	ctx = telemetry.WithOperationContext(ctx, "install", "python", "3.13.0")
//	defer telemetry.EndOperationContext(ctx, "install", "python", status, err)
//
//	err := telemetry.RecordLedgerOperation(ctx, "compact", func() error {
//	    _, err := store.Compact(ctx, retentionDays)
//	    return err
//	})
//
// # Common Metrics
//
// Key metrics exposed:
//
//   - crucible_operations_started_total{operation}
//   - crucible_operations_completed_total{operation,status}
//   - crucible_operation_duration_seconds{operation,status}
//   - crucible_verifications_total{result}
//   - crucible_ledger_appends_total{status}
//   - crucible_ledger_compactions_total
//   - crucible_ledger_events_removed_total
//   - crucible_ledger_size_bytes
//   - crucible_extensions_tracked{state}
//   - crucible_errors_by_class_total{class}
//
// # Graceful Shutdown
//
// Always shut down telemetry gracefully to flush pending data:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
//	defer cancel()
//
//	if err := tel.Shutdown(ctx); err != nil {
//	    log.Printf("Telemetry shutdown error: %v", err)
//	}
package telemetry
