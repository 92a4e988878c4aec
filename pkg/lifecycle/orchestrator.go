package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/crucible-dev/crucible/pkg/events"
	"github.com/crucible-dev/crucible/pkg/ledger"
	"github.com/crucible-dev/crucible/pkg/telemetry"
)

// Orchestrator brackets lifecycle operations with ledger events.
type Orchestrator struct {
	store    *ledger.Ledger
	executor Executor
	log      zerolog.Logger
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer
	progress *telemetry.ProgressPublisher
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the orchestrator logger.
func WithLogger(log zerolog.Logger) Option {
	return func(o *Orchestrator) { o.log = log.With().Str("component", "lifecycle").Logger() }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTracer attaches a tracer; each lifecycle operation then runs
// inside its own span.
func WithTracer(t *telemetry.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithProgress attaches a progress publisher.
func WithProgress(p *telemetry.ProgressPublisher) Option {
	return func(o *Orchestrator) { o.progress = p }
}

// NewOrchestrator creates an orchestrator over the given ledger and
// executor.
func NewOrchestrator(store *ledger.Ledger, executor Executor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    store,
		executor: executor,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Install runs an installation bracketed by InstallStarted and
// InstallCompleted/InstallFailed events. The returned error is the
// executor's; ledger append failures are logged, never propagated.
func (o *Orchestrator) Install(ctx context.Context, req InstallRequest) (*InstallResult, error) {
	ctx, span := o.startSpan(ctx, "install", req.Name)
	defer span.End()

	before := o.currentState(req.Name)

	o.append(events.NewEnvelope(req.Name, before, events.StateInstalling, &events.InstallStarted{
		ExtensionName: req.Name,
		Version:       req.Version,
		Source:        req.Source,
		InstallMethod: req.Method,
	}))
	o.recordStarted("install")
	o.publishStarted(req.Name, "install", req.Version)

	start := time.Now()
	result, err := o.executor.Install(ctx, req)
	duration := uint64(time.Since(start).Seconds())

	if err != nil {
		o.append(events.NewEnvelope(req.Name, events.StateInstalling.Ptr(), events.StateFailed, &events.InstallFailed{
			ExtensionName: req.Name,
			Version:       req.Version,
			ErrorMessage:  err.Error(),
			RetryCount:    retryCount(err),
			DurationSecs:  duration,
			LogFile:       logFile(err),
		}))
		o.recordCompleted("install", "failed", time.Since(start))
		o.publishFailed(req.Name, "install", err)
		telemetry.RecordError(span, err)
		return nil, err
	}

	o.append(events.NewEnvelope(req.Name, events.StateInstalling.Ptr(), events.StateInstalled, &events.InstallCompleted{
		ExtensionName:       req.Name,
		Version:             result.Version,
		DurationSecs:        duration,
		ComponentsInstalled: result.Components,
		LogFile:             result.LogFile,
	}))
	o.recordCompleted("install", "succeeded", time.Since(start))
	o.publishCompleted(req.Name, "install", time.Since(start))
	span.SetAttributes(telemetry.AttrExtensionVersion.String(result.Version))
	telemetry.RecordSuccess(span)
	return result, nil
}

// Upgrade runs an upgrade bracketed by UpgradeStarted and
// UpgradeCompleted/UpgradeFailed events.
func (o *Orchestrator) Upgrade(ctx context.Context, req UpgradeRequest) (*UpgradeResult, error) {
	ctx, span := o.startSpan(ctx, "upgrade", req.Name)
	defer span.End()

	before := o.currentState(req.Name)

	o.append(events.NewEnvelope(req.Name, before, events.StateInstalling, &events.UpgradeStarted{
		ExtensionName: req.Name,
		FromVersion:   req.FromVersion,
		ToVersion:     req.ToVersion,
	}))
	o.recordStarted("upgrade")
	o.publishStarted(req.Name, "upgrade", req.ToVersion)

	start := time.Now()
	result, err := o.executor.Upgrade(ctx, req)
	duration := uint64(time.Since(start).Seconds())

	if err != nil {
		o.append(events.NewEnvelope(req.Name, events.StateInstalling.Ptr(), events.StateFailed, &events.UpgradeFailed{
			ExtensionName: req.Name,
			FromVersion:   req.FromVersion,
			ToVersion:     req.ToVersion,
			ErrorMessage:  err.Error(),
			DurationSecs:  duration,
			LogFile:       logFile(err),
		}))
		o.recordCompleted("upgrade", "failed", time.Since(start))
		o.publishFailed(req.Name, "upgrade", err)
		telemetry.RecordError(span, err)
		return nil, err
	}

	o.append(events.NewEnvelope(req.Name, events.StateInstalling.Ptr(), events.StateInstalled, &events.UpgradeCompleted{
		ExtensionName: req.Name,
		FromVersion:   req.FromVersion,
		ToVersion:     result.Version,
		DurationSecs:  duration,
		LogFile:       result.LogFile,
	}))
	o.recordCompleted("upgrade", "succeeded", time.Since(start))
	o.publishCompleted(req.Name, "upgrade", time.Since(start))
	span.SetAttributes(telemetry.AttrExtensionVersion.String(result.Version))
	telemetry.RecordSuccess(span)
	return result, nil
}

// Remove runs a removal bracketed by RemoveStarted and
// RemoveCompleted/RemoveFailed events. A completed removal records
// the extension as removed via RemoveCompleted; the extension remains
// in the ledger history.
func (o *Orchestrator) Remove(ctx context.Context, req RemoveRequest) (*RemoveResult, error) {
	ctx, span := o.startSpan(ctx, "remove", req.Name)
	defer span.End()

	before := o.currentState(req.Name)

	o.append(events.NewEnvelope(req.Name, before, events.StateRemoving, &events.RemoveStarted{
		ExtensionName: req.Name,
		Version:       req.Version,
	}))
	o.recordStarted("remove")
	o.publishStarted(req.Name, "remove", req.Version)

	start := time.Now()
	result, err := o.executor.Remove(ctx, req)
	duration := uint64(time.Since(start).Seconds())

	if err != nil {
		o.append(events.NewEnvelope(req.Name, events.StateRemoving.Ptr(), events.StateFailed, &events.RemoveFailed{
			ExtensionName: req.Name,
			Version:       req.Version,
			ErrorMessage:  err.Error(),
			DurationSecs:  duration,
			LogFile:       logFile(err),
		}))
		o.recordCompleted("remove", "failed", time.Since(start))
		o.publishFailed(req.Name, "remove", err)
		telemetry.RecordError(span, err)
		return nil, err
	}

	// No dedicated "removed" state exists; a completed removal is
	// distinguishable by its event type.
	o.append(events.NewEnvelope(req.Name, events.StateRemoving.Ptr(), events.StateInstalled, &events.RemoveCompleted{
		ExtensionName: req.Name,
		Version:       req.Version,
		DurationSecs:  duration,
		LogFile:       result.LogFile,
	}))
	o.recordCompleted("remove", "succeeded", time.Since(start))
	o.publishCompleted(req.Name, "remove", time.Since(start))
	telemetry.RecordSuccess(span)
	return result, nil
}

// RecordOutdated appends an OutdatedDetected event for an extension
// whose installed version lags the latest known one.
func (o *Orchestrator) RecordOutdated(name, currentVersion, latestVersion string) {
	before := o.currentState(name)
	o.append(events.NewEnvelope(name, before, events.StateOutdated, &events.OutdatedDetected{
		ExtensionName:  name,
		CurrentVersion: currentVersion,
		LatestVersion:  latestVersion,
	}))
}

// Verify runs the verifier for one extension and appends the outcome
// as a validation event. The result is returned even when the append
// fails.
func (o *Orchestrator) Verify(ctx context.Context, verifier Verifier, name string) (*VerifyResult, error) {
	ctx, span := o.verifySpan(ctx, name)
	defer span.End()

	result, err := verifier.Verify(ctx, name)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	before := o.currentState(name)
	if result.Passed {
		o.append(events.NewEnvelope(name, before, events.StateInstalled, &events.ValidationSucceeded{
			ExtensionName:  name,
			Version:        result.Version,
			ValidationType: result.ValidationType,
		}))
	} else {
		o.append(events.NewEnvelope(name, before, events.StateFailed, &events.ValidationFailed{
			ExtensionName:  name,
			Version:        result.Version,
			ValidationType: result.ValidationType,
			ErrorMessage:   result.Detail,
		}))
	}

	if o.metrics != nil {
		outcome := "passed"
		if !result.Passed {
			outcome = "failed"
		}
		o.metrics.RecordVerification(outcome)
	}
	if o.progress != nil {
		_ = o.progress.PublishVerifyResult(name, result.Passed, result.Detail)
	}
	telemetry.RecordSuccess(span)
	return result, nil
}

// currentState returns the latest recorded state for the extension,
// or nil when it has never been tracked. Lookup failures degrade to
// nil; a start event without state_before is still valid.
func (o *Orchestrator) currentState(name string) *events.State {
	statuses, err := o.store.AllLatestStatus()
	if err != nil {
		o.log.Warn().Err(err).Str("extension", name).Msg("Failed to resolve prior state")
		return nil
	}
	st, ok := statuses[name]
	if !ok {
		return nil
	}
	return st.CurrentState.Ptr()
}

// append writes one envelope, demoting failures to warnings. The
// lifecycle outcome is authoritative regardless of whether it could
// be durably recorded.
func (o *Orchestrator) append(env *events.Envelope) {
	// Appends use their own deadline so a cancelled operation context
	// cannot suppress the outcome event.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := o.store.Append(ctx, env); err != nil {
		o.log.Warn().
			Err(err).
			Str("extension", env.ExtensionName).
			Str("event_type", string(env.Event.EventType())).
			Msg("Failed to record lifecycle event")
		if o.metrics != nil {
			var lerr *ledger.Error
			if errors.As(err, &lerr) {
				o.metrics.RecordError(string(lerr.Class))
			}
		}
	}
}

// startSpan opens a lifecycle operation span when a tracer is
// attached. Without one it returns an inert span so callers can End
// unconditionally.
func (o *Orchestrator) startSpan(ctx context.Context, operation, name string) (context.Context, trace.Span) {
	if o.tracer == nil {
		return ctx, trace.SpanFromContext(context.Background())
	}
	return o.tracer.StartOperationSpan(ctx, operation, name)
}

func (o *Orchestrator) verifySpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if o.tracer == nil {
		return ctx, trace.SpanFromContext(context.Background())
	}
	return o.tracer.StartVerifySpan(ctx, name)
}

func (o *Orchestrator) recordStarted(operation string) {
	if o.metrics != nil {
		o.metrics.RecordOperationStarted(operation)
	}
}

func (o *Orchestrator) recordCompleted(operation, status string, d time.Duration) {
	if o.metrics != nil {
		o.metrics.RecordOperationCompleted(operation, status, d)
	}
}

func (o *Orchestrator) publishStarted(name, operation, version string) {
	if o.progress != nil {
		_ = o.progress.PublishOperationStarted(name, operation, version)
	}
}

func (o *Orchestrator) publishCompleted(name, operation string, d time.Duration) {
	if o.progress != nil {
		_ = o.progress.PublishOperationCompleted(name, operation, d)
	}
}

func (o *Orchestrator) publishFailed(name, operation string, err error) {
	if o.progress != nil {
		_ = o.progress.PublishOperationFailed(name, operation, err.Error())
	}
}

func retryCount(err error) uint32 {
	var rr RetryReporter
	if errors.As(err, &rr) {
		return rr.RetryCount()
	}
	return 0
}

func logFile(err error) string {
	var lr LogReporter
	if errors.As(err, &lr) {
		return lr.LogFile()
	}
	return ""
}
