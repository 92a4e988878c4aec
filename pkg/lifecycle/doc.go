// Package lifecycle wraps extension install, upgrade, and remove
// operations with durable event emission.
//
// The orchestrator does not perform any installation mechanics itself;
// those are delegated to an Executor chosen per extension. Its job is
// to bracket each delegated call with a start event, appended before
// the executor runs, and an outcome event carrying duration and error
// detail. A crash mid-operation therefore leaves a durable "started
// but unknown outcome" marker rather than silence.
//
// Ledger append failures are logged and never override the outcome of
// the operation being observed.
package lifecycle
