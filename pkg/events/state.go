package events

import "fmt"

// State represents the lifecycle state of an extension as recorded in
// the status ledger. Exactly one value is current for an extension at
// any point in logical time; "current" is always derived by folding
// the extension's event history, never stored directly.
type State string

const (
	// StateInstalled indicates the extension is installed and working.
	StateInstalled State = "installed"

	// StateFailed indicates the last lifecycle operation failed.
	StateFailed State = "failed"

	// StateOutdated indicates a newer version is available.
	StateOutdated State = "outdated"

	// StateInstalling indicates an install or upgrade is in flight.
	StateInstalling State = "installing"

	// StateRemoving indicates a removal is in flight.
	StateRemoving State = "removing"
)

// IsTransitional returns true if the state marks an operation in
// flight. An extension durably stuck in a transitional state means a
// prior operation never recorded its outcome (e.g. the process was
// killed); recovery is re-running the operation or verifying.
func (s State) IsTransitional() bool {
	return s == StateInstalling || s == StateRemoving
}

// IsTerminal returns true if the state represents a settled outcome.
func (s State) IsTerminal() bool {
	return s == StateInstalled || s == StateFailed || s == StateOutdated
}

// Validate checks if the state is one of the known values.
func (s State) Validate() error {
	switch s {
	case StateInstalled, StateFailed, StateOutdated, StateInstalling, StateRemoving:
		return nil
	default:
		return fmt.Errorf("invalid extension state: %s", s)
	}
}

// Ptr returns a pointer to the state, for use as an envelope's
// optional state_before.
func (s State) Ptr() *State {
	return &s
}
