package lifecycle

import (
	"context"
)

// Executor performs the actual mechanics of a lifecycle operation.
// Implementations run package managers, download binaries, or execute
// scripts; the orchestrator only observes their outcomes. Retries, if
// any, are the executor's responsibility.
type Executor interface {
	// Install installs an extension and reports what was installed.
	Install(ctx context.Context, req InstallRequest) (*InstallResult, error)

	// Upgrade upgrades an extension between two versions.
	Upgrade(ctx context.Context, req UpgradeRequest) (*UpgradeResult, error)

	// Remove removes an installed extension.
	Remove(ctx context.Context, req RemoveRequest) (*RemoveResult, error)
}

// InstallRequest describes an installation to perform.
type InstallRequest struct {
	// Name is the extension name.
	Name string `json:"name"`

	// Version is the requested version ("latest" when unspecified).
	Version string `json:"version"`

	// Source identifies where the extension definition came from.
	Source string `json:"source"`

	// Method is the declared installation method (mise, apt, binary,
	// npm, script, hybrid).
	Method string `json:"method"`
}

// InstallResult reports what an executor actually installed.
type InstallResult struct {
	// Version is the resolved version, which may differ from the
	// requested one when "latest" was asked for.
	Version string `json:"version"`

	// Components lists the components actually installed.
	Components []string `json:"components"`

	// LogFile is the path to the operation log, if one was written.
	LogFile string `json:"log_file,omitempty"`
}

// UpgradeRequest describes an upgrade to perform.
type UpgradeRequest struct {
	// Name is the extension name.
	Name string `json:"name"`

	// FromVersion is the currently installed version.
	FromVersion string `json:"from_version"`

	// ToVersion is the target version ("latest" when unspecified).
	ToVersion string `json:"to_version"`
}

// UpgradeResult reports the outcome of an upgrade.
type UpgradeResult struct {
	// Version is the resolved target version.
	Version string `json:"version"`

	// LogFile is the path to the operation log, if one was written.
	LogFile string `json:"log_file,omitempty"`
}

// RemoveRequest describes a removal to perform.
type RemoveRequest struct {
	// Name is the extension name.
	Name string `json:"name"`

	// Version is the installed version being removed.
	Version string `json:"version"`
}

// RemoveResult reports the outcome of a removal.
type RemoveResult struct {
	// LogFile is the path to the operation log, if one was written.
	LogFile string `json:"log_file,omitempty"`
}

// RetryReporter is implemented by executor errors that carry a retry
// count, so failure events can record how many attempts were made.
type RetryReporter interface {
	RetryCount() uint32
}

// LogReporter is implemented by executor errors that carry the path
// of the log file written before the failure.
type LogReporter interface {
	LogFile() string
}

// Verifier performs real on-disk and subprocess checks for one
// extension. It is invoked only explicitly, never as part of a status
// query.
type Verifier interface {
	// Verify checks whether the extension is actually installed and
	// functional. A failed check is reported in the result, not as a
	// returned error; errors are reserved for the verifier itself
	// being unable to run.
	Verify(ctx context.Context, name string) (*VerifyResult, error)
}

// VerifyResult is the outcome of one verification check.
type VerifyResult struct {
	// Passed reports whether all checks succeeded.
	Passed bool `json:"passed"`

	// Version is the version that was verified, if known.
	Version string `json:"version,omitempty"`

	// ValidationType names the kind of check performed (command,
	// binary, package).
	ValidationType string `json:"validation_type"`

	// Detail holds the failure detail when Passed is false.
	Detail string `json:"detail,omitempty"`
}
