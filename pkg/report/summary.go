package report

import (
	"fmt"

	"github.com/crucible-dev/crucible/pkg/events"
)

// EventSummary renders one lifecycle event as a human-readable line.
func EventSummary(ev events.Event) string {
	switch e := ev.(type) {
	case *events.InstallStarted:
		return fmt.Sprintf("Install started (v%s, method: %s)", e.Version, e.InstallMethod)
	case *events.InstallCompleted:
		return fmt.Sprintf("Install completed (v%s, %s)", e.Version, FormatDuration(e.DurationSecs))
	case *events.InstallFailed:
		return fmt.Sprintf("Install failed (v%s, %s): %s", e.Version, FormatDuration(e.DurationSecs), e.ErrorMessage)
	case *events.UpgradeStarted:
		return fmt.Sprintf("Upgrade started (%s → %s)", e.FromVersion, e.ToVersion)
	case *events.UpgradeCompleted:
		return fmt.Sprintf("Upgrade completed (%s → %s, %s)", e.FromVersion, e.ToVersion, FormatDuration(e.DurationSecs))
	case *events.UpgradeFailed:
		return fmt.Sprintf("Upgrade failed (%s → %s): %s", e.FromVersion, e.ToVersion, e.ErrorMessage)
	case *events.RemoveStarted:
		return fmt.Sprintf("Remove started (v%s)", e.Version)
	case *events.RemoveCompleted:
		return fmt.Sprintf("Remove completed (v%s, %s)", e.Version, FormatDuration(e.DurationSecs))
	case *events.RemoveFailed:
		return fmt.Sprintf("Remove failed (v%s): %s", e.Version, e.ErrorMessage)
	case *events.OutdatedDetected:
		return fmt.Sprintf("Outdated detected (%s → %s)", e.CurrentVersion, e.LatestVersion)
	case *events.ValidationSucceeded:
		return fmt.Sprintf("Validation succeeded (v%s, %s)", e.Version, e.ValidationType)
	case *events.ValidationFailed:
		return fmt.Sprintf("Validation failed (v%s, %s): %s", e.Version, e.ValidationType, e.ErrorMessage)
	default:
		return fmt.Sprintf("Unknown event (%s)", ev.EventType())
	}
}

// FormatDuration renders seconds as a compact human duration.
func FormatDuration(secs uint64) string {
	if secs < 60 {
		return fmt.Sprintf("%ds", secs)
	}
	mins := secs / 60
	remaining := secs % 60
	if remaining == 0 {
		return fmt.Sprintf("%dm", mins)
	}
	return fmt.Sprintf("%dm %ds", mins, remaining)
}

// Truncate shortens a string to maxWidth, appending "..." when cut.
func Truncate(s string, maxWidth int) string {
	if len(s) <= maxWidth {
		return s
	}
	if maxWidth > 3 {
		return s[:maxWidth-3] + "..."
	}
	return s[:maxWidth]
}
