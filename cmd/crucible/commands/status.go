package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/crucible-dev/crucible/pkg/events"
	"github.com/crucible-dev/crucible/pkg/ledger"
	"github.com/crucible-dev/crucible/pkg/lifecycle"
	"github.com/crucible-dev/crucible/pkg/report"
)

func newStatusCommand() *cobra.Command {
	var (
		limit     int
		sinceFlag string
		verify    bool
	)

	cmd := &cobra.Command{
		Use:   "status [name]",
		Short: "Show extension status from the ledger",
		Long: `Show the current state of tracked extensions.

With no argument, prints one row per extension with its latest
ledger-derived state. With a name, prints that extension's event
history, newest first.

This is a pure ledger read: nothing on disk is probed and no external
tool runs, so the answer is fast and never hangs. Pass --verify to
opt in to live on-disk checks for installed extensions.`,
		Example: `  # All extensions
  crucible status

  # One extension's history, most recent 10 events
  crucible status python --limit 10

  # Events after a point in time
  crucible status python --since 2026-08-01T00:00:00Z

  # Status with live verification
  crucible status --verify

  # Machine-readable output
  crucible status --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			led, err := openLedger()
			if err != nil {
				return err
			}

			var since time.Time
			if sinceFlag != "" {
				since, err = parseTimestamp(sinceFlag)
				if err != nil {
					return err
				}
			}

			if len(args) == 1 {
				return showHistory(cmd, led, args[0], limit, since, verify)
			}

			statuses, err := led.AllLatestStatus()
			if err != nil {
				return err
			}

			var verifyFn func(name string) report.VerifyOutcome
			if verify {
				verifyFn = liveVerifier(cmd, led)
			}

			rows := report.StatusRows(statuses, verifyFn)
			if len(rows) == 0 && !jsonOutput {
				fmt.Println("No extensions tracked yet.")
				return nil
			}
			if jsonOutput {
				return report.WriteStatusJSON(os.Stdout, rows)
			}
			return report.WriteStatusTable(os.Stdout, rows)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum history entries to show")
	cmd.Flags().StringVar(&sinceFlag, "since", "", "only events after this timestamp (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().BoolVar(&verify, "verify", false, "additionally run live verification checks")

	return cmd
}

// showHistory prints one extension's event history, optionally bounded
// by a timestamp and followed by a live verification result.
func showHistory(cmd *cobra.Command, led *ledger.Ledger, name string, limit int, since time.Time, verify bool) error {
	var (
		history []*events.Envelope
		err     error
	)
	if !since.IsZero() {
		all, sinceErr := led.EventsSince(since)
		if sinceErr != nil {
			return sinceErr
		}
		// EventsSince is chronological across all extensions; keep this
		// extension's slice and flip to newest-first.
		for _, env := range all {
			if env.ExtensionName == name {
				history = append(history, env)
			}
		}
		for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
			history[i], history[j] = history[j], history[i]
		}
		if limit > 0 && len(history) > limit {
			history = history[:limit]
		}
	} else {
		history, err = led.ExtensionHistory(name, limit)
		if err != nil {
			return err
		}
	}

	if jsonOutput {
		if err := report.WriteHistoryJSON(os.Stdout, history); err != nil {
			return err
		}
	} else {
		report.WriteHistory(os.Stdout, name, history)
	}

	if verify {
		outcome := liveVerifier(cmd, led)(name)
		switch outcome {
		case report.VerifyPassed:
			fmt.Println("Verification: passed")
		case report.VerifyFailed:
			fmt.Println("Verification: failed")
		case report.VerifyUnavailable:
			fmt.Println("Verification: unavailable (no manifest)")
		}
	}
	return nil
}

// liveVerifier returns the opt-in verification callback used by
// status --verify. Outcomes are recorded as validation events.
func liveVerifier(cmd *cobra.Command, led *ledger.Ledger) func(name string) report.VerifyOutcome {
	ctx := cmd.Context()
	manifests, err := loadManifests(ctx)
	if err != nil {
		manifests = nil
	}
	verifier := lifecycle.NewCommandVerifier(manifests)
	orch := newOrchestrator(led, nil, manifests, 0)

	return func(name string) report.VerifyOutcome {
		result, err := orch.Verify(ctx, verifier, name)
		if err != nil {
			return report.VerifyUnavailable
		}
		if result.Passed {
			return report.VerifyPassed
		}
		return report.VerifyFailed
	}
}

// parseTimestamp accepts RFC3339 or a bare date.
func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Time{}, badInputf("invalid timestamp %q: want RFC3339 or YYYY-MM-DD", s)
}
