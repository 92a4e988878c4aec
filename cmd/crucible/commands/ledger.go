package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/crucible-dev/crucible/pkg/events"
	ledgerpkg "github.com/crucible-dev/crucible/pkg/ledger"
	"github.com/crucible-dev/crucible/pkg/report"
)

func newLedgerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and maintain the event ledger",
		Long: `Maintenance operations on the append-only lifecycle event ledger.

The ledger grows forever by design; compaction keeps it bounded by
collapsing each extension's old events into a single carry-forward
record while preserving what "current state" resolves to.`,
	}

	cmd.AddCommand(newLedgerCompactCommand())
	cmd.AddCommand(newLedgerExportCommand())
	cmd.AddCommand(newLedgerStatsCommand())
	cmd.AddCommand(newLedgerTailCommand())

	return cmd
}

func newLedgerCompactCommand() *cobra.Command {
	var retentionDays int

	cmd := &cobra.Command{
		Use:   "compact",
		Short: "Compact old ledger events",
		Long: `Collapse events older than the retention window.

For each extension, only the most recent event older than the cutoff
is kept as a carry-forward record; everything newer is retained in
full. The rewrite is atomic: a failure leaves the ledger untouched.
With --retention-days 0, exactly one event per extension survives.`,
		Example: `  # Keep the last 90 days in full
  crucible ledger compact

  # Aggressive: one event per extension
  crucible ledger compact --retention-days 0`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if retentionDays < 0 {
				return badInputf("retention days must be >= 0, got %d", retentionDays)
			}

			led, err := openLedger()
			if err != nil {
				return err
			}

			removed, err := led.Compact(cmd.Context(), retentionDays)
			if err != nil {
				return err
			}

			if t := currentTelemetry(); t != nil {
				_ = t.Progress.PublishLedgerCompacted(removed)
			}
			fmt.Printf("Compaction removed %d event(s)\n", removed)
			return nil
		},
	}

	cmd.Flags().IntVar(&retentionDays, "retention-days", 90, "events newer than this many days are kept in full")

	return cmd
}

func newLedgerExportCommand() *cobra.Command {
	var sinceFlag string

	cmd := &cobra.Command{
		Use:   "export <path>",
		Short: "Export ledger events to a file",
		Long: `Write the event stream to an external JSONL file for audit or
archival. The export is a plain copy of the envelopes; it can be
filtered to events after a timestamp.`,
		Example: `  # Full export
  crucible ledger export /tmp/ledger-backup.jsonl

  # Only this month's events
  crucible ledger export /tmp/august.jsonl --since 2026-08-01`,
		Args: cobra.ExactArgs(1),
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

			count, err := led.Export(args[0], since)
			if err != nil {
				return err
			}

			fmt.Printf("Exported %d event(s) to %s\n", count, args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&sinceFlag, "since", "", "only events after this timestamp (RFC3339 or YYYY-MM-DD)")

	return cmd
}

func newLedgerStatsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show ledger statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			led, err := openLedger()
			if err != nil {
				return err
			}

			stats, err := led.Stats()
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			}

			fmt.Printf("Ledger: %s\n", led.Path())
			fmt.Printf("  Events:     %d\n", stats.TotalEvents)
			fmt.Printf("  Extensions: %d\n", stats.Extensions)
			fmt.Printf("  File size:  %d bytes\n", stats.FileSizeBytes)
			if stats.OldestTimestamp != nil {
				fmt.Printf("  Oldest:     %s\n", stats.OldestTimestamp.Format(time.RFC3339))
			}
			if stats.NewestTimestamp != nil {
				fmt.Printf("  Newest:     %s\n", stats.NewestTimestamp.Format(time.RFC3339))
			}
			for eventType, count := range stats.EventTypeCounts {
				fmt.Printf("  %-24s %d\n", eventType+":", count)
			}
			return nil
		},
	}

	return cmd
}

func newLedgerTailCommand() *cobra.Command {
	var (
		follow bool
		lines  int
	)

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print recent ledger events",
		Long: `Print the most recent ledger events, and optionally keep watching
for new ones as concurrent operations append them.`,
		Example: `  # Last 20 events
  crucible ledger tail

  # Last 100 events
  crucible ledger tail --lines 100

  # Watch live
  crucible ledger tail --follow`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if lines <= 0 {
				return badInputf("lines must be > 0, got %d", lines)
			}

			led, err := openLedger()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			printEvent := func(env *events.Envelope) {
				fmt.Fprintf(out, "[%s] %-20s %s\n",
					env.Timestamp.Local().Format("2006-01-02 15:04:05"),
					env.ExtensionName,
					report.EventSummary(env.Event))
			}

			if !follow {
				recent, err := led.Query(ledgerpkg.Filter{Limit: lines, Tail: true})
				if err != nil {
					return err
				}
				for _, env := range recent {
					printEvent(env)
				}
				return nil
			}

			return led.Follow(cmd.Context(), printEvent)
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep watching for new events")
	cmd.Flags().IntVar(&lines, "lines", 20, "number of recent events to print")

	return cmd
}
