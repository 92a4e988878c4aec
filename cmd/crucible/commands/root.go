package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	ledgerPath    string
	manifestDir   string
	policyPaths   []string
	lockTimeout   time.Duration
	verbose       bool
	jsonOutput    bool
	metricsListen string
	traceExporter string
	traceEndpoint string

	// buildVersion tags telemetry with the binary version.
	buildVersion string
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	buildVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	err := rootCmd.ExecuteContext(ctx)

	// Flush spans and progress events before the process exits.
	if tel := currentTelemetry(); tel != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}
	return err
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "crucible",
		Short: "Crucible - Declarative Development Environment Orchestrator",
		Long: `Crucible provisions and maintains declarative development environments
built from versioned extension manifests.

Every lifecycle state transition is recorded as an immutable event in
an append-only ledger, so "what is installed right now" is answered by
a fast ledger read instead of re-probing the filesystem.

Features:
  - YAML extension manifests validated via CUE
  - mise, apt, binary, npm, script, and hybrid install methods
  - Append-only lifecycle event ledger with compaction
  - Explicit on-disk verification, decoupled from status display
  - Policy gates (OPA/rego) over lifecycle operations
  - Local or SSH-reachable target hosts`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVar(&ledgerPath, "ledger", "", "ledger file path (default: ~/.crucible/status_ledger.jsonl)")
	rootCmd.PersistentFlags().StringVar(&manifestDir, "manifest-dir", "", "extension manifest directory (default: ~/.crucible/manifests)")
	rootCmd.PersistentFlags().StringSliceVar(&policyPaths, "policy", nil, "additional policy file or directory (repeatable)")
	rootCmd.PersistentFlags().DurationVar(&lockTimeout, "lock-timeout", 0, "ledger lock acquisition timeout (default: 5s)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&metricsListen, "metrics-listen", "", "expose Prometheus metrics on this address (e.g. :9090)")
	rootCmd.PersistentFlags().StringVar(&traceExporter, "trace", "none", "trace exporter: none, stdout, or otlp")
	rootCmd.PersistentFlags().StringVar(&traceEndpoint, "trace-endpoint", "", "OTLP collector endpoint for --trace otlp")

	// Add subcommands
	rootCmd.AddCommand(newInstallCommand())
	rootCmd.AddCommand(newUpgradeCommand())
	rootCmd.AddCommand(newRemoveCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newVerifyCommand())
	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newPinCommand())
	rootCmd.AddCommand(newUnpinCommand())
	rootCmd.AddCommand(newLedgerCommand())

	return rootCmd
}
