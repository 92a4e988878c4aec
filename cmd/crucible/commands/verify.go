package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/crucible-dev/crucible/pkg/lifecycle"
)

func newVerifyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify [name]",
		Short: "Run on-disk verification checks",
		Long: `Run the real verification checks an extension's manifest declares:
version commands with expected output patterns and mise tool listings.

Outcomes are recorded in the ledger as validation events, so a broken
installation shows up in later status queries without re-checking.
With no argument, every extension with a manifest is verified.`,
		Example: `  # Verify one extension
  crucible verify python

  # Verify everything
  crucible verify`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			led, err := openLedger()
			if err != nil {
				return err
			}
			manifests, err := loadManifests(ctx)
			if err != nil {
				return err
			}

			var names []string
			if len(args) == 1 {
				names = args
			} else {
				for name := range manifests {
					names = append(names, name)
				}
				sort.Strings(names)
			}
			if len(names) == 0 {
				fmt.Println("No extension manifests found.")
				return nil
			}

			verifier := lifecycle.NewCommandVerifier(manifests)
			orch := newOrchestrator(led, nil, manifests, 0)

			var failed int
			for _, name := range names {
				result, err := orch.Verify(ctx, verifier, name)
				if err != nil {
					failed++
					fmt.Printf("%-20s error: %v\n", name, err)
					continue
				}
				if result.Passed {
					version := result.Version
					if version == "" {
						version = "unknown"
					}
					fmt.Printf("%-20s ok (v%s, %s)\n", name, version, result.ValidationType)
				} else {
					failed++
					fmt.Printf("%-20s FAILED: %s\n", name, result.Detail)
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d verifications failed", failed, len(names))
			}
			return nil
		},
	}

	return cmd
}
