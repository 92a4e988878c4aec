package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/crucible-dev/crucible/pkg/events"
	"github.com/crucible-dev/crucible/pkg/lifecycle"
)

func newUpgradeCommand() *cobra.Command {
	var (
		toVersion string
		retries   int
		hosts     hostFlags
	)

	cmd := &cobra.Command{
		Use:   "upgrade <name>",
		Short: "Upgrade an installed extension",
		Long: `Upgrade an extension to a newer version.

The current version is read from the ledger; the target version
defaults to whatever the manifest now declares. Manifests may select a
reinstall strategy, in which case the old installation is removed
before the new version goes in.`,
		Example: `  # Upgrade to the manifest's current version
  crucible upgrade node

  # Upgrade to an explicit version
  crucible upgrade node --to 20.11.1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			name := args[0]

			led, err := openLedger()
			if err != nil {
				return err
			}
			manifests, err := loadManifests(ctx)
			if err != nil {
				return err
			}
			ext, ok := manifests[name]
			if !ok {
				return fmt.Errorf("no manifest for extension %q", name)
			}

			statuses, err := led.AllLatestStatus()
			if err != nil {
				return err
			}
			status, tracked := statuses[name]
			if !tracked || status.CurrentState == events.StateInstalling {
				return fmt.Errorf("extension %q is not installed", name)
			}
			fromVersion := status.Version

			target := toVersion
			if target == "" {
				target = ext.Metadata.Version
			}

			engine, err := newPolicyEngine(ctx)
			if err != nil {
				return err
			}
			catalog, err := openCatalog(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("catalog unavailable, continuing without pins")
				catalog = nil
			} else {
				defer catalog.Close()
			}

			input := operationInput(ctx, led, catalog, ext, "upgrade", target, "")
			input.FromVersion = fromVersion
			input.ToVersion = target
			if err := gateOperation(ctx, engine, input); err != nil {
				return err
			}

			runner, err := hosts.runner(ctx)
			if err != nil {
				return err
			}
			defer runner.Close()

			orch := newOrchestrator(led, runner, manifests, retries)
			result, err := orch.Upgrade(ctx, lifecycle.UpgradeRequest{
				Name:        name,
				FromVersion: fromVersion,
				ToVersion:   target,
			})
			if err != nil {
				return err
			}

			fmt.Printf("Upgraded %s %s -> %s\n", name, fromVersion, result.Version)
			return nil
		},
	}

	cmd.Flags().StringVar(&toVersion, "to", "", "target version (default: manifest version)")
	cmd.Flags().IntVar(&retries, "retries", 0, "retry failed commands this many times")
	hosts.register(cmd)

	return cmd
}
