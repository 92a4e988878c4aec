package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/crucible-dev/crucible/pkg/lifecycle"
)

func newRemoveCommand() *cobra.Command {
	var (
		yes   bool
		hosts hostFlags
	)

	cmd := &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove an installed extension",
		Long: `Remove an extension from the target host.

Manifests can require interactive confirmation and list extra paths to
delete beyond what the install method itself cleans up.`,
		Example: `  # Remove an extension
  crucible remove python

  # Skip the confirmation prompt
  crucible remove python --yes`,
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

			if ext.Remove != nil && ext.Remove.Confirmation && !yes {
				fmt.Printf("Remove %s? [y/N]: ", name)
				reader := bufio.NewReader(os.Stdin)
				answer, _ := reader.ReadString('\n')
				if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(answer)), "y") {
					fmt.Println("Aborted.")
					return nil
				}
			}

			var version string
			if statuses, err := led.AllLatestStatus(); err == nil {
				if status, ok := statuses[name]; ok {
					version = status.Version
				}
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

			input := operationInput(ctx, led, catalog, ext, "remove", version, "")
			if err := gateOperation(ctx, engine, input); err != nil {
				return err
			}

			runner, err := hosts.runner(ctx)
			if err != nil {
				return err
			}
			defer runner.Close()

			orch := newOrchestrator(led, runner, manifests, 0)
			if _, err := orch.Remove(ctx, lifecycle.RemoveRequest{
				Name:    name,
				Version: version,
			}); err != nil {
				return err
			}

			fmt.Printf("Removed %s\n", name)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation prompts")
	hosts.register(cmd)

	return cmd
}
