package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/crucible-dev/crucible/pkg/lifecycle"
)

func newInstallCommand() *cobra.Command {
	var (
		version  string
		source   string
		retries  int
		parallel int
		hosts    hostFlags
	)

	cmd := &cobra.Command{
		Use:   "install <name>...",
		Short: "Install one or more extensions",
		Long: `Install extensions from their manifests.

The install method (mise, apt, binary, npm, script, or hybrid) comes
from the extension's manifest. A start event is recorded in the ledger
before anything runs, and a completion or failure event afterwards, so
an interrupted install is visible as a lingering "installing" state.`,
		Example: `  # Install a single extension at the manifest's version
  crucible install python

  # Install a specific version
  crucible install python --version 3.12.1

  # Install several extensions with four workers
  crucible install python node rust --parallel 4

  # Install on a remote development host
  crucible install python --host devbox.example.com --ssh-user builder`,
		Args: cobra.MinimumNArgs(1),
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

			runner, err := hosts.runner(ctx)
			if err != nil {
				return err
			}
			defer runner.Close()

			if version != "" && len(args) > 1 {
				return fmt.Errorf("--version applies to a single extension")
			}

			// Resolve each version up front so the start event carries
			// the real version, then gate everything before any work.
			versions := make(map[string]string, len(args))
			for _, name := range args {
				ext, ok := manifests[name]
				if !ok {
					return fmt.Errorf("no manifest for extension %q", name)
				}
				requested := version
				if requested == "" {
					requested = ext.Metadata.Version
				}
				versions[name] = requested

				input := operationInput(ctx, led, catalog, ext, "install", requested, source)
				if err := gateOperation(ctx, engine, input); err != nil {
					return err
				}
			}

			orch := newOrchestrator(led, runner, manifests, retries)

			run := func(ctx context.Context, name string) error {
				result, err := orch.Install(ctx, lifecycle.InstallRequest{
					Name:    name,
					Version: versions[name],
					Source:  source,
					Method:  string(manifests[name].Install.Method),
				})
				if err != nil {
					return err
				}
				fmt.Printf("Installed %s %s\n", name, result.Version)
				return nil
			}

			if len(args) == 1 {
				return run(ctx, args[0])
			}

			pool := lifecycle.NewPool(parallel)
			var failed int
			for _, res := range pool.Run(ctx, args, run) {
				if res.Err != nil {
					failed++
					fmt.Printf("Failed %s: %v\n", res.Name, res.Err)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d installs failed", failed, len(args))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&version, "version", "", "version to install (default: manifest version)")
	cmd.Flags().StringVar(&source, "source", "", "source the extension definition came from")
	cmd.Flags().IntVar(&retries, "retries", 0, "retry failed commands this many times")
	cmd.Flags().IntVar(&parallel, "parallel", 2, "worker count when installing multiple extensions")
	hosts.register(cmd)

	return cmd
}
