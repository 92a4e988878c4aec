package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crucible-dev/crucible/pkg/registry"
)

func newPinCommand() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "pin <name> <version>",
		Short: "Pin an extension to a version",
		Long: `Pin an extension to a specific version in the catalog.

Pinned extensions are protected by policy: upgrades to any other
version are denied until the pin is removed.`,
		Example: `  # Pin python and record why
  crucible pin python 3.12.1 --reason "3.13 breaks numba"`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			name, version := args[0], args[1]

			catalog, err := openCatalog(ctx)
			if err != nil {
				return err
			}
			defer catalog.Close()

			if _, err := catalog.GetEntry(ctx, name); err != nil {
				return fmt.Errorf("extension %q is not in the catalog (run 'crucible list --sync'): %w", name, err)
			}

			pin := &registry.Pin{ExtensionName: name, Version: version}
			if reason != "" {
				pin.Reason = &reason
			}
			if err := catalog.PinVersion(ctx, pin); err != nil {
				return err
			}

			fmt.Printf("Pinned %s to %s\n", name, version)
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "why this pin exists")

	return cmd
}

func newUnpinCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unpin <name>",
		Short: "Remove an extension's version pin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			catalog, err := openCatalog(ctx)
			if err != nil {
				return err
			}
			defer catalog.Close()

			if err := catalog.Unpin(ctx, args[0]); err != nil {
				return err
			}

			fmt.Printf("Unpinned %s\n", args[0])
			return nil
		},
	}

	return cmd
}
