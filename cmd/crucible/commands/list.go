package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newListCommand() *cobra.Command {
	var (
		category string
		sync     bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List extensions in the catalog",
		Long: `List the extensions known to the local catalog.

The catalog is a cache of parsed manifests; --sync refreshes it from
the manifest directory before listing. Pinned versions are shown when
present.`,
		Example: `  # List everything
  crucible list

  # Refresh from the manifest directory first
  crucible list --sync

  # Only one category
  crucible list --category languages`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			catalog, err := openCatalog(ctx)
			if err != nil {
				return err
			}
			defer catalog.Close()

			if sync {
				manifests, err := loadManifests(ctx)
				if err != nil {
					return err
				}
				dir := manifestDir
				if dir == "" {
					dir = "manifests"
				}
				if err := catalog.SyncManifests(ctx, "file:"+dir, manifests); err != nil {
					return err
				}
			}

			var categoryFilter *string
			if category != "" {
				categoryFilter = &category
			}
			entries, err := catalog.ListEntries(ctx, categoryFilter, 0, 0)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}

			if len(entries) == 0 {
				fmt.Println("Catalog is empty. Run 'crucible list --sync' to populate it.")
				return nil
			}

			pins := map[string]string{}
			if allPins, err := catalog.ListPins(ctx); err == nil {
				for _, pin := range allPins {
					pins[pin.ExtensionName] = pin.Version
				}
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tVERSION\tCATEGORY\tPINNED\tDESCRIPTION")
			for _, entry := range entries {
				pinned := pins[entry.Name]
				if pinned == "" {
					pinned = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					entry.Name, entry.Version, entry.Category, pinned, entry.Description)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "filter by category")
	cmd.Flags().BoolVar(&sync, "sync", false, "refresh the catalog from the manifest directory first")

	return cmd
}
