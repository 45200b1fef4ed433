package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/54b3r/docrag-go/internal/index"
)

// NewCollectionsCmd constructs the `docrag collections` command, which lists
// the collections under the collections directory.
func NewCollectionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "collections",
		Short: "List documentation collections",
		Long: `List the collections under DOCRAG_COLLECTIONS_DIR (default: data/collections).

A collection is indexed once its first load has persisted a local index.

Examples:
  docrag collections
  DOCRAG_COLLECTIONS_DIR=/srv/docs docrag collections`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			layout := layoutFromEnv()
			names, err := layout.List()
			if err != nil {
				return fmt.Errorf("collections: %w", err)
			}
			if len(names) == 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "no collections under %s\n", layout.Root)
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tINDEXED")
			for _, n := range names {
				fmt.Fprintf(w, "%s\t%t\n", n, index.Exists(layout.IndexDir(n)))
			}
			return w.Flush()
		},
	}
}
