package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/docrag-go/internal/ingestion"
	"github.com/54b3r/docrag-go/internal/logging"
)

// NewIndexCmd constructs the `docrag index` command, which builds (or
// restores) a collection's index ahead of the first question.
func NewIndexCmd() *cobra.Command {
	var rebuild bool
	var simple bool

	cmd := &cobra.Command{
		Use:   "index <collection>",
		Short: "Build the vector index of a collection",
		Long: `Build and persist the vector index of a collection.

Without --rebuild an existing index is restored and left untouched. With
--rebuild the persisted index is discarded and built again, which is needed
after the documents or the embedding model change.

Examples:
  docrag index demo
  docrag index demo --rebuild
  EMBEDDING_PROVIDER=ollama docrag index demo --rebuild`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			rt, err := newRuntime(log, simple, nil)
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}
			defer rt.Close()

			progress := func(msg string) { log.Info(msg, slog.String("collection", args[0])) }
			load := rt.cache.Load
			if rebuild {
				load = rt.cache.Rebuild
			}
			res, err := load(ctx, args[0], progress)
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), describeLoad(res))
			return nil
		},
	}

	cmd.Flags().BoolVar(&rebuild, "rebuild", false, "Discard the persisted index and build it again")
	cmd.Flags().BoolVar(&simple, "simple", false, "Use the simple pipeline's chunking preset")

	return cmd
}

// describeLoad summarises a load result for the terminal.
func describeLoad(res *ingestion.Result) string {
	emb := res.Meta.EmbedderProvider + "/" + res.Meta.EmbedderModel
	if res.Restored {
		return fmt.Sprintf("%s: restored index (%s, %d documents)", res.Collection, emb, res.Meta.Documents)
	}
	return fmt.Sprintf("%s: built index from %d documents, %d chunks (%s)",
		res.Collection, res.Documents, res.Chunks, emb)
}
