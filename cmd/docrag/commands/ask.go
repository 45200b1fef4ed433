package commands

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/docrag-go/internal/logging"
	"github.com/54b3r/docrag-go/internal/provider"
	"github.com/54b3r/docrag-go/internal/session"
	"github.com/54b3r/docrag-go/internal/store"
	"github.com/54b3r/docrag-go/internal/tracing"
)

// NewAskCmd constructs the `docrag ask` command, which answers a single
// question about a collection and streams the answer to stdout.
func NewAskCmd() *cobra.Command {
	var simple bool
	var showSources bool

	cmd := &cobra.Command{
		Use:   "ask <collection> <question>",
		Short: "Ask one question about a collection",
		Long: `Ask one question about a documentation collection.

The collection index is built on first use. The answer is streamed to stdout
as it is generated; progress and logs go to stderr.

Examples:
  docrag ask demo "how do I configure the API key?"
  docrag ask demo --simple "what does the install step do?"
  docrag ask demo --sources "which settings control chunking?"`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)
			name, question := args[0], args[1]

			flush := tracing.Install(log)
			defer flush()

			chatModel, providerCfg, err := provider.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("ask: failed to initialise model provider: %w", err)
			}
			log.Info("provider initialised",
				slog.String("provider", string(providerCfg.Backend)),
				slog.String("model", providerCfg.ModelName()),
			)

			rt, err := newRuntime(log, simple, nil)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer rt.Close()

			sess, err := session.New(ctx, rt.sessionDeps(chatModel, store.Nop{}))
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			progress := func(msg string) { log.Info(msg, slog.String("collection", name)) }
			if _, err := sess.LoadCollectionErr(ctx, name, progress); err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			st, err := sess.AskStream(ctx, question)
			if err != nil {
				return errors.New(session.Render(err))
			}
			defer st.Close()

			out := cmd.OutOrStdout()
			for {
				frag, err := st.Next()
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					fmt.Fprintln(out)
					return errors.New(session.Render(err))
				}
				fmt.Fprint(out, frag)
			}
			fmt.Fprintln(out)

			if showSources {
				fmt.Fprintln(out, "\nSources:")
				for i, d := range st.Sources() {
					fmt.Fprintf(out, "  %d. %s (score %.3f)\n", i+1, d.Source, d.Score)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&simple, "simple", false, "Use the simple pipeline (no memory, plain similarity search)")
	cmd.Flags().BoolVar(&showSources, "sources", false, "Print the retrieved source chunks after the answer")

	return cmd
}
