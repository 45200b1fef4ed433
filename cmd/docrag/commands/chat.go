package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/54b3r/docrag-go/internal/logging"
	"github.com/54b3r/docrag-go/internal/provider"
	"github.com/54b3r/docrag-go/internal/session"
	"github.com/54b3r/docrag-go/internal/store"
	"github.com/54b3r/docrag-go/internal/tracing"
	"github.com/54b3r/docrag-go/internal/tui"
)

// resumeEntries bounds the display log restored by --resume.
const resumeEntries = 100

// NewChatCmd constructs the `docrag chat` command, an interactive terminal
// chat over one collection with conversation memory.
func NewChatCmd() *cobra.Command {
	var simple bool
	var showSources bool
	var resume string

	cmd := &cobra.Command{
		Use:   "chat <collection>",
		Short: "Chat about a collection in the terminal",
		Long: `Start an interactive chat about a documentation collection.

The advanced pipeline remembers recent questions and answers so follow-up
questions work. Type /history to see what is remembered, /clear to forget it,
/new to start over, and /quit to leave.

The transcript is saved to the history database (DOCRAG_HISTORY_DB). The
session id is printed on exit; pass it to --resume to show that transcript
again.

Examples:
  docrag chat demo
  docrag chat demo --simple
  docrag chat demo --resume 5f0c...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			name := args[0]

			// The terminal belongs to the UI; logs go to LOG_FILE or nowhere.
			log := chatLogger()
			ctx = logging.WithLogger(ctx, log)

			flush := tracing.Install(log)
			defer flush()

			chatModel, _, err := provider.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("chat: failed to initialise model provider: %w", err)
			}

			rt, err := newRuntime(log, simple, nil)
			if err != nil {
				return fmt.Errorf("chat: %w", err)
			}
			defer rt.Close()

			history, path, err := store.OpenFromEnv()
			if err != nil {
				log.Warn("history: failed to open store, disabling", slog.Any("error", err))
				history = store.Nop{}
			} else {
				log.Info("history: store opened", slog.String("path", path))
			}
			defer func() { _ = history.Close() }()

			sess, err := session.New(ctx, rt.sessionDeps(chatModel, history))
			if err != nil {
				return fmt.Errorf("chat: %w", err)
			}
			if resume != "" {
				if err := sess.Restore(ctx, resume, resumeEntries); err != nil {
					return fmt.Errorf("chat: %w", err)
				}
			}

			m := tui.New(ctx, tui.FromSession(sess), showSources).
				WithTranscript(sess.Transcript()).
				WithLoader(name, func(ctx context.Context) error {
					_, err := sess.LoadCollectionErr(ctx, name, nil)
					return err
				})

			if _, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run(); err != nil {
				return fmt.Errorf("chat: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "session: %s\n", sess.ID())
			return nil
		},
	}

	cmd.Flags().BoolVar(&simple, "simple", false, "Use the simple pipeline (no memory, plain similarity search)")
	cmd.Flags().BoolVar(&showSources, "sources", false, "Show source file names after each answer")
	cmd.Flags().StringVar(&resume, "resume", "", "Show the saved transcript of an earlier session id")

	return cmd
}

// chatLogger keeps log output off the terminal UI: it writes to LOG_FILE
// when set and otherwise discards everything.
func chatLogger() *slog.Logger {
	if os.Getenv("LOG_FILE") != "" {
		return logging.New()
	}
	return logging.NewWithWriter(io.Discard)
}
