package commands

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/docrag-go/internal/logging"
	"github.com/54b3r/docrag-go/internal/provider"
	"github.com/54b3r/docrag-go/internal/server"
	"github.com/54b3r/docrag-go/internal/session"
	"github.com/54b3r/docrag-go/internal/store"
	"github.com/54b3r/docrag-go/internal/tracing"
)

// pingTimeout bounds the HTTP client used by readiness checks.
const pingTimeout = 5 * time.Second

// NewServeCmd constructs the `docrag serve` command, which starts the HTTP
// server exposing the session and streaming chat API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int
	var simple bool
	var idle time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the docrag HTTP API",
		Long: `Start the docrag HTTP server.

Clients create a session, load a collection into it, and stream answers over
Server-Sent Events. Set DOCRAG_API_KEY to require a Bearer token on /api/*
routes; health, readiness and /metrics stay open.

Examples:
  docrag serve
  docrag serve --port 9090
  MODEL_PROVIDER=ollama docrag serve --simple`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			// Flags win; the environment (including YAML and .env values
			// applied by the root command) fills in the rest.
			if !cmd.Flags().Changed("host") {
				host = getEnvOrDefault("DOCRAG_SERVER_HOST", host)
			}
			if !cmd.Flags().Changed("port") {
				port = getEnvInt("DOCRAG_SERVER_PORT", port)
			}

			flush := tracing.Install(log)
			defer flush()

			chatModel, providerCfg, err := provider.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("serve: failed to initialise model provider: %w", err)
			}
			log.Info("provider initialised",
				slog.String("provider", string(providerCfg.Backend)),
				slog.String("model", providerCfg.ModelName()),
			)

			// Metrics exist before the server so index loads are counted
			// from the first session on.
			metrics := server.NewMetrics(prometheus.DefaultRegisterer)

			rt, err := newRuntime(log, simple, metrics.ObserveLoad)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
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

			sessions, stopSessions := session.NewManager(rt.sessionDeps(chatModel, history), idle, log)
			defer stopSessions()

			srv, err := server.New(sessions, &server.Config{
				Host:      host,
				Port:      port,
				Logger:    log,
				Pingers:   buildPingers(chatModel, providerCfg, rt),
				RateLimit: getEnvFloat("DOCRAG_RATE_LIMIT", 0),
				RateBurst: getEnvInt("DOCRAG_RATE_BURST", 0),
				APIKey:    os.Getenv("DOCRAG_API_KEY"),
				Layout:    rt.layout,
				Metrics:   metrics,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			log.Info("serve starting",
				slog.String("variant", string(rt.variant)),
				slog.String("collections", rt.layout.Root),
			)
			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to (env: DOCRAG_SERVER_HOST)")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on (env: DOCRAG_SERVER_PORT)")
	cmd.Flags().BoolVar(&simple, "simple", false, "Serve the simple pipeline (no memory, plain similarity search)")
	cmd.Flags().DurationVar(&idle, "session-idle", session.DefaultIdleTimeout, "Close sessions idle for this long")

	return cmd
}

// buildPingers returns the readiness checks for the configured backends.
// Ollama is pinged over HTTP so readiness checks never load a model; hosted
// backends get a minimal generate call.
func buildPingers(chatModel model.BaseChatModel, cfg *provider.Config, rt *runtime) []server.Pinger {
	var pingers []server.Pinger
	if cfg.Backend == provider.BackendOllama {
		client := &http.Client{Timeout: pingTimeout}
		pingers = append(pingers, server.NewHTTPPinger("ollama", cfg.Ollama.Host, client))
	} else {
		pingers = append(pingers, server.NewLLMPinger(chatModel, string(cfg.Backend)))
	}
	pingers = append(pingers, server.NewEmbedderPinger(rt.embedder, rt.embedderInfo.Provider))
	if rt.qdrant != nil {
		pingers = append(pingers, server.NewQdrantPinger(rt.qdrant))
	}
	return pingers
}
