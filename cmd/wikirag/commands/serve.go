package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/riku-miura/wiki-rag/internal/embedder"
	"github.com/riku-miura/wiki-rag/internal/index"
	"github.com/riku-miura/wiki-rag/internal/logging"
	"github.com/riku-miura/wiki-rag/internal/server"
)

// pingable is satisfied by backends that expose a reachability probe.
type pingable interface {
	Ping(ctx context.Context) error
}

// NewServeCmd constructs the `wikirag serve` command, which starts the
// HTTP API server.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the wikirag HTTP API server",
		Long: `Start the wikirag HTTP server on localhost.

The server exposes article ingestion (POST /api/rag/build), session status
(GET /api/rag/sessions/{id}), question answering (POST /api/chat/query),
and operational endpoints (/api/health, /api/ready, /metrics).

Examples:
  wikirag serve
  wikirag serve --port 9090
  GENERATION_PROVIDER=openai wikirag serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting",
				slog.String("embedding", embedder.Backend()),
				slog.String("index", os.Getenv("INDEX_BACKEND")),
			)

			p, err := newPipeline(log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer p.Close()

			builder := p.newBuilder(ctx)
			orchestrator := p.newOrchestrator()

			var pingers []server.Pinger
			if e, ok := p.embedder.(pingable); ok {
				pingers = append(pingers, server.NewComponentPinger("embedder", e.Ping))
			}
			if g, ok := p.generator.(pingable); ok {
				pingers = append(pingers, server.NewComponentPinger("generator", g.Ping))
			}
			pingers = append(pingers, server.NewComponentPinger("storage", p.blobs.Ping))
			pingers = append(pingers, server.NewComponentPinger("sessions", p.sessions.Ping))
			if os.Getenv("INDEX_BACKEND") == "qdrant" {
				cfg := qdrantConfigFromEnv()
				pingers = append(pingers, server.NewComponentPinger("qdrant", func(ctx context.Context) error {
					return index.PingQdrant(ctx, cfg)
				}))
			}

			srv, err := server.New(builder, orchestrator, p.sessions, &server.Config{
				Host:    host,
				Port:    port,
				Logger:  log,
				Pingers: pingers,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}
			builder.Metrics = srv.BuildMetrics()

			// Expire stale sessions in the background so their indices stop
			// serving queries after the TTL.
			ttl := time.Duration(envInt("SESSION_TTL_HOURS", 24)) * time.Hour
			if ttl > 0 {
				go expireLoop(ctx, p, ttl, log)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")

	return cmd
}

// expireLoop marks ready sessions older than ttl as expired, once per hour.
func expireLoop(ctx context.Context, p *pipeline, ttl time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.sessions.ExpireBefore(ctx, time.Now().Add(-ttl))
			if err != nil {
				log.Error("session expiry failed", slog.Any("error", err))
				continue
			}
			if n > 0 {
				log.Info("sessions expired", slog.Int("count", n))
			}
		}
	}
}
