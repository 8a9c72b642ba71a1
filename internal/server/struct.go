package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/riku-miura/wiki-rag/internal/query"
	"github.com/riku-miura/wiki-rag/internal/session"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, slog.Default is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 2 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 5 if zero.
	RateBurst int
	// Registry is the Prometheus registry metrics are registered into.
	// If nil, a private registry is created.
	Registry *prometheus.Registry
}

// sessionBuilder runs the ingestion pipeline for an already-minted session.
// *ingest.Builder satisfies it; tests inject a fake.
type sessionBuilder interface {
	Run(ctx context.Context, sess *session.Session)
}

// answerer answers one question against a session. *query.Orchestrator
// satisfies it; tests inject a fake.
type answerer interface {
	Answer(ctx context.Context, sessionID, question string) *query.Result
}

// sessionGetter looks up session state. *store.SessionStore satisfies it.
type sessionGetter interface {
	Get(ctx context.Context, id uuid.UUID) (*session.Session, error)
}

// Server is the HTTP server exposing the build and query pipelines.
type Server struct {
	// builder runs article ingestion for POST /api/rag/build.
	builder sessionBuilder
	// answerer serves POST /api/chat/query.
	answerer answerer
	// sessions looks up session state for the status and history endpoints.
	sessions sessionGetter
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus instruments owned by this server.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// buildRequest is the JSON body for POST /api/rag/build.
type buildRequest struct {
	// URL is the Wikipedia article to ingest.
	URL string `json:"url"`
}

// queryRequest is the JSON body for POST /api/chat/query.
type queryRequest struct {
	// SessionID identifies the ready session to query.
	SessionID string `json:"session_id"`
	// Question is the user's natural language question.
	Question string `json:"question"`
}

// queryResponse wraps a query result for POST /api/chat/query. Answers are
// aggregated server-side, so StreamingSupported is always false.
type queryResponse struct {
	*query.Result
	StreamingSupported bool `json:"streaming_supported"`
}

// historyResponse is the JSON response for GET /api/chat/{session_id}/history.
// Message persistence is not implemented, so Messages is always empty for
// existing sessions.
type historyResponse struct {
	SessionID string `json:"session_id"`
	Messages  []any  `json:"messages"`
}

// errorResponse is the JSON body for all non-200 API errors.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
