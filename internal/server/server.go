// Package server implements the HTTP API that exposes the build and query
// pipelines: article ingestion, session status, question answering, and
// operational endpoints (health, readiness, metrics).
// The server is started by the `wikirag serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/riku-miura/wiki-rag/internal/ingest"
	"github.com/riku-miura/wiki-rag/internal/logging"
	"github.com/riku-miura/wiki-rag/internal/rag"
	"github.com/riku-miura/wiki-rag/internal/session"
	"github.com/riku-miura/wiki-rag/internal/wiki"
)

// New constructs a Server from the pipeline collaborators and config.
func New(builder sessionBuilder, answerer answerer, sessions sessionGetter, cfg *Config) (*Server, error) {
	if builder == nil {
		return nil, fmt.Errorf("server: builder must not be nil")
	}
	if answerer == nil {
		return nil, fmt.Errorf("server: answerer must not be nil")
	}
	if sessions == nil {
		return nil, fmt.Errorf("server: session getter must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout covers the full generation round trip.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	s := &Server{
		builder:  builder,
		answerer: answerer,
		sessions: sessions,
		cfg:      cfg,
		log:      cfg.Logger,
		pingers:  cfg.Pingers,
		metrics:  newServerMetrics(reg),
	}

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, cfg.Logger)
	s.stopRL = stopRL

	mux := http.NewServeMux()
	mux.Handle("POST /api/rag/build", rl.middleware(http.HandlerFunc(s.handleBuild)))
	mux.HandleFunc("GET /api/rag/sessions/{id}", s.handleSessionStatus)
	mux.HandleFunc("POST /api/chat/query", s.handleQuery)
	mux.HandleFunc("GET /api/chat/{id}/history", s.handleHistory)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(cfg.Logger, corsMiddleware(s.instrument(mux))),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.stopRL()
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.stopRL()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// Handler returns the server's HTTP handler for use in tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// BuildMetrics returns the ingestion metrics hook backed by this server's
// registry, for wiring into the builder.
func (s *Server) BuildMetrics() ingest.Metrics { return s.metrics }

// handleBuild handles POST /api/rag/build. It validates the article URL,
// mints a session, and starts ingestion in the background, replying 202
// with the processing session so clients can poll its status.
func (s *Server) handleBuild(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req buildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, session.CodeInvalidInput, "invalid request body")
		return
	}
	if !wiki.IsArticleURL(req.URL) {
		writeError(w, http.StatusBadRequest, session.CodeInvalidInput,
			fmt.Sprintf("not a Wikipedia article URL: %q", req.URL))
		return
	}

	sess := session.New(req.URL)
	log.Info("build accepted",
		slog.String("session_id", sess.ID.String()),
		slog.String("url", req.URL),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(sess); err != nil {
		log.Error("build encode error", slog.Any("error", err))
	}

	// Ingestion outlives the request; detach from its cancellation.
	go s.builder.Run(context.WithoutCancel(r.Context()), sess)
}

// handleSessionStatus handles GET /api/rag/sessions/{id}.
func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(sess); err != nil {
		logging.FromContext(r.Context()).Error("status encode error", slog.Any("error", err))
	}
}

// handleQuery handles POST /api/chat/query. The answer is returned as one
// aggregated JSON document once generation completes.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, session.CodeInvalidInput, "invalid request body")
		return
	}

	start := time.Now()
	res := s.answerer.Answer(r.Context(), req.SessionID, req.Question)
	s.metrics.observeQuery(res, time.Since(start))

	status := http.StatusOK
	switch res.ErrorCode {
	case "":
	case session.CodeInvalidInput:
		status = http.StatusBadRequest
	case session.CodeNotFound:
		status = http.StatusNotFound
	case session.CodeUpstreamUnavailable:
		status = http.StatusBadGateway
	default:
		status = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(queryResponse{Result: res}); err != nil {
		log.Error("query encode error", slog.Any("error", err))
	}
}

// handleHistory handles GET /api/chat/{id}/history. The session must exist;
// message persistence is not implemented so the message list is empty.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	resp := historyResponse{SessionID: sess.ID.String(), Messages: []any{}}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logging.FromContext(r.Context()).Error("history encode error", slog.Any("error", err))
	}
}

// lookupSession parses the {id} path value and loads the session, writing
// the error response itself when either step fails.
func (s *Server) lookupSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, session.CodeInvalidInput, "invalid session ID")
		return nil, false
	}
	sess, err := s.sessions.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, rag.ErrNotFound) {
			writeError(w, http.StatusNotFound, session.CodeNotFound, "session not found")
			return nil, false
		}
		logging.FromContext(r.Context()).Error("session lookup failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, session.CodeInternal, "session lookup failed")
		return nil, false
	}
	return sess, true
}

// writeError sends a JSON error response with the given status and code.
func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: msg, Code: code})
}
