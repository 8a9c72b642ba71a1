// Package query answers questions against ready sessions: retrieve the
// most relevant chunks, assemble the augmented prompt, and drain the
// generation stream.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/riku-miura/wiki-rag/internal/rag"
	"github.com/riku-miura/wiki-rag/internal/session"
)

// Placeholder is handed to the generator when retrieval finds nothing, so
// the model refuses instead of answering from its own knowledge.
const Placeholder = "No relevant context found in this document."

// Registry looks up session state.
type Registry interface {
	Get(ctx context.Context, id uuid.UUID) (*session.Session, error)
}

// IndexOpener restores a session's index from its recorded location.
type IndexOpener func(ctx context.Context, sess *session.Session) (rag.Index, *rag.ChunkTable, error)

// Latency breaks a query's wall time into its pipeline stages.
type Latency struct {
	RetrievalMS  int64 `json:"retrieval_ms"`
	GenerationMS int64 `json:"generation_ms"`
	TotalMS      int64 `json:"total_ms"`
}

// Result is the outcome of one question. A non-empty ErrorCode marks a
// failed query; Error then carries the human-readable reason.
type Result struct {
	SessionID string               `json:"session_id"`
	Question  string               `json:"question"`
	Answer    string               `json:"answer,omitempty"`
	Chunks    []rag.RetrievedChunk `json:"retrieved_chunks,omitempty"`
	Model     string               `json:"model,omitempty"`
	Latency   Latency              `json:"latency"`
	Error     string               `json:"error,omitempty"`
	ErrorCode string               `json:"error_code,omitempty"`
}

// Failed reports whether the query did not produce an answer.
func (r *Result) Failed() bool { return r.ErrorCode != "" }

// Orchestrator runs the retrieval-augmented answer pipeline. Loaded
// session indices are cached per session ID; Invalidate evicts them.
type Orchestrator struct {
	// Registry looks up sessions.
	Registry Registry
	// Embedder embeds questions. Must match the build-time configuration.
	Embedder rag.Embedder
	// Generator produces answers.
	Generator rag.Generator
	// Open restores a session's index and chunk table.
	Open IndexOpener
	// TopK is the number of chunks retrieved per question. Defaults to 3.
	TopK int
	// Logger receives per-query logs. Defaults to slog.Default.
	Logger *slog.Logger

	mu    sync.RWMutex
	cache map[uuid.UUID]*rag.Retriever
}

func (o *Orchestrator) log() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// Answer runs one question against a session. It never returns an error:
// failures come back as a Result with Error and ErrorCode set.
func (o *Orchestrator) Answer(ctx context.Context, sessionID, question string) *Result {
	start := time.Now()
	res := &Result{SessionID: sessionID, Question: question}
	defer func() { res.Latency.TotalMS = time.Since(start).Milliseconds() }()

	if strings.TrimSpace(question) == "" {
		return res.fail(session.CodeInvalidInput, "question must not be empty")
	}

	id, err := uuid.Parse(sessionID)
	if err != nil {
		return res.fail(session.CodeInvalidInput, fmt.Sprintf("invalid session ID %q", sessionID))
	}

	sess, err := o.Registry.Get(ctx, id)
	if err != nil {
		if errors.Is(err, rag.ErrNotFound) {
			return res.fail(session.CodeNotFound, "session not found")
		}
		return res.fail(session.CodeInternal, fmt.Sprintf("look up session: %v", err))
	}
	switch sess.Status {
	case session.StatusReady:
	case session.StatusProcessing:
		return res.fail(session.CodeInvalidInput, "session is still processing")
	case session.StatusExpired:
		o.Invalidate(id)
		return res.fail(session.CodeNotFound, "session has expired")
	default:
		return res.fail(session.CodeInvalidInput, fmt.Sprintf("session is not queryable (status %s)", sess.Status))
	}

	retriever, err := o.retriever(ctx, sess)
	if err != nil {
		o.log().Error("query: load session index",
			slog.String("session_id", sessionID),
			slog.Any("error", err),
		)
		return res.fail(session.CodeForError(err), fmt.Sprintf("load session index: %v", err))
	}

	retrievalStart := time.Now()
	chunks, err := retriever.Retrieve(ctx, question, o.TopK)
	res.Latency.RetrievalMS = time.Since(retrievalStart).Milliseconds()
	if err != nil {
		o.log().Error("query: retrieval failed",
			slog.String("session_id", sessionID),
			slog.Any("error", err),
		)
		return res.fail(session.CodeForError(err), fmt.Sprintf("retrieve context: %v", err))
	}
	res.Chunks = chunks

	contextText := Placeholder
	if len(chunks) > 0 {
		parts := make([]string, len(chunks))
		for i, c := range chunks {
			parts[i] = c.Content
		}
		contextText = strings.Join(parts, "\n\n")
	}

	generationStart := time.Now()
	res.Answer = rag.Drain(o.Generator.Prompt(ctx, question, contextText))
	res.Latency.GenerationMS = time.Since(generationStart).Milliseconds()
	res.Model = o.Generator.Model()

	o.log().Info("query: answered",
		slog.String("session_id", sessionID),
		slog.Int("chunks", len(chunks)),
		slog.Int64("retrieval_ms", res.Latency.RetrievalMS),
		slog.Int64("generation_ms", res.Latency.GenerationMS),
	)
	return res
}

// retriever returns the cached retriever for a session, loading and
// caching it on first use.
func (o *Orchestrator) retriever(ctx context.Context, sess *session.Session) (*rag.Retriever, error) {
	o.mu.RLock()
	r, ok := o.cache[sess.ID]
	o.mu.RUnlock()
	if ok {
		return r, nil
	}

	idx, table, err := o.Open(ctx, sess)
	if err != nil {
		return nil, err
	}
	r, err = rag.NewRetriever(o.Embedder, idx, table, o.TopK)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cache == nil {
		o.cache = make(map[uuid.UUID]*rag.Retriever)
	}
	if cached, ok := o.cache[sess.ID]; ok {
		return cached, nil
	}
	o.cache[sess.ID] = r
	return r, nil
}

// Invalidate evicts a session's cached retriever, forcing the next query
// to reload the index from storage.
func (o *Orchestrator) Invalidate(sessionID uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.cache, sessionID)
}

func (r *Result) fail(code, msg string) *Result {
	r.ErrorCode = code
	r.Error = msg
	return r
}
