package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/riku-miura/wiki-rag/internal/chunk"
	"github.com/riku-miura/wiki-rag/internal/embedder"
	"github.com/riku-miura/wiki-rag/internal/generate"
	"github.com/riku-miura/wiki-rag/internal/index"
	"github.com/riku-miura/wiki-rag/internal/ingest"
	"github.com/riku-miura/wiki-rag/internal/query"
	"github.com/riku-miura/wiki-rag/internal/rag"
	"github.com/riku-miura/wiki-rag/internal/session"
	"github.com/riku-miura/wiki-rag/internal/storage"
	"github.com/riku-miura/wiki-rag/internal/store"
	"github.com/riku-miura/wiki-rag/internal/wiki"
)

// pipeline bundles the collaborators shared by the build, ask, and serve
// commands, so each command wires them identically.
type pipeline struct {
	embedder  rag.Embedder
	generator rag.Generator
	splitter  *chunk.Splitter
	blobs     *storage.FS
	sessions  *store.SessionStore
	dimension int
	log       *slog.Logger
}

// newPipeline constructs the shared collaborators from the environment.
// The caller must Close the returned pipeline.
func newPipeline(log *slog.Logger) (*pipeline, error) {
	emb, err := embedder.NewFromEnv()
	if err != nil {
		return nil, fmt.Errorf("initialise embedding backend: %w", err)
	}
	gen, err := generate.NewFromEnv(log)
	if err != nil {
		return nil, fmt.Errorf("initialise generation backend: %w", err)
	}

	blobs, err := storage.NewFS(storageDir())
	if err != nil {
		return nil, err
	}

	sessions, err := openSessionStore()
	if err != nil {
		return nil, err
	}

	return &pipeline{
		embedder:  emb,
		generator: gen,
		splitter:  chunk.NewSplitter(envInt("CHUNK_SIZE", 1000), envInt("CHUNK_OVERLAP", 200)),
		blobs:     blobs,
		sessions:  sessions,
		dimension: embedder.DefaultDimensions(embedder.Backend()),
		log:       log,
	}, nil
}

// openSessionStore opens the session registry at WIKIRAG_SESSIONS_DB, or
// the default ~/.wikirag/sessions.db path when unset.
func openSessionStore() (*store.SessionStore, error) {
	dbPath := os.Getenv("WIKIRAG_SESSIONS_DB")
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, err
		}
	}
	return store.Open(dbPath)
}

// Close releases the pipeline's resources.
func (p *pipeline) Close() {
	_ = p.sessions.Close()
}

// newBuilder wires the ingestion builder over the pipeline.
func (p *pipeline) newBuilder(ctx context.Context) *ingest.Builder {
	return &ingest.Builder{
		Fetcher:      wiki.NewFetcher(),
		Splitter:     p.splitter,
		Embedder:     p.embedder,
		Dimension:    p.dimension,
		NewIndex:     p.newIndexFactory(ctx),
		Blobs:        p.blobs,
		Registry:     p.sessions,
		ModelVersion: os.Getenv("EMBEDDING_MODEL"),
		Logger:       p.log,
	}
}

// newOrchestrator wires the query orchestrator over the pipeline.
func (p *pipeline) newOrchestrator() *query.Orchestrator {
	return &query.Orchestrator{
		Registry:  p.sessions,
		Embedder:  p.embedder,
		Generator: p.generator,
		Open:      p.openIndex,
		TopK:      envInt("RETRIEVAL_TOP_K", 3),
		Logger:    p.log,
	}
}

// newIndexFactory returns the per-session index constructor selected by
// INDEX_BACKEND: "flat" (default) builds an in-process index serialized to
// blob storage; "qdrant" creates a per-session Qdrant collection.
func (p *pipeline) newIndexFactory(ctx context.Context) func(sessionID string, dim int) (rag.Index, error) {
	if os.Getenv("INDEX_BACKEND") != "qdrant" {
		return func(_ string, dim int) (rag.Index, error) {
			return index.NewFlat(dim)
		}
	}
	return func(sessionID string, dim int) (rag.Index, error) {
		cfg := qdrantConfigFromEnv()
		cfg.Collection = qdrantCollection(sessionID)
		cfg.Dim = dim
		return index.NewQdrant(ctx, cfg)
	}
}

// openIndex restores a session's index and chunk table from its recorded
// location, for query-time use.
func (p *pipeline) openIndex(ctx context.Context, sess *session.Session) (rag.Index, *rag.ChunkTable, error) {
	cr, err := p.blobs.Get(ctx, storage.ChunksKey(sess.ID.String()))
	if err != nil {
		return nil, nil, fmt.Errorf("load chunk table: %w", err)
	}
	defer cr.Close()
	table, err := rag.ReadChunkTable(cr)
	if err != nil {
		return nil, nil, fmt.Errorf("load chunk table: %w", err)
	}

	if collection, ok := index.IsQdrantLocation(sess.IndexLocation); ok {
		cfg := qdrantConfigFromEnv()
		cfg.Collection = collection
		cfg.Dim = sess.EmbeddingDimension
		idx, err := index.OpenQdrant(ctx, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("open qdrant index: %w", err)
		}
		return idx, table, nil
	}

	ir, err := p.blobs.Get(ctx, sess.IndexLocation)
	if err != nil {
		return nil, nil, fmt.Errorf("load index: %w", err)
	}
	defer ir.Close()
	idx, err := index.ReadFlat(ir)
	if err != nil {
		return nil, nil, fmt.Errorf("load index: %w", err)
	}
	return idx, table, nil
}

// qdrantConfigFromEnv reads the Qdrant connection settings.
func qdrantConfigFromEnv() *index.QdrantConfig {
	return &index.QdrantConfig{
		Host:   os.Getenv("QDRANT_HOST"),
		Port:   envInt("QDRANT_PORT", 0),
		APIKey: os.Getenv("QDRANT_API_KEY"),
		UseTLS: os.Getenv("QDRANT_TLS") == "true",
	}
}

// qdrantCollection names the per-session Qdrant collection.
func qdrantCollection(sessionID string) string {
	return "wikirag_" + sessionID
}

// storageDir resolves the blob storage root, defaulting to
// ~/.wikirag/storage when STORAGE_DIR is unset.
func storageDir() string {
	if dir := os.Getenv("STORAGE_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "wikirag-storage"
	}
	return filepath.Join(home, ".wikirag", "storage")
}

// envInt reads an integer environment variable with a fallback.
func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
