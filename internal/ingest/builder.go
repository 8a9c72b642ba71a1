// Package ingest turns a Wikipedia article URL into a ready session:
// fetch, chunk, embed, index, persist.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/riku-miura/wiki-rag/internal/chunk"
	"github.com/riku-miura/wiki-rag/internal/rag"
	"github.com/riku-miura/wiki-rag/internal/session"
	"github.com/riku-miura/wiki-rag/internal/storage"
	"github.com/riku-miura/wiki-rag/internal/wiki"
)

// Fetcher downloads article plaintext for a source URL.
type Fetcher interface {
	Fetch(ctx context.Context, articleURL string) (*wiki.Article, error)
}

// Registry records session state transitions.
type Registry interface {
	Save(ctx context.Context, s *session.Session) error
}

// Metrics receives build outcome observations. Implementations must be
// safe for concurrent use.
type Metrics interface {
	ObserveBuild(status session.Status, chunks int, elapsed time.Duration)
}

// nopMetrics discards all observations.
type nopMetrics struct{}

func (nopMetrics) ObserveBuild(session.Status, int, time.Duration) {}

// Builder assembles sessions from article URLs. All collaborators are
// required except Metrics and Logger.
type Builder struct {
	// Fetcher downloads article plaintext.
	Fetcher Fetcher
	// Splitter divides article text into chunks.
	Splitter *chunk.Splitter
	// Embedder converts chunk text to vectors.
	Embedder rag.Embedder
	// Dimension is the expected embedding dimension. Builds fail with a
	// dimension error when the embedder disagrees. Zero disables the check.
	Dimension int
	// NewIndex creates an empty index for the given session and dimension.
	NewIndex func(sessionID string, dim int) (rag.Index, error)
	// Blobs persists serialized indices and chunk tables.
	Blobs storage.BlobStore
	// Registry records session state.
	Registry Registry
	// ModelVersion names the embedding model, recorded on the session.
	ModelVersion string
	// Metrics receives build observations. Optional.
	Metrics Metrics
	// Logger receives progress logs. Defaults to slog.Default.
	Logger *slog.Logger
}

func (b *Builder) log() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}

func (b *Builder) metrics() Metrics {
	if b.Metrics != nil {
		return b.Metrics
	}
	return nopMetrics{}
}

// Build runs the full ingestion pipeline for one article URL. It never
// returns an error: failures are recorded on the returned session as the
// failed status with an error code and message. Every call mints a fresh
// session, so concurrent builds of the same URL cannot collide.
func (b *Builder) Build(ctx context.Context, sourceURL string) *session.Session {
	sess := session.New(sourceURL)
	b.Run(ctx, sess)
	return sess
}

// Run executes the pipeline for an already-minted session, recording every
// state transition in the registry. The server uses it to respond with the
// session ID before ingestion finishes.
func (b *Builder) Run(ctx context.Context, sess *session.Session) {
	start := time.Now()
	log := b.log().With(slog.String("session_id", sess.ID.String()), slog.String("url", sess.SourceURL))

	if err := b.Registry.Save(ctx, sess); err != nil {
		log.Error("ingest: record new session", slog.Any("error", err))
	}

	if err := b.build(ctx, sess, log); err != nil {
		sess.MarkFailed(err)
		log.Error("ingest: build failed",
			slog.String("code", sess.Metadata.ErrorCode),
			slog.Any("error", err),
		)
	} else {
		sess.MarkReady()
		log.Info("ingest: session ready",
			slog.Int("chunks", sess.ChunkCount),
			slog.Int("dimension", sess.EmbeddingDimension),
			slog.Duration("elapsed", time.Since(start)),
		)
	}

	sess.Metadata.ProcessingTimeMS = time.Since(start).Milliseconds()
	if err := b.Registry.Save(ctx, sess); err != nil {
		log.Error("ingest: record session outcome", slog.Any("error", err))
	}
	b.metrics().ObserveBuild(sess.Status, sess.ChunkCount, time.Since(start))
}

// build runs the pipeline steps, mutating sess as it goes.
func (b *Builder) build(ctx context.Context, sess *session.Session, log *slog.Logger) error {
	article, err := b.Fetcher.Fetch(ctx, sess.SourceURL)
	if err != nil {
		return err
	}
	sess.Metadata.ArticleTitle = article.Title
	sess.Metadata.ContentSize = len(article.Content)
	sess.Metadata.ModelVersion = b.ModelVersion
	if article.Language != "" {
		sess.Metadata.Language = article.Language
	}

	chunks := b.Splitter.Split(article.Content)
	if len(chunks) == 0 {
		return fmt.Errorf("%w: article %q produced no chunks", rag.ErrInvalidInput, article.Title)
	}
	sess.ChunkCount = len(chunks)
	log.Info("ingest: article chunked", slog.Int("chunks", len(chunks)))

	vectors, err := b.Embedder.Embed(ctx, chunks)
	if err != nil {
		return err
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("%w: embedded %d of %d chunks", rag.ErrUpstreamUnavailable, len(vectors), len(chunks))
	}
	if b.Dimension > 0 && len(vectors[0]) != b.Dimension {
		return fmt.Errorf("%w: embedder produced dimension %d, expected %d",
			rag.ErrDimensionMismatch, len(vectors[0]), b.Dimension)
	}
	sess.EmbeddingDimension = len(vectors[0])

	idx, err := b.NewIndex(sess.ID.String(), len(vectors[0]))
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	if err := idx.Add(ctx, vectors); err != nil {
		return fmt.Errorf("index vectors: %w", err)
	}

	location, err := b.persistIndex(ctx, sess.ID.String(), idx)
	if err != nil {
		return err
	}
	sess.IndexLocation = location

	table := rag.NewChunkTable(chunks)
	var buf bytes.Buffer
	if _, err := table.WriteTo(&buf); err != nil {
		return fmt.Errorf("serialize chunk table: %w", err)
	}
	if err := b.Blobs.Put(ctx, storage.ChunksKey(sess.ID.String()), &buf); err != nil {
		return fmt.Errorf("persist chunk table: %w", err)
	}
	return nil
}

// persistIndex stores the index and returns its location handle. Indices
// that serialize (io.WriterTo) go to blob storage; indices that manage
// their own persistence report a location instead.
func (b *Builder) persistIndex(ctx context.Context, sessionID string, idx rag.Index) (string, error) {
	if loc, ok := idx.(interface{ Location() string }); ok {
		return loc.Location(), nil
	}
	wt, ok := idx.(io.WriterTo)
	if !ok {
		return "", fmt.Errorf("index type %T supports neither serialization nor remote persistence", idx)
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return "", fmt.Errorf("serialize index: %w", err)
	}
	key := storage.IndexKey(sessionID)
	if err := b.Blobs.Put(ctx, key, &buf); err != nil {
		return "", fmt.Errorf("persist index: %w", err)
	}
	return key, nil
}
