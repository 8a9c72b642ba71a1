package rag

import (
	"context"
	"fmt"
)

// Retriever combines an Embedder, an Index, and a ChunkTable to fetch the
// chunks most relevant to a question. It embeds the query at retrieval time
// and delegates similarity search to the index.
type Retriever struct {
	// embedder converts query text to a dense vector. It must be the same
	// configuration (same dimension) used when the index was built.
	embedder Embedder

	// index performs the nearest-neighbour search.
	index Index

	// chunks maps matched positions back to chunk text.
	chunks *ChunkTable

	// defaultTopK is the number of results when the caller passes 0.
	defaultTopK int
}

// NewRetriever constructs a Retriever over an already-built session index.
// defaultTopK sets the fallback result count when Retrieve is called with
// topK=0; it defaults to 3 when not positive.
func NewRetriever(embedder Embedder, index Index, chunks *ChunkTable, defaultTopK int) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if index == nil {
		return nil, fmt.Errorf("rag: index must not be nil")
	}
	if chunks == nil {
		return nil, fmt.Errorf("rag: chunk table must not be nil")
	}
	if defaultTopK <= 0 {
		defaultTopK = 3
	}
	return &Retriever{
		embedder:    embedder,
		index:       index,
		chunks:      chunks,
		defaultTopK: defaultTopK,
	}, nil
}

// Retrieve embeds the query and returns the top-k most similar chunks in
// ascending distance order. Matches whose position has no chunk record are
// dropped. A query embedding whose dimension disagrees with the index wraps
// ErrDimensionMismatch — that situation is a configuration error, never
// silently ignored.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) ([]RetrievedChunk, error) {
	if topK <= 0 {
		topK = r.defaultTopK
	}

	vector, err := EmbedOne(ctx, r.embedder, query)
	if err != nil {
		return nil, fmt.Errorf("rag: embedding query failed: %w", err)
	}
	if len(vector) != r.index.Dimension() {
		return nil, fmt.Errorf("rag: query embedding has dimension %d, index has %d: %w",
			len(vector), r.index.Dimension(), ErrDimensionMismatch)
	}

	matches, err := r.index.Search(ctx, vector, topK)
	if err != nil {
		return nil, fmt.Errorf("rag: vector search failed: %w", err)
	}

	retrieved := make([]RetrievedChunk, 0, len(matches))
	for _, m := range matches {
		content, ok := r.chunks.Content(m.Position)
		if !ok {
			continue
		}
		retrieved = append(retrieved, RetrievedChunk{
			Position: m.Position,
			Content:  content,
			Distance: m.Distance,
		})
	}

	return retrieved, nil
}
