// Package rag defines the contracts shared by the retrieval-augmented
// generation pipeline: text embedding, nearest-neighbour vector indexing,
// answer generation, and the chunk table that maps index positions back to
// text. Concrete implementations (Ollama, OpenAI, the flat index, Qdrant)
// satisfy these interfaces so the build and query orchestrators never depend
// on a specific backend.
package rag

import (
	"context"
	"fmt"
)

// Embedder is the interface for converting text into dense vector embeddings.
// Implementations must preserve input order, return exactly one vector per
// input text, and return an empty result (not an error) for empty input.
// All vectors produced by one configured Embedder share a fixed dimension.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbedOne embeds a single text (typically a query) using e.
// It is the single-input form of Embedder.Embed and inherits its determinism:
// the result may differ from a batched embedding of the same text only by
// floating-point noise.
func EmbedOne(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("rag: embedder returned %d vectors for one text", len(vectors))
	}
	return vectors[0], nil
}

// Match is a single nearest-neighbour search result.
// The underlying search primitive signals missing slots with a -1 index;
// that sentinel is translated away at the Index boundary, so a Match always
// refers to a real entry.
type Match struct {
	// Position is the ordinal position of the matched vector, which equals
	// the position of the corresponding text chunk.
	Position int

	// Distance is the squared Euclidean distance to the query vector.
	// Smaller is closer.
	Distance float32
}

// Index is the interface for an append-only collection of fixed-dimension
// vectors queryable by exact nearest neighbour. The ordinal position of the
// i-th added vector is size-at-call-time + i, so adding vectors in chunk
// position order keeps index positions equal to chunk positions.
// Concurrent readers are safe once all Add calls have completed.
type Index interface {
	// Add appends vectors to the index in the given order.
	// Every vector must have the index dimension.
	Add(ctx context.Context, vectors [][]float32) error

	// Search returns up to k entries nearest to query, ascending by
	// distance. Fewer than k matches are returned when the index holds
	// fewer than k vectors; sentinel placeholders are never returned.
	Search(ctx context.Context, query []float32, k int) ([]Match, error)

	// Dimension returns the fixed vector dimension of this index.
	Dimension() int

	// Size returns the number of vectors stored.
	Size() int
}

// Stream is a lazy, finite, non-restartable sequence of generated text
// fragments. It is consumed by a single reader; fragments are concatenated
// in order to form the full answer. A backend failure is surfaced as one
// final human-readable error fragment followed by end-of-stream — Recv never
// panics and no error value crosses this boundary.
type Stream interface {
	// Recv returns the next fragment. ok is false when the stream has
	// ended; the fragment is empty in that case.
	Recv() (fragment string, ok bool)
}

// Drain consumes a Stream to completion and returns the concatenated answer.
func Drain(s Stream) string {
	var out []byte
	for {
		fragment, ok := s.Recv()
		if !ok {
			return string(out)
		}
		out = append(out, fragment...)
	}
}

// Generator is the interface for producing an answer to a question given a
// block of retrieved context. The returned stream terminates on backend
// completion, connection close, or error (as a terminal error fragment).
// Implementations must be safe to call from multiple goroutines; each call
// returns an independent stream.
type Generator interface {
	// Prompt sends the question and context to the generation backend and
	// returns the response fragment stream.
	Prompt(ctx context.Context, query, contextText string) Stream

	// Model returns the identifier of the generation model in use.
	Model() string
}

// RetrievedChunk is a chunk selected by similarity search, paired with its
// text content so callers can assemble the generation context.
type RetrievedChunk struct {
	// Position is the chunk's 0-based position in the source document.
	Position int `json:"position"`

	// Content is the chunk text.
	Content string `json:"content"`

	// Distance is the squared L2 distance between the query embedding and
	// the chunk embedding.
	Distance float32 `json:"distance"`
}
