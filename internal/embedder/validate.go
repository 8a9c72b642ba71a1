package embedder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/riku-miura/wiki-rag/internal/rag"
)

// probeText is the fixed input used by Preflight to exercise the backend.
const probeText = "embedding dimension probe"

// knownChatModelFragments contains name fragments that identify
// chat/completion models which are NOT suitable for embedding. If
// EMBEDDING_MODEL matches any of these, a warning is emitted so the operator
// knows they may have misconfigured the pipeline.
var knownChatModelFragments = []string{
	"gpt-4",
	"gpt-3.5",
	"o1",
	"o3",
	"llama3",
	"llama2",
	"llama-3",
	"llama-2",
	"mistral",
	"mixtral",
	"gemma",
	"phi-",
	"phi3",
	"claude",
	"deepseek",
	"qwen",
}

// looksLikeChatModel returns true when the model name resembles a known
// chat/completion model rather than a dedicated embedding model.
func looksLikeChatModel(model string) bool {
	lower := strings.ToLower(model)
	for _, fragment := range knownChatModelFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

// Preflight probes the embedder once with a fixed text and returns the
// actual vector dimension the backend produces. When wantDims is positive a
// disagreement is reported as a rag.ErrDimensionMismatch — catching the
// misconfiguration before a whole article is embedded against the wrong
// index shape.
//
// Call this before a build or before serving traffic so operators get a
// clear startup error instead of a cryptic failure on the first session.
func Preflight(ctx context.Context, e rag.Embedder, wantDims int, log *slog.Logger) (int, error) {
	if model := os.Getenv("EMBEDDING_MODEL"); model != "" && looksLikeChatModel(model) {
		log.Warn("embedder: EMBEDDING_MODEL looks like a chat model, not an embedding model — "+
			"this will likely produce poor or broken embeddings",
			slog.String("model", model),
			slog.String("hint", "use a dedicated embedding model e.g. nomic-embed-text, text-embedding-3-small"),
		)
	}

	vector, err := rag.EmbedOne(ctx, e, probeText)
	if err != nil {
		return 0, fmt.Errorf("embedder: preflight probe failed: %w", err)
	}
	if len(vector) == 0 {
		return 0, fmt.Errorf("embedder: preflight probe returned an empty vector")
	}
	if wantDims > 0 && len(vector) != wantDims {
		return len(vector), fmt.Errorf("embedder: backend produces %d-dimension vectors, configured for %d: %w",
			len(vector), wantDims, rag.ErrDimensionMismatch)
	}
	return len(vector), nil
}
