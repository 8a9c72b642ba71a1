// Package generate implements the generation side of the RAG pipeline:
// prompt construction and streaming clients for the Ollama and OpenAI
// generation backends. Backends are treated as untrusted network services —
// transport failures become a terminal error fragment on the stream and
// malformed protocol frames are skipped, so no generation failure ever
// crosses the component boundary as a panic or an error value.
package generate

import "fmt"

// Refusal is the fixed sentence the model is instructed to emit verbatim
// when the answer is not derivable from the supplied context. Grounding the
// model this way is what keeps answers tied to the ingested document.
const Refusal = "I cannot answer this based on the provided context."

// instructions is the system preamble embedded in every prompt. It carries
// the two invariants: answer only from the supplied context, and refuse with
// the fixed sentence instead of guessing.
const instructions = `You are a helpful assistant that answers questions based strictly on the provided context.
If the answer is not in the context, say "` + Refusal + `"
Do not use outside knowledge.`

// buildPrompt assembles the single completion-style prompt used by the
// Ollama /api/generate endpoint.
func buildPrompt(query, contextText string) string {
	return fmt.Sprintf("%s\n\nContext:\n%s\n\nQuestion: %s\n", instructions, contextText, query)
}
