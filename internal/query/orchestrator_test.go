package query

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"

	"github.com/riku-miura/wiki-rag/internal/index"
	"github.com/riku-miura/wiki-rag/internal/rag"
	"github.com/riku-miura/wiki-rag/internal/session"
)

// wordEmbedder maps known words onto axis-aligned 3-dim vectors so tests
// can steer which chunk is nearest.
type wordEmbedder struct{}

func (wordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v := []float32{0.1, 0.1, 0.1}
		switch {
		case strings.Contains(text, "sky"):
			v = []float32{1, 0, 0}
		case strings.Contains(text, "grass"):
			v = []float32{0, 1, 0}
		case strings.Contains(text, "sun"):
			v = []float32{0, 0, 1}
		}
		out[i] = v
	}
	return out, nil
}

// capturingGenerator records the prompt inputs and answers with a fixed
// fragment stream.
type capturingGenerator struct {
	query       atomic.Value
	contextText atomic.Value
	answer      string
}

func (g *capturingGenerator) Prompt(_ context.Context, query, contextText string) rag.Stream {
	g.query.Store(query)
	g.contextText.Store(contextText)
	return &listStream{fragments: strings.Split(g.answer, " ")}
}

func (g *capturingGenerator) Model() string { return "fake-model" }

type listStream struct {
	fragments []string
	pos       int
}

func (s *listStream) Recv() (string, bool) {
	if s.pos >= len(s.fragments) {
		return "", false
	}
	f := s.fragments[s.pos]
	s.pos++
	if s.pos < len(s.fragments) {
		f += " "
	}
	return f, true
}

// fakeRegistry serves sessions from a map.
type fakeRegistry struct {
	sessions map[uuid.UUID]*session.Session
}

func (r *fakeRegistry) Get(_ context.Context, id uuid.UUID) (*session.Session, error) {
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", rag.ErrNotFound, id)
	}
	return s, nil
}

// newOrchestratorForTest builds a ready session over the given chunks and
// an orchestrator wired to in-memory fakes. opens counts index loads.
func newOrchestratorForTest(t *testing.T, chunks []string, gen rag.Generator, opens *atomic.Int32) (*Orchestrator, *session.Session) {
	t.Helper()

	emb := wordEmbedder{}
	vectors, err := emb.Embed(context.Background(), chunks)
	if err != nil {
		t.Fatalf("embed chunks: %v", err)
	}
	idx, err := index.NewFlat(3)
	if err != nil {
		t.Fatalf("index.NewFlat: %v", err)
	}
	if err := idx.Add(context.Background(), vectors); err != nil {
		t.Fatalf("index chunks: %v", err)
	}
	table := rag.NewChunkTable(chunks)

	sess := session.New("https://en.wikipedia.org/wiki/Color")
	sess.ChunkCount = len(chunks)
	sess.EmbeddingDimension = 3
	sess.MarkReady()

	o := &Orchestrator{
		Registry:  &fakeRegistry{sessions: map[uuid.UUID]*session.Session{sess.ID: sess}},
		Embedder:  emb,
		Generator: gen,
		Open: func(context.Context, *session.Session) (rag.Index, *rag.ChunkTable, error) {
			if opens != nil {
				opens.Add(1)
			}
			return idx, table, nil
		},
		TopK: 2,
	}
	return o, sess
}

var colorChunks = []string{
	"The sky is blue because of Rayleigh scattering.",
	"The grass is green because of chlorophyll.",
	"The sun appears yellow from the surface.",
}

func Test_Orchestrator_Answer_RetrievesRelevantChunk(t *testing.T) {
	t.Parallel()

	gen := &capturingGenerator{answer: "Because of Rayleigh scattering."}
	o, sess := newOrchestratorForTest(t, colorChunks, gen, nil)

	res := o.Answer(context.Background(), sess.ID.String(), "Why is the sky blue?")
	if res.Failed() {
		t.Fatalf("query failed: %s (%s)", res.Error, res.ErrorCode)
	}
	if res.Answer != "Because of Rayleigh scattering." {
		t.Errorf("answer = %q", res.Answer)
	}
	if res.Model != "fake-model" {
		t.Errorf("model = %q", res.Model)
	}
	if len(res.Chunks) == 0 {
		t.Fatal("no chunks retrieved")
	}
	if res.Chunks[0].Position != 0 {
		t.Errorf("nearest chunk position = %d, want 0 (the sky chunk)", res.Chunks[0].Position)
	}
	got := gen.contextText.Load().(string)
	if !strings.Contains(got, "Rayleigh scattering") {
		t.Errorf("generator context = %q, missing the sky chunk", got)
	}
}

func Test_Orchestrator_Answer_JoinsChunksWithBlankLine(t *testing.T) {
	t.Parallel()

	gen := &capturingGenerator{answer: "ok"}
	o, sess := newOrchestratorForTest(t, colorChunks, gen, nil)

	res := o.Answer(context.Background(), sess.ID.String(), "Why is the sky blue?")
	if res.Failed() {
		t.Fatalf("query failed: %s", res.Error)
	}
	got := gen.contextText.Load().(string)
	if len(res.Chunks) == 2 && !strings.Contains(got, "\n\n") {
		t.Errorf("context %q does not join chunks with a blank line", got)
	}
}

func Test_Orchestrator_Answer_EmptyIndexUsesPlaceholder(t *testing.T) {
	t.Parallel()

	gen := &capturingGenerator{answer: "I cannot answer this based on the provided context."}
	o, sess := newOrchestratorForTest(t, nil, gen, nil)
	// an empty chunk list gives an index with no vectors
	o.Open = func(context.Context, *session.Session) (rag.Index, *rag.ChunkTable, error) {
		idx, err := index.NewFlat(3)
		if err != nil {
			return nil, nil, err
		}
		return idx, rag.NewChunkTable(nil), nil
	}

	res := o.Answer(context.Background(), sess.ID.String(), "Why is the sky blue?")
	if res.Failed() {
		t.Fatalf("query failed: %s", res.Error)
	}
	if got := gen.contextText.Load().(string); got != Placeholder {
		t.Errorf("generator context = %q, want the placeholder", got)
	}
	if len(res.Chunks) != 0 {
		t.Errorf("chunks = %d, want 0", len(res.Chunks))
	}
}

func Test_Orchestrator_Answer_UnknownSession(t *testing.T) {
	t.Parallel()

	gen := &capturingGenerator{answer: "unused"}
	o, _ := newOrchestratorForTest(t, colorChunks, gen, nil)

	res := o.Answer(context.Background(), uuid.NewString(), "anything")
	if !res.Failed() || res.ErrorCode != session.CodeNotFound {
		t.Fatalf("result = %+v, want not_found failure", res)
	}
}

func Test_Orchestrator_Answer_MalformedSessionID(t *testing.T) {
	t.Parallel()

	gen := &capturingGenerator{answer: "unused"}
	o, _ := newOrchestratorForTest(t, colorChunks, gen, nil)

	res := o.Answer(context.Background(), "not-a-uuid", "anything")
	if !res.Failed() || res.ErrorCode != session.CodeInvalidInput {
		t.Fatalf("result = %+v, want invalid_input failure", res)
	}
}

func Test_Orchestrator_Answer_ProcessingSessionRejected(t *testing.T) {
	t.Parallel()

	gen := &capturingGenerator{answer: "unused"}
	o, sess := newOrchestratorForTest(t, colorChunks, gen, nil)
	sess.Status = session.StatusProcessing

	res := o.Answer(context.Background(), sess.ID.String(), "anything")
	if !res.Failed() || res.ErrorCode != session.CodeInvalidInput {
		t.Fatalf("result = %+v, want invalid_input failure", res)
	}
}

func Test_Orchestrator_Answer_EmptyQuestionRejected(t *testing.T) {
	t.Parallel()

	gen := &capturingGenerator{answer: "unused"}
	o, sess := newOrchestratorForTest(t, colorChunks, gen, nil)

	res := o.Answer(context.Background(), sess.ID.String(), "   ")
	if !res.Failed() || res.ErrorCode != session.CodeInvalidInput {
		t.Fatalf("result = %+v, want invalid_input failure", res)
	}
}

func Test_Orchestrator_Answer_RepeatedQueryReturnsSameChunks(t *testing.T) {
	t.Parallel()

	gen := &capturingGenerator{answer: "Because of Rayleigh scattering."}
	o, sess := newOrchestratorForTest(t, colorChunks, gen, nil)
	ctx := context.Background()

	first := o.Answer(ctx, sess.ID.String(), "Why is the sky blue?")
	second := o.Answer(ctx, sess.ID.String(), "Why is the sky blue?")
	if first.Failed() || second.Failed() {
		t.Fatalf("queries failed: %s / %s", first.Error, second.Error)
	}

	if len(first.Chunks) == 0 || len(first.Chunks) != len(second.Chunks) {
		t.Fatalf("chunk counts differ: %d vs %d", len(first.Chunks), len(second.Chunks))
	}
	for i := range first.Chunks {
		if first.Chunks[i].Position != second.Chunks[i].Position {
			t.Errorf("chunk %d position = %d then %d, want identical retrieval",
				i, first.Chunks[i].Position, second.Chunks[i].Position)
		}
	}
}

func Test_Orchestrator_CachesLoadedIndex(t *testing.T) {
	t.Parallel()

	var opens atomic.Int32
	gen := &capturingGenerator{answer: "ok"}
	o, sess := newOrchestratorForTest(t, colorChunks, gen, &opens)
	ctx := context.Background()

	o.Answer(ctx, sess.ID.String(), "Why is the sky blue?")
	o.Answer(ctx, sess.ID.String(), "Why is the grass green?")
	if got := opens.Load(); got != 1 {
		t.Fatalf("index loaded %d times across two queries, want 1", got)
	}

	o.Invalidate(sess.ID)
	o.Answer(ctx, sess.ID.String(), "Why is the sun yellow?")
	if got := opens.Load(); got != 2 {
		t.Fatalf("index loaded %d times after invalidation, want 2", got)
	}
}
