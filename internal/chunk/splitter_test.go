package chunk

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func Test_Split_EmptyInputYieldsNoChunks(t *testing.T) {
	t.Parallel()
	s := NewSplitter(100, 20)

	for _, text := range []string{"", "   ", "\n\n\t\n"} {
		if got := s.Split(text); len(got) != 0 {
			t.Errorf("Split(%q): want no chunks, got %d", text, len(got))
		}
	}
}

func Test_Split_ShortInputIsSingleChunk(t *testing.T) {
	t.Parallel()
	s := NewSplitter(1000, 200)

	chunks := s.Split("The sky is blue.")
	if len(chunks) != 1 {
		t.Fatalf("want 1 chunk, got %d", len(chunks))
	}
	if chunks[0] != "The sky is blue." {
		t.Errorf("chunk content: got %q", chunks[0])
	}
}

func Test_Split_RespectsChunkSize(t *testing.T) {
	t.Parallel()
	s := NewSplitter(100, 20)

	text := strings.Repeat("alpha beta gamma delta epsilon zeta. ", 60)
	chunks := s.Split(text)
	if len(chunks) < 2 {
		t.Fatalf("want multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if n := utf8.RuneCountInString(c); n > 100 {
			t.Errorf("chunk %d has %d runes, exceeds size 100", i, n)
		}
	}
}

func Test_Split_PreservesDocumentOrder(t *testing.T) {
	t.Parallel()
	s := NewSplitter(80, 0)

	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString("paragraph number ")
		b.WriteString(strings.Repeat("x", i%7))
		b.WriteString("\n\n")
	}
	text := b.String()

	chunks := s.Split(text)
	// With zero overlap every chunk must begin at or after the point where
	// the previous chunk began.
	last := 0
	for i, c := range chunks {
		pos := strings.Index(text[last:], strings.Fields(c)[0])
		if pos < 0 {
			t.Fatalf("chunk %d does not appear in remaining document text", i)
		}
		last += pos
	}
}

func Test_Split_AdjacentChunksOverlap(t *testing.T) {
	t.Parallel()
	s := NewSplitter(100, 30)

	words := make([]string, 120)
	for i := range words {
		words[i] = "word" + strings.Repeat("y", i%5)
	}
	chunks := s.Split(strings.Join(words, " "))
	if len(chunks) < 3 {
		t.Fatalf("want at least 3 chunks, got %d", len(chunks))
	}

	for i := 1; i < len(chunks); i++ {
		prevTail := lastWords(chunks[i-1], 2)
		if !strings.Contains(chunks[i], prevTail) {
			t.Errorf("chunk %d does not carry overlap from chunk %d: tail %q missing from %q",
				i, i-1, prevTail, chunks[i])
		}
	}
}

func Test_Split_ReconstructsContent(t *testing.T) {
	t.Parallel()
	s := NewSplitter(120, 20)

	text := "First paragraph with several words.\n\nSecond paragraph, also with words.\n\n" +
		strings.Repeat("Third paragraph keeps going and going with more filler words. ", 10)
	chunks := s.Split(text)

	// Every word of the source must survive in at least one chunk.
	all := strings.Join(chunks, " ")
	for _, w := range strings.Fields(text) {
		if !strings.Contains(all, w) {
			t.Errorf("word %q lost during chunking", w)
		}
	}
}

func Test_Split_ParagraphSeparatorPreferred(t *testing.T) {
	t.Parallel()
	s := NewSplitter(50, 0)

	chunks := s.Split("short one\n\nshort two\n\nshort three")
	for i, c := range chunks {
		if strings.Contains(c, "\n\n") && utf8.RuneCountInString(c) > 50 {
			t.Errorf("chunk %d not split at paragraph boundary: %q", i, c)
		}
	}
}

func Test_Split_FallsBackToCharacters(t *testing.T) {
	t.Parallel()
	s := NewSplitter(50, 10)

	// No paragraph, line, or word separators at all.
	text := strings.Repeat("abcdefghij", 30)
	chunks := s.Split(text)
	if len(chunks) < 5 {
		t.Fatalf("want several character-level chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if n := utf8.RuneCountInString(c); n > 50 {
			t.Errorf("chunk %d has %d runes, exceeds size 50", i, n)
		}
	}
}

func Test_Split_ReferenceBuildShape(t *testing.T) {
	t.Parallel()
	// A 3000+ character document with the production 1000/200 configuration
	// must produce at least 3 chunks.
	s := NewSplitter(1000, 200)

	var b strings.Builder
	for b.Len() < 3200 {
		b.WriteString("The quick brown fox jumps over the lazy dog near the riverbank. ")
	}
	chunks := s.Split(b.String())
	if len(chunks) < 3 {
		t.Errorf("want >= 3 chunks for a %d-char document, got %d", b.Len(), len(chunks))
	}
}

func Test_NewSplitter_ClampsBadOverlap(t *testing.T) {
	t.Parallel()
	s := NewSplitter(100, 150)
	if s.chunkOverlap >= s.chunkSize {
		t.Errorf("overlap %d not clamped below size %d", s.chunkOverlap, s.chunkSize)
	}
}

// lastWords returns the final n whitespace-separated words of s.
func lastWords(s string, n int) string {
	fields := strings.Fields(s)
	if len(fields) > n {
		fields = fields[len(fields)-n:]
	}
	return strings.Join(fields, " ")
}
