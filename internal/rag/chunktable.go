package rag

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
)

// ChunkRecord is one immutable text chunk of an ingested document.
// Position is the sole join key between the vector index and chunk content:
// the vector at index position i embeds the chunk with Position i.
type ChunkRecord struct {
	// ChunkID is a unique identifier for this chunk.
	ChunkID uuid.UUID `json:"chunk_id"`

	// Position is the chunk's 0-based position in document order.
	// Positions within a session are dense: [0, chunk_count).
	Position int `json:"position"`

	// Content is the raw chunk text.
	Content string `json:"content"`

	// WordCount is the number of whitespace-separated words in Content.
	WordCount int `json:"word_count"`

	// CharCount is the number of characters (runes) in Content.
	CharCount int `json:"char_count"`

	// SectionTitle is the source section heading, when known. Optional.
	SectionTitle string `json:"section_title,omitempty"`
}

// ChunkTable maps chunk positions to their records for one session.
// It is built once during ingestion and read-only thereafter, so concurrent
// lookups require no locking.
type ChunkTable struct {
	// byPosition holds the records keyed by Position.
	byPosition map[int]ChunkRecord
}

// NewChunkTable builds a ChunkTable from document-ordered chunk texts,
// deriving per-chunk metadata and assigning dense positions 0..len(texts)-1.
func NewChunkTable(texts []string) *ChunkTable {
	t := &ChunkTable{byPosition: make(map[int]ChunkRecord, len(texts))}
	for i, text := range texts {
		t.byPosition[i] = ChunkRecord{
			ChunkID:   uuid.New(),
			Position:  i,
			Content:   text,
			WordCount: len(strings.Fields(text)),
			CharCount: len([]rune(text)),
		}
	}
	return t
}

// Len returns the number of chunks in the table.
func (t *ChunkTable) Len() int { return len(t.byPosition) }

// Content returns the chunk text at the given position.
// ok is false when no chunk exists at that position.
func (t *ChunkTable) Content(position int) (string, bool) {
	rec, ok := t.byPosition[position]
	return rec.Content, ok
}

// Record returns the full chunk record at the given position.
func (t *ChunkTable) Record(position int) (ChunkRecord, bool) {
	rec, ok := t.byPosition[position]
	return rec, ok
}

// WriteTo serializes the table as a JSON array ordered by position.
func (t *ChunkTable) WriteTo(w io.Writer) (int64, error) {
	records := make([]ChunkRecord, 0, len(t.byPosition))
	for i := 0; i < len(t.byPosition); i++ {
		rec, ok := t.byPosition[i]
		if !ok {
			return 0, fmt.Errorf("rag: chunk table has a gap at position %d", i)
		}
		records = append(records, rec)
	}

	cw := &countingWriter{w: w}
	if err := json.NewEncoder(cw).Encode(records); err != nil {
		return cw.n, fmt.Errorf("rag: encode chunk table: %w", err)
	}
	return cw.n, nil
}

// ReadChunkTable deserializes a table previously written by WriteTo.
// Positions must be dense starting at 0.
func ReadChunkTable(r io.Reader) (*ChunkTable, error) {
	var records []ChunkRecord
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("rag: decode chunk table: %w", err)
	}

	t := &ChunkTable{byPosition: make(map[int]ChunkRecord, len(records))}
	for _, rec := range records {
		if rec.Position < 0 || rec.Position >= len(records) {
			return nil, fmt.Errorf("rag: chunk position %d out of range [0, %d)", rec.Position, len(records))
		}
		if _, dup := t.byPosition[rec.Position]; dup {
			return nil, fmt.Errorf("rag: duplicate chunk position %d", rec.Position)
		}
		t.byPosition[rec.Position] = rec
	}
	return t, nil
}

// countingWriter tracks the number of bytes written through it.
type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}
