// Package chunk splits raw document text into overlapping, bounded-length
// segments suitable for embedding and retrieval. Splitting recurses through
// a priority list of separators — paragraph, line, word, character — falling
// back to the next finer granularity only when a segment still exceeds the
// chunk size. Adjacent chunks overlap so retrieval keeps cross-boundary
// context.
package chunk

import (
	"strings"
	"unicode/utf8"
)

// defaultSeparators is the coarse-to-fine separator priority list.
// The final empty separator splits into individual characters and guarantees
// progress on pathological input with no whitespace at all.
var defaultSeparators = []string{"\n\n", "\n", " ", ""}

// Splitter is a recursive character text splitter. Sizes and overlap are
// measured in runes. A Splitter is immutable and safe for concurrent use.
type Splitter struct {
	// chunkSize is the maximum chunk length in runes.
	chunkSize int

	// chunkOverlap is the target overlap between consecutive chunks in runes.
	chunkOverlap int

	// separators is the coarse-to-fine priority list.
	separators []string
}

// NewSplitter constructs a Splitter. chunkSize defaults to 1000 and
// chunkOverlap to 200 when not positive; an overlap that would reach or
// exceed the chunk size is clamped to a tenth of it.
func NewSplitter(chunkSize, chunkOverlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if chunkOverlap < 0 {
		chunkOverlap = 200
	}
	if chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 10
	}
	return &Splitter{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		separators:   defaultSeparators,
	}
}

// Split divides text into ordered, overlapping chunks. Chunk order equals
// document order. Empty (or whitespace-only) input yields an empty result,
// not an error; any other input yields at least one chunk.
func (s *Splitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	chunks := s.split(text, s.separators)
	if len(chunks) == 0 {
		// All candidate chunks trimmed to nothing, which cannot happen for
		// non-whitespace input, but keep the minimum-one-chunk guarantee
		// robust against separator list changes.
		return []string{strings.TrimSpace(text)}
	}
	return chunks
}

// split recursively splits text using the first separator present in it,
// merging the resulting pieces back into chunks of at most chunkSize runes.
// Pieces that are still too large recurse with the remaining finer separators.
func (s *Splitter) split(text string, separators []string) []string {
	separator := separators[len(separators)-1]
	var finer []string
	for i, candidate := range separators {
		if candidate == "" {
			separator = ""
			finer = nil
			break
		}
		if strings.Contains(text, candidate) {
			separator = candidate
			finer = separators[i+1:]
			break
		}
	}

	var chunks []string
	var pending []string
	for _, piece := range splitBy(text, separator) {
		if runeLen(piece) < s.chunkSize {
			pending = append(pending, piece)
			continue
		}
		if len(pending) > 0 {
			chunks = append(chunks, s.merge(pending, separator)...)
			pending = nil
		}
		if len(finer) == 0 {
			chunks = append(chunks, piece)
		} else {
			chunks = append(chunks, s.split(piece, finer)...)
		}
	}
	if len(pending) > 0 {
		chunks = append(chunks, s.merge(pending, separator)...)
	}
	return chunks
}

// merge greedily packs pieces into chunks of at most chunkSize runes
// (counting the separators re-inserted between pieces). When a chunk is
// emitted, pieces are dropped from the front of the window only down to
// chunkOverlap runes, so the tail of each chunk reappears at the head of the
// next one.
func (s *Splitter) merge(pieces []string, separator string) []string {
	sepLen := runeLen(separator)

	var chunks []string
	var window []string
	total := 0

	joined := func() string { return strings.TrimSpace(strings.Join(window, separator)) }

	for _, piece := range pieces {
		pieceLen := runeLen(piece)

		if total+pieceLen+sepLenIf(sepLen, len(window) > 0) > s.chunkSize && len(window) > 0 {
			if doc := joined(); doc != "" {
				chunks = append(chunks, doc)
			}
			for total > s.chunkOverlap ||
				(total+pieceLen+sepLenIf(sepLen, len(window) > 0) > s.chunkSize && total > 0) {
				total -= runeLen(window[0]) + sepLenIf(sepLen, len(window) > 1)
				window = window[1:]
			}
		}

		window = append(window, piece)
		total += pieceLen + sepLenIf(sepLen, len(window) > 1)
	}

	if doc := joined(); doc != "" {
		chunks = append(chunks, doc)
	}
	return chunks
}

// splitBy splits text by the separator, dropping empty pieces. The empty
// separator splits into individual characters.
func splitBy(text, separator string) []string {
	var raw []string
	if separator == "" {
		raw = strings.Split(text, "")
	} else {
		raw = strings.Split(text, separator)
	}

	pieces := make([]string, 0, len(raw))
	for _, p := range raw {
		if p != "" {
			pieces = append(pieces, p)
		}
	}
	return pieces
}

// runeLen returns the length of s in runes.
func runeLen(s string) int { return utf8.RuneCountInString(s) }

// sepLenIf returns sepLen when cond is true, 0 otherwise.
func sepLenIf(sepLen int, cond bool) int {
	if cond {
		return sepLen
	}
	return 0
}
