// Package index provides rag.Index implementations: a flat in-process index
// doing exact brute-force L2 search with a binary persist/load round-trip,
// and a Qdrant-backed index for deployments whose corpora outgrow a single
// process.
package index

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/riku-miura/wiki-rag/internal/rag"
)

// Flat file format constants. The payload is the dense vector matrix in
// row-major order, little-endian float32.
const (
	// flatMagic identifies a serialized flat index blob.
	flatMagic = "WRFI"

	// flatVersion is the current serialization format version.
	flatVersion uint16 = 1

	// flatMaxElements caps the float32 payload a blob header may declare
	// (256 MiB of vectors), so a corrupt header cannot trigger an outsized
	// allocation before any payload byte is read.
	flatMaxElements = 1 << 26
)

// Flat is an exact, brute-force squared-L2 nearest-neighbour index over a
// dense float32 matrix. It is append-only: the ordinal position of the i-th
// added vector is the size at call time plus i. At single-article scale
// (hundreds of vectors) exhaustive search is both exact and fast enough.
//
// A Flat index is written by one goroutine during a build and read-only
// afterwards, so concurrent Search calls need no locking.
type Flat struct {
	// dim is the fixed vector dimension.
	dim int

	// data holds size*dim float32 values in row-major order.
	data []float32
}

// NewFlat constructs an empty flat index for vectors of the given dimension.
func NewFlat(dim int) (*Flat, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("index: dimension must be positive, got %d", dim)
	}
	return &Flat{dim: dim}, nil
}

// Dimension returns the fixed vector dimension of this index.
func (f *Flat) Dimension() int { return f.dim }

// Size returns the number of vectors stored.
func (f *Flat) Size() int { return len(f.data) / f.dim }

// Add appends vectors to the index in the given order.
func (f *Flat) Add(_ context.Context, vectors [][]float32) error {
	for i, v := range vectors {
		if len(v) != f.dim {
			return fmt.Errorf("index: vector %d has dimension %d, want %d: %w",
				i, len(v), f.dim, rag.ErrDimensionMismatch)
		}
	}
	for _, v := range vectors {
		f.data = append(f.data, v...)
	}
	return nil
}

// Search returns up to k entries nearest to query by squared Euclidean
// distance, ascending. The raw -1 padding the search primitive would emit
// for absent slots is translated away here: only real matches are returned.
func (f *Flat) Search(_ context.Context, query []float32, k int) ([]rag.Match, error) {
	if len(query) != f.dim {
		return nil, fmt.Errorf("index: query has dimension %d, want %d: %w",
			len(query), f.dim, rag.ErrDimensionMismatch)
	}
	if k <= 0 {
		return nil, fmt.Errorf("index: k must be positive, got %d", k)
	}

	size := f.Size()
	matches := make([]rag.Match, 0, size)
	for pos := 0; pos < size; pos++ {
		row := f.data[pos*f.dim : (pos+1)*f.dim]
		var dist float32
		for j, q := range query {
			d := row[j] - q
			dist += d * d
		}
		matches = append(matches, rag.Match{Position: pos, Distance: dist})
	}

	// Stable on position so equidistant entries come out in document order,
	// which keeps repeated identical queries deterministic.
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })

	if k < len(matches) {
		matches = matches[:k]
	}
	return matches, nil
}

// WriteTo serializes the index. The round-trip through ReadFlat reproduces
// identical search results for identical queries: the reconstruction is
// exact, not approximate.
func (f *Flat) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}

	if _, err := cw.Write([]byte(flatMagic)); err != nil {
		return cw.n, fmt.Errorf("index: write magic: %w", err)
	}
	header := []any{flatVersion, uint32(f.dim), uint32(f.Size())}
	for _, v := range header {
		if err := binary.Write(cw, binary.LittleEndian, v); err != nil {
			return cw.n, fmt.Errorf("index: write header: %w", err)
		}
	}
	if err := binary.Write(cw, binary.LittleEndian, f.data); err != nil {
		return cw.n, fmt.Errorf("index: write vectors: %w", err)
	}
	return cw.n, nil
}

// ReadFlat deserializes an index previously written by WriteTo.
func ReadFlat(r io.Reader) (*Flat, error) {
	magic := make([]byte, len(flatMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, fmt.Errorf("index: read magic: %w", err)
	}
	if string(magic) != flatMagic {
		return nil, fmt.Errorf("index: bad magic %q, not a flat index blob", magic)
	}

	var version uint16
	var dim, size uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("index: read version: %w", err)
	}
	if version != flatVersion {
		return nil, fmt.Errorf("index: unsupported format version %d", version)
	}
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return nil, fmt.Errorf("index: read dimension: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return nil, fmt.Errorf("index: read size: %w", err)
	}
	if dim == 0 {
		return nil, fmt.Errorf("index: blob declares zero dimension")
	}
	if elems := int64(dim) * int64(size); elems > flatMaxElements {
		return nil, fmt.Errorf("index: blob declares %d vectors of dimension %d, exceeding the %d element limit",
			size, dim, int64(flatMaxElements))
	}

	data := make([]float32, int(dim)*int(size))
	if err := binary.Read(r, binary.LittleEndian, data); err != nil {
		return nil, fmt.Errorf("index: read vectors: %w", err)
	}

	return &Flat{dim: int(dim), data: data}, nil
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
