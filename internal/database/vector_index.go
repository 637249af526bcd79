package database

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// VectorIndex is an append-only collection of fixed-width unit vectors
// searchable by inner product. A vector's ordinal is its insertion position
// and is the join key into the IdentityLedger.
//
// Implementations are not safe for concurrent use; Store serialises access.
type VectorIndex interface {
	// Kind names the implementation (IndexKindFlat or IndexKindHNSW).
	Kind() string
	// Dim is the configured vector width.
	Dim() int
	// Len is the number of stored vectors.
	Len() int
	// Add appends vec and returns its ordinal, which is Len() before the call.
	Add(vec []float32) (int, error)
	// Search returns at most k neighbours ordered by descending score.
	// It fails with ErrEmptyIndex when the index holds no vectors.
	Search(query []float32, k int) ([]Neighbor, error)
	// Vector returns a copy of the vector at ordinal.
	Vector(ordinal int) ([]float32, bool)
	// Truncate drops every vector at ordinal n or above.
	Truncate(n int) error
	// WriteTo serialises the whole index.
	WriteTo(w io.Writer) (int64, error)

	readFrom(r io.Reader) error
}

// NewVectorIndex creates an empty index of the given kind.
func NewVectorIndex(kind string, dim int) (VectorIndex, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("invalid embedding dimension: %d", dim)
	}
	switch kind {
	case "", IndexKindFlat:
		return NewFlatIndex(dim), nil
	case IndexKindHNSW:
		return NewHNSWIndex(dim), nil
	default:
		return nil, fmt.Errorf("unknown index kind %q", kind)
	}
}

// LoadVectorIndex deserialises a persisted index. It returns ErrIndexNotFound
// when no artifact exists and *DimensionMismatchError when the stored width
// differs from dim.
func LoadVectorIndex(kind string, dim int, path string) (VectorIndex, error) {
	idx, err := NewVectorIndex(kind, dim)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path) //nolint:gosec // path is from trusted config
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrIndexNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("opening index file: %w", err)
	}
	defer f.Close()

	if err := idx.readFrom(f); err != nil {
		return nil, fmt.Errorf("loading %s index from %s: %w", idx.Kind(), path, err)
	}
	return idx, nil
}

// insertNeighbor keeps top sorted by descending score (ties by ordinal) and capped at k.
func insertNeighbor(top []Neighbor, n Neighbor, k int) []Neighbor {
	pos := len(top)
	for pos > 0 && better(n, top[pos-1]) {
		pos--
	}
	if pos >= k {
		return top
	}
	if len(top) < k {
		top = append(top, Neighbor{})
	}
	copy(top[pos+1:], top[pos:len(top)-1])
	top[pos] = n
	return top
}

func better(a, b Neighbor) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Ordinal < b.Ordinal
}

// countingWriter tracks bytes written for io.WriterTo implementations.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
