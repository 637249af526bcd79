package database

import (
	"bufio"
	"fmt"
	"io"

	"github.com/coder/hnsw"
)

// HNSWIndex wraps the HNSW graph for approximate face embedding search.
// Node keys are ordinals, so key i always describes ledger entry i.
type HNSWIndex struct {
	graph *hnsw.Graph[int]
	dim   int
}

// NewHNSWIndex creates a new empty HNSW index.
func NewHNSWIndex(dim int) *HNSWIndex {
	return &HNSWIndex{graph: newFaceGraph(), dim: dim}
}

// newFaceGraph creates a graph with cosine distance. On unit vectors this
// ranks neighbours exactly as inner product does.
func newFaceGraph() *hnsw.Graph[int] {
	g := hnsw.NewGraph[int]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors) // Standard HNSW formula
	g.EfSearch = HNSWEfSearch
	g.Distance = hnsw.CosineDistance
	return g
}

func (h *HNSWIndex) Kind() string { return IndexKindHNSW }

func (h *HNSWIndex) Dim() int { return h.dim }

func (h *HNSWIndex) Len() int { return h.graph.Len() }

// Add inserts vec under the next ordinal.
func (h *HNSWIndex) Add(vec []float32) (int, error) {
	if len(vec) != h.dim {
		return 0, &DimensionMismatchError{Expected: h.dim, Actual: len(vec)}
	}
	ord := h.graph.Len()
	// The graph keeps the slice, so hand it a private copy.
	v := make([]float32, len(vec))
	copy(v, vec)
	h.graph.Add(hnsw.MakeNode(ord, v))
	return ord, nil
}

// Search finds the k nearest neighbours to the query embedding and scores
// them by inner product. The graph is asked for a wider candidate pool which
// is then reranked exactly; graphs no larger than that pool are scanned in
// full, so small stores always get exact answers.
func (h *HNSWIndex) Search(query []float32, k int) ([]Neighbor, error) {
	if len(query) != h.dim {
		return nil, &DimensionMismatchError{Expected: h.dim, Actual: len(query)}
	}
	if h.graph.Len() == 0 {
		return nil, ErrEmptyIndex
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	pool := max(k*HNSWSearchMultiplier, HNSWEfSearch)
	if h.graph.Len() <= pool {
		return h.scan(query, k), nil
	}

	top := make([]Neighbor, 0, k)
	for _, n := range h.graph.Search(query, pool) {
		top = insertNeighbor(top, Neighbor{Ordinal: n.Key, Score: InnerProduct(query, n.Value)}, k)
	}
	return top, nil
}

// scan scores every stored vector.
func (h *HNSWIndex) scan(query []float32, k int) []Neighbor {
	top := make([]Neighbor, 0, k)
	for ord := range h.graph.Len() {
		v, ok := h.graph.Lookup(ord)
		if !ok {
			continue
		}
		top = insertNeighbor(top, Neighbor{Ordinal: ord, Score: InnerProduct(query, v)}, k)
	}
	return top
}

// Vector returns a copy of the vector stored under ordinal.
func (h *HNSWIndex) Vector(ordinal int) ([]float32, bool) {
	v, ok := h.graph.Lookup(ordinal)
	if !ok {
		return nil, false
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out, true
}

// Truncate keeps the first n vectors. The graph is rebuilt from them rather
// than edited with Delete, which can leave layers without an entry node.
func (h *HNSWIndex) Truncate(n int) error {
	total := h.graph.Len()
	if n < 0 || n > total {
		return fmt.Errorf("truncate to %d out of range [0,%d]", n, total)
	}
	if n == total {
		return nil
	}
	g := newFaceGraph()
	for ord := range n {
		v, ok := h.graph.Lookup(ord)
		if !ok {
			return fmt.Errorf("%w: ordinal %d missing from graph", ErrCorruptIndex, ord)
		}
		g.Add(hnsw.MakeNode(ord, v))
	}
	h.graph = g
	return nil
}

// WriteTo exports the graph in the library's binary format.
func (h *HNSWIndex) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	if err := h.graph.Export(cw); err != nil {
		return cw.n, fmt.Errorf("exporting HNSW graph: %w", err)
	}
	return cw.n, nil
}

func (h *HNSWIndex) readFrom(r io.Reader) error {
	// Import decodes keys byte by byte and needs an io.ByteReader.
	if _, ok := r.(io.ByteReader); !ok {
		r = bufio.NewReader(r)
	}
	g := newFaceGraph()
	if err := g.Import(r); err != nil {
		return fmt.Errorf("importing HNSW graph: %w", err)
	}
	if g.Len() == 0 {
		h.graph = newFaceGraph()
		return nil
	}
	if g.Dims() != h.dim {
		return &DimensionMismatchError{Expected: h.dim, Actual: g.Dims()}
	}
	// Ordinals must be dense for the ledger join to hold.
	for i := range g.Len() {
		if _, ok := g.Lookup(i); !ok {
			return fmt.Errorf("%w: ordinal %d missing from graph", ErrCorruptIndex, i)
		}
	}
	h.graph = g
	return nil
}
