package database

import "math"

// MatchEngine identifies a face against a Store. It holds no state of its
// own beyond the store handle.
type MatchEngine struct {
	store *Store
}

// NewMatchEngine creates a match engine over store.
func NewMatchEngine(store *Store) *MatchEngine {
	return &MatchEngine{store: store}
}

// neighborCount returns how many neighbours to fetch for a store of the given size.
func neighborCount(total int) int {
	if total > MatchNeighbors {
		return MatchNeighbors
	}
	return 1
}

// Identify finds the closest stored face. Below MatchThreshold the result is
// {0, UnknownLabel}; a near miss never leaks a partial score. Otherwise the
// similarity is the score as a whole percentage. It fails with ErrEmptyIndex
// when the store has no entries.
func (m *MatchEngine) Identify(embedding []float32) (MatchResult, error) {
	var result MatchResult
	err := m.store.view(func(idx VectorIndex, ledger *IdentityLedger) error {
		total := idx.Len()
		if total == 0 {
			return ErrEmptyIndex
		}

		neighbors, err := idx.Search(embedding, neighborCount(total))
		if err != nil {
			return err
		}
		result = decide(neighbors, ledger)
		return nil
	})
	if err != nil {
		return MatchResult{}, err
	}
	return result, nil
}

// decide applies the threshold policy to the best neighbour.
func decide(neighbors []Neighbor, ledger *IdentityLedger) MatchResult {
	if len(neighbors) == 0 || neighbors[0].Score < MatchThreshold {
		return MatchResult{Similarity: 0, Label: UnknownLabel, Neighbors: neighbors}
	}
	best := neighbors[0]
	result := MatchResult{
		Similarity: similarityPercent(best.Score),
		Label:      UnknownLabel,
		Neighbors:  neighbors,
	}
	// A ledger lagging the index resolves to nobody rather than failing.
	if rec, ok := ledger.Get(best.Ordinal); ok {
		result.Label = rec.UserID
		result.Matched = true
	}
	return result
}

// similarityPercent converts an accepted score to an integer percentage in [80,100].
func similarityPercent(score float64) int {
	pct := int(math.Floor(score*100 + similarityEpsilon))
	return max(int(MatchThreshold*100), min(pct, 100))
}
