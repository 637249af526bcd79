package database

import (
	"fmt"
	"math"
	"math/rand"
	"testing"
)

// randomUnitVector returns a reproducible unit vector of width dim.
func randomUnitVector(rng *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	var sum float64
	for i := range v {
		x := rng.NormFloat64()
		v[i] = float32(x)
		sum += x * x
	}
	norm := math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

// axis returns the unit vector along axis i.
func axis(dim, i int) []float32 {
	v := make([]float32, dim)
	v[i] = 1
	return v
}

// record builds a ledger record for test entry n.
func record(user string, n int) IdentityRecord {
	return IdentityRecord{
		UserID:      user,
		ImagePath:   fmt.Sprintf("data/%s/%03d.jpg", user, n),
		ContentHash: fmt.Sprintf("hash-%03d", n),
	}
}

// openTestStore opens a store over a fresh temp directory.
func openTestStore(t *testing.T, kind string, dim int) *Store {
	t.Helper()
	s, err := OpenStore(StoreConfig{Dir: t.TempDir(), IndexKind: kind, Dim: dim})
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	return s
}

func mustIngest(t *testing.T, s *Store, vec []float32, rec IdentityRecord) {
	t.Helper()
	status, err := s.Ingest(vec, rec)
	if err != nil {
		t.Fatalf("Ingest(%s) failed: %v", rec.ContentHash, err)
	}
	if status != IngestOK {
		t.Fatalf("Ingest(%s) = %v, want ok", rec.ContentHash, status)
	}
}
