package database

import "math"

// unitTolerance is how far a vector norm may drift from 1 and still count as normalized.
const unitTolerance = 1e-3

// InnerProduct returns the dot product of two equal-length vectors.
// For unit vectors this equals their cosine similarity.
func InnerProduct(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// Norm returns the L2 norm of v.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// IsUnit reports whether v has norm 1 within floating tolerance.
func IsUnit(v []float32) bool {
	return math.Abs(Norm(v)-1) <= unitTolerance
}
