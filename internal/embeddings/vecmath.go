package embeddings

import "math"

// Cosine returns the cosine similarity of two vectors, 0 when either is
// empty, mismatched, or zero-length in norm.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// NormalizeL2 returns a unit-norm copy of v (v itself when its norm is 0).
func NormalizeL2(v []float32) []float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	if sum == 0 {
		out := make([]float32, len(v))
		copy(out, v)
		return out
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(float64(f) / norm)
	}
	return out
}

// Reduce head-truncates v to dim and renormalizes. Direction is preserved
// only approximately, which is acceptable for the fast-search index; the
// full vector is kept for reranking.
func Reduce(v []float32, dim int) []float32 {
	if dim <= 0 || len(v) <= dim {
		return NormalizeL2(v)
	}
	return NormalizeL2(v[:dim])
}
