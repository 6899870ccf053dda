package profile

import "math"

// CosineSimilarity returns the cosine of the angle between a and b, in [-1, 1].
// Vectors of different length, empty vectors and zero vectors yield ok=false.
func CosineSimilarity(a, b []float32) (sim float64, ok bool) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, false
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0, false
	}

	sim = dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Rounding can push parallel vectors just past the bounds.
	return math.Max(-1, math.Min(1, sim)), true
}
