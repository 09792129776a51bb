package cache

import "math"

// Cosine returns dot(a,b) / (|a|*|b|). Vectors of different length or
// zero magnitude have similarity 0.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	// Clamp rounding drift so identical vectors compare as exactly 1.
	return math.Max(-1, math.Min(1, sim))
}
