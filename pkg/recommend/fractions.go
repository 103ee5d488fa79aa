package recommend

import "github.com/orneryd/kvasir/pkg/math/vector"

// Fractions computes each cluster's share of the catalog, rounded to two
// decimal places. The rounded shares may not sum to exactly 1; downstream
// quota math works off the rounded values on purpose, so small catalogs
// over- or under-fill the per-user budget slightly instead of hiding the
// rounding.
func Fractions(assignments []Assignment) map[int]float64 {
	counts := make(map[int]int)
	for _, a := range assignments {
		counts[a.Cluster]++
	}

	total := float64(len(assignments))
	fractions := make(map[int]float64, len(counts))
	for cluster, n := range counts {
		fractions[cluster] = vector.Round(float64(n)/total, 2)
	}
	return fractions
}
