// Package vector provides vector math operations for Kvasir.
//
// This package consolidates the similarity and aggregation primitives used
// throughout the recommendation pipeline. Use these functions instead of
// implementing your own to ensure consistency and correctness.
//
// Main Functions:
//   - Cosine: Cosine similarity between two float64 vectors (the scoring primitive)
//   - Dot: Dot product
//   - Norm: Euclidean (L2) norm
//   - Round: Rounds to a fixed number of decimal places (score precision)
//   - AddScaled: Accumulates weight*vec into a destination (profile building)
//   - IsZero: Reports whether every component is zero
package vector

import "math"

// Cosine calculates cosine similarity between two float64 vectors.
// Returns value in range [-1, 1] where 1 = identical, 0 = orthogonal, -1 = opposite.
//
// Mismatched lengths, empty inputs, and zero-norm vectors all return 0.
// Callers that must distinguish "orthogonal" from "degenerate" should test
// with IsZero before scoring.
//
// Example:
//
//	a := []float64{1.0, 2.0, 3.0}
//	b := []float64{4.0, 5.0, 6.0}
//	sim := Cosine(a, b)  // Returns 0.9746318461970762
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Dot calculates the dot product of two float64 vectors.
// Mismatched lengths return 0.
//
// For normalized vectors, dot product equals cosine similarity.
func Dot(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}

	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// Norm returns the Euclidean (L2) norm of the vector.
func Norm(v []float64) float64 {
	var sumSquares float64
	for _, x := range v {
		sumSquares += x * x
	}
	return math.Sqrt(sumSquares)
}

// Round rounds x to the given number of decimal places, half away from zero.
//
// Example:
//
//	Round(0.97463, 3)  // Returns 0.975
//	Round(0.125, 2)    // Returns 0.13
func Round(x float64, places int) float64 {
	factor := math.Pow(10, float64(places))
	return math.Round(x*factor) / factor
}
