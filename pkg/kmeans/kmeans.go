// Package kmeans provides CPU k-means clustering for Kvasir.
//
// The catalog is partitioned into K content clusters so that downstream
// ranking can spread recommendations across clusters instead of collapsing
// onto one dominant topic.
//
// Training flow:
//
//	Train(ctx, vectors, config)
//	    ├── validate K, dimensions, distinct vector count
//	    ├── initialize centers (k-means++ or random, seeded)
//	    ├── iterate: assign → recompute centers → check drift
//	    └── Model{centers}  <- immutable, safe for concurrent Predict
//
// Determinism: all randomness flows through a private rand.Rand seeded from
// Config.Seed, so identical inputs and config always produce the identical
// model.
//
// Usage:
//
//	model, err := kmeans.Train(ctx, vectors, kmeans.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	cluster, _ := model.Predict(vec)
package kmeans

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/rand"
)

// Errors for k-means training and prediction
var (
	ErrInvalidK          = errors.New("kmeans: invalid number of clusters")
	ErrTooFewVectors     = errors.New("kmeans: too few distinct vectors for requested clusters")
	ErrDimensionMismatch = errors.New("kmeans: vector dimension mismatch")
	ErrInvalidInitMethod = errors.New("kmeans: unknown init method")
)

// Config configures k-means training behavior.
//
// Example:
//
//	config := kmeans.Config{
//	    K:             10,
//	    MaxIterations: 50,
//	    Tolerance:     0.001,    // Stop early when centers settle
//	    InitMethod:    "kmeans++",
//	    Seed:          1,
//	}
type Config struct {
	// K is the number of clusters. If 0, auto-detected from data size.
	K int

	// MaxIterations limits convergence iterations (default: 100)
	MaxIterations int

	// Tolerance is the convergence threshold (default: 0.0001).
	// Training stops when the largest center movement in one iteration
	// falls to or below this value. Zero disables the drift check.
	Tolerance float64

	// InitMethod: "kmeans++" (better) or "random" (faster)
	InitMethod string

	// Seed feeds the private random source used for initialization.
	Seed int64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		K:             0, // Auto-detect based on data size
		MaxIterations: 100,
		Tolerance:     0.0001,
		InitMethod:    "kmeans++",
		Seed:          1,
	}
}

// OptimalK calculates a cluster count from data size using the sqrt(n/2)
// heuristic, clamped to [1, 1000]. Used when Config.K is 0.
func OptimalK(n int) int {
	k := int(math.Sqrt(float64(n) / 2))
	if k < 1 {
		k = 1
	}
	if k > 1000 {
		k = 1000
	}
	return k
}

// Model is a trained k-means model. Models are immutable after training and
// safe for concurrent use.
type Model struct {
	centers    []float64 // [K*dims] flat center vectors
	k          int
	dims       int
	iterations int
	converged  bool
}

// Train runs k-means over the given vectors and returns the trained model.
//
// Validation before any clustering work:
//   - K < 0 returns ErrInvalidK (K == 0 selects OptimalK automatically)
//   - inconsistent vector dimensions return ErrDimensionMismatch
//   - K exceeding the number of distinct input vectors returns
//     ErrTooFewVectors (an explicit K is never silently clamped)
//
// The input slices are copied; callers may reuse them after Train returns.
// Cancelling ctx stops training between iterations.
func Train(ctx context.Context, vectors [][]float64, config Config) (*Model, error) {
	n := len(vectors)
	if n == 0 {
		return nil, fmt.Errorf("%w: no vectors", ErrTooFewVectors)
	}
	if config.K < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidK, config.K)
	}
	if config.MaxIterations <= 0 {
		config.MaxIterations = 100
	}

	dims := len(vectors[0])
	if dims == 0 {
		return nil, fmt.Errorf("%w: zero-dimensional vectors", ErrDimensionMismatch)
	}

	// Copy into a flat buffer for cache-friendly iteration.
	data := make([]float64, n*dims)
	for i, vec := range vectors {
		if len(vec) != dims {
			return nil, fmt.Errorf("%w: vector %d has %d dimensions, want %d",
				ErrDimensionMismatch, i, len(vec), dims)
		}
		copy(data[i*dims:(i+1)*dims], vec)
	}

	distinct := distinctCount(data, n, dims)

	k := config.K
	if k == 0 {
		// Auto mode follows the data: never ask for more clusters than
		// there are distinct points.
		k = OptimalK(n)
		if k > distinct {
			k = distinct
		}
	}
	if k > distinct {
		return nil, fmt.Errorf("%w: k=%d, distinct vectors=%d", ErrTooFewVectors, k, distinct)
	}

	rng := rand.New(rand.NewSource(config.Seed))

	var centers []float64
	switch config.InitMethod {
	case "", "kmeans++":
		centers = initKMeansPlusPlus(rng, data, n, dims, k)
	case "random":
		centers = initRandom(rng, data, n, dims, k)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidInitMethod, config.InitMethod)
	}

	assignments := make([]int, n)

	// Pre-allocate update buffers to avoid allocations in the hot loop.
	sums := make([]float64, k*dims)
	counts := make([]int, k)
	prev := make([]float64, k*dims)

	model := &Model{k: k, dims: dims}
	for iter := 0; iter < config.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		changed := assignToCenters(data, centers, assignments, n, dims, k)
		copy(prev, centers)
		updateCenters(data, centers, assignments, sums, counts, n, dims, k)
		model.iterations++

		if changed == 0 {
			model.converged = true
			break
		}
		if config.Tolerance > 0 && maxDrift(prev, centers, dims, k) <= config.Tolerance {
			model.converged = true
			break
		}
	}

	model.centers = centers
	return model, nil
}

// K returns the number of clusters.
func (m *Model) K() int { return m.k }

// Dimensions returns the vector dimensionality the model was trained on.
func (m *Model) Dimensions() int { return m.dims }

// Iterations returns how many assignment/update rounds training ran.
func (m *Model) Iterations() int { return m.iterations }

// Converged reports whether training stopped before MaxIterations.
func (m *Model) Converged() bool { return m.converged }

// Predict returns the id of the cluster whose center is nearest to vec.
func (m *Model) Predict(vec []float64) (int, error) {
	if len(vec) != m.dims {
		return 0, fmt.Errorf("%w: vector has %d dimensions, model expects %d",
			ErrDimensionMismatch, len(vec), m.dims)
	}

	minDist := math.MaxFloat64
	nearest := 0
	for c := 0; c < m.k; c++ {
		center := m.centers[c*m.dims : (c+1)*m.dims]
		dist := squaredEuclidean(vec, center)
		if dist < minDist {
			minDist = dist
			nearest = c
		}
	}
	return nearest, nil
}

// Centers returns a copy of the cluster centers.
func (m *Model) Centers() [][]float64 {
	out := make([][]float64, m.k)
	for c := 0; c < m.k; c++ {
		out[c] = make([]float64, m.dims)
		copy(out[c], m.centers[c*m.dims:(c+1)*m.dims])
	}
	return out
}

// distinctCount counts distinct rows by hashing their raw float64 bits.
func distinctCount(data []float64, n, dims int) int {
	seen := make(map[string]struct{}, n)
	buf := make([]byte, dims*8)
	for i := 0; i < n; i++ {
		row := data[i*dims : (i+1)*dims]
		for d, v := range row {
			binary.LittleEndian.PutUint64(buf[d*8:], math.Float64bits(v))
		}
		seen[string(buf)] = struct{}{}
	}
	return len(seen)
}

// initRandom initializes centers by random selection of distinct rows.
func initRandom(rng *rand.Rand, data []float64, n, dims, k int) []float64 {
	centers := make([]float64, k*dims)
	selected := make(map[int]bool)

	for c := 0; c < k; c++ {
		// Pick a random unselected row
		var idx int
		for {
			idx = rng.Intn(n)
			if !selected[idx] {
				selected[idx] = true
				break
			}
		}
		copy(centers[c*dims:(c+1)*dims], data[idx*dims:(idx+1)*dims])
	}

	return centers
}

// initKMeansPlusPlus initializes centers using the k-means++ algorithm.
// This produces better initial centers than random selection.
func initKMeansPlusPlus(rng *rand.Rand, data []float64, n, dims, k int) []float64 {
	centers := make([]float64, k*dims)

	// Step 1: Choose first center randomly
	firstIdx := rng.Intn(n)
	copy(centers[0:dims], data[firstIdx*dims:(firstIdx+1)*dims])

	// Distance to nearest chosen center (cached)
	minDistances := make([]float64, n)
	for i := 0; i < n; i++ {
		minDistances[i] = squaredEuclidean(data[i*dims:(i+1)*dims], centers[0:dims])
	}

	// Step 2: Choose remaining centers proportional to D(x)^2
	for c := 1; c < k; c++ {
		totalWeight := 0.0
		for i := 0; i < n; i++ {
			totalWeight += minDistances[i]
		}

		// All remaining points coincide with chosen centers; any distinct
		// row would have positive weight, so fall back to random fill.
		if totalWeight == 0 {
			for ; c < k; c++ {
				idx := rng.Intn(n)
				copy(centers[c*dims:(c+1)*dims], data[idx*dims:(idx+1)*dims])
			}
			break
		}

		// Sample next center weighted by distance^2
		target := rng.Float64() * totalWeight
		cumWeight := 0.0
		selectedIdx := n - 1
		for i := 0; i < n; i++ {
			cumWeight += minDistances[i]
			if cumWeight >= target {
				selectedIdx = i
				break
			}
		}

		newCenter := centers[c*dims : (c+1)*dims]
		copy(newCenter, data[selectedIdx*dims:(selectedIdx+1)*dims])

		// Update cached distances against the new center only
		for i := 0; i < n; i++ {
			dist := squaredEuclidean(data[i*dims:(i+1)*dims], newCenter)
			if dist < minDistances[i] {
				minDistances[i] = dist
			}
		}
	}

	return centers
}

// squaredEuclidean computes squared Euclidean distance.
// Uses 4-way loop unrolling for better instruction-level parallelism.
func squaredEuclidean(a, b []float64) float64 {
	n := len(a)
	var sum0, sum1, sum2, sum3 float64

	// Process 4 elements at a time
	i := 0
	for ; i <= n-4; i += 4 {
		d0 := a[i] - b[i]
		d1 := a[i+1] - b[i+1]
		d2 := a[i+2] - b[i+2]
		d3 := a[i+3] - b[i+3]
		sum0 += d0 * d0
		sum1 += d1 * d1
		sum2 += d2 * d2
		sum3 += d3 * d3
	}

	// Handle remaining elements
	for ; i < n; i++ {
		diff := a[i] - b[i]
		sum0 += diff * diff
	}

	return sum0 + sum1 + sum2 + sum3
}

// assignToCenters assigns each row to its nearest center.
// Returns the number of assignments that changed.
func assignToCenters(data, centers []float64, assignments []int, n, dims, k int) int {
	changed := 0
	for i := 0; i < n; i++ {
		row := data[i*dims : (i+1)*dims]

		minDist := math.MaxFloat64
		nearest := 0
		for c := 0; c < k; c++ {
			dist := squaredEuclidean(row, centers[c*dims:(c+1)*dims])
			if dist < minDist {
				minDist = dist
				nearest = c
			}
		}

		if assignments[i] != nearest {
			assignments[i] = nearest
			changed++
		}
	}
	return changed
}

// updateCenters recomputes centers as the mean of assigned rows, reusing the
// caller's accumulation buffers.
func updateCenters(data, centers []float64, assignments []int, sums []float64, counts []int, n, dims, k int) {
	for i := range sums {
		sums[i] = 0
	}
	for c := 0; c < k; c++ {
		counts[c] = 0
	}

	for i := 0; i < n; i++ {
		cluster := assignments[i]
		counts[cluster]++
		row := data[i*dims : (i+1)*dims]
		sum := sums[cluster*dims : (cluster+1)*dims]
		for d := 0; d < dims; d++ {
			sum[d] += row[d]
		}
	}

	for c := 0; c < k; c++ {
		if counts[c] > 0 {
			center := centers[c*dims : (c+1)*dims]
			sum := sums[c*dims : (c+1)*dims]
			for d := 0; d < dims; d++ {
				center[d] = sum[d] / float64(counts[c])
			}
		}
		// Empty clusters keep their previous position
	}
}

// maxDrift returns the largest Euclidean distance any center moved.
func maxDrift(prev, centers []float64, dims, k int) float64 {
	var max float64
	for c := 0; c < k; c++ {
		d := squaredEuclidean(prev[c*dims:(c+1)*dims], centers[c*dims:(c+1)*dims])
		if d > max {
			max = d
		}
	}
	return math.Sqrt(max)
}
