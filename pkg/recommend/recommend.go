// Package recommend implements Kvasir's diversity-aware recommendation
// pipeline.
//
// The pipeline turns explicit ratings and item content vectors into
// per-user predictions on the original rating scale:
//
//	Predict(ctx, dataset, opts)
//	    ├── train k clusters over the item catalog
//	    ├── assign every item to its nearest cluster
//	    ├── cluster fractions  <- share of catalog per cluster (2 dp)
//	    ├── build user profiles <- rating-weighted vector sums
//	    ├── drop zero profiles and zero-vector items
//	    ├── score all (user, item) pairs by cosine similarity (3 dp)
//	    ├── allocate per-user top-N proportionally to cluster fractions
//	    └── rescale winning scores onto the input rating range
//
// Diversity comes from the allocation step: instead of taking a user's N
// best scores overall, each content cluster gets a slot budget proportional
// to its share of the catalog, so niche clusters surface alongside dominant
// ones.
//
// Clustering is pluggable through the Clusterer interface; pkg/kvasir wires
// the in-process k-means engine as the default.
package recommend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/orneryd/kvasir/pkg/dataset"
	"github.com/orneryd/kvasir/pkg/math/vector"
	"github.com/orneryd/kvasir/pkg/profile"
)

// Configuration errors, surfaced before any pipeline work starts.
var (
	ErrInvalidNumPredictions = errors.New("recommend: num predictions must be at least 1")
	ErrInvalidK              = errors.New("recommend: cluster count must be at least 1")
	ErrInvalidPartitions     = errors.New("recommend: partition count must be at least 1")
)

// Degenerate-input errors: the data left nothing for a stage to work with.
var (
	ErrNoScorablePairs = errors.New("recommend: no scorable user/item pairs after filtering")
	ErrNoAllocations   = errors.New("recommend: cluster quotas allocated no predictions")
	ErrUniformScores   = errors.New("recommend: uniform scores cannot be rescaled")
)

// ClusterModel maps vectors to cluster ids after training.
type ClusterModel interface {
	// Predict returns the id of the cluster nearest to vec.
	Predict(vec []float64) (int, error)

	// Centers returns the cluster center vectors.
	Centers() [][]float64
}

// Clusterer trains a cluster model over the catalog. Implementations must
// be deterministic for identical inputs.
type Clusterer interface {
	Train(ctx context.Context, vectors [][]float64, k int) (ClusterModel, error)
}

// Assignment records one catalog item's cluster membership.
type Assignment struct {
	Item    dataset.ItemID
	Cluster int
	Vector  []float64
}

// Candidate is one scored (user, item) pair, still inside its cluster
// bucket and on the raw cosine scale.
type Candidate struct {
	User    dataset.UserID
	Cluster int
	Item    dataset.ItemID
	Score   float64
}

// Prediction is one recommended item for a user, scored on the input
// rating scale.
type Prediction struct {
	User  dataset.UserID `json:"user"`
	Item  dataset.ItemID `json:"item"`
	Score float64        `json:"score"`
}

// Options tunes a recommendation run.
//
// Zero values select defaults for K (10) and Partitions (20).
// NumPredictions has no default: the caller must say how many
// recommendations a user should receive.
type Options struct {
	// NumPredictions is the per-user recommendation budget. The actual
	// per-user total may land slightly over or under after per-cluster
	// quota rounding; it is never rebalanced.
	NumPredictions int `json:"numPredictions"`

	// K is the number of content clusters.
	K int `json:"k"`

	// Partitions bounds scoring parallelism. Partitioning never changes
	// results, only how the work is spread.
	Partitions int `json:"partitions"`
}

// DefaultOptions returns the standard run configuration.
func DefaultOptions() Options {
	return Options{
		NumPredictions: 10,
		K:              10,
		Partitions:     20,
	}
}

func (o *Options) normalize() error {
	if o.NumPredictions < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidNumPredictions, o.NumPredictions)
	}
	if o.K == 0 {
		o.K = 10
	}
	if o.K < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidK, o.K)
	}
	if o.Partitions == 0 {
		o.Partitions = 20
	}
	if o.Partitions < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidPartitions, o.Partitions)
	}
	return nil
}

// Stats describes one run: what went in, what each stage dropped, and what
// came out. Returned alongside predictions so callers can report without
// re-deriving anything.
type Stats struct {
	RunID string `json:"runId"`

	Items            int             `json:"items"`
	Ratings          int             `json:"ratings"`
	Clusters         int             `json:"clusters"`
	ClusterFractions map[int]float64 `json:"clusterFractions"`

	RatingsJoined       int `json:"ratingsJoined"`
	RatingsDropped      int `json:"ratingsDropped"`
	UsersSeen           int `json:"usersSeen"`
	ZeroProfilesDropped int `json:"zeroProfilesDropped"`
	ZeroItemsDropped    int `json:"zeroItemsDropped"`

	UsersScored int `json:"usersScored"`
	PairsScored int `json:"pairsScored"`

	AllocatedPerCluster map[int]int `json:"allocatedPerCluster"`
	Predictions         int         `json:"predictions"`

	RatingMin float64 `json:"ratingMin"`
	RatingMax float64 `json:"ratingMax"`
	ScoreMin  float64 `json:"scoreMin"`
	ScoreMax  float64 `json:"scoreMax"`

	Duration time.Duration `json:"durationNs"`
}

// Service runs the recommendation pipeline.
type Service struct {
	clusterer Clusterer
}

// NewService creates a recommendation service on top of the given
// clustering engine.
func NewService(clusterer Clusterer) *Service {
	return &Service{clusterer: clusterer}
}

// Predict produces scored recommendations for every user in the dataset.
//
// Stage order matters and is part of the contract:
//   - cluster fractions count the whole catalog, including items whose
//     vector is all zeros
//   - the rating range spans every input rating, including ones later
//     dropped because their item has no catalog vector
//   - the score range used for rescaling spans only the allocated
//     predictions, not every scored pair
//
// Returned predictions are sorted by user, then score descending, then
// item id. Equal-score membership inside a cluster cut keeps catalog
// order.
func (s *Service) Predict(ctx context.Context, ds *dataset.Dataset, opts Options) ([]Prediction, *Stats, error) {
	if err := opts.normalize(); err != nil {
		return nil, nil, err
	}
	if err := ds.Validate(); err != nil {
		return nil, nil, fmt.Errorf("validating dataset: %w", err)
	}

	start := time.Now()
	stats := &Stats{
		RunID:   uuid.NewString(),
		Items:   len(ds.Items),
		Ratings: len(ds.Ratings),
	}

	ratingMin, ratingMax, err := ds.RatingRange()
	if err != nil {
		return nil, nil, fmt.Errorf("rating range: %w", err)
	}
	stats.RatingMin, stats.RatingMax = ratingMin, ratingMax

	model, err := s.clusterer.Train(ctx, ds.Vectors(), opts.K)
	if err != nil {
		return nil, nil, fmt.Errorf("training clusters: %w", err)
	}
	stats.Clusters = len(model.Centers())

	assignments, err := assign(model, ds.Items)
	if err != nil {
		return nil, nil, fmt.Errorf("assigning clusters: %w", err)
	}

	// Fractions are computed over the full catalog, before the zero-vector
	// filter, so unscorable items still shape the diversity budget.
	fractions := Fractions(assignments)
	stats.ClusterFractions = fractions

	profiles, pstats := profile.Build(ds.Ratings, ds.VectorsByItem(), ds.Dimensions())
	stats.RatingsJoined = pstats.RatingsJoined
	stats.RatingsDropped = pstats.RatingsDropped
	stats.UsersSeen = pstats.UsersSeen
	stats.ZeroProfilesDropped = pstats.ZeroProfilesDropped

	scorable := make([]Assignment, 0, len(assignments))
	for _, a := range assignments {
		if vector.IsZero(a.Vector) {
			stats.ZeroItemsDropped++
			continue
		}
		scorable = append(scorable, a)
	}

	if len(profiles) == 0 || len(scorable) == 0 {
		return nil, nil, fmt.Errorf("%w: %d profiles, %d scorable items",
			ErrNoScorablePairs, len(profiles), len(scorable))
	}
	stats.UsersScored = len(profiles)

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	candidates, err := scoreAll(ctx, profiles, scorable, opts.Partitions)
	if err != nil {
		return nil, nil, fmt.Errorf("scoring: %w", err)
	}
	stats.PairsScored = len(candidates)

	allocated, perCluster := Allocate(candidates, fractions, opts.NumPredictions)
	stats.AllocatedPerCluster = perCluster
	if len(allocated) == 0 {
		return nil, nil, fmt.Errorf("%w: %d clusters, budget %d",
			ErrNoAllocations, len(fractions), opts.NumPredictions)
	}

	scoreMin, scoreMax := scoreRange(allocated)
	stats.ScoreMin, stats.ScoreMax = scoreMin, scoreMax

	predictions, err := Rescale(allocated, scoreMin, scoreMax, ratingMin, ratingMax)
	if err != nil {
		return nil, nil, err
	}

	sort.SliceStable(predictions, func(i, j int) bool {
		if predictions[i].User != predictions[j].User {
			return predictions[i].User < predictions[j].User
		}
		if predictions[i].Score != predictions[j].Score {
			return predictions[i].Score > predictions[j].Score
		}
		return predictions[i].Item < predictions[j].Item
	})

	stats.Predictions = len(predictions)
	stats.Duration = time.Since(start)
	return predictions, stats, nil
}

// assign labels every catalog item with its nearest cluster.
func assign(model ClusterModel, items []dataset.ItemVector) ([]Assignment, error) {
	assignments := make([]Assignment, len(items))
	for i, item := range items {
		cluster, err := model.Predict(item.Vector)
		if err != nil {
			return nil, fmt.Errorf("item %q: %w", item.Item, err)
		}
		assignments[i] = Assignment{Item: item.Item, Cluster: cluster, Vector: item.Vector}
	}
	return assignments, nil
}
