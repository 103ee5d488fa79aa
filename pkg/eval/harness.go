// Package eval measures recommendation quality against a rating holdout.
//
// The harness compares a run's predictions with ratings the pipeline never
// saw and computes standard recommender metrics:
//   - RMSE / MAE: How far are predicted scores from actual ratings?
//   - Precision@K: What fraction of top-K recommendations are relevant?
//   - Hit Rate: What fraction of users get at least one relevant item?
//   - Coverage: How much of the catalog ever gets recommended?
//   - Cluster Diversity: How many content clusters does a user's list span?
//
// Example usage:
//
//	harness := eval.NewHarness(holdoutRatings)
//	harness.SetCatalogSize(len(ds.Items))
//	harness.SetClusters(clusters)
//
//	result, err := harness.Evaluate(predictions, eval.DefaultOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Printf("Precision@K: %.2f\n", result.Metrics.PrecisionK)
//	fmt.Printf("RMSE: %.2f\n", result.Metrics.RMSE)
//
// ELI12 (Explain Like I'm 12):
//
// Hide some of the ratings before training, like covering answers on a
// quiz. Then check: did the recommender guess the covered ratings well
// (RMSE), and did it actually recommend the things the user went on to
// like (Precision, Hit Rate)?
package eval

import (
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/orneryd/kvasir/pkg/dataset"
	"github.com/orneryd/kvasir/pkg/recommend"
)

// Errors returned by the harness
var (
	ErrNoHoldout     = errors.New("eval: no holdout ratings")
	ErrNoPredictions = errors.New("eval: no predictions to evaluate")
)

// Options tunes one evaluation pass.
type Options struct {
	// K caps each user's recommendation list for the ranking metrics.
	// Defaults to 10.
	K int `json:"k"`

	// RelevanceThreshold marks a holdout rating as relevant when the
	// rating is at or above it. Defaults to 3.5 (a 1-5 scale's "liked").
	RelevanceThreshold float64 `json:"relevance_threshold"`
}

// DefaultOptions returns the standard evaluation configuration.
func DefaultOptions() Options {
	return Options{
		K:                  10,
		RelevanceThreshold: 3.5,
	}
}

// Metrics contains all computed evaluation metrics.
type Metrics struct {
	// Prediction accuracy over (user, item) pairs present in both the
	// predictions and the holdout. Zero when no pairs overlap.
	RMSE float64 `json:"rmse"`
	MAE  float64 `json:"mae"`

	// Ranking quality over users with at least one relevant holdout item
	PrecisionK float64 `json:"precision@k"`
	HitRate    float64 `json:"hit_rate"`

	// Coverage - fraction of the catalog recommended to anyone (0-1)
	Coverage float64 `json:"coverage"`

	// ClusterDiversity - distinct clusters per list / list length (0-1)
	ClusterDiversity float64 `json:"cluster_diversity"`
}

// Thresholds define acceptable metric values. RMSE is an upper bound, the
// rest are lower bounds.
type Thresholds struct {
	RMSE       float64 `json:"rmse"`
	PrecisionK float64 `json:"precision@k"`
	HitRate    float64 `json:"hit_rate"`
	Coverage   float64 `json:"coverage"`
}

// DefaultThresholds returns sensible default thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		RMSE:       1.5, // Within 1.5 rating points on average
		PrecisionK: 0.1, // At least 10% of top-K should be relevant
		HitRate:    0.5, // Half the users get at least one hit
		Coverage:   0.1, // At least 10% of the catalog gets surfaced
	}
}

// Result contains the complete evaluation results.
type Result struct {
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`

	Options    Options    `json:"options"`
	Metrics    Metrics    `json:"metrics"`
	Thresholds Thresholds `json:"thresholds"`
	Passed     bool       `json:"passed"`

	// UsersEvaluated counts users with at least one relevant holdout item
	UsersEvaluated int `json:"users_evaluated"`

	// PairsCompared counts (user, item) overlaps behind RMSE/MAE
	PairsCompared int `json:"pairs_compared"`

	// ItemsRecommended counts distinct items across all lists
	ItemsRecommended int `json:"items_recommended"`

	CatalogSize int `json:"catalog_size"`
}

// Harness evaluates prediction runs against one fixed holdout.
type Harness struct {
	holdout     []dataset.Rating
	clusters    map[dataset.ItemID]int
	catalogSize int
	thresholds  Thresholds
	mu          sync.RWMutex
}

// NewHarness creates a harness around a holdout rating set.
func NewHarness(holdout []dataset.Rating) *Harness {
	return &Harness{
		holdout:    holdout,
		thresholds: DefaultThresholds(),
	}
}

// SetThresholds sets the pass/fail thresholds.
func (h *Harness) SetThresholds(t Thresholds) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.thresholds = t
}

// SetClusters supplies item cluster memberships, enabling the cluster
// diversity metric. Without it the metric reports 0.
func (h *Harness) SetClusters(clusters map[dataset.ItemID]int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clusters = make(map[dataset.ItemID]int, len(clusters))
	for item, cluster := range clusters {
		h.clusters[item] = cluster
	}
}

// SetCatalogSize supplies the catalog size, enabling the coverage metric.
// Without it the metric reports 0.
func (h *Harness) SetCatalogSize(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.catalogSize = n
}

// Evaluate scores one prediction run against the holdout.
func (h *Harness) Evaluate(predictions []recommend.Prediction, opts Options) (*Result, error) {
	h.mu.RLock()
	holdout := h.holdout
	clusters := h.clusters
	catalogSize := h.catalogSize
	thresholds := h.thresholds
	h.mu.RUnlock()

	if len(holdout) == 0 {
		return nil, ErrNoHoldout
	}
	if len(predictions) == 0 {
		return nil, ErrNoPredictions
	}
	if opts.K <= 0 {
		opts.K = 10
	}
	if opts.RelevanceThreshold == 0 {
		opts.RelevanceThreshold = 3.5
	}

	start := time.Now()

	actual := holdoutByPair(holdout)
	relevant := relevantByUser(holdout, opts.RelevanceThreshold)
	lists := topLists(predictions, opts.K)

	m := Metrics{}
	result := &Result{
		Timestamp:   start,
		Options:     opts,
		Thresholds:  thresholds,
		CatalogSize: catalogSize,
	}

	m.RMSE, m.MAE, result.PairsCompared = accuracy(predictions, actual)
	m.PrecisionK, m.HitRate, result.UsersEvaluated = ranking(lists, relevant, opts.K)
	m.Coverage, result.ItemsRecommended = coverage(predictions, catalogSize)
	m.ClusterDiversity = clusterDiversity(lists, clusters)

	result.Metrics = m
	result.Passed = m.RMSE <= thresholds.RMSE &&
		m.PrecisionK >= thresholds.PrecisionK &&
		m.HitRate >= thresholds.HitRate &&
		m.Coverage >= thresholds.Coverage
	result.Duration = time.Since(start)

	return result, nil
}

// === Metric calculation functions ===

// holdoutByPair indexes holdout ratings for the accuracy join.
func holdoutByPair(holdout []dataset.Rating) map[dataset.UserID]map[dataset.ItemID]float64 {
	byUser := make(map[dataset.UserID]map[dataset.ItemID]float64)
	for _, r := range holdout {
		if byUser[r.User] == nil {
			byUser[r.User] = make(map[dataset.ItemID]float64)
		}
		byUser[r.User][r.Item] = r.Value
	}
	return byUser
}

// relevantByUser collects each user's relevant holdout items.
func relevantByUser(holdout []dataset.Rating, threshold float64) map[dataset.UserID]map[dataset.ItemID]bool {
	relevant := make(map[dataset.UserID]map[dataset.ItemID]bool)
	for _, r := range holdout {
		if r.Value < threshold {
			continue
		}
		if relevant[r.User] == nil {
			relevant[r.User] = make(map[dataset.ItemID]bool)
		}
		relevant[r.User][r.Item] = true
	}
	return relevant
}

// topLists groups predictions per user, best score first, capped at k.
func topLists(predictions []recommend.Prediction, k int) map[dataset.UserID][]recommend.Prediction {
	lists := make(map[dataset.UserID][]recommend.Prediction)
	for _, p := range predictions {
		lists[p.User] = append(lists[p.User], p)
	}
	for user, list := range lists {
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].Score != list[j].Score {
				return list[i].Score > list[j].Score
			}
			return list[i].Item < list[j].Item
		})
		if len(list) > k {
			lists[user] = list[:k]
		}
	}
	return lists
}

// accuracy computes RMSE and MAE over overlapping (user, item) pairs.
func accuracy(predictions []recommend.Prediction, actual map[dataset.UserID]map[dataset.ItemID]float64) (rmse, mae float64, pairs int) {
	var sqSum, absSum float64
	for _, p := range predictions {
		rating, ok := actual[p.User][p.Item]
		if !ok {
			continue
		}
		diff := p.Score - rating
		sqSum += diff * diff
		absSum += math.Abs(diff)
		pairs++
	}

	if pairs == 0 {
		return 0, 0, 0
	}
	n := float64(pairs)
	return math.Sqrt(sqSum / n), absSum / n, pairs
}

// ranking computes Precision@K and Hit Rate over users that have at least
// one relevant holdout item. Precision divides by k, so short lists are
// penalized.
func ranking(lists map[dataset.UserID][]recommend.Prediction, relevant map[dataset.UserID]map[dataset.ItemID]bool, k int) (precisionK, hitRate float64, users int) {
	var precisionSum, hitSum float64
	for user, items := range relevant {
		if len(items) == 0 {
			continue
		}
		users++

		hits := 0
		for _, p := range lists[user] {
			if items[p.Item] {
				hits++
			}
		}

		precisionSum += float64(hits) / float64(k)
		if hits > 0 {
			hitSum++
		}
	}

	if users == 0 {
		return 0, 0, 0
	}
	return precisionSum / float64(users), hitSum / float64(users), users
}

// coverage computes the fraction of the catalog recommended to anyone.
func coverage(predictions []recommend.Prediction, catalogSize int) (float64, int) {
	distinct := make(map[dataset.ItemID]bool)
	for _, p := range predictions {
		distinct[p.Item] = true
	}

	if catalogSize <= 0 {
		return 0, len(distinct)
	}
	return float64(len(distinct)) / float64(catalogSize), len(distinct)
}

// clusterDiversity averages, over users, the share of distinct clusters in
// each top list. A one-item list scores 1.0; lists spanning more clusters
// score higher than lists stuck in one.
func clusterDiversity(lists map[dataset.UserID][]recommend.Prediction, clusters map[dataset.ItemID]int) float64 {
	if len(clusters) == 0 {
		return 0
	}

	var sum float64
	users := 0
	for _, list := range lists {
		seen := make(map[int]bool)
		known := 0
		for _, p := range list {
			cluster, ok := clusters[p.Item]
			if !ok {
				continue
			}
			known++
			seen[cluster] = true
		}
		if known == 0 {
			continue
		}
		users++
		sum += float64(len(seen)) / float64(known)
	}

	if users == 0 {
		return 0
	}
	return sum / float64(users)
}
