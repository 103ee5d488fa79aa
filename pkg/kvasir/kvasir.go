// Package kvasir provides the main API for embedded Kvasir usage.
//
// Kvasir is a diversity-aware content-based recommender. It builds a taste
// profile for every user from the items they rated, groups the catalog into
// content clusters, scores every (user, item) pair, and hands each user a
// recommendation list whose cluster mix mirrors the catalog itself. Popular
// corners of the catalog get more slots, niche corners still get theirs.
//
// The Engine ties the pieces together:
//   - dataset: ratings and item vector ingestion
//   - kmeans: catalog clustering
//   - recommend: profile building, scoring, allocation, rescaling
//   - store: optional BadgerDB persistence of finished runs
//   - eval: offline holdout evaluation of prediction quality
//
// Example Usage:
//
//	cfg := config.DefaultConfig()
//	cfg.Data.RatingsPath = "ratings.csv"
//	cfg.Data.ItemsPath = "items.csv"
//	cfg.Pipeline.NumPredictions = 10
//
//	engine, err := kvasir.Open(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Close()
//
//	if _, err := engine.Load("", ""); err != nil {
//		log.Fatal(err)
//	}
//
//	predictions, stats, err := engine.Recommend(context.Background())
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("produced %d predictions in %v\n", stats.Predictions, stats.Duration)
//	for _, p := range predictions {
//		fmt.Printf("%s -> %s (%.2f)\n", p.User, p.Item, p.Score)
//	}
//
// ELI12 (Explain Like I'm 12):
//
// Imagine a librarian who has watched which books you loved and hated. They
// work out your taste, sort the whole library into themed shelves, and then
// build you a reading list: mostly from the big shelves everyone visits, but
// always a couple of picks from the small odd shelves too, so you never get
// stuck reading the same kind of book forever.
package kvasir

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/orneryd/kvasir/pkg/config"
	"github.com/orneryd/kvasir/pkg/dataset"
	"github.com/orneryd/kvasir/pkg/eval"
	"github.com/orneryd/kvasir/pkg/kmeans"
	"github.com/orneryd/kvasir/pkg/recommend"
	"github.com/orneryd/kvasir/pkg/store"
)

// Errors returned by Engine operations.
var (
	ErrClosed        = errors.New("engine is closed")
	ErrNoData        = errors.New("no dataset loaded")
	ErrStoreDisabled = errors.New("run store is not enabled")
)

// KMeansClusterer adapts the kmeans package to the recommend.Clusterer
// interface. The pipeline dictates k per run; everything else comes from
// the embedded Config.
type KMeansClusterer struct {
	Config kmeans.Config
}

// Train trains a k-means model with k clusters over the catalog vectors.
func (c *KMeansClusterer) Train(ctx context.Context, vectors [][]float64, k int) (recommend.ClusterModel, error) {
	cfg := c.Config
	cfg.K = k
	model, err := kmeans.Train(ctx, vectors, cfg)
	if err != nil {
		return nil, err
	}
	return model, nil
}

// Engine is a ready-to-use Kvasir instance.
//
// All methods are safe for concurrent use. The loaded dataset is replaced
// atomically by Load and SetDataset; a recommendation run in flight keeps
// working on the dataset it started with.
type Engine struct {
	config *config.Config
	mu     sync.RWMutex
	closed bool

	ds      *dataset.Dataset
	service *recommend.Service
	runs    store.Store
}

// Open creates an Engine from the given configuration.
//
// A nil config uses DefaultConfig. When the store section is enabled, run
// persistence opens immediately: BadgerDB at Store.DataDir, or an in-memory
// Badger instance when Store.InMemory is set.
func Open(cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	e := &Engine{
		config:  cfg,
		service: recommend.NewService(&KMeansClusterer{Config: cfg.ClusterConfig()}),
	}

	if cfg.Store.Enabled {
		if cfg.Store.InMemory {
			s, err := store.NewBadgerStoreInMemory()
			if err != nil {
				return nil, fmt.Errorf("open run store: %w", err)
			}
			e.runs = s
			fmt.Println("⚠️  Using in-memory run store (runs will not persist)")
		} else {
			s, err := store.NewBadgerStoreWithOptions(store.BadgerOptions{
				DataDir:    cfg.Store.DataDir,
				SyncWrites: cfg.Store.SyncWrites,
			})
			if err != nil {
				return nil, fmt.Errorf("open run store: %w", err)
			}
			e.runs = s
			fmt.Printf("📂 Using persistent run store at %s\n", cfg.Store.DataDir)
		}
	}

	return e, nil
}

// Load reads ratings and item vectors from the given paths. Empty paths
// fall back to the config's data section.
//
// Malformed rows are skipped and reported in the returned LoadResult, but
// an empty catalog or an empty rating set fails the load outright.
func (e *Engine) Load(ratingsPath, itemsPath string) (*dataset.LoadResult, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, ErrClosed
	}
	e.mu.RUnlock()

	if ratingsPath == "" {
		ratingsPath = e.config.Data.RatingsPath
	}
	if itemsPath == "" {
		itemsPath = e.config.Data.ItemsPath
	}
	if ratingsPath == "" {
		return nil, fmt.Errorf("no ratings path configured")
	}
	if itemsPath == "" {
		return nil, fmt.Errorf("no items path configured")
	}

	ds := &dataset.Dataset{}

	ratingsResult, err := ds.LoadRatings(ratingsPath)
	if err != nil {
		return nil, fmt.Errorf("load ratings %s: %w", ratingsPath, err)
	}
	itemsResult, err := ds.LoadItems(itemsPath)
	if err != nil {
		return nil, fmt.Errorf("load items %s: %w", itemsPath, err)
	}

	result := &dataset.LoadResult{
		RatingsLoaded: ratingsResult.RatingsLoaded,
		ItemsLoaded:   itemsResult.ItemsLoaded,
		LinesSkipped:  ratingsResult.LinesSkipped + itemsResult.LinesSkipped,
		Errors:        append(append([]string{}, ratingsResult.Errors...), itemsResult.Errors...),
	}

	if len(ds.Items) == 0 {
		return result, fmt.Errorf("%w: %s", dataset.ErrNoItems, itemsPath)
	}
	if len(ds.Ratings) == 0 {
		return result, fmt.Errorf("%w: %s", dataset.ErrNoRatings, ratingsPath)
	}
	if err := ds.Validate(); err != nil {
		return result, err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return result, ErrClosed
	}
	e.ds = ds
	e.mu.Unlock()

	if e.config.Verbose {
		fmt.Printf("📥 Loaded %d ratings and %d items (%d lines skipped)\n",
			result.RatingsLoaded, result.ItemsLoaded, result.LinesSkipped)
	}
	return result, nil
}

// SetDataset installs an already-built dataset, validating it first.
// Useful for embedding Kvasir without file I/O.
func (e *Engine) SetDataset(ds *dataset.Dataset) error {
	if ds == nil {
		return ErrNoData
	}
	if len(ds.Items) == 0 {
		return dataset.ErrNoItems
	}
	if len(ds.Ratings) == 0 {
		return dataset.ErrNoRatings
	}
	if err := ds.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.ds = ds
	return nil
}

// Dataset returns the currently loaded dataset, or nil.
func (e *Engine) Dataset() *dataset.Dataset {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ds
}

// Config returns the engine's configuration.
func (e *Engine) Config() *config.Config {
	return e.config
}

// current fetches the loaded dataset under the read lock.
func (e *Engine) current() (*dataset.Dataset, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrClosed
	}
	if e.ds == nil {
		return nil, ErrNoData
	}
	return e.ds, nil
}

// options resolves the effective pipeline options for ds. A configured
// cluster count of zero selects the sqrt(n/2) heuristic over the catalog.
func (e *Engine) options(ds *dataset.Dataset) recommend.Options {
	opts := e.config.PipelineOptions()
	if opts.K == 0 {
		opts.K = kmeans.OptimalK(len(ds.Items))
	}
	return opts
}

// Recommend runs the full recommendation pipeline over the loaded dataset.
func (e *Engine) Recommend(ctx context.Context) ([]recommend.Prediction, *recommend.Stats, error) {
	predictions, stats, _, err := e.run(ctx)
	return predictions, stats, err
}

func (e *Engine) run(ctx context.Context) ([]recommend.Prediction, *recommend.Stats, recommend.Options, error) {
	ds, err := e.current()
	if err != nil {
		return nil, nil, recommend.Options{}, err
	}

	opts := e.options(ds)
	if e.config.Verbose {
		fmt.Printf("🚀 Starting run: %d items, %d ratings, k=%d, %d per user\n",
			len(ds.Items), len(ds.Ratings), opts.K, opts.NumPredictions)
	}

	predictions, stats, err := e.service.Predict(ctx, ds, opts)
	if err != nil {
		return nil, nil, opts, err
	}

	if e.config.Verbose {
		fmt.Printf("✅ Run %s: %d predictions for %d users in %v\n",
			stats.RunID, stats.Predictions, stats.UsersScored, stats.Duration)
	}
	return predictions, stats, opts, nil
}

// RecommendAndStore runs the pipeline and persists the finished run.
// Requires the store to be enabled in the configuration.
func (e *Engine) RecommendAndStore(ctx context.Context) (*store.Run, []recommend.Prediction, *recommend.Stats, error) {
	if e.runs == nil {
		return nil, nil, nil, ErrStoreDisabled
	}

	predictions, stats, opts, err := e.run(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	run := store.NewRun(opts, stats)
	if err := e.runs.SaveRun(run, predictions); err != nil {
		return nil, nil, nil, fmt.Errorf("save run %s: %w", run.ID, err)
	}

	if e.config.Verbose {
		fmt.Printf("💾 Saved run %s (%d predictions)\n", run.ID, stats.Predictions)
	}
	return run, predictions, stats, nil
}

// Clusters trains a catalog clustering and returns each item's cluster id.
// The whole catalog is assigned, zero vectors included.
func (e *Engine) Clusters(ctx context.Context) (map[dataset.ItemID]int, error) {
	ds, err := e.current()
	if err != nil {
		return nil, err
	}

	cfg := e.config.ClusterConfig()
	if cfg.K == 0 {
		cfg.K = kmeans.OptimalK(len(ds.Items))
	}

	model, err := kmeans.Train(ctx, ds.Vectors(), cfg)
	if err != nil {
		return nil, fmt.Errorf("cluster catalog: %w", err)
	}

	clusters := make(map[dataset.ItemID]int, len(ds.Items))
	for _, item := range ds.Items {
		cluster, err := model.Predict(item.Vector)
		if err != nil {
			return nil, fmt.Errorf("assign %s: %w", item.Item, err)
		}
		clusters[item.Item] = cluster
	}
	return clusters, nil
}

// Fractions returns the catalog's cluster prevalence: for each cluster, the
// share of catalog items that live in it, rounded to two decimals. These
// are the same fractions the allocator uses to size per-cluster quotas.
func (e *Engine) Fractions(ctx context.Context) (map[int]float64, error) {
	ds, err := e.current()
	if err != nil {
		return nil, err
	}

	clusters, err := e.Clusters(ctx)
	if err != nil {
		return nil, err
	}

	assignments := make([]recommend.Assignment, 0, len(ds.Items))
	for _, item := range ds.Items {
		assignments = append(assignments, recommend.Assignment{
			Item:    item.Item,
			Cluster: clusters[item.Item],
			Vector:  item.Vector,
		})
	}
	return recommend.Fractions(assignments), nil
}

// Evaluate holds out a fraction of each user's ratings, recommends from the
// rest, and scores the predictions against the holdout.
func (e *Engine) Evaluate(ctx context.Context) (*eval.Result, error) {
	return e.EvaluateWithThresholds(ctx, eval.DefaultThresholds())
}

// EvaluateWithThresholds is Evaluate with custom pass/fail thresholds.
func (e *Engine) EvaluateWithThresholds(ctx context.Context, thresholds eval.Thresholds) (*eval.Result, error) {
	ds, err := e.current()
	if err != nil {
		return nil, err
	}

	train, holdout, err := eval.SplitHoldout(ds.Ratings, e.config.Eval.HoldoutFraction, e.config.Eval.Seed)
	if err != nil {
		return nil, err
	}
	if e.config.Verbose {
		fmt.Printf("✂️  Holdout split: %d training ratings, %d held out\n", len(train), len(holdout))
	}

	trainDS := &dataset.Dataset{Items: ds.Items, Ratings: train}
	opts := e.options(trainDS)

	predictions, _, err := e.service.Predict(ctx, trainDS, opts)
	if err != nil {
		return nil, fmt.Errorf("predict on training split: %w", err)
	}

	clusters, err := e.Clusters(ctx)
	if err != nil {
		return nil, err
	}

	harness := eval.NewHarness(holdout)
	harness.SetThresholds(thresholds)
	harness.SetCatalogSize(len(ds.Items))
	harness.SetClusters(clusters)

	result, err := harness.Evaluate(predictions, e.config.EvalOptions())
	if err != nil {
		return nil, err
	}

	if e.config.Verbose {
		fmt.Printf("📊 Evaluated %d users against %d holdout ratings\n",
			result.UsersEvaluated, len(holdout))
	}
	return result, nil
}

// ============================================================================
// Run store pass-throughs
// ============================================================================

// store fetches the run store, or ErrStoreDisabled/ErrClosed.
func (e *Engine) store() (store.Store, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrClosed
	}
	if e.runs == nil {
		return nil, ErrStoreDisabled
	}
	return e.runs, nil
}

// ListRuns returns all persisted runs, oldest first.
func (e *Engine) ListRuns() ([]*store.Run, error) {
	s, err := e.store()
	if err != nil {
		return nil, err
	}
	return s.ListRuns()
}

// GetRun returns one persisted run by id.
func (e *Engine) GetRun(id string) (*store.Run, error) {
	s, err := e.store()
	if err != nil {
		return nil, err
	}
	return s.GetRun(id)
}

// DeleteRun removes a persisted run and its predictions.
func (e *Engine) DeleteRun(id string) error {
	s, err := e.store()
	if err != nil {
		return err
	}
	return s.DeleteRun(id)
}

// RunPredictions returns every prediction of a persisted run, grouped by
// user in lexicographic order.
func (e *Engine) RunPredictions(runID string) ([]recommend.Prediction, error) {
	s, err := e.store()
	if err != nil {
		return nil, err
	}
	return s.Predictions(runID)
}

// TopFor returns one user's recommendation list from a persisted run.
func (e *Engine) TopFor(runID string, user dataset.UserID) ([]recommend.Prediction, error) {
	s, err := e.store()
	if err != nil {
		return nil, err
	}
	return s.TopFor(runID, user)
}

// RunCount returns the number of persisted runs.
func (e *Engine) RunCount() (int64, error) {
	s, err := e.store()
	if err != nil {
		return 0, err
	}
	return s.RunCount()
}

// Close releases the engine. Closing twice is fine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	e.ds = nil

	var errs []error
	if e.runs != nil {
		if err := e.runs.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
