package kvasir

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/kvasir/pkg/config"
	"github.com/orneryd/kvasir/pkg/dataset"
	"github.com/orneryd/kvasir/pkg/kmeans"
)

// twoClusterDataset returns a catalog split across two clear content
// directions plus ratings from one user who loves the first and hates the
// second.
func twoClusterDataset() *dataset.Dataset {
	return &dataset.Dataset{
		Items: []dataset.ItemVector{
			{Item: "i1", Vector: []float64{1, 0}},
			{Item: "i2", Vector: []float64{0, 1}},
		},
		Ratings: []dataset.Rating{
			{User: "u1", Item: "i1", Value: 5},
			{User: "u1", Item: "i2", Value: 1},
		},
	}
}

// wideDataset returns a catalog of items fanned across two direction groups
// with several users rating overlapping subsets. Every rating is 4 or 5, so
// each holdout pick counts as relevant during evaluation.
func wideDataset(items, users, ratingsPerUser int) *dataset.Dataset {
	ds := &dataset.Dataset{}
	for j := 0; j < items; j++ {
		// First half hugs the x axis, second half hugs the y axis.
		angle := float64(j%(items/2)) * 0.05
		if j >= items/2 {
			angle = math.Pi/2 - angle
		}
		ds.Items = append(ds.Items, dataset.ItemVector{
			Item:   dataset.ItemID(fmt.Sprintf("i%02d", j)),
			Vector: []float64{math.Cos(angle), math.Sin(angle)},
		})
	}
	for u := 0; u < users; u++ {
		for r := 0; r < ratingsPerUser; r++ {
			j := (u*3 + r*5) % items
			ds.Ratings = append(ds.Ratings, dataset.Rating{
				User:  dataset.UserID(fmt.Sprintf("u%02d", u)),
				Item:  dataset.ItemID(fmt.Sprintf("i%02d", j)),
				Value: float64((u*7+r*3)%2) + 4,
			})
		}
	}
	return ds
}

func TestOpen(t *testing.T) {
	t.Run("nil config uses defaults", func(t *testing.T) {
		e, err := Open(nil)
		require.NoError(t, err)
		require.NotNil(t, e)
		defer e.Close()

		assert.Equal(t, 10, e.config.Pipeline.NumPredictions)
		assert.Nil(t, e.runs, "store should be off by default")
	})

	t.Run("invalid config rejected", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Pipeline.NumPredictions = 0
		_, err := Open(cfg)
		assert.Error(t, err)
	})

	t.Run("in-memory store", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Store.Enabled = true
		cfg.Store.InMemory = true

		e, err := Open(cfg)
		require.NoError(t, err)
		defer e.Close()

		assert.NotNil(t, e.runs)
	})
}

func TestEngineLoad(t *testing.T) {
	dir := t.TempDir()
	ratingsPath := filepath.Join(dir, "ratings.csv")
	itemsPath := filepath.Join(dir, "items.csv")
	require.NoError(t, os.WriteFile(ratingsPath, []byte("u1,i1,5\nu1,i2,1\n"), 0o644))
	require.NoError(t, os.WriteFile(itemsPath, []byte("i1,1.0,0.0\ni2,0.0,1.0\n"), 0o644))

	t.Run("explicit paths", func(t *testing.T) {
		e, err := Open(nil)
		require.NoError(t, err)
		defer e.Close()

		result, err := e.Load(ratingsPath, itemsPath)
		require.NoError(t, err)
		assert.Equal(t, 2, result.RatingsLoaded)
		assert.Equal(t, 2, result.ItemsLoaded)
		assert.NotNil(t, e.Dataset())
	})

	t.Run("paths from config", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Data.RatingsPath = ratingsPath
		cfg.Data.ItemsPath = itemsPath

		e, err := Open(cfg)
		require.NoError(t, err)
		defer e.Close()

		result, err := e.Load("", "")
		require.NoError(t, err)
		assert.Equal(t, 2, result.RatingsLoaded)
	})

	t.Run("no paths configured", func(t *testing.T) {
		e, err := Open(nil)
		require.NoError(t, err)
		defer e.Close()

		_, err = e.Load("", "")
		assert.Error(t, err)
	})

	t.Run("empty catalog fails", func(t *testing.T) {
		emptyItems := filepath.Join(dir, "empty.csv")
		require.NoError(t, os.WriteFile(emptyItems, []byte(""), 0o644))

		e, err := Open(nil)
		require.NoError(t, err)
		defer e.Close()

		_, err = e.Load(ratingsPath, emptyItems)
		assert.ErrorIs(t, err, dataset.ErrNoItems)
	})
}

func TestEngineSetDataset(t *testing.T) {
	e, err := Open(nil)
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.SetDataset(twoClusterDataset()))
	assert.NotNil(t, e.Dataset())

	assert.ErrorIs(t, e.SetDataset(nil), ErrNoData)
	assert.ErrorIs(t, e.SetDataset(&dataset.Dataset{
		Ratings: []dataset.Rating{{User: "u", Item: "i", Value: 1}},
	}), dataset.ErrNoItems)
	assert.ErrorIs(t, e.SetDataset(&dataset.Dataset{
		Items: []dataset.ItemVector{{Item: "i", Vector: []float64{1}}},
	}), dataset.ErrNoRatings)
}

func TestEngineRecommend(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Cluster.K = 2
	cfg.Pipeline.NumPredictions = 1

	e, err := Open(cfg)
	require.NoError(t, err)
	defer e.Close()
	require.NoError(t, e.SetDataset(twoClusterDataset()))

	predictions, stats, err := e.Recommend(context.Background())
	require.NoError(t, err)

	// One slot per cluster, rescaled onto the 1..5 rating scale.
	require.Len(t, predictions, 2)
	assert.Equal(t, dataset.ItemID("i1"), predictions[0].Item)
	assert.InDelta(t, 5.0, predictions[0].Score, 1e-9)
	assert.Equal(t, dataset.ItemID("i2"), predictions[1].Item)
	assert.InDelta(t, 1.0, predictions[1].Score, 1e-9)

	assert.Equal(t, 2, stats.Clusters)
	assert.Equal(t, 2, stats.Predictions)
	assert.NotEmpty(t, stats.RunID)
}

func TestEngineRecommendNoData(t *testing.T) {
	e, err := Open(nil)
	require.NoError(t, err)
	defer e.Close()

	_, _, err = e.Recommend(context.Background())
	assert.ErrorIs(t, err, ErrNoData)
}

func TestEngineAutoK(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Cluster.K = 0
	cfg.Pipeline.NumPredictions = 2

	e, err := Open(cfg)
	require.NoError(t, err)
	defer e.Close()

	ds := wideDataset(8, 3, 4)
	require.NoError(t, e.SetDataset(ds))

	_, stats, err := e.Recommend(context.Background())
	require.NoError(t, err)

	assert.Equal(t, kmeans.OptimalK(8), stats.Clusters)
}

func TestEngineRecommendAndStore(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Cluster.K = 2
	cfg.Pipeline.NumPredictions = 1
	cfg.Store.Enabled = true
	cfg.Store.InMemory = true

	e, err := Open(cfg)
	require.NoError(t, err)
	defer e.Close()
	require.NoError(t, e.SetDataset(twoClusterDataset()))

	run, predictions, stats, err := e.RecommendAndStore(context.Background())
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, stats.RunID, run.ID)
	assert.False(t, run.CreatedAt.IsZero())

	count, err := e.RunCount()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	got, err := e.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, stats.Predictions, got.Stats.Predictions)

	stored, err := e.RunPredictions(run.ID)
	require.NoError(t, err)
	assert.Equal(t, predictions, stored)

	top, err := e.TopFor(run.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, predictions, top)

	runs, err := e.ListRuns()
	require.NoError(t, err)
	require.Len(t, runs, 1)

	require.NoError(t, e.DeleteRun(run.ID))
	count, err = e.RunCount()
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestEngineStoreDisabled(t *testing.T) {
	e, err := Open(nil)
	require.NoError(t, err)
	defer e.Close()
	require.NoError(t, e.SetDataset(twoClusterDataset()))

	_, _, _, err = e.RecommendAndStore(context.Background())
	assert.ErrorIs(t, err, ErrStoreDisabled)

	_, err = e.ListRuns()
	assert.ErrorIs(t, err, ErrStoreDisabled)

	_, err = e.RunCount()
	assert.ErrorIs(t, err, ErrStoreDisabled)
}

func TestEngineClusters(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Cluster.K = 2

	e, err := Open(cfg)
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.SetDataset(&dataset.Dataset{
		Items: []dataset.ItemVector{
			{Item: "i1", Vector: []float64{2, 0}},
			{Item: "i2", Vector: []float64{0, 2}},
			{Item: "i3", Vector: []float64{1, 0}},
			{Item: "i4", Vector: []float64{0, 1}},
		},
		Ratings: []dataset.Rating{
			{User: "u1", Item: "i1", Value: 4},
		},
	}))

	clusters, err := e.Clusters(context.Background())
	require.NoError(t, err)
	require.Len(t, clusters, 4)

	// Items on the same axis share a cluster, the two axes do not.
	assert.Equal(t, clusters["i1"], clusters["i3"])
	assert.Equal(t, clusters["i2"], clusters["i4"])
	assert.NotEqual(t, clusters["i1"], clusters["i2"])
}

func TestEngineFractions(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Cluster.K = 2

	e, err := Open(cfg)
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.SetDataset(&dataset.Dataset{
		Items: []dataset.ItemVector{
			{Item: "i1", Vector: []float64{2, 0}},
			{Item: "i2", Vector: []float64{0, 2}},
			{Item: "i3", Vector: []float64{1, 0}},
			{Item: "i4", Vector: []float64{0, 1}},
		},
		Ratings: []dataset.Rating{
			{User: "u1", Item: "i1", Value: 4},
		},
	}))

	fractions, err := e.Fractions(context.Background())
	require.NoError(t, err)
	require.Len(t, fractions, 2)
	for cluster, f := range fractions {
		assert.InDelta(t, 0.5, f, 1e-9, "cluster %d", cluster)
	}
}

func TestEngineEvaluate(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Cluster.K = 2
	cfg.Pipeline.NumPredictions = 4
	cfg.Eval.HoldoutFraction = 0.25
	cfg.Eval.Seed = 42

	e, err := Open(cfg)
	require.NoError(t, err)
	defer e.Close()

	ds := wideDataset(12, 6, 6)
	require.NoError(t, e.SetDataset(ds))

	result, err := e.Evaluate(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, 6, result.UsersEvaluated)
	assert.Equal(t, 12, result.CatalogSize)
	assert.Greater(t, result.ItemsRecommended, 0)
	assert.Greater(t, result.Metrics.Coverage, 0.0)
	assert.Greater(t, result.Metrics.ClusterDiversity, 0.0)
	assert.False(t, result.Timestamp.IsZero())
}

func TestEngineClose(t *testing.T) {
	e, err := Open(nil)
	require.NoError(t, err)
	require.NoError(t, e.SetDataset(twoClusterDataset()))

	require.NoError(t, e.Close())
	require.NoError(t, e.Close(), "close should be idempotent")

	_, _, err = e.Recommend(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	err = e.SetDataset(twoClusterDataset())
	assert.ErrorIs(t, err, ErrClosed)

	_, err = e.Load("a.csv", "b.csv")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestKMeansClusterer(t *testing.T) {
	c := &KMeansClusterer{Config: kmeans.DefaultConfig()}

	vectors := [][]float64{{1, 0}, {0, 1}, {0.9, 0.1}, {0.1, 0.9}}
	model, err := c.Train(context.Background(), vectors, 2)
	require.NoError(t, err)
	require.Len(t, model.Centers(), 2)

	cluster, err := model.Predict([]float64{1, 0})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, cluster, 0)
	assert.Less(t, cluster, 2)

	_, err = c.Train(context.Background(), [][]float64{{1, 0}}, 5)
	assert.ErrorIs(t, err, kmeans.ErrTooFewVectors)
}
