package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/kvasir/pkg/dataset"
	"github.com/orneryd/kvasir/pkg/recommend"
)

// storeFactories builds one constructor per Store implementation so every
// conformance test runs against both backends.
func storeFactories() map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			st := NewMemoryStore()
			t.Cleanup(func() { st.Close() })
			return st
		},
		"badger": func(t *testing.T) Store {
			st, err := NewBadgerStoreInMemory()
			require.NoError(t, err)
			t.Cleanup(func() { st.Close() })
			return st
		},
	}
}

func makeRun(id string, createdAt time.Time) *Run {
	return &Run{
		ID:        id,
		CreatedAt: createdAt,
		Options:   recommend.Options{NumPredictions: 5, K: 3, Partitions: 2},
		Stats: recommend.Stats{
			RunID:            id,
			Items:            10,
			Ratings:          40,
			Clusters:         3,
			ClusterFractions: map[int]float64{0: 0.5, 1: 0.3, 2: 0.2},
			Predictions:      12,
			RatingMin:        1,
			RatingMax:        5,
		},
	}
}

func makePredictions() []recommend.Prediction {
	return []recommend.Prediction{
		{User: "u1", Item: "i3", Score: 5.0},
		{User: "u1", Item: "i7", Score: 3.2},
		{User: "u2", Item: "i1", Score: 4.8},
	}
}

func TestStoreSaveAndGetRun(t *testing.T) {
	for name, newStore := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			st := newStore(t)

			run := makeRun("run-1", time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
			require.NoError(t, st.SaveRun(run, makePredictions()))

			got, err := st.GetRun("run-1")
			require.NoError(t, err)
			assert.Equal(t, run.ID, got.ID)
			assert.Equal(t, run.CreatedAt.Unix(), got.CreatedAt.Unix())
			assert.Equal(t, run.Options, got.Options)
			assert.Equal(t, run.Stats.ClusterFractions, got.Stats.ClusterFractions)
			assert.Equal(t, run.Stats.Predictions, got.Stats.Predictions)
			assert.Equal(t, run.Stats.RatingMax, got.Stats.RatingMax)
		})
	}
}

func TestStoreSaveDuplicateRun(t *testing.T) {
	for name, newStore := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			st := newStore(t)

			run := makeRun("run-1", time.Now().UTC())
			require.NoError(t, st.SaveRun(run, nil))
			assert.ErrorIs(t, st.SaveRun(run, nil), ErrAlreadyExists)
		})
	}
}

func TestStoreSaveInvalidRun(t *testing.T) {
	for name, newStore := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			st := newStore(t)

			assert.ErrorIs(t, st.SaveRun(nil, nil), ErrInvalidData)
			assert.ErrorIs(t, st.SaveRun(&Run{}, nil), ErrInvalidID)
		})
	}
}

func TestStoreGetMissingRun(t *testing.T) {
	for name, newStore := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			st := newStore(t)

			_, err := st.GetRun("nope")
			assert.ErrorIs(t, err, ErrNotFound)

			_, err = st.GetRun("")
			assert.ErrorIs(t, err, ErrInvalidID)
		})
	}
}

func TestStoreListRunsOrder(t *testing.T) {
	for name, newStore := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			st := newStore(t)

			base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
			// Saved newest first; ListRuns must still return oldest first,
			// with same-instant runs ordered by id.
			require.NoError(t, st.SaveRun(makeRun("run-c", base.Add(2*time.Hour)), nil))
			require.NoError(t, st.SaveRun(makeRun("run-b", base), nil))
			require.NoError(t, st.SaveRun(makeRun("run-a", base), nil))

			runs, err := st.ListRuns()
			require.NoError(t, err)
			require.Len(t, runs, 3)
			assert.Equal(t, "run-a", runs[0].ID)
			assert.Equal(t, "run-b", runs[1].ID)
			assert.Equal(t, "run-c", runs[2].ID)
		})
	}
}

func TestStorePredictions(t *testing.T) {
	for name, newStore := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			st := newStore(t)

			// u2 saved before u1: readback still orders users
			// lexicographically, each user's rows in saved order.
			preds := []recommend.Prediction{
				{User: "u2", Item: "i1", Score: 4.8},
				{User: "u1", Item: "i3", Score: 5.0},
				{User: "u1", Item: "i7", Score: 3.2},
			}
			require.NoError(t, st.SaveRun(makeRun("run-1", time.Now().UTC()), preds))

			got, err := st.Predictions("run-1")
			require.NoError(t, err)
			require.Len(t, got, 3)
			assert.Equal(t, dataset.UserID("u1"), got[0].User)
			assert.Equal(t, dataset.ItemID("i3"), got[0].Item)
			assert.Equal(t, dataset.UserID("u1"), got[1].User)
			assert.Equal(t, dataset.ItemID("i7"), got[1].Item)
			assert.Equal(t, dataset.UserID("u2"), got[2].User)

			_, err = st.Predictions("nope")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreTopFor(t *testing.T) {
	for name, newStore := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			st := newStore(t)

			require.NoError(t, st.SaveRun(makeRun("run-1", time.Now().UTC()), makePredictions()))

			top, err := st.TopFor("run-1", "u1")
			require.NoError(t, err)
			require.Len(t, top, 2)
			assert.Equal(t, dataset.ItemID("i3"), top[0].Item)
			assert.InDelta(t, 5.0, top[0].Score, 1e-9)
			assert.Equal(t, dataset.ItemID("i7"), top[1].Item)

			// Known run, unknown user: empty result, no error.
			none, err := st.TopFor("run-1", "ghost")
			require.NoError(t, err)
			assert.Empty(t, none)

			_, err = st.TopFor("nope", "u1")
			assert.ErrorIs(t, err, ErrNotFound)

			_, err = st.TopFor("run-1", "")
			assert.ErrorIs(t, err, ErrInvalidID)
		})
	}
}

func TestStoreDeleteRun(t *testing.T) {
	for name, newStore := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			st := newStore(t)

			require.NoError(t, st.SaveRun(makeRun("run-1", time.Now().UTC()), makePredictions()))
			require.NoError(t, st.DeleteRun("run-1"))

			_, err := st.GetRun("run-1")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = st.Predictions("run-1")
			assert.ErrorIs(t, err, ErrNotFound)

			count, err := st.RunCount()
			require.NoError(t, err)
			assert.Equal(t, int64(0), count)

			assert.ErrorIs(t, st.DeleteRun("run-1"), ErrNotFound)
		})
	}
}

func TestStoreRunCount(t *testing.T) {
	for name, newStore := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			st := newStore(t)

			count, err := st.RunCount()
			require.NoError(t, err)
			assert.Equal(t, int64(0), count)

			require.NoError(t, st.SaveRun(makeRun("run-1", time.Now().UTC()), nil))
			require.NoError(t, st.SaveRun(makeRun("run-2", time.Now().UTC()), nil))

			count, err = st.RunCount()
			require.NoError(t, err)
			assert.Equal(t, int64(2), count)
		})
	}
}

func TestStoreClosed(t *testing.T) {
	for name, newStore := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			st := newStore(t)
			require.NoError(t, st.Close())

			assert.ErrorIs(t, st.SaveRun(makeRun("run-1", time.Now().UTC()), nil), ErrStoreClosed)
			_, err := st.GetRun("run-1")
			assert.ErrorIs(t, err, ErrStoreClosed)
			_, err = st.ListRuns()
			assert.ErrorIs(t, err, ErrStoreClosed)
			assert.ErrorIs(t, st.DeleteRun("run-1"), ErrStoreClosed)
			_, err = st.Predictions("run-1")
			assert.ErrorIs(t, err, ErrStoreClosed)
			_, err = st.TopFor("run-1", "u1")
			assert.ErrorIs(t, err, ErrStoreClosed)
			_, err = st.RunCount()
			assert.ErrorIs(t, err, ErrStoreClosed)
		})
	}
}

func TestBadgerStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	st, err := NewBadgerStore(dir)
	require.NoError(t, err)
	require.NoError(t, st.SaveRun(makeRun("run-1", time.Now().UTC()), makePredictions()))
	require.NoError(t, st.Close())

	st, err = NewBadgerStore(dir)
	require.NoError(t, err)
	defer st.Close()

	run, err := st.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", run.ID)

	top, err := st.TopFor("run-1", "u1")
	require.NoError(t, err)
	assert.Len(t, top, 2)
}

func TestNewRun(t *testing.T) {
	stats := &recommend.Stats{RunID: "abc-123", Predictions: 7}
	opts := recommend.Options{NumPredictions: 3, K: 2, Partitions: 1}

	run := NewRun(opts, stats)
	assert.Equal(t, "abc-123", run.ID)
	assert.Equal(t, opts, run.Options)
	assert.Equal(t, 7, run.Stats.Predictions)
	assert.WithinDuration(t, time.Now().UTC(), run.CreatedAt, 5*time.Second)
}
