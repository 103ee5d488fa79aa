package dataset

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		ds      Dataset
		wantErr error
	}{
		{
			name: "valid dataset",
			ds: Dataset{
				Ratings: []Rating{{User: "u1", Item: "i1", Value: 5}},
				Items: []ItemVector{
					{Item: "i1", Vector: []float64{1, 0}},
					{Item: "i2", Vector: []float64{0, 1}},
				},
			},
		},
		{
			name: "empty dataset is valid",
			ds:   Dataset{},
		},
		{
			name: "rating for unknown item is valid",
			ds: Dataset{
				Ratings: []Rating{{User: "u1", Item: "ghost", Value: 3}},
				Items:   []ItemVector{{Item: "i1", Vector: []float64{1}}},
			},
		},
		{
			name: "duplicate item",
			ds: Dataset{
				Items: []ItemVector{
					{Item: "i1", Vector: []float64{1, 0}},
					{Item: "i1", Vector: []float64{0, 1}},
				},
			},
			wantErr: ErrDuplicateItem,
		},
		{
			name: "dimension mismatch",
			ds: Dataset{
				Items: []ItemVector{
					{Item: "i1", Vector: []float64{1, 0}},
					{Item: "i2", Vector: []float64{0, 1, 1}},
				},
			},
			wantErr: ErrDimensionMismatch,
		},
		{
			name: "NaN in item vector",
			ds: Dataset{
				Items: []ItemVector{{Item: "i1", Vector: []float64{math.NaN()}}},
			},
			wantErr: ErrNotFinite,
		},
		{
			name: "Inf rating",
			ds: Dataset{
				Ratings: []Rating{{User: "u1", Item: "i1", Value: math.Inf(1)}},
				Items:   []ItemVector{{Item: "i1", Vector: []float64{1}}},
			},
			wantErr: ErrNotFinite,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ds.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestRatingRange(t *testing.T) {
	t.Run("spans all ratings", func(t *testing.T) {
		ds := Dataset{
			Ratings: []Rating{
				{User: "u1", Item: "i1", Value: 2},
				{User: "u1", Item: "i2", Value: 5},
				{User: "u2", Item: "i1", Value: 1},
			},
		}

		min, max, err := ds.RatingRange()
		require.NoError(t, err)
		assert.Equal(t, 1.0, min)
		assert.Equal(t, 5.0, max)
	})

	t.Run("includes ratings without catalog entries", func(t *testing.T) {
		ds := Dataset{
			Ratings: []Rating{
				{User: "u1", Item: "in-catalog", Value: 3},
				{User: "u1", Item: "not-in-catalog", Value: 9},
			},
			Items: []ItemVector{{Item: "in-catalog", Vector: []float64{1}}},
		}

		_, max, err := ds.RatingRange()
		require.NoError(t, err)
		assert.Equal(t, 9.0, max)
	})

	t.Run("single rating collapses range", func(t *testing.T) {
		ds := Dataset{Ratings: []Rating{{User: "u1", Item: "i1", Value: 4}}}

		min, max, err := ds.RatingRange()
		require.NoError(t, err)
		assert.Equal(t, 4.0, min)
		assert.Equal(t, 4.0, max)
	})

	t.Run("empty ratings", func(t *testing.T) {
		ds := Dataset{}
		_, _, err := ds.RatingRange()
		assert.ErrorIs(t, err, ErrNoRatings)
	})
}

func TestDimensions(t *testing.T) {
	assert.Equal(t, 0, (&Dataset{}).Dimensions())

	ds := Dataset{Items: []ItemVector{{Item: "i1", Vector: []float64{1, 2, 3}}}}
	assert.Equal(t, 3, ds.Dimensions())
}

func TestVectorsByItem(t *testing.T) {
	ds := Dataset{
		Items: []ItemVector{
			{Item: "i1", Vector: []float64{1, 0}},
			{Item: "i2", Vector: []float64{0, 1}},
		},
	}

	m := ds.VectorsByItem()
	require.Len(t, m, 2)
	assert.Equal(t, []float64{1, 0}, m["i1"])
	assert.Equal(t, []float64{0, 1}, m["i2"])
}

func TestVectorsKeepsCatalogOrder(t *testing.T) {
	ds := Dataset{
		Items: []ItemVector{
			{Item: "b", Vector: []float64{2}},
			{Item: "a", Vector: []float64{1}},
			{Item: "c", Vector: []float64{3}},
		},
	}

	vecs := ds.Vectors()
	require.Len(t, vecs, 3)
	assert.Equal(t, []float64{2}, vecs[0])
	assert.Equal(t, []float64{1}, vecs[1])
	assert.Equal(t, []float64{3}, vecs[2])
}
