// Package dataset defines the rating and item-vector inputs for Kvasir.
//
// A Dataset couples two collections:
//   - Ratings: explicit user feedback, one (user, item, value) triple per row
//   - Items: the content catalog, one feature vector per item
//
// Ratings may reference items missing from the catalog; those rows are
// dropped later by the profile join, never rejected here. Validate enforces
// only what the pipeline cannot recover from: duplicate catalog entries,
// inconsistent vector dimensions, and non-finite values.
package dataset

import (
	"errors"
	"fmt"
	"math"
)

// Errors for dataset validation
var (
	ErrNoRatings         = errors.New("dataset: no ratings")
	ErrNoItems           = errors.New("dataset: no items")
	ErrDuplicateItem     = errors.New("dataset: duplicate item in catalog")
	ErrDimensionMismatch = errors.New("dataset: item vector dimension mismatch")
	ErrNotFinite         = errors.New("dataset: non-finite value")
)

// UserID identifies a user.
type UserID string

// ItemID identifies a catalog item.
type ItemID string

// Rating is one unit of explicit feedback.
type Rating struct {
	User  UserID  `json:"user"`
	Item  ItemID  `json:"item"`
	Value float64 `json:"rating"`
}

// ItemVector is one catalog entry: an item and its content feature vector.
type ItemVector struct {
	Item   ItemID    `json:"item"`
	Vector []float64 `json:"vector"`
}

// Dataset is the full input to a recommendation run.
type Dataset struct {
	Ratings []Rating
	Items   []ItemVector
}

// Dimensions returns the catalog's vector dimensionality, 0 for an empty
// catalog.
func (d *Dataset) Dimensions() int {
	if len(d.Items) == 0 {
		return 0
	}
	return len(d.Items[0].Vector)
}

// Validate checks structural integrity of the dataset.
//
// Returns ErrDuplicateItem for repeated catalog ids, ErrDimensionMismatch
// when item vectors disagree on length, and ErrNotFinite for NaN or Inf in
// ratings or vectors. An empty dataset is valid; emptiness is handled where
// it matters.
func (d *Dataset) Validate() error {
	dims := d.Dimensions()
	seen := make(map[ItemID]struct{}, len(d.Items))

	for i, item := range d.Items {
		if _, dup := seen[item.Item]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateItem, item.Item)
		}
		seen[item.Item] = struct{}{}

		if len(item.Vector) != dims {
			return fmt.Errorf("%w: item %q has %d dimensions, want %d",
				ErrDimensionMismatch, item.Item, len(item.Vector), dims)
		}
		for _, v := range item.Vector {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: item %q vector (row %d)", ErrNotFinite, item.Item, i)
			}
		}
	}

	for i, r := range d.Ratings {
		if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
			return fmt.Errorf("%w: rating for user %q item %q (row %d)",
				ErrNotFinite, r.User, r.Item, i)
		}
	}

	return nil
}

// RatingRange returns the minimum and maximum rating values over all input
// ratings, including ones that reference items missing from the catalog.
// Returns ErrNoRatings for an empty rating set.
func (d *Dataset) RatingRange() (min, max float64, err error) {
	if len(d.Ratings) == 0 {
		return 0, 0, ErrNoRatings
	}

	min, max = d.Ratings[0].Value, d.Ratings[0].Value
	for _, r := range d.Ratings[1:] {
		if r.Value < min {
			min = r.Value
		}
		if r.Value > max {
			max = r.Value
		}
	}
	return min, max, nil
}

// VectorsByItem builds the item → vector lookup used by the profile join.
// Later duplicates win, matching last-write semantics; Validate rejects
// duplicates up front for callers that care.
func (d *Dataset) VectorsByItem() map[ItemID][]float64 {
	m := make(map[ItemID][]float64, len(d.Items))
	for _, item := range d.Items {
		m[item.Item] = item.Vector
	}
	return m
}

// Vectors returns the catalog vectors in catalog order.
func (d *Dataset) Vectors() [][]float64 {
	out := make([][]float64, len(d.Items))
	for i, item := range d.Items {
		out[i] = item.Vector
	}
	return out
}
