package eval

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/orneryd/kvasir/pkg/dataset"
)

// ErrInvalidFraction is returned when the holdout fraction is not strictly
// between 0 and 1.
var ErrInvalidFraction = errors.New("eval: holdout fraction out of range")

// SplitHoldout partitions ratings into a training set and a holdout set for
// offline evaluation.
//
// The split is per user: roughly fraction of each user's ratings move to the
// holdout, the rest stay in training. A user always keeps at least one
// training rating, so users with a single rating are never split. Both
// returned slices preserve each user's original rating order, and the same
// seed always produces the same split.
func SplitHoldout(ratings []dataset.Rating, fraction float64, seed int64) (train, holdout []dataset.Rating, err error) {
	if fraction <= 0 || fraction >= 1 {
		return nil, nil, fmt.Errorf("%w: got %g", ErrInvalidFraction, fraction)
	}

	// Group per user in first-appearance order so the rng is consumed in a
	// deterministic sequence.
	byUser := make(map[dataset.UserID][]int)
	var order []dataset.UserID
	for i, r := range ratings {
		if _, ok := byUser[r.User]; !ok {
			order = append(order, r.User)
		}
		byUser[r.User] = append(byUser[r.User], i)
	}

	rng := rand.New(rand.NewSource(seed))
	held := make(map[int]bool)

	for _, user := range order {
		idx := byUser[user]
		n := len(idx)
		if n < 2 {
			continue
		}

		nHold := int(math.Round(fraction * float64(n)))
		if nHold < 1 {
			nHold = 1
		}
		if nHold > n-1 {
			nHold = n - 1
		}

		for _, p := range rng.Perm(n)[:nHold] {
			held[idx[p]] = true
		}
	}

	for i, r := range ratings {
		if held[i] {
			holdout = append(holdout, r)
		} else {
			train = append(train, r)
		}
	}
	return train, holdout, nil
}
