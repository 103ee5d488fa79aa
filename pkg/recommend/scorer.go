package recommend

import (
	"context"
	"sync"

	"github.com/orneryd/kvasir/pkg/math/vector"
	"github.com/orneryd/kvasir/pkg/profile"
)

// scoreAll computes the full cross product of profiles and scorable items:
// one cosine similarity per (user, item) pair, rounded to three decimal
// places.
//
// Work is split into contiguous item ranges, one goroutine per range. Each
// range writes into its own pre-sized slice and results are concatenated in
// range order, so the output is item-major and identical for any partition
// count. Cancelling ctx abandons the remaining rows.
func scoreAll(ctx context.Context, profiles []profile.Profile, items []Assignment, partitions int) ([]Candidate, error) {
	if partitions > len(items) {
		partitions = len(items)
	}
	if partitions < 1 {
		partitions = 1
	}

	parts := make([][]Candidate, partitions)
	chunk := (len(items) + partitions - 1) / partitions

	var wg sync.WaitGroup
	for p := 0; p < partitions; p++ {
		lo := p * chunk
		hi := lo + chunk
		if hi > len(items) {
			hi = len(items)
		}
		if lo >= hi {
			continue
		}

		wg.Add(1)
		go func(p, lo, hi int) {
			defer wg.Done()

			out := make([]Candidate, 0, (hi-lo)*len(profiles))
			for _, item := range items[lo:hi] {
				if ctx.Err() != nil {
					return
				}
				for _, prof := range profiles {
					out = append(out, Candidate{
						User:    prof.User,
						Cluster: item.Cluster,
						Item:    item.Item,
						Score:   vector.Round(vector.Cosine(prof.Vector, item.Vector), 3),
					})
				}
			}
			parts[p] = out
		}(p, lo, hi)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0, len(items)*len(profiles))
	for _, part := range parts {
		candidates = append(candidates, part...)
	}
	return candidates, nil
}
