package recommend

import (
	"math"
	"sort"

	"github.com/orneryd/kvasir/pkg/dataset"
)

type userCluster struct {
	user    dataset.UserID
	cluster int
}

// Allocate cuts scored candidates down to per-cluster quotas.
//
// Candidates are grouped by (user, cluster). Each group is sorted by score
// descending and truncated to round(fraction × budget) entries, so a
// cluster holding 30% of the catalog gets 30% of every user's budget.
// Quotas round half away from zero and floor at 0: prevalent clusters may
// round a user's total slightly over budget, rare clusters may round
// themselves out entirely. Equal scores keep their incoming (catalog)
// order.
//
// Returns the surviving candidates and the allocation count per cluster.
func Allocate(candidates []Candidate, fractions map[int]float64, budget int) ([]Candidate, map[int]int) {
	groups := make(map[userCluster][]Candidate)
	var order []userCluster
	for _, c := range candidates {
		key := userCluster{user: c.User, cluster: c.Cluster}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], c)
	}

	allocated := make([]Candidate, 0, len(candidates))
	perCluster := make(map[int]int)

	for _, key := range order {
		group := groups[key]
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Score > group[j].Score
		})

		quota := int(math.Round(fractions[key.cluster] * float64(budget)))
		if quota <= 0 {
			continue
		}
		if quota > len(group) {
			quota = len(group)
		}

		allocated = append(allocated, group[:quota]...)
		perCluster[key.cluster] += quota
	}

	return allocated, perCluster
}
