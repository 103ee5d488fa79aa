// Package profile builds per-user preference vectors for Kvasir.
//
// A user's profile is the rating-weighted sum of the content vectors of the
// items they rated:
//
//	profile(u) = Σ rating(u,i) × vec(i)   over rated items i
//
// High ratings pull the profile toward an item's features, low ratings
// contribute weakly, and negative ratings (where the scale has them) push
// away. The profile lives in the same feature space as the catalog, so it
// can be compared to items directly with cosine similarity.
//
// Join semantics: a rating whose item has no catalog vector cannot
// contribute and is dropped. Drops are counted in Stats, never fatal. A
// profile that aggregates to the zero vector carries no preference signal
// and is dropped the same way.
package profile

import (
	"github.com/orneryd/kvasir/pkg/dataset"
	"github.com/orneryd/kvasir/pkg/math/vector"
)

// Profile is one user's aggregated preference vector.
type Profile struct {
	User   dataset.UserID
	Vector []float64
}

// Stats describes what the join and the zero filter removed.
type Stats struct {
	RatingsJoined       int
	RatingsDropped      int
	UsersSeen           int
	ZeroProfilesDropped int
}

// Build aggregates ratings into per-user profiles.
//
// vectors is the item → content vector lookup (see dataset.VectorsByItem),
// dims the catalog dimensionality. Profiles are returned in first-rating
// order of their users, which keeps downstream output deterministic. A user
// rating the same item twice contributes twice; deduplication is the data
// producer's call, not ours.
func Build(ratings []dataset.Rating, vectors map[dataset.ItemID][]float64, dims int) ([]Profile, Stats) {
	var stats Stats

	index := make(map[dataset.UserID]int)
	profiles := make([]Profile, 0)

	for _, r := range ratings {
		vec, ok := vectors[r.Item]
		if !ok {
			stats.RatingsDropped++
			continue
		}
		stats.RatingsJoined++

		i, seen := index[r.User]
		if !seen {
			i = len(profiles)
			index[r.User] = i
			profiles = append(profiles, Profile{
				User:   r.User,
				Vector: make([]float64, dims),
			})
		}
		vector.AddScaled(profiles[i].Vector, r.Value, vec)
	}
	stats.UsersSeen = len(profiles)

	// Zero profiles carry no direction for cosine scoring.
	kept := profiles[:0]
	for _, p := range profiles {
		if vector.IsZero(p.Vector) {
			stats.ZeroProfilesDropped++
			continue
		}
		kept = append(kept, p)
	}

	return kept, stats
}
