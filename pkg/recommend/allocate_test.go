package recommend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateProportionalQuotas(t *testing.T) {
	candidates := []Candidate{
		{User: "u1", Cluster: 0, Item: "a", Score: 0.9},
		{User: "u1", Cluster: 0, Item: "b", Score: 0.7},
		{User: "u1", Cluster: 0, Item: "c", Score: 0.5},
		{User: "u1", Cluster: 1, Item: "d", Score: 0.8},
		{User: "u1", Cluster: 1, Item: "e", Score: 0.6},
		{User: "u1", Cluster: 1, Item: "f", Score: 0.4},
	}
	fractions := map[int]float64{0: 0.5, 1: 0.5}

	allocated, perCluster := Allocate(candidates, fractions, 4)

	require.Len(t, allocated, 4)
	assert.Equal(t, 2, perCluster[0])
	assert.Equal(t, 2, perCluster[1])

	items := make(map[string]bool)
	for _, c := range allocated {
		items[string(c.Item)] = true
	}
	assert.True(t, items["a"] && items["b"], "cluster 0 keeps its two best")
	assert.True(t, items["d"] && items["e"], "cluster 1 keeps its two best")
	assert.False(t, items["c"] || items["f"], "third-best entries are cut")
}

func TestAllocateSortsDescendingWithinCluster(t *testing.T) {
	candidates := []Candidate{
		{User: "u1", Cluster: 0, Item: "low", Score: 0.1},
		{User: "u1", Cluster: 0, Item: "high", Score: 0.9},
		{User: "u1", Cluster: 0, Item: "mid", Score: 0.5},
	}
	fractions := map[int]float64{0: 1.0}

	allocated, _ := Allocate(candidates, fractions, 3)

	require.Len(t, allocated, 3)
	assert.Equal(t, "high", string(allocated[0].Item))
	assert.Equal(t, "mid", string(allocated[1].Item))
	assert.Equal(t, "low", string(allocated[2].Item))
}

func TestAllocateTiesKeepIncomingOrder(t *testing.T) {
	candidates := []Candidate{
		{User: "u1", Cluster: 0, Item: "first", Score: 0.5},
		{User: "u1", Cluster: 0, Item: "second", Score: 0.5},
		{User: "u1", Cluster: 0, Item: "third", Score: 0.5},
	}
	fractions := map[int]float64{0: 1.0}

	allocated, _ := Allocate(candidates, fractions, 2)

	require.Len(t, allocated, 2)
	assert.Equal(t, "first", string(allocated[0].Item))
	assert.Equal(t, "second", string(allocated[1].Item))
}

func TestAllocateRoundsQuotaToZero(t *testing.T) {
	candidates := []Candidate{
		{User: "u1", Cluster: 0, Item: "a", Score: 0.9},
		{User: "u1", Cluster: 1, Item: "b", Score: 0.8},
	}
	// round(0.04 × 10) = 0: the rare cluster allocates nothing.
	fractions := map[int]float64{0: 0.96, 1: 0.04}

	allocated, perCluster := Allocate(candidates, fractions, 10)

	require.Len(t, allocated, 1)
	assert.Equal(t, "a", string(allocated[0].Item))
	assert.Zero(t, perCluster[1])
}

func TestAllocateQuotaCappedByGroupSize(t *testing.T) {
	candidates := []Candidate{
		{User: "u1", Cluster: 0, Item: "only", Score: 0.9},
	}
	fractions := map[int]float64{0: 1.0}

	allocated, perCluster := Allocate(candidates, fractions, 10)

	require.Len(t, allocated, 1)
	assert.Equal(t, 1, perCluster[0])
}

func TestAllocateOvershootAccepted(t *testing.T) {
	// Two clusters at 0.5 with budget 1: each quota rounds up to 1, so the
	// user ends up with 2 predictions. Rounding overshoot is not rebalanced.
	candidates := []Candidate{
		{User: "u1", Cluster: 0, Item: "a", Score: 0.9},
		{User: "u1", Cluster: 1, Item: "b", Score: 0.2},
	}
	fractions := map[int]float64{0: 0.5, 1: 0.5}

	allocated, _ := Allocate(candidates, fractions, 1)

	assert.Len(t, allocated, 2)
}

func TestAllocateMultipleUsersIndependent(t *testing.T) {
	candidates := []Candidate{
		{User: "u1", Cluster: 0, Item: "a", Score: 0.9},
		{User: "u1", Cluster: 0, Item: "b", Score: 0.8},
		{User: "u2", Cluster: 0, Item: "a", Score: 0.3},
		{User: "u2", Cluster: 0, Item: "b", Score: 0.7},
	}
	fractions := map[int]float64{0: 1.0}

	allocated, perCluster := Allocate(candidates, fractions, 1)

	require.Len(t, allocated, 2)
	assert.Equal(t, 2, perCluster[0])

	byUser := make(map[string]string)
	for _, c := range allocated {
		byUser[string(c.User)] = string(c.Item)
	}
	assert.Equal(t, "a", byUser["u1"])
	assert.Equal(t, "b", byUser["u2"])
}

func TestAllocateEmpty(t *testing.T) {
	allocated, perCluster := Allocate(nil, map[int]float64{}, 5)
	assert.Empty(t, allocated)
	assert.Empty(t, perCluster)
}
