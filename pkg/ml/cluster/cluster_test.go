// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cluster

import (
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/gomlx/e3nn/internal/equivtest"
	"github.com/gomlx/e3nn/pkg/metrics"
	"github.com/gomlx/exceptions"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

// duplicate returns the points twice, as two batch entries.
func duplicate(points []r3.Vec) (positions []r3.Vec, batch []int) {
	positions = append(slices.Clone(points), points...)
	batch = make([]int, len(positions))
	for ii := len(points); ii < len(positions); ii++ {
		batch[ii] = 1
	}
	return
}

func TestNumSamples(t *testing.T) {
	assert.Equal(t, 2, NumSamples(4, 0.5))
	assert.Equal(t, 3, NumSamples(10, 0.3))
	assert.Equal(t, 1, NumSamples(3, 0.01))
	assert.Equal(t, 7, NumSamples(7, 1))
	for _, ratio := range []float64{0, -0.5, 1.5} {
		err := exceptions.TryCatch[error](func() { NumSamples(4, ratio) })
		require.ErrorContains(t, err, "fps ratio")
	}
}

func TestFarthestPointSampling(t *testing.T) {
	positions := []r3.Vec{{X: 0}, {X: 0.2}, {X: 1}, {X: 1.2}, {X: 5}, {X: 3}, {X: 4}}
	batch := []int{0, 0, 0, 0, 1, 1, 1}
	// Entry 0 starts at 0, then 1.2; entry 1 starts at 5, then 3.
	assert.Equal(t, []int{0, 3, 4, 5}, FarthestPointSampling(positions, batch, 0.5))
}

func TestKMeans(t *testing.T) {
	positions, batch := duplicate([]r3.Vec{{X: 0}, {X: 0.2}, {X: 1}, {X: 1.2}})
	classification, centroids, centroidsBatch := NewKMeans().Forward(positions, batch, 0.5)

	assert.Equal(t, []int{0, 0, 1, 1}, centroidsBatch)
	for _, pair := range [][2]int{{0, 1}, {2, 3}, {4, 5}, {6, 7}} {
		assert.Equal(t, classification[pair[0]], classification[pair[1]])
	}
	// Never mixes batch entries.
	for ii := range 4 {
		for jj := 4; jj < 8; jj++ {
			assert.NotEqual(t, classification[ii], classification[jj])
		}
	}
	// Centroids are the means of their clusters, and are consistent with the classification.
	sorted := slices.Clone(centroids)
	slices.SortStableFunc(sorted, func(a, b r3.Vec) int {
		switch {
		case a.X < b.X:
			return -1
		case a.X > b.X:
			return 1
		}
		return 0
	})
	for ii, want := range []float64{0.1, 0.1, 1.1, 1.1} {
		assert.InDelta(t, want, sorted[ii].X, 1e-12)
		assert.InDelta(t, 0, sorted[ii].Y, 1e-12)
	}
	for ii, c := range classification {
		assert.Equal(t, batch[ii], centroidsBatch[c])
		assert.InDelta(t, positions[ii].X, centroids[c].X, 0.1+1e-12)
	}
}

func TestKMeansForwardFrom(t *testing.T) {
	positions, batch := duplicate([]r3.Vec{{X: 0}, {X: 0.2}, {X: 1}, {X: 1.2}})
	start := []r3.Vec{{X: 0.5}, {X: -1}, {X: 2}}
	startBatch := []int{0, 1, 1}
	classification, centroids, centroidsBatch := NewKMeans().ForwardFrom(positions, batch, start, startBatch)
	assert.Equal(t, []int{0, 1, 1}, centroidsBatch)
	// A single centroid for entry 0.
	assert.Equal(t, []int{0, 0, 0, 0, 1, 1, 2, 2}, classification)
	assert.InDelta(t, 0.6, centroids[0].X, 1e-12)

	err := exceptions.TryCatch[error](func() { NewKMeans().ForwardFrom(positions, batch, start[:1], startBatch[:1]) })
	require.ErrorContains(t, err, "no initial centroid")
}

func TestKMeansMetrics(t *testing.T) {
	positions, batch := duplicate([]r3.Vec{{X: 0}, {X: 1}})
	NewKMeans().Forward(positions, batch, 1)
	// One series per algorithm label observed so far.
	assert.GreaterOrEqual(t, testutil.CollectAndCount(metrics.KMeansIterations), 1)
	NewSymmetricKMeans(2).Forward(positions, batch)
	assert.Equal(t, 2, testutil.CollectAndCount(metrics.KMeansIterations))
}

func TestSymmetricKMeans(t *testing.T) {
	kmeans := NewSymmetricKMeans(10)

	// Square: the two partitions into pairs are equally good, so the whole square is one group.
	positions, batch := duplicate([]r3.Vec{{X: 0}, {X: 1}, {Y: 1}, {X: 1, Y: 1}})
	assert.Equal(t, []int{0, 0, 0, 0, 1, 1, 1, 1}, kmeans.Forward(positions, batch))

	// Zig-zag.
	positions, batch = duplicate([]r3.Vec{{X: 0}, {X: 1}, {X: 1, Y: 1}, {X: 2, Y: 1}})
	assert.Equal(t, []int{0, 0, 1, 1, 2, 2, 3, 3}, kmeans.Forward(positions, batch))
}

func TestSymmetricKMeansPermutationInvariance(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 0))
	points := []r3.Vec{{X: 0}, {X: 1}, {X: 1, Y: 1}, {X: 2, Y: 1}}
	batch := make([]int, len(points))
	kmeans := NewSymmetricKMeans(len(points))
	want := kmeans.Forward(points, batch)
	for range 5 {
		perm := rng.Perm(len(points))
		permuted := make([]r3.Vec, len(points))
		for ii, p := range perm {
			permuted[ii] = points[p]
		}
		got := kmeans.ForwardWithRNG(rng, permuted, batch)
		// Same partition, up to the numbering of the groups.
		for ii := range perm {
			for jj := range perm {
				assert.Equal(t, want[perm[ii]] == want[perm[jj]], got[ii] == got[jj])
			}
		}
	}
}

func TestKMeansRandomClouds(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 1))
	positions := equivtest.RandomVectors(rng, 90)
	batch := make([]int, len(positions))
	for ii := range batch {
		batch[ii] = (ii * 7) % 3
	}
	classification, centroids, centroidsBatch := NewKMeans().Forward(positions, batch, 0.1)
	require.Len(t, centroids, 9)
	require.True(t, slices.IsSorted(centroidsBatch))
	for ii, c := range classification {
		require.Equal(t, batch[ii], centroidsBatch[c])
	}
}

func TestKMeansCentroidsAreMeans(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 3))
	positions := equivtest.RandomVectors(rng, 60)
	batch := make([]int, len(positions))
	for ii := range batch {
		batch[ii] = ii % 2
	}
	for _, maxIterations := range []int{1, 2, 300} {
		kmeans := NewKMeans().MaxIterations(maxIterations).Tolerance(10)
		if maxIterations == 300 {
			kmeans.Tolerance(1e-3)
		}
		classification, centroids, _ := kmeans.Forward(positions, batch, 0.2)
		sums := make([]r3.Vec, len(centroids))
		counts := make([]int, len(centroids))
		for ii, c := range classification {
			sums[c] = r3.Add(sums[c], positions[ii])
			counts[c]++
		}
		for c, centroid := range centroids {
			if counts[c] == 0 {
				continue
			}
			mean := r3.Scale(1/float64(counts[c]), sums[c])
			require.InDelta(t, 0, r3.Norm(r3.Sub(mean, centroid)), 1e-12,
				"maxIterations=%d: centroid %d is not the mean of its points", maxIterations, c)
		}
	}
}
