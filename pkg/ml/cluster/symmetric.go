// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cluster

import (
	"math/rand/v2"

	"github.com/gomlx/e3nn/pkg/core/batching"
	"github.com/gomlx/e3nn/pkg/metrics"
	"github.com/gomlx/exceptions"
	"gonum.org/v1/gonum/spatial/r3"
	"k8s.io/klog/v2"
)

// SymmetricKMeans clusters each batch entry with randIter restarts of KMeans, and returns a partition that
// doesn't depend on the order of the points when the configuration is symmetric.
//
// Trial t of a batch entry with n points seeds farthest point sampling at the point perm[t mod n], where perm is
// a random permutation of the entry. The score of a trial is the sum of squared distances of the points to their
// centroid. All trials within 1e-9·(1+best) of the best score are kept, and points clustered together in any of
// them are merged in the same group: equally good partitions related by a symmetry are merged instead of picking
// one of them at random.
//
// With randIter >= n every point is used as a starting point, and the result is deterministic.
type SymmetricKMeans struct {
	randIter int
	seed     uint64
	fpsRatio float64
	kmeans   *KMeans
}

// scoreTolerance is the relative tolerance under which two trial scores are considered equal.
const scoreTolerance = 1e-9

// NewSymmetricKMeans creates a SymmetricKMeans with randIter restarts per batch entry, a fps ratio of 0.5 and
// seed 0.
func NewSymmetricKMeans(randIter int) *SymmetricKMeans {
	if randIter <= 0 {
		exceptions.Panicf("cluster.NewSymmetricKMeans: randIter must be > 0, got %d", randIter)
	}
	return &SymmetricKMeans{randIter: randIter, fpsRatio: 0.5, kmeans: NewKMeans()}
}

// Seed sets the seed of the random number generator used by Forward.
func (s *SymmetricKMeans) Seed(seed uint64) *SymmetricKMeans {
	s.seed = seed
	return s
}

// FPSRatio sets the fraction of the points of each entry used as initial centroids.
func (s *SymmetricKMeans) FPSRatio(ratio float64) *SymmetricKMeans {
	NumSamples(1, ratio)
	s.fpsRatio = ratio
	return s
}

// KMeans returns the KMeans configuration (tolerance, iterations) used by the trials.
func (s *SymmetricKMeans) KMeans() *KMeans { return s.kmeans }

// Forward returns the group of each point, using a random number generator created from the configured seed.
//
// Groups are numbered in order of first appearance within each batch entry, offset by the number of groups of the
// previous entries.
func (s *SymmetricKMeans) Forward(positions []r3.Vec, batch []int) []int {
	return s.ForwardWithRNG(rand.New(rand.NewPCG(s.seed, s.seed)), positions, batch)
}

// ForwardWithRNG is like Forward, but uses the given random number generator.
func (s *SymmetricKMeans) ForwardWithRNG(rng *rand.Rand, positions []r3.Vec, batch []int) []int {
	checkInputs(positions, batch)
	segments := batching.Segments(batch)
	localLabels := make([][]int, len(segments))
	counts := make([]int, len(segments))
	for b, segment := range segments {
		if len(segment) == 0 {
			continue
		}
		localLabels[b], counts[b] = s.clusterEntry(rng, positions, segment)
	}
	offsets := batching.Offsets(counts)
	labels := make([]int, len(positions))
	for b, segment := range segments {
		for ii, idx := range segment {
			labels[idx] = offsets[b] + localLabels[b][ii]
		}
	}
	return labels
}

// clusterEntry returns the group of each point of the segment, and the number of groups.
func (s *SymmetricKMeans) clusterEntry(rng *rand.Rand, positions []r3.Vec, segment []int) (labels []int, numGroups int) {
	n := len(segment)
	k := NumSamples(n, s.fpsRatio)
	perm := rng.Perm(n)
	assignments := make([][]int, s.randIter)
	scores := make([]float64, s.randIter)
	for t := range s.randIter {
		var seeds []r3.Vec
		for _, idx := range fps(positions, segment, k, perm[t%n]) {
			seeds = append(seeds, positions[idx])
		}
		assignments[t], _, scores[t] = s.kmeans.lloyd(positions, segment, seeds, metrics.AlgorithmSymmetricKMeans)
	}
	best := scores[0]
	for _, score := range scores[1:] {
		best = min(best, score)
	}

	groups := newUnionFind(n)
	numKept := 0
	for t, assignment := range assignments {
		if scores[t] > best+scoreTolerance*(1+best) {
			continue
		}
		numKept++
		firstOfCluster := make(map[int]int, k)
		for ii, c := range assignment {
			if first, found := firstOfCluster[c]; found {
				groups.union(first, ii)
			} else {
				firstOfCluster[c] = ii
			}
		}
	}

	labels = make([]int, n)
	labelOfRoot := make(map[int]int)
	for ii := range labels {
		root := groups.find(ii)
		label, found := labelOfRoot[root]
		if !found {
			label = len(labelOfRoot)
			labelOfRoot[root] = label
		}
		labels[ii] = label
	}
	klog.V(2).Infof("cluster: symmetric kmeans on %d points: best score %g, %d of %d trials kept, %d groups",
		n, best, numKept, s.randIter, len(labelOfRoot))
	return labels, len(labelOfRoot)
}

// unionFind is a disjoint-set forest over [0, n), with path halving.
type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n)}
	for ii := range uf.parent {
		uf.parent[ii] = ii
	}
	return uf
}

func (uf *unionFind) find(x int) int {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}
	return x
}

// union merges the sets of a and b, keeping the smallest root.
func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return
	}
	if rb < ra {
		ra, rb = rb, ra
	}
	uf.parent[rb] = ra
}
