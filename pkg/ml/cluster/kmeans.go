// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package cluster implements the clustering of batched point clouds used for pooling: KMeans seeded with
// farthest point sampling, and SymmetricKMeans, which merges the best partitions of randomized restarts to be
// stable on symmetric configurations.
//
// Points are grouped in batch entries (one point cloud each), and clusters never mix points from different entries.
package cluster

import (
	"github.com/gomlx/e3nn/internal/workerspool"
	"github.com/gomlx/e3nn/pkg/core/batching"
	"github.com/gomlx/e3nn/pkg/metrics"
	"github.com/gomlx/exceptions"
	"gonum.org/v1/gonum/spatial/r3"
	"k8s.io/klog/v2"
)

// KMeans clusters each batch entry independently with Lloyd iterations.
//
// Create it with NewKMeans, optionally configure it, and call Forward.
type KMeans struct {
	tolerance     float64
	maxIterations int
	pool          *workerspool.Pool
}

// NewKMeans returns a KMeans with tolerance 1e-3 and at most 300 iterations.
func NewKMeans() *KMeans {
	return &KMeans{tolerance: 1e-3, maxIterations: 300, pool: workerspool.Default}
}

// Tolerance sets the convergence threshold: iterations stop when no centroid moves more than tolerance.
func (k *KMeans) Tolerance(tolerance float64) *KMeans {
	k.tolerance = tolerance
	return k
}

// MaxIterations sets the maximum number of Lloyd iterations per batch entry.
func (k *KMeans) MaxIterations(maxIterations int) *KMeans {
	if maxIterations <= 0 {
		exceptions.Panicf("cluster.KMeans: MaxIterations must be > 0, got %d", maxIterations)
	}
	k.maxIterations = maxIterations
	return k
}

// WithPool sets the pool used to cluster batch entries in parallel. The default is workerspool.Default.
func (k *KMeans) WithPool(pool *workerspool.Pool) *KMeans {
	k.pool = pool
	return k
}

// Forward clusters the points of each batch entry into ceil(fpsRatio·n) clusters, seeded by farthest point
// sampling (see FarthestPointSampling).
//
// It returns:
//
//   - classification: the cluster of each point. Cluster ids are globally unique, numbered entry by entry.
//   - centroids: the mean of the points of each cluster (or its seed, if the cluster ended empty).
//   - centroidsBatch: the batch entry of each cluster, non-decreasing.
func (k *KMeans) Forward(positions []r3.Vec, batch []int, fpsRatio float64) (classification []int, centroids []r3.Vec, centroidsBatch []int) {
	checkInputs(positions, batch)
	segments := batching.Segments(batch)
	seeds := make([][]r3.Vec, len(segments))
	for b, segment := range segments {
		if len(segment) == 0 {
			continue
		}
		for _, idx := range fps(positions, segment, NumSamples(len(segment), fpsRatio), 0) {
			seeds[b] = append(seeds[b], positions[idx])
		}
	}
	return k.run(positions, segments, seeds)
}

// ForwardFrom is like Forward, but the initial centroids are given: startPositions[i] is an initial centroid of
// the batch entry startBatch[i]. Every batch entry with points must have at least one initial centroid.
func (k *KMeans) ForwardFrom(positions []r3.Vec, batch []int, startPositions []r3.Vec, startBatch []int) (classification []int, centroids []r3.Vec, centroidsBatch []int) {
	checkInputs(positions, batch)
	if len(startPositions) != len(startBatch) {
		exceptions.Panicf("cluster.KMeans: startPositions (%d) and startBatch (%d) must have the same length",
			len(startPositions), len(startBatch))
	}
	segments := batching.Segments(batch)
	seeds := make([][]r3.Vec, len(segments))
	for ii, b := range startBatch {
		if b < 0 || b >= len(segments) {
			exceptions.Panicf("cluster.KMeans: startBatch[%d]=%d doesn't match any batch entry", ii, b)
		}
		seeds[b] = append(seeds[b], startPositions[ii])
	}
	for b, segment := range segments {
		if len(segment) > 0 && len(seeds[b]) == 0 {
			exceptions.Panicf("cluster.KMeans: batch entry %d has %d points but no initial centroid", b, len(segment))
		}
	}
	return k.run(positions, segments, seeds)
}

func checkInputs(positions []r3.Vec, batch []int) {
	if len(positions) != len(batch) {
		exceptions.Panicf("cluster: positions (%d) and batch (%d) must have the same length", len(positions), len(batch))
	}
}

// run Lloyd iterations on every batch entry, in parallel, and assemble the global results.
func (k *KMeans) run(positions []r3.Vec, segments [][]int, seeds [][]r3.Vec) (classification []int, centroids []r3.Vec, centroidsBatch []int) {
	type entryResult struct {
		assignment []int
		centroids  []r3.Vec
	}
	results := make([]entryResult, len(segments))
	k.pool.ParallelFor(len(segments), 1, func(_ int, r workerspool.Range) {
		for b := r.Start; b < r.End; b++ {
			if len(segments[b]) == 0 {
				continue
			}
			assignment, entryCentroids, _ := k.lloyd(positions, segments[b], seeds[b], metrics.AlgorithmKMeans)
			results[b] = entryResult{assignment: assignment, centroids: entryCentroids}
		}
	})

	counts := make([]int, len(segments))
	for b, result := range results {
		counts[b] = len(result.centroids)
	}
	offsets := batching.Offsets(counts)
	classification = make([]int, len(positions))
	centroids = make([]r3.Vec, 0, batching.Total(counts))
	centroidsBatch = make([]int, 0, batching.Total(counts))
	for b, result := range results {
		for ii, idx := range segments[b] {
			classification[idx] = offsets[b] + result.assignment[ii]
		}
		centroids = append(centroids, result.centroids...)
		for range result.centroids {
			centroidsBatch = append(centroidsBatch, b)
		}
	}
	return
}

// lloyd runs Lloyd iterations on the points of one segment, starting from the given centroids.
//
// It returns the cluster (index into centroids) of each point of the segment, the final centroids, and the sum of
// squared distances of the points to their centroid. The centroids are the means of the returned clusters, also
// when the iterations stop at maxIterations.
//
// Points are assigned to the nearest centroid, ties broken by the lowest centroid index. Empty clusters keep their
// previous centroid.
func (k *KMeans) lloyd(positions []r3.Vec, segment []int, seeds []r3.Vec, algorithm string) (assignment []int, centroids []r3.Vec, score float64) {
	centroids = append([]r3.Vec(nil), seeds...)
	assignment = make([]int, len(segment))
	iteration := 0
	converged := false
	for iteration < k.maxIterations && !converged {
		iteration++
		assign(positions, segment, centroids, assignment)
		maxShift := updateCentroids(positions, segment, assignment, centroids)
		converged = maxShift < k.tolerance
		klog.V(2).Infof("cluster: %s iteration %d, %d points, max centroid shift %g", algorithm, iteration,
			len(segment), maxShift)
	}
	if !converged {
		klog.Warningf("cluster: %s didn't converge after %d iterations (tolerance %g)", algorithm,
			k.maxIterations, k.tolerance)
	}
	metrics.KMeansIterations.WithLabelValues(algorithm).Observe(float64(iteration))

	// Final assignment, consistent with the returned centroids. Points may still move, so the means are updated
	// once more.
	assign(positions, segment, centroids, assignment)
	updateCentroids(positions, segment, assignment, centroids)
	for ii, c := range assignment {
		score += r3.Norm2(r3.Sub(positions[segment[ii]], centroids[c]))
	}
	return
}

// updateCentroids moves each non-empty centroid to the mean of its points, and returns the largest move.
func updateCentroids(positions []r3.Vec, segment, assignment []int, centroids []r3.Vec) (maxShift float64) {
	sums := make([]r3.Vec, len(centroids))
	counts := make([]int, len(centroids))
	for ii, c := range assignment {
		sums[c] = r3.Add(sums[c], positions[segment[ii]])
		counts[c]++
	}
	for c := range centroids {
		if counts[c] == 0 {
			continue
		}
		updated := r3.Scale(1/float64(counts[c]), sums[c])
		maxShift = max(maxShift, r3.Norm(r3.Sub(updated, centroids[c])))
		centroids[c] = updated
	}
	return
}

// assign each point of the segment to its nearest centroid, ties broken by the lowest centroid index.
func assign(positions []r3.Vec, segment []int, centroids []r3.Vec, assignment []int) {
	for ii, idx := range segment {
		best, bestDist := 0, r3.Norm2(r3.Sub(positions[idx], centroids[0]))
		for c := 1; c < len(centroids); c++ {
			if d := r3.Norm2(r3.Sub(positions[idx], centroids[c])); d < bestDist {
				best, bestDist = c, d
			}
		}
		assignment[ii] = best
	}
}
