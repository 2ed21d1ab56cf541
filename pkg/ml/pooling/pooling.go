// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package pooling coarsens batched point cloud graphs: points are clustered, each cluster becomes a coarse node
// and the edges are remapped to the clusters of their endpoints.
package pooling

import (
	"cmp"

	"github.com/gomlx/e3nn/pkg/core/batching"
	"github.com/gomlx/e3nn/pkg/core/graphs"
	"github.com/gomlx/e3nn/pkg/metrics"
	"github.com/gomlx/e3nn/pkg/ml/cluster"
	"github.com/gomlx/exceptions"
	"github.com/tidwall/btree"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
	"k8s.io/klog/v2"
)

// edge in cluster space, ordered lexicographically by (center, neighbor).
type edge struct {
	center, neighbor int
}

func edgeLess(a, b edge) bool {
	if c := cmp.Compare(a.center, b.center); c != 0 {
		return c < 0
	}
	return a.neighbor < b.neighbor
}

// NewEdgeIndex remaps edges over numNodes fine nodes into edges between clusters.
//
// The bloom tables map "bloom slots" to fine nodes and clusters: slot b belongs to the fine node bloomBatch[b] and
// to the cluster cluster[b]. A fine node may have several slots (and hence several clusters), or none.
// Each fine edge (c, n) yields one coarse edge per pair of clusters of c and n.
//
// Cluster ids are used as given: they must already be globally unique (see GlobalizeClusters).
//
// The result is deduplicated, keeps self-loops (once per cluster), and is sorted lexicographically by
// (center, neighbor). Row 0 keeps the meaning of centers.
func NewEdgeIndex(numNodes int, edges graphs.EdgeIndex, bloomBatch, cluster []int) graphs.EdgeIndex {
	if len(bloomBatch) != len(cluster) {
		exceptions.Panicf("pooling.NewEdgeIndex: bloomBatch (%d) and cluster (%d) must have the same length",
			len(bloomBatch), len(cluster))
	}
	edges.Validate(graphs.Size{Centers: numNodes, Neighbors: numNodes})
	clustersOf := make([][]int, numNodes)
	for b, node := range bloomBatch {
		if node < 0 || node >= numNodes {
			exceptions.Panicf("pooling.NewEdgeIndex: bloomBatch[%d]=%d out of range for %d nodes", b, node, numNodes)
		}
		if cluster[b] < 0 {
			exceptions.Panicf("pooling.NewEdgeIndex: cluster[%d]=%d must be >= 0", b, cluster[b])
		}
		clustersOf[node] = append(clustersOf[node], cluster[b])
	}

	set := btree.NewBTreeG[edge](edgeLess)
	for e, c := range edges.Centers {
		n := edges.Neighbors[e]
		for _, cc := range clustersOf[c] {
			for _, cn := range clustersOf[n] {
				set.Set(edge{center: cc, neighbor: cn})
			}
		}
	}

	result := graphs.EdgeIndex{Centers: make([]int, 0, set.Len()), Neighbors: make([]int, 0, set.Len())}
	set.Scan(func(item edge) bool {
		result.Centers = append(result.Centers, item.center)
		result.Neighbors = append(result.Neighbors, item.neighbor)
		return true
	})
	metrics.CoarsenedEdges.Add(float64(result.Len()))
	klog.V(2).Infof("pooling: coarsened %d edges over %d nodes into %d edges", edges.Len(), numNodes, result.Len())
	return result
}

// GlobalizeClusters turns cluster ids local to each batch entry into globally unique ids, by offsetting the ids of
// entry b by the number of clusters (max local id + 1) of the entries before it.
func GlobalizeClusters(batch, local []int) []int {
	if len(batch) != len(local) {
		exceptions.Panicf("pooling.GlobalizeClusters: batch (%d) and local ids (%d) must have the same length",
			len(batch), len(local))
	}
	counts := make([]int, batching.NumEntries(batch))
	for ii, b := range batch {
		if local[ii] < 0 {
			exceptions.Panicf("pooling.GlobalizeClusters: local[%d]=%d must be >= 0", ii, local[ii])
		}
		counts[b] = max(counts[b], local[ii]+1)
	}
	return batching.Globalize(batch, local, batching.Offsets(counts))
}

// Pooling clusters the points of each batch entry with KMeans and coarsens the graph onto the clusters.
type Pooling struct {
	kmeans   *cluster.KMeans
	fpsRatio float64
}

// New creates a Pooling using the given KMeans, with a fps ratio of 0.5. If kmeans is nil, cluster.NewKMeans()
// is used.
func New(kmeans *cluster.KMeans) *Pooling {
	if kmeans == nil {
		kmeans = cluster.NewKMeans()
	}
	return &Pooling{kmeans: kmeans, fpsRatio: 0.5}
}

// FPSRatio sets the fraction of points of each batch entry kept as coarse nodes.
func (p *Pooling) FPSRatio(ratio float64) *Pooling {
	cluster.NumSamples(1, ratio)
	p.fpsRatio = ratio
	return p
}

// Result of a pooling step.
type Result struct {
	// Positions of the coarse nodes: the centroids of the clusters.
	Positions []r3.Vec

	// Batch entry of each coarse node.
	Batch []int

	// Features of the coarse nodes, the mean of the features of their members. Nil if no features were given.
	Features *mat.Dense

	// Edges between the coarse nodes.
	Edges graphs.EdgeIndex

	// Classification is the coarse node of each fine node.
	Classification []int
}

// Pool clusters the points, averages the features (optional, may be nil) of each cluster and remaps the edges.
//
// Averaging is linear, so the pooled features transform like the input features under rotations.
func (p *Pooling) Pool(positions []r3.Vec, batch []int, features *mat.Dense, edges graphs.EdgeIndex) Result {
	if features != nil {
		if rows, _ := features.Dims(); rows != len(positions) {
			exceptions.Panicf("pooling.Pool: features have %d rows, but there are %d points", rows, len(positions))
		}
	}
	classification, centroids, centroidsBatch := p.kmeans.Forward(positions, batch, p.fpsRatio)
	result := Result{
		Positions:      centroids,
		Batch:          centroidsBatch,
		Classification: classification,
	}

	identity := make([]int, len(positions))
	for ii := range identity {
		identity[ii] = ii
	}
	result.Edges = NewEdgeIndex(len(positions), edges, identity, classification)

	if features != nil {
		result.Features = meanFeatures(features, classification, len(centroids))
	}
	return result
}

// meanFeatures returns the mean of the feature rows of each cluster. Empty clusters get zero features.
func meanFeatures(features *mat.Dense, classification []int, numClusters int) *mat.Dense {
	_, dim := features.Dims()
	if numClusters == 0 || dim == 0 {
		return &mat.Dense{}
	}
	pooled := mat.NewDense(numClusters, dim, nil)
	counts := make([]int, numClusters)
	for ii, c := range classification {
		floats.Add(pooled.RawRowView(c), features.RawRowView(ii))
		counts[c]++
	}
	for c, count := range counts {
		if count > 0 {
			floats.Scale(1/float64(count), pooled.RawRowView(c))
		}
	}
	return pooled
}
