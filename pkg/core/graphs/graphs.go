// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package graphs holds the sparse graph representation used by the message passing layers: edge lists,
// graph sizes, edge displacement vectors and radius graphs over batched point clouds.
//
// Edge convention: an EdgeIndex has two rows. Row 0 (Centers) lists the nodes where messages accumulate
// (the "convolution centers"), and row 1 (Neighbors) lists the nodes whose features are read. Swapping
// the rows reverses the direction of the flow.
package graphs

import (
	"slices"

	"github.com/gomlx/exceptions"
	"gonum.org/v1/gonum/spatial/r3"
)

// EdgeIndex is a [2 × E] list of edges: edge e goes from Neighbors[e] into Centers[e].
type EdgeIndex struct {
	Centers, Neighbors []int
}

// FromRows creates an EdgeIndex from its two rows: rows[0] are the centers and rows[1] the neighbors.
func FromRows(rows [2][]int) EdgeIndex {
	if len(rows[0]) != len(rows[1]) {
		exceptions.Panicf("graphs.FromRows: rows must have the same length, got %d and %d", len(rows[0]), len(rows[1]))
	}
	return EdgeIndex{Centers: slices.Clone(rows[0]), Neighbors: slices.Clone(rows[1])}
}

// Rows returns the edges as a [2 × E] array.
func (e EdgeIndex) Rows() [2][]int {
	return [2][]int{e.Centers, e.Neighbors}
}

// Len returns the number of edges.
func (e EdgeIndex) Len() int {
	return len(e.Centers)
}

// Reversed returns the edges with rows swapped.
func (e EdgeIndex) Reversed() EdgeIndex {
	return EdgeIndex{Centers: e.Neighbors, Neighbors: e.Centers}
}

// Size of a (possibly bipartite) message passing step: Centers is the number of output rows,
// Neighbors the number of input feature rows.
type Size struct {
	Centers, Neighbors int
}

// DefaultSize returns the size used when none is given: the neighbors are the feature rows, and the
// output has at least as many rows as the features, more if some center index is beyond them.
func DefaultSize(numFeatureRows int, edges EdgeIndex) Size {
	size := Size{Centers: numFeatureRows, Neighbors: numFeatureRows}
	for _, c := range edges.Centers {
		size.Centers = max(size.Centers, c+1)
	}
	return size
}

// Validate panics if the rows have different lengths or if any index is out of range for size.
func (e EdgeIndex) Validate(size Size) {
	if len(e.Centers) != len(e.Neighbors) {
		exceptions.Panicf("graphs: edge index rows have different lengths: %d centers and %d neighbors",
			len(e.Centers), len(e.Neighbors))
	}
	for ii, c := range e.Centers {
		if c < 0 || c >= size.Centers {
			exceptions.Panicf("graphs: edge %d has center %d out of range [0, %d)", ii, c, size.Centers)
		}
		if n := e.Neighbors[ii]; n < 0 || n >= size.Neighbors {
			exceptions.Panicf("graphs: edge %d has neighbor %d out of range [0, %d)", ii, n, size.Neighbors)
		}
	}
}

// EdgeVectors returns positions[neighbor] - positions[center] for each edge, for edges between nodes of
// the same point cloud.
func EdgeVectors(positions []r3.Vec, edges EdgeIndex) []r3.Vec {
	return BipartiteEdgeVectors(positions, positions, edges)
}

// BipartiteEdgeVectors is like EdgeVectors, for centers and neighbors on different point clouds (e.g. a
// coarsened and a fine one).
func BipartiteEdgeVectors(centerPositions, neighborPositions []r3.Vec, edges EdgeIndex) []r3.Vec {
	edges.Validate(Size{Centers: len(centerPositions), Neighbors: len(neighborPositions)})
	vectors := make([]r3.Vec, edges.Len())
	for ii, c := range edges.Centers {
		vectors[ii] = r3.Sub(neighborPositions[edges.Neighbors[ii]], centerPositions[c])
	}
	return vectors
}
