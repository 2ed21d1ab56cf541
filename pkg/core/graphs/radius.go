// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graphs

import (
	"slices"

	"github.com/gomlx/e3nn/pkg/core/batching"
	"github.com/gomlx/exceptions"
	"github.com/tidwall/rtree"
	"gonum.org/v1/gonum/spatial/r3"
	"k8s.io/klog/v2"
)

// RadiusGraph returns all pairs of points of the same batch entry within radius of each other (distance <= radius),
// in both directions. If selfLoops is set, every point is also connected to itself.
//
// Edges are sorted by center and then by neighbor.
//
// Points are indexed by their (x, y) coordinates in one R-tree per batch entry, and candidates are
// filtered on z and on the exact distance.
func RadiusGraph(positions []r3.Vec, batch []int, radius float64, selfLoops bool) EdgeIndex {
	if len(batch) != len(positions) {
		exceptions.Panicf("graphs.RadiusGraph: batch (%d) and positions (%d) must have the same length",
			len(batch), len(positions))
	}
	if radius < 0 {
		exceptions.Panicf("graphs.RadiusGraph: radius must be >= 0, got %g", radius)
	}
	var edges EdgeIndex
	radius2 := radius * radius
	for _, segment := range batching.Segments(batch) {
		var tree rtree.RTreeG[int]
		for _, ii := range segment {
			p := positions[ii]
			tree.Insert([2]float64{p.X, p.Y}, [2]float64{p.X, p.Y}, ii)
		}
		var found []int
		for _, center := range segment {
			p := positions[center]
			found = found[:0]
			tree.Search([2]float64{p.X - radius, p.Y - radius}, [2]float64{p.X + radius, p.Y + radius},
				func(_, _ [2]float64, neighbor int) bool {
					if neighbor == center && !selfLoops {
						return true
					}
					if r3.Norm2(r3.Sub(positions[neighbor], p)) <= radius2 {
						found = append(found, neighbor)
					}
					return true
				})
			slices.Sort(found)
			for _, neighbor := range found {
				edges.Centers = append(edges.Centers, center)
				edges.Neighbors = append(edges.Neighbors, neighbor)
			}
		}
	}
	// Segments are visited by batch id, so restore the global ordering by center.
	order := make([]int, edges.Len())
	for ii := range order {
		order[ii] = ii
	}
	slices.SortStableFunc(order, func(a, b int) int { return edges.Centers[a] - edges.Centers[b] })
	sorted := EdgeIndex{Centers: make([]int, len(order)), Neighbors: make([]int, len(order))}
	for ii, jj := range order {
		sorted.Centers[ii] = edges.Centers[jj]
		sorted.Neighbors[ii] = edges.Neighbors[jj]
	}
	klog.V(2).Infof("graphs.RadiusGraph: %d points, radius %g: %d edges", len(positions), radius, sorted.Len())
	return sorted
}
