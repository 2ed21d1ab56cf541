// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cluster

import (
	"math"

	"github.com/gomlx/e3nn/pkg/core/batching"
	"github.com/gomlx/exceptions"
	"gonum.org/v1/gonum/spatial/r3"
)

// NumSamples returns the number of points sampled from n points with the given ratio: max(1, ceil(ratio·n)).
// It panics if ratio is not in (0, 1].
func NumSamples(n int, ratio float64) int {
	if !(ratio > 0 && ratio <= 1) {
		exceptions.Panicf("cluster: fps ratio must be in (0, 1], got %g", ratio)
	}
	return max(1, int(math.Ceil(ratio*float64(n)-1e-9)))
}

// FarthestPointSampling selects ceil(ratio·n) points of each batch entry with n points: it starts with the first
// point of the entry, and repeatedly adds the point farthest from the ones already selected. Ties are broken by
// the lowest point index.
//
// It returns the indices of the selected points, entry by entry, in order of selection.
func FarthestPointSampling(positions []r3.Vec, batch []int, ratio float64) []int {
	if len(positions) != len(batch) {
		exceptions.Panicf("cluster.FarthestPointSampling: positions (%d) and batch (%d) must have the same length",
			len(positions), len(batch))
	}
	var selected []int
	for _, segment := range batching.Segments(batch) {
		if len(segment) == 0 {
			continue
		}
		selected = append(selected, fps(positions, segment, NumSamples(len(segment), ratio), 0)...)
	}
	return selected
}

// fps samples k points of the segment (a list of point indices), starting at segment[start].
func fps(positions []r3.Vec, segment []int, k, start int) []int {
	k = min(k, len(segment))
	selected := make([]int, 0, k)
	minDist := make([]float64, len(segment))
	for ii := range minDist {
		minDist[ii] = math.Inf(1)
	}
	next := start
	for len(selected) < k {
		selected = append(selected, segment[next])
		p := positions[segment[next]]
		farthest, farthestDist := -1, -1.0
		for ii, idx := range segment {
			d := r3.Norm2(r3.Sub(positions[idx], p))
			minDist[ii] = min(minDist[ii], d)
			if minDist[ii] > farthestDist {
				farthest, farthestDist = ii, minDist[ii]
			}
		}
		next = farthest
	}
	return selected
}
