// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package equivtest holds test utilities for packages that check the equivariance of layers: random
// graphs and vectors, rotation of features and comparison of matrices.
package equivtest

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/gomlx/e3nn/pkg/core/graphs"
	"github.com/gomlx/e3nn/pkg/core/o3"
	"github.com/gomlx/e3nn/pkg/core/rs"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// MaxAbsDiff returns the largest absolute difference between elements of a and b, which must have the same shape.
func MaxAbsDiff(a, b mat.Matrix) float64 {
	rows, cols := a.Dims()
	bRows, bCols := b.Dims()
	if rows != bRows || cols != bCols {
		return math.Inf(1)
	}
	var m float64
	for ii := range rows {
		for jj := range cols {
			m = max(m, math.Abs(a.At(ii, jj)-b.At(ii, jj)))
		}
	}
	return m
}

// RequireInDelta fails the test if got doesn't have the shape of want, or if any element differs by more than delta.
func RequireInDelta(t *testing.T, want, got mat.Matrix, delta float64, msgAndArgs ...any) {
	t.Helper()
	wantRows, wantCols := want.Dims()
	gotRows, gotCols := got.Dims()
	require.Equal(t, []int{wantRows, wantCols}, []int{gotRows, gotCols}, msgAndArgs...)
	require.LessOrEqual(t, MaxAbsDiff(want, got), delta, msgAndArgs...)
}

// RandomVectors returns n normally distributed vectors.
func RandomVectors(rng *rand.Rand, n int) []r3.Vec {
	vectors := make([]r3.Vec, n)
	for ii := range vectors {
		vectors[ii] = r3.Vec{X: rng.NormFloat64(), Y: rng.NormFloat64(), Z: rng.NormFloat64()}
	}
	return vectors
}

// RandomEdges returns numEdges random edges with centers in [0, numCenters) and neighbors in [0, numNeighbors).
func RandomEdges(rng *rand.Rand, numCenters, numNeighbors, numEdges int) graphs.EdgeIndex {
	edges := graphs.EdgeIndex{Centers: make([]int, numEdges), Neighbors: make([]int, numEdges)}
	for ii := range numEdges {
		edges.Centers[ii] = rng.IntN(numCenters)
		edges.Neighbors[ii] = rng.IntN(numNeighbors)
	}
	return edges
}

// RotateRows returns x · repᵀ: each row of x transformed by the representation matrix.
func RotateRows(x mat.Matrix, rep mat.Matrix) *mat.Dense {
	var rotated mat.Dense
	rotated.Mul(x, rep.T())
	return &rotated
}

// RotateFeatures returns the features x, of type r repeated groups times, rotated by angles.
func RotateFeatures(x mat.Matrix, r rs.Rs, groups int, angles o3.Angles) *mat.Dense {
	return RotateRows(x, rs.Rep(r.Repeat(groups), angles))
}

// SliceColumns returns a copy of the columns [from, to) of x.
func SliceColumns(x *mat.Dense, from, to int) *mat.Dense {
	rows, _ := x.Dims()
	sliced := mat.NewDense(rows, to-from, nil)
	sliced.Copy(x.Slice(0, rows, from, to))
	return sliced
}

// ConcatColumns concatenates matrices with the same number of rows horizontally.
func ConcatColumns(parts ...*mat.Dense) *mat.Dense {
	rows, _ := parts[0].Dims()
	cols := 0
	for _, p := range parts {
		_, c := p.Dims()
		cols += c
	}
	out := mat.NewDense(rows, cols, nil)
	offset := 0
	for _, p := range parts {
		_, c := p.Dims()
		out.Slice(0, rows, offset, offset+c).(*mat.Dense).Copy(p)
		offset += c
	}
	return out
}
