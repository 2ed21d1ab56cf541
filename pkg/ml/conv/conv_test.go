// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package conv

import (
	"fmt"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/gomlx/e3nn/internal/equivtest"
	"github.com/gomlx/e3nn/internal/workerspool"
	"github.com/gomlx/e3nn/pkg/core/graphs"
	"github.com/gomlx/e3nn/pkg/core/o3"
	"github.com/gomlx/e3nn/pkg/core/rs"
	"github.com/gomlx/e3nn/pkg/metrics"
	"github.com/gomlx/e3nn/pkg/ml/kernel"
	"github.com/gomlx/e3nn/pkg/ml/radial"
	"github.com/gomlx/exceptions"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// rotateVectors returns the edge vectors rotated by angles.
func rotateVectors(angles o3.Angles, vectors []r3.Vec) []r3.Vec {
	return o3.RotateVectors(angles, vectors)
}

func TestEquivariance(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 0))
	rsIn, rsOut := rs.L(1), rs.L(2)
	const groups = 4
	for _, nSource := range []int{2, 3} {
		for _, nTarget := range []int{1, 3} {
			for _, nEdge := range []int{0, 3} {
				name := fmt.Sprintf("source=%d,target=%d,edges=%d", nSource, nTarget, nEdge)
				t.Run(name, func(t *testing.T) {
					mp := NewConvolution(kernel.New(rsIn, rsOut, radial.Constant, rng))
					mpGroup := NewConvolution(kernel.NewGroup(groups, rsIn, rsOut, radial.Constant, rng))

					features := rs.Randn(rng, nTarget, rsIn)
					features2 := rs.Randn(rng, nTarget, rsIn.Repeat(groups))
					edges := equivtest.RandomEdges(rng, nSource, nTarget, nEdge)
					size := graphs.Size{Centers: nSource, Neighbors: nTarget}
					edgeVectors := equivtest.RandomVectors(rng, nEdge)

					out1 := mp.Forward(features, edges, edgeVectors).Size(size).Done()
					out1Groups := mp.Forward(features2, edges, edgeVectors).Size(size).Groups(groups).Done()
					out1KernelGroups := mpGroup.Forward(features2, edges, edgeVectors).Size(size).Groups(groups).Done()

					angles := o3.RandAngles(rng)
					rotated := rotateVectors(angles, edgeVectors)
					out2 := mp.Forward(equivtest.RotateFeatures(features, rsIn, 1, angles), edges, rotated).
						Size(size).Done()
					out2Groups := mp.Forward(equivtest.RotateFeatures(features2, rsIn, groups, angles), edges, rotated).
						Size(size).Groups(groups).Done()
					out2KernelGroups := mpGroup.Forward(equivtest.RotateFeatures(features2, rsIn, groups, angles), edges, rotated).
						Size(size).Groups(groups).Done()

					// Rotating the inputs rotates the outputs.
					equivtest.RequireInDelta(t, equivtest.RotateFeatures(out1, rsOut, 1, angles), out2, 1e-10)
					equivtest.RequireInDelta(t, equivtest.RotateFeatures(out1Groups, rsOut, groups, angles), out2Groups, 1e-10)
					equivtest.RequireInDelta(t, equivtest.RotateFeatures(out1KernelGroups, rsOut, groups, angles), out2KernelGroups, 1e-10)
				})
			}
		}
	}
}

func TestEquivarianceWTP(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 1))
	rsIn, rsOut := rs.L(1), rs.L(2)
	for _, nSource := range []int{2, 3} {
		for _, nTarget := range []int{1, 3} {
			for _, nEdge := range []int{0, 3} {
				name := fmt.Sprintf("source=%d,target=%d,edges=%d", nSource, nTarget, nEdge)
				t.Run(name, func(t *testing.T) {
					mp := NewWTPConv(rsIn, rsOut, 3, radial.Constant, rng)
					features := rs.Randn(rng, nTarget, rsIn)
					edges := equivtest.RandomEdges(rng, nSource, nTarget, nEdge)
					size := graphs.Size{Centers: nSource, Neighbors: nTarget}
					edgeVectors := equivtest.RandomVectors(rng, nEdge)
					if nEdge > 1 {
						edgeVectors[0] = r3.Vec{}
					}

					out1 := mp.Apply(features, edges, edgeVectors, &size)
					for _, v := range out1.RawMatrix().Data {
						require.False(t, math.IsNaN(v) || math.IsInf(v, 0), "invalid value in output")
					}

					angles := o3.RandAngles(rng)
					out2 := mp.Apply(equivtest.RotateFeatures(features, rsIn, 1, angles), edges,
						rotateVectors(angles, edgeVectors), &size)
					equivtest.RequireInDelta(t, equivtest.RotateFeatures(out1, rsOut, 1, angles), out2, 1e-10)
				})
			}
		}
	}
}

func TestFlow(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 2))
	features := mat.NewDense(5, 1, []float64{-1, 1, 1, 1, 1})
	edgeVectors := []r3.Vec{{X: 1, Y: 1, Z: 1}, {X: 1, Y: 1, Z: 1}, {X: 1, Y: 1, Z: 1}, {X: 1, Y: 1, Z: 1}}

	k := kernel.New(rs.L(0), rs.L(0), radial.Constant, rng)
	radial.Fill(k.Radial(), 1)
	conv := NewConvolution(k)

	// Row 0 are the centers, pulling the features of the neighbors in row 1.
	edges := graphs.FromRows([2][]int{{0, 0, 0, 0}, {1, 2, 3, 4}})
	output := conv.Forward(features, edges, edgeVectors).Done()
	assert.Equal(t, []float64{4, 0, 0, 0, 0}, output.RawMatrix().Data)

	output = conv.Forward(features, edges.Reversed(), edgeVectors).Done()
	assert.Equal(t, []float64{0, -1, -1, -1, -1}, output.RawMatrix().Data)
}

func TestGroupsEqualLooped(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 3))
	rsIn, rsOut := rs.MustParse("1x0e + 1x1o"), rs.MustParse("2x1o + 1x2e")
	const groups, numNodes, numEdges = 3, 6, 20
	dimIn, dimOut := rsIn.Dim(), rsOut.Dim()
	factory := radial.Gaussian().NumBases(4).MaxRadius(2).NumHiddenLayers(1, 8).Factory()

	flat := kernel.New(rsIn, rsOut, factory, rng)
	grouped := kernel.NewGroup(groups, rsIn, rsOut, factory, rng)
	features := rs.Randn(rng, numNodes, rsIn.Repeat(groups))
	edges := equivtest.RandomEdges(rng, numNodes, numNodes, numEdges)
	edgeVectors := equivtest.RandomVectors(rng, numEdges)

	gotFlat := NewConvolution(flat).Apply(features, edges, edgeVectors, nil, groups)
	gotGrouped := NewConvolution(grouped).Apply(features, edges, edgeVectors, nil, groups)

	var wantFlat, wantGrouped []*mat.Dense
	for g := range groups {
		slice := equivtest.SliceColumns(features, g*dimIn, (g+1)*dimIn)
		wantFlat = append(wantFlat, NewConvolution(flat).Apply(slice, edges, edgeVectors, nil, 1))
		wantGrouped = append(wantGrouped, NewConvolution(grouped.Kernel(g)).Apply(slice, edges, edgeVectors, nil, 1))
	}
	equivtest.RequireInDelta(t, equivtest.ConcatColumns(wantFlat...), gotFlat, 1e-12)
	equivtest.RequireInDelta(t, equivtest.ConcatColumns(wantGrouped...), gotGrouped, 1e-12)
	rows, cols := gotGrouped.Dims()
	assert.Equal(t, []int{numNodes, groups * dimOut}, []int{rows, cols})
}

func TestParallelMatchesSequential(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 4))
	rsIn, rsOut := rs.MustParse("2x0e + 1x1o"), rs.MustParse("1x0e + 1x1o")
	k := kernel.New(rsIn, rsOut, radial.Constant, rng)
	const numNodes, numEdges = 50, 1000
	features := rs.Randn(rng, numNodes, rsIn)
	edges := equivtest.RandomEdges(rng, numNodes, numNodes, numEdges)
	edgeVectors := equivtest.RandomVectors(rng, numEdges)

	sequential := workerspool.New()
	sequential.SetMaxParallelism(0)
	parallel := workerspool.New()
	parallel.SetMaxParallelism(4)

	want := NewConvolution(k).WithPool(sequential).Apply(features, edges, edgeVectors, nil, 1)
	got := NewConvolution(k).WithPool(parallel).Apply(features, edges, edgeVectors, nil, 1)
	equivtest.RequireInDelta(t, want, got, 1e-12)
}

func TestBackendMatchesHostSum(t *testing.T) {
	backend, err := DefaultBackend()
	require.NoError(t, err)
	require.NotNil(t, backend)

	rng := rand.New(rand.NewPCG(42, 5))
	rsIn, rsOut := rs.MustParse("2x0e + 1x1o"), rs.MustParse("1x0e + 1x1o + 1x2e")
	const groups, numCenters, numNeighbors, numEdges = 2, 7, 5, 40
	k := kernel.NewGroup(groups, rsIn, rsOut, radial.Constant, rng)
	features := rs.Randn(rng, numNeighbors, rsIn.Repeat(groups))
	edges := equivtest.RandomEdges(rng, numCenters, numNeighbors, numEdges)
	edgeVectors := equivtest.RandomVectors(rng, numEdges)
	got := NewConvolution(k).WithBackend(backend).
		Apply(features, edges, edgeVectors, &graphs.Size{Centers: numCenters, Neighbors: numNeighbors}, groups)

	// Sum of K_g(r_e) · x_g[Neighbors[e]] into the row of Centers[e].
	dimIn, dimOut := rsIn.Dim(), rsOut.Dim()
	want := mat.NewDense(numCenters, groups*dimOut, nil)
	for e, center := range edges.Centers {
		for g, op := range k.Operators(edgeVectors[e]) {
			x := mat.NewVecDense(dimIn, features.RawRowView(edges.Neighbors[e])[g*dimIn:(g+1)*dimIn])
			var message mat.VecDense
			message.MulVec(op, x)
			for i := range dimOut {
				want.Set(center, g*dimOut+i, want.At(center, g*dimOut+i)+message.AtVec(i))
			}
		}
	}
	equivtest.RequireInDelta(t, want, got, 1e-12)
}

func TestErrors(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 5))
	conv := NewConvolution(kernel.New(rs.L(1), rs.L(1), radial.Constant, rng))
	features := rs.Randn(rng, 3, rs.L(2))
	edges := graphs.FromRows([2][]int{{0}, {1}})
	vectors := []r3.Vec{{X: 1}}

	err := exceptions.TryCatch[error](func() { conv.Apply(features, edges, vectors, nil, 1) })
	require.ErrorContains(t, err, "dimension mismatch")

	features = rs.Randn(rng, 3, rs.L(1))
	err = exceptions.TryCatch[error](func() { conv.Apply(features, edges, vectors[:0], nil, 1) })
	require.ErrorContains(t, err, "edge vectors")

	err = exceptions.TryCatch[error](func() {
		conv.Apply(features, graphs.FromRows([2][]int{{0}, {3}}), vectors, nil, 1)
	})
	require.ErrorContains(t, err, "out of range")

	grouped := NewConvolution(kernel.NewGroup(2, rs.L(1), rs.L(1), radial.Constant, rng))
	err = exceptions.TryCatch[error](func() {
		grouped.Apply(rs.Randn(rng, 3, rs.L(1).Repeat(3)), edges, vectors, nil, 3)
	})
	require.Error(t, err)

	wtp := NewWTPConv(rs.L(1), rs.L(1), 2, radial.Constant, rng)
	err = exceptions.TryCatch[error](func() { wtp.Forward(features, edges, vectors).Groups(2).Done() })
	require.ErrorContains(t, err, "groups")
}

func TestMetrics(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 6))
	conv := NewConvolution(kernel.New(rs.L(0), rs.L(0), radial.Constant, rng))
	counter := metrics.ConvolutionEdges.WithLabelValues(metrics.LayerConvolution)
	before := testutil.ToFloat64(counter)
	conv.Apply(mat.NewDense(2, 1, []float64{1, 2}), graphs.FromRows([2][]int{{0, 1, 1}, {1, 0, 1}}),
		[]r3.Vec{{X: 1}, {Y: 1}, {Z: 1}}, nil, 1)
	assert.Equal(t, before+3, testutil.ToFloat64(counter))
}
