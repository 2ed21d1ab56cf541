// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package conv

import (
	"sync"

	"github.com/gomlx/e3nn/internal/workerspool"
	"github.com/gomlx/e3nn/pkg/core/graphs"
	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/simplego"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// BackendConfig is the configuration of the default backend used to gather features and scatter-sum messages:
// the pure Go backend, which computes in float64.
const BackendConfig = "go"

var (
	defaultBackendOnce sync.Once
	defaultBackend     backends.Backend
	defaultBackendErr  error
)

// DefaultBackend returns the backend shared by all layers that don't set one with WithBackend.
func DefaultBackend() (backends.Backend, error) {
	defaultBackendOnce.Do(func() {
		defaultBackend, defaultBackendErr = backends.NewWithConfig(BackendConfig)
		if defaultBackendErr != nil {
			defaultBackendErr = errors.WithMessagef(defaultBackendErr, "conv: failed to create backend %q", BackendConfig)
		}
	})
	return defaultBackend, defaultBackendErr
}

func mustDefaultBackend() backends.Backend {
	backend, err := DefaultBackend()
	if err != nil {
		panic(err)
	}
	return backend
}

// minEdgesPerChunk is the smallest number of edges handled by one worker.
const minEdgesPerChunk = 64

// edgeIndices returns the centers and the neighbors of the edges as [numEdges × 1] index tensors.
func edgeIndices(edges graphs.EdgeIndex) (centers, neighbors *tensors.Tensor) {
	toIndices := func(nodes []int) *tensors.Tensor {
		indices := make([]int32, len(nodes))
		for ii, node := range nodes {
			indices[ii] = int32(node)
		}
		return tensors.FromFlatDataAndDimensions(indices, len(nodes), 1)
	}
	return toIndices(edges.Centers), toIndices(edges.Neighbors)
}

// zeroOutput returns the output of layers when there is nothing to scatter.
func zeroOutput(numCenters, dimOut int) *mat.Dense {
	if numCenters == 0 || dimOut == 0 {
		return &mat.Dense{}
	}
	return mat.NewDense(numCenters, dimOut, nil)
}

// flatRows returns the rows of x concatenated.
func flatRows(x *mat.Dense) []float64 {
	raw := x.RawMatrix()
	if raw.Stride == raw.Cols {
		return raw.Data[:raw.Rows*raw.Cols]
	}
	flat := make([]float64, 0, raw.Rows*raw.Cols)
	for row := range raw.Rows {
		flat = append(flat, x.RawRowView(row)...)
	}
	return flat
}

// transportMessages computes messages = operators[e] · features[Neighbors[e]] for every edge and group, and sums
// them into the rows of their centers.
//
// features is [numNeighbors × groups·dimIn] and operators holds [groups × dimOut × dimIn] values per edge. The
// result is [numCenters × groups·dimOut].
func transportMessages(backend backends.Backend, features *mat.Dense, edges graphs.EdgeIndex, operators []float64,
	numCenters, groups, dimIn, dimOut int) *mat.Dense {
	numEdges := edges.Len()
	if numEdges == 0 || numCenters == 0 || dimOut == 0 || dimIn == 0 {
		return zeroOutput(numCenters, groups*dimOut)
	}
	numNeighbors, _ := features.Dims()
	centers, neighbors := edgeIndices(edges)
	output, err := graph.ExecOnce(backend, func(x, neighbors, centers, operators, initial *graph.Node) *graph.Node {
		gathered := graph.Gather(x, neighbors)                         // [numEdges, groups, dimIn]
		messages := graph.Einsum("egoi,egi->ego", operators, gathered) // [numEdges, groups, dimOut]
		return graph.ScatterSum(initial, centers, graph.Reshape(messages, numEdges, groups*dimOut), false, false)
	},
		tensors.FromFlatDataAndDimensions(flatRows(features), numNeighbors, groups, dimIn),
		neighbors, centers,
		tensors.FromFlatDataAndDimensions(operators, numEdges, groups, dimOut, dimIn),
		tensors.FromFlatDataAndDimensions(make([]float64, numCenters*groups*dimOut), numCenters, groups*dimOut))
	if err != nil {
		panic(errors.WithMessage(err, "conv: failed to transport messages"))
	}
	return mat.NewDense(numCenters, groups*dimOut, tensors.MustCopyFlatData[float64](output))
}

// scatterMessages sums the messages ([numEdges × dimOut], flat) into the rows of their centers.
func scatterMessages(backend backends.Backend, edges graphs.EdgeIndex, messages []float64, numCenters, dimOut int) *mat.Dense {
	numEdges := edges.Len()
	if numEdges == 0 || numCenters == 0 || dimOut == 0 {
		return zeroOutput(numCenters, dimOut)
	}
	centers, _ := edgeIndices(edges)
	output, err := graph.ExecOnce(backend, func(messages, centers, initial *graph.Node) *graph.Node {
		return graph.ScatterSum(initial, centers, messages, false, false)
	},
		tensors.FromFlatDataAndDimensions(messages, numEdges, dimOut),
		centers,
		tensors.FromFlatDataAndDimensions(make([]float64, numCenters*dimOut), numCenters, dimOut))
	if err != nil {
		panic(errors.WithMessage(err, "conv: failed to scatter messages"))
	}
	return mat.NewDense(numCenters, dimOut, tensors.MustCopyFlatData[float64](output))
}

// perEdge fills the values of every edge, blockSize values per edge, in parallel on pool.
func perEdge(pool *workerspool.Pool, numEdges, blockSize int, fill func(e int, values []float64)) []float64 {
	values := make([]float64, numEdges*blockSize)
	pool.ParallelFor(numEdges, minEdgesPerChunk, func(_ int, r workerspool.Range) {
		for e := r.Start; e < r.End; e++ {
			fill(e, values[e*blockSize:(e+1)*blockSize])
		}
	})
	return values
}
