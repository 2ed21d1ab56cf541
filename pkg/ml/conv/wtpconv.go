// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package conv

import (
	"math/rand/v2"

	"github.com/gomlx/e3nn/internal/workerspool"
	"github.com/gomlx/e3nn/pkg/core/graphs"
	"github.com/gomlx/e3nn/pkg/core/o3"
	"github.com/gomlx/e3nn/pkg/core/rs"
	"github.com/gomlx/e3nn/pkg/metrics"
	"github.com/gomlx/e3nn/pkg/ml/radial"
	"github.com/gomlx/e3nn/pkg/ml/tensorproduct"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// WTPConv is a weighted tensor product convolution: the message of an edge with vector r is the tensor product
// of the neighbor features with the spherical harmonics Y(r) up to degree LMax, weighted by a radial model of |r|.
//
// Y_l(0) is 0 for l > 0, so zero edge vectors only carry the scalar part of the filter.
type WTPConv struct {
	rsIn, rsOut, rsSH rs.Rs
	lMax              int
	tp                *tensorproduct.Weighted
	radial            radial.Model
	pool              *workerspool.Pool
	graphBackend      backends.Backend
}

// NewWTPConv creates a weighted tensor product convolution from rsIn to rsOut, with a filter made of the spherical
// harmonics of degrees 0 to lMax. The radial model is created by factory (with rng) with one output per weight
// of the tensor product.
func NewWTPConv(rsIn, rsOut rs.Rs, lMax int, factory radial.Factory, rng *rand.Rand) *WTPConv {
	if lMax < 0 {
		exceptions.Panicf("conv.NewWTPConv: lMax must be >= 0, got %d", lMax)
	}
	c := &WTPConv{
		rsIn:  rsIn,
		rsOut: rsOut,
		rsSH:  rs.SphericalHarmonics(lMax),
		lMax:  lMax,
		pool:  workerspool.Default,
	}
	c.tp = tensorproduct.New(rsIn, c.rsSH, rsOut)
	c.radial = factory(c.tp.NumWeights(), rng)
	if c.radial.NumOutputs() != c.tp.NumWeights() {
		exceptions.Panicf("conv.NewWTPConv: radial model has %d outputs, but the tensor product has %d weights",
			c.radial.NumOutputs(), c.tp.NumWeights())
	}
	return c
}

// WithPool sets the pool used to parallelize the computation of the messages. The default is workerspool.Default.
func (c *WTPConv) WithPool(pool *workerspool.Pool) *WTPConv {
	c.pool = pool
	return c
}

// WithBackend sets the backend that sums the messages. The default is DefaultBackend.
func (c *WTPConv) WithBackend(backend backends.Backend) *WTPConv {
	c.graphBackend = backend
	return c
}

func (c *WTPConv) backend() backends.Backend {
	if c.graphBackend != nil {
		return c.graphBackend
	}
	return mustDefaultBackend()
}

// RsIn returns the input feature type.
func (c *WTPConv) RsIn() rs.Rs { return c.rsIn }

// RsOut returns the output feature type.
func (c *WTPConv) RsOut() rs.Rs { return c.rsOut }

// RsSH returns the feature type of the filter: one copy of each degree 0..lMax, with parity (-1)^l.
func (c *WTPConv) RsSH() rs.Rs { return c.rsSH }

// TensorProduct returns the weighted tensor product used to compute the messages.
func (c *WTPConv) TensorProduct() *tensorproduct.Weighted { return c.tp }

// Radial returns the radial model providing the weights of the tensor product.
func (c *WTPConv) Radial() radial.Model { return c.radial }

// Forward starts the configuration of a forward call. Call Builder.Done to run it.
// WTPConv doesn't support groups.
func (c *WTPConv) Forward(features *mat.Dense, edges graphs.EdgeIndex, edgeVectors []r3.Vec) *Builder {
	return &Builder{layer: c, features: features, edges: edges, edgeVectors: edgeVectors}
}

// Apply is the direct form of Forward(...).Size(*size).Done(). A nil size selects the default.
func (c *WTPConv) Apply(features *mat.Dense, edges graphs.EdgeIndex, edgeVectors []r3.Vec, size *graphs.Size) *mat.Dense {
	return run(c, features, edges, edgeVectors, size, 1)
}

func (c *WTPConv) defaultGroups() int { return 1 }

func (c *WTPConv) apply(features *mat.Dense, edges graphs.EdgeIndex, edgeVectors []r3.Vec, size graphs.Size, groups int) *mat.Dense {
	if groups != 1 {
		exceptions.Panicf("conv.WTPConv doesn't support groups, got groups=%d", groups)
	}
	rs.CheckFeatures(features, c.rsIn, 1)
	metrics.ConvolutionEdges.WithLabelValues(metrics.LayerWTPConv).Add(float64(edges.Len()))
	numWeights, dimOut := c.tp.NumWeights(), c.rsOut.Dim()
	messages := perEdge(c.pool, edges.Len(), dimOut, func(e int, message []float64) {
		r := edgeVectors[e]
		weights := make([]float64, numWeights)
		c.radial.Eval(r3.Norm(r), weights)
		c.tp.Apply(features.RawRowView(edges.Neighbors[e]), o3.SphericalHarmonicsUpTo(c.lMax, r), weights, message)
	})
	return scatterMessages(c.backend(), edges, messages, size.Centers, dimOut)
}
