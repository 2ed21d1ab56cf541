// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package conv implements equivariant message passing layers over point clouds.
//
// Both layers take node features shaped [numNodes × dim], an EdgeIndex and one edge vector per edge. The
// message of edge e is computed from the features of Neighbors[e] and from edgeVectors[e], and it is added to
// the output row Centers[e] (see package graphs for the edge convention). Nodes without incoming edges get
// zero rows.
//
// Layers are equivariant: rotating the input features with D_in and the edge vectors with R rotates the
// output features with D_out.
package conv

import (
	"github.com/gomlx/e3nn/internal/workerspool"
	"github.com/gomlx/e3nn/pkg/core/graphs"
	"github.com/gomlx/e3nn/pkg/core/rs"
	"github.com/gomlx/e3nn/pkg/metrics"
	"github.com/gomlx/e3nn/pkg/ml/kernel"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// layer is implemented by Convolution and WTPConv.
type layer interface {
	apply(features *mat.Dense, edges graphs.EdgeIndex, edgeVectors []r3.Vec, size graphs.Size, groups int) *mat.Dense
	defaultGroups() int
}

// Builder configures one forward call of a layer. Create it with Convolution.Forward or WTPConv.Forward,
// optionally set Size and Groups, and call Done.
type Builder struct {
	layer       layer
	features    *mat.Dense
	edges       graphs.EdgeIndex
	edgeVectors []r3.Vec
	size        *graphs.Size
	groups      int
}

// Size sets the number of output rows (Centers) and of input feature rows (Neighbors).
//
// The default is graphs.DefaultSize: the number of feature rows, or more output rows if the edges point to centers
// beyond them.
func (b *Builder) Size(size graphs.Size) *Builder {
	b.size = &size
	return b
}

// Groups sets the number of groups of channels: the features have groups·RsIn.Dim() columns, and each group is
// convolved independently, sharing the graph.
//
// The default is 1 for a flat kernel, and the number of groups of a GroupKernel.
func (b *Builder) Groups(groups int) *Builder {
	b.groups = groups
	return b
}

// Done runs the layer and returns the output features, shaped [size.Centers × groups·RsOut.Dim()].
func (b *Builder) Done() *mat.Dense {
	groups := b.groups
	if groups == 0 {
		groups = b.layer.defaultGroups()
	}
	return run(b.layer, b.features, b.edges, b.edgeVectors, b.size, groups)
}

func run(l layer, features *mat.Dense, edges graphs.EdgeIndex, edgeVectors []r3.Vec, size *graphs.Size, groups int) *mat.Dense {
	rows, _ := features.Dims()
	s := graphs.DefaultSize(rows, edges)
	if size != nil {
		s = *size
	}
	if s.Neighbors != rows {
		exceptions.Panicf("dimension mismatch: size has %d neighbors, but features have %d rows", s.Neighbors, rows)
	}
	edges.Validate(s)
	if len(edgeVectors) != edges.Len() {
		exceptions.Panicf("dimension mismatch: %d edges but %d edge vectors", edges.Len(), len(edgeVectors))
	}
	if groups <= 0 {
		exceptions.Panicf("conv: groups must be > 0, got %d", groups)
	}
	return l.apply(features, edges, edgeVectors, s, groups)
}

// Convolution is a message passing layer whose messages are K(r)·x[neighbor], with K an equivariant edge kernel.
type Convolution struct {
	kernel       kernel.EdgeKernel
	pool         *workerspool.Pool
	graphBackend backends.Backend
}

// NewConvolution creates a convolution with the given kernel.
//
// With a flat kernel (kernel.Kernel) the same operator is applied to all groups of channels. With a
// kernel.GroupKernel, each group uses its own operator, and the number of groups must match.
func NewConvolution(k kernel.EdgeKernel) *Convolution {
	return &Convolution{kernel: k, pool: workerspool.Default}
}

// WithPool sets the pool used to parallelize the computation of the edge operators. The default is workerspool.Default.
func (c *Convolution) WithPool(pool *workerspool.Pool) *Convolution {
	c.pool = pool
	return c
}

// WithBackend sets the backend that gathers the features and sums the messages. The default is DefaultBackend.
func (c *Convolution) WithBackend(backend backends.Backend) *Convolution {
	c.graphBackend = backend
	return c
}

func (c *Convolution) backend() backends.Backend {
	if c.graphBackend != nil {
		return c.graphBackend
	}
	return mustDefaultBackend()
}

// Kernel returns the edge kernel of the convolution.
func (c *Convolution) Kernel() kernel.EdgeKernel { return c.kernel }

// RsIn returns the input type of one group of channels.
func (c *Convolution) RsIn() rs.Rs { return c.kernel.RsIn() }

// RsOut returns the output type of one group of channels.
func (c *Convolution) RsOut() rs.Rs { return c.kernel.RsOut() }

// Forward starts the configuration of a forward call. Call Builder.Done to run it.
func (c *Convolution) Forward(features *mat.Dense, edges graphs.EdgeIndex, edgeVectors []r3.Vec) *Builder {
	return &Builder{layer: c, features: features, edges: edges, edgeVectors: edgeVectors}
}

// Apply is the direct form of Forward(...).Size(*size).Groups(groups).Done(). A nil size selects the default.
func (c *Convolution) Apply(features *mat.Dense, edges graphs.EdgeIndex, edgeVectors []r3.Vec, size *graphs.Size, groups int) *mat.Dense {
	return run(c, features, edges, edgeVectors, size, groups)
}

func (c *Convolution) defaultGroups() int { return c.kernel.Groups() }

func (c *Convolution) apply(features *mat.Dense, edges graphs.EdgeIndex, edgeVectors []r3.Vec, size graphs.Size, groups int) *mat.Dense {
	rsIn, rsOut := c.kernel.RsIn(), c.kernel.RsOut()
	rs.CheckFeatures(features, rsIn, groups)
	if kernelGroups := c.kernel.Groups(); kernelGroups != 1 && kernelGroups != groups {
		exceptions.Panicf("conv.Convolution: kernel has %d groups, but the convolution was called with groups=%d",
			kernelGroups, groups)
	}
	dimIn, dimOut := rsIn.Dim(), rsOut.Dim()
	metrics.ConvolutionEdges.WithLabelValues(metrics.LayerConvolution).Add(float64(edges.Len()))

	// Operators of each edge and group on the host, then the gather, products and scatter-sum on the backend.
	blockSize := dimOut * dimIn
	operators := perEdge(c.pool, edges.Len(), groups*blockSize, func(e int, values []float64) {
		ops := c.kernel.Operators(edgeVectors[e])
		for g := range groups {
			op := ops[0]
			if len(ops) > 1 {
				op = ops[g]
			}
			block := values[g*blockSize : (g+1)*blockSize]
			for i := range dimOut {
				copy(block[i*dimIn:(i+1)*dimIn], op.RawRowView(i))
			}
		}
	})
	return transportMessages(c.backend(), features, edges, operators, size.Centers, groups, dimIn, dimOut)
}
