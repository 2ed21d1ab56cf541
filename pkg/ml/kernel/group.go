// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernel

import (
	"math/rand/v2"

	"github.com/gomlx/e3nn/pkg/core/rs"
	"github.com/gomlx/e3nn/pkg/ml/radial"
	"github.com/gomlx/exceptions"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// GroupKernel holds one independent Kernel per group of channels, all with the same feature types.
type GroupKernel struct {
	kernels []*Kernel
}

var _ EdgeKernel = (*GroupKernel)(nil)

// NewGroup creates a GroupKernel with groups kernels from rsIn to rsOut, each with its own radial model.
func NewGroup(groups int, rsIn, rsOut rs.Rs, factory radial.Factory, rng *rand.Rand) *GroupKernel {
	if groups <= 0 {
		exceptions.Panicf("kernel.NewGroup: groups must be > 0, got %d", groups)
	}
	kernels := make([]*Kernel, groups)
	for g := range kernels {
		kernels[g] = New(rsIn, rsOut, factory, rng)
	}
	return &GroupKernel{kernels: kernels}
}

// GroupOf creates a GroupKernel from existing kernels, one per group. They must all have the same
// feature types.
func GroupOf(kernels ...*Kernel) *GroupKernel {
	if len(kernels) == 0 {
		exceptions.Panicf("kernel.GroupOf: at least one kernel is required")
	}
	for g, k := range kernels[1:] {
		if !k.RsIn().Equal(kernels[0].RsIn()) || !k.RsOut().Equal(kernels[0].RsOut()) {
			exceptions.Panicf("kernel.GroupOf: kernel #%d maps %q -> %q, but kernel #0 maps %q -> %q",
				g+1, k.RsIn(), k.RsOut(), kernels[0].RsIn(), kernels[0].RsOut())
		}
	}
	return &GroupKernel{kernels: append([]*Kernel(nil), kernels...)}
}

// RsIn implements EdgeKernel.
func (gk *GroupKernel) RsIn() rs.Rs { return gk.kernels[0].RsIn() }

// RsOut implements EdgeKernel.
func (gk *GroupKernel) RsOut() rs.Rs { return gk.kernels[0].RsOut() }

// Groups implements EdgeKernel.
func (gk *GroupKernel) Groups() int { return len(gk.kernels) }

// Kernel returns the kernel of group g.
func (gk *GroupKernel) Kernel(g int) *Kernel { return gk.kernels[g] }

// Operators implements EdgeKernel.
func (gk *GroupKernel) Operators(r r3.Vec) []*mat.Dense {
	ops := make([]*mat.Dense, len(gk.kernels))
	for g, k := range gk.kernels {
		ops[g] = k.Operator(r)
	}
	return ops
}

// BlockOperator returns the block-diagonal operator of all groups, shaped
// [groups·RsOut.Dim() × groups·RsIn.Dim()]. For kernels with a single operator shared by all groups, pass
// the number of groups to repeat it.
func BlockOperator(k EdgeKernel, r r3.Vec, groups int) *mat.Dense {
	ops := k.Operators(r)
	if len(ops) != 1 && len(ops) != groups {
		exceptions.Panicf("kernel.BlockOperator: kernel has %d groups, can't build operator for %d groups",
			len(ops), groups)
	}
	dimOut, dimIn := k.RsOut().Dim(), k.RsIn().Dim()
	block := mat.NewDense(groups*dimOut, groups*dimIn, nil)
	for g := range groups {
		op := ops[0]
		if len(ops) > 1 {
			op = ops[g]
		}
		block.Slice(g*dimOut, (g+1)*dimOut, g*dimIn, (g+1)*dimIn).(*mat.Dense).Copy(op)
	}
	return block
}
