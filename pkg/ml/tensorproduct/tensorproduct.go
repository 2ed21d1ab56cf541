// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensorproduct implements the weighted tensor product of two feature vectors: every pair of irreps
// (one from each input) is coupled with Clebsch-Gordan bases into every output irrep allowed by the selection
// rule, and the copies are mixed with learned weights.
package tensorproduct

import (
	"math"

	"github.com/gomlx/e3nn/pkg/core/o3"
	"github.com/gomlx/e3nn/pkg/core/rs"
	"github.com/gomlx/exceptions"
)

// Path couples Rs1[I1] and Rs2[I2] into RsOut[IOut]. Its weights are a row-major [MulOut, Mul1, Mul2] block
// starting at WeightOffset.
type Path struct {
	I1, I2, IOut int
	WeightOffset int
	cg           *o3.CG
}

// Weighted tensor product from Rs1 ⊗ Rs2 to RsOut.
//
// The weights are not owned by Weighted: they are given to Apply, so the same product can be used with
// weights that depend on the edge (as in WTPConv).
type Weighted struct {
	rs1, rs2, rsOut rs.Rs
	paths           []Path
	numWeights      int
	normalization   []float64
}

// New creates the weighted tensor product of rs1 ⊗ rs2 into rsOut, with all the paths allowed by the selection
// rule. It panics if there are none.
func New(rs1, rs2, rsOut rs.Rs) *Weighted {
	for _, r := range []rs.Rs{rs1, rs2, rsOut} {
		r.AssertValid()
	}
	tp := &Weighted{
		rs1:           append(rs.Rs(nil), rs1...),
		rs2:           append(rs.Rs(nil), rs2...),
		rsOut:         append(rs.Rs(nil), rsOut...),
		normalization: make([]float64, len(rsOut)),
	}
	for iOut, irOut := range rsOut {
		fanIn := 0
		for i1, ir1 := range rs1 {
			for i2, ir2 := range rs2 {
				if irOut.Mul == 0 || ir1.Mul == 0 || ir2.Mul == 0 {
					continue
				}
				if !o3.SelectionRule(irOut.L, irOut.P, ir1.L, ir1.P, ir2.L, ir2.P) {
					continue
				}
				tp.paths = append(tp.paths, Path{
					I1: i1, I2: i2, IOut: iOut,
					WeightOffset: tp.numWeights,
					cg:           o3.ClebschGordan(irOut.L, ir1.L, ir2.L),
				})
				tp.numWeights += irOut.Mul * ir1.Mul * ir2.Mul
				fanIn += ir1.Mul * ir2.Mul
			}
		}
		if fanIn > 0 {
			tp.normalization[iOut] = 1 / math.Sqrt(float64(fanIn))
		}
	}
	if len(tp.paths) == 0 {
		exceptions.Panicf("tensorproduct.New: no path from %q ⊗ %q to %q", rs1, rs2, rsOut)
	}
	return tp
}

// Rs1 returns the feature type of the first input.
func (tp *Weighted) Rs1() rs.Rs { return tp.rs1 }

// Rs2 returns the feature type of the second input.
func (tp *Weighted) Rs2() rs.Rs { return tp.rs2 }

// RsOut returns the feature type of the output.
func (tp *Weighted) RsOut() rs.Rs { return tp.rsOut }

// Paths of the product. The returned slice must not be modified.
func (tp *Weighted) Paths() []Path { return tp.paths }

// NumWeights returns the number of weights expected by Apply.
func (tp *Weighted) NumWeights() int { return tp.numWeights }

// Apply adds the tensor product of x1 and x2 with the given weights to out.
func (tp *Weighted) Apply(x1, x2, weights, out []float64) {
	if len(x1) != tp.rs1.Dim() || len(x2) != tp.rs2.Dim() || len(out) != tp.rsOut.Dim() {
		exceptions.Panicf("dimension mismatch: tensor product %q ⊗ %q -> %q got inputs of dimensions %d and %d, "+
			"and output of dimension %d", tp.rs1, tp.rs2, tp.rsOut, len(x1), len(x2), len(out))
	}
	if len(weights) != tp.numWeights {
		exceptions.Panicf("tensorproduct: expected %d weights, got %d", tp.numWeights, len(weights))
	}
	offsets1, offsets2, offsetsOut := tp.rs1.Offsets(), tp.rs2.Offsets(), tp.rsOut.Offsets()
	var coupled []float64
	for _, path := range tp.paths {
		ir1, ir2, irOut := tp.rs1[path.I1], tp.rs2[path.I2], tp.rsOut[path.IOut]
		dim1, dim2, dimOut := 2*ir1.L+1, 2*ir2.L+1, 2*irOut.L+1
		if cap(coupled) < dimOut {
			coupled = make([]float64, dimOut)
		}
		coupled = coupled[:dimOut]
		norm := tp.normalization[path.IOut]
		for v := range ir1.Mul {
			a := x1[offsets1[path.I1]+v*dim1 : offsets1[path.I1]+(v+1)*dim1]
			for w := range ir2.Mul {
				b := x2[offsets2[path.I2]+w*dim2 : offsets2[path.I2]+(w+1)*dim2]
				// coupled[i] = Σ_jk Q[i,j,k]·a[j]·b[k]
				clear(coupled)
				for i := range dimOut {
					var sum float64
					for j, aj := range a {
						if aj == 0 {
							continue
						}
						row := path.cg.Data[(i*dim1+j)*dim2 : (i*dim1+j+1)*dim2]
						for k, q := range row {
							sum += q * aj * b[k]
						}
					}
					coupled[i] = sum
				}
				for u := range irOut.Mul {
					weight := norm * weights[path.WeightOffset+(u*ir1.Mul+v)*ir2.Mul+w]
					if weight == 0 {
						continue
					}
					dst := out[offsetsOut[path.IOut]+u*dimOut : offsetsOut[path.IOut]+(u+1)*dimOut]
					for i, c := range coupled {
						dst[i] += weight * c
					}
				}
			}
		}
	}
}
