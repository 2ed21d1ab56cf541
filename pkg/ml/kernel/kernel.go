// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package kernel implements equivariant edge kernels: functions of the edge vector r that return the linear
// operator K(r), shaped [RsOut.Dim() × RsIn.Dim()], applied to the features of a neighbor to create a message.
//
// A Kernel satisfies K(R·r) = D_out(R) · K(r) · D_in(R)ᵀ for every rotation R, and, if all its irreps have a
// parity, K(-r) = P_out · K(r) · P_in.
//
// It is built as a sum over the "paths" (output irrep, input irrep, filter degree lF) allowed by the selection
// rule, each contributing w(|r|) · Σ_k Q[i,j,k]·Y_lF^k(r̂), with Q the Clebsch-Gordan basis and w the weights
// given by a radial model.
package kernel

import (
	"math"
	"math/rand/v2"

	"github.com/gomlx/e3nn/pkg/core/o3"
	"github.com/gomlx/e3nn/pkg/core/rs"
	"github.com/gomlx/e3nn/pkg/ml/radial"
	"github.com/gomlx/exceptions"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
	"k8s.io/klog/v2"
)

// EdgeKernel is anything that provides the per-edge linear operators of a convolution.
//
// RsIn and RsOut are the feature types of one group of channels. Operators returns one [RsOut.Dim() × RsIn.Dim()]
// operator per group.
type EdgeKernel interface {
	RsIn() rs.Rs
	RsOut() rs.Rs
	Groups() int
	Operators(r r3.Vec) []*mat.Dense
}

// Path is one coupling of input irrep RsIn[IIn] with the spherical harmonics of degree LF into output irrep
// RsOut[IOut]. It uses MulOut·MulIn radial weights, starting at WeightOffset.
type Path struct {
	IOut, IIn, LF int
	WeightOffset  int
	cg            *o3.CG
}

// Kernel is an equivariant kernel with one radial model providing the weights of all its paths.
type Kernel struct {
	rsIn, rsOut rs.Rs
	paths       []Path
	radial      radial.Model

	// normalization per output irrep: 1/sqrt(number of input channels reaching it).
	normalization []float64
	lFs           []int
}

var _ EdgeKernel = (*Kernel)(nil)

// New creates a Kernel from rsIn to rsOut. The factory creates the radial model (with rng) with one output
// per path weight.
//
// It panics if no path is allowed between rsIn and rsOut.
func New(rsIn, rsOut rs.Rs, factory radial.Factory, rng *rand.Rand) *Kernel {
	rsIn.AssertValid()
	rsOut.AssertValid()
	if rsIn.Dim() == 0 || rsOut.Dim() == 0 {
		exceptions.Panicf("kernel.New: feature types must have dimension > 0, got rsIn=%q and rsOut=%q", rsIn, rsOut)
	}
	k := &Kernel{
		rsIn:          append(rs.Rs(nil), rsIn...),
		rsOut:         append(rs.Rs(nil), rsOut...),
		normalization: make([]float64, len(rsOut)),
	}
	numWeights := 0
	seenLF := make(map[int]bool)
	for iOut, irOut := range rsOut {
		fanIn := 0
		for iIn, irIn := range rsIn {
			if irOut.Mul == 0 || irIn.Mul == 0 {
				continue
			}
			for lF := abs(irOut.L - irIn.L); lF <= irOut.L+irIn.L; lF++ {
				if !o3.SelectionRule(irOut.L, irOut.P, irIn.L, irIn.P, lF, o3.Parity(lF)) {
					continue
				}
				k.paths = append(k.paths, Path{
					IOut: iOut, IIn: iIn, LF: lF,
					WeightOffset: numWeights,
					cg:           o3.ClebschGordan(irOut.L, irIn.L, lF),
				})
				numWeights += irOut.Mul * irIn.Mul
				fanIn += irIn.Mul
				if !seenLF[lF] {
					seenLF[lF] = true
					k.lFs = append(k.lFs, lF)
				}
			}
		}
		if fanIn > 0 {
			k.normalization[iOut] = 1 / math.Sqrt(float64(fanIn))
		}
	}
	if len(k.paths) == 0 {
		exceptions.Panicf("kernel.New: no equivariant path from %q to %q", rsIn, rsOut)
	}
	k.radial = factory(numWeights, rng)
	if k.radial.NumOutputs() != numWeights {
		exceptions.Panicf("kernel.New: radial model has %d outputs, but %d weights are required",
			k.radial.NumOutputs(), numWeights)
	}
	klog.V(1).Infof("kernel: %q -> %q: %d paths, %d radial weights", rsIn, rsOut, len(k.paths), numWeights)
	return k
}

// RsIn implements EdgeKernel.
func (k *Kernel) RsIn() rs.Rs { return k.rsIn }

// RsOut implements EdgeKernel.
func (k *Kernel) RsOut() rs.Rs { return k.rsOut }

// Groups implements EdgeKernel: a Kernel is shared by all groups of channels, so it returns 1.
func (k *Kernel) Groups() int { return 1 }

// Radial returns the radial model providing the path weights.
func (k *Kernel) Radial() radial.Model { return k.radial }

// NumPaths returns the number of paths of the kernel.
func (k *Kernel) NumPaths() int { return len(k.paths) }

// Paths returns the paths of the kernel. The returned slice must not be modified.
func (k *Kernel) Paths() []Path { return k.paths }

// Operators implements EdgeKernel, returning the single operator of the kernel.
func (k *Kernel) Operators(r r3.Vec) []*mat.Dense {
	return []*mat.Dense{k.Operator(r)}
}

// Operator returns K(r), shaped [RsOut.Dim() × RsIn.Dim()].
func (k *Kernel) Operator(r r3.Vec) *mat.Dense {
	weights := make([]float64, k.radial.NumOutputs())
	k.radial.Eval(r3.Norm(r), weights)

	harmonics := make(map[int][]float64, len(k.lFs))
	for _, lF := range k.lFs {
		harmonics[lF] = o3.SphericalHarmonics(lF, r)
	}

	offsetsOut, offsetsIn := k.rsOut.Offsets(), k.rsIn.Offsets()
	op := mat.NewDense(k.rsOut.Dim(), k.rsIn.Dim(), nil)
	raw := op.RawMatrix()
	var block []float64
	for _, path := range k.paths {
		irOut, irIn := k.rsOut[path.IOut], k.rsIn[path.IIn]
		dimOut, dimIn := 2*irOut.L+1, 2*irIn.L+1
		if cap(block) < dimOut*dimIn {
			block = make([]float64, dimOut*dimIn)
		}
		block = block[:dimOut*dimIn]
		path.cg.Contract(harmonics[path.LF], block)
		norm := k.normalization[path.IOut]
		for u := range irOut.Mul {
			for v := range irIn.Mul {
				w := norm * weights[path.WeightOffset+u*irIn.Mul+v]
				if w == 0 {
					continue
				}
				row0 := offsetsOut[path.IOut] + u*dimOut
				col0 := offsetsIn[path.IIn] + v*dimIn
				for i := range dimOut {
					dst := raw.Data[(row0+i)*raw.Stride+col0 : (row0+i)*raw.Stride+col0+dimIn]
					src := block[i*dimIn : (i+1)*dimIn]
					for j, q := range src {
						dst[j] += w * q
					}
				}
			}
		}
	}
	return op
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
