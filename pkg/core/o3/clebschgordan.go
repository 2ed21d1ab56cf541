// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package o3

import (
	"math"

	"github.com/gomlx/e3nn/pkg/metrics"
	"github.com/gomlx/e3nn/pkg/support/xsync"
	"github.com/gomlx/exceptions"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

// CG is a Clebsch-Gordan tensor Q shaped [2·LOut+1, 2·LIn+1, 2·LF+1]: the (unique up to scale) intertwiner
// that couples degree LIn and LF into degree LOut, i.e. for every rotation R
//
//	Σ_{abc} D_out[i,a] · D_in[j,b] · D_F[k,c] · Q[a,b,c] = Q[i,j,k].
//
// Q has unit Frobenius norm, and its sign is fixed so that its first non-negligible entry is positive.
type CG struct {
	LOut, LIn, LF int
	Data          []float64
}

// At returns Q[i, j, k].
func (cg *CG) At(i, j, k int) float64 {
	return cg.Data[(i*(2*cg.LIn+1)+j)*(2*cg.LF+1)+k]
}

// Contract returns the matrix A[i, j] = Σ_k Q[i,j,k]·y[k], shaped [2·LOut+1, 2·LIn+1], written in row-major
// order to out.
func (cg *CG) Contract(y []float64, out []float64) {
	dimF := 2*cg.LF + 1
	if len(y) != dimF {
		exceptions.Panicf("o3.CG.Contract: y must have %d elements, got %d", dimF, len(y))
	}
	if want := (2*cg.LOut + 1) * (2*cg.LIn + 1); len(out) != want {
		exceptions.Panicf("o3.CG.Contract: out must have %d elements, got %d", want, len(out))
	}
	for ij := range out {
		var sum float64
		row := cg.Data[ij*dimF : (ij+1)*dimF]
		for k, q := range row {
			sum += q * y[k]
		}
		out[ij] = sum
	}
}

type cgKey struct {
	lOut, lIn, lF int
}

var cgCache = xsync.NewMemo(computeClebschGordan)

// Triangle returns whether |lOut-lIn| <= lF <= lOut+lIn.
func Triangle(lOut, lIn, lF int) bool {
	return lF >= abs(lOut-lIn) && lF <= lOut+lIn
}

// SelectionRule returns whether an equivariant coupling of (lIn, pIn) with (lF, pF) into (lOut, pOut) exists.
// A parity of 0 means the irrep is only defined for SO(3), in which case the parity constraint is not applied.
func SelectionRule(lOut, pOut, lIn, pIn, lF, pF int) bool {
	if !Triangle(lOut, lIn, lF) {
		return false
	}
	if pOut != 0 && pIn != 0 && pF != 0 {
		return pOut == pIn*pF
	}
	return true
}

// ClebschGordan returns the Clebsch-Gordan tensor coupling lIn and lF into lOut, or nil if the triangle
// inequality doesn't hold. Results are cached.
func ClebschGordan(lOut, lIn, lF int) *CG {
	if lOut < 0 || lIn < 0 || lF < 0 {
		exceptions.Panicf("o3.ClebschGordan: degrees must be >= 0, got lOut=%d, lIn=%d, lF=%d", lOut, lIn, lF)
	}
	if !Triangle(lOut, lIn, lF) {
		return nil
	}
	return cgCache.Get(cgKey{lOut, lIn, lF})
}

// fittingRotations used to constrain the intertwiners: two generic rotations generate a dense subgroup of
// SO(3), so invariance under both implies invariance under every rotation.
var fittingRotations = []Angles{
	{Alpha: 0.7, Beta: 1.1, Gamma: 2.3},
	{Alpha: 2.9, Beta: 0.4, Gamma: 5.1},
}

// nullSpaceTolerance separates the null space singular values (≈1e-15) from the others (≥1e-2).
const nullSpaceTolerance = 1e-7

func computeClebschGordan(key cgKey) *CG {
	dimOut, dimIn, dimF := 2*key.lOut+1, 2*key.lIn+1, 2*key.lF+1
	n := dimOut * dimIn * dimF

	// Stack (D_out ⊗ D_in ⊗ D_F - I) for every fitting rotation.
	constraints := mat.NewDense(n*len(fittingRotations), n, nil)
	for ii, angles := range fittingRotations {
		var inner, full mat.Dense
		inner.Kronecker(WignerD(key.lIn, angles), WignerD(key.lF, angles))
		full.Kronecker(WignerD(key.lOut, angles), &inner)
		for row := range n {
			full.Set(row, row, full.At(row, row)-1)
		}
		constraints.Slice(ii*n, (ii+1)*n, 0, n).(*mat.Dense).Copy(&full)
	}

	var svd mat.SVD
	if ok := svd.Factorize(constraints, mat.SVDThinV); !ok {
		exceptions.Panicf("o3.ClebschGordan(%d, %d, %d): SVD factorization failed", key.lOut, key.lIn, key.lF)
	}
	values := svd.Values(nil)
	var v mat.Dense
	svd.VTo(&v)

	nullColumns := make([]int, 0, 1)
	for col, s := range values {
		if s < nullSpaceTolerance {
			nullColumns = append(nullColumns, col)
		}
	}
	if len(nullColumns) != 1 {
		exceptions.Panicf("o3.ClebschGordan(%d, %d, %d): expected a one-dimensional space of intertwiners, found %d "+
			"(singular values %v)", key.lOut, key.lIn, key.lF, len(nullColumns), values)
	}

	cg := &CG{LOut: key.lOut, LIn: key.lIn, LF: key.lF, Data: make([]float64, n)}
	mat.Col(cg.Data, nullColumns[0], &v)
	var norm float64
	for _, q := range cg.Data {
		norm += q * q
	}
	norm = math.Sqrt(norm)
	sign := 1.0
	for _, q := range cg.Data {
		if math.Abs(q) > 1e-9 {
			if q < 0 {
				sign = -1
			}
			break
		}
	}
	for ii := range cg.Data {
		cg.Data[ii] *= sign / norm
	}
	metrics.ClebschGordanComputed.Inc()
	klog.V(1).Infof("o3: computed Clebsch-Gordan basis for lOut=%d, lIn=%d, lF=%d", key.lOut, key.lIn, key.lF)
	return cg
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
