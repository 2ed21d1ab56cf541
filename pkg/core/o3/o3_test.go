// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package o3

import (
	"fmt"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

func randomVec(rng *rand.Rand) r3.Vec {
	return r3.Vec{X: rng.NormFloat64(), Y: rng.NormFloat64(), Z: rng.NormFloat64()}
}

func maxAbsDiff(a, b mat.Matrix) float64 {
	var diff mat.Dense
	diff.Sub(a, b)
	return maxAbsDiffSlices(diff.RawMatrix().Data, make([]float64, len(diff.RawMatrix().Data)))
}

func maxAbsDiffSlices(a, b []float64) float64 {
	var m float64
	for ii := range a {
		m = max(m, math.Abs(a[ii]-b[ii]))
	}
	return m
}

func TestRot(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 0))
	assert.Less(t, maxAbsDiff(Rot(0, 0, 0), eye(3)), 1e-15)

	// Rotation of π/2 around z maps x to y.
	got := MulVec(Rot(math.Pi/2, 0, 0), r3.Vec{X: 1})
	assert.InDelta(t, 0.0, got.X, 1e-15)
	assert.InDelta(t, 1.0, got.Y, 1e-15)

	for range 10 {
		rot := RandAngles(rng).Matrix()
		var rrt mat.Dense
		rrt.Mul(rot, rot.T())
		require.Less(t, maxAbsDiff(&rrt, eye(3)), 1e-14)
		require.InDelta(t, 1.0, mat.Det(rot), 1e-14)
	}
}

func TestSphericalHarmonics(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 1))

	// Degree 1 is proportional to (y, z, x).
	v := r3.Vec{X: 0.3, Y: -0.4, Z: 1.2}
	n := r3.Norm(v)
	y1 := SphericalHarmonics(1, v)
	assert.InDeltaSlice(t, []float64{math.Sqrt(3) * v.Y / n, math.Sqrt(3) * v.Z / n, math.Sqrt(3) * v.X / n}, y1, 1e-14)

	// Component normalization.
	for l := range 7 {
		for range 5 {
			y := SphericalHarmonics(l, randomVec(rng))
			var sum float64
			for _, value := range y {
				sum += value * value
			}
			require.InDelta(t, float64(2*l+1), sum, 1e-10, "l=%d", l)
		}
	}

	// Only depends on the direction.
	assert.Less(t, maxAbsDiffSlices(SphericalHarmonics(3, v), SphericalHarmonics(3, r3.Scale(7, v))), 1e-13)
}

func TestSphericalHarmonicsZeroVector(t *testing.T) {
	y := SphericalHarmonicsUpTo(3, r3.Vec{})
	require.Len(t, y, 16)
	assert.Equal(t, 1.0, y[0])
	for _, value := range y[1:] {
		assert.False(t, math.IsNaN(value) || math.IsInf(value, 0))
		assert.Equal(t, 0.0, value)
	}
}

func TestWignerD(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 2))
	for l := range 6 {
		t.Run(fmt.Sprintf("l=%d", l), func(t *testing.T) {
			a1, a2 := RandAngles(rng), RandAngles(rng)
			d1, d2 := WignerD(l, a1), WignerD(l, a2)

			// Y(R·r) = D·Y(r)
			for range 5 {
				r := randomVec(rng)
				want := mat.NewVecDense(2*l+1, nil)
				want.MulVec(d1, mat.NewVecDense(2*l+1, SphericalHarmonics(l, r)))
				got := SphericalHarmonics(l, a1.Rotate(r))
				require.Less(t, maxAbsDiffSlices(want.RawVector().Data, got), 1e-11)
			}

			// Orthogonal.
			var ddt mat.Dense
			ddt.Mul(d1, d1.T())
			require.Less(t, maxAbsDiff(&ddt, eye(2*l+1)), 1e-12)

			// Homomorphism: D(R1·R2) = D(R1)·D(R2).
			var r12, d12 mat.Dense
			r12.Mul(a1.Matrix(), a2.Matrix())
			d12.Mul(d1, d2)
			require.Less(t, maxAbsDiff(WignerDFromMatrix(l, &r12), &d12), 1e-11)
		})
	}
}

func TestClebschGordan(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 3))
	for _, ls := range [][3]int{{0, 0, 0}, {1, 1, 0}, {1, 1, 1}, {1, 1, 2}, {2, 1, 1}, {2, 1, 3}, {2, 2, 4}, {0, 2, 2}} {
		lOut, lIn, lF := ls[0], ls[1], ls[2]
		t.Run(fmt.Sprintf("%d<-%dx%d", lOut, lIn, lF), func(t *testing.T) {
			cg := ClebschGordan(lOut, lIn, lF)
			require.NotNil(t, cg)
			var norm float64
			for _, q := range cg.Data {
				norm += q * q
			}
			require.InDelta(t, 1.0, norm, 1e-12)

			// Intertwiner: A(R·r) = D_out · A(r) · D_inᵀ where A(r) = Σ_k Q[:,:,k]·Y_k(r).
			angles := RandAngles(rng)
			r := randomVec(rng)
			dimOut, dimIn := 2*lOut+1, 2*lIn+1
			a := mat.NewDense(dimOut, dimIn, nil)
			cg.Contract(SphericalHarmonics(lF, r), a.RawMatrix().Data)
			aRot := mat.NewDense(dimOut, dimIn, nil)
			cg.Contract(SphericalHarmonics(lF, angles.Rotate(r)), aRot.RawMatrix().Data)
			var tmp, want mat.Dense
			tmp.Mul(WignerD(lOut, angles), a)
			want.Mul(&tmp, WignerD(lIn, angles).T())
			require.Less(t, maxAbsDiff(&want, aRot), 1e-11)
		})
	}

	assert.Nil(t, ClebschGordan(3, 1, 1))
	assert.Nil(t, ClebschGordan(0, 1, 2))

	// Cached.
	assert.Same(t, ClebschGordan(2, 1, 1), ClebschGordan(2, 1, 1))
}

func TestSelectionRule(t *testing.T) {
	// 1o ⊗ 1o contains 0e, 1e, 2e but not 1o.
	assert.True(t, SelectionRule(0, 1, 1, -1, 1, -1))
	assert.True(t, SelectionRule(1, 1, 1, -1, 1, -1))
	assert.False(t, SelectionRule(1, -1, 1, -1, 1, -1))
	// No parity: only the triangle inequality.
	assert.True(t, SelectionRule(1, 0, 1, 0, 1, -1))
	assert.False(t, SelectionRule(3, 0, 1, 0, 1, -1))
}

func eye(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for ii := range n {
		m.Set(ii, ii, 1)
	}
	return m
}
