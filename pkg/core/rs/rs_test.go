// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package rs

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/gomlx/e3nn/pkg/core/o3"
	"github.com/gomlx/exceptions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestParse(t *testing.T) {
	r, err := Parse("2x0e + 1x1o + 3x2")
	require.NoError(t, err)
	assert.Equal(t, Rs{{2, 0, 1}, {1, 1, -1}, {3, 2, 0}}, r)
	assert.Equal(t, 2+3+15, r.Dim())
	assert.Equal(t, 2, r.LMax())
	assert.Equal(t, []int{0, 2, 5}, r.Offsets())
	assert.Equal(t, "2x0e + 1x1o + 3x2", r.String())

	again, err := Parse(r.String())
	require.NoError(t, err)
	assert.True(t, r.Equal(again))

	r, err = Parse("1")
	require.NoError(t, err)
	assert.True(t, r.Equal(L(1)))

	for _, bad := range []string{"2xa", "x1", "1x-1", "1xo"} {
		_, err = Parse(bad)
		assert.Error(t, err, "Parse(%q) should have failed", bad)
	}
}

func TestMalformed(t *testing.T) {
	err := exceptions.TryCatch[error](func() { New(Irrep{Mul: 1, L: -2}) })
	require.Error(t, err)
	err = exceptions.TryCatch[error](func() { New(Irrep{Mul: 1, L: 1, P: 3}) })
	require.Error(t, err)

	x := mat.NewDense(2, 4, nil)
	err = exceptions.TryCatch[error](func() { CheckFeatures(x, L(1), 1) })
	require.ErrorContains(t, err, "dimension mismatch")
	require.NotPanics(t, func() { CheckFeatures(x, L(0, 0), 2) })
}

func TestRepeatSimplify(t *testing.T) {
	r := L(1).Repeat(4)
	assert.Equal(t, 12, r.Dim())
	assert.Len(t, r, 4)
	assert.Equal(t, Rs{{4, 1, 0}}, r.Simplify())
	assert.Equal(t, Rs{{1, 0, 1}, {2, 1, -1}}, MustParse("1x0e + 0x2 + 1x1o + 1x1o").Simplify())
	assert.Equal(t, MustParse("0e + 1o + 2e"), SphericalHarmonics(2))
}

func TestRep(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 0))
	r := MustParse("2x0e + 1x1o + 1x2e")
	a1, a2 := o3.RandAngles(rng), o3.RandAngles(rng)
	d1, d2 := Rep(r, a1), Rep(r, a2)
	require.Equal(t, []int{r.Dim(), r.Dim()}, dims(d1))

	// Block structure: scalars are invariant.
	assert.InDelta(t, 1.0, d1.At(0, 0), 1e-14)
	assert.InDelta(t, 0.0, d1.At(0, 1), 1e-14)
	assert.InDelta(t, 1.0, d1.At(1, 1), 1e-14)

	// Homomorphism.
	var r12, d12 mat.Dense
	r12.Mul(a1.Matrix(), a2.Matrix())
	d12.Mul(d1, d2)
	offset := 0
	for _, ir := range r {
		size := 2*ir.L + 1
		for range ir.Mul {
			want := o3.WignerDFromMatrix(ir.L, &r12)
			got := d12.Slice(offset, offset+size, offset, offset+size)
			require.True(t, mat.EqualApprox(want, got, 1e-11))
			offset += size
		}
	}

	// Inversion flips the odd blocks only.
	inv := RepO3(r, o3.Identity, true)
	for ii, want := range []float64{1, 1, -1, -1, -1, 1, 1, 1, 1, 1} {
		assert.InDelta(t, want, inv.At(ii, ii), 1e-12, "diagonal element %d", ii)
	}
}

func TestRandn(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 1))
	x := Randn(rng, 5, L(2))
	assert.Equal(t, []int{5, 5}, dims(x))
	assert.Greater(t, math.Abs(mat.Sum(x)), 0.0)
}

func dims(m mat.Matrix) []int {
	rows, cols := m.Dims()
	return []int{rows, cols}
}
