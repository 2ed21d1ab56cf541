// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package o3

import (
	"math"

	"github.com/gomlx/exceptions"
	"gonum.org/v1/gonum/spatial/r3"
)

// SphericalHarmonics returns the 2l+1 real spherical harmonics of degree l evaluated at the direction of v,
// ordered m = -l..l.
//
// The zero vector has no direction: it returns Y_0 = 1 and zeros for l > 0, which is still equivariant
// since rotating the zero vector is a no-op.
func SphericalHarmonics(l int, v r3.Vec) []float64 {
	out := make([]float64, 2*l+1)
	SphericalHarmonicsTo(out, l, v)
	return out
}

// SphericalHarmonicsTo is like SphericalHarmonics, but writes the values to out, which must have 2l+1 elements.
func SphericalHarmonicsTo(out []float64, l int, v r3.Vec) {
	if l < 0 {
		exceptions.Panicf("o3.SphericalHarmonics: degree must be >= 0, got %d", l)
	}
	if len(out) != 2*l+1 {
		exceptions.Panicf("o3.SphericalHarmonics(l=%d): output buffer must have %d elements, got %d", l, 2*l+1, len(out))
	}
	norm := r3.Norm(v)
	if norm == 0 {
		clear(out)
		if l == 0 {
			out[0] = 1
		}
		return
	}
	x, y, z := v.X/norm, v.Y/norm, v.Z/norm

	// Real and imaginary parts of (x + iy)^m = ρ^m·e^{imφ}, so no angles are needed.
	re := make([]float64, l+1)
	im := make([]float64, l+1)
	re[0] = 1
	for m := 1; m <= l; m++ {
		re[m] = re[m-1]*x - im[m-1]*y
		im[m] = re[m-1]*y + im[m-1]*x
	}

	// Component normalization: sqrt(4π) times the orthonormal harmonics.
	for m := 0; m <= l; m++ {
		q := legendreReduced(l, m, z)
		n := math.Sqrt(float64(2*l+1) * factorialRatio(l, m))
		if m == 0 {
			out[l] = n * q
			continue
		}
		out[l+m] = math.Sqrt2 * n * q * re[m]
		out[l-m] = math.Sqrt2 * n * q * im[m]
	}
}

// SphericalHarmonicsUpTo returns the concatenation of SphericalHarmonics(l, v) for l = 0..lMax.
func SphericalHarmonicsUpTo(lMax int, v r3.Vec) []float64 {
	out := make([]float64, (lMax+1)*(lMax+1))
	offset := 0
	for l := 0; l <= lMax; l++ {
		SphericalHarmonicsTo(out[offset:offset+2*l+1], l, v)
		offset += 2*l + 1
	}
	return out
}

// legendreReduced returns P_l^m(z) / (1-z²)^{m/2}, a polynomial in z, without the Condon-Shortley phase.
func legendreReduced(l, m int, z float64) float64 {
	pmm := 1.0
	for k := 1; k <= m; k++ {
		pmm *= float64(2*k - 1)
	}
	if l == m {
		return pmm
	}
	pm1 := z * float64(2*m+1) * pmm
	if l == m+1 {
		return pm1
	}
	var p float64
	for ll := m + 2; ll <= l; ll++ {
		p = (float64(2*ll-1)*z*pm1 - float64(ll+m-1)*pmm) / float64(ll-m)
		pmm, pm1 = pm1, p
	}
	return p
}

// factorialRatio returns (l-m)! / (l+m)!.
func factorialRatio(l, m int) float64 {
	ratio := 1.0
	for k := l - m + 1; k <= l+m; k++ {
		ratio /= float64(k)
	}
	return ratio
}
