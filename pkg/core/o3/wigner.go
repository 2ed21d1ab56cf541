// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package o3

import (
	"math"

	"github.com/gomlx/e3nn/pkg/support/xsync"
	"github.com/gomlx/exceptions"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
	"k8s.io/klog/v2"
)

// wignerFit holds the sampling of the sphere used to fit the Wigner D matrices of one degree, along with the
// QR factorization of the harmonics evaluated on it.
type wignerFit struct {
	points []r3.Vec
	qr     mat.QR
}

var wignerFits = xsync.NewMemo(newWignerFit)

// newWignerFit samples 4·(2l+1)+8 points on a Fibonacci sphere: the matrix of their harmonics has full
// column rank and a small condition number.
func newWignerFit(l int) *wignerFit {
	dim := 2*l + 1
	numPoints := 4*dim + 8
	fit := &wignerFit{points: fibonacciSphere(numPoints)}
	harmonics := mat.NewDense(numPoints, dim, nil)
	for ii, p := range fit.points {
		SphericalHarmonicsTo(harmonics.RawRowView(ii), l, p)
	}
	fit.qr.Factorize(harmonics)
	klog.V(1).Infof("o3: fitted Wigner D sampling for l=%d with %d points", l, numPoints)
	return fit
}

// fibonacciSphere returns n points spread almost uniformly on the unit sphere.
func fibonacciSphere(n int) []r3.Vec {
	goldenAngle := math.Pi * (3 - math.Sqrt(5))
	points := make([]r3.Vec, n)
	for ii := range points {
		z := 1 - (2*float64(ii)+1)/float64(n)
		rho := math.Sqrt(1 - z*z)
		phi := goldenAngle * float64(ii)
		points[ii] = r3.Vec{X: rho * math.Cos(phi), Y: rho * math.Sin(phi), Z: z}
	}
	return points
}

// WignerD returns the (2l+1)x(2l+1) representation matrix of the rotation with the given angles on the real
// spherical harmonics of degree l, that is, Y_l(R·r) = D · Y_l(r).
func WignerD(l int, angles Angles) *mat.Dense {
	return WignerDFromMatrix(l, angles.Matrix())
}

// WignerDFromMatrix is like WignerD, but takes the 3x3 rotation matrix.
//
// The matrix is the least squares solution of H·Dᵀ = H_R, where the rows of H (resp. H_R) are the harmonics
// evaluated at the fitting points (resp. the rotated fitting points). Since an exact solution exists, the
// result is exact up to floating point precision.
func WignerDFromMatrix(l int, rot mat.Matrix) *mat.Dense {
	if l < 0 {
		exceptions.Panicf("o3.WignerD: degree must be >= 0, got %d", l)
	}
	if l == 0 {
		return mat.NewDense(1, 1, []float64{1})
	}
	fit := wignerFits.Get(l)
	dim := 2*l + 1
	rotated := mat.NewDense(len(fit.points), dim, nil)
	for ii, p := range fit.points {
		SphericalHarmonicsTo(rotated.RawRowView(ii), l, MulVec(rot, p))
	}
	var transposed mat.Dense
	if err := fit.qr.SolveTo(&transposed, false, rotated); err != nil {
		exceptions.Panicf("o3.WignerD(l=%d): failed to fit representation matrix: %+v", l, err)
	}
	d := mat.NewDense(dim, dim, nil)
	d.Copy(transposed.T())
	return d
}

// Parity of the spherical harmonics of degree l: (-1)^l.
func Parity(l int) int {
	if l%2 == 0 {
		return 1
	}
	return -1
}
