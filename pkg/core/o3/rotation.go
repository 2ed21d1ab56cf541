// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package o3 implements the parts of the representation theory of the rotation group O(3) needed by the
// equivariant layers: rotations from Euler angles, real spherical harmonics, Wigner D matrices and
// Clebsch-Gordan (intertwiner) bases.
//
// Conventions:
//
//   - Euler angles are ZYZ: Rot(alpha, beta, gamma) = Rz(alpha) · Ry(beta) · Rz(gamma).
//   - Spherical harmonics are real, indexed m = -l..l, with "component" normalization:
//     Y_0 = 1 and ‖Y_l(r̂)‖² = 2l+1 for unit vectors.
//   - WignerD(l, R) is defined as the matrix satisfying Y_l(R·r) = WignerD(l, R) · Y_l(r), so
//     representation matrices and spherical harmonics are consistent by construction.
package o3

import (
	"math"
	"math/rand/v2"

	"github.com/gomlx/exceptions"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Angles holds ZYZ Euler angles.
type Angles struct {
	Alpha, Beta, Gamma float64
}

// Identity rotation angles.
var Identity = Angles{}

// RandAngles returns the Euler angles of a rotation sampled uniformly (Haar measure) from SO(3).
func RandAngles(rng *rand.Rand) Angles {
	return Angles{
		Alpha: 2 * math.Pi * rng.Float64(),
		Beta:  math.Acos(2*rng.Float64() - 1),
		Gamma: 2 * math.Pi * rng.Float64(),
	}
}

// Matrix returns the 3x3 rotation matrix for the angles. See Rot.
func (a Angles) Matrix() *mat.Dense {
	return Rot(a.Alpha, a.Beta, a.Gamma)
}

// Rotate returns R·v.
func (a Angles) Rotate(v r3.Vec) r3.Vec {
	return MulVec(a.Matrix(), v)
}

// Rot returns the rotation matrix Rz(alpha) · Ry(beta) · Rz(gamma).
func Rot(alpha, beta, gamma float64) *mat.Dense {
	var tmp, rot mat.Dense
	tmp.Mul(rotZ(alpha), rotY(beta))
	rot.Mul(&tmp, rotZ(gamma))
	return &rot
}

func rotZ(angle float64) *mat.Dense {
	c, s := math.Cos(angle), math.Sin(angle)
	return mat.NewDense(3, 3, []float64{
		c, -s, 0,
		s, c, 0,
		0, 0, 1,
	})
}

func rotY(angle float64) *mat.Dense {
	c, s := math.Cos(angle), math.Sin(angle)
	return mat.NewDense(3, 3, []float64{
		c, 0, s,
		0, 1, 0,
		-s, 0, c,
	})
}

// MulVec returns m·v for a 3x3 matrix m.
func MulVec(m mat.Matrix, v r3.Vec) r3.Vec {
	if rows, cols := m.Dims(); rows != 3 || cols != 3 {
		exceptions.Panicf("o3.MulVec requires a 3x3 matrix, got %dx%d", rows, cols)
	}
	return r3.Vec{
		X: m.At(0, 0)*v.X + m.At(0, 1)*v.Y + m.At(0, 2)*v.Z,
		Y: m.At(1, 0)*v.X + m.At(1, 1)*v.Y + m.At(1, 2)*v.Z,
		Z: m.At(2, 0)*v.X + m.At(2, 1)*v.Y + m.At(2, 2)*v.Z,
	}
}

// RotateVectors returns R·v for every vector, where R = Rot(angles). It is the `edge_r @ R.T` of a batch of
// row vectors.
func RotateVectors(angles Angles, vectors []r3.Vec) []r3.Vec {
	rot := angles.Matrix()
	rotated := make([]r3.Vec, len(vectors))
	for ii, v := range vectors {
		rotated[ii] = MulVec(rot, v)
	}
	return rotated
}
