// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package rs defines feature types ("Rs"): how a feature vector decomposes into irreducible representations
// of the rotation group.
//
// An Rs is an ordered list of Irrep entries, each with a multiplicity, a degree L and a parity. The feature
// vector is laid out entry by entry, and within one entry copy by copy, each copy taking 2L+1 values.
//
// Rs values are immutable: methods return new values and never modify the receiver.
package rs

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/gomlx/e3nn/pkg/core/o3"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Irrep is one entry of a feature type: Mul copies of the irreducible representation of degree L and parity P.
//
// P is +1 (even), -1 (odd) or 0 when the features are only meant for rotations (SO(3)).
type Irrep struct {
	Mul, L, P int
}

// Dim returns the number of values taken by the entry: Mul·(2L+1).
func (ir Irrep) Dim() int {
	return ir.Mul * (2*ir.L + 1)
}

// String implements fmt.Stringer, e.g. "2x1o".
func (ir Irrep) String() string {
	var parity string
	switch ir.P {
	case 1:
		parity = "e"
	case -1:
		parity = "o"
	}
	return fmt.Sprintf("%dx%d%s", ir.Mul, ir.L, parity)
}

// Rs is an ordered list of Irrep.
type Rs []Irrep

// New creates an Rs from the given entries. It panics if any entry is malformed.
func New(irreps ...Irrep) Rs {
	r := Rs(append([]Irrep(nil), irreps...))
	r.AssertValid()
	return r
}

// L returns an Rs with one copy, without parity, of each given degree: rs.L(0, 1) is "1x0 + 1x1".
func L(ls ...int) Rs {
	r := make(Rs, len(ls))
	for ii, l := range ls {
		r[ii] = Irrep{Mul: 1, L: l}
	}
	r.AssertValid()
	return r
}

// Parse parses an Rs written as entries separated by "+", e.g. "2x0e + 1x1o + 3x2". The multiplicity
// defaults to 1, and the parity suffix ("e" or "o") is optional.
func Parse(text string) (Rs, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Rs{}, nil
	}
	var r Rs
	for _, part := range strings.Split(text, "+") {
		part = strings.TrimSpace(part)
		ir := Irrep{Mul: 1}
		if mulStr, rest, found := strings.Cut(part, "x"); found {
			mul, err := strconv.Atoi(strings.TrimSpace(mulStr))
			if err != nil {
				return nil, errors.Wrapf(err, "rs.Parse(%q): invalid multiplicity in %q", text, part)
			}
			ir.Mul = mul
			part = strings.TrimSpace(rest)
		}
		switch {
		case strings.HasSuffix(part, "e"):
			ir.P = 1
			part = strings.TrimSuffix(part, "e")
		case strings.HasSuffix(part, "o"):
			ir.P = -1
			part = strings.TrimSuffix(part, "o")
		}
		l, err := strconv.Atoi(part)
		if err != nil {
			return nil, errors.Wrapf(err, "rs.Parse(%q): invalid degree in %q", text, part)
		}
		ir.L = l
		if err := ir.validate(); err != nil {
			return nil, errors.WithMessagef(err, "rs.Parse(%q)", text)
		}
		r = append(r, ir)
	}
	return r, nil
}

// MustParse is like Parse, but panics on error.
func MustParse(text string) Rs {
	r, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return r
}

func (ir Irrep) validate() error {
	if ir.Mul < 0 {
		return errors.Errorf("negative multiplicity in %s", ir)
	}
	if ir.L < 0 {
		return errors.Errorf("negative degree in %s", ir)
	}
	if ir.P < -1 || ir.P > 1 {
		return errors.Errorf("parity must be -1, 0 or 1, got %d in entry with mul=%d, l=%d", ir.P, ir.Mul, ir.L)
	}
	return nil
}

// AssertValid panics if any of the entries is malformed.
func (r Rs) AssertValid() {
	for _, ir := range r {
		if err := ir.validate(); err != nil {
			exceptions.Panicf("rs: invalid feature type %s: %v", r, err)
		}
	}
}

// Dim returns the total dimension of the feature vector: Σ Mul·(2L+1).
func (r Rs) Dim() int {
	var dim int
	for _, ir := range r {
		dim += ir.Dim()
	}
	return dim
}

// LMax returns the largest degree, or -1 for an empty Rs.
func (r Rs) LMax() int {
	lMax := -1
	for _, ir := range r {
		lMax = max(lMax, ir.L)
	}
	return lMax
}

// Offsets returns the position of the first value of each entry in the feature vector.
func (r Rs) Offsets() []int {
	offsets := make([]int, len(r))
	var offset int
	for ii, ir := range r {
		offsets[ii] = offset
		offset += ir.Dim()
	}
	return offsets
}

// Repeat returns the Rs concatenated n times: the feature type of n groups of channels.
func (r Rs) Repeat(n int) Rs {
	if n < 0 {
		exceptions.Panicf("rs.Repeat: n must be >= 0, got %d", n)
	}
	repeated := make(Rs, 0, len(r)*n)
	for range n {
		repeated = append(repeated, r...)
	}
	return repeated
}

// Simplify merges consecutive entries with the same degree and parity, and drops entries with zero multiplicity.
// The layout of the feature vector is unchanged.
func (r Rs) Simplify() Rs {
	var simplified Rs
	for _, ir := range r {
		if ir.Mul == 0 {
			continue
		}
		if n := len(simplified); n > 0 && simplified[n-1].L == ir.L && simplified[n-1].P == ir.P {
			simplified[n-1].Mul += ir.Mul
			continue
		}
		simplified = append(simplified, ir)
	}
	return simplified
}

// Equal returns whether both Rs have the same entries.
func (r Rs) Equal(other Rs) bool {
	if len(r) != len(other) {
		return false
	}
	for ii := range r {
		if r[ii] != other[ii] {
			return false
		}
	}
	return true
}

// String implements fmt.Stringer, in the format accepted by Parse.
func (r Rs) String() string {
	parts := make([]string, len(r))
	for ii, ir := range r {
		parts[ii] = ir.String()
	}
	return strings.Join(parts, " + ")
}

// SphericalHarmonics returns the Rs of the spherical harmonics up to degree lMax: one copy of each degree
// with parity (-1)^l.
func SphericalHarmonics(lMax int) Rs {
	r := make(Rs, lMax+1)
	for l := range r {
		r[l] = Irrep{Mul: 1, L: l, P: o3.Parity(l)}
	}
	return r
}

// Rep returns the block-diagonal representation matrix of the rotation with the given angles on the
// features of type r.
func Rep(r Rs, angles o3.Angles) *mat.Dense {
	return RepO3(r, angles, false)
}

// RepO3 is like Rep, but if inversion is set the representation is the one of the rotation composed with
// the inversion x → -x: each block is multiplied by its parity (entries with parity 0 are left unchanged).
func RepO3(r Rs, angles o3.Angles, inversion bool) *mat.Dense {
	dim := r.Dim()
	if dim == 0 {
		exceptions.Panicf("rs.Rep: feature type %q has dimension 0", r)
	}
	rep := mat.NewDense(dim, dim, nil)
	rot := angles.Matrix()
	offset := 0
	for _, ir := range r {
		d := o3.WignerDFromMatrix(ir.L, rot)
		if inversion && ir.P == -1 {
			d.Scale(-1, d)
		}
		size := 2*ir.L + 1
		for range ir.Mul {
			rep.Slice(offset, offset+size, offset, offset+size).(*mat.Dense).Copy(d)
			offset += size
		}
	}
	return rep
}

// Randn returns a [n, r.Dim()] matrix of normally distributed random features.
func Randn(rng *rand.Rand, n int, r Rs) *mat.Dense {
	data := make([]float64, n*r.Dim())
	for ii := range data {
		data[ii] = rng.NormFloat64()
	}
	return mat.NewDense(n, r.Dim(), data)
}

// CheckFeatures panics with a dimension mismatch error if x doesn't have groups·r.Dim() columns.
func CheckFeatures(x mat.Matrix, r Rs, groups int) {
	_, cols := x.Dims()
	if want := groups * r.Dim(); cols != want {
		exceptions.Panicf("dimension mismatch: features have %d columns, but feature type %q with %d groups "+
			"requires %d", cols, r, groups, want)
	}
}
