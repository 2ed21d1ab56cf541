// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package radial

import (
	"math"
	"math/rand/v2"

	"github.com/gomlx/bsplines"
	"github.com/gomlx/e3nn/pkg/ml/activations"
	"github.com/gomlx/exceptions"
)

// BasisType selects the expansion of the distance fed to the MLP of a basis model.
type BasisType int

const (
	// BasisGaussian uses Gaussians centered on a regular grid over [0, MaxRadius].
	BasisGaussian BasisType = iota

	// BasisBSpline uses the B-spline basis functions of a regular B-spline over [0, MaxRadius],
	// which are zero beyond MaxRadius.
	BasisBSpline
)

// String implements fmt.Stringer.
func (t BasisType) String() string {
	switch t {
	case BasisGaussian:
		return "gaussian"
	case BasisBSpline:
		return "bspline"
	}
	return "unknown"
}

// Config for a basis model: the distance is expanded in NumBases basis functions, and then transformed by
// an MLP with NumHiddenLayers hidden layers of HiddenSize units.
//
// Create it with Gaussian or BSpline, optionally change the defaults, and then call Factory.
type Config struct {
	basis           BasisType
	numBases        int
	maxRadius       float64
	hiddenSize      int
	numHiddenLayers int
	bsplineDegree   int
	activation      activations.Type
}

// Gaussian returns a configuration for a Gaussian basis model with default values:
// 10 bases up to a radius of 3.0, one hidden layer of 100 units and swish activation.
func Gaussian() *Config {
	return &Config{
		basis:           BasisGaussian,
		numBases:        10,
		maxRadius:       3.0,
		hiddenSize:      100,
		numHiddenLayers: 1,
		bsplineDegree:   3,
		activation:      activations.TypeSwish,
	}
}

// BSpline returns a configuration for a B-spline basis model, with the same defaults as Gaussian and
// cubic B-splines.
func BSpline() *Config {
	c := Gaussian()
	c.basis = BasisBSpline
	return c
}

// NumBases sets the number of basis functions (the number of control points for B-splines).
func (c *Config) NumBases(numBases int) *Config {
	c.numBases = numBases
	return c
}

// MaxRadius sets the upper end of the interval covered by the basis functions.
func (c *Config) MaxRadius(maxRadius float64) *Config {
	c.maxRadius = maxRadius
	return c
}

// NumHiddenLayers sets the number of hidden layers and their size. numHiddenLayers can be 0, in which case
// the basis is linearly mapped to the outputs.
func (c *Config) NumHiddenLayers(numHiddenLayers, hiddenSize int) *Config {
	c.numHiddenLayers = numHiddenLayers
	c.hiddenSize = hiddenSize
	return c
}

// BSplineDegree sets the degree of the B-splines. Only used by BSpline models.
func (c *Config) BSplineDegree(degree int) *Config {
	c.bsplineDegree = degree
	return c
}

// Activation sets the activation used in the hidden layers.
func (c *Config) Activation(activation activations.Type) *Config {
	c.activation = activation
	return c
}

// Factory returns a Factory of basis models with this configuration. The configuration is validated here.
func (c *Config) Factory() Factory {
	if c.numBases <= 0 {
		exceptions.Panicf("radial: NumBases must be > 0, got %d", c.numBases)
	}
	if c.maxRadius <= 0 {
		exceptions.Panicf("radial: MaxRadius must be > 0, got %g", c.maxRadius)
	}
	if c.numHiddenLayers < 0 || (c.numHiddenLayers > 0 && c.hiddenSize <= 0) {
		exceptions.Panicf("radial: invalid hidden layers configuration: %d layers of size %d",
			c.numHiddenLayers, c.hiddenSize)
	}
	if c.basis == BasisBSpline && (c.bsplineDegree < 0 || c.bsplineDegree >= c.numBases) {
		exceptions.Panicf("radial: B-spline degree must be in [0, NumBases), got degree %d for %d bases",
			c.bsplineDegree, c.numBases)
	}
	cfg := *c
	return func(numOutputs int, rng *rand.Rand) Model {
		return newBasisModel(&cfg, numOutputs, rng)
	}
}

// BasisModel expands the distance in a fixed basis, and applies an MLP to the result.
type BasisModel struct {
	config  *Config
	splines []*bsplines.BSpline
	mlp     *MLP
}

func newBasisModel(config *Config, numOutputs int, rng *rand.Rand) *BasisModel {
	sizes := []int{config.numBases}
	for range config.numHiddenLayers {
		sizes = append(sizes, config.hiddenSize)
	}
	sizes = append(sizes, numOutputs)
	m := &BasisModel{config: config, mlp: NewMLP(sizes, config.activation, rng)}
	if config.basis == BasisBSpline {
		// One B-spline per basis function, with a one-hot vector of control points.
		m.splines = make([]*bsplines.BSpline, config.numBases)
		for ii := range m.splines {
			controlPoints := make([]float64, config.numBases)
			controlPoints[ii] = 1
			m.splines[ii] = bsplines.NewRegular(config.bsplineDegree, config.numBases).
				WithControlPoints(controlPoints).
				WithExtrapolation(bsplines.ExtrapolateZero)
		}
	}
	return m
}

// NumOutputs implements Model.
func (m *BasisModel) NumOutputs() int { return m.mlp.NumOutputs() }

// Params implements Model.
func (m *BasisModel) Params() []float64 { return m.mlp.Params() }

// Basis writes the basis functions evaluated at distance to out, which must have NumBases elements.
func (m *BasisModel) Basis(distance float64, out []float64) {
	numBases, maxRadius := m.config.numBases, m.config.maxRadius
	if len(out) != numBases {
		exceptions.Panicf("radial: basis buffer has %d elements, model has %d bases", len(out), numBases)
	}
	switch m.config.basis {
	case BasisGaussian:
		step := maxRadius
		if numBases > 1 {
			step = maxRadius / float64(numBases-1)
		}
		for ii := range out {
			x := (distance - float64(ii)*step) / step
			out[ii] = math.Exp(-x * x)
		}
	case BasisBSpline:
		x := distance / maxRadius
		for ii, spline := range m.splines {
			out[ii] = spline.Evaluate(x)
		}
	default:
		exceptions.Panicf("radial: unknown basis type %d", m.config.basis)
	}
}

// Eval implements Model.
func (m *BasisModel) Eval(distance float64, out []float64) {
	checkOut(m, out)
	basis := make([]float64, m.config.numBases)
	m.Basis(distance, basis)
	m.mlp.Apply(basis, out)
}
