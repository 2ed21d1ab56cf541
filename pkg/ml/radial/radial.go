// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package radial implements radial models: learnable functions of the edge length that provide the
// weights of the equivariant kernels.
//
// A radial model only sees the distance |r|, hence it is invariant to rotations, and any function of it can
// be used without breaking the equivariance of the kernels.
//
// Parameters are held as plain float64 slices (see Model.Params), a surrounding training framework can
// read and overwrite them in place.
package radial

import (
	"math/rand/v2"

	"github.com/gomlx/exceptions"
)

// Model is a function of the distance that outputs NumOutputs() values.
//
// Implementations must be safe for concurrent calls to Eval.
type Model interface {
	// NumOutputs returns the number of values written by Eval.
	NumOutputs() int

	// Eval writes the values of the model at the given distance to out, which must have NumOutputs() elements.
	Eval(distance float64, out []float64)

	// Params returns the learnable parameters of the model: changes to the returned slice change the model.
	Params() []float64
}

// Factory creates a Model with the given number of outputs. Random initialization must use rng only,
// so that models are reproducible.
type Factory func(numOutputs int, rng *rand.Rand) Model

// Fill sets all parameters of the model to value.
func Fill(m Model, value float64) {
	params := m.Params()
	for ii := range params {
		params[ii] = value
	}
}

// ConstantModel returns the same learned weights for any distance.
type ConstantModel struct {
	weights []float64
}

// Constant is a Factory of ConstantModel, with weights initialized from a standard normal distribution.
func Constant(numOutputs int, rng *rand.Rand) Model {
	if numOutputs < 0 {
		exceptions.Panicf("radial.Constant: numOutputs must be >= 0, got %d", numOutputs)
	}
	c := &ConstantModel{weights: make([]float64, numOutputs)}
	for ii := range c.weights {
		c.weights[ii] = rng.NormFloat64()
	}
	return c
}

// NumOutputs implements Model.
func (c *ConstantModel) NumOutputs() int { return len(c.weights) }

// Eval implements Model.
func (c *ConstantModel) Eval(_ float64, out []float64) {
	checkOut(c, out)
	copy(out, c.weights)
}

// Params implements Model.
func (c *ConstantModel) Params() []float64 { return c.weights }

// Fill sets all the weights to value.
func (c *ConstantModel) Fill(value float64) {
	Fill(c, value)
}

func checkOut(m Model, out []float64) {
	if len(out) != m.NumOutputs() {
		exceptions.Panicf("radial: output buffer has %d elements, model has %d outputs", len(out), m.NumOutputs())
	}
}
