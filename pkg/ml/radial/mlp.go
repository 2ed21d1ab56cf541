// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package radial

import (
	"math"
	"math/rand/v2"

	"github.com/gomlx/e3nn/pkg/ml/activations"
	"github.com/gomlx/exceptions"
)

// MLP is a fully connected network without biases: the activation is applied after each hidden layer,
// but not after the output layer.
//
// All weights are stored in one flat slice, layer after layer, each layer as a row-major [fanIn, fanOut] matrix.
type MLP struct {
	sizes      []int
	activation activations.Type
	params     []float64
}

// NewMLP creates an MLP with the given layer sizes (input size first, output size last), initialized with
// normal weights scaled by 1/sqrt(fanIn).
func NewMLP(sizes []int, activation activations.Type, rng *rand.Rand) *MLP {
	if len(sizes) < 2 {
		exceptions.Panicf("radial.NewMLP: at least input and output sizes are required, got %v", sizes)
	}
	numParams := 0
	for ii := range len(sizes) - 1 {
		if sizes[ii] <= 0 || sizes[ii+1] < 0 {
			exceptions.Panicf("radial.NewMLP: invalid layer sizes %v", sizes)
		}
		numParams += sizes[ii] * sizes[ii+1]
	}
	m := &MLP{sizes: append([]int(nil), sizes...), activation: activation, params: make([]float64, numParams)}
	offset := 0
	for ii := range len(sizes) - 1 {
		fanIn, fanOut := sizes[ii], sizes[ii+1]
		scale := 1 / math.Sqrt(float64(fanIn))
		for jj := range fanIn * fanOut {
			m.params[offset+jj] = scale * rng.NormFloat64()
		}
		offset += fanIn * fanOut
	}
	return m
}

// NumInputs of the network.
func (m *MLP) NumInputs() int { return m.sizes[0] }

// NumOutputs of the network.
func (m *MLP) NumOutputs() int { return m.sizes[len(m.sizes)-1] }

// Params returns the weights of all layers.
func (m *MLP) Params() []float64 { return m.params }

// Apply the network to x, writing the result to out.
func (m *MLP) Apply(x, out []float64) {
	if len(x) != m.NumInputs() || len(out) != m.NumOutputs() {
		exceptions.Panicf("radial.MLP: expected %d inputs and %d outputs, got %d and %d",
			m.NumInputs(), m.NumOutputs(), len(x), len(out))
	}
	current := x
	offset := 0
	numLayers := len(m.sizes) - 1
	for layer := range numLayers {
		fanIn, fanOut := m.sizes[layer], m.sizes[layer+1]
		var next []float64
		if layer == numLayers-1 {
			next = out
			clear(next)
		} else {
			next = make([]float64, fanOut)
		}
		w := m.params[offset : offset+fanIn*fanOut]
		for ii, xi := range current {
			if xi == 0 {
				continue
			}
			row := w[ii*fanOut : (ii+1)*fanOut]
			for jj, wij := range row {
				next[jj] += xi * wij
			}
		}
		if layer < numLayers-1 {
			for jj := range next {
				next[jj] = activations.Apply(m.activation, next[jj])
			}
		}
		offset += fanIn * fanOut
		current = next
	}
}
