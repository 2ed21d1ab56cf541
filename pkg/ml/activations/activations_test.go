// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package activations

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestActivations(t *testing.T) {
	assert.Equal(t, 0.0, Apply(TypeRelu, -2))
	assert.Equal(t, 2.0, Apply(TypeRelu, 2))
	assert.InDelta(t, -0.6, Apply(TypeLeakyRelu, -2), 1e-15)
	assert.InDelta(t, 0.5, Apply(TypeSigmoid, 0), 1e-15)
	assert.InDelta(t, 1/(1+math.Exp(-1)), Apply(TypeSwish, 1), 1e-15)
	assert.Equal(t, Apply(TypeSwish, -0.3), Apply(TypeSilu, -0.3))
	assert.Equal(t, -7.0, Apply(TypeNone, -7))
	require.Panics(t, func() { Apply(Type(100), 1) })
}

func TestFromName(t *testing.T) {
	for _, activation := range TypeValues() {
		got, err := FromName(activation.String())
		require.NoError(t, err)
		assert.Equal(t, activation, got)
	}
	got, err := FromName("")
	require.NoError(t, err)
	assert.Equal(t, TypeNone, got)
	_, err = FromName("softplus")
	require.Error(t, err)
}

func TestTypeYAML(t *testing.T) {
	var holder struct {
		Activation Type `yaml:"activation"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("activation: leaky_relu"), &holder))
	assert.Equal(t, TypeLeakyRelu, holder.Activation)
	require.NoError(t, yaml.Unmarshal([]byte("activation: Tanh"), &holder))
	assert.Equal(t, TypeTanh, holder.Activation)
	require.Error(t, yaml.Unmarshal([]byte("activation: softplus"), &holder))

	holder.Activation = TypeSwish
	contents, err := yaml.Marshal(holder)
	require.NoError(t, err)
	assert.Equal(t, "activation: swish\n", string(contents))

	text, err := TypeSigmoid.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "sigmoid", string(text))
	assert.Equal(t, []string{"none", "relu", "sigmoid", "leaky_relu", "swish", "tanh", "silu"}, TypeSigmoid.Values())
	assert.False(t, Type(100).IsAType())
	assert.Equal(t, "Type(100)", Type(100).String())
}
