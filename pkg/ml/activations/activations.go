// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package activations implements the scalar activation functions used by the radial networks, and FromName
// to convert an activation name (as used in configuration files) to its type.
package activations

import (
	"math"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// Type is an enum for the supported activation functions.
//
// It is converted to snake-format strings (e.g.: TypeLeakyRelu -> "leaky_relu"), and it can be used directly in
// YAML configuration files.
type Type int

const (
	TypeNone Type = iota
	TypeRelu
	TypeSigmoid
	TypeLeakyRelu
	TypeSwish
	TypeTanh

	// TypeSilu is an alias to TypeSwish
	TypeSilu
)

//go:generate go tool enumer -type Type -trimprefix=Type -transform=snake -values -text -yaml -output=gen_type_enumer.go activations.go

// FromName converts the name of an activation to its type.
//
// An empty string is converted to TypeNone.
func FromName(activationName string) (Type, error) {
	if activationName == "" {
		return TypeNone, nil
	}
	t, err := TypeString(activationName)
	if err != nil {
		return TypeNone, errors.Wrapf(err, "invalid activation name %q: options are %v", activationName, TypeStrings())
	}
	return t, nil
}

// Apply the given activation type to x.
// The TypeNone activation is a no-op.
func Apply(activation Type, x float64) float64 {
	switch activation {
	case TypeNone:
		return x
	case TypeRelu:
		return Relu(x)
	case TypeLeakyRelu:
		return LeakyRelu(x)
	case TypeSigmoid:
		return Sigmoid(x)
	case TypeTanh:
		return math.Tanh(x)
	case TypeSwish, TypeSilu:
		return Swish(x)
	default:
		exceptions.Panicf("activations.Apply got invalid activation value %d: options are %v", int(activation), TypeValues())
	}
	return 0
}

// Relu returns max(x, 0).
func Relu(x float64) float64 {
	return max(x, 0)
}

// LeakyRelu returns `x if x >= 0; 0.3*x if x < 0`.
func LeakyRelu(x float64) float64 {
	if x >= 0 {
		return x
	}
	return 0.3 * x
}

// Sigmoid returns 1/(1+exp(-x)).
func Sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// Swish activation (or SiLU) returns `x * Sigmoid(x)`.
//
// Here the beta parameter is fixed at 1.0.
func Swish(x float64) float64 {
	return x * Sigmoid(x)
}
