// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package config

import (
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/e3nn/internal/equivtest"
	"github.com/gomlx/e3nn/internal/workerspool"
	"github.com/gomlx/e3nn/pkg/core/graphs"
	"github.com/gomlx/e3nn/pkg/core/rs"
	"github.com/gomlx/e3nn/pkg/ml/activations"
	"github.com/gomlx/e3nn/pkg/ml/conv"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefault(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	rsIn, rsOut := must.M2(c.Rs())
	assert.Equal(t, "1x0e + 1x1o", rsIn.String())
	assert.Equal(t, 9, rsOut.Dim())

	// All parameters are marshaled, with their names as keys.
	var asMap map[string]any
	require.NoError(t, yaml.Unmarshal(must.M1(c.Marshal()), &asMap))
	assert.Len(t, asMap, len(ParamNames))
	for _, name := range ParamNames {
		assert.Contains(t, asMap, name)
	}
}

func TestRoundTrip(t *testing.T) {
	c := Default()
	c.Layer = LayerWTPConv
	c.Radial = RadialBSpline
	c.RadialNumBases = 6
	c.FPSRatio = 0.25
	c.RadialActivation = activations.TypeRelu
	got := must.M1(Parse(must.M1(c.Marshal())))
	assert.Equal(t, c, got)
}

func TestLoad(t *testing.T) {
	c := must.M1(Load(""))
	assert.Equal(t, Default(), c)

	dir := t.TempDir()
	filePath := filepath.Join(dir, "config.yaml")
	must.M(os.WriteFile(filePath, []byte("radial: constant\ngroups: 4\nkmeans_tolerance: 1e-4\n"), 0o644))
	c = must.M1(Load(filePath))
	assert.Equal(t, RadialConstant, c.Radial)
	assert.Equal(t, 4, c.Groups)
	assert.Equal(t, 1e-4, c.KMeansTolerance)
	assert.Equal(t, Default().RsIn, c.RsIn)

	must.M(os.WriteFile(filePath, []byte("radius: 3\n"), 0o644))
	_, err := Load(filePath)
	require.ErrorContains(t, err, "radius")

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	for _, contents := range []string{
		"layer: dense",
		"rs_in: 1x0q",
		"groups: 0",
		"layer: wtp_conv\ngroups: 2",
		"radial: fourier",
		"radial_activation: softmax",
		"radial: bspline\nradial_num_bases: 3\nradial_bspline_degree: 3",
		"fps_ratio: 1.5",
		"kmeans_max_iterations: 0",
		"symmetric_rand_iter: -1",
		"graph_radius: 0",
	} {
		_, err := Parse([]byte(contents))
		assert.Error(t, err, "configuration %q should be invalid", contents)
	}
}

func TestParseSettings(t *testing.T) {
	c := Default()
	paramsSet, err := c.ParseSettings("radial=bspline; radial_num_bases=8;fps_ratio=0.75;rs_out=2x1o + 1x2e")
	require.NoError(t, err)
	assert.Equal(t, []string{ParamRadial, ParamRadialNumBases, ParamFPSRatio, ParamRsOut}, paramsSet)
	assert.Equal(t, RadialBSpline, c.Radial)
	assert.Equal(t, 8, c.RadialNumBases)
	assert.Equal(t, 0.75, c.FPSRatio)
	assert.Equal(t, "2x1o + 1x2e", c.RsOut)

	filePath := filepath.Join(t.TempDir(), "settings.txt")
	must.M(os.WriteFile(filePath, []byte("# Clustering.\nkmeans_max_iterations=1000\n\ngroups=2;l_max=2\n"), 0o644))
	paramsSet, err = c.ParseSettings("file:" + filePath)
	require.NoError(t, err)
	assert.Equal(t, []string{ParamKMeansMaxIterations, ParamGroups, ParamLMax}, paramsSet)
	assert.Equal(t, 1000, c.KMeansMaxIterations)
	assert.Equal(t, 2, c.Groups)

	_, err = Default().ParseSettings("unknown=1")
	require.ErrorContains(t, err, "unknown parameter")
	_, err = Default().ParseSettings("groups")
	require.ErrorContains(t, err, "format")
	_, err = Default().ParseSettings("groups=many")
	require.Error(t, err)
	_, err = Default().ParseSettings("groups=0")
	require.Error(t, err)

	c = Default()
	_, err = c.ParseSettings("radial_activation=leaky_relu")
	require.NoError(t, err)
	assert.Equal(t, activations.TypeLeakyRelu, c.RadialActivation)
	assert.Contains(t, string(must.M1(c.Marshal())), "radial_activation: leaky_relu\n")
	_, err = c.ParseSettings("radial_activation=softmax")
	require.Error(t, err)
	c.RadialActivation = activations.Type(100)
	require.ErrorContains(t, c.Validate(), ParamRadialActivation)
}

func TestNewLayer(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 0))
	pool := workerspool.New()
	const numNodes, numEdges = 5, 12
	edges := equivtest.RandomEdges(rng, numNodes, numNodes, numEdges)
	vectors := equivtest.RandomVectors(rng, numEdges)

	for _, settings := range []string{
		"",
		"radial=constant;groups=3",
		"layer=wtp_conv;radial=bspline;radial_num_bases=6;l_max=2",
		"max_parallelism=0;radial_hidden_layers=0",
	} {
		t.Run(settings, func(t *testing.T) {
			c := Default()
			must.M1(c.ParseSettings(settings))
			layer := must.M1(c.NewLayer(rng, pool))
			rsIn, rsOut := must.M2(c.Rs())
			assert.True(t, rsIn.Equal(layer.RsIn()))
			assert.True(t, rsOut.Equal(layer.RsOut()))

			features := rs.Randn(rng, numNodes, rsIn.Repeat(c.Groups))
			out := layer.Forward(features, edges, vectors).Size(graphs.Size{Centers: numNodes, Neighbors: numNodes}).Done()
			rows, cols := out.Dims()
			assert.Equal(t, numNodes, rows)
			assert.Equal(t, c.Groups*rsOut.Dim(), cols)
			if c.Layer == LayerWTPConv {
				assert.IsType(t, &conv.WTPConv{}, layer)
			} else {
				assert.IsType(t, &conv.Convolution{}, layer)
			}
		})
	}

	c := Default()
	c.RsIn, c.RsOut = "1x0e", "1x0o"
	_, err := c.NewLayer(rng, pool)
	require.ErrorContains(t, err, "no equivariant path")
}

func TestNewClustering(t *testing.T) {
	c := Default()
	must.M1(c.ParseSettings("max_parallelism=0"))
	pool := c.NewPool()
	assert.False(t, pool.IsEnabled())

	positions := equivtest.RandomVectors(rand.New(rand.NewPCG(42, 1)), 10)
	batch := make([]int, len(positions))
	result := c.NewPooling(pool).Pool(positions, batch, nil, graphs.RadiusGraph(positions, batch, c.GraphRadius, false))
	assert.Len(t, result.Positions, 5)

	labels := c.NewSymmetricKMeans(7).Forward(positions, batch)
	assert.Len(t, labels, len(positions))
}
