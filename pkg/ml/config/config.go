// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package config holds the hyperparameters of a message passing and pooling pipeline, loaded from YAML files
// and overridden with "param=value" settings, and builds the corresponding layers.
//
// All parameters are flat, and are named by the Param* constants, which are also their YAML keys.
package config

import (
	"bytes"
	"io"
	"math/rand/v2"
	"runtime"
	"slices"
	"strings"

	"github.com/gomlx/e3nn/internal/workerspool"
	"github.com/gomlx/e3nn/pkg/core/graphs"
	"github.com/gomlx/e3nn/pkg/core/rs"
	"github.com/gomlx/e3nn/pkg/ml/activations"
	"github.com/gomlx/e3nn/pkg/ml/cluster"
	"github.com/gomlx/e3nn/pkg/ml/conv"
	"github.com/gomlx/e3nn/pkg/ml/kernel"
	"github.com/gomlx/e3nn/pkg/ml/pooling"
	"github.com/gomlx/e3nn/pkg/ml/radial"
	"github.com/gomlx/e3nn/pkg/support/fsutil"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"
)

const (
	// ParamLayer selects the message passing layer: LayerConvolution or LayerWTPConv.
	ParamLayer = "layer"

	// ParamRsIn and ParamRsOut are the input and output types of the layer, e.g. "2x0e + 1x1o".
	ParamRsIn  = "rs_in"
	ParamRsOut = "rs_out"

	// ParamGroups is the number of groups of channels. Each group gets its own kernel.
	// Only supported by LayerConvolution.
	ParamGroups = "groups"

	// ParamLMax is the maximum degree of the spherical harmonics of the edge vectors used by LayerWTPConv.
	ParamLMax = "l_max"

	// ParamRadial selects the radial model: RadialConstant, RadialGaussian or RadialBSpline.
	ParamRadial = "radial"

	ParamRadialNumBases      = "radial_num_bases"
	ParamRadialMaxRadius     = "radial_max_radius"
	ParamRadialHiddenLayers  = "radial_hidden_layers"
	ParamRadialHiddenSize    = "radial_hidden_size"
	ParamRadialBSplineDegree = "radial_bspline_degree"

	// ParamRadialActivation is the activation of the hidden layers of the radial MLP, by name (e.g. "swish"), see
	// activations.Type.
	ParamRadialActivation = "radial_activation"

	// ParamGraphRadius is the radius used to build radius graphs over the point clouds.
	ParamGraphRadius = "graph_radius"

	// ParamFPSRatio is the fraction of points of each batch entry kept as clusters by pooling.
	ParamFPSRatio = "fps_ratio"

	ParamKMeansTolerance     = "kmeans_tolerance"
	ParamKMeansMaxIterations = "kmeans_max_iterations"

	// ParamSymmetricRandIter is the number of restarts of SymmetricKMeans per batch entry.
	ParamSymmetricRandIter = "symmetric_rand_iter"

	// ParamMaxParallelism is the parallelism of the worker pool: 0 runs everything inline, -1 is unlimited.
	ParamMaxParallelism = "max_parallelism"
)

// Values of ParamLayer.
const (
	LayerConvolution = "convolution"
	LayerWTPConv     = "wtp_conv"
)

// Values of ParamRadial.
const (
	RadialConstant = "constant"
	RadialGaussian = "gaussian"
	RadialBSpline  = "bspline"
)

// ParamNames lists all the parameters, in the order they are marshaled.
var ParamNames = []string{
	ParamLayer, ParamRsIn, ParamRsOut, ParamGroups, ParamLMax,
	ParamRadial, ParamRadialNumBases, ParamRadialMaxRadius, ParamRadialHiddenLayers, ParamRadialHiddenSize,
	ParamRadialBSplineDegree, ParamRadialActivation,
	ParamGraphRadius, ParamFPSRatio, ParamKMeansTolerance, ParamKMeansMaxIterations, ParamSymmetricRandIter,
	ParamMaxParallelism,
}

// Config holds all the hyperparameters. Create it with Default, Load or Parse.
type Config struct {
	Layer  string `yaml:"layer"`
	RsIn   string `yaml:"rs_in"`
	RsOut  string `yaml:"rs_out"`
	Groups int    `yaml:"groups"`
	LMax   int    `yaml:"l_max"`

	Radial              string           `yaml:"radial"`
	RadialNumBases      int              `yaml:"radial_num_bases"`
	RadialMaxRadius     float64          `yaml:"radial_max_radius"`
	RadialHiddenLayers  int              `yaml:"radial_hidden_layers"`
	RadialHiddenSize    int              `yaml:"radial_hidden_size"`
	RadialBSplineDegree int              `yaml:"radial_bspline_degree"`
	RadialActivation    activations.Type `yaml:"radial_activation"`

	GraphRadius         float64 `yaml:"graph_radius"`
	FPSRatio            float64 `yaml:"fps_ratio"`
	KMeansTolerance     float64 `yaml:"kmeans_tolerance"`
	KMeansMaxIterations int     `yaml:"kmeans_max_iterations"`
	SymmetricRandIter   int     `yaml:"symmetric_rand_iter"`

	MaxParallelism int `yaml:"max_parallelism"`
}

// Default returns the default configuration: a Gaussian radial model convolution from "1x0e + 1x1o" to
// "1x0e + 1x1o + 1x2e", and pooling to half of the points.
func Default() *Config {
	return &Config{
		Layer:  LayerConvolution,
		RsIn:   "1x0e + 1x1o",
		RsOut:  "1x0e + 1x1o + 1x2e",
		Groups: 1,
		LMax:   3,

		Radial:              RadialGaussian,
		RadialNumBases:      10,
		RadialMaxRadius:     3.0,
		RadialHiddenLayers:  1,
		RadialHiddenSize:    100,
		RadialBSplineDegree: 3,
		RadialActivation:    activations.TypeSwish,

		GraphRadius:         1.5,
		FPSRatio:            0.5,
		KMeansTolerance:     1e-3,
		KMeansMaxIterations: 300,
		SymmetricRandIter:   10,

		MaxParallelism: runtime.NumCPU(),
	}
}

// Load reads the YAML configuration in filePath on top of the defaults, and validates it.
// Unknown keys are errors. An empty filePath returns the defaults.
func Load(filePath string) (*Config, error) {
	if filePath == "" {
		return Default(), nil
	}
	contents, err := fsutil.ReadFile(filePath)
	if err != nil {
		return nil, errors.WithMessage(err, "configuration")
	}
	c, err := Parse(contents)
	if err != nil {
		return nil, errors.WithMessagef(err, "configuration file %q", filePath)
	}
	return c, nil
}

// Parse the YAML configuration on top of the defaults, and validates it. Unknown keys are errors.
func Parse(contents []byte) (*Config, error) {
	c := Default()
	if err := c.decode(contents); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) decode(contents []byte) error {
	decoder := yaml.NewDecoder(bytes.NewReader(contents))
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil {
		if errors.Is(err, io.EOF) {
			// Empty document.
			return nil
		}
		return errors.Wrap(err, "failed to parse YAML configuration")
	}
	return nil
}

// Marshal returns the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	contents, err := yaml.Marshal(c)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal configuration")
	}
	return contents, nil
}

// ParseSettings applies the settings, a list of "param=value" separated by ";", e.g.
// "radial=bspline;radial_num_bases=8". Values are parsed as YAML scalars.
//
// An entry "file:<path>" reads settings from a file, one or more per line. Empty lines and lines starting with
// "#" are ignored.
//
// It returns the names of the parameters set, and the configuration is validated at the end.
func (c *Config) ParseSettings(settings string) (paramsSet []string, err error) {
	for _, setting := range strings.Split(settings, ";") {
		paramsSet, err = c.parseSetting(strings.TrimSpace(setting), paramsSet)
		if err != nil {
			return
		}
	}
	err = c.Validate()
	return
}

func (c *Config) parseSetting(setting string, paramsSet []string) ([]string, error) {
	if setting == "" {
		return paramsSet, nil
	}
	if filePath, found := strings.CutPrefix(setting, "file:"); found {
		contents, err := fsutil.ReadFile(filePath)
		if err != nil {
			return paramsSet, errors.WithMessage(err, "settings")
		}
		for _, line := range strings.Split(string(contents), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			for _, lineSetting := range strings.Split(line, ";") {
				paramsSet, err = c.parseSetting(strings.TrimSpace(lineSetting), paramsSet)
				if err != nil {
					return paramsSet, err
				}
			}
		}
		return paramsSet, nil
	}

	param, value, found := strings.Cut(setting, "=")
	if !found {
		return paramsSet, errors.Errorf("can't parse setting %q: the format is \"<param>=<value>\"", setting)
	}
	param = strings.TrimSpace(param)
	if !slices.Contains(ParamNames, param) {
		return paramsSet, errors.Errorf("unknown parameter %q in setting %q, known parameters are %v",
			param, setting, ParamNames)
	}
	if err := c.decode([]byte(param + ": " + strings.TrimSpace(value))); err != nil {
		return paramsSet, errors.WithMessagef(err, "failed to parse value for parameter %q", param)
	}
	return append(paramsSet, param), nil
}

// Validate checks the values of all parameters.
func (c *Config) Validate() error {
	if c.Layer != LayerConvolution && c.Layer != LayerWTPConv {
		return errors.Errorf("invalid %s %q: options are %q and %q", ParamLayer, c.Layer, LayerConvolution, LayerWTPConv)
	}
	if _, _, err := c.Rs(); err != nil {
		return err
	}
	if c.Groups < 1 {
		return errors.Errorf("%s must be >= 1, got %d", ParamGroups, c.Groups)
	}
	if c.Layer == LayerWTPConv && c.Groups != 1 {
		return errors.Errorf("layer %q doesn't support %s=%d", LayerWTPConv, ParamGroups, c.Groups)
	}
	if c.LMax < 0 {
		return errors.Errorf("%s must be >= 0, got %d", ParamLMax, c.LMax)
	}
	if _, err := c.RadialFactory(); err != nil {
		return err
	}
	if !(c.GraphRadius > 0) {
		return errors.Errorf("%s must be > 0, got %g", ParamGraphRadius, c.GraphRadius)
	}
	if !(c.FPSRatio > 0 && c.FPSRatio <= 1) {
		return errors.Errorf("%s must be in (0, 1], got %g", ParamFPSRatio, c.FPSRatio)
	}
	if !(c.KMeansTolerance > 0) {
		return errors.Errorf("%s must be > 0, got %g", ParamKMeansTolerance, c.KMeansTolerance)
	}
	if c.KMeansMaxIterations <= 0 {
		return errors.Errorf("%s must be > 0, got %d", ParamKMeansMaxIterations, c.KMeansMaxIterations)
	}
	if c.SymmetricRandIter <= 0 {
		return errors.Errorf("%s must be > 0, got %d", ParamSymmetricRandIter, c.SymmetricRandIter)
	}
	return nil
}

// Rs parses the input and output types.
func (c *Config) Rs() (rsIn, rsOut rs.Rs, err error) {
	rsIn, err = rs.Parse(c.RsIn)
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "invalid %s", ParamRsIn)
	}
	rsOut, err = rs.Parse(c.RsOut)
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "invalid %s", ParamRsOut)
	}
	return
}

// RadialFactory returns the factory of radial models configured.
func (c *Config) RadialFactory() (radial.Factory, error) {
	if c.Radial == RadialConstant {
		return radial.Constant, nil
	}
	var basisConfig *radial.Config
	switch c.Radial {
	case RadialGaussian:
		basisConfig = radial.Gaussian()
	case RadialBSpline:
		basisConfig = radial.BSpline()
	default:
		return nil, errors.Errorf("invalid %s %q: options are %q, %q and %q", ParamRadial, c.Radial,
			RadialConstant, RadialGaussian, RadialBSpline)
	}
	if !c.RadialActivation.IsAType() {
		return nil, errors.Errorf("invalid %s %d: options are %v", ParamRadialActivation, c.RadialActivation,
			activations.TypeStrings())
	}
	var factory radial.Factory
	err := exceptions.TryCatch[error](func() {
		factory = basisConfig.
			NumBases(c.RadialNumBases).
			MaxRadius(c.RadialMaxRadius).
			NumHiddenLayers(c.RadialHiddenLayers, c.RadialHiddenSize).
			BSplineDegree(c.RadialBSplineDegree).
			Activation(c.RadialActivation).
			Factory()
	})
	if err != nil {
		return nil, errors.WithMessage(err, "invalid radial model configuration")
	}
	return factory, nil
}

// Layer is a message passing layer built from a configuration.
type Layer interface {
	// RsIn and RsOut are the types of one group of channels.
	RsIn() rs.Rs
	RsOut() rs.Rs

	// Forward starts the configuration of a forward call.
	Forward(features *mat.Dense, edges graphs.EdgeIndex, edgeVectors []r3.Vec) *conv.Builder
}

// NewPool returns a worker pool with the configured parallelism.
func (c *Config) NewPool() *workerspool.Pool {
	pool := workerspool.New()
	pool.SetMaxParallelism(c.MaxParallelism)
	return pool
}

// NewLayer creates the configured layer, with parameters initialized from rng, running on pool.
func (c *Config) NewLayer(rng *rand.Rand, pool *workerspool.Pool) (Layer, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	rsIn, rsOut, _ := c.Rs()
	factory, _ := c.RadialFactory()
	var layer Layer
	err := exceptions.TryCatch[error](func() {
		switch {
		case c.Layer == LayerWTPConv:
			layer = conv.NewWTPConv(rsIn, rsOut, c.LMax, factory, rng).WithPool(pool)
		case c.Groups > 1:
			layer = conv.NewConvolution(kernel.NewGroup(c.Groups, rsIn, rsOut, factory, rng)).WithPool(pool)
		default:
			layer = conv.NewConvolution(kernel.New(rsIn, rsOut, factory, rng)).WithPool(pool)
		}
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create layer %q from %s to %s", c.Layer, rsIn, rsOut)
	}
	return layer, nil
}

// NewKMeans creates the configured KMeans, running on pool.
func (c *Config) NewKMeans(pool *workerspool.Pool) *cluster.KMeans {
	return cluster.NewKMeans().
		Tolerance(c.KMeansTolerance).
		MaxIterations(c.KMeansMaxIterations).
		WithPool(pool)
}

// NewSymmetricKMeans creates the configured SymmetricKMeans with the given seed.
func (c *Config) NewSymmetricKMeans(seed uint64) *cluster.SymmetricKMeans {
	s := cluster.NewSymmetricKMeans(c.SymmetricRandIter).Seed(seed).FPSRatio(c.FPSRatio)
	s.KMeans().Tolerance(c.KMeansTolerance).MaxIterations(c.KMeansMaxIterations)
	return s
}

// NewPooling creates the configured pooling, running its KMeans on pool.
func (c *Config) NewPooling(pool *workerspool.Pool) *pooling.Pooling {
	return pooling.New(c.NewKMeans(pool)).FPSRatio(c.FPSRatio)
}
