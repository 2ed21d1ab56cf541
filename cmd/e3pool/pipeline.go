// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/gomlx/e3nn/pkg/core/graphs"
	"github.com/gomlx/e3nn/pkg/core/o3"
	"github.com/gomlx/e3nn/pkg/core/rs"
	"github.com/gomlx/e3nn/pkg/ml/config"
	"github.com/gomlx/e3nn/pkg/ml/pooling"
	"github.com/janpfeifer/must"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
	"k8s.io/klog/v2"
)

// report of one run of the pipeline.
type report struct {
	numPoints, numBatches int
	numEdges              int
	numCoarseNodes        int
	numCoarseEdges        int
	numSymmetricGroups    int

	convTime, poolTime, symmetricTime time.Duration

	// Max absolute difference between rotating the outputs and running on rotated inputs.
	convEquivarianceError, poolEquivarianceError float64
	sameClassification                           bool
}

// stage holds the outputs of the pipeline for one set of inputs.
type stage struct {
	output *mat.Dense
	pooled pooling.Result
}

// run generates random point clouds and features, runs the configured layer and pooling, and then runs them again
// on rotated inputs to measure the equivariance error.
func run(c *config.Config, pointsPerBatch, numBatches int, seed uint64) *report {
	rng := rand.New(rand.NewPCG(seed, 0))
	pool := c.NewPool()
	layer := must.M1(c.NewLayer(rng, pool))
	pooler := c.NewPooling(pool)

	numPoints := pointsPerBatch * numBatches
	positions := make([]r3.Vec, numPoints)
	batch := make([]int, numPoints)
	// Point clouds with unit density.
	scale := math.Cbrt(float64(pointsPerBatch))
	for ii := range positions {
		positions[ii] = r3.Vec{X: rng.Float64(), Y: rng.Float64(), Z: rng.Float64()}
		positions[ii] = r3.Scale(scale, positions[ii])
		batch[ii] = ii / pointsPerBatch
	}
	features := rs.Randn(rng, numPoints, layer.RsIn().Repeat(c.Groups))
	edges := graphs.RadiusGraph(positions, batch, c.GraphRadius, false)

	r := &report{
		numPoints:  numPoints,
		numBatches: numBatches,
		numEdges:   edges.Len(),
	}
	runStage := func(positions []r3.Vec, features *mat.Dense, timed bool) stage {
		var s stage
		start := time.Now()
		s.output = layer.Forward(features, edges, graphs.EdgeVectors(positions, edges)).
			Size(graphs.Size{Centers: numPoints, Neighbors: numPoints}).
			Done()
		if timed {
			r.convTime = time.Since(start)
		}
		start = time.Now()
		s.pooled = pooler.Pool(positions, batch, s.output, edges)
		if timed {
			r.poolTime = time.Since(start)
		}
		return s
	}
	want := runStage(positions, features, true)
	r.numCoarseNodes = len(want.pooled.Positions)
	r.numCoarseEdges = want.pooled.Edges.Len()

	start := time.Now()
	labels := c.NewSymmetricKMeans(seed).Forward(want.pooled.Positions, want.pooled.Batch)
	r.symmetricTime = time.Since(start)
	for _, label := range labels {
		r.numSymmetricGroups = max(r.numSymmetricGroups, label+1)
	}

	angles := o3.RandAngles(rng)
	repIn := rs.Rep(layer.RsIn().Repeat(c.Groups), angles)
	repOut := rs.Rep(layer.RsOut().Repeat(c.Groups), angles)
	got := runStage(o3.RotateVectors(angles, positions), rotateRows(features, repIn), false)
	r.convEquivarianceError = maxAbsDiff(rotateRows(want.output, repOut), got.output)
	r.sameClassification = slices.Equal(want.pooled.Classification, got.pooled.Classification)
	if r.sameClassification {
		r.poolEquivarianceError = maxAbsDiff(rotateRows(want.pooled.Features, repOut), got.pooled.Features)
	} else {
		klog.Warningf("pooling classification changed under rotation: pooled features are not comparable")
	}
	return r
}

// rotateRows returns x · repᵀ.
func rotateRows(x, rep *mat.Dense) *mat.Dense {
	var rotated mat.Dense
	rotated.Mul(x, rep.T())
	return &rotated
}

// maxAbsDiff returns the L∞ distance between a and b.
func maxAbsDiff(a, b *mat.Dense) float64 {
	return floats.Distance(a.RawMatrix().Data, b.RawMatrix().Data, math.Inf(1))
}
