// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package metrics defines the Prometheus metrics updated by the layers, clustering and coarsening code.
//
// Metrics are registered with promauto on the default registry, so a program only needs to expose
// promhttp.Handler() to publish them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Layer label values.
const (
	LayerConvolution = "convolution"
	LayerWTPConv     = "wtp_conv"

	AlgorithmKMeans          = "kmeans"
	AlgorithmSymmetricKMeans = "symmetric_kmeans"
)

var (
	// ConvolutionEdges counts the edges (messages) processed by the message passing layers.
	ConvolutionEdges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "e3nn_convolution_edges_total",
			Help: "Total number of edge messages computed by message passing layers",
		},
		[]string{"layer"},
	)

	// KMeansIterations observes the number of Lloyd iterations until convergence, per batch entry.
	KMeansIterations = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "e3nn_kmeans_iterations",
			Help:    "Number of Lloyd iterations run per batch entry",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
		[]string{"algorithm"},
	)

	// CoarsenedEdges counts the edges produced by graph coarsening.
	CoarsenedEdges = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "e3nn_coarsened_edges_total",
			Help: "Total number of deduplicated edges produced by graph coarsening",
		},
	)

	// ClebschGordanComputed counts the Clebsch-Gordan bases computed (cache misses).
	ClebschGordanComputed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "e3nn_clebsch_gordan_computed_total",
			Help: "Number of Clebsch-Gordan bases computed",
		},
	)
)
