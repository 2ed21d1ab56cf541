// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// e3pool runs one message passing layer and one pooling step over random batched point clouds, and reports the
// sizes of the graphs, the timings and the equivariance error of the pipeline for a random rotation.
//
// Usage:
//
//	e3pool -config=layer.yaml -set="radial=bspline;groups=2" -points=200 -batches=4
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gomlx/e3nn/pkg/ml/config"
	"github.com/gomlx/exceptions"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

var (
	flagConfig = flag.String("config", "", "YAML file with the configuration. "+
		"If empty the default configuration is used.")
	flagSet = flag.String("set", "", "Settings applied on top of the configuration: a list of \"param=value\" "+
		"separated by \";\", or \"file:<path>\" to read them from a file.")
	flagPoints   = flag.Int("points", 100, "Number of points per batch entry.")
	flagBatches  = flag.Int("batches", 2, "Number of batch entries (point clouds).")
	flagRadius   = flag.Float64("radius", 0, "Radius of the graph. If 0, the configured graph_radius is used.")
	flagSeed     = flag.Uint64("seed", 42, "Seed of the random point clouds, parameters and rotation.")
	flagFPSRatio = flag.Float64("fps_ratio", 0, "Fraction of points kept by pooling. If 0, the configured fps_ratio is used.")
	flagParams   = flag.Bool("params", false, "Lists the configuration.")
	flagMetrics  = flag.Bool("metrics", true, "Lists the metrics collected during the run.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if *flagPoints <= 0 || *flagBatches <= 0 {
		klog.Errorf("-points and -batches must be > 0. See 'e3pool -help'.")
		os.Exit(1)
	}

	c := must.M1(config.Load(*flagConfig))
	paramsSet := must.M1(c.ParseSettings(*flagSet))
	if *flagRadius > 0 {
		c.GraphRadius = *flagRadius
		paramsSet = append(paramsSet, config.ParamGraphRadius)
	}
	if *flagFPSRatio > 0 {
		c.FPSRatio = *flagFPSRatio
		paramsSet = append(paramsSet, config.ParamFPSRatio)
	}
	must.M(c.Validate())
	klog.V(1).Infof("parameters set: %v", paramsSet)

	if *flagParams {
		printParams(c)
	}
	var r *report
	err := exceptions.TryCatch[error](func() {
		r = run(c, *flagPoints, *flagBatches, *flagSeed)
	})
	if err != nil {
		klog.Errorf("Failed: %+v", err)
		os.Exit(1)
	}
	printReport(r)
	if *flagMetrics {
		printMetrics()
	}
	fmt.Println()
}
