// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool runs loops over edges or points in parallel, with a soft limit on the number of
// goroutines.
package workerspool

import (
	"runtime"
	"sync"
)

// Pool limits the number of goroutines used by ParallelFor.
//
// A zero maxParallelism disables parallelism, and every loop runs inline in the caller's goroutine.
// A negative maxParallelism means unlimited.
type Pool struct {
	maxParallelism int
	mu             sync.Mutex
	cond           sync.Cond // Signaled whenever numRunning is decreased.
	numRunning     int
}

// New return a new Pool of workers with the default parallelism (runtime.NumCPU()).
func New() *Pool {
	w := &Pool{}
	w.maxParallelism = runtime.NumCPU()
	w.cond = sync.Cond{L: &w.mu}
	return w
}

// Default is the pool shared by the convolution layers.
var Default = New()

// IsEnabled returns whether parallelism is enabled (maxParallelism is != 0)
func (w *Pool) IsEnabled() bool {
	return w.maxParallelism != 0
}

// MaxParallelism is a soft-target for parallelism.
// If set to 0 parallelism is disabled.
// If set to -1 parallelism is unlimited.
func (w *Pool) MaxParallelism() int {
	return w.maxParallelism
}

// SetMaxParallelism sets the maxParallelism.
//
// It should only be changed while no loops are running.
func (w *Pool) SetMaxParallelism(maxParallelism int) {
	w.maxParallelism = maxParallelism
}

// lockedIsFull returns whether all available workers are in use.
//
// It must be called with Pool.mu acquired.
func (w *Pool) lockedIsFull() bool {
	if w.maxParallelism < 0 {
		return false
	}
	return w.numRunning >= w.maxParallelism
}

// Range is a half-open interval [Start, End) of loop indices.
type Range struct {
	Start, End int
}

// Len of the range.
func (r Range) Len() int { return r.End - r.Start }

// Split n indices into chunks of at least minChunk elements, at most one chunk per worker.
//
// The split only depends on n, minChunk and the pool parallelism, so results reduced in chunk
// order are reproducible for a fixed configuration.
func (w *Pool) Split(n, minChunk int) []Range {
	if n <= 0 {
		return nil
	}
	if minChunk < 1 {
		minChunk = 1
	}
	numChunks := 1
	if w.maxParallelism > 1 {
		numChunks = w.maxParallelism
	} else if w.maxParallelism < 0 {
		numChunks = runtime.NumCPU()
	}
	if maxChunks := (n + minChunk - 1) / minChunk; numChunks > maxChunks {
		numChunks = maxChunks
	}
	ranges := make([]Range, numChunks)
	start := 0
	for ii := range ranges {
		size := n / numChunks
		if ii < n%numChunks {
			size++
		}
		ranges[ii] = Range{Start: start, End: start + size}
		start += size
	}
	return ranges
}

// ParallelFor calls fn once per range of Split(n, minChunk), and returns when all calls finished.
//
// fn receives the index of the chunk, so it can write to per-chunk buffers without locking.
func (w *Pool) ParallelFor(n, minChunk int, fn func(chunk int, r Range)) {
	ranges := w.Split(n, minChunk)
	if len(ranges) <= 1 || !w.IsEnabled() {
		for chunk, r := range ranges {
			fn(chunk, r)
		}
		return
	}

	var wg sync.WaitGroup
	for chunk, r := range ranges {
		wg.Add(1)
		w.waitToStart(func() {
			defer wg.Done()
			fn(chunk, r)
		})
	}
	wg.Wait()
}

// waitToStart waits until there is a worker available to run the task.
func (w *Pool) waitToStart(task func()) {
	if w.maxParallelism < 0 {
		go task()
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.lockedIsFull() {
		w.cond.Wait()
	}
	w.numRunning++
	go func() {
		task()
		w.mu.Lock()
		w.numRunning--
		w.cond.Signal()
		w.mu.Unlock()
	}()
}
