// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package batching holds the bookkeeping of batched point clouds: which points belong to each graph
// instance, and the running offsets that turn per-instance ids into globally unique ones.
package batching

import (
	"slices"

	"github.com/gomlx/exceptions"
)

// NumEntries returns the number of batch entries: max(batch)+1, or 0 for an empty batch.
// It panics on negative ids.
func NumEntries(batch []int) int {
	n := 0
	for ii, b := range batch {
		if b < 0 {
			exceptions.Panicf("batching: batch ids must be >= 0, got batch[%d]=%d", ii, b)
		}
		n = max(n, b+1)
	}
	return n
}

// Segments returns the indices of the points of each batch entry, in increasing order.
// Batch ids don't need to be sorted. Entries with no points get an empty segment.
func Segments(batch []int) [][]int {
	segments := make([][]int, NumEntries(batch))
	for ii, b := range batch {
		segments[b] = append(segments[b], ii)
	}
	return segments
}

// Offsets returns the exclusive prefix sum of counts: offsets[b] = Σ_{b' < b} counts[b'].
//
// Adding offsets[b] to the ids local to entry b makes them globally unique.
func Offsets(counts []int) []int {
	offsets := make([]int, len(counts))
	var sum int
	for ii, count := range counts {
		if count < 0 {
			exceptions.Panicf("batching.Offsets: counts must be >= 0, got counts[%d]=%d", ii, count)
		}
		offsets[ii] = sum
		sum += count
	}
	return offsets
}

// Total returns the sum of counts.
func Total(counts []int) int {
	var sum int
	for _, count := range counts {
		sum += count
	}
	return sum
}

// Globalize returns local ids offset by the offset of their batch entry: global[ii] = offsets[batch[ii]] + local[ii].
func Globalize(batch, local, offsets []int) []int {
	if len(batch) != len(local) {
		exceptions.Panicf("batching.Globalize: batch (%d) and local ids (%d) must have the same length",
			len(batch), len(local))
	}
	global := slices.Clone(local)
	for ii, b := range batch {
		if b < 0 || b >= len(offsets) {
			exceptions.Panicf("batching.Globalize: batch[%d]=%d out of range for %d entries", ii, b, len(offsets))
		}
		global[ii] += offsets[b]
	}
	return global
}
