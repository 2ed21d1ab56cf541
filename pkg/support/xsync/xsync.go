// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package xsync implements some extra synchronization tools.
package xsync

import "sync"

// Latch implements a "latch" synchronization mechanism.
//
// A Latch is a signal that can be waited for until it is triggered.
// Once triggered it never changes state, it's forever triggered.
type Latch struct {
	muTrigger sync.Mutex
	wait      chan struct{}
}

// NewLatch returns an un-triggered latch.
func NewLatch() *Latch {
	return &Latch{
		wait: make(chan struct{}),
	}
}

// Trigger latch.
func (l *Latch) Trigger() {
	l.muTrigger.Lock()
	defer l.muTrigger.Unlock()
	if l.Test() {
		return
	}
	close(l.wait)
}

// Wait waits for the latch to be triggered.
func (l *Latch) Wait() {
	<-l.wait
}

// Test checks whether the latch has been triggered.
func (l *Latch) Test() bool {
	select {
	case <-l.wait:
		return true
	default:
		return false
	}
}

// LatchWithValue is a Latch that carries a value set when it is triggered.
type LatchWithValue[T any] struct {
	value T
	latch *Latch
}

// NewLatchWithValue returns an un-triggered latch.
func NewLatchWithValue[T any]() *LatchWithValue[T] {
	return &LatchWithValue[T]{latch: NewLatch()}
}

// Trigger latch and saves the associated value. Only the first trigger has an effect.
func (l *LatchWithValue[T]) Trigger(value T) {
	l.latch.muTrigger.Lock()
	defer l.latch.muTrigger.Unlock()
	if l.latch.Test() {
		return
	}
	l.value = value
	close(l.latch.wait)
}

// Wait waits for the latch to be triggered and returns its value.
func (l *LatchWithValue[T]) Wait() T {
	l.latch.Wait()
	return l.value
}

// Test checks whether the latch has been triggered.
func (l *LatchWithValue[T]) Test() bool {
	return l.latch.Test()
}

// Memo caches the results of a pure function of a comparable key.
//
// The first caller for a key computes the value, concurrent callers for the same key wait on the
// corresponding latch instead of computing it again. It is used for the Clebsch-Gordan and Wigner
// fitting caches, which are expensive to build and never change.
//
// If the compute function panics, the key is removed so a later call can retry, and the panic is
// propagated both to the caller that computed it and to the callers waiting on it.
type Memo[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]*LatchWithValue[memoResult[V]]
	compute func(K) V
}

// memoResult is either a value or the panic raised while computing it.
type memoResult[V any] struct {
	value      V
	failed     bool
	panicValue any
}

// NewMemo creates a Memo backed by compute.
func NewMemo[K comparable, V any](compute func(K) V) *Memo[K, V] {
	return &Memo[K, V]{
		entries: make(map[K]*LatchWithValue[memoResult[V]]),
		compute: compute,
	}
}

// Get returns the value for key, computing it if needed.
func (m *Memo[K, V]) Get(key K) V {
	m.mu.Lock()
	entry, found := m.entries[key]
	if found {
		m.mu.Unlock()
		result := entry.Wait()
		if result.failed {
			panic(result.panicValue)
		}
		return result.value
	}
	entry = NewLatchWithValue[memoResult[V]]()
	m.entries[key] = entry
	m.mu.Unlock()

	completed := false
	defer func() {
		if completed {
			return
		}
		panicValue := recover()
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		entry.Trigger(memoResult[V]{failed: true, panicValue: panicValue})
		panic(panicValue)
	}()
	value := m.compute(key)
	completed = true
	entry.Trigger(memoResult[V]{value: value})
	return value
}

// Len returns the number of keys computed or being computed.
func (m *Memo[K, V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
