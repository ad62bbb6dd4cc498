// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package random

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
	"time"
)

// Generator owns a Philox seed and a monotonic counter offset.
//
// Each consumer reserves a disjoint range of counters with ReservePhilox, so two consumers
// never observe the same random values. It is safe for concurrent use.
type Generator struct {
	mu     sync.Mutex
	seed   uint64
	offset uint64
}

// NewGenerator returns a Generator seeded from the system's cryptographic random source,
// or from the nanosecond clock if that fails.
func NewGenerator() *Generator {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return NewGeneratorWithSeed(uint64(time.Now().UTC().UnixNano()))
	}
	return NewGeneratorWithSeed(binary.LittleEndian.Uint64(buf[:]))
}

// NewGeneratorWithSeed returns a Generator with the given seed and offset 0.
func NewGeneratorWithSeed(seed uint64) *Generator {
	return &Generator{seed: seed}
}

// ReservePhilox returns the current state and advances the offset by `increment` counters.
//
// The returned state is what the caller uses to draw its values: counters
// [state.Offset, state.Offset+increment) are exclusively the caller's.
func (g *Generator) ReservePhilox(increment uint64) PhiloxState {
	g.mu.Lock()
	defer g.mu.Unlock()
	state := PhiloxState{Seed: g.seed, Offset: g.offset}
	g.offset += increment
	return state
}

// Seed returns the generator seed.
func (g *Generator) Seed() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.seed
}

// Offset returns the next counter offset to be reserved.
func (g *Generator) Offset() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.offset
}

// Reset sets the seed and rewinds the offset to 0.
func (g *Generator) Reset(seed uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seed = seed
	g.offset = 0
}

var (
	defaultGenerator     *Generator
	defaultGeneratorOnce sync.Once
)

// DefaultGenerator returns the process-wide Generator, created on first use with NewGenerator.
func DefaultGenerator() *Generator {
	defaultGeneratorOnce.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}
