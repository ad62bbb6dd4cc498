// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package random

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Known-answer vectors for Philox4x32-10 from the Random123 distribution.
func TestPhilox4x32KnownAnswers(t *testing.T) {
	testCases := []struct {
		name    string
		counter [4]uint32
		key     [2]uint32
		want    [4]uint32
	}{
		{"zeros", [4]uint32{0, 0, 0, 0}, [2]uint32{0, 0},
			[4]uint32{0x6627e8d5, 0xe169c58d, 0xbc57ac4c, 0x9b00dbd8}},
		{"ones", [4]uint32{0xffffffff, 0xffffffff, 0xffffffff, 0xffffffff}, [2]uint32{0xffffffff, 0xffffffff},
			[4]uint32{0x408f276d, 0x41c83b0e, 0xa20bc7c6, 0x6d5451fd}},
		{"pi", [4]uint32{0x243f6a88, 0x85a308d3, 0x13198a2e, 0x03707344}, [2]uint32{0xa4093822, 0x299f31d0},
			[4]uint32{0xd16cfe09, 0x94fdcceb, 0x5001e420, 0x24126ea1}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Philox4x32(tc.counter, tc.key))
		})
	}
}

func TestPhiloxStateIndexing(t *testing.T) {
	state := PhiloxState{Seed: 42, Offset: 7}
	block := state.Block(3, 2)
	for lane := range 4 {
		assert.Equal(t, block[lane], state.Uint32(3, uint64(8+lane)))
	}
	block16 := state.Block(3, 1)
	assert.Equal(t, uint16(block16[0]), state.Uint16(3, 8))
	assert.Equal(t, uint16(block16[0]>>16), state.Uint16(3, 9))
	assert.Equal(t, uint16(block16[3]>>16), state.Uint16(3, 15))

	// Offset shifts the stream by whole blocks.
	shifted := PhiloxState{Seed: 42, Offset: 8}
	assert.Equal(t, state.Block(3, 1), shifted.Block(3, 0))
	assert.NotEqual(t, state.Block(3, 0), state.Block(4, 0))
	assert.NotEqual(t, state.Block(3, 0), PhiloxState{Seed: 43, Offset: 7}.Block(3, 0))
}

func TestGeneratorReserve(t *testing.T) {
	g := NewGeneratorWithSeed(1234)
	first := g.ReservePhilox(10)
	second := g.ReservePhilox(5)
	assert.Equal(t, PhiloxState{Seed: 1234, Offset: 0}, first)
	assert.Equal(t, PhiloxState{Seed: 1234, Offset: 10}, second)
	assert.Equal(t, uint64(15), g.Offset())

	g.Reset(99)
	assert.Equal(t, PhiloxState{Seed: 99, Offset: 0}, g.ReservePhilox(1))
}

func TestGeneratorConcurrentReservations(t *testing.T) {
	g := NewGenerator()
	const numReservers, increment = 16, 3
	offsets := make([]uint64, numReservers)
	var wg sync.WaitGroup
	for ii := range numReservers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			offsets[ii] = g.ReservePhilox(increment).Offset
		}()
	}
	wg.Wait()
	seen := make(map[uint64]bool)
	for _, offset := range offsets {
		require.Zero(t, offset%increment)
		require.False(t, seen[offset], "offset %d reserved twice", offset)
		seen[offset] = true
	}
	assert.Equal(t, uint64(numReservers*increment), g.Offset())
	assert.Same(t, DefaultGenerator(), DefaultGenerator())
}
