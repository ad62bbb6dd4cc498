// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package random implements the counter-based Philox4x32-10 generator and a
// Generator that hands out disjoint ranges of its counter space.
//
// Philox is stateless: a draw is a pure function of (seed, subsequence, counter), so
// concurrent consumers that agree on the indexing scheme never need to synchronize.
package random

const (
	philoxM0 uint32 = 0xD2511F53
	philoxM1 uint32 = 0xCD9E8D57
	philoxW0 uint32 = 0x9E3779B9
	philoxW1 uint32 = 0xBB67AE85

	// PhiloxRounds is the number of rounds of the Philox4x32 variant implemented.
	PhiloxRounds = 10
)

func mulHiLo(a, b uint32) (hi, lo uint32) {
	product := uint64(a) * uint64(b)
	return uint32(product >> 32), uint32(product)
}

// Philox4x32 computes one Philox4x32-10 block: 4 random uint32 values for the given 128-bit counter and 64-bit key.
func Philox4x32(counter [4]uint32, key [2]uint32) [4]uint32 {
	for range PhiloxRounds {
		hi0, lo0 := mulHiLo(philoxM0, counter[0])
		hi1, lo1 := mulHiLo(philoxM1, counter[2])
		counter = [4]uint32{
			hi1 ^ counter[1] ^ key[0],
			lo1,
			hi0 ^ counter[3] ^ key[1],
			lo0,
		}
		key[0] += philoxW0
		key[1] += philoxW1
	}
	return counter
}

// PhiloxState identifies a stream of Philox blocks: the key (Seed) and the first counter (Offset)
// reserved for a consumer.
type PhiloxState struct {
	Seed   uint64
	Offset uint64
}

// Block returns the Philox block number `counter` (relative to the state's Offset) of the given subsequence.
//
// The 128-bit Philox counter is laid out as (Offset+counter) in the low 64 bits and the subsequence
// in the high 64 bits, so different subsequences never overlap.
func (s PhiloxState) Block(subsequence, counter uint64) [4]uint32 {
	c := s.Offset + counter
	return Philox4x32(
		[4]uint32{uint32(c), uint32(c >> 32), uint32(subsequence), uint32(subsequence >> 32)},
		[2]uint32{uint32(s.Seed), uint32(s.Seed >> 32)})
}

// Uint32 returns the random 32-bit value at position `idx` of the subsequence: lane idx%4 of block idx/4.
func (s PhiloxState) Uint32(subsequence, idx uint64) uint32 {
	return s.Block(subsequence, idx/4)[idx%4]
}

// Uint16 returns the random 16-bit value at position `idx` of the subsequence: half-word idx%8 of block idx/8.
// Even half-words are the low 16 bits of a lane, odd ones the high 16 bits.
func (s PhiloxState) Uint16(subsequence, idx uint64) uint16 {
	lane := s.Block(subsequence, idx/8)[(idx%8)/2]
	if idx%2 == 1 {
		return uint16(lane >> 16)
	}
	return uint16(lane)
}
