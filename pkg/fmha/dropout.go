// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fmha

import (
	"math"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/streamattn/pkg/ml/random"
	"github.com/pkg/errors"
)

// DropoutBits selects the width of the random draws compared against the keep threshold.
type DropoutBits int

const (
	// DropoutBits32 draws one 32-bit value per attention weight: 4 weights per Philox block.
	DropoutBits32 DropoutBits = 32

	// DropoutBits16 draws one 16-bit value per attention weight: 8 weights per Philox block.
	DropoutBits16 DropoutBits = 16
)

// PerBlock is the number of attention weights sampled from one Philox block.
func (b DropoutBits) PerBlock() int {
	switch b {
	case DropoutBits32:
		return 4
	case DropoutBits16:
		return 8
	}
	exceptions.Panicf("invalid DropoutBits %d", int(b))
	return 0
}

// CounterBudget is the number of Philox counters one score row of paddedSeqLen keys consumes.
// Every row uses its own subsequence, so this is also the amount reserved from the Generator per call.
func CounterBudget(paddedSeqLen int, bits DropoutBits) uint64 {
	perBlock := bits.PerBlock()
	return uint64((paddedSeqLen + perBlock - 1) / perBlock)
}

// DropoutState is the per-call dropout configuration: the keep threshold and the Philox stream
// reserved for the call.
//
// Element (bh, i, j) of the padded score matrices, where bh = batch*numHeads + head, is kept iff
// its draw is <= the threshold. The draw uses Philox subsequence bh*PaddedSeqLen+i and position j.
// It is a pure function of (seed, offset, bh, i, j).
type DropoutState struct {
	// KeepProbability is 1 - pDropout.
	KeepProbability float32

	// Threshold32 is floor(KeepProbability * (2^32-1)).
	Threshold32 uint32

	// Threshold16 is floor(KeepProbability * (2^16-1)).
	Threshold16 uint16

	// RescaleFactor is 1/KeepProbability, applied to kept weights.
	RescaleFactor float32

	Philox       random.PhiloxState
	Bits         DropoutBits
	PaddedSeqLen int
}

// NewDropoutState validates pDropout and computes the keep thresholds.
//
// pDropout must be in [0, 1). With pDropout == 0 the state is disabled and every element is kept.
func NewDropoutState(pDropout float32, philox random.PhiloxState, bits DropoutBits, paddedSeqLen int) (*DropoutState, error) {
	if math.IsNaN(float64(pDropout)) || pDropout < 0 || pDropout >= 1 {
		return nil, errors.Wrapf(ErrInvalidDropoutProbability, "dropout probability must be in [0, 1), got %g", pDropout)
	}
	if bits != DropoutBits32 && bits != DropoutBits16 {
		return nil, errors.Errorf("dropout bits must be 16 or 32, got %d", int(bits))
	}
	keep := 1 - pDropout
	return &DropoutState{
		KeepProbability: keep,
		Threshold32:     uint32(math.Floor(float64(keep) * float64(math.MaxUint32))),
		Threshold16:     uint16(math.Floor(float64(keep) * float64(math.MaxUint16))),
		RescaleFactor:   1 / keep,
		Philox:          philox,
		Bits:            bits,
		PaddedSeqLen:    paddedSeqLen,
	}, nil
}

// Enabled returns whether any element can be dropped.
func (d *DropoutState) Enabled() bool {
	return d != nil && d.KeepProbability < 1
}

func (d *DropoutState) subsequence(bh, i int) uint64 {
	return uint64(bh)*uint64(d.PaddedSeqLen) + uint64(i)
}

// Keep returns whether element (bh, i, j) of the score matrices survives dropout.
func (d *DropoutState) Keep(bh, i, j int) bool {
	if !d.Enabled() {
		return true
	}
	subsequence := d.subsequence(bh, i)
	if d.Bits == DropoutBits16 {
		return d.Philox.Uint16(subsequence, uint64(j)) <= d.Threshold16
	}
	return d.Philox.Uint32(subsequence, uint64(j)) <= d.Threshold32
}

// KeepRow fills mask[k] with Keep(bh, i, jStart+k), generating each Philox block only once.
func (d *DropoutState) KeepRow(bh, i, jStart int, mask []bool) {
	if !d.Enabled() {
		for k := range mask {
			mask[k] = true
		}
		return
	}
	subsequence := d.subsequence(bh, i)
	perBlock := d.Bits.PerBlock()
	var (
		block      [4]uint32
		blockIndex = -1
	)
	for k := range mask {
		j := jStart + k
		if b := j / perBlock; b != blockIndex {
			blockIndex = b
			block = d.Philox.Block(subsequence, uint64(b))
		}
		pos := j % perBlock
		if d.Bits == DropoutBits16 {
			lane := block[pos/2]
			var draw uint16
			if pos%2 == 1 {
				draw = uint16(lane >> 16)
			} else {
				draw = uint16(lane)
			}
			mask[k] = draw <= d.Threshold16
		} else {
			mask[k] = block[pos] <= d.Threshold32
		}
	}
}
