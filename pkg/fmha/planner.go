// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fmha

import (
	"fmt"
	"slices"

	"github.com/pkg/errors"
)

// QueryTileRows is the number of query rows processed by one unit of work.
const QueryTileRows = 64

// SupportedHeadDims lists the head dimensions the kernel handles.
var SupportedHeadDims = []int{16, 32, 64, 128}

// TilePlan is the tiling chosen for a call.
type TilePlan struct {
	HeadDim int

	// PaddedSeqLen is the sequence length every sequence is padded to: a multiple of 128 for short
	// sequences, a multiple of BaseTileWidth otherwise.
	PaddedSeqLen int

	// BaseTileWidth is the widest key tile processed in one step: 128 for head dimension 128, 256 otherwise.
	BaseTileWidth int

	// Looped is set when PaddedSeqLen exceeds BaseTileWidth, and keys are then visited in several
	// tiles whose running softmax state is carried in the temporary accumulators.
	Looped bool
}

// PlanTiles selects the padded sequence length and base tile width for the longest sequence and head dimension.
func PlanTiles(maxSeqLen, headDim int) (TilePlan, error) {
	if !slices.Contains(SupportedHeadDims, headDim) {
		return TilePlan{}, errors.Wrapf(ErrUnsupportedHeadDim, "head dimension %d not in %v", headDim, SupportedHeadDims)
	}
	if maxSeqLen < 1 {
		return TilePlan{}, errors.Wrapf(ErrInvalidBatchLayout, "max sequence length must be >= 1, got %d", maxSeqLen)
	}
	base := 256
	if headDim == 128 {
		base = 128
	}
	var padded int
	switch {
	case maxSeqLen <= 128:
		padded = 128
	case maxSeqLen <= 256:
		padded = 256
	default:
		padded = (maxSeqLen + base - 1) / base * base
	}
	return TilePlan{
		HeadDim:       headDim,
		PaddedSeqLen:  padded,
		BaseTileWidth: base,
		Looped:        padded > base,
	}, nil
}

// KeyTileWidth is the number of keys visited per step.
func (p TilePlan) KeyTileWidth() int { return min(p.BaseTileWidth, p.PaddedSeqLen) }

// NumKeyTiles is the number of key tiles covering the padded sequence.
func (p TilePlan) NumKeyTiles() int { return p.PaddedSeqLen / p.KeyTileWidth() }

// NumQueryTiles is the number of query tiles covering the padded sequence.
func (p TilePlan) NumQueryTiles() int { return p.PaddedSeqLen / QueryTileRows }

// String implements fmt.Stringer.
func (p TilePlan) String() string {
	return fmt.Sprintf("padded=%d base=%d key_tiles=%d looped=%v", p.PaddedSeqLen, p.BaseTileWidth, p.NumKeyTiles(), p.Looped)
}
