// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fmha

import (
	"github.com/gomlx/streamattn/pkg/core/dtypes"
	"github.com/gomlx/streamattn/pkg/core/tensors"
	"github.com/pkg/errors"
)

// BatchLayout describes a ragged batch of sequences packed back to back: sequence i occupies
// tokens [offsets[i], offsets[i+1]) of the packed buffer.
type BatchLayout struct {
	offsets []int
	maxLen  int
}

// NewBatchLayout validates the cumulative offsets against the number of packed tokens.
//
// offsets must have at least 2 entries, start at 0, be non-decreasing and end at totalTokens.
// Zero-length sequences are allowed.
func NewBatchLayout(offsets []int, totalTokens int) (*BatchLayout, error) {
	if len(offsets) < 2 {
		return nil, errors.Wrapf(ErrInvalidBatchLayout, "batch size must be > 0, got %d offsets", len(offsets))
	}
	if offsets[0] != 0 {
		return nil, errors.Wrapf(ErrInvalidBatchLayout, "offsets[0] must be 0, got %d", offsets[0])
	}
	maxLen := 0
	for ii := 1; ii < len(offsets); ii++ {
		length := offsets[ii] - offsets[ii-1]
		if length < 0 {
			return nil, errors.Wrapf(ErrInvalidBatchLayout,
				"offsets must be non-decreasing, got offsets[%d]=%d > offsets[%d]=%d",
				ii-1, offsets[ii-1], ii, offsets[ii])
		}
		maxLen = max(maxLen, length)
	}
	if last := offsets[len(offsets)-1]; last != totalTokens {
		return nil, errors.Wrapf(ErrInvalidBatchLayout,
			"last offset (%d) must equal the number of packed tokens (%d)", last, totalTokens)
	}
	l := &BatchLayout{offsets: make([]int, len(offsets)), maxLen: maxLen}
	copy(l.offsets, offsets)
	return l, nil
}

// BatchLayoutFromTensor reads the offsets from a rank-1 Int32 or Int64 tensor. See NewBatchLayout.
func BatchLayoutFromTensor(offsets *tensors.Tensor, totalTokens int) (*BatchLayout, error) {
	if offsets == nil {
		return nil, errors.Wrap(ErrInvalidBatchLayout, "nil offsets tensor")
	}
	if offsets.Rank() != 1 {
		return nil, errors.Wrapf(ErrInvalidBatchLayout, "offsets must have rank 1, got shape %s", offsets.Shape())
	}
	values := make([]int, offsets.Size())
	switch offsets.DType() {
	case dtypes.Int32:
		tensors.MustConstFlatData(offsets, func(flat []int32) {
			for ii, v := range flat {
				values[ii] = int(v)
			}
		})
	case dtypes.Int64:
		tensors.MustConstFlatData(offsets, func(flat []int64) {
			for ii, v := range flat {
				values[ii] = int(v)
			}
		})
	default:
		return nil, errors.Wrapf(ErrInvalidBatchLayout, "offsets must be Int32 or Int64, got %s", offsets.DType())
	}
	return NewBatchLayout(values, totalTokens)
}

// BatchSize is the number of sequences.
func (l *BatchLayout) BatchSize() int { return len(l.offsets) - 1 }

// SequenceStart is the index of the first packed token of sequence i.
func (l *BatchLayout) SequenceStart(i int) int { return l.offsets[i] }

// SequenceLength is the number of tokens of sequence i.
func (l *BatchLayout) SequenceLength(i int) int { return l.offsets[i+1] - l.offsets[i] }

// MaxSequenceLength is the length of the longest sequence.
func (l *BatchLayout) MaxSequenceLength() int { return l.maxLen }

// TotalTokens is the number of packed tokens.
func (l *BatchLayout) TotalTokens() int { return l.offsets[len(l.offsets)-1] }

// Offsets returns a copy of the cumulative offsets.
func (l *BatchLayout) Offsets() []int {
	offsets := make([]int, len(l.offsets))
	copy(offsets, l.offsets)
	return offsets
}
