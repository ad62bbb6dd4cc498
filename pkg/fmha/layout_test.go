// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fmha

import (
	"testing"

	"github.com/gomlx/streamattn/pkg/core/tensors"
	"github.com/gomlx/streamattn/pkg/fmha/fmhatest"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBatchLayout(t *testing.T) {
	layout, err := NewBatchLayout([]int{0, 3, 3, 8}, 8)
	require.NoError(t, err)
	assert.Equal(t, 3, layout.BatchSize())
	assert.Equal(t, 8, layout.TotalTokens())
	assert.Equal(t, 5, layout.MaxSequenceLength())
	assert.Equal(t, 3, layout.SequenceStart(1))
	assert.Equal(t, 0, layout.SequenceLength(1))
	assert.Equal(t, 5, layout.SequenceLength(2))
	assert.Equal(t, []int{0, 3, 3, 8}, layout.Offsets())

	testCases := []struct {
		name        string
		offsets     []int
		totalTokens int
	}{
		{"empty", nil, 0},
		{"single offset", []int{0}, 0},
		{"non-zero start", []int{1, 3}, 3},
		{"decreasing", []int{0, 4, 2}, 2},
		{"total mismatch", []int{0, 3, 5}, 6},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewBatchLayout(tc.offsets, tc.totalTokens)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidBatchLayout), "got %v", err)
		})
	}
}

func TestBatchLayoutFromTensor(t *testing.T) {
	layout, err := BatchLayoutFromTensor(fmhatest.Offsets(3, 5), 8)
	require.NoError(t, err)
	assert.Equal(t, 2, layout.BatchSize())

	layout, err = BatchLayoutFromTensor(fmhatest.OffsetsInt64(3, 5), 8)
	require.NoError(t, err)
	assert.Equal(t, 5, layout.MaxSequenceLength())

	for _, offsets := range []*tensors.Tensor{
		nil,
		tensors.FromFlatDataAndDimensions([]int32{0, 3, 8}, 1, 3),
		tensors.FromFlatDataAndDimensions([]float32{0, 3, 8}, 3),
	} {
		_, err = BatchLayoutFromTensor(offsets, 8)
		assert.True(t, errors.Is(err, ErrInvalidBatchLayout), "offsets %s: got %v", offsets, err)
	}
}
