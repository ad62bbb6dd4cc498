// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fmhatest

import (
	"math"
	"testing"

	"github.com/gomlx/streamattn/pkg/core/dtypes"
	"github.com/gomlx/streamattn/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOffsets(t *testing.T) {
	assert.Equal(t, []int32{0, 3, 3, 8}, tensors.CopyFlatData[int32](Offsets(3, 0, 5)))
	assert.Equal(t, []int64{0, 2}, tensors.CopyFlatData[int64](OffsetsInt64(2)))
	assert.Equal(t, []int{0, 1, 3}, CumulativeOffsets(1, 2))
}

func TestPackedQKVDeterministic(t *testing.T) {
	a := PackedQKV(dtypes.Float32, 7, 5, 2, 3, 16, 1)
	b := PackedQKV(dtypes.Float32, 7, 5, 2, 3, 16, 1)
	c := PackedQKV(dtypes.Float32, 8, 5, 2, 3, 16, 1)
	require.True(t, a.Equal(b))
	require.False(t, a.Equal(c))
	for _, v := range a.ToFloat64() {
		require.True(t, v >= -1 && v < 1)
	}
	half := PackedQKV(dtypes.Float16, 7, 5, 2, 3, 16, 1)
	require.True(t, half.ToFloat64()[0] != 0 || half.ToFloat64()[1] != 0)
}

// With identical keys every weight is uniform: the context is the mean of the values.
func TestAttentionUniform(t *testing.T) {
	qkv := PackedQKV(dtypes.Float32, 1, 4, 1, 3, 16, 1)
	key := make([]float32, 16)
	for token := range 4 {
		SetToken(qkv, token, 0, 1, key)
	}
	ref := Attention(qkv, []int{0, 4}, 0.25, false, nil, 1)
	values := qkv.ToFloat64()
	for k := range 16 {
		var mean float64
		for token := range 4 {
			mean += values[(token*3+2)*16+k] / 4
		}
		assert.InDelta(t, mean, ref.Context[k], 1e-12)
	}
	assert.InDelta(t, math.Log(4), ref.LogSumExp[0][0], 1e-12)

	causal := Attention(qkv, []int{0, 4}, 0.25, true, nil, 1)
	assert.InDelta(t, 0, causal.LogSumExp[0][0], 1e-12)
	assert.InDelta(t, values[2*16], causal.Context[0], 1e-12)
}
