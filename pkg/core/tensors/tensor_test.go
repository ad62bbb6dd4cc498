// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"math"
	"testing"

	"github.com/gomlx/streamattn/pkg/core/dtypes"
	"github.com/gomlx/streamattn/pkg/core/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestFromFlatDataAndDimensions(t *testing.T) {
	offsets := FromFlatDataAndDimensions([]int32{0, 3, 8}, 3)
	require.Equal(t, dtypes.Int32, offsets.DType())
	require.Equal(t, 1, offsets.Rank())
	require.Equal(t, []int32{0, 3, 8}, CopyFlatData[int32](offsets))

	_, err := Flat[int64](offsets)
	require.Error(t, err)
	require.Panics(t, func() { FromFlatDataAndDimensions([]float32{1, 2, 3}, 2, 2) })
}

func TestFillAndZero(t *testing.T) {
	lse := FromShape(shapes.Make(dtypes.Float32, 2, 3))
	lse.FillFloat(math.Inf(-1))
	for _, v := range lse.ToFloat64() {
		assert.True(t, math.IsInf(v, -1))
	}
	lse.Zero()
	assert.Equal(t, make([]float32, 6), CopyFlatData[float32](lse))

	half := FromScalarAndDimensions(float16.Fromfloat32(0.5), 4)
	assert.Equal(t, 0.5, half.FloatAt(3))
	require.Panics(t, func() { FromShape(shapes.Make(dtypes.Int32, 2)).FillFloat(1) })
}

func TestInDeltaAndEqual(t *testing.T) {
	a := FromFlatDataAndDimensions([]float32{1, 2, 3}, 3)
	b := FromFlatDataAndDimensions([]float32{1, 2, 3.001}, 3)
	assert.True(t, a.InDelta(b, 1e-2))
	assert.False(t, a.InDelta(b, 1e-4))
	assert.False(t, a.Equal(b))
	assert.True(t, a.Equal(FromFlatDataAndDimensions([]float32{1, 2, 3}, 3)))
	assert.False(t, a.InDelta(FromFlatDataAndDimensions([]float32{1, 2, 3}, 1, 3), 1))

	nan := FromFlatDataAndDimensions([]float32{1, 2, float32(math.NaN())}, 3)
	assert.False(t, a.InDelta(nan, 1e6))
}
