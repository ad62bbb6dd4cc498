// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"testing"

	"github.com/gomlx/streamattn/pkg/core/dtypes"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	invalidShape := Invalid()
	require.False(t, invalidShape.Ok())

	shape0 := Make(dtypes.Float64)
	require.True(t, shape0.Ok())
	require.True(t, shape0.IsScalar())
	require.Equal(t, 0, shape0.Rank())
	require.Equal(t, 1, shape0.Size())
	require.Equal(t, 8, int(shape0.Memory()))

	shape1 := Make(dtypes.Float16, 4, 3, 2)
	require.False(t, shape1.IsScalar())
	require.Equal(t, 3, shape1.Rank())
	require.Equal(t, 4*3*2, shape1.Size())
	require.Equal(t, 2*4*3*2, int(shape1.Memory()))
	require.Equal(t, []int{6, 2, 1}, shape1.Strides())
	require.Equal(t, "(Float16)[4 3 2]", shape1.String())

	empty := Make(dtypes.Float32, 0, 2, 16)
	require.Equal(t, 0, empty.Size())
	require.Panics(t, func() { Make(dtypes.Float32, -1) })
}

func TestDim(t *testing.T) {
	shape := Make(dtypes.Float32, 4, 3, 2)
	require.Equal(t, 4, shape.Dim(0))
	require.Equal(t, 2, shape.Dim(2))
	require.Equal(t, 4, shape.Dim(-3))
	require.Equal(t, 2, shape.Dim(-1))
	require.Panics(t, func() { _ = shape.Dim(3) })
	require.Panics(t, func() { _ = shape.Dim(-4) })
}

func TestCheck(t *testing.T) {
	shape := Make(dtypes.Float16, 10, 2, 4, 64)
	require.NoError(t, shape.Check(dtypes.Float16, UncheckedAxis, 2, 4, 64))
	require.Error(t, shape.Check(dtypes.Float32, 10, 2, 4, 64))
	require.Error(t, shape.CheckDims(10, 2, 3, 64))
	require.Error(t, shape.CheckDims(10, 2, 4))
	require.True(t, shape.Equal(shape.Clone()))
	require.False(t, shape.Equal(Make(dtypes.Float16, 10, 2, 3, 64)))
}
