// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fmha

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanTiles(t *testing.T) {
	testCases := []struct {
		maxSeqLen, headDim int
		padded, base       int
		looped             bool
		numKeyTiles        int
	}{
		{1, 64, 128, 256, false, 1},
		{5, 16, 128, 256, false, 1},
		{128, 128, 128, 128, false, 1},
		{129, 128, 256, 128, true, 2},
		{129, 64, 256, 256, false, 1},
		{256, 64, 256, 256, false, 1},
		{257, 64, 512, 256, true, 2},
		{257, 128, 384, 128, true, 3},
		{1000, 32, 1024, 256, true, 4},
	}
	for _, tc := range testCases {
		t.Run(fmt.Sprintf("len=%d,dim=%d", tc.maxSeqLen, tc.headDim), func(t *testing.T) {
			plan, err := PlanTiles(tc.maxSeqLen, tc.headDim)
			require.NoError(t, err)
			assert.Equal(t, tc.padded, plan.PaddedSeqLen)
			assert.Equal(t, tc.base, plan.BaseTileWidth)
			assert.Equal(t, tc.looped, plan.Looped)
			assert.Equal(t, tc.numKeyTiles, plan.NumKeyTiles())
			assert.Equal(t, tc.padded/QueryTileRows, plan.NumQueryTiles())
			assert.Zero(t, plan.PaddedSeqLen%plan.KeyTileWidth())
		})
	}
}

func TestPlanTilesErrors(t *testing.T) {
	for _, headDim := range []int{0, 8, 48, 96, 256} {
		_, err := PlanTiles(10, headDim)
		assert.True(t, errors.Is(err, ErrUnsupportedHeadDim), "head_dim=%d: got %v", headDim, err)
	}
	_, err := PlanTiles(0, 64)
	assert.True(t, errors.Is(err, ErrInvalidBatchLayout))
}
