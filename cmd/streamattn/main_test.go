// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"testing"

	"github.com/gomlx/streamattn/pkg/core/dtypes"
	"github.com/gomlx/streamattn/pkg/fmha"
	"github.com/gomlx/streamattn/pkg/fmha/fmhatest"
	"github.com/gomlx/streamattn/pkg/ml/random"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLengths(t *testing.T) {
	lengths, err := parseLengths("3, 5,0,")
	require.NoError(t, err)
	assert.Equal(t, []int{3, 5, 0}, lengths)

	for _, bad := range []string{"", ",", "3,x", "-1"} {
		_, err = parseLengths(bad)
		assert.Error(t, err, "lengths %q", bad)
	}
}

func TestDropoutTrials(t *testing.T) {
	engine := fmha.NewEngineWithConfig(fmha.Config{Workers: 2, DropoutBits: fmha.DropoutBits32})
	lengths := []int{16, 9}
	qkv := fmhatest.PackedQKV(dtypes.Float32, 1, 25, 1, 3, 16, 1)
	opts := fmha.Options{PDropout: 0.25, Generator: random.NewGeneratorWithSeed(2)}
	maxDiff, err := dropoutTrials(engine, qkv, lengths, opts, 200)
	require.NoError(t, err)
	assert.Less(t, maxDiff, 0.05)
}
