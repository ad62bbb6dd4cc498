// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fmha

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	c, err := ParseConfig("workers=8,max_scratch=2GiB,dropout_bits=16,check_finite")
	require.NoError(t, err)
	assert.Equal(t, Config{Workers: 8, MaxScratchBytes: 2 << 30, DropoutBits: DropoutBits16, CheckFinite: true}, c)

	c, err = ParseConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig, c)

	c, err = ParseConfig(" workers = -1 , check_finite=false, max_scratch=0")
	require.NoError(t, err)
	assert.Equal(t, -1, c.Workers)
	assert.False(t, c.CheckFinite)
	assert.Zero(t, c.MaxScratchBytes)

	for _, bad := range []string{"threads=4", "workers=x", "workers=-2", "dropout_bits=8", "max_scratch=lots", "check_finite=maybe"} {
		_, err = ParseConfig(bad)
		assert.Error(t, err, "config %q", bad)
	}
}

func TestConfigStringRoundTrip(t *testing.T) {
	want := Config{Workers: 3, MaxScratchBytes: 512 << 20, DropoutBits: DropoutBits16, CheckFinite: true}
	got, err := ParseConfig(want.String())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestNewEngineFromEnv(t *testing.T) {
	t.Setenv(ConfigEnvVar, "workers=2,dropout_bits=16")
	e, err := NewEngine()
	require.NoError(t, err)
	assert.Equal(t, 2, e.Config().Workers)
	assert.Equal(t, DropoutBits16, e.Config().DropoutBits)

	t.Setenv(ConfigEnvVar, "bogus")
	_, err = NewEngine()
	require.Error(t, err)
}
