// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fmha

import (
	"sync"
)

// scratchPool recycles float32 buffers across calls, keyed by length.
type scratchPool struct {
	// pools maps a length to a *sync.Pool of *[]float32.
	pools sync.Map
}

func (p *scratchPool) getPool(length int) *sync.Pool {
	poolInterface, ok := p.pools.Load(length)
	if !ok {
		poolInterface, _ = p.pools.LoadOrStore(length, &sync.Pool{
			New: func() any {
				buf := make([]float32, length)
				return &buf
			},
		})
	}
	return poolInterface.(*sync.Pool)
}

// get returns a buffer of the given length. Its contents are unspecified.
func (p *scratchPool) get(length int) []float32 {
	return *(p.getPool(length).Get().(*[]float32))
}

// put returns the buffer to the pool. After this any references to buf should be dropped.
func (p *scratchPool) put(buf []float32) {
	if buf == nil {
		return
	}
	p.getPool(len(buf)).Put(&buf)
}

// unitScratch is the staging memory of one unit of work: the query tile, one key/value tile,
// the scores of one row for both precision paths, the dropout mask of one row and the running states.
type unitScratch struct {
	q, k, v   []float32
	scores32  []float32
	scores64  []float64
	keep      []bool
	primary   *onlineState[float32]
	secondary *onlineState[float64]
}

func newUnitScratch(headDim, keyTileWidth int) *unitScratch {
	return &unitScratch{
		q:         make([]float32, QueryTileRows*headDim),
		k:         make([]float32, keyTileWidth*headDim),
		v:         make([]float32, keyTileWidth*headDim),
		scores32:  make([]float32, keyTileWidth),
		scores64:  make([]float64, keyTileWidth),
		keep:      make([]bool, keyTileWidth),
		primary:   newOnlineState[float32](QueryTileRows, headDim),
		secondary: newOnlineState[float64](QueryTileRows, headDim),
	}
}

// unitScratchBytes is the memory of one unitScratch.
func unitScratchBytes(headDim, keyTileWidth int) uint64 {
	staged := uint64(QueryTileRows+2*keyTileWidth) * uint64(headDim) * 4
	scores := uint64(keyTileWidth) * (4 + 8 + 1)
	states := uint64(QueryTileRows) * uint64(headDim+2) * (4 + 8)
	return staged + scores + states
}
