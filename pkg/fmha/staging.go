// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fmha

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/streamattn/pkg/core/dtypes"
	"github.com/gomlx/streamattn/pkg/core/tensors"
	"github.com/x448/float16"
)

// Slots of the packed QKV buffer.
const (
	querySlot = 0
	keySlot   = 1
	valueSlot = 2
)

// packedQKV reads the packed [total_tokens, num_heads, num_vectors, head_dim] buffer.
type packedQKV struct {
	f16                            []float16.Float16
	f32                            []float32
	numHeads, numVectors, headDim int
}

func newPackedQKV(qkv *tensors.Tensor) *packedQKV {
	dims := qkv.Shape().Dimensions
	p := &packedQKV{numHeads: dims[1], numVectors: dims[2], headDim: dims[3]}
	switch qkv.DType() {
	case dtypes.Float16:
		p.f16 = qkv.FlatAny().([]float16.Float16)
	case dtypes.Float32:
		p.f32 = qkv.FlatAny().([]float32)
	default:
		exceptions.Panicf("packed QKV of dtype %s not supported", qkv.DType())
	}
	return p
}

// stage copies numRows consecutive token rows of the given slot and head into dst ([numRows, headDim], float32).
func (p *packedQKV) stage(dst []float32, slot, head, firstToken, numRows int) {
	d := p.headDim
	tokenStride := p.numHeads * p.numVectors * d
	base := (firstToken*p.numHeads+head)*p.numVectors*d + slot*d
	for r := range numRows {
		src := base + r*tokenStride
		row := dst[r*d : (r+1)*d]
		if p.f16 != nil {
			for k, v := range p.f16[src : src+d] {
				row[k] = v.Float32()
			}
		} else {
			copy(row, p.f32[src:src+d])
		}
	}
}

// elementWriter stores float values into a tensor of the input element type.
type elementWriter struct {
	f16 []float16.Float16
	f32 []float32
}

func newElementWriter(t *tensors.Tensor) elementWriter {
	switch flat := t.FlatAny().(type) {
	case []float16.Float16:
		return elementWriter{f16: flat}
	case []float32:
		return elementWriter{f32: flat}
	}
	exceptions.Panicf("tensor %s not supported for outputs", t.Shape())
	return elementWriter{}
}

func (w elementWriter) set(idx int, value float32) {
	if w.f16 != nil {
		w.f16[idx] = float16.Fromfloat32(value)
	} else {
		w.f32[idx] = value
	}
}

// roundToElement returns value as it would be stored in the input element type.
func roundToElement(isHalf bool, value float32) float32 {
	if isHalf {
		return float16.Fromfloat32(value).Float32()
	}
	return value
}
