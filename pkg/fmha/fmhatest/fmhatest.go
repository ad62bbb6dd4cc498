// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package fmhatest provides deterministic packed inputs and a dense reference attention, used
// to validate the fused forward pass in tests and from the command line.
package fmhatest

import (
	"math"
	"math/rand/v2"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/streamattn/pkg/core/dtypes"
	"github.com/gomlx/streamattn/pkg/core/shapes"
	"github.com/gomlx/streamattn/pkg/core/tensors"
	"github.com/x448/float16"
)

// Offsets returns the Int32 cumulative offsets of sequences with the given lengths.
func Offsets(lengths ...int) *tensors.Tensor {
	offsets := make([]int32, len(lengths)+1)
	for ii, length := range lengths {
		offsets[ii+1] = offsets[ii] + int32(length)
	}
	return tensors.FromFlatDataAndDimensions(offsets, len(offsets))
}

// OffsetsInt64 is like Offsets, but returns an Int64 tensor.
func OffsetsInt64(lengths ...int) *tensors.Tensor {
	offsets := make([]int64, len(lengths)+1)
	for ii, length := range lengths {
		offsets[ii+1] = offsets[ii] + int64(length)
	}
	return tensors.FromFlatDataAndDimensions(offsets, len(offsets))
}

// CumulativeOffsets returns the cumulative offsets of the given lengths as ints.
func CumulativeOffsets(lengths ...int) []int {
	offsets := make([]int, len(lengths)+1)
	for ii, length := range lengths {
		offsets[ii+1] = offsets[ii] + length
	}
	return offsets
}

// PackedQKV returns a [totalTokens, numHeads, numVectors, headDim] tensor of the given float dtype
// (Float16 or Float32) with values drawn uniformly from [-amplitude, amplitude), deterministically from seed.
func PackedQKV(dtype dtypes.DType, seed uint64, totalTokens, numHeads, numVectors, headDim int, amplitude float64) *tensors.Tensor {
	rng := rand.New(rand.NewPCG(seed, 0x5eed))
	t := tensors.FromShape(shapes.Make(dtype, totalTokens, numHeads, numVectors, headDim))
	switch flat := t.FlatAny().(type) {
	case []float16.Float16:
		for ii := range flat {
			flat[ii] = float16.Fromfloat32(float32((2*rng.Float64() - 1) * amplitude))
		}
	case []float32:
		for ii := range flat {
			flat[ii] = float32((2*rng.Float64() - 1) * amplitude)
		}
	default:
		exceptions.Panicf("PackedQKV: dtype %s not supported", dtype)
	}
	return t
}

// SetToken overwrites the (token, head, slot) vector of a packed QKV tensor.
func SetToken(qkv *tensors.Tensor, token, head, slot int, values []float32) {
	dims := qkv.Shape().Dimensions
	base := ((token*dims[1]+head)*dims[2] + slot) * dims[3]
	switch flat := qkv.FlatAny().(type) {
	case []float16.Float16:
		for k, v := range values {
			flat[base+k] = float16.Fromfloat32(v)
		}
	case []float32:
		copy(flat[base:base+len(values)], values)
	}
}

// DropoutFn reports whether element (bh, i, j) of the score matrices is kept. nil keeps everything.
type DropoutFn func(bh, i, j int) bool

// Reference holds the results of the dense reference attention.
type Reference struct {
	NumHeads, HeadDim int
	Offsets           []int

	// Context is [total_tokens, num_heads, head_dim].
	Context []float64

	// LogSumExp[bh][i] is the log-sum-exp of query row i of sequence-head bh = batch*NumHeads + head.
	LogSumExp [][]float64

	// Probabilities[bh][i*seqLen+j] is the normalized attention weight before dropout.
	Probabilities [][]float64
}

// Attention computes dense attention in float64 for each sequence and head of the packed buffer,
// materializing the full score matrix of each sequence.
//
// Dropped weights (keep returning false) are zeroed and kept ones are multiplied by rescale.
func Attention(qkv *tensors.Tensor, offsets []int, softmaxScale float64, causal bool, keep DropoutFn, rescale float64) *Reference {
	dims := qkv.Shape().Dimensions
	numHeads, numVectors, headDim := dims[1], dims[2], dims[3]
	values := qkv.ToFloat64()
	at := func(token, head, slot, k int) float64 {
		return values[((token*numHeads+head)*numVectors+slot)*headDim+k]
	}
	batchSize := len(offsets) - 1
	ref := &Reference{
		NumHeads:      numHeads,
		HeadDim:       headDim,
		Offsets:       offsets,
		Context:       make([]float64, dims[0]*numHeads*headDim),
		LogSumExp:     make([][]float64, batchSize*numHeads),
		Probabilities: make([][]float64, batchSize*numHeads),
	}
	for b := range batchSize {
		start, seqLen := offsets[b], offsets[b+1]-offsets[b]
		for h := range numHeads {
			bh := b*numHeads + h
			lse := make([]float64, seqLen)
			probs := make([]float64, seqLen*seqLen)
			for i := range seqLen {
				scores := probs[i*seqLen : (i+1)*seqLen]
				rowMax := math.Inf(-1)
				for j := range seqLen {
					if causal && j > i {
						scores[j] = math.Inf(-1)
						continue
					}
					var dot float64
					for k := range headDim {
						dot += at(start+i, h, 0, k) * at(start+j, h, 1, k)
					}
					scores[j] = dot * softmaxScale
					rowMax = max(rowMax, scores[j])
				}
				var sum float64
				for j := range seqLen {
					scores[j] = math.Exp(scores[j] - rowMax)
					sum += scores[j]
				}
				lse[i] = rowMax + math.Log(sum)
				out := ref.Context[((start+i)*numHeads+h)*headDim:][:headDim]
				for j := range seqLen {
					scores[j] /= sum
					p := scores[j]
					if keep != nil {
						if !keep(bh, i, j) {
							continue
						}
						p *= rescale
					}
					for k := range headDim {
						out[k] += p * at(start+j, h, 2, k)
					}
				}
			}
			ref.LogSumExp[bh] = lse
			ref.Probabilities[bh] = probs
		}
	}
	return ref
}

// MaxAbsDiff returns the largest absolute difference between the reference context and a
// [total_tokens, num_heads, head_dim] output tensor.
func (r *Reference) MaxAbsDiff(context *tensors.Tensor) float64 {
	var maxDiff float64
	for ii, v := range context.ToFloat64() {
		maxDiff = max(maxDiff, math.Abs(v-r.Context[ii]))
	}
	return maxDiff
}

// MaxLSERelativeError returns the largest relative error between the reference log-sum-exp and
// the valid rows of a Float32 [batch, num_heads, padded] output.
func (r *Reference) MaxLSERelativeError(lse *tensors.Tensor) float64 {
	padded := lse.Shape().Dimensions[2]
	var maxErr float64
	for bh, rows := range r.LogSumExp {
		for i, want := range rows {
			got := lse.FloatAt(bh*padded + i)
			maxErr = max(maxErr, math.Abs(got-want)/max(math.Abs(want), 1e-6))
		}
	}
	return maxErr
}
