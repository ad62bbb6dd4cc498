// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fmha

import (
	"fmt"

	"github.com/gomlx/streamattn/pkg/core/tensors"
	"github.com/google/uuid"
)

// WorkingShape summarizes the dimensions a call ran with.
type WorkingShape struct {
	BatchSize, NumHeads, HeadDim int

	// PaddedSeqLen, BaseTileWidth and Looped are taken from the TilePlan.
	PaddedSeqLen  int
	BaseTileWidth int
	QueryTileRows int
	Looped        bool
}

// String implements fmt.Stringer.
func (s WorkingShape) String() string {
	return fmt.Sprintf("batch=%d heads=%d head_dim=%d padded=%d base=%d looped=%v",
		s.BatchSize, s.NumHeads, s.HeadDim, s.PaddedSeqLen, s.BaseTileWidth, s.Looped)
}

// Result of a forward call.
type Result struct {
	// Context is the attention output, [total_tokens, num_heads, head_dim] in the input dtype.
	Context *tensors.Tensor

	// SecondaryContext is the same output computed with float64 accumulation and no rounding
	// of the attention weights. It sees the same dropout mask as Context.
	SecondaryContext *tensors.Tensor

	// LogSumExp is log Σ_j exp(score_ij) per query row, Float32 [batch, num_heads, padded_seq_len].
	// Rows beyond a sequence's length are -∞ with Options.ZeroTensors, and unspecified otherwise.
	LogSumExp *tensors.Tensor

	// Softmax is only set with Options.ReturnSoftmax: [batch, num_heads, padded_seq_len, padded_seq_len]
	// in the input dtype, holding exp(score - lse). Dropped weights are stored negated; masked and
	// padding entries are 0.
	Softmax *tensors.Tensor

	Shape   WorkingShape
	Dropout *DropoutState
	CallID  uuid.UUID
}

// Tensors returns the outputs in order: context, secondary context, log-sum-exp and, if requested, the softmax matrix.
func (r *Result) Tensors() []*tensors.Tensor {
	outputs := []*tensors.Tensor{r.Context, r.SecondaryContext, r.LogSumExp}
	if r.Softmax != nil {
		outputs = append(outputs, r.Softmax)
	}
	return outputs
}
