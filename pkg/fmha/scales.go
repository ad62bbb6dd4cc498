// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fmha

import (
	"math"

	"github.com/x448/float16"
)

// Scales are the scalar multipliers applied along the forward pass.
type Scales struct {
	// BMM1 multiplies Q·Kᵀ.
	BMM1 float32

	// Softmax is applied to the exponentiated scores. Always 1.
	Softmax float32

	// BMM2 multiplies P·V. Always 1.
	BMM2 float32

	// Dropout multiplies the kept attention weights: 1/keep, or 1 without dropout.
	Dropout float32
}

// DefaultSoftmaxScale is 1/sqrt(headDim).
func DefaultSoftmaxScale(headDim int) float32 {
	return float32(1 / math.Sqrt(float64(headDim)))
}

// NewScales returns the scale set for the given softmax scale and dropout state (which may be nil).
func NewScales(softmaxScale float32, dropout *DropoutState) Scales {
	s := Scales{BMM1: softmaxScale, Softmax: 1, BMM2: 1, Dropout: 1}
	if dropout.Enabled() {
		s.Dropout = dropout.RescaleFactor
	}
	return s
}

// BMM1Half is BMM1 rounded to half precision.
func (s Scales) BMM1Half() float16.Float16 { return float16.Fromfloat32(s.BMM1) }

// SoftmaxHalf is Softmax rounded to half precision.
func (s Scales) SoftmaxHalf() float16.Float16 { return float16.Fromfloat32(s.Softmax) }

// BMM2Half is BMM2 rounded to half precision.
func (s Scales) BMM2Half() float16.Float16 { return float16.Fromfloat32(s.BMM2) }

// DropoutHalf is Dropout rounded to half precision.
func (s Scales) DropoutHalf() float16.Float16 { return float16.Fromfloat32(s.Dropout) }
