// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fmha

import "github.com/pkg/errors"

// Sentinel errors returned (wrapped with context) by the forward pass. Test for them with errors.Is.
var (
	// ErrInvalidBatchLayout is returned for malformed cumulative offsets or inconsistent packed buffers.
	ErrInvalidBatchLayout = errors.New("invalid batch layout")

	// ErrUnsupportedHeadDim is returned when the head dimension is not one of SupportedHeadDims.
	ErrUnsupportedHeadDim = errors.New("unsupported head dimension")

	// ErrInvalidDropoutProbability is returned when the dropout probability is not in [0, 1).
	ErrInvalidDropoutProbability = errors.New("invalid dropout probability")

	// ErrDeviceCapabilityUnsupported is returned when the kernel cannot run the requested element type.
	ErrDeviceCapabilityUnsupported = errors.New("device capability unsupported")

	// ErrResourceExhausted is returned when scratch or output memory cannot be obtained.
	ErrResourceExhausted = errors.New("resource exhausted")
)
