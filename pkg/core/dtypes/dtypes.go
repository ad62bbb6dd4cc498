// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package dtypes includes the DType enum for the element types handled by the attention kernels.
//
// Only the types a packed QKV buffer, its offsets and the attention outputs can hold are defined.
// Float16 uses the github.com/x448/float16 implementation.
package dtypes

import (
	"reflect"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// DType is an enum representing the data type of a tensor element.
type DType int32

const (
	// InvalidDType is the zero value, used to mark invalid or uninitialized shapes.
	InvalidDType DType = 0

	// Int32 is used for cumulative sequence offsets.
	Int32 DType = 4

	// Int64 is accepted for offsets as well.
	Int64 DType = 5

	// Uint32 holds raw random bits.
	Uint32 DType = 8

	// Float16 is the IEEE 754 half-precision float, the native input type of the fused kernel.
	Float16 DType = 10

	// Float32 is used for full precision inputs, accumulators and the log-sum-exp.
	Float32 DType = 11

	// Float64 is only used by reference computations.
	Float64 DType = 12
)

// MapOfNames maps the names (and common aliases) to the DType. Lower-case versions are accepted as well.
var MapOfNames = map[string]DType{
	"InvalidDType": InvalidDType,
	"Int32":        Int32,
	"I32":          Int32,
	"Int64":        Int64,
	"I64":          Int64,
	"Uint32":       Uint32,
	"U32":          Uint32,
	"Float16":      Float16,
	"F16":          Float16,
	"Half":         Float16,
	"Float32":      Float32,
	"F32":          Float32,
	"Float64":      Float64,
	"F64":          Float64,
}

func init() {
	if strconv.IntSize != 32 && strconv.IntSize != 64 {
		panic(errors.Errorf("cannot use int of %d bits -- only platforms with int32 or int64 are supported", strconv.IntSize))
	}
	for key, dtype := range MapOfNames {
		lowerKey := strings.ToLower(key)
		if _, found := MapOfNames[lowerKey]; !found {
			MapOfNames[lowerKey] = dtype
		}
	}
}

// String implements fmt.Stringer.
func (dtype DType) String() string {
	switch dtype {
	case Int32:
		return "Int32"
	case Int64:
		return "Int64"
	case Uint32:
		return "Uint32"
	case Float16:
		return "Float16"
	case Float32:
		return "Float32"
	case Float64:
		return "Float64"
	case InvalidDType:
		return "InvalidDType"
	default:
		return "DType(" + strconv.Itoa(int(dtype)) + ")"
	}
}

// FromName returns the DType for the given name (see MapOfNames), or an error if it is unknown.
func FromName(name string) (DType, error) {
	if dtype, found := MapOfNames[name]; found {
		return dtype, nil
	}
	return InvalidDType, errors.Errorf("unknown dtype %q", name)
}

// Supported lists the Go types that can back a tensor.
type Supported interface {
	int32 | int64 | uint32 | float16.Float16 | float32 | float64
}

// FromGenericsType returns the DType enum for the given type that this package knows about.
func FromGenericsType[T Supported]() DType {
	var t T
	switch (any(t)).(type) {
	case int32:
		return Int32
	case int64:
		return Int64
	case uint32:
		return Uint32
	case float16.Float16:
		return Float16
	case float32:
		return Float32
	case float64:
		return Float64
	}
	return InvalidDType
}

var (
	float16Type = reflect.TypeOf(float16.Float16(0))
	float32Type = reflect.TypeOf(float32(0))
	float64Type = reflect.TypeOf(float64(0))
)

// GoType returns the Go `reflect.Type` corresponding to the DType.
// It panics for unknown DType values.
func (dtype DType) GoType() reflect.Type {
	switch dtype {
	case Int32:
		return reflect.TypeOf(int32(0))
	case Int64:
		return reflect.TypeOf(int64(0))
	case Uint32:
		return reflect.TypeOf(uint32(0))
	case Float16:
		return float16Type
	case Float32:
		return float32Type
	case Float64:
		return float64Type
	default:
		panic(errors.Errorf("unknown dtype %q (%d) in DType.GoType", dtype, dtype))
	}
}

// Size returns the number of bytes for the given DType.
func (dtype DType) Size() int {
	return int(dtype.GoType().Size())
}

// Memory returns the number of bytes for the given DType, as an uintptr.
func (dtype DType) Memory() uintptr {
	return uintptr(dtype.Size())
}

// IsFloat returns whether dtype is a float type.
func (dtype DType) IsFloat() bool {
	return dtype == Float16 || dtype == Float32 || dtype == Float64
}

// IsInt returns whether dtype is an integer type.
func (dtype DType) IsInt() bool {
	return dtype == Int32 || dtype == Int64 || dtype == Uint32
}
