// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implement a `Tensor`, a multidimensional array stored locally as a flat Go slice.
//
// Tensors are defined by their shape (a data type and its axes' dimensions) and their content,
// laid out contiguously in row-major order. They are the buffers exchanged with the attention kernels:
// the packed QKV input, the cumulative offsets, and all outputs.
//
// There are various ways to construct a Tensor:
//
//   - FromShape(shape shapes.Shape): creates a tensor with the given shape, and zero values.
//
//   - FromScalarAndDimensions[T dtypes.Supported](value T, dimensions ...int): creates a Tensor with the
//     given dimensions, filled with the scalar value given.
//
//   - FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int): creates a Tensor with the
//     given dimensions and set the flattened values with the given data. Example:
//
//     t := FromFlatDataAndDimensions([]int32{0, 3, 8}, 3) // Offsets of a batch with 2 sequences.
package tensors

import (
	"fmt"
	"math"
	"reflect"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/streamattn/pkg/core/dtypes"
	"github.com/gomlx/streamattn/pkg/core/shapes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// Tensor represents a multidimensional array. See package documentation for details.
//
// A Tensor is not safe for concurrent mutation: concurrent writers must write disjoint regions.
type Tensor struct {
	shape shapes.Shape

	// flat holds the array with actual data, a slice of the Go type of shape.DType.
	flat any
}

// FromShape returns a Tensor with the given shape, with the data initialized with zeros.
//
// It panics if you provide an invalid shape.
func FromShape(shape shapes.Shape) *Tensor {
	if !shape.Ok() {
		panic(errors.New("invalid shape"))
	}
	size := shape.Size()
	flatV := reflect.MakeSlice(reflect.SliceOf(shape.DType.GoType()), size, size)
	return &Tensor{shape: shape.Clone(), flat: flatV.Interface()}
}

// FromFlatDataAndDimensions creates a tensor with the given dimensions, filled with the flattened values given in `data`.
// The data is copied to the Tensor.
// The `DType` is inferred from the `data` type.
//
// It panics if the size of data is wrong for the shape.
func FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int) *Tensor {
	dtype := dtypes.FromGenericsType[T]()
	shape := shapes.Make(dtype, dimensions...)
	if len(data) != shape.Size() {
		exceptions.Panicf(
			"FromFlatDataAndDimensions(%s): data size is %d, but dimensions size is %d",
			shape,
			len(data),
			shape.Size(),
		)
	}
	t := FromShape(shape)
	copy(t.flat.([]T), data)
	return t
}

// FromScalarAndDimensions creates a Tensor with the given dimensions, filled with the given value.
func FromScalarAndDimensions[T dtypes.Supported](value T, dimensions ...int) *Tensor {
	t := FromShape(shapes.Make(dtypes.FromGenericsType[T](), dimensions...))
	flat := t.flat.([]T)
	for ii := range flat {
		flat[ii] = value
	}
	return t
}

// Shape of the tensor.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType of the tensor's elements.
func (t *Tensor) DType() dtypes.DType { return t.shape.DType }

// Rank of the tensor.
func (t *Tensor) Rank() int { return t.shape.Rank() }

// Size is the number of elements.
func (t *Tensor) Size() int { return t.shape.Size() }

// Memory is the number of bytes used by the tensor's data.
func (t *Tensor) Memory() uintptr { return t.shape.Memory() }

// FlatAny returns the flat slice (not a copy) holding the tensor data, as an `any`.
func (t *Tensor) FlatAny() any { return t.flat }

// String implements fmt.Stringer. It only prints the shape, the contents can be large.
func (t *Tensor) String() string {
	if t == nil {
		return "<nil tensor>"
	}
	return fmt.Sprintf("Tensor%s", t.shape)
}

// ConstFlatData calls accessFn with the flattened data as a slice of the Go type corresponding to the DType.
//
// This provides accessFn with the actual Tensor data (not a copy), and it should not be changed.
// See MutableFlatData to access a mutable version of the flat data.
func ConstFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) error {
	flat, err := Flat[T](t)
	if err != nil {
		return err
	}
	accessFn(flat)
	return nil
}

// MutableFlatData calls accessFn with a flat slice pointing to the Tensor data, which can be changed.
func MutableFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) error {
	return ConstFlatData(t, accessFn)
}

// MustConstFlatData is like ConstFlatData, but panics on error.
func MustConstFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) {
	if err := ConstFlatData(t, accessFn); err != nil {
		panic(err)
	}
}

// MustMutableFlatData is like MutableFlatData, but panics on error.
func MustMutableFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) {
	if err := MutableFlatData(t, accessFn); err != nil {
		panic(err)
	}
}

// Flat returns the flat data (not a copy) of the Tensor, if the requested type T matches its DType.
func Flat[T dtypes.Supported](t *Tensor) ([]T, error) {
	if t == nil {
		return nil, errors.New("nil Tensor")
	}
	if t.shape.DType != dtypes.FromGenericsType[T]() {
		var v T
		return nil, errors.Errorf("Flat[%T] is incompatible with Tensor's dtype %s -- expected dtype %s",
			v, t.shape.DType, dtypes.FromGenericsType[T]())
	}
	return t.flat.([]T), nil
}

// CopyFlatData returns a copy of the flat data of the Tensor.
//
// It will panic if the given generic type doesn't match the DType of the tensor.
func CopyFlatData[T dtypes.Supported](t *Tensor) []T {
	var flatCopy []T
	MustConstFlatData(t, func(flat []T) {
		flatCopy = make([]T, len(flat))
		copy(flatCopy, flat)
	})
	return flatCopy
}

// Zero sets all elements to zero.
func (t *Tensor) Zero() {
	reflect.ValueOf(t.flat).Clear()
}

// FillFloat sets all elements of a float tensor to value.
// It panics for non-float tensors.
func (t *Tensor) FillFloat(value float64) {
	switch flat := t.flat.(type) {
	case []float16.Float16:
		v := float16.Fromfloat32(float32(value))
		for ii := range flat {
			flat[ii] = v
		}
	case []float32:
		v := float32(value)
		for ii := range flat {
			flat[ii] = v
		}
	case []float64:
		for ii := range flat {
			flat[ii] = value
		}
	default:
		exceptions.Panicf("FillFloat(%g) not supported for tensor %s", value, t.shape)
	}
}

// FloatAt returns the element at the flat index as float64. It panics for non-float tensors.
func (t *Tensor) FloatAt(flatIdx int) float64 {
	switch flat := t.flat.(type) {
	case []float16.Float16:
		return float64(flat[flatIdx].Float32())
	case []float32:
		return float64(flat[flatIdx])
	case []float64:
		return flat[flatIdx]
	default:
		exceptions.Panicf("FloatAt(%d) not supported for tensor %s", flatIdx, t.shape)
		return 0
	}
}

// ToFloat64 returns a float64 copy of the contents of a float tensor.
func (t *Tensor) ToFloat64() []float64 {
	values := make([]float64, t.Size())
	for ii := range values {
		values[ii] = t.FloatAt(ii)
	}
	return values
}

// InDelta checks weather Abs(t - otherTensor) <= delta for every element of two float tensors.
// If the shapes are different, it returns false. NaN values are never in delta.
func (t *Tensor) InDelta(otherTensor *Tensor, delta float64) bool {
	if t == otherTensor {
		return true
	}
	if !t.shape.Equal(otherTensor.shape) {
		return false
	}
	for ii := range t.Size() {
		diff := math.Abs(t.FloatAt(ii) - otherTensor.FloatAt(ii))
		if !(diff <= delta) {
			return false
		}
	}
	return true
}

// Equal checks whether both tensors have the same shape and bitwise identical contents.
func (t *Tensor) Equal(otherTensor *Tensor) bool {
	if t == otherTensor {
		return true
	}
	if !t.shape.Equal(otherTensor.shape) {
		return false
	}
	return reflect.DeepEqual(t.flat, otherTensor.flat)
}
