// Copyright 2025-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implements Tensor, a flat buffer of a fixed dtype with an
// associated shape, a device-residency tag and an optional lazy 2-D
// transpose.
//
// Tensors are the dense operands and the index/offset buffers of the
// block-sparse matrices in package sparse. Only the dtypes used by the BCSR
// format are supported: Float16 for data, Int16 for block indices and Int32
// for row offsets.
//
// Device residency is a typed tag (backends.DeviceNum): buffers start on
// backends.Host and are moved with Tensor.ToDevice. For host-shared backends
// (like backends/simplego) the move is only a tag change; the flat slice
// keeps backing the tensor.
//
// A Tensor header is immutable except for the gradient hook; T() returns a
// new header sharing the flat storage. Concurrent mutation of shared storage
// from two goroutines is undefined: the design assumes single-writer-per-store
// discipline. Read-only concurrent access is safe.
package tensors

import (
	"fmt"
	"reflect"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"k8s.io/klog/v2"

	"github.com/gomlx/blocksparse/backends"
	"github.com/gomlx/blocksparse/types/shapes"
)

// Tensor is a flat buffer of a fixed dtype with an associated shape.
//
// The shape is the logical shape: for a transposed tensor it is the reverse
// of the stored layout, and the flat buffer is not rearranged.
type Tensor struct {
	shape      shapes.Shape
	transposed bool

	// flat is always a slice of the Go type for shape.DType
	// ([]float16.Float16, []int16 or []int32). It is shared between
	// transposed views of the same tensor.
	flat any

	device backends.DeviceNum

	// grad optionally holds a gradient buffer associated by an external
	// autograd layer. Same shape and dtype as the tensor.
	grad *Tensor
}

// FromShape returns a Tensor with the given shape, data initialized to zeros,
// resident on the host.
func FromShape(shape shapes.Shape) *Tensor {
	if !shape.Ok() {
		panic(errors.New("tensors.FromShape: invalid shape"))
	}
	flatV := reflect.MakeSlice(reflect.SliceOf(shape.DType.GoType()), shape.Size(), shape.Size())
	return &Tensor{
		shape:  shape,
		flat:   flatV.Interface(),
		device: backends.Host,
	}
}

// FromFlatDataAndDimensions returns a Tensor with the given dimensions, whose
// values are the given flat data. The data slice is used directly, not copied.
func FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int) *Tensor {
	shape := shapes.Make(dtypes.FromGenericsType[T](), dimensions...)
	if len(data) != shape.Size() {
		exceptions.Panicf("tensors.FromFlatDataAndDimensions: data has %d values, shape %s requires %d",
			len(data), shape, shape.Size())
	}
	return &Tensor{
		shape:  shape,
		flat:   data,
		device: backends.Host,
	}
}

// FromScalarAndDimensions returns a Tensor with the given dimensions, with all
// values set to the given scalar.
func FromScalarAndDimensions[T dtypes.Supported](value T, dimensions ...int) *Tensor {
	shape := shapes.Make(dtypes.FromGenericsType[T](), dimensions...)
	data := make([]T, shape.Size())
	for ii := range data {
		data[ii] = value
	}
	return &Tensor{
		shape:  shape,
		flat:   data,
		device: backends.Host,
	}
}

// Shape of the tensor: the logical (post-transpose) shape.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType is a shortcut to Shape().DType.
func (t *Tensor) DType() dtypes.DType { return t.shape.DType }

// Rank is a shortcut to Shape().Rank().
func (t *Tensor) Rank() int { return t.shape.Rank() }

// Size is the number of elements stored, Shape().Size().
func (t *Tensor) Size() int { return t.shape.Size() }

// Memory returns the bytes used by the tensor data.
func (t *Tensor) Memory() uintptr { return t.shape.Memory() }

// Device returns the residency tag of the tensor's buffer.
func (t *Tensor) Device() backends.DeviceNum { return t.device }

// IsContiguous returns whether the tensor is stored in the order its shape
// describes, i.e. it is not a transposed view.
func (t *Tensor) IsContiguous() bool { return !t.transposed }

// IsTransposed returns whether this is a lazily transposed view.
func (t *Tensor) IsTransposed() bool { return t.transposed }

// T returns a transposed view of a rank-2 tensor: a new header with the shape
// reversed, sharing the same flat storage. No data is moved; consumers see
// element (i, j) of the view as element (j, i) of the storage.
func (t *Tensor) T() (*Tensor, error) {
	if t.Rank() != 2 {
		return nil, errors.Errorf("tensors.T: expects a rank-2 tensor, got rank %d (shape=%s)", t.Rank(), t.shape)
	}
	return &Tensor{
		shape:      t.shape.Reverse(),
		transposed: !t.transposed,
		flat:       t.flat,
		device:     t.device,
		grad:       t.grad,
	}, nil
}

// Reshape returns a new header over the same flat storage with the given
// dimensions. The total element count must be preserved and the tensor must
// be contiguous.
func (t *Tensor) Reshape(dimensions ...int) (*Tensor, error) {
	if t.transposed {
		return nil, errors.Errorf("tensors.Reshape: tensor is not contiguous (shape=%s)", t.shape)
	}
	newShape := shapes.Make(t.shape.DType, dimensions...)
	if newShape.Size() != t.Size() {
		return nil, errors.Errorf("tensors.Reshape: mismatch in number of elements, %d v. %d (shape %s to %v)",
			t.Size(), newShape.Size(), t.shape, dimensions)
	}
	return &Tensor{
		shape:  newShape,
		flat:   t.flat,
		device: t.device,
		grad:   t.grad,
	}, nil
}

// Clone returns a deep copy of the tensor, preserving the orientation flag
// and device tag. The gradient association is not copied.
func (t *Tensor) Clone() *Tensor {
	flatV := reflect.ValueOf(t.flat)
	cloneV := reflect.MakeSlice(flatV.Type(), flatV.Len(), flatV.Len())
	reflect.Copy(cloneV, flatV)
	return &Tensor{
		shape:      t.shape.Clone(),
		transposed: t.transposed,
		flat:       cloneV.Interface(),
		device:     t.device,
	}
}

// ToDevice moves the tensor buffer to the given device, in place. It is a
// no-op if the tensor already resides there.
//
// The flat storage stays host-backed -- backends with device-resident memory
// are expected to copy from it at kernel launch; the tag is what the
// consistency checks in package sparse and package ops look at.
func (t *Tensor) ToDevice(device backends.DeviceNum) *Tensor {
	if t.device == device {
		return t
	}
	klog.V(1).Infof("tensors.ToDevice: moving %s tensor from %s to %s", t.shape, t.device, device)
	t.device = device
	return t
}

// SetGrad associates a gradient buffer with the tensor. The gradient must
// have the same shape; it is typically written by an external autograd layer.
func (t *Tensor) SetGrad(grad *Tensor) {
	if grad != nil && !grad.shape.Equal(t.shape) {
		exceptions.Panicf("tensors.SetGrad: gradient shape %s doesn't match tensor shape %s", grad.shape, t.shape)
	}
	t.grad = grad
}

// Grad returns the gradient buffer associated with the tensor, or nil if none
// was set.
func (t *Tensor) Grad() *Tensor { return t.grad }

// Float16Data returns the flat data slice of a Float16 tensor, in storage
// order. It panics if the tensor has a different dtype.
func (t *Tensor) Float16Data() []float16.Float16 {
	data, ok := t.flat.([]float16.Float16)
	if !ok {
		exceptions.Panicf("tensors.Float16Data: tensor is %s, not Float16", t.DType())
	}
	return data
}

// Int16Data returns the flat data slice of an Int16 tensor. It panics if the
// tensor has a different dtype.
func (t *Tensor) Int16Data() []int16 {
	data, ok := t.flat.([]int16)
	if !ok {
		exceptions.Panicf("tensors.Int16Data: tensor is %s, not Int16", t.DType())
	}
	return data
}

// Int32Data returns the flat data slice of an Int32 tensor. It panics if the
// tensor has a different dtype.
func (t *Tensor) Int32Data() []int32 {
	data, ok := t.flat.([]int32)
	if !ok {
		exceptions.Panicf("tensors.Int32Data: tensor is %s, not Int32", t.DType())
	}
	return data
}

// storedCols is the trailing dimension of the storage layout.
func (t *Tensor) storedCols() int {
	if t.transposed {
		return t.shape.Dim(0)
	}
	return t.shape.Dim(-1)
}

// At reads element (i, j) of a rank-2 tensor in the logical (post-transpose)
// frame. Only defined for Float16 tensors.
func (t *Tensor) At(i, j int) float16.Float16 {
	t.shape.AssertRank(2)
	if t.transposed {
		i, j = j, i
	}
	return t.Float16Data()[i*t.storedCols()+j]
}

// Set writes element (i, j) of a rank-2 tensor in the logical
// (post-transpose) frame. Only defined for Float16 tensors.
func (t *Tensor) Set(i, j int, value float16.Float16) {
	t.shape.AssertRank(2)
	if t.transposed {
		i, j = j, i
	}
	t.Float16Data()[i*t.storedCols()+j] = value
}

// Equal reports whether two tensors have the same shape, orientation and
// element values. Device tags are not compared.
func (t *Tensor) Equal(other *Tensor) bool {
	if t == other {
		return true
	}
	if other == nil || !t.shape.Equal(other.shape) || t.transposed != other.transposed {
		return false
	}
	return reflect.DeepEqual(t.flat, other.flat)
}

// String implements fmt.Stringer.
func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor<%s, %s, %s>", t.shape, t.device, humanize.Bytes(uint64(t.Memory())))
}
