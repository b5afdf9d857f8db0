// Package tensor provides the flat tensor representation used by the
// calibration pipeline and the reference execution engine.
package tensor

import (
	"fmt"
	"unsafe"
)

// DataType represents runtime type information for tensors.
type DataType int

// Supported data types.
const (
	Float32 DataType = iota
	Float64
	Int32
	Int64
	Uint8
	Bool
)

// Size returns the byte size of the data type.
func (dt DataType) Size() int {
	switch dt {
	case Float32, Int32:
		return 4
	case Float64, Int64:
		return 8
	case Uint8, Bool:
		return 1
	default:
		panic("unknown data type")
	}
}

// String returns a human-readable name for the data type.
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Uint8:
		return "uint8"
	case Bool:
		return "bool"
	default:
		return "unknown"
	}
}

// Tensor is a dense, row-major tensor backed by a flat byte buffer.
type Tensor struct {
	data  []byte
	shape Shape
	dtype DataType
}

// New creates a zero-filled tensor with the given shape and type.
func New(shape Shape, dtype DataType) (*Tensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	return &Tensor{
		data:  make([]byte, shape.NumElements()*dtype.Size()),
		shape: shape.Clone(),
		dtype: dtype,
	}, nil
}

// FromFloat32 creates a float32 tensor from a slice. The slice length must
// match the shape's element count.
func FromFloat32(values []float32, shape Shape) (*Tensor, error) {
	t, err := New(shape, Float32)
	if err != nil {
		return nil, err
	}
	if len(values) != shape.NumElements() {
		return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)",
			len(values), shape, shape.NumElements())
	}
	copy(t.AsFloat32(), values)
	return t, nil
}

// Scalar creates a rank-0 float32 tensor holding a single value.
func Scalar(v float32) *Tensor {
	t, _ := New(Shape{}, Float32)
	t.AsFloat32()[0] = v
	return t
}

// Shape returns the tensor's shape.
func (t *Tensor) Shape() Shape {
	return t.shape
}

// DType returns the tensor's data type.
func (t *Tensor) DType() DataType {
	return t.dtype
}

// NumElements returns the total number of elements.
func (t *Tensor) NumElements() int {
	return t.shape.NumElements()
}

// Data returns the raw byte slice backing the tensor.
func (t *Tensor) Data() []byte {
	return t.data
}

// AsFloat32 interprets the data as []float32.
// Panics if the tensor's dtype is not Float32.
func (t *Tensor) AsFloat32() []float32 {
	if t.dtype != Float32 {
		panic(fmt.Sprintf("tensor dtype is %s, not float32", t.dtype))
	}
	if len(t.data) == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&t.data[0])), t.NumElements())
}

// AsInt64 interprets the data as []int64.
// Panics if the tensor's dtype is not Int64.
func (t *Tensor) AsInt64() []int64 {
	if t.dtype != Int64 {
		panic(fmt.Sprintf("tensor dtype is %s, not int64", t.dtype))
	}
	if len(t.data) == 0 {
		return nil
	}
	return unsafe.Slice((*int64)(unsafe.Pointer(&t.data[0])), t.NumElements())
}

// Item returns the single float32 value of a one-element tensor.
func (t *Tensor) Item() (float32, error) {
	if t.NumElements() != 1 {
		return 0, fmt.Errorf("item requires a one-element tensor, got shape %v", t.shape)
	}
	return t.AsFloat32()[0], nil
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	data := make([]byte, len(t.data))
	copy(data, t.data)
	return &Tensor{data: data, shape: t.shape.Clone(), dtype: t.dtype}
}

// WithShape returns a view with the same data and a new shape. The element
// counts must match.
func (t *Tensor) WithShape(shape Shape) (*Tensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	if shape.NumElements() != t.NumElements() {
		return nil, fmt.Errorf("cannot reshape %v (%d elements) to %v (%d elements)",
			t.shape, t.NumElements(), shape, shape.NumElements())
	}
	return &Tensor{data: t.data, shape: shape.Clone(), dtype: t.dtype}, nil
}
