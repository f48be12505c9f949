package tensor

import (
	"errors"
	"fmt"
	"math"
	"unsafe"
)

// ErrUnsupportedType is returned when a buffer is requested for a type without a fixed width.
var ErrUnsupportedType = errors.New("unsupported element type")

// Tensor is a named, shaped, layout-tagged buffer.
//
// The tensor exclusively owns its buffer. The buffer size always equals
// ElementCount() * DataType().Size(). Storage is obtained from the tensor's
// Allocator and returned to it by Release or by a reallocating Resize.
type Tensor struct {
	name      string
	dtype     DataType
	format    DataFormat
	shape     Shape
	buf       []byte
	allocator Allocator
}

// New creates an empty tensor of the given type. A nil allocator selects DefaultAllocator.
// No buffer is allocated until AllocateBuffer or Resize is called.
func New(dtype DataType, allocator Allocator) *Tensor {
	if allocator == nil {
		allocator = DefaultAllocator
	}
	return &Tensor{
		dtype:     dtype,
		allocator: allocator,
	}
}

// FromSlice creates a tensor holding a copy of data.
func FromSlice[T Element](name string, shape Shape, format DataFormat, data []T, allocator Allocator) (*Tensor, error) {
	if shape.NumElements() != len(data) {
		return nil, fmt.Errorf("shape %v requires %d elements, but got %d", shape, shape.NumElements(), len(data))
	}
	t := New(DataTypeOf[T](), allocator)
	t.SetName(name)
	t.SetDataFormat(format)
	if err := t.AllocateBuffer(shape); err != nil {
		return nil, err
	}
	copy(Data[T](t), data)
	return t, nil
}

// Name returns the tensor's name.
func (t *Tensor) Name() string { return t.name }

// SetName sets the tensor's name.
func (t *Tensor) SetName(name string) { t.name = name }

// DataType returns the tensor's element type.
func (t *Tensor) DataType() DataType { return t.dtype }

// DataFormat returns the tensor's layout tag.
func (t *Tensor) DataFormat() DataFormat { return t.format }

// SetDataFormat sets the tensor's layout tag.
func (t *Tensor) SetDataFormat(f DataFormat) { t.format = f }

// Allocator returns the allocator backing the tensor.
func (t *Tensor) Allocator() Allocator { return t.allocator }

// Shape returns the tensor's shape. Callers must not modify it.
func (t *Tensor) Shape() Shape { return t.shape }

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int { return len(t.shape) }

// Dim returns the size of dimension i.
func (t *Tensor) Dim(i int) int { return t.shape[i] }

// IsScalar reports whether the tensor has rank 0.
func (t *Tensor) IsScalar() bool { return len(t.shape) == 0 }

// ElementCount returns the number of elements described by the shape.
func (t *Tensor) ElementCount() int { return t.shape.NumElements() }

// ByteSize returns the size of the buffer in bytes.
func (t *Tensor) ByteSize() int { return len(t.buf) }

// Bytes returns the raw buffer.
// WARNING: Direct access to underlying memory. Use with caution.
func (t *Tensor) Bytes() []byte { return t.buf }

// AllocateBuffer discards any existing storage and allocates a zeroed buffer for shape.
func (t *Tensor) AllocateBuffer(shape Shape) error {
	if err := t.checkShape(shape); err != nil {
		return err
	}
	t.Release()
	n := shape.NumElements() * t.dtype.Size()
	t.buf = t.allocator.Allocate(n)
	t.shape = shape.Clone()
	return nil
}

// Resize sets the tensor's shape, reallocating only when the byte size changes.
// When the byte size is unchanged the existing contents are kept.
func (t *Tensor) Resize(shape Shape) error {
	if err := t.checkShape(shape); err != nil {
		return err
	}
	n := shape.NumElements() * t.dtype.Size()
	if n != len(t.buf) {
		t.allocator.Deallocate(t.buf, len(t.buf))
		t.buf = t.allocator.Allocate(n)
	}
	t.shape = shape.Clone()
	return nil
}

// Zero sets every element to the type's zero value.
func (t *Tensor) Zero() {
	clear(t.buf)
}

// CopyFrom copies src into the buffer. src must match the buffer size exactly.
func (t *Tensor) CopyFrom(src []byte) error {
	if len(src) != len(t.buf) {
		return fmt.Errorf("tensor %q: copy of %d bytes into %d-byte buffer", t.name, len(src), len(t.buf))
	}
	copy(t.buf, src)
	return nil
}

// Release returns the buffer to the allocator. The shape is kept.
func (t *Tensor) Release() {
	if t.buf == nil {
		return
	}
	t.allocator.Deallocate(t.buf, len(t.buf))
	t.buf = nil
}

// String returns a short description such as `conv1:float32[1 3 224 224]NCHW`.
func (t *Tensor) String() string {
	return fmt.Sprintf("%s:%s%v%s", t.name, t.dtype, []int(t.shape), t.format)
}

func (t *Tensor) checkShape(shape Shape) error {
	if t.dtype == String {
		return fmt.Errorf("tensor %q: %w: %s", t.name, ErrUnsupportedType, t.dtype)
	}
	if err := shape.Validate(); err != nil {
		return fmt.Errorf("tensor %q: invalid shape: %w", t.name, err)
	}
	if _, ok := shape.checkedElements(math.MaxInt / t.dtype.Size()); !ok {
		return fmt.Errorf("tensor %q: invalid shape: %v %s overflows the byte size", t.name, shape, t.dtype)
	}
	return nil
}

// Data interprets the buffer as []T.
// Panics if T does not match the tensor's element type.
func Data[T Element](t *Tensor) []T {
	if dt := DataTypeOf[T](); dt != t.dtype {
		panic(fmt.Sprintf("tensor %q dtype is %s, not %s", t.name, t.dtype, dt))
	}
	if len(t.buf) == 0 {
		return nil
	}
	//nolint:gosec // unsafe.Slice for zero-copy performance, bounds checked by ElementCount()
	return unsafe.Slice((*T)(unsafe.Pointer(&t.buf[0])), t.ElementCount())
}
