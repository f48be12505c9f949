package tensor

import (
	"fmt"
	"math"
)

// Shape represents the dimensions of a tensor.
type Shape []int

// NumElements returns the total number of elements in the tensor.
func (s Shape) NumElements() int {
	if len(s) == 0 {
		return 1 // Scalar has 1 element
	}
	n := 1
	for _, dim := range s {
		n *= dim
	}
	return n
}

// Validate checks that no dimension is negative and that the element count
// fits in an int. Zero-sized dimensions are allowed.
func (s Shape) Validate() error {
	for i, dim := range s {
		if dim < 0 {
			return fmt.Errorf("invalid dimension at index %d: %d (must be >= 0)", i, dim)
		}
	}
	if _, ok := s.checkedElements(math.MaxInt); !ok {
		return fmt.Errorf("shape %v overflows the element count", s)
	}
	return nil
}

// checkedElements returns the element count, or false when it exceeds limit.
// Dimensions must be non-negative.
func (s Shape) checkedElements(limit int) (int, bool) {
	n := 1
	for _, dim := range s {
		if dim == 0 {
			return 0, true
		}
	}
	for _, dim := range s {
		if n > limit/dim {
			return 0, false
		}
		n *= dim
	}
	return n, true
}

// Equal checks if two shapes are equal.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of the shape.
func (s Shape) Clone() Shape {
	clone := make(Shape, len(s))
	copy(clone, s)
	return clone
}

// Offset4D returns the row-major linear offset of (a, b, c, d) in a rank-4 shape.
func (s Shape) Offset4D(a, b, c, d int) int {
	return ((a*s[1]+b)*s[2]+c)*s[3] + d
}
