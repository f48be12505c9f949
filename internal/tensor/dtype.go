// Package tensor provides the typed, shaped, layout-tagged buffers that
// operators read and write, together with the allocators that back them.
package tensor

// Numeric is a constraint for element types that arithmetic kernels accept.
type Numeric interface {
	~float32 | ~int32 | ~int64 | ~uint8 | ~int8 | ~uint16 | ~int16
}

// Element is a constraint for every element type that has a fixed-width buffer.
type Element interface {
	Numeric | ~bool
}

// DataType represents runtime type information for tensors.
type DataType int

// Supported data types for tensors.
const (
	Float32 DataType = iota
	Int32
	Int64
	Uint8
	Int8
	Uint16
	Int16
	Bool
	String
)

// Size returns the byte size of one element.
// String has no fixed-width representation and reports 0.
func (dt DataType) Size() int {
	switch dt {
	case Float32, Int32:
		return 4
	case Int64:
		return 8
	case Uint16, Int16:
		return 2
	case Uint8, Int8, Bool:
		return 1
	case String:
		return 0
	default:
		panic("unknown data type")
	}
}

// IsNumeric reports whether arithmetic kernels can operate on the type.
func (dt DataType) IsNumeric() bool {
	return dt != Bool && dt != String
}

// String returns a human-readable name for the data type.
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Uint8:
		return "uint8"
	case Int8:
		return "int8"
	case Uint16:
		return "uint16"
	case Int16:
		return "int16"
	case Bool:
		return "bool"
	case String:
		return "string"
	default:
		return "unknown"
	}
}

// DataTypeOf returns the DataType matching the Go type T.
func DataTypeOf[T Element]() DataType {
	var zero T
	switch any(zero).(type) {
	case float32:
		return Float32
	case int32:
		return Int32
	case int64:
		return Int64
	case uint8:
		return Uint8
	case int8:
		return Int8
	case uint16:
		return Uint16
	case int16:
		return Int16
	case bool:
		return Bool
	default:
		panic("unsupported type")
	}
}
