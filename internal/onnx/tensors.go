package onnx

import (
	"fmt"

	"github.com/mai-ml/mai/internal/op"
	"github.com/mai-ml/mai/internal/tensor"
)

func dataTypeFromProto(code int32) (tensor.DataType, error) {
	switch code {
	case TensorProtoFloat:
		return tensor.Float32, nil
	case TensorProtoUint8:
		return tensor.Uint8, nil
	case TensorProtoInt8:
		return tensor.Int8, nil
	case TensorProtoUint16:
		return tensor.Uint16, nil
	case TensorProtoInt16:
		return tensor.Int16, nil
	case TensorProtoInt32:
		return tensor.Int32, nil
	case TensorProtoInt64:
		return tensor.Int64, nil
	case TensorProtoBool:
		return tensor.Bool, nil
	default:
		return 0, fmt.Errorf("%w: ONNX element type %d", op.ErrUnsupported, code)
	}
}

// tensorFromProto materialises a constant. Rank-4 constants are tagged OIHW,
// the ONNX filter layout. raw_data is assumed little-endian.
func tensorFromProto(name string, tp *TensorProto, alloc tensor.Allocator) (*tensor.Tensor, error) {
	dt, err := dataTypeFromProto(tp.DataType)
	if err != nil {
		return nil, err
	}
	shape := make(tensor.Shape, len(tp.Dims))
	for i, d := range tp.Dims {
		shape[i] = int(d)
	}

	t := tensor.New(dt, alloc)
	t.SetName(name)
	if len(shape) == 4 {
		t.SetDataFormat(tensor.OIHW)
	}
	if err := t.AllocateBuffer(shape); err != nil {
		return nil, err
	}
	if err := fillFromProto(t, tp); err != nil {
		t.Release()
		return nil, err
	}
	return t, nil
}

func fillFromProto(t *tensor.Tensor, tp *TensorProto) error {
	if len(tp.RawData) > 0 {
		if err := t.CopyFrom(tp.RawData); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return nil
	}

	n := t.ElementCount()
	var got int
	switch t.DataType() {
	case tensor.Float32:
		got = len(tp.FloatData)
	case tensor.Int64:
		got = len(tp.Int64Data)
	default:
		got = len(tp.Int32Data)
	}
	if got != n {
		return fmt.Errorf("%w: %d values for %d elements", ErrMalformed, got, n)
	}

	switch t.DataType() {
	case tensor.Float32:
		copy(tensor.Data[float32](t), tp.FloatData)
	case tensor.Int64:
		copy(tensor.Data[int64](t), tp.Int64Data)
	case tensor.Int32:
		copy(tensor.Data[int32](t), tp.Int32Data)
	case tensor.Int16:
		narrow(tensor.Data[int16](t), tp.Int32Data)
	case tensor.Uint16:
		narrow(tensor.Data[uint16](t), tp.Int32Data)
	case tensor.Int8:
		narrow(tensor.Data[int8](t), tp.Int32Data)
	case tensor.Uint8:
		narrow(tensor.Data[uint8](t), tp.Int32Data)
	case tensor.Bool:
		dst := tensor.Data[bool](t)
		for i, v := range tp.Int32Data {
			dst[i] = v != 0
		}
	}
	return nil
}

// narrow converts the int32_data field of small integer types.
func narrow[T tensor.Numeric](dst []T, src []int32) {
	for i, v := range src {
		dst[i] = T(v)
	}
}
