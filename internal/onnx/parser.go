package onnx

import (
	"errors"
	"fmt"
	"math"
	"os"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMalformed is returned when the input is not a valid ONNX protobuf encoding.
var ErrMalformed = errors.New("malformed ONNX model")

// ParseFile parses an ONNX model from file.
//
//nolint:gosec // G304: path comes from the caller
func ParseFile(path string) (*ModelProto, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(data)
}

// Parse decodes an ONNX model from its protobuf wire encoding.
func Parse(data []byte) (*ModelProto, error) {
	m := &ModelProto{}
	if err := decodeModel(data, m); err != nil {
		return nil, fmt.Errorf("failed to parse model: %w", err)
	}
	return m, nil
}

// field is one decoded key/value pair of a message.
type field struct {
	num protowire.Number
	typ protowire.Type
	u   uint64 // varint, fixed32 and fixed64 payloads
	b   []byte // length-delimited payload
}

// walk calls fn for every field of the message encoded in b, in wire order.
func walk(b []byte, fn func(f *field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.u, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			f.u = uint64(v)
		case protowire.Fixed64Type:
			f.u, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			f.b, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
		}
		b = b[n:]

		if err := fn(&f); err != nil {
			return err
		}
	}
	return nil
}

func (f *field) expect(typ protowire.Type) error {
	if f.typ != typ {
		return fmt.Errorf("%w: field %d has wire type %d, want %d", ErrMalformed, f.num, f.typ, typ)
	}
	return nil
}

func (f *field) asString() (string, error) {
	if err := f.expect(protowire.BytesType); err != nil {
		return "", err
	}
	return string(f.b), nil
}

func (f *field) asInt64() (int64, error) {
	if err := f.expect(protowire.VarintType); err != nil {
		return 0, err
	}
	return int64(f.u), nil
}

func (f *field) asFloat32() (float32, error) {
	if err := f.expect(protowire.Fixed32Type); err != nil {
		return 0, err
	}
	return math.Float32frombits(uint32(f.u)), nil
}

// appendInt64s decodes a repeated varint field, packed or not.
func (f *field) appendInt64s(dst []int64) ([]int64, error) {
	if f.typ == protowire.VarintType {
		return append(dst, int64(f.u)), nil
	}
	if err := f.expect(protowire.BytesType); err != nil {
		return dst, err
	}
	for b := f.b; len(b) > 0; {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return dst, fmt.Errorf("%w: packed field %d: %v", ErrMalformed, f.num, protowire.ParseError(n))
		}
		dst = append(dst, int64(v))
		b = b[n:]
	}
	return dst, nil
}

// appendFloat32s decodes a repeated float field, packed or not.
func (f *field) appendFloat32s(dst []float32) ([]float32, error) {
	if f.typ == protowire.Fixed32Type {
		return append(dst, math.Float32frombits(uint32(f.u))), nil
	}
	if err := f.expect(protowire.BytesType); err != nil {
		return dst, err
	}
	if len(f.b)%4 != 0 {
		return dst, fmt.Errorf("%w: packed float field %d has %d bytes", ErrMalformed, f.num, len(f.b))
	}
	for b := f.b; len(b) > 0; {
		v, n := protowire.ConsumeFixed32(b)
		dst = append(dst, math.Float32frombits(v))
		b = b[n:]
	}
	return dst, nil
}

func decodeModel(b []byte, m *ModelProto) error {
	return walk(b, func(f *field) (err error) {
		switch f.num {
		case 1: // ir_version
			m.IRVersion, err = f.asInt64()
		case 2: // producer_name
			m.ProducerName, err = f.asString()
		case 3: // producer_version
			m.ProducerVersion, err = f.asString()
		case 4: // domain
			m.Domain, err = f.asString()
		case 5: // model_version
			m.ModelVersion, err = f.asInt64()
		case 6: // doc_string
			m.DocString, err = f.asString()
		case 7: // graph
			if err = f.expect(protowire.BytesType); err != nil {
				return err
			}
			m.Graph = &GraphProto{}
			err = decodeGraph(f.b, m.Graph)
		case 8: // opset_import
			var o OperatorSetID
			if err = f.expect(protowire.BytesType); err != nil {
				return err
			}
			if err = decodeOpset(f.b, &o); err == nil {
				m.OpsetImport = append(m.OpsetImport, o)
			}
		case 14: // metadata_props
			var e StringStringEntry
			if err = f.expect(protowire.BytesType); err != nil {
				return err
			}
			if err = decodeEntry(f.b, &e); err == nil {
				m.MetadataProps = append(m.MetadataProps, e)
			}
		}
		return err
	})
}

func decodeOpset(b []byte, o *OperatorSetID) error {
	return walk(b, func(f *field) (err error) {
		switch f.num {
		case 1:
			o.Domain, err = f.asString()
		case 2:
			o.Version, err = f.asInt64()
		}
		return err
	})
}

func decodeEntry(b []byte, e *StringStringEntry) error {
	return walk(b, func(f *field) (err error) {
		switch f.num {
		case 1:
			e.Key, err = f.asString()
		case 2:
			e.Value, err = f.asString()
		}
		return err
	})
}

func decodeGraph(b []byte, g *GraphProto) error {
	return walk(b, func(f *field) (err error) {
		switch f.num {
		case 1: // node
			var n NodeProto
			if err = f.expect(protowire.BytesType); err != nil {
				return err
			}
			if err = decodeNode(f.b, &n); err == nil {
				g.Nodes = append(g.Nodes, n)
			}
		case 2: // name
			g.Name, err = f.asString()
		case 5: // initializer
			var t TensorProto
			if err = f.expect(protowire.BytesType); err != nil {
				return err
			}
			if err = decodeTensor(f.b, &t); err == nil {
				g.Initializers = append(g.Initializers, t)
			}
		case 10: // doc_string
			g.DocString, err = f.asString()
		case 11, 12, 13: // input, output, value_info
			var v ValueInfoProto
			if err = f.expect(protowire.BytesType); err != nil {
				return err
			}
			if err = decodeValueInfo(f.b, &v); err != nil {
				return err
			}
			switch f.num {
			case 11:
				g.Inputs = append(g.Inputs, v)
			case 12:
				g.Outputs = append(g.Outputs, v)
			default:
				g.ValueInfo = append(g.ValueInfo, v)
			}
		}
		return err
	})
}

func decodeNode(b []byte, n *NodeProto) error {
	return walk(b, func(f *field) (err error) {
		var s string
		switch f.num {
		case 1: // input
			if s, err = f.asString(); err == nil {
				n.Inputs = append(n.Inputs, s)
			}
		case 2: // output
			if s, err = f.asString(); err == nil {
				n.Outputs = append(n.Outputs, s)
			}
		case 3:
			n.Name, err = f.asString()
		case 4:
			n.OpType, err = f.asString()
		case 5: // attribute
			var a AttributeProto
			if err = f.expect(protowire.BytesType); err != nil {
				return err
			}
			if err = decodeAttribute(f.b, &a); err == nil {
				n.Attributes = append(n.Attributes, a)
			}
		case 6:
			n.DocString, err = f.asString()
		case 7:
			n.Domain, err = f.asString()
		}
		return err
	})
}

func decodeAttribute(b []byte, a *AttributeProto) error {
	return walk(b, func(f *field) (err error) {
		switch f.num {
		case 1:
			a.Name, err = f.asString()
		case 2:
			a.F, err = f.asFloat32()
		case 3:
			a.I, err = f.asInt64()
		case 4:
			if err = f.expect(protowire.BytesType); err == nil {
				a.S = append([]byte(nil), f.b...)
			}
		case 5:
			if err = f.expect(protowire.BytesType); err != nil {
				return err
			}
			a.T = &TensorProto{}
			err = decodeTensor(f.b, a.T)
		case 7:
			a.Floats, err = f.appendFloat32s(a.Floats)
		case 8:
			a.Ints, err = f.appendInt64s(a.Ints)
		case 9:
			if err = f.expect(protowire.BytesType); err == nil {
				a.Strings = append(a.Strings, append([]byte(nil), f.b...))
			}
		case 20:
			var v int64
			v, err = f.asInt64()
			a.Type = int32(v)
		}
		return err
	})
}

func decodeTensor(b []byte, t *TensorProto) error {
	return walk(b, func(f *field) (err error) {
		switch f.num {
		case 1:
			t.Dims, err = f.appendInt64s(t.Dims)
		case 2:
			var v int64
			v, err = f.asInt64()
			t.DataType = int32(v)
		case 4:
			t.FloatData, err = f.appendFloat32s(t.FloatData)
		case 5:
			var vs []int64
			if vs, err = f.appendInt64s(nil); err == nil {
				for _, v := range vs {
					t.Int32Data = append(t.Int32Data, int32(v))
				}
			}
		case 7:
			t.Int64Data, err = f.appendInt64s(t.Int64Data)
		case 8:
			t.Name, err = f.asString()
		case 9:
			if err = f.expect(protowire.BytesType); err == nil {
				t.RawData = append([]byte(nil), f.b...)
			}
		case 12:
			t.DocString, err = f.asString()
		}
		return err
	})
}

// decodeValueInfo flattens ValueInfoProto.type.tensor_type into the record.
func decodeValueInfo(b []byte, v *ValueInfoProto) error {
	return walk(b, func(f *field) (err error) {
		switch f.num {
		case 1:
			v.Name, err = f.asString()
		case 2: // type
			if err = f.expect(protowire.BytesType); err != nil {
				return err
			}
			err = decodeType(f.b, v)
		case 3:
			v.DocString, err = f.asString()
		}
		return err
	})
}

func decodeType(b []byte, v *ValueInfoProto) error {
	return walk(b, func(f *field) error {
		if f.num != 1 { // tensor_type; sequence and map types are ignored
			return nil
		}
		if err := f.expect(protowire.BytesType); err != nil {
			return err
		}
		return walk(f.b, func(f *field) (err error) {
			switch f.num {
			case 1:
				var et int64
				et, err = f.asInt64()
				v.ElemType = int32(et)
			case 2:
				if err = f.expect(protowire.BytesType); err != nil {
					return err
				}
				v.HasShape = true
				err = decodeShape(f.b, v)
			}
			return err
		})
	})
}

func decodeShape(b []byte, v *ValueInfoProto) error {
	return walk(b, func(f *field) error {
		if f.num != 1 {
			return nil
		}
		if err := f.expect(protowire.BytesType); err != nil {
			return err
		}
		var d Dimension
		err := walk(f.b, func(f *field) (err error) {
			switch f.num {
			case 1:
				d.Value, err = f.asInt64()
			case 2:
				d.Param, err = f.asString()
			}
			return err
		})
		if err != nil {
			return err
		}
		v.Shape = append(v.Shape, d)
		return nil
	})
}
