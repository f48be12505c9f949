package onnx

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// pb builds protobuf messages for tests.
type pb []byte

func (m pb) str(num protowire.Number, s string) pb {
	m = protowire.AppendTag(m, num, protowire.BytesType)
	return protowire.AppendString(m, s)
}

func (m pb) bytes(num protowire.Number, b []byte) pb {
	m = protowire.AppendTag(m, num, protowire.BytesType)
	return protowire.AppendBytes(m, b)
}

func (m pb) varint(num protowire.Number, v int64) pb {
	m = protowire.AppendTag(m, num, protowire.VarintType)
	return protowire.AppendVarint(m, uint64(v))
}

func (m pb) float(num protowire.Number, f float32) pb {
	m = protowire.AppendTag(m, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(m, math.Float32bits(f))
}

func (m pb) msg(num protowire.Number, sub pb) pb {
	return m.bytes(num, sub)
}

func (m pb) packedInts(num protowire.Number, vs ...int64) pb {
	var packed []byte
	for _, v := range vs {
		packed = protowire.AppendVarint(packed, uint64(v))
	}
	return m.bytes(num, packed)
}

func (m pb) packedFloats(num protowire.Number, vs ...float32) pb {
	var packed []byte
	for _, v := range vs {
		packed = protowire.AppendFixed32(packed, math.Float32bits(v))
	}
	return m.bytes(num, packed)
}

func attrInt(name string, v int64) pb {
	return pb(nil).str(1, name).varint(20, AttributeProtoInt).varint(3, v)
}

func attrInts(name string, vs ...int64) pb {
	return pb(nil).str(1, name).varint(20, AttributeProtoInts).packedInts(8, vs...)
}

func attrFloat(name string, v float32) pb {
	return pb(nil).str(1, name).varint(20, AttributeProtoFloat).float(2, v)
}

func attrString(name, s string) pb {
	return pb(nil).str(1, name).varint(20, AttributeProtoString).str(4, s)
}

func attrTensor(name string, t pb) pb {
	return pb(nil).str(1, name).varint(20, AttributeProtoTensor).msg(5, t)
}

func node(opType, name string, inputs, outputs []string, attrs ...pb) pb {
	m := pb(nil)
	for _, in := range inputs {
		m = m.str(1, in)
	}
	for _, out := range outputs {
		m = m.str(2, out)
	}
	if name != "" {
		m = m.str(3, name)
	}
	m = m.str(4, opType)
	for _, a := range attrs {
		m = m.msg(5, a)
	}
	return m
}

func floatTensor(name string, dims []int64, data ...float32) pb {
	return pb(nil).packedInts(1, dims...).varint(2, TensorProtoFloat).packedFloats(4, data...).str(8, name)
}

func rawFloatTensor(name string, dims []int64, data ...float32) pb {
	raw := make([]byte, 0, 4*len(data))
	for _, v := range data {
		raw = protowire.AppendFixed32(raw, math.Float32bits(v))
	}
	return pb(nil).packedInts(1, dims...).varint(2, TensorProtoFloat).str(8, name).bytes(9, raw)
}

func int64Tensor(name string, dims []int64, data ...int64) pb {
	return pb(nil).packedInts(1, dims...).varint(2, TensorProtoInt64).packedInts(7, data...).str(8, name)
}

func valueInfo(name string, elem int32, dims ...int64) pb {
	shape := pb(nil)
	for _, d := range dims {
		shape = shape.msg(1, pb(nil).varint(1, d))
	}
	tensorType := pb(nil).varint(1, int64(elem)).msg(2, shape)
	return pb(nil).str(1, name).msg(2, pb(nil).msg(1, tensorType))
}

// graphBuilder collects the parts of a GraphProto.
type graphBuilder struct {
	nodes, inits, inputs, outputs []pb
}

func (g *graphBuilder) encode() pb {
	m := pb(nil).str(2, "test-graph")
	for _, n := range g.nodes {
		m = m.msg(1, n)
	}
	for _, t := range g.inits {
		m = m.msg(5, t)
	}
	for _, in := range g.inputs {
		m = m.msg(11, in)
	}
	for _, out := range g.outputs {
		m = m.msg(12, out)
	}
	return m
}

func model(opset int64, g *graphBuilder) []byte {
	return pb(nil).
		varint(1, 8).
		str(2, "mai-test").
		msg(8, pb(nil).str(1, "").varint(2, opset)).
		msg(7, g.encode())
}
