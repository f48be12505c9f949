package onnx

// Decoded subset of the ONNX protobuf schema. Fields the importer never
// reads are skipped by the parser.

// ModelProto is the top-level ONNX message.
type ModelProto struct {
	IRVersion       int64
	OpsetImport     []OperatorSetID
	ProducerName    string
	ProducerVersion string
	Domain          string
	ModelVersion    int64
	DocString       string
	Graph           *GraphProto
	MetadataProps   []StringStringEntry
}

// OpsetVersion returns the imported opset version of domain, or 0 when the
// model does not import it. The default ONNX domain is "" (or "ai.onnx").
func (m *ModelProto) OpsetVersion(domain string) int64 {
	for _, o := range m.OpsetImport {
		if o.Domain == domain || (domain == "" && o.Domain == "ai.onnx") {
			return o.Version
		}
	}
	return 0
}

// GraphProto holds the nodes, initializers and interface of a model.
type GraphProto struct {
	Name         string
	Nodes        []NodeProto
	Initializers []TensorProto
	Inputs       []ValueInfoProto
	Outputs      []ValueInfoProto
	ValueInfo    []ValueInfoProto
	DocString    string
}

// NodeProto is one operation in the graph.
type NodeProto struct {
	Name       string
	OpType     string
	Domain     string
	Inputs     []string
	Outputs    []string
	Attributes []AttributeProto
	DocString  string
}

// Attribute returns the attribute called name, or nil.
func (n *NodeProto) Attribute(name string) *AttributeProto {
	for i := range n.Attributes {
		if n.Attributes[i].Name == name {
			return &n.Attributes[i]
		}
	}
	return nil
}

// AttrInt returns an INT attribute or def when absent.
func (n *NodeProto) AttrInt(name string, def int64) int64 {
	if a := n.Attribute(name); a != nil {
		return a.I
	}
	return def
}

// AttrInts returns an INTS attribute, or nil when absent.
func (n *NodeProto) AttrInts(name string) []int64 {
	if a := n.Attribute(name); a != nil {
		return a.Ints
	}
	return nil
}

// AttrFloat returns a FLOAT attribute or def when absent.
func (n *NodeProto) AttrFloat(name string, def float32) float32 {
	if a := n.Attribute(name); a != nil {
		return a.F
	}
	return def
}

// AttrString returns a STRING attribute or def when absent.
func (n *NodeProto) AttrString(name, def string) string {
	if a := n.Attribute(name); a != nil {
		return string(a.S)
	}
	return def
}

// TensorProto is a serialized constant tensor.
type TensorProto struct {
	Name      string
	DataType  int32
	Dims      []int64
	RawData   []byte
	FloatData []float32
	Int32Data []int32
	Int64Data []int64
	DocString string
}

// ValueInfoProto describes a graph input, output or intermediate value. Only
// tensor types are decoded.
type ValueInfoProto struct {
	Name      string
	ElemType  int32
	Shape     []Dimension
	HasShape  bool
	DocString string
}

// Dimension is either a fixed size or a symbolic name.
type Dimension struct {
	Value int64
	Param string
}

// AttributeProto is a named node attribute.
type AttributeProto struct {
	Name    string
	Type    int32
	F       float32
	I       int64
	S       []byte
	T       *TensorProto
	Floats  []float32
	Ints    []int64
	Strings [][]byte
}

// OperatorSetID names an imported opset.
type OperatorSetID struct {
	Domain  string
	Version int64
}

// StringStringEntry is a metadata key/value pair.
type StringStringEntry struct {
	Key   string
	Value string
}

// TensorProto.DataType codes.
const (
	TensorProtoUndefined = 0
	TensorProtoFloat     = 1
	TensorProtoUint8     = 2
	TensorProtoInt8      = 3
	TensorProtoUint16    = 4
	TensorProtoInt16     = 5
	TensorProtoInt32     = 6
	TensorProtoInt64     = 7
	TensorProtoString    = 8
	TensorProtoBool      = 9
	TensorProtoFloat16   = 10
	TensorProtoDouble    = 11
)

// AttributeProto.Type codes.
const (
	AttributeProtoUndefined = 0
	AttributeProtoFloat     = 1
	AttributeProtoInt       = 2
	AttributeProtoString    = 3
	AttributeProtoTensor    = 4
	AttributeProtoGraph     = 5
	AttributeProtoFloats    = 6
	AttributeProtoInts      = 7
	AttributeProtoStrings   = 8
)
