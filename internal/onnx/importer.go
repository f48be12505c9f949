package onnx

import (
	"errors"
	"fmt"
	"math"

	"github.com/mai-ml/mai/internal/graph"
	"github.com/mai-ml/mai/internal/op"
	"github.com/mai-ml/mai/internal/tensor"
)

// ErrUnsupportedNode is returned for nodes the importer cannot lower to a
// registry operator.
var ErrUnsupportedNode = errors.New("unsupported ONNX node")

// Load parses data and imports the model.
func Load(data []byte, reg *op.Registry, cfg graph.Config) (*graph.Graph, error) {
	m, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return Import(m, reg, cfg)
}

// Import lowers an ONNX model into a graph of operators created from reg.
//
// Initializers become tensors, with rank-4 initializers tagged OIHW. Graph
// inputs that are not initializers become model inputs tagged NCHW when
// rank 4; symbolic or non-positive dimensions are fixed to 1. The graph is
// returned uninitialised.
func Import(m *ModelProto, reg *op.Registry, cfg graph.Config) (*graph.Graph, error) {
	if m == nil || m.Graph == nil {
		return nil, fmt.Errorf("%w: model has no graph", ErrMalformed)
	}
	im := &importer{
		m:      m,
		reg:    reg,
		g:      graph.New(cfg),
		opset:  m.OpsetVersion(""),
		consts: make(map[string]bool),
	}
	if err := im.run(); err != nil {
		im.g.Release()
		return nil, err
	}
	cfg.Logger.V(1).Info("imported ONNX model",
		"producer", m.ProducerName,
		"opset", im.opset,
		"nodes", len(m.Graph.Nodes),
		"initializers", len(m.Graph.Initializers),
		"operators", len(im.g.Operators()))
	return im.g, nil
}

type importer struct {
	m      *ModelProto
	reg    *op.Registry
	g      *graph.Graph
	opset  int64
	consts map[string]bool
}

func (im *importer) run() error {
	for i := range im.m.Graph.Initializers {
		tp := &im.m.Graph.Initializers[i]
		if err := im.addConstant(tp.Name, tp); err != nil {
			return err
		}
	}
	for _, in := range im.m.Graph.Inputs {
		if im.consts[in.Name] {
			continue
		}
		if err := im.addInput(in); err != nil {
			return err
		}
	}
	for i := range im.m.Graph.Nodes {
		n := &im.m.Graph.Nodes[i]
		if err := im.addNode(i, n); err != nil {
			return fmt.Errorf("node %q (%s): %w", nodeName(i, n), n.OpType, err)
		}
	}
	for _, out := range im.m.Graph.Outputs {
		if err := im.g.AddModelOutput(out.Name); err != nil {
			return err
		}
	}
	return nil
}

func (im *importer) addConstant(name string, tp *TensorProto) error {
	t, err := tensorFromProto(name, tp, im.g.Allocator())
	if err != nil {
		return fmt.Errorf("initializer %q: %w", name, err)
	}
	if err := im.g.AddTensor(t); err != nil {
		t.Release()
		return err
	}
	im.consts[name] = true
	return nil
}

func (im *importer) addInput(in ValueInfoProto) error {
	dt, err := dataTypeFromProto(in.ElemType)
	if err != nil {
		return fmt.Errorf("input %q: %w", in.Name, err)
	}
	shape := make(tensor.Shape, len(in.Shape))
	for i, d := range in.Shape {
		shape[i] = int(max(d.Value, 1))
	}
	return im.g.AddModelInput(in.Name, dt, shape)
}

// lowering describes the operator a node becomes.
type lowering struct {
	kind      op.Kind
	param     op.Param
	inputs    []string
	outType   tensor.DataType
	outFormat tensor.DataFormat
}

type lowerFunc func(im *importer, n *NodeProto, in *tensor.Tensor) (lowering, error)

var lowerings = map[string]lowerFunc{
	"Add":                lowerAdd,
	"AveragePool":        lowerAveragePool,
	"BatchNormalization": lowerBatchNorm,
	"Cast":               lowerCast,
	"Clip":               lowerClip,
	"Conv":               lowerConv,
	"Pow":                elementwise(op.Pow),
	"Relu":               elementwise(op.Relu),
	"Reshape":            lowerReshape,
	"Shape":              lowerShape,
	"Sigmoid":            elementwise(op.Sigmoid),
	"Softmax":            lowerSoftmax,
	"Squeeze":            lowerSqueeze,
}

func (im *importer) addNode(i int, n *NodeProto) error {
	if len(n.Outputs) == 0 || n.Outputs[0] == "" {
		return fmt.Errorf("%w: node has no output", ErrMalformed)
	}
	if n.OpType == "Constant" {
		a := n.Attribute("value")
		if a == nil || a.T == nil {
			return fmt.Errorf("%w: only tensor-valued constants are supported", ErrUnsupportedNode)
		}
		return im.addConstant(n.Outputs[0], a.T)
	}
	if n.Domain != "" && n.Domain != "ai.onnx" {
		return fmt.Errorf("%w: domain %q", ErrUnsupportedNode, n.Domain)
	}
	lower, ok := lowerings[n.OpType]
	if !ok {
		return fmt.Errorf("%w: op type %q", ErrUnsupportedNode, n.OpType)
	}
	if len(n.Inputs) == 0 {
		return fmt.Errorf("%w: node has no inputs", ErrMalformed)
	}
	in := im.g.Tensor(n.Inputs[0])
	if in == nil {
		return fmt.Errorf("input %q: %w", n.Inputs[0], op.ErrMissingTensor)
	}

	l, err := lower(im, n, in)
	if err != nil {
		return err
	}
	o, err := im.reg.Create(l.kind, in.DataType())
	if err != nil {
		return err
	}
	o.SetName(nodeName(i, n))
	o.AddInputNames(l.inputs...)
	o.AddOutputNames(n.Outputs[0])
	if err := o.Configure(l.param); err != nil {
		return err
	}
	if im.g.Tensor(n.Outputs[0]) == nil {
		if _, err := im.g.NewTensor(n.Outputs[0], l.outType, l.outFormat); err != nil {
			return err
		}
	}
	return im.g.AddOperator(o)
}

func nodeName(i int, n *NodeProto) string {
	if n.Name != "" {
		return n.Name
	}
	return fmt.Sprintf("%s_%d", n.OpType, i)
}

// present drops omitted optional inputs, which ONNX encodes as empty names.
func present(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n != "" {
			out = append(out, n)
		}
	}
	return out
}

func elementwise(kind op.Kind) lowerFunc {
	return func(_ *importer, n *NodeProto, in *tensor.Tensor) (lowering, error) {
		return lowering{
			kind:      kind,
			inputs:    present(n.Inputs),
			outType:   in.DataType(),
			outFormat: in.DataFormat(),
		}, nil
	}
}

func lowerConv(im *importer, n *NodeProto, in *tensor.Tensor) (lowering, error) {
	inputs := present(n.Inputs)
	if len(inputs) < 2 {
		return lowering{}, fmt.Errorf("%w: Conv needs a filter input", ErrMalformed)
	}
	filter := im.g.Tensor(inputs[1])
	if filter == nil {
		return lowering{}, fmt.Errorf("filter %q: %w", inputs[1], op.ErrMissingTensor)
	}

	var p op.Conv2DParam
	var err error
	if p.Strides, err = spatialPair(n, "strides"); err != nil {
		return lowering{}, err
	}
	if p.Dilations, err = spatialPair(n, "dilations"); err != nil {
		return lowering{}, err
	}
	if p.PaddingMode, p.Paddings, err = windowPadding(n); err != nil {
		return lowering{}, err
	}

	l := lowering{
		kind:      op.Conv2D,
		param:     &p,
		inputs:    inputs,
		outType:   in.DataType(),
		outFormat: tensor.NCHW,
	}
	if group := n.AttrInt("group", 1); group > 1 {
		if im.consts[filter.Name()] && filter.Rank() == 4 {
			filter.SetDataFormat(tensor.IOHW)
		}
		l.kind = op.DepthwiseConv2D
		l.param = &op.DepthwiseConv2DParam{Conv2DParam: p}
	}
	return l, nil
}

// windowPadding reads auto_pad and pads. Explicit pads come back in
// top, bottom, left, right order.
func windowPadding(n *NodeProto) (op.PaddingMode, []int, error) {
	switch pad := n.AttrString("auto_pad", "NOTSET"); pad {
	case "SAME_UPPER", "SAME_LOWER":
		return op.PaddingSame, nil, nil
	case "VALID":
		return op.PaddingValid, nil, nil
	case "NOTSET", "":
		switch pads := n.AttrInts("pads"); len(pads) {
		case 0:
			return op.PaddingExplicit, []int{0, 0, 0, 0}, nil
		case 4:
			// ONNX orders pads as [top, left, bottom, right].
			return op.PaddingExplicit, []int{int(pads[0]), int(pads[2]), int(pads[1]), int(pads[3])}, nil
		default:
			return 0, nil, fmt.Errorf("%w: %s pads %v", op.ErrUnsupported, n.OpType, pads)
		}
	default:
		return 0, nil, fmt.Errorf("%w: auto_pad %q", op.ErrInvalidParam, pad)
	}
}

func lowerAveragePool(_ *importer, n *NodeProto, in *tensor.Tensor) (lowering, error) {
	if n.AttrInt("ceil_mode", 0) != 0 {
		return lowering{}, fmt.Errorf("%w: AveragePool with ceil_mode", ErrUnsupportedNode)
	}
	d, err := spatialPair(n, "dilations")
	if err != nil {
		return lowering{}, err
	}
	if len(d) > 0 && (d[2] != 1 || d[3] != 1) {
		return lowering{}, fmt.Errorf("%w: AveragePool dilations %v", ErrUnsupportedNode, d[2:])
	}
	k := n.AttrInts("kernel_shape")
	if len(k) != 2 {
		return lowering{}, fmt.Errorf("%w: AveragePool kernel_shape %v, only 2-D pooling is supported", ErrUnsupportedNode, k)
	}

	p := op.PoolParam{
		KernelShape:     []int{int(k[0]), int(k[1])},
		CountIncludePad: n.AttrInt("count_include_pad", 0) != 0,
	}
	if p.Strides, err = spatialPair(n, "strides"); err != nil {
		return lowering{}, err
	}
	if p.PaddingMode, p.Paddings, err = windowPadding(n); err != nil {
		return lowering{}, err
	}
	return lowering{
		kind:      op.AvgPool,
		param:     &p,
		inputs:    n.Inputs[:1],
		outType:   in.DataType(),
		outFormat: tensor.NCHW,
	}, nil
}

// spatialPair expands a 2-entry H/W attribute into four NCHW-ordered values.
func spatialPair(n *NodeProto, name string) ([]int, error) {
	v := n.AttrInts(name)
	switch len(v) {
	case 0:
		return nil, nil
	case 2:
		return []int{1, 1, int(v[0]), int(v[1])}, nil
	default:
		return nil, fmt.Errorf("%w: %s %v, only 2-D convolution is supported", op.ErrUnsupported, name, v)
	}
}

func lowerClip(im *importer, n *NodeProto, in *tensor.Tensor) (lowering, error) {
	lo, hi := float32(math.Inf(-1)), float32(math.Inf(1))
	if a := n.Attribute("min"); a != nil {
		lo = a.F
	}
	if a := n.Attribute("max"); a != nil {
		hi = a.F
	}
	var err error
	if len(n.Inputs) > 1 && n.Inputs[1] != "" {
		if lo, err = im.constScalar(n.Inputs[1]); err != nil {
			return lowering{}, err
		}
	}
	if len(n.Inputs) > 2 && n.Inputs[2] != "" {
		if hi, err = im.constScalar(n.Inputs[2]); err != nil {
			return lowering{}, err
		}
	}

	l := lowering{inputs: n.Inputs[:1], outType: in.DataType(), outFormat: in.DataFormat()}
	switch {
	case lo == 0 && hi == 6:
		l.kind = op.Relu6
	case lo == -1 && hi == 1:
		l.kind = op.Relu1
	case lo == 0 && math.IsInf(float64(hi), 1):
		l.kind = op.Relu
	default:
		return lowering{}, fmt.Errorf("%w: Clip range [%g, %g]", ErrUnsupportedNode, lo, hi)
	}
	return l, nil
}

func lowerSoftmax(im *importer, n *NodeProto, in *tensor.Tensor) (lowering, error) {
	// Opsets before 13 default to axis 1 and coerce the input to 2-D at the
	// axis, normalising everything after it together.
	param := &op.SoftmaxParam{Axis: -1, Beta: 1}
	if im.opset != 0 && im.opset < 13 {
		param.Axis, param.Flatten = 1, true
	}
	param.Axis = int(n.AttrInt("axis", int64(param.Axis)))
	return lowering{
		kind:      op.Softmax,
		param:     param,
		inputs:    n.Inputs[:1],
		outType:   in.DataType(),
		outFormat: in.DataFormat(),
	}, nil
}

func lowerReshape(_ *importer, n *NodeProto, in *tensor.Tensor) (lowering, error) {
	inputs := present(n.Inputs)
	if len(inputs) != 2 {
		return lowering{}, fmt.Errorf("%w: Reshape needs data and shape inputs", ErrMalformed)
	}
	return lowering{kind: op.Reshape, inputs: inputs, outType: in.DataType()}, nil
}

func lowerShape(_ *importer, n *NodeProto, _ *tensor.Tensor) (lowering, error) {
	if n.Attribute("start") != nil || n.Attribute("end") != nil {
		return lowering{}, fmt.Errorf("%w: Shape with start/end", ErrUnsupportedNode)
	}
	return lowering{kind: op.Shape, inputs: n.Inputs[:1], outType: tensor.Int64}, nil
}

func lowerSqueeze(im *importer, n *NodeProto, in *tensor.Tensor) (lowering, error) {
	axes := n.AttrInts("axes")
	if len(n.Inputs) > 1 && n.Inputs[1] != "" {
		var err error
		if axes, err = im.constInts(n.Inputs[1]); err != nil {
			return lowering{}, err
		}
	}
	p := &op.SqueezeParam{}
	for _, a := range axes {
		p.Dims = append(p.Dims, int(a))
	}
	return lowering{kind: op.Squeeze, param: p, inputs: n.Inputs[:1], outType: in.DataType()}, nil
}

// lowerAdd turns an Add with one constant channel vector into BiasAdd.
// Vectors shaped [C,1,1] or [1,C,1,1] are flattened into a new constant.
func lowerAdd(im *importer, n *NodeProto, _ *tensor.Tensor) (lowering, error) {
	if len(n.Inputs) != 2 {
		return lowering{}, fmt.Errorf("%w: Add needs two inputs", ErrMalformed)
	}
	data, bias := n.Inputs[0], n.Inputs[1]
	if im.consts[data] && !im.consts[bias] {
		data, bias = bias, data
	}
	dt, bt := im.g.Tensor(data), im.g.Tensor(bias)
	if dt == nil {
		return lowering{}, fmt.Errorf("input %q: %w", data, op.ErrMissingTensor)
	}
	if !im.consts[bias] || bt == nil {
		return lowering{}, fmt.Errorf("%w: Add without a constant operand", ErrUnsupportedNode)
	}
	if !isChannelVector(bt.Shape()) {
		return lowering{}, fmt.Errorf("%w: Add with constant of shape %v", ErrUnsupportedNode, bt.Shape())
	}
	if bt.Rank() != 1 {
		flat, err := im.flatten(bt)
		if err != nil {
			return lowering{}, err
		}
		bias = flat.Name()
	}
	return lowering{
		kind:      op.BiasAdd,
		inputs:    []string{data, bias},
		outType:   dt.DataType(),
		outFormat: dt.DataFormat(),
	}, nil
}

func isChannelVector(s tensor.Shape) bool {
	switch len(s) {
	case 1:
		return true
	case 3:
		return s[1] == 1 && s[2] == 1
	case 4:
		return s[0] == 1 && s[2] == 1 && s[3] == 1
	default:
		return false
	}
}

func (im *importer) flatten(t *tensor.Tensor) (*tensor.Tensor, error) {
	name := t.Name() + ":flat"
	if flat := im.g.Tensor(name); flat != nil {
		return flat, nil
	}
	flat := tensor.New(t.DataType(), im.g.Allocator())
	flat.SetName(name)
	if err := flat.AllocateBuffer(tensor.Shape{t.ElementCount()}); err != nil {
		return nil, err
	}
	if err := flat.CopyFrom(t.Bytes()); err != nil {
		flat.Release()
		return nil, err
	}
	if err := im.g.AddTensor(flat); err != nil {
		flat.Release()
		return nil, err
	}
	im.consts[name] = true
	return flat, nil
}

func lowerBatchNorm(_ *importer, n *NodeProto, in *tensor.Tensor) (lowering, error) {
	if len(n.Inputs) != 5 {
		return lowering{}, fmt.Errorf("%w: BatchNormalization needs 5 inputs, got %d", ErrMalformed, len(n.Inputs))
	}
	if n.AttrInt("training_mode", 0) != 0 {
		return lowering{}, fmt.Errorf("%w: BatchNormalization in training mode", ErrUnsupportedNode)
	}
	return lowering{
		kind:      op.FusedBatchNorm,
		param:     &op.BatchNormParam{Epsilon: n.AttrFloat("epsilon", 1e-5)},
		inputs:    n.Inputs,
		outType:   in.DataType(),
		outFormat: in.DataFormat(),
	}, nil
}

func lowerCast(_ *importer, n *NodeProto, in *tensor.Tensor) (lowering, error) {
	a := n.Attribute("to")
	if a == nil {
		return lowering{}, fmt.Errorf("%w: Cast without 'to'", ErrMalformed)
	}
	to, err := dataTypeFromProto(int32(a.I))
	if err != nil {
		return lowering{}, err
	}
	return lowering{kind: op.Cast, inputs: n.Inputs[:1], outType: to, outFormat: in.DataFormat()}, nil
}

func (im *importer) constTensor(name string) (*tensor.Tensor, error) {
	t := im.g.Tensor(name)
	if t == nil || !im.consts[name] {
		return nil, fmt.Errorf("%w: %q must be a constant", ErrUnsupportedNode, name)
	}
	return t, nil
}

func (im *importer) constScalar(name string) (float32, error) {
	t, err := im.constTensor(name)
	if err != nil {
		return 0, err
	}
	if t.DataType() != tensor.Float32 || t.ElementCount() != 1 {
		return 0, fmt.Errorf("%w: %q is not a float32 scalar", ErrUnsupportedNode, name)
	}
	return tensor.Data[float32](t)[0], nil
}

func (im *importer) constInts(name string) ([]int64, error) {
	t, err := im.constTensor(name)
	if err != nil {
		return nil, err
	}
	switch t.DataType() {
	case tensor.Int64:
		return append([]int64(nil), tensor.Data[int64](t)...), nil
	case tensor.Int32:
		out := make([]int64, t.ElementCount())
		for i, v := range tensor.Data[int32](t) {
			out[i] = int64(v)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %q is %s, want an integer tensor", ErrUnsupportedNode, name, t.DataType())
	}
}
