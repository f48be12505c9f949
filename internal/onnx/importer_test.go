package onnx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mai-ml/mai/internal/graph"
	"github.com/mai-ml/mai/internal/op"
	"github.com/mai-ml/mai/internal/op/cpu"
	"github.com/mai-ml/mai/internal/tensor"
)

func newRegistry(t *testing.T) *op.Registry {
	t.Helper()
	reg, err := cpu.NewRegistry()
	require.NoError(t, err)
	return reg
}

func load(t *testing.T, opset int64, g *graphBuilder) *graph.Graph {
	t.Helper()
	out, err := Load(model(opset, g), newRegistry(t), graph.DefaultConfig())
	require.NoError(t, err)
	return out
}

func setInput[T tensor.Element](t *testing.T, g *graph.Graph, name string, data []T) {
	t.Helper()
	in := g.Tensor(name)
	require.NotNil(t, in)
	require.Equal(t, len(data), in.ElementCount())
	copy(tensor.Data[T](in), data)
}

// newImporter returns an importer over an empty graph for lowering tests.
func newImporter(t *testing.T, opset int64) *importer {
	t.Helper()
	return &importer{
		m:      &ModelProto{Graph: &GraphProto{}},
		reg:    newRegistry(t),
		g:      graph.New(graph.DefaultConfig()),
		opset:  opset,
		consts: make(map[string]bool),
	}
}

func (im *importer) mustConst(t *testing.T, name string, tp pb) {
	t.Helper()
	var p TensorProto
	require.NoError(t, decodeTensor(tp, &p))
	require.NoError(t, im.addConstant(name, &p))
}

func TestImport_ConvBiasRelu(t *testing.T) {
	g := load(t, 13, &graphBuilder{
		nodes: []pb{
			node("Conv", "conv", []string{"x", "w", "b"}, []string{"conv_out"}, attrInts("kernel_shape", 2, 2)),
			node("Relu", "relu", []string{"conv_out"}, []string{"y"}),
		},
		inits: []pb{
			rawFloatTensor("w", []int64{1, 1, 2, 2}, 1, 1, 1, 1),
			floatTensor("b", []int64{1}, -13),
		},
		// Older exporters list initializers among the graph inputs.
		inputs: []pb{
			valueInfo("x", TensorProtoFloat, 1, 1, 3, 3),
			valueInfo("w", TensorProtoFloat, 1, 1, 2, 2),
		},
		outputs: []pb{valueInfo("y", TensorProtoFloat)},
	})
	defer g.Release()

	assert.Equal(t, []string{"x"}, g.ModelInputs())
	assert.Equal(t, []string{"y"}, g.ModelOutputs())
	assert.Equal(t, tensor.NCHW, g.Tensor("x").DataFormat())
	assert.Equal(t, tensor.OIHW, g.Tensor("w").DataFormat())
	assert.Equal(t, tensor.NCHW, g.Tensor("conv_out").DataFormat())

	ops := g.Operators()
	require.Len(t, ops, 2)
	assert.Equal(t, op.Conv2D, ops[0].Kind())
	assert.Equal(t, []string{"x", "w", "b"}, ops[0].Inputs())
	assert.Equal(t, op.Relu, ops[1].Kind())

	setInput(t, g, "x", []float32{1, 2, 3, 4, 5, 6, 7, 8, 9})
	require.NoError(t, g.Init())
	require.NoError(t, g.Run())

	y := g.Tensor("y")
	assert.Equal(t, tensor.Shape{1, 1, 2, 2}, y.Shape())
	assert.Equal(t, []float32{0, 3, 11, 15}, tensor.Data[float32](y))
}

func TestLowerConv_Attributes(t *testing.T) {
	tests := []struct {
		name  string
		attrs []pb
		want  op.Conv2DParam
	}{
		{
			name: "defaults",
			want: op.Conv2DParam{Paddings: []int{0, 0, 0, 0}, PaddingMode: op.PaddingExplicit},
		},
		{
			name:  "pads reordered",
			attrs: []pb{attrInts("pads", 1, 2, 3, 4), attrInts("strides", 2, 3)},
			want: op.Conv2DParam{
				Strides:     []int{1, 1, 2, 3},
				Paddings:    []int{1, 3, 2, 4},
				PaddingMode: op.PaddingExplicit,
			},
		},
		{
			name:  "same lower",
			attrs: []pb{attrString("auto_pad", "SAME_LOWER"), attrInts("dilations", 1, 1)},
			want:  op.Conv2DParam{Dilations: []int{1, 1, 1, 1}, PaddingMode: op.PaddingSame},
		},
		{
			name:  "valid",
			attrs: []pb{attrString("auto_pad", "VALID")},
			want:  op.Conv2DParam{PaddingMode: op.PaddingValid},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			im := newImporter(t, 13)
			im.mustConst(t, "w", floatTensor("w", []int64{1, 1, 1, 1}, 1))
			x := im.g.Tensor("w")

			var n NodeProto
			require.NoError(t, decodeNode(node("Conv", "c", []string{"x", "w"}, []string{"y"}, tt.attrs...), &n))
			l, err := lowerConv(im, &n, x)
			require.NoError(t, err)
			assert.Equal(t, op.Conv2D, l.kind)
			assert.Equal(t, tensor.NCHW, l.outFormat)
			assert.Equal(t, &tt.want, l.param)
		})
	}
}

func TestLowerConv_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		attrs []pb
		err   error
	}{
		{"3-d strides", []pb{attrInts("strides", 1, 1, 1)}, op.ErrUnsupported},
		{"odd pads", []pb{attrInts("pads", 1, 1)}, op.ErrUnsupported},
		{"unknown auto_pad", []pb{attrString("auto_pad", "FULL")}, op.ErrInvalidParam},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			im := newImporter(t, 13)
			im.mustConst(t, "w", floatTensor("w", []int64{1}, 1))
			var n NodeProto
			require.NoError(t, decodeNode(node("Conv", "c", []string{"x", "w"}, []string{"y"}, tt.attrs...), &n))
			_, err := lowerConv(im, &n, im.g.Tensor("w"))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestImport_AveragePool(t *testing.T) {
	tests := []struct {
		name  string
		attrs []pb
		want  []float32
	}{
		{
			name:  "pads excluded",
			attrs: []pb{attrInts("kernel_shape", 3, 3), attrInts("strides", 2, 2), attrInts("pads", 1, 1, 1, 1)},
			want:  []float32{2, 3, 5, 6},
		},
		{
			name: "pads counted",
			attrs: []pb{
				attrInts("kernel_shape", 3, 3), attrInts("strides", 2, 2), attrInts("pads", 1, 1, 1, 1),
				attrInt("count_include_pad", 1),
			},
			want: []float32{8.0 / 9, 12.0 / 9, 20.0 / 9, 24.0 / 9},
		},
		{
			name:  "valid",
			attrs: []pb{attrInts("kernel_shape", 2, 2), attrString("auto_pad", "VALID")},
			want:  []float32{2, 3, 5, 6},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := load(t, 11, &graphBuilder{
				nodes:   []pb{node("AveragePool", "pool", []string{"x"}, []string{"y"}, tt.attrs...)},
				inputs:  []pb{valueInfo("x", TensorProtoFloat, 1, 1, 3, 3)},
				outputs: []pb{valueInfo("y", TensorProtoFloat)},
			})
			defer g.Release()

			ops := g.Operators()
			require.Len(t, ops, 1)
			assert.Equal(t, op.AvgPool, ops[0].Kind())

			setInput(t, g, "x", []float32{0, 1, 2, 3, 4, 5, 6, 7, 8})
			require.NoError(t, g.Init())
			require.NoError(t, g.Run())

			y := g.Tensor("y")
			assert.Equal(t, tensor.Shape{1, 1, 2, 2}, y.Shape())
			assert.Equal(t, tensor.NCHW, y.DataFormat())
			assert.InDeltaSlice(t, tt.want, tensor.Data[float32](y), 1e-6)
		})
	}
}

func TestLowerAveragePool(t *testing.T) {
	x := tensor.New(tensor.Float32, nil)
	var n NodeProto
	require.NoError(t, decodeNode(node("AveragePool", "p", []string{"x"}, []string{"y"},
		attrInts("kernel_shape", 2, 3), attrInts("strides", 2, 1), attrInts("pads", 0, 1, 2, 3)), &n))

	l, err := lowerAveragePool(newImporter(t, 13), &n, x)
	require.NoError(t, err)
	assert.Equal(t, op.AvgPool, l.kind)
	assert.Equal(t, []string{"x"}, l.inputs)
	assert.Equal(t, &op.PoolParam{
		KernelShape: []int{2, 3},
		Strides:     []int{1, 1, 2, 1},
		Paddings:    []int{0, 2, 1, 3},
		PaddingMode: op.PaddingExplicit,
	}, l.param)
}

func TestLowerAveragePool_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		attrs []pb
		err   error
	}{
		{"no kernel", nil, ErrUnsupportedNode},
		{"1-d kernel", []pb{attrInts("kernel_shape", 3)}, ErrUnsupportedNode},
		{"ceil mode", []pb{attrInts("kernel_shape", 2, 2), attrInt("ceil_mode", 1)}, ErrUnsupportedNode},
		{"dilated", []pb{attrInts("kernel_shape", 2, 2), attrInts("dilations", 2, 2)}, ErrUnsupportedNode},
		{"3-d strides", []pb{attrInts("kernel_shape", 2, 2), attrInts("strides", 1, 1, 1)}, op.ErrUnsupported},
		{"unknown auto_pad", []pb{attrInts("kernel_shape", 2, 2), attrString("auto_pad", "FULL")}, op.ErrInvalidParam},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var n NodeProto
			require.NoError(t, decodeNode(node("AveragePool", "p", []string{"x"}, []string{"y"}, tt.attrs...), &n))
			_, err := lowerAveragePool(newImporter(t, 13), &n, tensor.New(tensor.Float32, nil))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestImport_RejectsOverflowingInitializer(t *testing.T) {
	data := model(13, &graphBuilder{
		nodes:   []pb{node("Relu", "relu", []string{"w"}, []string{"y"})},
		inits:   []pb{floatTensor("w", []int64{1<<62 + 1, 4}, 1, 2, 3, 4)},
		outputs: []pb{valueInfo("y", TensorProtoFloat)},
	})
	_, err := Load(data, newRegistry(t), graph.DefaultConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overflows")
}

func TestImport_GroupedConvIsDepthwise(t *testing.T) {
	im := newImporter(t, 13)
	im.mustConst(t, "w", floatTensor("w", []int64{2, 1, 1, 1}, 1, 2))
	var n NodeProto
	require.NoError(t, decodeNode(node("Conv", "dw", []string{"x", "w"}, []string{"y"}, attrInt("group", 2)), &n))

	l, err := lowerConv(im, &n, im.g.Tensor("w"))
	require.NoError(t, err)
	assert.Equal(t, op.DepthwiseConv2D, l.kind)
	assert.IsType(t, &op.DepthwiseConv2DParam{}, l.param)
	assert.Equal(t, tensor.IOHW, im.g.Tensor("w").DataFormat())

	// No CPU kernel is registered for depthwise convolution.
	_, err = Load(model(13, &graphBuilder{
		nodes:  []pb{node("Conv", "dw", []string{"x", "w"}, []string{"y"}, attrInt("group", 2))},
		inits:  []pb{floatTensor("w", []int64{2, 1, 1, 1}, 1, 2)},
		inputs: []pb{valueInfo("x", TensorProtoFloat, 1, 2, 2, 2)},
	}), newRegistry(t), graph.DefaultConfig())
	assert.ErrorIs(t, err, op.ErrNoOperator)
	assert.Contains(t, err.Error(), `node "dw" (Conv)`)
}

func TestLowerClip(t *testing.T) {
	tests := []struct {
		name   string
		attrs  []pb
		consts map[string]float32
		inputs []string
		want   op.Kind
		err    error
	}{
		{name: "relu6 attrs", attrs: []pb{attrFloat("min", 0), attrFloat("max", 6)}, inputs: []string{"x"}, want: op.Relu6},
		{
			name:   "relu1 inputs",
			consts: map[string]float32{"lo": -1, "hi": 1},
			inputs: []string{"x", "lo", "hi"},
			want:   op.Relu1,
		},
		{name: "relu", consts: map[string]float32{"lo": 0}, inputs: []string{"x", "lo"}, want: op.Relu},
		{name: "max only", consts: map[string]float32{"hi": 6}, inputs: []string{"x", "", "hi"}, err: ErrUnsupportedNode},
		{name: "other range", attrs: []pb{attrFloat("min", 0), attrFloat("max", 5)}, inputs: []string{"x"}, err: ErrUnsupportedNode},
		{name: "non-constant bound", inputs: []string{"x", "x"}, err: ErrUnsupportedNode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			im := newImporter(t, 13)
			require.NoError(t, im.g.AddModelInput("x", tensor.Float32, tensor.Shape{4}))
			for name, v := range tt.consts {
				im.mustConst(t, name, floatTensor(name, nil, v))
			}
			var n NodeProto
			require.NoError(t, decodeNode(node("Clip", "clip", tt.inputs, []string{"y"}, tt.attrs...), &n))

			l, err := lowerClip(im, &n, im.g.Tensor("x"))
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, l.kind)
			assert.Equal(t, []string{"x"}, l.inputs)
		})
	}
}

func TestLowerSoftmax_DefaultAxisFollowsOpset(t *testing.T) {
	x := tensor.New(tensor.Float32, nil)
	var n NodeProto
	require.NoError(t, decodeNode(node("Softmax", "sm", []string{"x"}, []string{"y"}), &n))

	l, err := lowerSoftmax(newImporter(t, 11), &n, x)
	require.NoError(t, err)
	assert.Equal(t, &op.SoftmaxParam{Axis: 1, Beta: 1, Flatten: true}, l.param)

	l, err = lowerSoftmax(newImporter(t, 13), &n, x)
	require.NoError(t, err)
	assert.Equal(t, &op.SoftmaxParam{Axis: -1, Beta: 1}, l.param)

	n = NodeProto{}
	require.NoError(t, decodeNode(node("Softmax", "sm", []string{"x"}, []string{"y"}, attrInt("axis", 0)), &n))
	l, err = lowerSoftmax(newImporter(t, 13), &n, x)
	require.NoError(t, err)
	assert.Equal(t, &op.SoftmaxParam{Axis: 0, Beta: 1}, l.param)

	l, err = lowerSoftmax(newImporter(t, 9), &n, x)
	require.NoError(t, err)
	assert.Equal(t, &op.SoftmaxParam{Axis: 0, Beta: 1, Flatten: true}, l.param)
}

func TestImport_BiasAddAndShape(t *testing.T) {
	g := load(t, 13, &graphBuilder{
		nodes: []pb{
			node("Add", "add", []string{"bias", "x"}, []string{"y"}),
			node("Shape", "shape", []string{"y"}, []string{"dims"}),
		},
		inits:   []pb{floatTensor("bias", []int64{3}, 10, 20, 30)},
		inputs:  []pb{valueInfo("x", TensorProtoFloat, 2, 3)},
		outputs: []pb{valueInfo("y", TensorProtoFloat), valueInfo("dims", TensorProtoInt64)},
	})
	defer g.Release()

	ops := g.Operators()
	require.Len(t, ops, 2)
	assert.Equal(t, op.BiasAdd, ops[0].Kind())
	assert.Equal(t, []string{"x", "bias"}, ops[0].Inputs())
	assert.Equal(t, tensor.Int64, g.Tensor("dims").DataType())

	setInput(t, g, "x", []float32{1, 2, 3, 4, 5, 6})
	require.NoError(t, g.Init())
	require.NoError(t, g.Run())
	assert.Equal(t, []float32{11, 22, 33, 14, 25, 36}, tensor.Data[float32](g.Tensor("y")))
	assert.Equal(t, []int64{2, 3}, tensor.Data[int64](g.Tensor("dims")))
}

func TestImport_ChannelBiasIsFlattened(t *testing.T) {
	g := load(t, 13, &graphBuilder{
		nodes:   []pb{node("Add", "add", []string{"x", "bias"}, []string{"y"})},
		inits:   []pb{floatTensor("bias", []int64{2, 1, 1}, 1, -1)},
		inputs:  []pb{valueInfo("x", TensorProtoFloat, 1, 2, 1, 2)},
		outputs: []pb{valueInfo("y", TensorProtoFloat)},
	})
	defer g.Release()

	flat := g.Tensor("bias:flat")
	require.NotNil(t, flat)
	assert.Equal(t, tensor.Shape{2}, flat.Shape())

	setInput(t, g, "x", []float32{1, 2, 3, 4})
	require.NoError(t, g.Init())
	require.NoError(t, g.Run())
	assert.Equal(t, []float32{2, 3, 2, 3}, tensor.Data[float32](g.Tensor("y")))
}

func TestImport_AddWithoutConstant(t *testing.T) {
	_, err := Load(model(13, &graphBuilder{
		nodes:  []pb{node("Add", "add", []string{"x", "x"}, []string{"y"})},
		inputs: []pb{valueInfo("x", TensorProtoFloat, 2)},
	}), newRegistry(t), graph.DefaultConfig())
	assert.ErrorIs(t, err, ErrUnsupportedNode)
}

func TestImport_ConstantReshapeSqueezeCast(t *testing.T) {
	g := load(t, 13, &graphBuilder{
		nodes: []pb{
			node("Constant", "", nil, []string{"target"},
				attrTensor("value", int64Tensor("", []int64{3}, 3, 1, -1))),
			node("Reshape", "", []string{"x", "target"}, []string{"r"}),
			node("Squeeze", "squeeze", []string{"r", "axes"}, []string{"s"}),
			node("Cast", "cast", []string{"s"}, []string{"y"}, attrInt("to", TensorProtoInt32)),
		},
		inits:   []pb{int64Tensor("axes", []int64{1}, 1)},
		inputs:  []pb{valueInfo("x", TensorProtoFloat, 2, 3)},
		outputs: []pb{valueInfo("y", TensorProtoInt32)},
	})
	defer g.Release()

	assert.Equal(t, "Reshape_1", g.Operators()[0].Name())
	assert.Equal(t, tensor.Int32, g.Tensor("y").DataType())

	setInput(t, g, "x", []float32{1.9, -2.5, 3, 4, 5, 6})
	require.NoError(t, g.Init())
	require.NoError(t, g.Run())
	assert.Equal(t, tensor.Shape{3, 1, 2}, g.Tensor("r").Shape())
	y := g.Tensor("y")
	assert.Equal(t, tensor.Shape{3, 2}, y.Shape())
	assert.Equal(t, []int32{1, -2, 3, 4, 5, 6}, tensor.Data[int32](y))
}

func TestImport_BatchNormAndPow(t *testing.T) {
	g := load(t, 13, &graphBuilder{
		nodes: []pb{
			node("BatchNormalization", "bn", []string{"x", "scale", "offset", "mean", "var"}, []string{"bn_out"},
				attrFloat("epsilon", 1e-5)),
			node("Pow", "pow", []string{"bn_out", "two"}, []string{"y"}),
		},
		inits: []pb{
			floatTensor("scale", []int64{2}, 1, 1),
			floatTensor("offset", []int64{2}, 0, 1),
			floatTensor("mean", []int64{2}, 0, 0),
			floatTensor("var", []int64{2}, 4, 4),
			floatTensor("two", nil, 2),
		},
		inputs:  []pb{valueInfo("x", TensorProtoFloat, 1, 2, 1, 1)},
		outputs: []pb{valueInfo("y", TensorProtoFloat)},
	})
	defer g.Release()

	setInput(t, g, "x", []float32{2, 4})
	require.NoError(t, g.Init())
	require.NoError(t, g.Run())
	assert.InDeltaSlice(t, []float32{1, 3}, tensor.Data[float32](g.Tensor("bn_out")), 1e-4)
	assert.InDeltaSlice(t, []float32{1, 9}, tensor.Data[float32](g.Tensor("y")), 1e-3)
}

func TestImport_Errors(t *testing.T) {
	reg := newRegistry(t)

	_, err := Import(&ModelProto{}, reg, graph.DefaultConfig())
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Load(model(13, &graphBuilder{
		nodes:  []pb{node("LSTM", "rnn", []string{"x"}, []string{"y"})},
		inputs: []pb{valueInfo("x", TensorProtoFloat, 1)},
	}), reg, graph.DefaultConfig())
	assert.ErrorIs(t, err, ErrUnsupportedNode)
	assert.Contains(t, err.Error(), "LSTM")

	_, err = Load(model(13, &graphBuilder{
		nodes: []pb{node("Relu", "relu", []string{"ghost"}, []string{"y"})},
	}), reg, graph.DefaultConfig())
	assert.ErrorIs(t, err, op.ErrMissingTensor)

	_, err = Load(model(13, &graphBuilder{
		inputs: []pb{valueInfo("x", TensorProtoDouble, 1)},
	}), reg, graph.DefaultConfig())
	assert.ErrorIs(t, err, op.ErrUnsupported)
}

func TestImport_SymbolicDimsBecomeOne(t *testing.T) {
	batch := pb(nil).msg(1, pb(nil).str(2, "batch"))
	shape := batch.msg(1, pb(nil).varint(1, 3)).msg(1, pb(nil).varint(1, -1))
	input := pb(nil).str(1, "x").msg(2, pb(nil).msg(1, pb(nil).varint(1, TensorProtoFloat).msg(2, shape)))
	data := pb(nil).msg(8, pb(nil).varint(2, 13)).msg(7, pb(nil).msg(11, input))

	g, err := Load(data, newRegistry(t), graph.DefaultConfig())
	require.NoError(t, err)
	defer g.Release()
	assert.Equal(t, tensor.Shape{1, 3, 1}, g.Tensor("x").Shape())
}

func TestTensorFromProto(t *testing.T) {
	decode := func(t *testing.T, m pb) *TensorProto {
		t.Helper()
		var p TensorProto
		require.NoError(t, decodeTensor(m, &p))
		return &p
	}

	int8s := pb(nil).packedInts(1, 3).varint(2, TensorProtoInt8).packedInts(5, -1, 0, 127)
	got, err := tensorFromProto("i8", decode(t, int8s), nil)
	require.NoError(t, err)
	assert.Equal(t, []int8{-1, 0, 127}, tensor.Data[int8](got))

	bools := pb(nil).packedInts(1, 2).varint(2, TensorProtoBool).packedInts(5, 0, 1)
	got, err = tensorFromProto("b", decode(t, bools), nil)
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true}, tensor.Data[bool](got))
	assert.Equal(t, tensor.None, got.DataFormat())

	_, err = tensorFromProto("short", decode(t, floatTensor("short", []int64{3}, 1, 2)), nil)
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = tensorFromProto("raw", decode(t, rawFloatTensor("raw", []int64{3}, 1, 2)), nil)
	assert.ErrorIs(t, err, ErrMalformed)
}
