package graph_test

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/nlpodyssey/safetensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mai-ml/mai/internal/graph"
	"github.com/mai-ml/mai/internal/graph/graphtest"
	"github.com/mai-ml/mai/internal/op"
	"github.com/mai-ml/mai/internal/op/cpu"
	"github.com/mai-ml/mai/internal/profiling"
	"github.com/mai-ml/mai/internal/tensor"
)

func newRegistry(t *testing.T) *op.Registry {
	t.Helper()
	reg, err := cpu.NewRegistry()
	require.NoError(t, err)
	return reg
}

func TestGraph_AddTensorDuplicate(t *testing.T) {
	g := graph.New(graph.DefaultConfig())
	require.NoError(t, g.AddTensor(graphtest.Empty("x", tensor.Float32, tensor.None)))

	err := g.AddTensor(graphtest.Empty("x", tensor.Int32, tensor.None))
	assert.ErrorIs(t, err, graph.ErrDuplicateTensor)
	assert.Equal(t, tensor.Float32, g.Tensor("x").DataType())

	assert.Error(t, g.AddTensor(nil))
	assert.Error(t, g.AddTensor(graphtest.Empty("", tensor.Float32, tensor.None)))
}

func TestGraph_LookupsReturnNil(t *testing.T) {
	g := graph.New(graph.DefaultConfig())
	assert.Nil(t, g.Tensor("missing"))
	assert.Nil(t, g.Operator("missing"))
}

func TestGraph_ModelInput(t *testing.T) {
	alloc := tensor.NewCountingAllocator(nil)
	cfg := graph.DefaultConfig()
	cfg.Allocator = alloc
	g := graph.New(cfg)

	require.NoError(t, g.AddModelInput("image", tensor.Float32, tensor.Shape{1, 3, 2, 2}))
	require.NoError(t, g.AddModelInput("ids", tensor.Int64, tensor.Shape{5}))
	assert.ErrorIs(t, g.AddModelInput("ids", tensor.Int64, tensor.Shape{5}), graph.ErrDuplicateTensor)

	image := g.Tensor("image")
	require.NotNil(t, image)
	assert.Equal(t, tensor.NCHW, image.DataFormat())
	assert.Equal(t, 12*4, image.ByteSize())
	assert.Equal(t, tensor.None, g.Tensor("ids").DataFormat())
	assert.Equal(t, []string{"image", "ids"}, g.ModelInputs())
	assert.Equal(t, int64(2), alloc.Live())

	data := make([]byte, 5*8)
	binary.LittleEndian.PutUint64(data[8:], 42)
	require.NoError(t, g.SetInput("ids", data))
	assert.Equal(t, []int64{0, 42, 0, 0, 0}, tensor.Data[int64](g.Tensor("ids")))
	assert.Error(t, g.SetInput("ids", data[:8]))
	assert.ErrorIs(t, g.SetInput("nope", data), op.ErrMissingTensor)

	g.Release()
	assert.Zero(t, alloc.Live())
}

func TestGraph_DuplicateOperatorName(t *testing.T) {
	reg := newRegistry(t)
	g := graph.New(graph.DefaultConfig())
	for i := 0; i < 2; i++ {
		o, err := reg.Create(op.Relu, tensor.Float32)
		require.NoError(t, err)
		o.SetName("relu")
		if i == 0 {
			require.NoError(t, g.AddOperator(o))
		} else {
			assert.ErrorIs(t, g.AddOperator(o), graph.ErrDuplicateOperator)
		}
	}
	assert.Len(t, g.Operators(), 1)
	assert.NotNil(t, g.Operator("relu"))
}

func TestGraph_RunsInInsertionOrder(t *testing.T) {
	prof := profiling.NewProfiler()
	prof.Start()
	cfg := graph.DefaultConfig()
	cfg.Profiler = prof

	g := graphtest.NewBuilderWithConfig(t, newRegistry(t), cfg).
		Tensor(
			graphtest.NewTensor(t, "x", tensor.Shape{4}, tensor.None, []float32{-2, -1, 1, 8}),
			graphtest.Empty("relu_out", tensor.Float32, tensor.None),
			graphtest.Empty("y", tensor.Float32, tensor.None),
		).
		Op(op.Relu, tensor.Float32, "relu", []string{"x"}, []string{"relu_out"}, nil).
		Op(op.Relu6, tensor.Float32, "clip", []string{"relu_out"}, []string{"y"}, nil).
		Output("y").
		InitAndRun()

	want := graphtest.NewTensor(t, "want", tensor.Shape{4}, tensor.None, []float32{0, 0, 1, 6})
	graphtest.ExpectTensorEqual[float32](t, want, g.Tensor("y"))
	assert.Equal(t, []string{"y"}, g.ModelOutputs())

	events := prof.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "relu", events[0].Name)
	assert.Equal(t, "Relu", events[0].Kind)
	assert.Equal(t, "clip", events[1].Name)
	assert.Equal(t, "Relu6", events[1].Kind)
}

func TestGraph_RunBeforeInit(t *testing.T) {
	g := graph.New(graph.DefaultConfig())
	assert.ErrorIs(t, g.Run(), graph.ErrNotInitialized)
}

func TestGraph_InitMissingTensor(t *testing.T) {
	g := graphtest.NewBuilder(t, newRegistry(t)).
		Tensor(graphtest.Empty("y", tensor.Float32, tensor.None)).
		Op(op.Relu, tensor.Float32, "relu", []string{"ghost"}, []string{"y"}, nil).
		Build()

	err := g.Init()
	assert.ErrorIs(t, err, op.ErrMissingTensor)
	assert.Contains(t, err.Error(), "ghost")
}

func TestGraph_InitMissingModelOutput(t *testing.T) {
	g := graph.New(graph.DefaultConfig())
	require.NoError(t, g.AddModelOutput("out"))
	assert.ErrorIs(t, g.AddModelOutput("out"), graph.ErrDuplicateTensor)
	assert.ErrorIs(t, g.Init(), op.ErrMissingTensor)
}

func TestGraph_FailureAbortsRun(t *testing.T) {
	g := graphtest.NewBuilder(t, newRegistry(t)).
		Tensor(
			graphtest.NewTensor(t, "x", tensor.Shape{2, 2}, tensor.None, []float32{1, 2, 3, 4}),
			graphtest.NewTensor(t, "bias", tensor.Shape{3}, tensor.None, []float32{1, 2, 3}),
			graphtest.Empty("biased", tensor.Float32, tensor.None),
			graphtest.Empty("y", tensor.Float32, tensor.None),
		).
		Op(op.BiasAdd, tensor.Float32, "bias_add", []string{"x", "bias"}, []string{"biased"}, nil).
		Op(op.Relu, tensor.Float32, "relu", []string{"biased"}, []string{"y"}, nil).
		Build()
	require.NoError(t, g.Init())

	err := g.Run()
	assert.ErrorIs(t, err, op.ErrShapeMismatch)
	assert.Contains(t, err.Error(), "operator bias_add (BiasAdd)")
	assert.Equal(t, op.Configured, g.Operator("relu").State())
	assert.Zero(t, g.Tensor("y").ByteSize())
}

func TestGraph_TensorNamesSorted(t *testing.T) {
	g := graph.New(graph.DefaultConfig())
	for _, name := range []string{"c", "a", "b"} {
		_, err := g.NewTensor(name, tensor.Float32, tensor.None)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"a", "b", "c"}, g.TensorNames())
}

func TestGraph_DumpTensors(t *testing.T) {
	dir := t.TempDir()
	g := graph.New(graph.DefaultConfig())
	require.NoError(t, g.AddTensor(graphtest.NewTensor(t, "conv/weights", tensor.Shape{2, 2}, tensor.None, []float32{1, 2, 3, 4})))
	require.NoError(t, g.AddTensor(graphtest.NewTensor(t, "scale", tensor.Shape{}, tensor.None, []int32{7})))
	_, err := g.NewTensor("labels", tensor.String, tensor.None)
	require.NoError(t, err)

	require.NoError(t, g.DumpTensors(dir))

	raw, err := os.ReadFile(filepath.Join(dir, graph.DumpFileName("conv/weights")))
	require.NoError(t, err)
	st, err := safetensors.Deserialize(raw)
	require.NoError(t, err)
	view, ok := st.Tensor("conv/weights")
	require.True(t, ok)
	assert.Equal(t, safetensors.F32, view.DType())
	assert.Equal(t, []uint64{2, 2}, view.Shape())
	data := view.Data()
	require.Len(t, data, 16)
	assert.Equal(t, float32(3), math.Float32frombits(binary.LittleEndian.Uint32(data[8:])))

	raw, err = os.ReadFile(filepath.Join(dir, "scale.safetensors"))
	require.NoError(t, err)
	st, err = safetensors.Deserialize(raw)
	require.NoError(t, err)
	view, ok = st.Tensor("scale")
	require.True(t, ok)
	assert.Equal(t, safetensors.I32, view.DType())
	assert.Empty(t, view.Shape())

	_, err = os.Stat(filepath.Join(dir, "labels.safetensors"))
	assert.True(t, os.IsNotExist(err))

	assert.ErrorIs(t, g.DumpTensors(dir, "labels"), graph.ErrNotDumpable)
	assert.ErrorIs(t, g.DumpTensors(dir, "ghost"), op.ErrMissingTensor)
}
