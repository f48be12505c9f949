// Package graphtest builds small graphs for operator tests and compares
// tensors with testify assertions.
package graphtest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mai-ml/mai/internal/graph"
	"github.com/mai-ml/mai/internal/op"
	"github.com/mai-ml/mai/internal/parallel"
	"github.com/mai-ml/mai/internal/tensor"
)

// NewTensor returns a tensor holding a copy of data. It fails the test on error.
func NewTensor[T tensor.Element](t testing.TB, name string, shape tensor.Shape, format tensor.DataFormat, data []T) *tensor.Tensor {
	t.Helper()
	out, err := tensor.FromSlice(name, shape, format, data, nil)
	require.NoError(t, err)
	return out
}

// Empty returns an unallocated tensor, typically an operator output.
func Empty(name string, dtype tensor.DataType, format tensor.DataFormat) *tensor.Tensor {
	out := tensor.New(dtype, nil)
	out.SetName(name)
	out.SetDataFormat(format)
	return out
}

// Builder assembles a graph from a registry with fluent calls. Any failure
// fails the test immediately.
type Builder struct {
	t   testing.TB
	reg *op.Registry
	g   *graph.Graph
}

// NewBuilder starts a graph that runs with a small parallel chunk size so
// test-sized kernels still exercise the worker split.
func NewBuilder(t testing.TB, reg *op.Registry) *Builder {
	cfg := graph.DefaultConfig()
	cfg.Parallel = parallel.Config{Enabled: true, NumWorkers: 4, MinChunkSize: 1}
	return NewBuilderWithConfig(t, reg, cfg)
}

// NewBuilderWithConfig starts a graph with an explicit configuration.
func NewBuilderWithConfig(t testing.TB, reg *op.Registry, cfg graph.Config) *Builder {
	return &Builder{t: t, reg: reg, g: graph.New(cfg)}
}

// Tensor adds tensors to the graph.
func (b *Builder) Tensor(ts ...*tensor.Tensor) *Builder {
	b.t.Helper()
	for _, tt := range ts {
		require.NoError(b.t, b.g.AddTensor(tt))
	}
	return b
}

// Op creates, names, wires and configures an operator and adds it to the graph.
func (b *Builder) Op(kind op.Kind, dtype tensor.DataType, name string, inputs, outputs []string, param op.Param) *Builder {
	b.t.Helper()
	o, err := b.reg.Create(kind, dtype)
	require.NoError(b.t, err)
	o.SetName(name)
	o.AddInputNames(inputs...)
	o.AddOutputNames(outputs...)
	require.NoError(b.t, o.Configure(param))
	require.NoError(b.t, b.g.AddOperator(o))
	return b
}

// Output marks model outputs.
func (b *Builder) Output(names ...string) *Builder {
	b.t.Helper()
	for _, name := range names {
		require.NoError(b.t, b.g.AddModelOutput(name))
	}
	return b
}

// Build returns the graph without initialising it.
func (b *Builder) Build() *graph.Graph {
	return b.g
}

// InitAndRun builds the graph, initialises it and runs it once.
func (b *Builder) InitAndRun() *graph.Graph {
	b.t.Helper()
	require.NoError(b.t, b.g.Init())
	require.NoError(b.t, b.g.Run())
	return b.g
}

// ExpectTensorEqual asserts that got has want's element type, shape and exact values.
func ExpectTensorEqual[T tensor.Element](t testing.TB, want, got *tensor.Tensor) bool {
	t.Helper()
	if !assert.NotNil(t, got, "tensor %q missing", want.Name()) {
		return false
	}
	if !assert.Equal(t, want.DataType(), got.DataType(), "element type of %q", got.Name()) {
		return false
	}
	if !assert.Equal(t, want.Shape(), got.Shape(), "shape of %q", got.Name()) {
		return false
	}
	return assert.Equal(t, tensor.Data[T](want), tensor.Data[T](got), "values of %q", got.Name())
}

// ExpectTensorNear asserts float32 tensors match in shape and agree within delta.
func ExpectTensorNear(t testing.TB, want, got *tensor.Tensor, delta float64) bool {
	t.Helper()
	if !assert.NotNil(t, got, "tensor %q missing", want.Name()) {
		return false
	}
	if !assert.Equal(t, want.Shape(), got.Shape(), "shape of %q", got.Name()) {
		return false
	}
	return assert.InDeltaSlice(t, tensor.Data[float32](want), tensor.Data[float32](got), delta, "values of %q", got.Name())
}
