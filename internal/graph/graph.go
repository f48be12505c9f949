// Package graph holds a static computation graph: the tensors it owns, the
// operators that run over them in insertion order and the designated model
// inputs and outputs.
package graph

import (
	"errors"
	"fmt"
	"sort"

	"k8s.io/klog/v2"

	"github.com/mai-ml/mai/internal/op"
	"github.com/mai-ml/mai/internal/parallel"
	"github.com/mai-ml/mai/internal/profiling"
	"github.com/mai-ml/mai/internal/tensor"
)

// Graph errors.
var (
	ErrDuplicateTensor   = errors.New("tensor already exists")
	ErrDuplicateOperator = errors.New("operator name already used")
	ErrNotInitialized    = errors.New("graph is not initialized")
)

// Config controls how a Graph allocates, schedules, profiles and logs.
type Config struct {
	Allocator tensor.Allocator
	Parallel  parallel.Config
	Profiler  profiling.Hook
	Logger    klog.Logger
}

// DefaultConfig returns the CPU allocator, parallel.DefaultConfig, profiling
// disabled and the global klog logger.
func DefaultConfig() Config {
	return Config{
		Allocator: tensor.DefaultAllocator,
		Parallel:  parallel.DefaultConfig(),
		Profiler:  profiling.Disabled,
		Logger:    klog.Background(),
	}
}

// Graph owns every tensor and operator of a network.
//
// Operators run sequentially in the order they were added; the caller is
// responsible for adding them in a valid topological order.
type Graph struct {
	cfg Config

	tensors map[string]*tensor.Tensor
	ops     []op.Operator
	opIndex map[string]int
	inputs  []string
	outputs []string

	initialized bool
}

var _ op.Workspace = (*Graph)(nil)

// New creates an empty graph. Zero-valued Allocator and Profiler fields fall
// back to their defaults.
func New(cfg Config) *Graph {
	if cfg.Allocator == nil {
		cfg.Allocator = tensor.DefaultAllocator
	}
	if cfg.Profiler == nil {
		cfg.Profiler = profiling.Disabled
	}
	return &Graph{
		cfg:     cfg,
		tensors: make(map[string]*tensor.Tensor),
		opIndex: make(map[string]int),
	}
}

// Allocator returns the allocator new tensors should use.
func (g *Graph) Allocator() tensor.Allocator { return g.cfg.Allocator }

// Parallel implements op.Workspace.
func (g *Graph) Parallel() parallel.Config { return g.cfg.Parallel }

// Tensor implements op.Workspace. It returns nil when no tensor has the name.
func (g *Graph) Tensor(name string) *tensor.Tensor { return g.tensors[name] }

// Operator returns the named operator, or nil.
func (g *Graph) Operator(name string) op.Operator {
	i, ok := g.opIndex[name]
	if !ok {
		return nil
	}
	return g.ops[i]
}

// AddTensor transfers ownership of t to the graph.
func (g *Graph) AddTensor(t *tensor.Tensor) error {
	if t == nil {
		return errors.New("add tensor: nil tensor")
	}
	if t.Name() == "" {
		return errors.New("add tensor: tensor has no name")
	}
	if _, ok := g.tensors[t.Name()]; ok {
		return fmt.Errorf("add tensor %q: %w", t.Name(), ErrDuplicateTensor)
	}
	g.tensors[t.Name()] = t
	return nil
}

// NewTensor creates an empty, unallocated tensor with the graph's allocator and adds it.
func (g *Graph) NewTensor(name string, dtype tensor.DataType, format tensor.DataFormat) (*tensor.Tensor, error) {
	t := tensor.New(dtype, g.cfg.Allocator)
	t.SetName(name)
	t.SetDataFormat(format)
	if err := g.AddTensor(t); err != nil {
		return nil, err
	}
	return t, nil
}

// AddOperator appends o to the execution sequence and attaches it to the graph.
func (g *Graph) AddOperator(o op.Operator) error {
	if o == nil {
		return errors.New("add operator: nil operator")
	}
	if name := o.Name(); name != "" {
		if _, ok := g.opIndex[name]; ok {
			return fmt.Errorf("add operator %q: %w", name, ErrDuplicateOperator)
		}
		g.opIndex[name] = len(g.ops)
	}
	o.Attach(g)
	g.ops = append(g.ops, o)
	g.initialized = false
	return nil
}

// AddModelInput creates and allocates a model input tensor. Rank-4 inputs are
// tagged NCHW.
func (g *Graph) AddModelInput(name string, dtype tensor.DataType, shape tensor.Shape) error {
	format := tensor.None
	if len(shape) == 4 {
		format = tensor.NCHW
	}
	t := tensor.New(dtype, g.cfg.Allocator)
	t.SetName(name)
	t.SetDataFormat(format)
	if err := t.AllocateBuffer(shape); err != nil {
		return fmt.Errorf("add model input: %w", err)
	}
	if err := g.AddTensor(t); err != nil {
		t.Release()
		return fmt.Errorf("add model input: %w", err)
	}
	g.inputs = append(g.inputs, name)
	return nil
}

// AddModelOutput designates name as a model output. The tensor must exist by Init.
func (g *Graph) AddModelOutput(name string) error {
	for _, o := range g.outputs {
		if o == name {
			return fmt.Errorf("add model output %q: %w", name, ErrDuplicateTensor)
		}
	}
	g.outputs = append(g.outputs, name)
	g.initialized = false
	return nil
}

// ModelInputs returns the model input names in the order they were added.
func (g *Graph) ModelInputs() []string { return append([]string(nil), g.inputs...) }

// ModelOutputs returns the model output names in the order they were added.
func (g *Graph) ModelOutputs() []string { return append([]string(nil), g.outputs...) }

// Operators returns the operators in execution order.
func (g *Graph) Operators() []op.Operator { return append([]op.Operator(nil), g.ops...) }

// TensorNames returns every tensor name, sorted.
func (g *Graph) TensorNames() []string {
	names := make([]string, 0, len(g.tensors))
	for name := range g.tensors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetInput copies raw little-endian element data into a model input.
func (g *Graph) SetInput(name string, data []byte) error {
	if !g.isModelInput(name) {
		return fmt.Errorf("set input %q: %w: not a model input", name, op.ErrMissingTensor)
	}
	if err := g.tensors[name].CopyFrom(data); err != nil {
		return fmt.Errorf("set input: %w", err)
	}
	return nil
}

func (g *Graph) isModelInput(name string) bool {
	for _, in := range g.inputs {
		if in == name {
			return true
		}
	}
	return false
}

// Init checks that every tensor an operator names exists and runs each
// operator's Init in order.
func (g *Graph) Init() error {
	log := g.cfg.Logger
	for _, o := range g.ops {
		if err := g.checkNames(o); err != nil {
			return err
		}
		if err := o.Init(); err != nil {
			return fmt.Errorf("init operator %s (%s): %w", o.Name(), o.Kind(), err)
		}
	}
	for _, name := range g.outputs {
		if g.tensors[name] == nil {
			return fmt.Errorf("model output %q: %w", name, op.ErrMissingTensor)
		}
	}
	g.initialized = true
	log.V(2).Info("graph initialized", "operators", len(g.ops), "tensors", len(g.tensors),
		"inputs", g.inputs, "outputs", g.outputs)
	return nil
}

func (g *Graph) checkNames(o op.Operator) error {
	for _, names := range [][]string{o.Inputs(), o.Outputs()} {
		for _, name := range names {
			if name != "" && g.tensors[name] == nil {
				return fmt.Errorf("init operator %s (%s): %w: %q", o.Name(), o.Kind(), op.ErrMissingTensor, name)
			}
		}
	}
	return nil
}

// Run executes every operator once, in insertion order. The first failure
// aborts the run.
func (g *Graph) Run() error {
	if !g.initialized {
		return ErrNotInitialized
	}
	log := g.cfg.Logger
	for _, o := range g.ops {
		first := o.State() < op.Specialized
		end := profiling.Scoped(g.cfg.Profiler, o.Name(), o.Kind().String())
		err := o.Run()
		end()
		if err != nil {
			return fmt.Errorf("operator %s (%s): %w", o.Name(), o.Kind(), err)
		}
		if first {
			log.V(2).Info("operator specialized", "name", o.Name(), "kind", o.Kind(), "type", o.DataType(),
				"outputs", g.describe(o.Outputs()))
		}
		log.V(4).Info("operator ran", "name", o.Name(), "kind", o.Kind())
	}
	return nil
}

func (g *Graph) describe(names []string) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		if t := g.tensors[name]; t != nil {
			out = append(out, t.String())
		}
	}
	return out
}

// Release returns every tensor buffer to its allocator.
func (g *Graph) Release() {
	for _, t := range g.tensors {
		t.Release()
	}
	g.initialized = false
}
