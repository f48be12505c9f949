package op

import (
	"fmt"

	"github.com/mai-ml/mai/internal/parallel"
	"github.com/mai-ml/mai/internal/tensor"
)

// State is a step of the operator lifecycle.
type State int

// Lifecycle states, in order.
const (
	Unconfigured State = iota
	Configured
	Specialized
	Ready
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Unconfigured:
		return "Unconfigured"
	case Configured:
		return "Configured"
	case Specialized:
		return "Specialized"
	case Ready:
		return "Ready"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Workspace resolves tensors by name for the operators attached to it.
// A Graph is the usual implementation.
type Workspace interface {
	// Tensor returns the named tensor, or nil if it does not exist.
	Tensor(name string) *tensor.Tensor
	// Parallel returns the configuration compute kernels split their loops with.
	Parallel() parallel.Config
}

// Operator is one node of a computation graph.
//
// Configure attaches the parameter record, Init performs shape-independent
// setup, and Run executes the computation. The first Run resolves tensors,
// validates them, infers output shapes and selects the compute path; later
// calls only execute that path.
type Operator interface {
	Kind() Kind
	DataType() tensor.DataType
	Name() string
	SetName(name string)
	Inputs() []string
	Outputs() []string
	AddInputNames(names ...string)
	AddOutputNames(names ...string)
	Configure(p Param) error
	Attach(ws Workspace)
	Init() error
	Run() error
	State() State
}

// Base carries the bookkeeping shared by all operators. Kernels embed it.
type Base struct {
	kind    Kind
	dtype   tensor.DataType
	name    string
	inputs  []string
	outputs []string
	ws      Workspace
	state   State
}

// NewBase returns a Base for the given kind and element type.
func NewBase(kind Kind, dtype tensor.DataType) Base {
	return Base{kind: kind, dtype: dtype}
}

// Kind returns the operator kind.
func (b *Base) Kind() Kind { return b.kind }

// DataType returns the element type the operator was created for.
func (b *Base) DataType() tensor.DataType { return b.dtype }

// Name returns the operator name.
func (b *Base) Name() string { return b.name }

// SetName sets the operator name.
func (b *Base) SetName(name string) { b.name = name }

// Inputs returns the ordered input tensor names.
func (b *Base) Inputs() []string { return b.inputs }

// Outputs returns the ordered output tensor names.
func (b *Base) Outputs() []string { return b.outputs }

// AddInputNames appends input tensor names.
func (b *Base) AddInputNames(names ...string) { b.inputs = append(b.inputs, names...) }

// AddOutputNames appends output tensor names.
func (b *Base) AddOutputNames(names ...string) { b.outputs = append(b.outputs, names...) }

// Attach sets the workspace used to resolve tensors.
func (b *Base) Attach(ws Workspace) { b.ws = ws }

// State returns the lifecycle state.
func (b *Base) State() State { return b.state }

// Configure accepts no parameters. Kernels with parameters override it.
func (b *Base) Configure(p Param) error {
	if p != nil {
		return fmt.Errorf("%w: %s takes no parameters, got %T", ErrInvalidParam, b.kind, p)
	}
	b.state = Configured
	return nil
}

// Init does nothing. Kernels with shape-independent setup override it.
func (b *Base) Init() error { return nil }

// MarkConfigured records that a parameter record has been attached.
func (b *Base) MarkConfigured() {
	if b.state < Configured {
		b.state = Configured
	}
}

// Specialize runs fn once, on the first Run, and moves to Specialized when it succeeds.
func (b *Base) Specialize(fn func() error) error {
	if b.state >= Specialized {
		return nil
	}
	if err := fn(); err != nil {
		return err
	}
	b.state = Specialized
	return nil
}

// MarkReady records that a Run has completed.
func (b *Base) MarkReady() { b.state = Ready }

// Parallel returns the workspace's parallel configuration, or sequential when detached.
func (b *Base) Parallel() parallel.Config {
	if b.ws == nil {
		return parallel.Sequential()
	}
	return b.ws.Parallel()
}

// InputTensor returns input i, or nil when it is absent.
func (b *Base) InputTensor(i int) *tensor.Tensor {
	return b.lookup(b.inputs, i)
}

// OutputTensor returns output i, or nil when it is absent.
func (b *Base) OutputTensor(i int) *tensor.Tensor {
	return b.lookup(b.outputs, i)
}

// RequireInput returns input i or ErrMissingTensor.
func (b *Base) RequireInput(i int) (*tensor.Tensor, error) {
	t := b.InputTensor(i)
	if t == nil {
		return nil, b.missing("input", b.inputs, i)
	}
	return t, nil
}

// RequireOutput returns output i or ErrMissingTensor.
func (b *Base) RequireOutput(i int) (*tensor.Tensor, error) {
	t := b.OutputTensor(i)
	if t == nil {
		return nil, b.missing("output", b.outputs, i)
	}
	return t, nil
}

// OptionalInput returns input i, nil when the operator has no such input or
// its name is empty, and ErrMissingTensor when it is named but not found.
func (b *Base) OptionalInput(i int) (*tensor.Tensor, error) {
	if i >= len(b.inputs) || b.inputs[i] == "" {
		return nil, nil
	}
	return b.RequireInput(i)
}

func (b *Base) lookup(names []string, i int) *tensor.Tensor {
	if b.ws == nil || i < 0 || i >= len(names) || names[i] == "" {
		return nil
	}
	return b.ws.Tensor(names[i])
}

func (b *Base) missing(role string, names []string, i int) error {
	if i < len(names) {
		return fmt.Errorf("%w: %s %d %q", ErrMissingTensor, role, i, names[i])
	}
	return fmt.Errorf("%w: %s %d not declared", ErrMissingTensor, role, i)
}

// ConfigureWith is a helper for kernels whose parameter record is required.
// It returns ErrMissingParam for nil and ErrInvalidParam for a record of the wrong type.
func ConfigureWith[P any](b *Base, p Param) (*P, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingParam, b.kind)
	}
	typed, ok := any(p).(*P)
	if !ok || typed == nil {
		return nil, fmt.Errorf("%w: %s expects %T, got %T", ErrInvalidParam, b.kind, typed, p)
	}
	b.MarkConfigured()
	return typed, nil
}
