package cpu

import (
	"fmt"
	"slices"

	"github.com/mai-ml/mai/internal/op"
	"github.com/mai-ml/mai/internal/tensor"
)

// Squeeze removes size-1 dimensions. With no SqueezeParam, or an empty Dims
// list, every size-1 dimension is removed.
type Squeeze[T tensor.Element] struct {
	op.Base
	dims          []int
	inShape       tensor.Shape
	input, output *tensor.Tensor
}

// NewSqueeze returns a Squeeze kernel for element type T.
func NewSqueeze[T tensor.Element]() op.Operator {
	return &Squeeze[T]{Base: op.NewBase(op.Squeeze, tensor.DataTypeOf[T]())}
}

// Configure accepts an optional *op.SqueezeParam.
func (s *Squeeze[T]) Configure(p op.Param) error {
	if p == nil {
		s.MarkConfigured()
		return nil
	}
	param, err := op.ConfigureWith[op.SqueezeParam](&s.Base, p)
	if err != nil {
		return err
	}
	s.dims = slices.Clone(param.Dims)
	return nil
}

func (s *Squeeze[T]) Run() error {
	if err := s.Specialize(s.specialize); err != nil {
		return err
	}
	if !s.input.Shape().Equal(s.inShape) {
		return fmt.Errorf("squeeze %q: %w: %v, was %v", s.Name(), op.ErrShapeChanged, s.input.Shape(), s.inShape)
	}
	copy(s.output.Bytes(), s.input.Bytes())
	s.MarkReady()
	return nil
}

func (s *Squeeze[T]) specialize() error {
	input, err := s.RequireInput(0)
	if err != nil {
		return fmt.Errorf("squeeze %q: %w", s.Name(), err)
	}
	output, err := s.RequireOutput(0)
	if err != nil {
		return fmt.Errorf("squeeze %q: %w", s.Name(), err)
	}
	if input.DataType() != s.DataType() || output.DataType() != s.DataType() {
		return fmt.Errorf("squeeze %q: %w: input %s, output %s, want %s",
			s.Name(), op.ErrUnsupported, input.DataType(), output.DataType(), s.DataType())
	}
	shape, err := squeezeShape(input.Shape(), s.dims)
	if err != nil {
		return fmt.Errorf("squeeze %q: %w", s.Name(), err)
	}
	if err := output.Resize(shape); err != nil {
		return fmt.Errorf("squeeze %q: %w", s.Name(), err)
	}
	output.SetDataFormat(tensor.None)
	s.input, s.output = input, output
	s.inShape = input.Shape().Clone()
	return nil
}

func squeezeShape(in tensor.Shape, dims []int) (tensor.Shape, error) {
	drop := make([]bool, len(in))
	if len(dims) == 0 {
		for i, d := range in {
			drop[i] = d == 1
		}
	}
	for _, d := range dims {
		axis := d
		if axis < 0 {
			axis += len(in)
		}
		if axis < 0 || axis >= len(in) {
			return nil, fmt.Errorf("%w: squeeze dim %d out of range for rank %d", op.ErrInvalidParam, d, len(in))
		}
		if in[axis] != 1 {
			return nil, fmt.Errorf("%w: cannot squeeze dim %d of size %d", op.ErrShapeMismatch, d, in[axis])
		}
		drop[axis] = true
	}
	out := make(tensor.Shape, 0, len(in))
	for i, d := range in {
		if !drop[i] {
			out = append(out, d)
		}
	}
	return out, nil
}
