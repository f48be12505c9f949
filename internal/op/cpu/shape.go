package cpu

import (
	"fmt"

	"github.com/mai-ml/mai/internal/op"
	"github.com/mai-ml/mai/internal/tensor"
)

// ShapeOf writes the dimensions of its input into a 1-d int64 output.
type ShapeOf[T tensor.Element] struct {
	op.Base
	inShape       tensor.Shape
	input, output *tensor.Tensor
}

// NewShape returns a Shape kernel whose input has element type T.
func NewShape[T tensor.Element]() op.Operator {
	return &ShapeOf[T]{Base: op.NewBase(op.Shape, tensor.DataTypeOf[T]())}
}

func (s *ShapeOf[T]) Run() error {
	if err := s.Specialize(s.specialize); err != nil {
		return err
	}
	if !s.input.Shape().Equal(s.inShape) {
		return fmt.Errorf("shape %q: %w: %v, was %v", s.Name(), op.ErrShapeChanged, s.input.Shape(), s.inShape)
	}
	out := tensor.Data[int64](s.output)
	for i, d := range s.inShape {
		out[i] = int64(d)
	}
	s.MarkReady()
	return nil
}

func (s *ShapeOf[T]) specialize() error {
	input, err := s.RequireInput(0)
	if err != nil {
		return fmt.Errorf("shape %q: %w", s.Name(), err)
	}
	output, err := s.RequireOutput(0)
	if err != nil {
		return fmt.Errorf("shape %q: %w", s.Name(), err)
	}
	if output.DataType() != tensor.Int64 {
		return fmt.Errorf("shape %q: %w: output must be int64, got %s", s.Name(), op.ErrUnsupported, output.DataType())
	}
	if err := output.Resize(tensor.Shape{input.Rank()}); err != nil {
		return fmt.Errorf("shape %q: %w", s.Name(), err)
	}
	output.SetDataFormat(tensor.None)
	s.input, s.output = input, output
	s.inShape = input.Shape().Clone()
	return nil
}
