package cpu

import (
	"fmt"

	"github.com/mai-ml/mai/internal/op"
	"github.com/mai-ml/mai/internal/parallel"
	"github.com/mai-ml/mai/internal/tensor"
)

// BiasAdd adds a 1-d bias along the channel axis: axis 1 for NCHW inputs,
// the last axis otherwise.
type BiasAdd[T tensor.Numeric] struct {
	op.Base
	inShape             tensor.Shape
	outer, chans, inner int
	input, bias, output *tensor.Tensor
}

// NewBiasAdd returns a BiasAdd kernel for element type T.
func NewBiasAdd[T tensor.Numeric]() op.Operator {
	return &BiasAdd[T]{Base: op.NewBase(op.BiasAdd, tensor.DataTypeOf[T]())}
}

func (b *BiasAdd[T]) Run() error {
	if err := b.Specialize(b.specialize); err != nil {
		return err
	}
	if !b.input.Shape().Equal(b.inShape) {
		return fmt.Errorf("bias_add %q: %w: %v, was %v", b.Name(), op.ErrShapeChanged, b.input.Shape(), b.inShape)
	}
	in := tensor.Data[T](b.input)
	bias := tensor.Data[T](b.bias)
	out := tensor.Data[T](b.output)
	chans, inner := b.chans, b.inner
	parallel.For2D(b.outer, chans, func(o, c int) {
		base := (o*chans + c) * inner
		for i := base; i < base+inner; i++ {
			out[i] = in[i] + bias[c]
		}
	}, b.Parallel())
	b.MarkReady()
	return nil
}

func (b *BiasAdd[T]) specialize() error {
	input, err := b.RequireInput(0)
	if err != nil {
		return fmt.Errorf("bias_add %q: %w", b.Name(), err)
	}
	bias, err := b.RequireInput(1)
	if err != nil {
		return fmt.Errorf("bias_add %q: %w", b.Name(), err)
	}
	output, err := b.RequireOutput(0)
	if err != nil {
		return fmt.Errorf("bias_add %q: %w", b.Name(), err)
	}
	if err := sameType(b.DataType(), input, bias, output); err != nil {
		return fmt.Errorf("bias_add %q: %w", b.Name(), err)
	}
	if input.Rank() == 0 {
		return fmt.Errorf("bias_add %q: %w: scalar input", b.Name(), op.ErrUnsupported)
	}

	axis := input.Rank() - 1
	if input.DataFormat() == tensor.NCHW {
		axis = 1
	}
	if bias.Rank() != 1 || bias.Dim(0) != input.Dim(axis) {
		return fmt.Errorf("bias_add %q: %w: bias %v for channel dim %d",
			b.Name(), op.ErrShapeMismatch, bias.Shape(), input.Dim(axis))
	}
	if err := output.Resize(input.Shape()); err != nil {
		return fmt.Errorf("bias_add %q: %w", b.Name(), err)
	}
	output.SetDataFormat(input.DataFormat())

	b.outer = input.Shape()[:axis].NumElements()
	b.chans = input.Dim(axis)
	b.inner = input.Shape()[axis+1:].NumElements()
	b.input, b.bias, b.output = input, bias, output
	b.inShape = input.Shape().Clone()
	return nil
}

// sameType checks every tensor has element type dt.
func sameType(dt tensor.DataType, ts ...*tensor.Tensor) error {
	for _, t := range ts {
		if t.DataType() != dt {
			return fmt.Errorf("%w: tensor %q is %s, want %s", op.ErrUnsupported, t.Name(), t.DataType(), dt)
		}
	}
	return nil
}
