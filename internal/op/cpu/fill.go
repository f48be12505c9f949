package cpu

import (
	"fmt"

	"github.com/mai-ml/mai/internal/op"
	"github.com/mai-ml/mai/internal/tensor"
)

// Fill writes a scalar value into every element of an output whose shape is
// read from an int32 dims tensor.
//
// Inputs: dims (int32, rank 1), value (scalar of T).
type Fill[T tensor.Numeric] struct {
	op.Base
	value, output *tensor.Tensor
}

// NewFill returns a Fill kernel for element type T.
func NewFill[T tensor.Numeric]() op.Operator {
	return &Fill[T]{Base: op.NewBase(op.Fill, tensor.DataTypeOf[T]())}
}

// Init resizes the output from the dims tensor.
func (f *Fill[T]) Init() error {
	dims, err := f.RequireInput(0)
	if err != nil {
		return fmt.Errorf("fill %q: %w", f.Name(), err)
	}
	value, err := f.RequireInput(1)
	if err != nil {
		return fmt.Errorf("fill %q: %w", f.Name(), err)
	}
	output, err := f.RequireOutput(0)
	if err != nil {
		return fmt.Errorf("fill %q: %w", f.Name(), err)
	}
	if dims.DataType() != tensor.Int32 || dims.Rank() != 1 {
		return fmt.Errorf("fill %q: %w: dims must be a 1-d int32 tensor, got %s",
			f.Name(), op.ErrUnsupported, dims)
	}
	if !value.IsScalar() {
		return fmt.Errorf("fill %q: %w: tensor %q is not scalar", f.Name(), op.ErrShapeMismatch, value.Name())
	}
	if value.DataType() != f.DataType() || output.DataType() != f.DataType() {
		return fmt.Errorf("fill %q: %w: value %s, output %s, want %s",
			f.Name(), op.ErrUnsupported, value.DataType(), output.DataType(), f.DataType())
	}

	raw := tensor.Data[int32](dims)
	shape := make(tensor.Shape, len(raw))
	for i, d := range raw {
		shape[i] = int(d)
	}
	if err := output.Resize(shape); err != nil {
		return fmt.Errorf("fill %q: %w", f.Name(), err)
	}
	f.value, f.output = value, output
	return nil
}

// Run fills the output.
func (f *Fill[T]) Run() error {
	if err := f.Specialize(func() error {
		if f.output == nil {
			return fmt.Errorf("fill %q: %w: Init was not called", f.Name(), op.ErrMissingTensor)
		}
		return nil
	}); err != nil {
		return err
	}
	v := tensor.Data[T](f.value)[0]
	out := tensor.Data[T](f.output)
	for i := range out {
		out[i] = v
	}
	f.MarkReady()
	return nil
}
