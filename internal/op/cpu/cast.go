package cpu

import (
	"fmt"

	"github.com/mai-ml/mai/internal/op"
	"github.com/mai-ml/mai/internal/tensor"
)

// Cast converts its input to the element type of its output tensor. The
// operator's element type is the input type. Float to integer conversion
// truncates toward zero.
type Cast[From tensor.Numeric] struct {
	op.Base
	inShape       tensor.Shape
	input, output *tensor.Tensor
}

// NewCast returns a Cast kernel reading elements of type From.
func NewCast[From tensor.Numeric]() op.Operator {
	return &Cast[From]{Base: op.NewBase(op.Cast, tensor.DataTypeOf[From]())}
}

func (c *Cast[From]) Run() error {
	if err := c.Specialize(c.specialize); err != nil {
		return err
	}
	if !c.input.Shape().Equal(c.inShape) {
		return fmt.Errorf("cast %q: %w: %v, was %v", c.Name(), op.ErrShapeChanged, c.input.Shape(), c.inShape)
	}
	in := tensor.Data[From](c.input)
	switch c.output.DataType() {
	case tensor.Float32:
		convert(in, tensor.Data[float32](c.output))
	case tensor.Int32:
		convert(in, tensor.Data[int32](c.output))
	case tensor.Int64:
		convert(in, tensor.Data[int64](c.output))
	case tensor.Uint8:
		convert(in, tensor.Data[uint8](c.output))
	case tensor.Int8:
		convert(in, tensor.Data[int8](c.output))
	case tensor.Uint16:
		convert(in, tensor.Data[uint16](c.output))
	case tensor.Int16:
		convert(in, tensor.Data[int16](c.output))
	default:
		return fmt.Errorf("cast %q: %w: output type %s", c.Name(), op.ErrUnsupported, c.output.DataType())
	}
	c.MarkReady()
	return nil
}

func (c *Cast[From]) specialize() error {
	input, err := c.RequireInput(0)
	if err != nil {
		return fmt.Errorf("cast %q: %w", c.Name(), err)
	}
	output, err := c.RequireOutput(0)
	if err != nil {
		return fmt.Errorf("cast %q: %w", c.Name(), err)
	}
	if err := sameType(c.DataType(), input); err != nil {
		return fmt.Errorf("cast %q: %w", c.Name(), err)
	}
	if !output.DataType().IsNumeric() {
		return fmt.Errorf("cast %q: %w: output type %s", c.Name(), op.ErrUnsupported, output.DataType())
	}
	if err := output.Resize(input.Shape()); err != nil {
		return fmt.Errorf("cast %q: %w", c.Name(), err)
	}
	output.SetDataFormat(input.DataFormat())
	c.input, c.output = input, output
	c.inShape = input.Shape().Clone()
	return nil
}

func convert[From, To tensor.Numeric](in []From, out []To) {
	for i, v := range in {
		out[i] = To(v)
	}
}
