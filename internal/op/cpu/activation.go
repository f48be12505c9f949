package cpu

import (
	"fmt"
	"math"

	"github.com/mai-ml/mai/internal/op"
	"github.com/mai-ml/mai/internal/parallel"
	"github.com/mai-ml/mai/internal/tensor"
)

// Activation applies an element-wise float32 activation: Relu, Relu1
// (clip to [-1, 1]), Relu6 (clip to [0, 6]) or Sigmoid.
type Activation struct {
	op.Base
	inShape       tensor.Shape
	input, output *tensor.Tensor
}

// NewActivation returns a factory for the float32 activation of the given kind.
func NewActivation(kind op.Kind) op.Factory {
	return func() op.Operator {
		return &Activation{Base: op.NewBase(kind, tensor.Float32)}
	}
}

func (a *Activation) Run() error {
	if err := a.Specialize(a.specialize); err != nil {
		return err
	}
	if !a.input.Shape().Equal(a.inShape) {
		return fmt.Errorf("%s %q: %w: %v, was %v", a.Kind(), a.Name(), op.ErrShapeChanged, a.input.Shape(), a.inShape)
	}
	in := tensor.Data[float32](a.input)
	out := tensor.Data[float32](a.output)

	var f func(float32) float32
	switch a.Kind() {
	case op.Relu:
		f = func(x float32) float32 { return max(x, 0) }
	case op.Relu1:
		f = func(x float32) float32 { return min(max(x, -1), 1) }
	case op.Relu6:
		f = func(x float32) float32 { return min(max(x, 0), 6) }
	case op.Sigmoid:
		f = func(x float32) float32 { return float32(1 / (1 + math.Exp(float64(-x)))) }
	default:
		return fmt.Errorf("%s %q: %w: not an activation", a.Kind(), a.Name(), op.ErrUnsupported)
	}

	parallel.ForRange(len(out), func(start, end int) {
		for i := start; i < end; i++ {
			out[i] = f(in[i])
		}
	}, a.Parallel())
	a.MarkReady()
	return nil
}

func (a *Activation) specialize() error {
	input, err := a.RequireInput(0)
	if err != nil {
		return fmt.Errorf("%s %q: %w", a.Kind(), a.Name(), err)
	}
	output, err := a.RequireOutput(0)
	if err != nil {
		return fmt.Errorf("%s %q: %w", a.Kind(), a.Name(), err)
	}
	if err := sameType(tensor.Float32, input, output); err != nil {
		return fmt.Errorf("%s %q: %w", a.Kind(), a.Name(), err)
	}
	if err := output.Resize(input.Shape()); err != nil {
		return fmt.Errorf("%s %q: %w", a.Kind(), a.Name(), err)
	}
	output.SetDataFormat(input.DataFormat())
	a.input, a.output = input, output
	a.inShape = input.Shape().Clone()
	return nil
}
