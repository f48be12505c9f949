package cpu

import (
	"fmt"
	"math"

	"github.com/mai-ml/mai/internal/op"
	"github.com/mai-ml/mai/internal/parallel"
	"github.com/mai-ml/mai/internal/tensor"
)

// Softmax normalises float32 values along one axis:
//
//	out[i] = exp(beta*(x[i]-max)) / sum_j exp(beta*(x[j]-max))
//
// Without a SoftmaxParam the last axis and beta 1 are used. With Flatten set,
// the dimensions from the axis onward form a single normalised row.
type Softmax struct {
	op.Base
	param op.SoftmaxParam

	inShape               tensor.Shape
	outer, axisLen, inner int
	input, output         *tensor.Tensor
}

// NewSoftmax returns a float32 Softmax kernel.
func NewSoftmax() op.Operator {
	return &Softmax{
		Base:  op.NewBase(op.Softmax, tensor.Float32),
		param: op.SoftmaxParam{Axis: -1, Beta: 1},
	}
}

// Configure accepts an optional *op.SoftmaxParam.
func (s *Softmax) Configure(p op.Param) error {
	if p == nil {
		s.MarkConfigured()
		return nil
	}
	param, err := op.ConfigureWith[op.SoftmaxParam](&s.Base, p)
	if err != nil {
		return err
	}
	s.param = *param
	if s.param.Beta == 0 {
		s.param.Beta = 1
	}
	return nil
}

func (s *Softmax) Run() error {
	if err := s.Specialize(s.specialize); err != nil {
		return err
	}
	if !s.input.Shape().Equal(s.inShape) {
		return fmt.Errorf("softmax %q: %w: %v, was %v", s.Name(), op.ErrShapeChanged, s.input.Shape(), s.inShape)
	}
	in := tensor.Data[float32](s.input)
	out := tensor.Data[float32](s.output)
	n, inner := s.axisLen, s.inner
	beta := float64(s.param.Beta)
	if n == 0 {
		s.MarkReady()
		return nil
	}

	parallel.For2D(s.outer, inner, func(o, k int) {
		base := o*n*inner + k
		maxV := in[base]
		for j := 1; j < n; j++ {
			maxV = max(maxV, in[base+j*inner])
		}
		var sum float64
		for j := 0; j < n; j++ {
			e := math.Exp(beta * float64(in[base+j*inner]-maxV))
			out[base+j*inner] = float32(e)
			sum += e
		}
		for j := 0; j < n; j++ {
			out[base+j*inner] = float32(float64(out[base+j*inner]) / sum)
		}
	}, s.Parallel())
	s.MarkReady()
	return nil
}

func (s *Softmax) specialize() error {
	input, err := s.RequireInput(0)
	if err != nil {
		return fmt.Errorf("softmax %q: %w", s.Name(), err)
	}
	output, err := s.RequireOutput(0)
	if err != nil {
		return fmt.Errorf("softmax %q: %w", s.Name(), err)
	}
	if err := sameType(tensor.Float32, input, output); err != nil {
		return fmt.Errorf("softmax %q: %w", s.Name(), err)
	}
	rank := input.Rank()
	axis := s.param.Axis
	if axis < 0 {
		axis += rank
	}
	if axis < 0 || axis >= rank {
		return fmt.Errorf("softmax %q: %w: axis %d for rank %d", s.Name(), op.ErrInvalidParam, s.param.Axis, rank)
	}
	if err := output.Resize(input.Shape()); err != nil {
		return fmt.Errorf("softmax %q: %w", s.Name(), err)
	}
	output.SetDataFormat(input.DataFormat())

	s.outer = input.Shape()[:axis].NumElements()
	s.axisLen = input.Dim(axis)
	s.inner = input.Shape()[axis+1:].NumElements()
	if s.param.Flatten {
		s.axisLen *= s.inner
		s.inner = 1
	}
	s.input, s.output = input, output
	s.inShape = input.Shape().Clone()
	return nil
}
