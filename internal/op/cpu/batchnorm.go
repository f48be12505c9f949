package cpu

import (
	"fmt"
	"math"

	"github.com/mai-ml/mai/internal/op"
	"github.com/mai-ml/mai/internal/parallel"
	"github.com/mai-ml/mai/internal/tensor"
)

const defaultBatchNormEpsilon = 1e-5

// FusedBatchNorm applies inference-mode batch normalisation on float32 data:
//
//	y = scale * (x - mean) / sqrt(variance + epsilon) + offset
//
// Inputs: x, scale, offset, mean, variance. The last four are 1-d with one
// value per channel; the channel axis is 1 for NCHW and the last axis otherwise.
type FusedBatchNorm struct {
	op.Base
	epsilon float32

	inShape             tensor.Shape
	outer, chans, inner int
	input, output       *tensor.Tensor
	stats               [4]*tensor.Tensor
	mul, add            []float32
}

// NewFusedBatchNorm returns a float32 FusedBatchNorm kernel.
func NewFusedBatchNorm() op.Operator {
	return &FusedBatchNorm{
		Base:    op.NewBase(op.FusedBatchNorm, tensor.Float32),
		epsilon: defaultBatchNormEpsilon,
	}
}

// Configure accepts an optional *op.BatchNormParam.
func (b *FusedBatchNorm) Configure(p op.Param) error {
	if p == nil {
		b.MarkConfigured()
		return nil
	}
	param, err := op.ConfigureWith[op.BatchNormParam](&b.Base, p)
	if err != nil {
		return err
	}
	if param.Epsilon < 0 {
		return fmt.Errorf("%w: negative epsilon %g", op.ErrInvalidParam, param.Epsilon)
	}
	if param.Epsilon > 0 {
		b.epsilon = param.Epsilon
	}
	return nil
}

func (b *FusedBatchNorm) Run() error {
	if err := b.Specialize(b.specialize); err != nil {
		return err
	}
	if !b.input.Shape().Equal(b.inShape) {
		return fmt.Errorf("batch_norm %q: %w: %v, was %v", b.Name(), op.ErrShapeChanged, b.input.Shape(), b.inShape)
	}

	scale := tensor.Data[float32](b.stats[0])
	offset := tensor.Data[float32](b.stats[1])
	mean := tensor.Data[float32](b.stats[2])
	variance := tensor.Data[float32](b.stats[3])
	for c := range b.mul {
		m := scale[c] / float32(math.Sqrt(float64(variance[c]+b.epsilon)))
		b.mul[c] = m
		b.add[c] = offset[c] - mean[c]*m
	}

	in := tensor.Data[float32](b.input)
	out := tensor.Data[float32](b.output)
	chans, inner := b.chans, b.inner
	parallel.For2D(b.outer, chans, func(o, c int) {
		base := (o*chans + c) * inner
		m, a := b.mul[c], b.add[c]
		for i := base; i < base+inner; i++ {
			out[i] = in[i]*m + a
		}
	}, b.Parallel())
	b.MarkReady()
	return nil
}

func (b *FusedBatchNorm) specialize() error {
	input, err := b.RequireInput(0)
	if err != nil {
		return fmt.Errorf("batch_norm %q: %w", b.Name(), err)
	}
	output, err := b.RequireOutput(0)
	if err != nil {
		return fmt.Errorf("batch_norm %q: %w", b.Name(), err)
	}
	if input.Rank() < 2 {
		return fmt.Errorf("batch_norm %q: %w: input rank %d", b.Name(), op.ErrUnsupported, input.Rank())
	}
	axis := input.Rank() - 1
	if input.DataFormat() == tensor.NCHW {
		axis = 1
	}
	chans := input.Dim(axis)

	var stats [4]*tensor.Tensor
	for i := range stats {
		t, err := b.RequireInput(i + 1)
		if err != nil {
			return fmt.Errorf("batch_norm %q: %w", b.Name(), err)
		}
		if t.Rank() != 1 || t.Dim(0) != chans {
			return fmt.Errorf("batch_norm %q: %w: %q has shape %v for %d channels",
				b.Name(), op.ErrShapeMismatch, t.Name(), t.Shape(), chans)
		}
		stats[i] = t
	}
	if err := sameType(tensor.Float32, input, output, stats[0], stats[1], stats[2], stats[3]); err != nil {
		return fmt.Errorf("batch_norm %q: %w", b.Name(), err)
	}
	if err := output.Resize(input.Shape()); err != nil {
		return fmt.Errorf("batch_norm %q: %w", b.Name(), err)
	}
	output.SetDataFormat(input.DataFormat())

	b.outer = input.Shape()[:axis].NumElements()
	b.chans = chans
	b.inner = input.Shape()[axis+1:].NumElements()
	b.mul = make([]float32, chans)
	b.add = make([]float32, chans)
	b.input, b.output, b.stats = input, output, stats
	b.inShape = input.Shape().Clone()
	return nil
}
