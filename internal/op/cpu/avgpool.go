package cpu

import (
	"fmt"

	"github.com/mai-ml/mai/internal/op"
	"github.com/mai-ml/mai/internal/parallel"
	"github.com/mai-ml/mai/internal/tensor"
)

// AvgPool averages float32 values over a sliding 2-D window, channel by channel.
//
// Input: rank 4 in NHWC or NCHW. The output keeps the input's layout. Padded
// positions are left out of the divisor unless CountIncludePad is set.
type AvgPool struct {
	op.Base

	param      op.PoolParam
	configured bool

	nchw             bool
	pad              padding
	kh, kw           int
	strideH, strideW int
	inShape          tensor.Shape

	input, output *tensor.Tensor
}

// NewAvgPool returns an unconfigured float32 AvgPool.
func NewAvgPool() op.Operator {
	return &AvgPool{Base: op.NewBase(op.AvgPool, tensor.Float32)}
}

// Configure validates and copies the PoolParam.
func (p *AvgPool) Configure(param op.Param) error {
	pp, err := op.ConfigureWith[op.PoolParam](&p.Base, param)
	if err != nil {
		return err
	}
	if err := pp.Validate(); err != nil {
		return fmt.Errorf("avgpool %q: %w", p.Name(), err)
	}
	p.param = pp.Clone()
	p.configured = true
	return nil
}

// Init checks that a parameter record was supplied.
func (p *AvgPool) Init() error {
	if !p.configured {
		return fmt.Errorf("avgpool %q: %w", p.Name(), op.ErrMissingParam)
	}
	return nil
}

func (p *AvgPool) Run() error {
	if err := p.Specialize(p.specialize); err != nil {
		return err
	}
	if !p.input.Shape().Equal(p.inShape) {
		return fmt.Errorf("avgpool %q: %w: %v, was %v", p.Name(), op.ErrShapeChanged, p.input.Shape(), p.inShape)
	}

	in := tensor.Data[float32](p.input)
	out := tensor.Data[float32](p.output)
	inShape, outShape := p.input.Shape(), p.output.Shape()
	offset := nhwcOffset
	if p.nchw {
		offset = nchwOffset
	}
	inH, inW := p.dims(inShape)
	oh, ow := p.dims(outShape)
	batch, channels := inShape[0], p.channels(inShape)
	full := p.kh * p.kw

	parallel.For4D(batch, channels, oh, ow, func(n, c, h, w int) {
		h0 := h*p.strideH - p.pad.top()
		w0 := w*p.strideW - p.pad.left()
		var sum float32
		count := 0
		for ih := max(h0, 0); ih < min(h0+p.kh, inH); ih++ {
			for iw := max(w0, 0); iw < min(w0+p.kw, inW); iw++ {
				sum += in[offset(inShape, n, c, ih, iw)]
				count++
			}
		}
		if p.param.CountIncludePad {
			count = full
		}
		var v float32
		if count > 0 {
			v = sum / float32(count)
		}
		out[offset(outShape, n, c, h, w)] = v
	}, p.Parallel())
	p.MarkReady()
	return nil
}

func nhwcOffset(s tensor.Shape, n, c, h, w int) int { return s.Offset4D(n, h, w, c) }
func nchwOffset(s tensor.Shape, n, c, h, w int) int { return s.Offset4D(n, c, h, w) }

func (p *AvgPool) dims(s tensor.Shape) (h, w int) {
	if p.nchw {
		return s[2], s[3]
	}
	return s[1], s[2]
}

func (p *AvgPool) channels(s tensor.Shape) int {
	if p.nchw {
		return s[1]
	}
	return s[3]
}

func (p *AvgPool) specialize() error {
	if !p.configured {
		return fmt.Errorf("avgpool %q: %w", p.Name(), op.ErrMissingParam)
	}
	input, err := p.RequireInput(0)
	if err != nil {
		return fmt.Errorf("avgpool %q: %w", p.Name(), err)
	}
	output, err := p.RequireOutput(0)
	if err != nil {
		return fmt.Errorf("avgpool %q: %w", p.Name(), err)
	}
	if err := sameType(tensor.Float32, input, output); err != nil {
		return fmt.Errorf("avgpool %q: %w", p.Name(), err)
	}
	if input.Rank() != 4 {
		return fmt.Errorf("avgpool %q: %w: input must be 4-d, got rank %d", p.Name(), op.ErrUnsupported, input.Rank())
	}
	format := input.DataFormat()
	switch format {
	case tensor.NHWC:
		p.nchw = false
	case tensor.NCHW:
		p.nchw = true
	default:
		return fmt.Errorf("avgpool %q: %w: input format %s", p.Name(), op.ErrUnsupported, format)
	}

	kh, kw := p.param.KernelShape[0], p.param.KernelShape[1]
	pad, err := resolvePadding(p.param.PaddingMode, p.param.Paddings, kh, kw)
	if err != nil {
		return fmt.Errorf("avgpool %q: %w", p.Name(), err)
	}
	hIdx, wIdx := format.Index(tensor.AxisH), format.Index(tensor.AxisW)
	strideH, strideW := p.param.Stride(hIdx), p.param.Stride(wIdx)
	oh, ow, err := outputHW(input.Dim(hIdx), input.Dim(wIdx), kh, kw, strideH, strideW, pad)
	if err != nil {
		return fmt.Errorf("avgpool %q: %w", p.Name(), err)
	}

	outShape := input.Shape().Clone()
	outShape[hIdx], outShape[wIdx] = oh, ow
	if err := output.Resize(outShape); err != nil {
		return fmt.Errorf("avgpool %q: %w", p.Name(), err)
	}
	output.SetDataFormat(format)

	p.input, p.output = input, output
	p.inShape = input.Shape().Clone()
	p.pad = pad
	p.kh, p.kw = kh, kw
	p.strideH, p.strideW = strideH, strideW
	return nil
}
