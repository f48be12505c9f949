package cpu

import (
	"fmt"

	"github.com/mai-ml/mai/internal/op"
	"github.com/mai-ml/mai/internal/parallel"
	"github.com/mai-ml/mai/internal/tensor"
)

// convPath is the layout-specialised compute routine chosen on the first run.
type convPath int

const (
	convUnresolved convPath = iota
	convNHWCHWIO
	convNCHWOIHW
)

// Conv2D is a direct 2-D cross-correlation kernel.
//
// Inputs: input (rank 4), filter (rank 4), optional bias (rank 1, one value per
// output channel). Supported layout pairs are (NHWC, HWIO) and (NCHW, OIHW).
// The output takes the input's layout. Every element of the output is written
// by exactly one worker, so the outer loops need no synchronisation.
type Conv2D[T tensor.Numeric] struct {
	op.Base

	param      op.Conv2DParam
	configured bool

	path             convPath
	pad              padding
	strideH, strideW int
	inShape          tensor.Shape

	input, filter, bias, output *tensor.Tensor
}

// NewConv2D returns an unconfigured Conv2D for element type T.
func NewConv2D[T tensor.Numeric]() op.Operator {
	return &Conv2D[T]{Base: op.NewBase(op.Conv2D, tensor.DataTypeOf[T]())}
}

// Configure validates and copies the Conv2DParam.
func (c *Conv2D[T]) Configure(p op.Param) error {
	param, err := op.ConfigureWith[op.Conv2DParam](&c.Base, p)
	if err != nil {
		return err
	}
	if err := param.Validate(); err != nil {
		return fmt.Errorf("conv2d %q: %w", c.Name(), err)
	}
	c.param = param.Clone()
	c.configured = true
	return nil
}

// Init checks that a parameter record was supplied.
func (c *Conv2D[T]) Init() error {
	if !c.configured {
		return fmt.Errorf("conv2d %q: %w", c.Name(), op.ErrMissingParam)
	}
	return nil
}

// Run executes the convolution, specialising on the first call.
func (c *Conv2D[T]) Run() error {
	if err := c.Specialize(c.specialize); err != nil {
		return err
	}
	if !c.input.Shape().Equal(c.inShape) {
		return fmt.Errorf("conv2d %q: %w: %v, was %v", c.Name(), op.ErrShapeChanged, c.input.Shape(), c.inShape)
	}

	c.output.Zero()
	in := tensor.Data[T](c.input)
	filter := tensor.Data[T](c.filter)
	out := tensor.Data[T](c.output)
	var bias []T
	if c.bias != nil {
		bias = tensor.Data[T](c.bias)
	}

	cfg := c.Parallel()
	switch c.path {
	case convNHWCHWIO:
		conv2DNHWC(in, c.input.Shape(), filter, c.filter.Shape(), bias, out, c.output.Shape(),
			c.strideH, c.strideW, c.pad, cfg)
	case convNCHWOIHW:
		conv2DNCHW(in, c.input.Shape(), filter, c.filter.Shape(), bias, out, c.output.Shape(),
			c.strideH, c.strideW, c.pad, cfg)
	default:
		return fmt.Errorf("conv2d %q: %w: no compute path", c.Name(), op.ErrUnsupported)
	}
	c.MarkReady()
	return nil
}

func (c *Conv2D[T]) specialize() error {
	if !c.configured {
		return fmt.Errorf("conv2d %q: %w", c.Name(), op.ErrMissingParam)
	}
	input, err := c.RequireInput(0)
	if err != nil {
		return fmt.Errorf("conv2d %q: %w", c.Name(), err)
	}
	filter, err := c.RequireInput(1)
	if err != nil {
		return fmt.Errorf("conv2d %q: %w", c.Name(), err)
	}
	bias, err := c.OptionalInput(2)
	if err != nil {
		return fmt.Errorf("conv2d %q: %w", c.Name(), err)
	}
	output, err := c.RequireOutput(0)
	if err != nil {
		return fmt.Errorf("conv2d %q: %w", c.Name(), err)
	}

	for _, t := range []*tensor.Tensor{input, filter, bias, output} {
		if t != nil && t.DataType() != c.DataType() {
			return fmt.Errorf("conv2d %q: %w: tensor %q is %s, want %s",
				c.Name(), op.ErrUnsupported, t.Name(), t.DataType(), c.DataType())
		}
	}
	if input.Rank() != 4 {
		return fmt.Errorf("conv2d %q: %w: input must be 4-d, got rank %d", c.Name(), op.ErrUnsupported, input.Rank())
	}
	if filter.Rank() != 4 {
		return fmt.Errorf("conv2d %q: %w: filter must be 4-d, got rank %d", c.Name(), op.ErrUnsupported, filter.Rank())
	}
	if err := c.param.Validate(); err != nil {
		return fmt.Errorf("conv2d %q: %w", c.Name(), err)
	}

	inFmt, fFmt := input.DataFormat(), filter.DataFormat()
	switch {
	case inFmt == tensor.NHWC && fFmt == tensor.HWIO:
		c.path = convNHWCHWIO
	case inFmt == tensor.NCHW && fFmt == tensor.OIHW:
		c.path = convNCHWOIHW
	default:
		return fmt.Errorf("conv2d %q: %w: input format %s with filter format %s",
			c.Name(), op.ErrUnsupported, inFmt, fFmt)
	}

	inC := input.Dim(inFmt.Index(tensor.AxisC))
	filterI := filter.Dim(fFmt.Index(tensor.AxisI))
	if inC != filterI {
		return fmt.Errorf("conv2d %q: %w: input channel(%d) should be equal to filter channel(%d)",
			c.Name(), op.ErrShapeMismatch, inC, filterI)
	}
	outC := filter.Dim(fFmt.Index(tensor.AxisO))
	if bias != nil && (bias.Rank() != 1 || bias.Dim(0) != outC) {
		return fmt.Errorf("conv2d %q: %w: bias shape %v for %d output channels",
			c.Name(), op.ErrShapeMismatch, bias.Shape(), outC)
	}

	kh := filter.Dim(fFmt.Index(tensor.AxisH))
	kw := filter.Dim(fFmt.Index(tensor.AxisW))
	pad, err := resolvePadding(c.param.PaddingMode, c.param.Paddings, kh, kw)
	if err != nil {
		return fmt.Errorf("conv2d %q: %w", c.Name(), err)
	}
	hIdx, wIdx := inFmt.Index(tensor.AxisH), inFmt.Index(tensor.AxisW)
	strideH, strideW := c.param.Stride(hIdx), c.param.Stride(wIdx)
	oh, ow, err := outputHW(input.Dim(hIdx), input.Dim(wIdx), kh, kw, strideH, strideW, pad)
	if err != nil {
		return fmt.Errorf("conv2d %q: %w", c.Name(), err)
	}

	outShape := make(tensor.Shape, 4)
	outShape[inFmt.Index(tensor.AxisN)] = input.Dim(inFmt.Index(tensor.AxisN))
	outShape[inFmt.Index(tensor.AxisC)] = outC
	outShape[hIdx] = oh
	outShape[wIdx] = ow
	if err := output.Resize(outShape); err != nil {
		return fmt.Errorf("conv2d %q: %w", c.Name(), err)
	}
	output.SetDataFormat(inFmt)

	c.input, c.filter, c.bias, c.output = input, filter, bias, output
	c.inShape = input.Shape().Clone()
	c.pad = pad
	c.strideH, c.strideW = strideH, strideW
	return nil
}

// conv2DNHWC computes an NHWC output from an HWIO filter, one output element per task.
func conv2DNHWC[T tensor.Numeric](in []T, inShape tensor.Shape, filter []T, fShape tensor.Shape,
	bias []T, out []T, outShape tensor.Shape, strideH, strideW int, pad padding, cfg parallel.Config,
) {
	inH, inW, inC := inShape[1], inShape[2], inShape[3]
	kh, kw := fShape[0], fShape[1]

	parallel.For4D(outShape[0], outShape[1], outShape[2], outShape[3], func(n, h, w, o int) {
		hBase := h*strideH - pad.top()
		wBase := w*strideW - pad.left()
		var acc T
		for fh := 0; fh < kh; fh++ {
			ih := hBase + fh
			if ih < 0 || ih >= inH {
				continue
			}
			for fw := 0; fw < kw; fw++ {
				iw := wBase + fw
				if iw < 0 || iw >= inW {
					continue
				}
				inRow := in[inShape.Offset4D(n, ih, iw, 0):]
				for i := 0; i < inC; i++ {
					acc += inRow[i] * filter[fShape.Offset4D(fh, fw, i, o)]
				}
			}
		}
		if bias != nil {
			acc += bias[o]
		}
		out[outShape.Offset4D(n, h, w, o)] += acc
	}, cfg)
}

// conv2DNCHW computes an NCHW output from an OIHW filter, one (batch, channel, row) per task.
func conv2DNCHW[T tensor.Numeric](in []T, inShape tensor.Shape, filter []T, fShape tensor.Shape,
	bias []T, out []T, outShape tensor.Shape, strideH, strideW int, pad padding, cfg parallel.Config,
) {
	inC, inH, inW := inShape[1], inShape[2], inShape[3]
	kh, kw := fShape[2], fShape[3]
	ow := outShape[3]

	parallel.For3D(outShape[0], outShape[1], outShape[2], func(n, o, h int) {
		hBase := h*strideH - pad.top()
		row := out[outShape.Offset4D(n, o, h, 0):]
		for w := 0; w < ow; w++ {
			wBase := w*strideW - pad.left()
			var acc T
			for i := 0; i < inC; i++ {
				for fh := 0; fh < kh; fh++ {
					ih := hBase + fh
					if ih < 0 || ih >= inH {
						continue
					}
					for fw := 0; fw < kw; fw++ {
						iw := wBase + fw
						if iw < 0 || iw >= inW {
							continue
						}
						acc += in[inShape.Offset4D(n, i, ih, iw)] * filter[fShape.Offset4D(o, i, fh, fw)]
					}
				}
			}
			if bias != nil {
				acc += bias[o]
			}
			row[w] += acc
		}
	}, cfg)
}
