package cpu

import (
	"fmt"

	"github.com/mai-ml/mai/internal/op"
)

// Padding amounts in top, bottom, left, right order.
type padding [4]int

func (p padding) top() int    { return p[0] }
func (p padding) bottom() int { return p[1] }
func (p padding) left() int   { return p[2] }
func (p padding) right() int  { return p[3] }

// resolvePadding derives explicit padding amounts for a kh x kw window.
//
// VALID pads nothing. SAME pads filter_extent-1 per spatial axis, with the
// odd pixel going to the bottom/right side.
func resolvePadding(mode op.PaddingMode, explicit []int, kh, kw int) (padding, error) {
	switch mode {
	case op.PaddingValid:
		return padding{}, nil
	case op.PaddingSame:
		th, tw := max(kh-1, 0), max(kw-1, 0)
		return padding{th / 2, th - th/2, tw / 2, tw - tw/2}, nil
	case op.PaddingExplicit:
		if len(explicit) != 4 {
			return padding{}, fmt.Errorf("%w: explicit padding size must be 4, got %d", op.ErrInvalidParam, len(explicit))
		}
		return padding{explicit[0], explicit[1], explicit[2], explicit[3]}, nil
	default:
		return padding{}, fmt.Errorf("%w: unknown padding mode %d", op.ErrInvalidParam, int(mode))
	}
}

// windowOutput is the sliding-window output length along one axis.
func windowOutput(in, k, stride, before, after int) (int, error) {
	span := in + before + after - k
	if span < 0 {
		return 0, fmt.Errorf("%w: window %d larger than padded input %d", op.ErrShapeMismatch, k, in+before+after)
	}
	return span/stride + 1, nil
}

// outputHW computes the output height and width of a convolution.
func outputHW(inH, inW, kh, kw, strideH, strideW int, pad padding) (int, int, error) {
	oh, err := windowOutput(inH, kh, strideH, pad.top(), pad.bottom())
	if err != nil {
		return 0, 0, fmt.Errorf("height: %w", err)
	}
	ow, err := windowOutput(inW, kw, strideW, pad.left(), pad.right())
	if err != nil {
		return 0, 0, fmt.Errorf("width: %w", err)
	}
	return oh, ow, nil
}
