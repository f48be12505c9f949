package op

import (
	"fmt"
	"slices"
)

// Param is an operator-specific parameter record.
type Param interface {
	Kind() Kind
}

// PaddingMode selects how convolution padding is derived.
type PaddingMode int

// Padding modes. PaddingExplicit means the four Paddings values are used as given.
const (
	PaddingExplicit PaddingMode = iota
	PaddingValid
	PaddingSame
)

// String returns the mode name.
func (m PaddingMode) String() string {
	switch m {
	case PaddingExplicit:
		return "EXPLICIT"
	case PaddingValid:
		return "VALID"
	case PaddingSame:
		return "SAME"
	default:
		return fmt.Sprintf("PaddingMode(%d)", int(m))
	}
}

// Conv2DParam configures a 2-D convolution.
//
// Strides and Dilations are given in the input layout's axis order (four
// entries) or left empty for all ones. Paddings holds top, bottom, left and
// right amounts and must be empty unless PaddingMode is PaddingExplicit.
type Conv2DParam struct {
	Strides     []int
	Dilations   []int
	Paddings    []int
	PaddingMode PaddingMode
}

// Kind implements Param.
func (*Conv2DParam) Kind() Kind { return Conv2D }

// Clone returns a deep copy.
func (p *Conv2DParam) Clone() Conv2DParam {
	return Conv2DParam{
		Strides:     slices.Clone(p.Strides),
		Dilations:   slices.Clone(p.Dilations),
		Paddings:    slices.Clone(p.Paddings),
		PaddingMode: p.PaddingMode,
	}
}

// Validate checks the record for malformed values.
func (p *Conv2DParam) Validate() error {
	if err := validateStrides(p.Strides); err != nil {
		return err
	}
	if len(p.Dilations) != 0 && len(p.Dilations) != 4 {
		return fmt.Errorf("%w: dilations must have 4 entries, got %d", ErrInvalidParam, len(p.Dilations))
	}
	for _, d := range p.Dilations {
		if d != 1 {
			return fmt.Errorf("%w: dilations greater than 1 (%v)", ErrUnsupported, p.Dilations)
		}
	}
	return validatePadding(p.PaddingMode, p.Paddings)
}

func validateStrides(strides []int) error {
	if len(strides) != 0 && len(strides) != 4 {
		return fmt.Errorf("%w: strides must have 4 entries, got %d", ErrInvalidParam, len(strides))
	}
	for _, s := range strides {
		if s < 1 {
			return fmt.Errorf("%w: stride %d must be positive", ErrInvalidParam, s)
		}
	}
	return nil
}

func validatePadding(mode PaddingMode, paddings []int) error {
	switch mode {
	case PaddingValid, PaddingSame:
		if len(paddings) != 0 {
			return fmt.Errorf("%w: explicit paddings %v not allowed with padding mode %s",
				ErrInvalidParam, paddings, mode)
		}
	case PaddingExplicit:
		if len(paddings) != 4 {
			return fmt.Errorf("%w: explicit padding size must be 4, got %d", ErrInvalidParam, len(paddings))
		}
		for _, v := range paddings {
			if v < 0 {
				return fmt.Errorf("%w: negative padding %v", ErrInvalidParam, paddings)
			}
		}
	default:
		return fmt.Errorf("%w: unknown padding mode %d", ErrInvalidParam, int(mode))
	}
	return nil
}

// Stride returns the stride at axis index i, defaulting to 1.
func (p *Conv2DParam) Stride(i int) int {
	if len(p.Strides) == 0 {
		return 1
	}
	return p.Strides[i]
}

// PoolParam configures a 2-D pooling window.
//
// KernelShape holds the window height and width. Strides, Paddings and
// PaddingMode follow the Conv2DParam conventions. CountIncludePad divides
// every window by its full size instead of by the number of unpadded
// elements it covers.
type PoolParam struct {
	KernelShape     []int
	Strides         []int
	Paddings        []int
	PaddingMode     PaddingMode
	CountIncludePad bool
}

// Kind implements Param.
func (*PoolParam) Kind() Kind { return AvgPool }

// Clone returns a deep copy.
func (p *PoolParam) Clone() PoolParam {
	c := *p
	c.KernelShape = slices.Clone(p.KernelShape)
	c.Strides = slices.Clone(p.Strides)
	c.Paddings = slices.Clone(p.Paddings)
	return c
}

// Validate checks the record for malformed values.
func (p *PoolParam) Validate() error {
	if len(p.KernelShape) != 2 {
		return fmt.Errorf("%w: kernel shape must have 2 entries, got %d", ErrInvalidParam, len(p.KernelShape))
	}
	for _, k := range p.KernelShape {
		if k < 1 {
			return fmt.Errorf("%w: kernel shape %v must be positive", ErrInvalidParam, p.KernelShape)
		}
	}
	if err := validateStrides(p.Strides); err != nil {
		return err
	}
	return validatePadding(p.PaddingMode, p.Paddings)
}

// Stride returns the stride at axis index i, defaulting to 1.
func (p *PoolParam) Stride(i int) int {
	if len(p.Strides) == 0 {
		return 1
	}
	return p.Strides[i]
}

// DepthwiseConv2DParam configures a depthwise convolution. Its filter uses
// the IOHW layout. No CPU kernel consumes it yet.
type DepthwiseConv2DParam struct {
	Conv2DParam
}

// Kind implements Param.
func (*DepthwiseConv2DParam) Kind() Kind { return DepthwiseConv2D }

// SoftmaxParam configures Softmax.
type SoftmaxParam struct {
	Axis int     // negative values count from the last axis
	Beta float32 // input scale; 0 is treated as 1

	// Flatten normalises over every dimension from Axis onward as one
	// row, instead of along Axis alone.
	Flatten bool
}

// Kind implements Param.
func (*SoftmaxParam) Kind() Kind { return Softmax }

// SqueezeParam lists the dimensions Squeeze removes. Empty removes every size-1 dimension.
type SqueezeParam struct {
	Dims []int
}

// Kind implements Param.
func (*SqueezeParam) Kind() Kind { return Squeeze }

// BatchNormParam configures FusedBatchNorm.
type BatchNormParam struct {
	Epsilon float32
}

// Kind implements Param.
func (*BatchNormParam) Kind() Kind { return FusedBatchNorm }
