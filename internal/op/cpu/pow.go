package cpu

import (
	"fmt"
	"math"

	"github.com/mai-ml/mai/internal/op"
	"github.com/mai-ml/mai/internal/parallel"
	"github.com/mai-ml/mai/internal/tensor"
)

// Pow raises each float32 base element to the matching exponent. The
// exponent is either the base's shape or a single-element tensor.
type Pow struct {
	op.Base
	inShape           tensor.Shape
	base, exp, output *tensor.Tensor
}

// NewPow returns a float32 Pow kernel.
func NewPow() op.Operator {
	return &Pow{Base: op.NewBase(op.Pow, tensor.Float32)}
}

func (p *Pow) Run() error {
	if err := p.Specialize(p.specialize); err != nil {
		return err
	}
	if !p.base.Shape().Equal(p.inShape) {
		return fmt.Errorf("pow %q: %w: %v, was %v", p.Name(), op.ErrShapeChanged, p.base.Shape(), p.inShape)
	}
	base := tensor.Data[float32](p.base)
	exp := tensor.Data[float32](p.exp)
	out := tensor.Data[float32](p.output)
	broadcast := len(exp) == 1

	parallel.ForRange(len(out), func(start, end int) {
		for i := start; i < end; i++ {
			e := exp[0]
			if !broadcast {
				e = exp[i]
			}
			out[i] = float32(math.Pow(float64(base[i]), float64(e)))
		}
	}, p.Parallel())
	p.MarkReady()
	return nil
}

func (p *Pow) specialize() error {
	base, err := p.RequireInput(0)
	if err != nil {
		return fmt.Errorf("pow %q: %w", p.Name(), err)
	}
	exp, err := p.RequireInput(1)
	if err != nil {
		return fmt.Errorf("pow %q: %w", p.Name(), err)
	}
	output, err := p.RequireOutput(0)
	if err != nil {
		return fmt.Errorf("pow %q: %w", p.Name(), err)
	}
	if err := sameType(tensor.Float32, base, exp, output); err != nil {
		return fmt.Errorf("pow %q: %w", p.Name(), err)
	}
	if exp.ElementCount() != 1 && !exp.Shape().Equal(base.Shape()) {
		return fmt.Errorf("pow %q: %w: exponent %v for base %v", p.Name(), op.ErrShapeMismatch, exp.Shape(), base.Shape())
	}
	if err := output.Resize(base.Shape()); err != nil {
		return fmt.Errorf("pow %q: %w", p.Name(), err)
	}
	output.SetDataFormat(base.DataFormat())
	p.base, p.exp, p.output = base, exp, output
	p.inShape = base.Shape().Clone()
	return nil
}
