package cpu

import (
	"fmt"

	"github.com/mai-ml/mai/internal/op"
	"github.com/mai-ml/mai/internal/tensor"
)

// Reshape copies its input into an output of a new shape.
//
// Inputs: data (T), shape (int32 or int64, rank 1). A -1 entry is inferred
// from the element count; a 0 entry keeps the input dimension at that index.
type Reshape[T tensor.Element] struct {
	op.Base
	inShape       tensor.Shape
	input, output *tensor.Tensor
}

// NewReshape returns a Reshape kernel for element type T.
func NewReshape[T tensor.Element]() op.Operator {
	return &Reshape[T]{Base: op.NewBase(op.Reshape, tensor.DataTypeOf[T]())}
}

// Run copies the data, resolving the target shape on the first call.
func (r *Reshape[T]) Run() error {
	if err := r.Specialize(r.specialize); err != nil {
		return err
	}
	if !r.input.Shape().Equal(r.inShape) {
		return fmt.Errorf("reshape %q: %w: %v, was %v", r.Name(), op.ErrShapeChanged, r.input.Shape(), r.inShape)
	}
	copy(r.output.Bytes(), r.input.Bytes())
	r.MarkReady()
	return nil
}

func (r *Reshape[T]) specialize() error {
	input, err := r.RequireInput(0)
	if err != nil {
		return fmt.Errorf("reshape %q: %w", r.Name(), err)
	}
	shapeT, err := r.RequireInput(1)
	if err != nil {
		return fmt.Errorf("reshape %q: %w", r.Name(), err)
	}
	output, err := r.RequireOutput(0)
	if err != nil {
		return fmt.Errorf("reshape %q: %w", r.Name(), err)
	}
	if input.DataType() != r.DataType() || output.DataType() != r.DataType() {
		return fmt.Errorf("reshape %q: %w: input %s, output %s, want %s",
			r.Name(), op.ErrUnsupported, input.DataType(), output.DataType(), r.DataType())
	}

	target, err := shapeValues(shapeT)
	if err != nil {
		return fmt.Errorf("reshape %q: %w", r.Name(), err)
	}
	shape, err := inferReshape(input.Shape(), target)
	if err != nil {
		return fmt.Errorf("reshape %q: %w", r.Name(), err)
	}
	if err := output.Resize(shape); err != nil {
		return fmt.Errorf("reshape %q: %w", r.Name(), err)
	}
	if len(shape) != 4 {
		output.SetDataFormat(tensor.None)
	} else if output.DataFormat() == tensor.None {
		output.SetDataFormat(input.DataFormat())
	}

	r.input, r.output = input, output
	r.inShape = input.Shape().Clone()
	return nil
}

// shapeValues reads a rank-1 int32 or int64 tensor as ints.
func shapeValues(t *tensor.Tensor) ([]int, error) {
	if t.Rank() != 1 {
		return nil, fmt.Errorf("%w: shape tensor %q must be 1-d, got rank %d", op.ErrUnsupported, t.Name(), t.Rank())
	}
	out := make([]int, t.Dim(0))
	switch t.DataType() {
	case tensor.Int32:
		for i, v := range tensor.Data[int32](t) {
			out[i] = int(v)
		}
	case tensor.Int64:
		for i, v := range tensor.Data[int64](t) {
			out[i] = int(v)
		}
	default:
		return nil, fmt.Errorf("%w: shape tensor %q has type %s", op.ErrUnsupported, t.Name(), t.DataType())
	}
	return out, nil
}

// inferReshape resolves 0 and -1 entries of target against the input shape.
func inferReshape(in tensor.Shape, target []int) (tensor.Shape, error) {
	out := make(tensor.Shape, len(target))
	inferred := -1
	known := 1
	for i, d := range target {
		switch {
		case d == -1:
			if inferred >= 0 {
				return nil, fmt.Errorf("%w: more than one -1 in shape %v", op.ErrInvalidParam, target)
			}
			inferred = i
			continue
		case d == 0:
			if i >= len(in) {
				return nil, fmt.Errorf("%w: 0 at index %d of %v copies a missing input dim", op.ErrInvalidParam, i, target)
			}
			d = in[i]
		case d < 0:
			return nil, fmt.Errorf("%w: negative dim in shape %v", op.ErrInvalidParam, target)
		}
		out[i] = d
		known *= d
	}

	total := in.NumElements()
	if inferred >= 0 {
		if known == 0 || total%known != 0 {
			return nil, fmt.Errorf("%w: cannot infer -1 in %v from %d elements", op.ErrShapeMismatch, target, total)
		}
		out[inferred] = total / known
		known = total
	}
	if known != total {
		return nil, fmt.Errorf("%w: shape %v holds %d elements, input %v holds %d",
			op.ErrShapeMismatch, target, known, in, total)
	}
	return out, nil
}
