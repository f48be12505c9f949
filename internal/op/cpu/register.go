// Package cpu holds the CPU kernels and the function that installs them
// into an operator registry.
package cpu

import (
	"github.com/mai-ml/mai/internal/op"
	"github.com/mai-ml/mai/internal/tensor"
)

type registration struct {
	kind    op.Kind
	dtype   tensor.DataType
	factory op.Factory
}

func registrations() []registration {
	return []registration{
		{op.Conv2D, tensor.Float32, NewConv2D[float32]},
		{op.Conv2D, tensor.Int32, NewConv2D[int32]},

		{op.Fill, tensor.Float32, NewFill[float32]},
		{op.Fill, tensor.Int32, NewFill[int32]},

		{op.Reshape, tensor.Float32, NewReshape[float32]},
		{op.Reshape, tensor.Int32, NewReshape[int32]},
		{op.Reshape, tensor.Int64, NewReshape[int64]},

		{op.Shape, tensor.Float32, NewShape[float32]},
		{op.Shape, tensor.Int32, NewShape[int32]},
		{op.Shape, tensor.Int64, NewShape[int64]},

		{op.Squeeze, tensor.Float32, NewSqueeze[float32]},
		{op.BiasAdd, tensor.Float32, NewBiasAdd[float32]},

		{op.Relu, tensor.Float32, NewActivation(op.Relu)},
		{op.Relu1, tensor.Float32, NewActivation(op.Relu1)},
		{op.Relu6, tensor.Float32, NewActivation(op.Relu6)},
		{op.Sigmoid, tensor.Float32, NewActivation(op.Sigmoid)},

		{op.AvgPool, tensor.Float32, NewAvgPool},
		{op.Softmax, tensor.Float32, NewSoftmax},
		{op.FusedBatchNorm, tensor.Float32, NewFusedBatchNorm},
		{op.Pow, tensor.Float32, NewPow},

		{op.Cast, tensor.Float32, NewCast[float32]},
		{op.Cast, tensor.Int32, NewCast[int32]},
	}
}

// Register installs every CPU kernel into r. It must run before the first
// r.Create; a duplicate entry is returned as an error.
func Register(r *op.Registry) error {
	for _, reg := range registrations() {
		if err := r.Register(reg.kind, reg.dtype, reg.factory); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a registry holding every CPU kernel.
func NewRegistry() (*op.Registry, error) {
	r := op.NewRegistry()
	if err := Register(r); err != nil {
		return nil, err
	}
	return r, nil
}
