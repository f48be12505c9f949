package op

import "fmt"

// Kind is the category of computation, independent of element type.
type Kind int

// Operator kinds.
const (
	Conv2D Kind = iota
	DepthwiseConv2D
	Fill
	Reshape
	Shape
	Squeeze
	BiasAdd
	Relu
	Relu1
	Relu6
	Sigmoid
	Softmax
	FusedBatchNorm
	Pow
	Cast
	AvgPool
)

var kindNames = [...]string{
	Conv2D:          "Conv2D",
	DepthwiseConv2D: "DepthwiseConv2D",
	Fill:            "Fill",
	Reshape:         "Reshape",
	Shape:           "Shape",
	Squeeze:         "Squeeze",
	BiasAdd:         "BiasAdd",
	Relu:            "Relu",
	Relu1:           "Relu1",
	Relu6:           "Relu6",
	Sigmoid:         "Sigmoid",
	Softmax:         "Softmax",
	FusedBatchNorm:  "FusedBatchNorm",
	Pow:             "Pow",
	Cast:            "Cast",
	AvgPool:         "AvgPool",
}

// String returns the kind name used in logs and profiles.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}
