// Package onnx imports ONNX models into operator graphs.
//
// The protobuf wire format is decoded with protowire into the handful of
// message types the importer needs, so no generated ONNX bindings are
// required. Import then lowers each node to an operator created from an
// op.Registry:
//
//	reg, err := cpu.NewRegistry()
//	if err != nil {
//	    return err
//	}
//	g, err := onnx.Load(data, reg, graph.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	if err := g.Init(); err != nil {
//	    return err
//	}
//	err = g.Run()
//
// Supported node types are Conv, AveragePool, Relu, Sigmoid, Clip, Softmax,
// Reshape, Shape, Squeeze, Add with a constant channel vector,
// BatchNormalization, Pow, Cast and Constant.
package onnx
