// Package onnx reads, indexes and writes ONNX model files.
//
// ONNX (Open Neural Network Exchange) is an open format for representing deep learning models.
// This package implements a hand-written protobuf codec for .onnx files without external dependencies.
//
// Key components:
//   - ModelProto: Top-level ONNX model structure with metadata and graph
//   - GraphProto: Computation graph with nodes, inputs, outputs, and initializers
//   - NodeProto: Single operation in the graph (e.g., Conv, MatMul, ReduceMax)
//   - TensorProto: Weight/initializer tensor with data and shape
//   - ValueInfoProto: Input/output tensor type information
//   - Graph: read-only index over a model for node lookup and tensor signatures
//
// Fields the structures do not model are kept as raw bytes, so a model that
// is parsed and marshaled again loses nothing.
//
// Example usage:
//
//	model, err := onnx.ParseFile("resnet50.onnx")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	g, err := onnx.NewGraph(model)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for id, node := range g.Nodes() {
//	    fmt.Printf("%d: %s (type: %s)\n", id, node.Name, node.OpType)
//	}
//
//	if err := onnx.WriteFile("copy.onnx", model); err != nil {
//	    log.Fatal(err)
//	}
package onnx
