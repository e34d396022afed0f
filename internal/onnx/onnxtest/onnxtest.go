// Package onnxtest builds small ONNX models for tests.
package onnxtest

import (
	"github.com/born-ml/tpat/internal/onnx"
)

// Model wraps a graph into a model importing the default opset 13.
func Model(g *onnx.GraphProto) *onnx.ModelProto {
	return &onnx.ModelProto{
		IRVersion:    7,
		ProducerName: "onnxtest",
		OpsetImport:  []onnx.OperatorSetID{{Domain: "", Version: 13}},
		Graph:        g,
	}
}

// Node builds a node in the default domain.
func Node(name, opType string, inputs, outputs []string, attrs ...onnx.AttributeProto) onnx.NodeProto {
	return onnx.NodeProto{
		Name:       name,
		OpType:     opType,
		Inputs:     inputs,
		Outputs:    outputs,
		Attributes: attrs,
	}
}

// Value declares a tensor. A dim of -1 becomes the symbolic dimension "N".
func Value(name string, elemType int32, dims ...int64) onnx.ValueInfoProto {
	shape := &onnx.TensorShapeProto{}
	for _, d := range dims {
		if d < 0 {
			shape.Dims = append(shape.Dims, onnx.DimensionProto{DimParam: "N"})
			continue
		}
		shape.Dims = append(shape.Dims, onnx.DimensionProto{DimValue: d, HasValue: true})
	}
	return onnx.ValueInfoProto{
		Name: name,
		Type: &onnx.TypeProto{TensorType: &onnx.TensorTypeProto{ElemType: elemType, Shape: shape}},
	}
}

// Float32 declares a float32 tensor.
func Float32(name string, dims ...int64) onnx.ValueInfoProto {
	return Value(name, onnx.TensorProtoFloat, dims...)
}

// Initializer builds a float32 initializer of the given shape filled with zeros.
func Initializer(name string, dims ...int64) onnx.TensorProto {
	n := int64(1)
	for _, d := range dims {
		n *= d
	}
	return onnx.TensorProto{
		Name:     name,
		DataType: onnx.TensorProtoFloat,
		Dims:     dims,
		RawData:  make([]byte, 4*n),
	}
}

// Int64s builds a one-dimensional int64 initializer holding v.
func Int64s(name string, v ...int64) onnx.TensorProto {
	return onnx.TensorProto{
		Name:      name,
		DataType:  onnx.TensorProtoInt64,
		Dims:      []int64{int64(len(v))},
		Int64Data: v,
	}
}

// Int builds an INT attribute.
func Int(name string, v int64) onnx.AttributeProto {
	return onnx.AttributeProto{Name: name, Type: onnx.AttributeProtoInt, I: v}
}

// Ints builds an INTS attribute.
func Ints(name string, v ...int64) onnx.AttributeProto {
	return onnx.AttributeProto{Name: name, Type: onnx.AttributeProtoInts, Ints: v}
}

// Float builds a FLOAT attribute.
func Float(name string, v float32) onnx.AttributeProto {
	return onnx.AttributeProto{Name: name, Type: onnx.AttributeProtoFloat, F: v}
}

// String builds a STRING attribute.
func String(name, v string) onnx.AttributeProto {
	return onnx.AttributeProto{Name: name, Type: onnx.AttributeProtoString, S: []byte(v)}
}

// ReduceChain builds the graph used by most pipeline tests:
//
//	x[2,16] -> act:Relu -> a -> r1:ReduceMax(axes=[1]) -> y1[2,1]
//	x, bias -> add:Add -> c -> r2:ReduceMax(axes=[1]) -> y2[2,1]
//	c -> r3:ReduceMax(axes=[0]) -> y3[1,16]
//
// r1 and r2 are structurally identical; r3 differs from both in its axes.
func ReduceChain() *onnx.ModelProto {
	return Model(&onnx.GraphProto{
		Name: "reduce_chain",
		Nodes: []onnx.NodeProto{
			Node("act", "Relu", []string{"x"}, []string{"a"}),
			Node("r1", "ReduceMax", []string{"a"}, []string{"y1"}, Ints("axes", 1), Int("keepdims", 1)),
			Node("add", "Add", []string{"x", "bias"}, []string{"c"}),
			Node("r2", "ReduceMax", []string{"c"}, []string{"y2"}, Ints("axes", 1), Int("keepdims", 1)),
			Node("r3", "ReduceMax", []string{"c"}, []string{"y3"}, Ints("axes", 0), Int("keepdims", 1)),
		},
		Inputs:       []onnx.ValueInfoProto{Float32("x", 2, 16)},
		Outputs:      []onnx.ValueInfoProto{Float32("y1", 2, 1), Float32("y2", 2, 1), Float32("y3", 1, 16)},
		Initializers: []onnx.TensorProto{Initializer("bias", 2, 16)},
		ValueInfo:    []onnx.ValueInfoProto{Float32("a", 2, 16), Float32("c", 2, 16)},
	})
}
