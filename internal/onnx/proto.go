package onnx

// ONNX protobuf data structures (hand-written).
//
// Every message keeps the raw bytes of the fields this package does not
// model in Unknown, so a parse/marshal round trip preserves them.

// ModelProto represents an ONNX model.
type ModelProto struct {
	IRVersion       int64               // IR version (e.g., 7, 8, 9)
	OpsetImport     []OperatorSetID     // Opset version(s)
	ProducerName    string              // Framework name (e.g., "pytorch", "tf")
	ProducerVersion string              // Framework version
	Domain          string              // Model domain
	ModelVersion    int64               // Model version number
	DocString       string              // Model description
	Graph           *GraphProto         // Computation graph
	MetadataProps   []StringStringEntry // Key-value metadata
	Unknown         []byte              // Unmodelled fields (training_info, functions, ...)
}

// GraphProto represents the computation graph.
type GraphProto struct {
	Name         string           // Graph name
	Nodes        []NodeProto      // Operation nodes
	Inputs       []ValueInfoProto // Graph inputs
	Outputs      []ValueInfoProto // Graph outputs
	Initializers []TensorProto    // Weight tensors
	DocString    string           // Graph description
	ValueInfo    []ValueInfoProto // Intermediate tensor info
	Unknown      []byte           // Unmodelled fields (sparse initializers, quantization annotations)
}

// NodeProto represents a single operation.
type NodeProto struct {
	Name       string           // Node name (optional)
	OpType     string           // Operation type (e.g., "Conv", "MatMul", "Relu")
	Inputs     []string         // Input tensor names
	Outputs    []string         // Output tensor names
	Attributes []AttributeProto // Operation attributes
	Domain     string           // Custom domain (empty for default)
	DocString  string           // Node description
	Unknown    []byte
}

// TensorProto represents a tensor (weights/initializers).
type TensorProto struct {
	Name      string    // Tensor name
	DataType  int32     // Element data type
	Dims      []int64   // Tensor shape
	RawData   []byte    // Raw binary data (most common)
	FloatData []float32 // Float32 data (legacy)
	Int32Data []int32   // Int32 data (legacy)
	Int64Data []int64   // Int64 data (legacy)
	DocString string    // Tensor description
	Unknown   []byte    // string_data, double_data, external_data, ...
}

// ValueInfoProto describes input/output tensor specifications.
type ValueInfoProto struct {
	Name      string     // Tensor name
	Type      *TypeProto // Tensor type information
	DocString string     // Description
	Unknown   []byte
}

// TypeProto describes tensor type.
type TypeProto struct {
	TensorType *TensorTypeProto // Tensor type (most common)
	Denotation string
	Unknown    []byte // sequence, map, optional and sparse types
}

// TensorTypeProto describes tensor shape and element type.
type TensorTypeProto struct {
	ElemType int32             // Element data type
	Shape    *TensorShapeProto // Tensor shape
	Unknown  []byte
}

// TensorShapeProto describes tensor dimensions.
type TensorShapeProto struct {
	Dims    []DimensionProto // Dimensions
	Unknown []byte
}

// DimensionProto describes a single dimension.
//
// DimValue and DimParam form a oneof; a dimension with neither set is
// unknown. HasValue distinguishes an explicit zero from an unset value.
type DimensionProto struct {
	DimValue int64  // Static dimension value (e.g., 224 for image size)
	DimParam string // Dynamic dimension name (e.g., "batch_size")
	HasValue bool   // DimValue was present on the wire
	Unknown  []byte // denotation
}

// AttributeProto represents node attributes.
type AttributeProto struct {
	Name      string    // Attribute name
	Type      int32     // Attribute type
	F         float32   // FLOAT value
	I         int64     // INT value
	S         []byte    // STRING value
	Floats    []float32 // FLOATS array
	Ints      []int64   // INTS array
	Strings   [][]byte  // STRINGS array
	DocString string    // Description
	Unknown   []byte    // t, g, tensors, graphs, ref_attr_name, sparse and type protos
}

// OperatorSetID identifies opset version.
type OperatorSetID struct {
	Domain  string // Operator domain (empty for default)
	Version int64  // Opset version number
	Unknown []byte
}

// StringStringEntry represents key-value metadata.
type StringStringEntry struct {
	Key     string
	Value   string
	Unknown []byte
}

// ONNX data types (TensorProto.DataType).
const (
	TensorProtoUndefined  = 0
	TensorProtoFloat      = 1  // float32
	TensorProtoUint8      = 2  // uint8
	TensorProtoInt8       = 3  // int8
	TensorProtoUint16     = 4  // uint16
	TensorProtoInt16      = 5  // int16
	TensorProtoInt32      = 6  // int32
	TensorProtoInt64      = 7  // int64
	TensorProtoString     = 8  // string
	TensorProtoBool       = 9  // bool
	TensorProtoFloat16    = 10 // float16
	TensorProtoDouble     = 11 // float64
	TensorProtoUint32     = 12 // uint32
	TensorProtoUint64     = 13 // uint64
	TensorProtoComplex64  = 14 // complex64
	TensorProtoComplex128 = 15 // complex128
	TensorProtoBfloat16   = 16 // bfloat16
)

// ONNX attribute types (AttributeProto.Type).
const (
	AttributeProtoUndefined = 0
	AttributeProtoFloat     = 1  // FLOAT
	AttributeProtoInt       = 2  // INT
	AttributeProtoString    = 3  // STRING
	AttributeProtoTensor    = 4  // TENSOR
	AttributeProtoGraph     = 5  // GRAPH
	AttributeProtoFloats    = 6  // FLOATS
	AttributeProtoInts      = 7  // INTS
	AttributeProtoStrings   = 8  // STRINGS
	AttributeProtoTensors   = 9  // TENSORS
	AttributeProtoGraphs    = 10 // GRAPHS
)

// DataTypeName returns the ONNX spelling of a tensor element type.
func DataTypeName(t int32) string {
	switch t {
	case TensorProtoFloat:
		return "float32"
	case TensorProtoUint8:
		return "uint8"
	case TensorProtoInt8:
		return "int8"
	case TensorProtoUint16:
		return "uint16"
	case TensorProtoInt16:
		return "int16"
	case TensorProtoInt32:
		return "int32"
	case TensorProtoInt64:
		return "int64"
	case TensorProtoString:
		return "string"
	case TensorProtoBool:
		return "bool"
	case TensorProtoFloat16:
		return "float16"
	case TensorProtoDouble:
		return "float64"
	case TensorProtoUint32:
		return "uint32"
	case TensorProtoUint64:
		return "uint64"
	case TensorProtoComplex64:
		return "complex64"
	case TensorProtoComplex128:
		return "complex128"
	case TensorProtoBfloat16:
		return "bfloat16"
	default:
		return "undefined"
	}
}
