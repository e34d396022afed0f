package operators

import (
	"github.com/born-ml/tpat/internal/onnx"
)

// Attr returns the named attribute of a node.
func Attr(node *onnx.NodeProto, name string) (*onnx.AttributeProto, bool) {
	for i := range node.Attributes {
		if node.Attributes[i].Name == name {
			return &node.Attributes[i], true
		}
	}
	return nil, false
}

// GetAttrInt returns an integer attribute or default value.
func GetAttrInt(node *onnx.NodeProto, name string, defaultVal int64) int64 {
	if attr, ok := Attr(node, name); ok {
		return attr.I
	}
	return defaultVal
}

// GetAttrInts returns an integer array attribute.
func GetAttrInts(node *onnx.NodeProto, name string) []int64 {
	if attr, ok := Attr(node, name); ok {
		return attr.Ints
	}
	return nil
}

// GetAttrFloat returns a float attribute or default value.
func GetAttrFloat(node *onnx.NodeProto, name string, defaultVal float32) float32 {
	if attr, ok := Attr(node, name); ok {
		return attr.F
	}
	return defaultVal
}

// GetAttrString returns a string attribute or default value.
func GetAttrString(node *onnx.NodeProto, name, defaultVal string) string {
	if attr, ok := Attr(node, name); ok {
		return string(attr.S)
	}
	return defaultVal
}
