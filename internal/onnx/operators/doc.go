// Package operators describes the operator set the target inference engine
// implements natively, and reads ONNX node attributes.
//
// A generated plugin must never be registered under a native operator type:
// the engine would bind the node to its built-in kernel instead of the plugin.
package operators
