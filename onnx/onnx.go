// Package onnx exposes ONNX model inspection for tpat users.
//
// It answers the questions that come up before a substitution run: which
// operators a model contains, what it expects and produces, and which op
// types the target engine already implements natively (a plugin may not
// take one of those names).
//
// # Example Usage
//
//	info, err := onnx.GetModelInfo("model.onnx")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Printf("Producer: %s\n", info.ProducerName)
//	fmt.Printf("Opset: %d\n", info.OpsetVersion)
//	fmt.Printf("Operators: %v\n", info.Operators)
//
// Use [ListNativeOps] to get the complete list of native operators.
package onnx

import (
	"sort"

	internalonnx "github.com/born-ml/tpat/internal/onnx"
	"github.com/born-ml/tpat/internal/onnx/operators"
)

// ModelInfo summarizes a model without building any kernel.
type ModelInfo struct {
	ProducerName    string
	ProducerVersion string
	IRVersion       int64
	OpsetVersion    int64 // default domain
	GraphName       string
	InputNames      []string // graph inputs that are not initializers
	OutputNames     []string
	NodeCount       int
	Operators       map[string]int // op type to node count
}

// OperatorTypes returns the op types of the model, sorted.
func (m *ModelInfo) OperatorTypes() []string {
	ops := make([]string, 0, len(m.Operators))
	for op := range m.Operators {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

// GetModelInfo reads an ONNX file and summarizes it.
//
// Example:
//
//	info, err := onnx.GetModelInfo("model.onnx")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, op := range info.OperatorTypes() {
//	    fmt.Println(op, info.Operators[op])
//	}
func GetModelInfo(path string) (*ModelInfo, error) {
	model, err := internalonnx.ParseFile(path)
	if err != nil {
		return nil, err
	}
	g, err := internalonnx.NewGraph(model)
	if err != nil {
		return nil, err
	}

	gp := model.Graph
	info := &ModelInfo{
		ProducerName:    model.ProducerName,
		ProducerVersion: model.ProducerVersion,
		IRVersion:       model.IRVersion,
		OpsetVersion:    g.OpsetVersion(""),
		GraphName:       gp.Name,
		NodeCount:       g.Len(),
		Operators:       make(map[string]int),
	}
	for i := range gp.Inputs {
		if _, isInit := g.Initializer(gp.Inputs[i].Name); !isInit {
			info.InputNames = append(info.InputNames, gp.Inputs[i].Name)
		}
	}
	for i := range gp.Outputs {
		info.OutputNames = append(info.OutputNames, gp.Outputs[i].Name)
	}
	for i := range gp.Nodes {
		info.Operators[gp.Nodes[i].OpType]++
	}
	return info, nil
}

// ListNativeOps returns the operators the target engine implements
// natively, sorted.
func ListNativeOps() []string {
	return operators.NewRegistry().SupportedOps()
}

// IsNativeOp reports whether op is a native operator.
func IsNativeOp(op string) bool {
	return operators.NewRegistry().IsNative(op)
}
