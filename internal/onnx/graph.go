package onnx

import (
	"errors"
	"strconv"
	"strings"
)

// NodeID identifies a node by its position in GraphProto.Nodes.
//
// Node names are optional in ONNX and exporters occasionally repeat them,
// so the position is the only identity that is unique within a graph.
type NodeID int

// Graph is a read-only view of a model used for node lookup and tensor
// type resolution. The underlying model must not be mutated while a Graph
// refers to it.
type Graph struct {
	model       *ModelProto
	values      map[string]*ValueInfoProto
	inits       map[string]*TensorProto
	graphInputs map[string]bool
}

// ErrNoGraph is returned for a model that carries no graph.
var ErrNoGraph = errors.New("model has no graph")

// NewGraph indexes a parsed model.
func NewGraph(m *ModelProto) (*Graph, error) {
	if m == nil || m.Graph == nil {
		return nil, ErrNoGraph
	}
	gp := m.Graph
	g := &Graph{
		model:       m,
		values:      make(map[string]*ValueInfoProto),
		inits:       make(map[string]*TensorProto, len(gp.Initializers)),
		graphInputs: make(map[string]bool, len(gp.Inputs)),
	}

	// Later sources win: value_info refines outputs, inputs are authoritative.
	for _, infos := range [][]ValueInfoProto{gp.Outputs, gp.ValueInfo, gp.Inputs} {
		for i := range infos {
			if infos[i].Type != nil && infos[i].Type.TensorType != nil {
				g.values[infos[i].Name] = &infos[i]
			}
		}
	}
	for i := range gp.Inputs {
		g.graphInputs[gp.Inputs[i].Name] = true
	}
	for i := range gp.Initializers {
		g.inits[gp.Initializers[i].Name] = &gp.Initializers[i]
	}
	return g, nil
}

// Model returns the underlying model.
func (g *Graph) Model() *ModelProto {
	return g.model
}

// Nodes returns the graph's nodes in file order.
func (g *Graph) Nodes() []NodeProto {
	return g.model.Graph.Nodes
}

// Node returns the node at id.
func (g *Graph) Node(id NodeID) *NodeProto {
	return &g.model.Graph.Nodes[id]
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.model.Graph.Nodes)
}

// OpsetVersion returns the imported opset version of a domain, or 0.
// The default domain may be spelled "" or "ai.onnx".
func (g *Graph) OpsetVersion(domain string) int64 {
	for _, opset := range g.model.OpsetImport {
		if opset.Domain == domain || (isDefaultDomain(domain) && isDefaultDomain(opset.Domain)) {
			return opset.Version
		}
	}
	return 0
}

func isDefaultDomain(d string) bool {
	return d == "" || d == "ai.onnx"
}

// Initializer returns the initializer with the given name.
func (g *Graph) Initializer(name string) (*TensorProto, bool) {
	t, ok := g.inits[name]
	return t, ok
}

// Signature resolves the element type and shape of a tensor from graph
// inputs, value_info, graph outputs and initializers.
func (g *Graph) Signature(name string) (TensorSignature, bool) {
	init, isInit := g.inits[name]
	sig := TensorSignature{Constant: isInit && !g.graphInputs[name]}

	if vi, ok := g.values[name]; ok {
		tt := vi.Type.TensorType
		sig.ElemType = tt.ElemType
		if tt.Shape != nil {
			sig.RankKnown = true
			sig.Dims = tt.Shape.Dims
		}
		return sig, true
	}
	if isInit {
		sig.ElemType = init.DataType
		sig.RankKnown = true
		sig.Dims = make([]DimensionProto, len(init.Dims))
		for i, d := range init.Dims {
			sig.Dims[i] = DimensionProto{DimValue: d, HasValue: true}
		}
		return sig, true
	}
	return TensorSignature{}, false
}

// TensorSignature is the static type of a tensor as declared in the model.
type TensorSignature struct {
	ElemType  int32
	Dims      []DimensionProto
	RankKnown bool
	Constant  bool // backed by an initializer that is not a graph input
}

// Complete reports whether the element type and every dimension are known,
// either as a value or as a named symbolic dimension.
func (s TensorSignature) Complete() bool {
	if s.ElemType == TensorProtoUndefined || !s.RankKnown {
		return false
	}
	for _, d := range s.Dims {
		if !d.HasValue && d.DimParam == "" {
			return false
		}
	}
	return true
}

// Static reports whether every dimension has a concrete value.
func (s TensorSignature) Static() bool {
	if !s.Complete() {
		return false
	}
	for _, d := range s.Dims {
		if !d.HasValue {
			return false
		}
	}
	return true
}

// Shape returns the concrete dimensions; it is only meaningful when Static.
func (s TensorSignature) Shape() []int64 {
	shape := make([]int64, len(s.Dims))
	for i, d := range s.Dims {
		shape[i] = d.DimValue
	}
	return shape
}

// String renders the signature as e.g. `float32["batch",3,224,224]`,
// "const int64[2]" or "float32[*]" for an unknown rank.
func (s TensorSignature) String() string {
	var b strings.Builder
	if s.Constant {
		b.WriteString("const ")
	}
	b.WriteString(DataTypeName(s.ElemType))
	if !s.RankKnown {
		b.WriteString("[*]")
		return b.String()
	}
	b.WriteByte('[')
	for i, d := range s.Dims {
		if i > 0 {
			b.WriteByte(',')
		}
		switch {
		case d.HasValue:
			b.WriteString(strconv.FormatInt(d.DimValue, 10))
		case d.DimParam != "":
			b.WriteString(strconv.Quote(d.DimParam))
		default:
			b.WriteByte('?')
		}
	}
	b.WriteByte(']')
	return b.String()
}
