package orchestrator

import (
	"fmt"
	"strings"

	"github.com/born-ml/tpat/internal/onnx"
)

// Decision records how a node obtained its plugin.
type Decision int

// Decisions.
const (
	Built Decision = iota
	Reused
)

func (d Decision) String() string {
	switch d {
	case Built:
		return "built"
	case Reused:
		return "reused"
	default:
		return fmt.Sprintf("Decision(%d)", int(d))
	}
}

// Assignment is the plugin chosen for one node.
type Assignment struct {
	ID       onnx.NodeID
	Node     string
	OpType   string
	Plugin   string
	Decision Decision
}

// Mapping holds one assignment per target, in target order.
type Mapping []Assignment

// Lookup returns the plugin assigned to a node.
func (m Mapping) Lookup(id onnx.NodeID) (string, bool) {
	for _, a := range m {
		if a.ID == id {
			return a.Plugin, true
		}
	}
	return "", false
}

// Plugins returns the distinct plugin names in first-use order.
func (m Mapping) Plugins() []string {
	seen := make(map[string]bool, len(m))
	var out []string
	for _, a := range m {
		if !seen[a.Plugin] {
			seen[a.Plugin] = true
			out = append(out, a.Plugin)
		}
	}
	return out
}

// Built returns the plugins that were built in the pass, in build order.
func (m Mapping) Built() []string {
	var out []string
	for _, a := range m {
		if a.Decision == Built {
			out = append(out, a.Plugin)
		}
	}
	return out
}

// ByName returns node name to plugin name. Nodes sharing a name resolve to
// the last assignment.
func (m Mapping) ByName() map[string]string {
	out := make(map[string]string, len(m))
	for _, a := range m {
		out[a.Node] = a.Plugin
	}
	return out
}

// String renders the mapping as {node: plugin, ...} in target order.
func (m Mapping) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, a := range m {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%q: %q", a.Node, a.Plugin)
	}
	b.WriteByte('}')
	return b.String()
}
