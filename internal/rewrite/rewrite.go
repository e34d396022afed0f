// Package rewrite replaces selected nodes of a model with calls to their
// plugins.
package rewrite

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"

	"github.com/born-ml/tpat/internal/onnx"
	"github.com/born-ml/tpat/internal/orchestrator"
	"github.com/born-ml/tpat/internal/selector"
)

// ErrRewriteIntegrity reports a rewritten graph that references tensors
// nothing produces, or that lost a target's assignment.
var ErrRewriteIntegrity = errors.New("rewrite integrity violated")

// IntegrityError lists every violation found after a rewrite.
type IntegrityError struct {
	Violations error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%v: %v", ErrRewriteIntegrity, e.Violations)
}

// Unwrap exposes ErrRewriteIntegrity and each violation.
func (e *IntegrityError) Unwrap() []error {
	return append([]error{ErrRewriteIntegrity}, multierr.Errors(e.Violations)...)
}

// Errors returns the individual violations.
func (e *IntegrityError) Errors() []error {
	return multierr.Errors(e.Violations)
}

// Rewrite returns a copy of g's model in which every target node calls
// its assigned plugin. A rewritten node keeps its name, inputs, outputs
// and doc string; its op type becomes the plugin name, its domain the
// default domain, and its attributes and unmodelled fields are dropped.
// Everything else is carried over unchanged, including unmodelled fields
// of the model, the graph and untouched nodes.
//
// The input model is not modified.
func Rewrite(g *onnx.Graph, targets selector.TargetSet, mapping orchestrator.Mapping) (*onnx.ModelProto, error) {
	var errs error
	plugins := make(map[onnx.NodeID]string, len(targets))
	for _, target := range targets {
		plugin, ok := mapping.Lookup(target.ID)
		switch {
		case !ok:
			errs = multierr.Append(errs, fmt.Errorf("node %q (#%d) has no plugin assignment", target.Node.Name, target.ID))
		case plugin == "":
			errs = multierr.Append(errs, fmt.Errorf("node %q (#%d) is assigned an empty plugin name", target.Node.Name, target.ID))
		case int(target.ID) < 0 || int(target.ID) >= g.Len():
			errs = multierr.Append(errs, fmt.Errorf("node %q (#%d) is not in the graph", target.Node.Name, target.ID))
		default:
			plugins[target.ID] = plugin
		}
	}
	if errs != nil {
		return nil, &IntegrityError{Violations: errs}
	}

	out, err := g.Model().Clone()
	if err != nil {
		return nil, fmt.Errorf("copy model: %w", err)
	}
	for id, plugin := range plugins {
		node := &out.Graph.Nodes[id]
		node.OpType = plugin
		node.Domain = ""
		node.Attributes = nil
		node.Unknown = nil
	}

	before := problems(g.Model().Graph)
	for _, p := range problems(out.Graph) {
		if !contains(before, p) {
			errs = multierr.Append(errs, errors.New(p))
		}
	}
	if errs != nil {
		return nil, &IntegrityError{Violations: errs}
	}
	return out, nil
}

// problems lists tensor references without a producer, graph outputs
// without a producer, and tensors produced more than once.
func problems(gp *onnx.GraphProto) []string {
	available := make(map[string]bool)
	for i := range gp.Inputs {
		available[gp.Inputs[i].Name] = true
	}
	for i := range gp.Initializers {
		available[gp.Initializers[i].Name] = true
	}

	var out []string
	producers := make(map[string]string)
	for i := range gp.Nodes {
		node := &gp.Nodes[i]
		for _, name := range node.Outputs {
			if name == "" {
				continue
			}
			if prev, ok := producers[name]; ok {
				out = append(out, fmt.Sprintf("tensor %q is produced by both %s and %s", name, prev, describe(i, node)))
				continue
			}
			producers[name] = describe(i, node)
		}
	}

	for i := range gp.Nodes {
		node := &gp.Nodes[i]
		for _, name := range node.Inputs {
			if name == "" || available[name] {
				continue
			}
			if _, ok := producers[name]; !ok {
				out = append(out, fmt.Sprintf("tensor %q consumed by %s has no producer", name, describe(i, node)))
			}
		}
	}
	for i := range gp.Outputs {
		name := gp.Outputs[i].Name
		if _, ok := producers[name]; !ok && !available[name] {
			out = append(out, fmt.Sprintf("graph output %q has no producer", name))
		}
	}
	return out
}

// describe names a node by position and name, both of which a rewrite
// preserves.
func describe(i int, node *onnx.NodeProto) string {
	var b strings.Builder
	fmt.Fprintf(&b, "node #%d", i)
	if node.Name != "" {
		fmt.Fprintf(&b, " %q", node.Name)
	}
	return b.String()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
