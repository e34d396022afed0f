// Package selector resolves a selection request into the ordered set of
// graph nodes that should be replaced by plugins.
package selector

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/born-ml/tpat/internal/onnx"
)

// Selection errors.
var (
	ErrInvalidSelection = errors.New("at least one of node names, node types or plugin name map is required")
	ErrNoMatchingNodes  = errors.New("no node in the model matches the selection")
)

// NoMatchError names the criteria that were searched without result.
type NoMatchError struct {
	Names   []string
	Types   []string
	Plugins []string // keys of the plugin name map
}

// Error implements the error interface.
func (e *NoMatchError) Error() string {
	var parts []string
	if len(e.Names) > 0 {
		parts = append(parts, fmt.Sprintf("names %q", e.Names))
	}
	if len(e.Types) > 0 {
		parts = append(parts, fmt.Sprintf("types %q", e.Types))
	}
	if len(e.Plugins) > 0 {
		parts = append(parts, fmt.Sprintf("plugin map keys %q", e.Plugins))
	}
	return fmt.Sprintf("%v: searched %s", ErrNoMatchingNodes, strings.Join(parts, ", "))
}

// Unwrap returns ErrNoMatchingNodes.
func (e *NoMatchError) Unwrap() error {
	return ErrNoMatchingNodes
}

// Criterion is one selection mechanism. Resolve returns the matching node
// IDs in graph order.
type Criterion interface {
	Resolve(g *onnx.Graph) []onnx.NodeID
	Empty() bool
}

// ByName selects every node whose name equals one of the names.
type ByName []string

// ByType selects every node whose operator type equals one of the types.
type ByType []string

// ByPluginMap selects every node whose name is a key of the map; the values
// are the plugin names requested for those nodes.
type ByPluginMap map[string]string

// Request combines the three selection mechanisms. Matches are ordered
// names first, then types, then plugin map keys.
type Request struct {
	Names   ByName
	Types   ByType
	Plugins ByPluginMap
}

func (r Request) criteria() []Criterion {
	return []Criterion{r.Names, r.Types, r.Plugins}
}

// Empty reports whether no names are given.
func (c ByName) Empty() bool { return len(c) == 0 }

// Resolve implements Criterion.
func (c ByName) Resolve(g *onnx.Graph) []onnx.NodeID {
	return matchEach(g, c, func(n *onnx.NodeProto, name string) bool { return n.Name == name })
}

// Empty reports whether no types are given.
func (c ByType) Empty() bool { return len(c) == 0 }

// Resolve implements Criterion.
func (c ByType) Resolve(g *onnx.Graph) []onnx.NodeID {
	return matchEach(g, c, func(n *onnx.NodeProto, opType string) bool { return n.OpType == opType })
}

// Empty reports whether the map has no entries.
func (c ByPluginMap) Empty() bool { return len(c) == 0 }

// Resolve implements Criterion. Map iteration order is random, so matches
// follow graph order instead of key order.
func (c ByPluginMap) Resolve(g *onnx.Graph) []onnx.NodeID {
	var ids []onnx.NodeID
	nodes := g.Nodes()
	for i := range nodes {
		if _, ok := c[nodes[i].Name]; ok {
			ids = append(ids, onnx.NodeID(i))
		}
	}
	return ids
}

// Keys returns the node names of the map in sorted order.
func (c ByPluginMap) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// matchEach scans the graph once per key so that, within a criterion,
// matches are grouped by key and each group follows graph order.
func matchEach(g *onnx.Graph, keys []string, match func(*onnx.NodeProto, string) bool) []onnx.NodeID {
	var ids []onnx.NodeID
	nodes := g.Nodes()
	for _, key := range keys {
		for i := range nodes {
			if match(&nodes[i], key) {
				ids = append(ids, onnx.NodeID(i))
			}
		}
	}
	return ids
}

// Target is a node selected for replacement.
type Target struct {
	ID   onnx.NodeID
	Node *onnx.NodeProto
}

// TargetSet is an ordered, duplicate-free sequence of targets.
type TargetSet []Target

// Contains reports whether the node with the given ID is a target.
func (s TargetSet) Contains(id onnx.NodeID) bool {
	for _, t := range s {
		if t.ID == id {
			return true
		}
	}
	return false
}

// Select resolves req against g.
func Select(g *onnx.Graph, req Request) (TargetSet, error) {
	criteria := req.criteria()

	anyGiven := false
	for _, c := range criteria {
		anyGiven = anyGiven || !c.Empty()
	}
	if !anyGiven {
		return nil, ErrInvalidSelection
	}

	seen := make(map[onnx.NodeID]bool)
	var targets TargetSet
	for _, c := range criteria {
		if c.Empty() {
			continue
		}
		for _, id := range c.Resolve(g) {
			if seen[id] {
				continue
			}
			seen[id] = true
			targets = append(targets, Target{ID: id, Node: g.Node(id)})
		}
	}

	if len(targets) == 0 {
		return nil, &NoMatchError{Names: req.Names, Types: req.Types, Plugins: req.Plugins.Keys()}
	}
	return targets, nil
}
