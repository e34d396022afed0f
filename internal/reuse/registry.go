package reuse

import (
	"github.com/born-ml/tpat/internal/onnx"
)

// Registry maps fingerprints to the plugin generated for them during one
// pass. It is a value: Bind returns an extended copy and leaves the
// receiver untouched.
type Registry struct {
	plugins map[string]string // fingerprint key -> plugin name
}

// NewRegistry returns an empty registry.
func NewRegistry() Registry {
	return Registry{}
}

// Len returns the number of bound fingerprints.
func (r Registry) Len() int {
	return len(r.plugins)
}

// Lookup returns the plugin bound to a fingerprint equal to fp.
func (r Registry) Lookup(fp Fingerprint) (string, bool) {
	if !fp.complete {
		return "", false
	}
	name, ok := r.plugins[fp.key]
	return name, ok
}

// Bind returns a registry in which fp resolves to plugin. Incomplete
// fingerprints are never bound.
func (r Registry) Bind(fp Fingerprint, plugin string) Registry {
	if !fp.complete {
		return r
	}
	next := make(map[string]string, len(r.plugins)+1)
	for k, v := range r.plugins {
		next[k] = v
	}
	next[fp.key] = plugin
	return Registry{plugins: next}
}

// TryReuse returns the plugin of an already generated kernel that node can
// share, if any. It has no side effects.
func TryReuse(g *onnx.Graph, node *onnx.NodeProto, reg Registry) (string, bool) {
	return reg.Lookup(Compute(g, node))
}
