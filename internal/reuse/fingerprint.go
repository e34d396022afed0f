// Package reuse decides whether a node can share a kernel already generated
// for a structurally equivalent node.
package reuse

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/born-ml/tpat/internal/onnx"
)

// Fingerprint is the structural signature of a node: operator domain and
// type, every attribute, the type of each input, the value of each
// initializer input and the number of outputs.
//
// Two nodes with equal complete fingerprints compute the same function and
// can run on the same kernel. An incomplete fingerprint (some input type
// could not be resolved) is equal to nothing, itself included.
type Fingerprint struct {
	key      string
	complete bool
	inputs   []string
}

// Compute derives the fingerprint of node from the tensor types declared in g.
func Compute(g *onnx.Graph, node *onnx.NodeProto) Fingerprint {
	var b strings.Builder
	writeField(&b, node.Domain)
	writeField(&b, node.OpType)

	attrs := make([]onnx.AttributeProto, len(node.Attributes))
	copy(attrs, node.Attributes)
	sort.SliceStable(attrs, func(i, j int) bool { return attrs[i].Name < attrs[j].Name })
	b.WriteString(strconv.Itoa(len(attrs)))
	b.WriteByte('a')
	for i := range attrs {
		attrs[i].DocString = ""
		writeField(&b, string(onnx.MarshalAttribute(&attrs[i])))
	}

	fp := Fingerprint{complete: true, inputs: make([]string, len(node.Inputs))}
	b.WriteString(strconv.Itoa(len(node.Inputs)))
	b.WriteByte('i')
	for i, name := range node.Inputs {
		if name == "" {
			fp.inputs[i] = "none"
			writeField(&b, fp.inputs[i])
			continue
		}
		sig, ok := g.Signature(name)
		if !ok || !sig.Complete() {
			fp.complete = false
			fp.inputs[i] = "unknown"
			if ok {
				fp.inputs[i] = sig.String()
			}
			continue
		}
		fp.inputs[i] = sig.String()
		writeField(&b, fp.inputs[i])
		// Kernels bake initializer values in, so they are part of the key.
		if init, ok := g.Initializer(name); ok {
			b.WriteByte('v')
			writeField(&b, string(onnx.MarshalTensorValue(init)))
		}
	}
	b.WriteString(strconv.Itoa(len(node.Outputs)))
	b.WriteByte('o')

	fp.key = b.String()
	return fp
}

// writeField appends a length-prefixed field so that no two field
// sequences share an encoding.
func writeField(b *strings.Builder, s string) {
	b.WriteString(strconv.Itoa(len(s)))
	b.WriteByte(':')
	b.WriteString(s)
}

// Complete reports whether every input type was resolved.
func (f Fingerprint) Complete() bool {
	return f.complete
}

// Equal reports whether two complete fingerprints describe the same kernel.
func (f Fingerprint) Equal(other Fingerprint) bool {
	return f.complete && other.complete && f.key == other.key
}

// Inputs returns the rendered input signatures, "none" for omitted
// optional inputs and "unknown" for unresolved ones.
func (f Fingerprint) Inputs() []string {
	return f.inputs
}

// String returns a short digest for logs, or "incomplete".
func (f Fingerprint) String() string {
	if !f.complete {
		return "incomplete"
	}
	sum := sha256.Sum256([]byte(f.key))
	return hex.EncodeToString(sum[:6])
}
