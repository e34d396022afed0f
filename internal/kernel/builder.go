// Package kernel defines the kernel build step the orchestrator drives for
// every node that cannot reuse an existing plugin, and ships a builder that
// emits WGSL compute shaders.
package kernel

import (
	"context"
	"errors"
	"fmt"

	"github.com/born-ml/tpat/internal/onnx"
)

// ErrUnsupported is returned by builders for nodes they cannot compile.
var ErrUnsupported = errors.New("unsupported node")

// Builder compiles the semantics of one node into a kernel registered
// under plugin. Build may be slow; it is called at most once per node.
type Builder interface {
	Build(ctx context.Context, g *onnx.Graph, node *onnx.NodeProto, plugin string) (*Artifact, error)
}

// BuilderFunc adapts a function to the Builder interface.
type BuilderFunc func(ctx context.Context, g *onnx.Graph, node *onnx.NodeProto, plugin string) (*Artifact, error)

// Build calls f.
func (f BuilderFunc) Build(ctx context.Context, g *onnx.Graph, node *onnx.NodeProto, plugin string) (*Artifact, error) {
	return f(ctx, g, node, plugin)
}

// Artifact is a compiled kernel.
type Artifact struct {
	Plugin     string   // name the kernel is registered under
	OpType     string   // operator the kernel implements
	Language   string   // source language, e.g. "wgsl"
	EntryPoint string   // kernel entry function
	Source     []byte   // kernel source
	Params     []string // runtime uniform parameters, in binding order
	Inputs     []string // input signatures the kernel was specialised for
	Outputs    []string // output signatures, "unknown" when not declared
	Batch      Options  // batch configuration the kernel was built with
}

// Options carries the batch-size configuration of a build.
type Options struct {
	DynamicBatch bool  `yaml:"dynamic_batch"`
	MinBatch     int64 `yaml:"min_batch"`
	OptBatch     int64 `yaml:"opt_batch"`
	MaxBatch     int64 `yaml:"max_batch"`
}

// DefaultOptions returns a static-shape configuration.
func DefaultOptions() Options {
	return Options{
		DynamicBatch: false,
		MinBatch:     1,
		OptBatch:     256,
		MaxBatch:     256,
	}
}

// Validate checks 1 <= min <= opt <= max when the batch is dynamic.
func (o Options) Validate() error {
	if !o.DynamicBatch {
		return nil
	}
	if o.MinBatch < 1 || o.MinBatch > o.OptBatch || o.OptBatch > o.MaxBatch {
		return fmt.Errorf("invalid batch range: need 1 <= min (%d) <= opt (%d) <= max (%d)",
			o.MinBatch, o.OptBatch, o.MaxBatch)
	}
	return nil
}
