// Package tpat replaces selected operators of an ONNX model with
// auto-generated kernel plugins.
//
// A run selects nodes by name, by op type or through a node-to-plugin map,
// builds one kernel per group of equivalent nodes, and writes a copy of the
// model in which every selected node calls its plugin.
//
// # Example Usage
//
//	plugins, err := tpat.Onnx2Plugin(ctx, "model.onnx", "model_tpat.onnx",
//	    nil, []string{"ReduceMax"}, map[string]string{"n1": "TPAT_ReduceMax"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("plugins:", plugins)
//
// For full control over the kernel builder, logging and metrics use [Run]
// with [Options].
package tpat

import (
	"context"

	"github.com/born-ml/tpat/internal/adapter"
	"github.com/born-ml/tpat/internal/kernel"
	"github.com/born-ml/tpat/internal/orchestrator"
	"github.com/born-ml/tpat/internal/pipeline"
	"github.com/born-ml/tpat/internal/rewrite"
	"github.com/born-ml/tpat/internal/selector"
)

// Options configures a run.
type Options = pipeline.Options

// Result describes a successful run.
type Result = pipeline.Result

// Mapping lists the plugin assigned to each selected node.
type Mapping = orchestrator.Mapping

// Assignment is the plugin chosen for one node.
type Assignment = orchestrator.Assignment

// Decision records whether a plugin was built or reused.
type Decision = orchestrator.Decision

// Decisions.
const (
	Built  = orchestrator.Built
	Reused = orchestrator.Reused
)

// Builder compiles one node into a kernel. Implement it to plug in a
// custom compiler or autotuner.
type Builder = kernel.Builder

// BuilderFunc adapts a function to [Builder].
type BuilderFunc = kernel.BuilderFunc

// Artifact is a compiled kernel.
type Artifact = kernel.Artifact

// BatchOptions configures dynamic batch support of generated kernels.
type BatchOptions = kernel.Options

// Generator produces the engine-side plugin of a built kernel.
type Generator = adapter.Generator

// BuildError names the node whose kernel could not be built.
type BuildError = orchestrator.BuildError

// NoMatchError lists the criteria that matched no node.
type NoMatchError = selector.NoMatchError

// IntegrityError lists the violations found after a rewrite.
type IntegrityError = rewrite.IntegrityError

// Errors reported by a run. Match them with errors.Is.
var (
	ErrInvalidSelection = selector.ErrInvalidSelection
	ErrNoMatchingNodes  = selector.ErrNoMatchingNodes
	ErrNameCollision    = orchestrator.ErrNameCollision
	ErrKernelBuild      = orchestrator.ErrKernelBuild
	ErrRewriteIntegrity = rewrite.ErrRewriteIntegrity
	ErrModelLoad        = pipeline.ErrModelLoad
	ErrUnsupported      = kernel.ErrUnsupported
)

// DefaultBatchOptions returns the static-shape batch configuration.
func DefaultBatchOptions() BatchOptions {
	return kernel.DefaultOptions()
}

// NewShaderBuilder returns the built-in WGSL kernel builder.
func NewShaderBuilder(batch BatchOptions) (Builder, error) {
	return kernel.NewShaderBuilder(batch)
}

// NewFileGenerator returns a generator writing each plugin to a
// subdirectory of dir.
func NewFileGenerator(dir string) Generator {
	return adapter.NewFileGenerator(dir)
}

// Run executes a full substitution pass.
func Run(ctx context.Context, opts Options) (*Result, error) {
	return pipeline.Run(ctx, opts)
}

// Onnx2Plugin rewrites the model at input into output and returns the
// names of the plugins the output refers to. nodeNames, nodeTypes and
// pluginNames select nodes; pluginNames also fixes the plugin name of the
// nodes it lists. At least one of them must be non-empty.
func Onnx2Plugin(ctx context.Context, input, output string, nodeNames, nodeTypes []string, pluginNames map[string]string) ([]string, error) {
	res, err := pipeline.Run(ctx, pipeline.Options{
		InputPath:   input,
		OutputPath:  output,
		NodeNames:   nodeNames,
		NodeTypes:   nodeTypes,
		PluginNames: pluginNames,
	})
	if err != nil {
		return nil, err
	}
	return res.Plugins, nil
}
