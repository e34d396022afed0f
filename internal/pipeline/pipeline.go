// Package pipeline runs a complete substitution pass: load a model, select
// nodes, obtain a plugin for each and write the rewritten model.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/born-ml/tpat/internal/adapter"
	"github.com/born-ml/tpat/internal/kernel"
	"github.com/born-ml/tpat/internal/metrics"
	"github.com/born-ml/tpat/internal/onnx"
	"github.com/born-ml/tpat/internal/onnx/operators"
	"github.com/born-ml/tpat/internal/orchestrator"
	"github.com/born-ml/tpat/internal/rewrite"
	"github.com/born-ml/tpat/internal/selector"
)

// ErrModelLoad reports an input model that could not be read or parsed.
var ErrModelLoad = errors.New("load model")

// Options configures a run. At least one of NodeNames, NodeTypes and
// PluginNames must be non-empty.
type Options struct {
	InputPath  string
	OutputPath string // not written when empty

	NodeNames   []string
	NodeTypes   []string
	PluginNames map[string]string // node name to plugin name; also selects

	// Builder compiles kernels. Defaults to the WGSL shader builder
	// configured with Batch.
	Builder kernel.Builder
	Batch   kernel.Options

	// Generator receives every freshly built kernel. When nil and
	// PluginDir is set, plugins are written to PluginDir.
	Generator adapter.Generator
	PluginDir string

	NativeOps *operators.Registry
	Metrics   *metrics.Registry
	Observer  orchestrator.Observer
	Logger    *slog.Logger

	// RunID identifies the run in logs and manifests. A random UUID is
	// used when empty.
	RunID string
}

// Result describes a successful run.
type Result struct {
	RunID      string
	Mapping    orchestrator.Mapping
	Plugins    []string // distinct plugin names referenced by the output
	OutputPath string
	Model      *onnx.ModelProto
}

// Run executes the pass. Nothing is written unless every step succeeds.
func Run(ctx context.Context, opts Options) (*Result, error) {
	req := selector.Request{
		Names:   opts.NodeNames,
		Types:   opts.NodeTypes,
		Plugins: opts.PluginNames,
	}
	if req.Names.Empty() && req.Types.Empty() && req.Plugins.Empty() {
		return nil, fmt.Errorf("%w: give node names, node types or a plugin map", selector.ErrInvalidSelection)
	}

	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With(slog.String("run_id", runID))

	builder, err := opts.builder()
	if err != nil {
		return nil, err
	}

	model, err := onnx.ParseFile(opts.InputPath)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrModelLoad, opts.InputPath, err)
	}
	g, err := onnx.NewGraph(model)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrModelLoad, opts.InputPath, err)
	}
	logger.Debug("model loaded", slog.String("path", opts.InputPath), slog.Int("nodes", g.Len()))

	targets, err := selector.Select(g, req)
	if err != nil {
		return nil, err
	}
	logger.Info("nodes selected", slog.Int("count", len(targets)))

	orchOpts := []orchestrator.Option{
		orchestrator.WithLogger(logger),
		orchestrator.WithRunID(runID),
		orchestrator.WithModelPath(opts.InputPath),
	}
	if opts.NativeOps != nil {
		orchOpts = append(orchOpts, orchestrator.WithNativeOps(opts.NativeOps))
	}
	if gen := opts.generator(); gen != nil {
		orchOpts = append(orchOpts, orchestrator.WithGenerator(gen))
	}
	if opts.Metrics != nil {
		orchOpts = append(orchOpts, orchestrator.WithMetrics(opts.Metrics))
	}
	if opts.Observer != nil {
		orchOpts = append(orchOpts, orchestrator.WithObserver(opts.Observer))
	}

	mapping, err := orchestrator.New(builder, orchOpts...).Build(ctx, g, targets, opts.PluginNames)
	if err != nil {
		return nil, err
	}
	logger.Info("onnx name mapping to plugin", slog.String("mapping", mapping.String()))

	out, err := rewrite.Rewrite(g, targets, mapping)
	if err != nil {
		return nil, err
	}

	if opts.OutputPath != "" {
		if err := writeModel(opts.OutputPath, out); err != nil {
			return nil, err
		}
		logger.Info("model written", slog.String("path", opts.OutputPath))
	}

	return &Result{
		RunID:      runID,
		Mapping:    mapping,
		Plugins:    mapping.Plugins(),
		OutputPath: opts.OutputPath,
		Model:      out,
	}, nil
}

func (o *Options) builder() (kernel.Builder, error) {
	if o.Builder != nil {
		return o.Builder, nil
	}
	batch := o.Batch
	if batch == (kernel.Options{}) {
		batch = kernel.DefaultOptions()
	}
	return kernel.NewShaderBuilder(batch)
}

func (o *Options) generator() adapter.Generator {
	if o.Generator != nil {
		return o.Generator
	}
	if o.PluginDir != "" {
		return adapter.NewFileGenerator(o.PluginDir)
	}
	return nil
}

// writeModel replaces path atomically via a temporary file in the same
// directory.
func writeModel(path string, m *onnx.ModelProto) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := onnx.Write(tmp, m); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil { //nolint:gosec // G302: models are shared artifacts.
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
