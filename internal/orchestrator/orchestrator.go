// Package orchestrator assigns a plugin to every selected node, reusing a
// kernel built earlier in the pass when an equivalent node was already
// handled and building a new one otherwise.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/born-ml/tpat/internal/adapter"
	"github.com/born-ml/tpat/internal/kernel"
	"github.com/born-ml/tpat/internal/metrics"
	"github.com/born-ml/tpat/internal/onnx"
	"github.com/born-ml/tpat/internal/onnx/operators"
	"github.com/born-ml/tpat/internal/parallel"
	"github.com/born-ml/tpat/internal/reuse"
	"github.com/born-ml/tpat/internal/selector"
)

// Orchestration errors.
var (
	// ErrNameCollision reports a plugin name that would shadow a native
	// operator or that is shared by nodes needing different kernels.
	ErrNameCollision = errors.New("plugin name collision")

	// ErrKernelBuild reports a failed kernel build or adapter generation.
	ErrKernelBuild = errors.New("kernel build failed")
)

// BuildError names the node whose kernel could not be produced.
type BuildError struct {
	ID     onnx.NodeID
	Node   string
	OpType string
	Plugin string
	Err    error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build plugin %s for node %q (%s, #%d): %v", e.Plugin, e.Node, e.OpType, e.ID, e.Err)
}

// Unwrap exposes both ErrKernelBuild and the builder's error.
func (e *BuildError) Unwrap() []error {
	return []error{ErrKernelBuild, e.Err}
}

// NameFunc derives the plugin name of a node that has no explicit name.
type NameFunc func(id onnx.NodeID, node *onnx.NodeProto) string

// Observer is notified of every decision as it is made.
type Observer func(Assignment)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. The default discards output.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithObserver registers a callback for built and reused decisions.
func WithObserver(fn Observer) Option {
	return func(o *Orchestrator) { o.observer = fn }
}

// WithNativeOps sets the operators a plugin name must not shadow.
func WithNativeOps(r *operators.Registry) Option {
	return func(o *Orchestrator) { o.native = r }
}

// WithGenerator sets the adapter generator run after every fresh build.
func WithGenerator(g adapter.Generator) Option {
	return func(o *Orchestrator) { o.generator = g }
}

// WithMetrics records decisions and build durations in m.
func WithMetrics(m *metrics.Registry) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithNameFunc replaces DefaultName.
func WithNameFunc(fn NameFunc) Option {
	return func(o *Orchestrator) { o.nameFunc = fn }
}

// WithRunID tags logs and adapter output with a run identifier.
func WithRunID(id string) Option {
	return func(o *Orchestrator) { o.runID = id }
}

// WithParallel controls how target fingerprints are computed.
func WithParallel(cfg parallel.Config) Option {
	return func(o *Orchestrator) { o.parallel = cfg }
}

// WithModelPath records the source model path handed to the generator.
func WithModelPath(path string) Option {
	return func(o *Orchestrator) { o.modelPath = path }
}

// Orchestrator drives reuse checks and kernel builds for one target set
// at a time. It holds no state between calls to Build.
type Orchestrator struct {
	builder   kernel.Builder
	generator adapter.Generator
	native    *operators.Registry
	metrics   *metrics.Registry
	observer  Observer
	nameFunc  NameFunc
	logger    *slog.Logger
	runID     string
	modelPath string
	parallel  parallel.Config
}

// New creates an orchestrator around a kernel builder.
func New(builder kernel.Builder, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		builder:  builder,
		native:   operators.NewRegistry(),
		nameFunc: DefaultName,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		parallel: parallel.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.runID != "" {
		o.logger = o.logger.With(slog.String("run_id", o.runID))
	}
	return o
}

// DefaultName returns "tpat_" followed by the node name with every
// character outside [A-Za-z0-9_] replaced by '_'. Unnamed nodes use their
// position instead.
func DefaultName(id onnx.NodeID, node *onnx.NodeProto) string {
	if node.Name == "" {
		return "tpat_node" + strconv.Itoa(int(id))
	}
	var b strings.Builder
	b.WriteString("tpat_")
	for _, r := range node.Name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Build assigns a plugin to every target, in order. explicit maps node
// names to plugin names and takes precedence over the name function.
//
// All names are checked before the first build; a failing build aborts
// the pass and nothing is returned for the remaining targets.
func (o *Orchestrator) Build(ctx context.Context, g *onnx.Graph, targets selector.TargetSet, explicit map[string]string) (Mapping, error) {
	names, prints, err := o.planNames(g, targets, explicit)
	if err != nil {
		return nil, err
	}

	reg := reuse.NewRegistry()
	mapping := make(Mapping, 0, len(targets))
	for i, target := range targets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		a := Assignment{ID: target.ID, Node: target.Node.Name, OpType: target.Node.OpType}
		if plugin, ok := reg.Lookup(prints[i]); ok {
			a.Plugin, a.Decision = plugin, Reused
			o.logger.Info("found existing plugin which could be reused",
				slog.String("plugin", plugin), slog.String("node", a.Node))
			if o.metrics != nil {
				o.metrics.RecordReuse(a.OpType)
			}
		} else {
			a.Plugin, a.Decision = names[i], Built
			if err := o.build(ctx, g, target, a.Plugin); err != nil {
				return nil, err
			}
			reg = reg.Bind(prints[i], a.Plugin)
		}

		mapping = append(mapping, a)
		if o.observer != nil {
			o.observer(a)
		}
	}
	return mapping, nil
}

// build runs the kernel build and adapter generation for one target.
func (o *Orchestrator) build(ctx context.Context, g *onnx.Graph, target selector.Target, plugin string) error {
	node := target.Node
	o.logger.Info("couldn't find reusable plugin, start auto-tuning",
		slog.String("node", node.Name), slog.String("op_type", node.OpType), slog.String("plugin", plugin))

	fail := func(err error) error {
		o.logger.Error("kernel build failed", slog.String("node", node.Name), slog.Any("error", err))
		return &BuildError{ID: target.ID, Node: node.Name, OpType: node.OpType, Plugin: plugin, Err: err}
	}

	start := time.Now()
	art, err := o.builder.Build(ctx, g, node, plugin)
	if err == nil && art == nil {
		err = errors.New("builder returned no artifact")
	}
	if o.metrics != nil {
		o.metrics.RecordBuild(node.OpType, time.Since(start), err)
	}
	if err != nil {
		return fail(err)
	}
	o.logger.Debug("kernel built", slog.String("plugin", plugin), slog.Duration("elapsed", time.Since(start)))

	if o.generator == nil {
		return nil
	}
	err = o.generator.Generate(ctx, adapter.Context{
		Artifact:  art,
		ModelPath: o.modelPath,
		NodeName:  node.Name,
		RunID:     o.runID,
	})
	if err != nil {
		return fail(fmt.Errorf("generate adapter: %w", err))
	}
	return nil
}

// planNames resolves the desired plugin name and fingerprint of every
// target. Explicit names are claimed first and rejected when they shadow a
// native operator or are shared by nodes which cannot share a kernel.
// Generated names that clash with a non-equivalent owner get the node ID
// appended until they are free.
func (o *Orchestrator) planNames(g *onnx.Graph, targets selector.TargetSet, explicit map[string]string) ([]string, []reuse.Fingerprint, error) {
	names := make([]string, len(targets))
	prints := make([]reuse.Fingerprint, len(targets))
	owner := make(map[string]int, len(targets))

	parallel.For(len(targets), func(i int) {
		prints[i] = reuse.Compute(g, targets[i].Node)
	}, o.parallel)

	for i, target := range targets {
		name, ok := explicit[target.Node.Name]
		if !ok {
			continue
		}
		if err := o.checkName(name, target.Node); err != nil {
			return nil, nil, err
		}
		if j, seen := owner[name]; seen && !prints[i].Equal(prints[j]) {
			return nil, nil, fmt.Errorf("%w: plugin name %q assigned to non-equivalent nodes %q and %q",
				ErrNameCollision, name, targets[j].Node.Name, target.Node.Name)
		} else if !seen {
			owner[name] = i
		}
		names[i] = name
	}

	for i, target := range targets {
		if _, ok := explicit[target.Node.Name]; ok {
			continue
		}
		base := o.nameFunc(target.ID, target.Node)
		if err := o.checkName(base, target.Node); err != nil {
			return nil, nil, err
		}
		name := base
		for n := 1; ; n++ {
			j, seen := owner[name]
			if !seen {
				owner[name] = i
				break
			}
			if prints[i].Equal(prints[j]) {
				break
			}
			name = base + "_" + strconv.Itoa(int(target.ID))
			if n > 1 {
				name += "_" + strconv.Itoa(n)
			}
		}
		names[i] = name
	}
	return names, prints, nil
}

// checkName rejects names no plugin may carry.
func (o *Orchestrator) checkName(name string, node *onnx.NodeProto) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty plugin name for node %q", ErrNameCollision, node.Name)
	case name == node.OpType:
		return fmt.Errorf("%w: plugin name %q equals the op type of node %q", ErrNameCollision, name, node.Name)
	case o.native != nil && o.native.IsNative(name):
		return fmt.Errorf("%w: plugin name %q is a native operator (node %q)", ErrNameCollision, name, node.Name)
	}
	return nil
}
