package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/tpat/internal/adapter"
	"github.com/born-ml/tpat/internal/kernel"
	"github.com/born-ml/tpat/internal/metrics"
	"github.com/born-ml/tpat/internal/onnx"
	"github.com/born-ml/tpat/internal/onnx/onnxtest"
	"github.com/born-ml/tpat/internal/parallel"
	"github.com/born-ml/tpat/internal/selector"
)

// fakeBuilder records every build and fails for nodes listed in failOn.
type fakeBuilder struct {
	calls  []string
	failOn map[string]error
}

func (f *fakeBuilder) Build(_ context.Context, _ *onnx.Graph, node *onnx.NodeProto, plugin string) (*kernel.Artifact, error) {
	f.calls = append(f.calls, node.Name+"->"+plugin)
	if err := f.failOn[node.Name]; err != nil {
		return nil, err
	}
	return &kernel.Artifact{Plugin: plugin, OpType: node.OpType, Language: "wgsl"}, nil
}

func setup(t *testing.T, req selector.Request) (*onnx.Graph, selector.TargetSet) {
	t.Helper()
	g, err := onnx.NewGraph(onnxtest.ReduceChain())
	require.NoError(t, err)
	targets, err := selector.Select(g, req)
	require.NoError(t, err)
	return g, targets
}

func TestBuildReusesEquivalentNodes(t *testing.T) {
	g, targets := setup(t, selector.Request{Types: selector.ByType{"ReduceMax"}})
	builder := &fakeBuilder{}

	var observed []Assignment
	o := New(builder, WithObserver(func(a Assignment) { observed = append(observed, a) }))

	mapping, err := o.Build(context.Background(), g, targets, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"r1->tpat_r1", "r3->tpat_r3"}, builder.calls, "r2 must not trigger a build")
	assert.Equal(t, Mapping{
		{ID: 1, Node: "r1", OpType: "ReduceMax", Plugin: "tpat_r1", Decision: Built},
		{ID: 3, Node: "r2", OpType: "ReduceMax", Plugin: "tpat_r1", Decision: Reused},
		{ID: 4, Node: "r3", OpType: "ReduceMax", Plugin: "tpat_r3", Decision: Built},
	}, mapping)
	assert.Equal(t, []Assignment(mapping), observed)
	assert.Equal(t, []string{"tpat_r1", "tpat_r3"}, mapping.Plugins())
	assert.Equal(t, []string{"tpat_r1", "tpat_r3"}, mapping.Built())
}

func TestBuildExplicitNames(t *testing.T) {
	g, targets := setup(t, selector.Request{
		Plugins: selector.ByPluginMap{"r1": "TPAT_ReduceMax", "act": "my_relu"},
	})
	builder := &fakeBuilder{}

	mapping, err := New(builder).Build(context.Background(), g, targets, map[string]string{
		"r1": "TPAT_ReduceMax", "act": "my_relu",
	})
	require.NoError(t, err)

	plugin, ok := mapping.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, "TPAT_ReduceMax", plugin)
	assert.Equal(t, map[string]string{"act": "my_relu", "r1": "TPAT_ReduceMax"}, mapping.ByName())
	assert.Equal(t, `{"act": "my_relu", "r1": "TPAT_ReduceMax"}`, mapping.String())

	_, ok = mapping.Lookup(0)
	assert.True(t, ok)
	_, ok = mapping.Lookup(2)
	assert.False(t, ok)
}

func TestBuildSharedExplicitNameForEquivalentNodes(t *testing.T) {
	g, targets := setup(t, selector.Request{Names: selector.ByName{"r1", "r2"}})
	builder := &fakeBuilder{}

	mapping, err := New(builder).Build(context.Background(), g, targets, map[string]string{
		"r1": "rmax", "r2": "rmax",
	})
	require.NoError(t, err)
	assert.Len(t, builder.calls, 1)
	assert.Equal(t, []string{"rmax"}, mapping.Plugins())
}

func TestBuildNameCollision(t *testing.T) {
	tests := []struct {
		name     string
		req      selector.Request
		explicit map[string]string
	}{
		{
			name:     "own op type",
			req:      selector.Request{Names: selector.ByName{"r1"}},
			explicit: map[string]string{"r1": "ReduceMax"},
		},
		{
			name:     "other native op",
			req:      selector.Request{Names: selector.ByName{"r1"}},
			explicit: map[string]string{"r1": "Softmax"},
		},
		{
			name:     "empty name",
			req:      selector.Request{Names: selector.ByName{"act"}},
			explicit: map[string]string{"act": ""},
		},
		{
			name:     "shared by non-equivalent nodes",
			req:      selector.Request{Names: selector.ByName{"r1", "r3"}},
			explicit: map[string]string{"r1": "rmax", "r3": "rmax"},
		},
		{
			name:     "collision on a later node",
			req:      selector.Request{Names: selector.ByName{"act", "r3"}},
			explicit: map[string]string{"r3": "ReduceMax"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, targets := setup(t, tt.req)
			builder := &fakeBuilder{}

			_, err := New(builder).Build(context.Background(), g, targets, tt.explicit)
			require.ErrorIs(t, err, ErrNameCollision)
			assert.Empty(t, builder.calls, "no build may start before names are checked")
		})
	}
}

func TestBuildRejectsEveryNativeOpName(t *testing.T) {
	for _, op := range []string{"Upsample", "QuantizeLinear", "Atan", "Trilu", "Hardmax"} {
		t.Run(op, func(t *testing.T) {
			g, targets := setup(t, selector.Request{Names: selector.ByName{"r1"}})
			builder := &fakeBuilder{}

			_, err := New(builder).Build(context.Background(), g, targets, map[string]string{"r1": op})
			require.ErrorIs(t, err, ErrNameCollision)
			assert.Empty(t, builder.calls)
		})
	}
}

func TestBuildFailureAborts(t *testing.T) {
	g, targets := setup(t, selector.Request{Names: selector.ByName{"act", "r1", "r3"}})
	cause := errors.New("autotune diverged")
	builder := &fakeBuilder{failOn: map[string]error{"r1": cause}}

	var observed []Assignment
	o := New(builder, WithObserver(func(a Assignment) { observed = append(observed, a) }))

	mapping, err := o.Build(context.Background(), g, targets, nil)
	require.Error(t, err)
	assert.Nil(t, mapping)
	assert.ErrorIs(t, err, ErrKernelBuild)
	assert.ErrorIs(t, err, cause)

	var buildErr *BuildError
	require.ErrorAs(t, err, &buildErr)
	assert.Equal(t, "r1", buildErr.Node)
	assert.Equal(t, onnx.NodeID(1), buildErr.ID)
	assert.Equal(t, "tpat_r1", buildErr.Plugin)
	assert.Contains(t, err.Error(), `"r1"`)

	assert.Equal(t, []string{"act->tpat_act", "r1->tpat_r1"}, builder.calls, "no retry and no further builds")
	assert.Len(t, observed, 1)
}

func TestBuildNilArtifact(t *testing.T) {
	g, targets := setup(t, selector.Request{Names: selector.ByName{"act"}})
	builder := kernel.BuilderFunc(func(context.Context, *onnx.Graph, *onnx.NodeProto, string) (*kernel.Artifact, error) {
		return nil, nil
	})

	_, err := New(builder).Build(context.Background(), g, targets, nil)
	require.ErrorIs(t, err, ErrKernelBuild)
}

func TestBuildRunsGeneratorForBuiltNodesOnly(t *testing.T) {
	g, targets := setup(t, selector.Request{Types: selector.ByType{"ReduceMax"}})

	var generated []adapter.Context
	gen := adapter.GeneratorFunc(func(_ context.Context, gc adapter.Context) error {
		generated = append(generated, gc)
		return nil
	})

	_, err := New(&fakeBuilder{}, WithGenerator(gen), WithRunID("run-7"), WithModelPath("in.onnx")).
		Build(context.Background(), g, targets, nil)
	require.NoError(t, err)

	require.Len(t, generated, 2)
	assert.Equal(t, "r1", generated[0].NodeName)
	assert.Equal(t, "tpat_r1", generated[0].Artifact.Plugin)
	assert.Equal(t, "in.onnx", generated[0].ModelPath)
	assert.Equal(t, "run-7", generated[0].RunID)
	assert.Equal(t, "r3", generated[1].NodeName)
}

func TestBuildGeneratorFailure(t *testing.T) {
	g, targets := setup(t, selector.Request{Names: selector.ByName{"act"}})
	gen := adapter.GeneratorFunc(func(context.Context, adapter.Context) error {
		return errors.New("disk full")
	})

	_, err := New(&fakeBuilder{}, WithGenerator(gen)).Build(context.Background(), g, targets, nil)
	require.ErrorIs(t, err, ErrKernelBuild)
	assert.ErrorContains(t, err, "disk full")
}

func TestBuildMetricsAndLogs(t *testing.T) {
	g, targets := setup(t, selector.Request{Types: selector.ByType{"ReduceMax"}})
	m := metrics.NewRegistry()
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	_, err := New(&fakeBuilder{}, WithMetrics(m), WithLogger(logger), WithRunID("run-9")).
		Build(context.Background(), g, targets, nil)
	require.NoError(t, err)

	assert.InDelta(t, 2, testutil.ToFloat64(m.DecisionsTotal.WithLabelValues("ReduceMax", metrics.DecisionBuilt)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.DecisionsTotal.WithLabelValues("ReduceMax", metrics.DecisionReused)), 0)

	out := logs.String()
	assert.Contains(t, out, "couldn't find reusable plugin")
	assert.Contains(t, out, "found existing plugin which could be reused")
	assert.Contains(t, out, `"run_id":"run-9"`)
}

func TestBuildCanceled(t *testing.T) {
	g, targets := setup(t, selector.Request{Names: selector.ByName{"act"}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	builder := &fakeBuilder{}
	_, err := New(builder).Build(ctx, g, targets, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, builder.calls)
}

func TestDefaultName(t *testing.T) {
	tests := []struct {
		id   onnx.NodeID
		name string
		want string
	}{
		{0, "r1", "tpat_r1"},
		{3, "encoder/layer.0/ReduceMax", "tpat_encoder_layer_0_ReduceMax"},
		{7, "", "tpat_node7"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DefaultName(tt.id, &onnx.NodeProto{Name: tt.name}))
	}
}

func TestDecisionString(t *testing.T) {
	assert.Equal(t, "built", Built.String())
	assert.Equal(t, "reused", Reused.String())
	assert.Equal(t, "Decision(5)", Decision(5).String())
}

func TestBuildParallelFingerprintsMatchSequential(t *testing.T) {
	gp := &onnx.GraphProto{Inputs: []onnx.ValueInfoProto{onnxtest.Float32("t0", 8, 8)}}
	for i := range 100 {
		in, out := fmt.Sprintf("t%d", i), fmt.Sprintf("t%d", i+1)
		gp.Nodes = append(gp.Nodes, onnxtest.Node(fmt.Sprintf("relu%d", i), "Relu", []string{in}, []string{out}))
		gp.ValueInfo = append(gp.ValueInfo, onnxtest.Float32(out, 8, 8))
	}
	g, err := onnx.NewGraph(onnxtest.Model(gp))
	require.NoError(t, err)
	targets, err := selector.Select(g, selector.Request{Types: selector.ByType{"Relu"}})
	require.NoError(t, err)

	run := func(cfg parallel.Config) (Mapping, *fakeBuilder) {
		builder := &fakeBuilder{}
		mapping, err := New(builder, WithParallel(cfg)).Build(context.Background(), g, targets, nil)
		require.NoError(t, err)
		return mapping, builder
	}

	seq, seqBuilder := run(parallel.Sequential())
	par, parBuilder := run(parallel.Config{Enabled: true, NumWorkers: 4, MinChunkSize: 1})

	assert.Equal(t, seq, par)
	assert.Equal(t, []string{"relu0->tpat_relu0"}, seqBuilder.calls)
	assert.Equal(t, seqBuilder.calls, parBuilder.calls)
	assert.Equal(t, []string{"tpat_relu0"}, par.Plugins())
}

func TestBuildGeneratedNamesStayUnique(t *testing.T) {
	model := onnxtest.Model(&onnx.GraphProto{
		Nodes: []onnx.NodeProto{
			onnxtest.Node("dup", "ReduceMax", []string{"x"}, []string{"y0"}, onnxtest.Ints("axes", 0)),
			onnxtest.Node("dup", "ReduceMax", []string{"x"}, []string{"y1"}, onnxtest.Ints("axes", 1)),
			onnxtest.Node("dup", "ReduceMax", []string{"x"}, []string{"y2"}, onnxtest.Ints("axes", 0)),
			onnxtest.Node("a.b", "Relu", []string{"x"}, []string{"y3"}),
			onnxtest.Node("a_b", "Sigmoid", []string{"x"}, []string{"y4"}),
		},
		Inputs: []onnx.ValueInfoProto{onnxtest.Float32("x", 4, 8)},
	})
	g, err := onnx.NewGraph(model)
	require.NoError(t, err)
	targets, err := selector.Select(g, selector.Request{Types: selector.ByType{"ReduceMax", "Relu", "Sigmoid"}})
	require.NoError(t, err)

	builder := &fakeBuilder{}
	mapping, err := New(builder).Build(context.Background(), g, targets, nil)
	require.NoError(t, err)

	assert.Equal(t, Mapping{
		{ID: 0, Node: "dup", OpType: "ReduceMax", Plugin: "tpat_dup", Decision: Built},
		{ID: 1, Node: "dup", OpType: "ReduceMax", Plugin: "tpat_dup_1", Decision: Built},
		{ID: 2, Node: "dup", OpType: "ReduceMax", Plugin: "tpat_dup", Decision: Reused},
		{ID: 3, Node: "a.b", OpType: "Relu", Plugin: "tpat_a_b", Decision: Built},
		{ID: 4, Node: "a_b", OpType: "Sigmoid", Plugin: "tpat_a_b_4", Decision: Built},
	}, mapping)
	assert.Len(t, builder.calls, 4)
}

func TestBuildGeneratedNameYieldsToExplicit(t *testing.T) {
	g, targets := setup(t, selector.Request{Names: selector.ByName{"r1", "r3"}})

	mapping, err := New(&fakeBuilder{}).Build(context.Background(), g, targets, map[string]string{"r3": "tpat_r1"})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"r1": "tpat_r1_1", "r3": "tpat_r1"}, mapping.ByName())
}
