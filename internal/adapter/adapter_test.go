package adapter

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/tpat/internal/kernel"
)

func artifact(plugin string) *kernel.Artifact {
	return &kernel.Artifact{
		Plugin:     plugin,
		OpType:     "ReduceMax",
		Language:   "wgsl",
		EntryPoint: "main",
		Source:     []byte("// kernel\n"),
		Params:     []string{"outer"},
		Inputs:     []string{"float32[2,16]"},
		Outputs:    []string{"float32[2,1]"},
		Batch:      kernel.DefaultOptions(),
	}
}

func TestFileGenerator(t *testing.T) {
	dir := t.TempDir()
	gen := NewFileGenerator(dir)
	assert.Equal(t, dir, gen.Dir())

	err := gen.Generate(context.Background(), Context{
		Artifact:  artifact("tpat_r1"),
		ModelPath: "model.onnx",
		NodeName:  "r1",
		RunID:     "run-1",
	})
	require.NoError(t, err)

	src, err := os.ReadFile(filepath.Join(dir, "tpat_r1", "kernel.wgsl"))
	require.NoError(t, err)
	assert.Equal(t, "// kernel\n", string(src))

	m, err := ReadManifest(filepath.Join(dir, "tpat_r1"))
	require.NoError(t, err)
	assert.Equal(t, Manifest{
		Plugin:     "tpat_r1",
		OpType:     "ReduceMax",
		Node:       "r1",
		Model:      "model.onnx",
		RunID:      "run-1",
		Language:   "wgsl",
		EntryPoint: "main",
		Source:     "kernel.wgsl",
		SHA256:     Checksum([]byte("// kernel\n")),
		Params:     []string{"outer"},
		Inputs:     []string{"float32[2,16]"},
		Outputs:    []string{"float32[2,1]"},
		Batch:      kernel.DefaultOptions(),
	}, *m)
}

func TestFileGeneratorRejectsBadNames(t *testing.T) {
	gen := NewFileGenerator(t.TempDir())

	for _, name := range []string{"", "..", "a/b"} {
		err := gen.Generate(context.Background(), Context{Artifact: artifact(name)})
		assert.Error(t, err, "plugin %q", name)
	}
	assert.Error(t, gen.Generate(context.Background(), Context{}))
}

func TestFileGeneratorCanceled(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewFileGenerator(dir).Generate(ctx, Context{Artifact: artifact("p")})
	require.ErrorIs(t, err, context.Canceled)

	_, err = os.Stat(filepath.Join(dir, "p"))
	assert.True(t, os.IsNotExist(err))
}

func TestGeneratorFunc(t *testing.T) {
	var got Context
	gen := GeneratorFunc(func(_ context.Context, gc Context) error {
		got = gc
		return nil
	})
	require.NoError(t, gen.Generate(context.Background(), Context{NodeName: "n"}))
	assert.Equal(t, "n", got.NodeName)
}
