package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/tpat/internal/adapter"
	"github.com/born-ml/tpat/internal/onnx"
	"github.com/born-ml/tpat/internal/onnx/onnxtest"
)

func saveChain(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	in := filepath.Join(dir, "chain.onnx")
	require.NoError(t, onnx.WriteFile(in, onnxtest.ReduceChain()))
	return dir, in
}

func TestRunCommand(t *testing.T) {
	dir, in := saveChain(t)
	out := filepath.Join(dir, "chain_tpat.onnx")
	plugins := filepath.Join(dir, "plugins")
	metricsFile := filepath.Join(dir, "tpat.prom")

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{
		"-i", in, "-o", out,
		"-t", "ReduceMax",
		"-p", `{"r3": "TPAT_ReduceMax"}`,
		"-plugin-dir", plugins,
		"-metrics-file", metricsFile,
		"-log-format", "json",
	}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	assert.Contains(t, stdout.String(), `Onnx_name_mapping_trt_plugin: {"r1": "tpat_r1", "r2": "tpat_r1", "r3": "TPAT_ReduceMax"}`)
	assert.Contains(t, stdout.String(), "Plugins: tpat_r1, TPAT_ReduceMax")
	assert.Contains(t, stderr.String(), `"msg":"couldn't find reusable plugin, start auto-tuning"`)

	model, err := onnx.ParseFile(out)
	require.NoError(t, err)
	assert.Equal(t, "TPAT_ReduceMax", model.Graph.Nodes[4].OpType)

	m, err := adapter.ReadManifest(filepath.Join(plugins, "TPAT_ReduceMax"))
	require.NoError(t, err)
	assert.Equal(t, "r3", m.Node)

	prom, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(prom), "tpat_plugin_decisions_total")
}

func TestRunCommandConfigFile(t *testing.T) {
	dir, in := saveChain(t)
	out := filepath.Join(dir, "out.onnx")
	cfgPath := filepath.Join(dir, "tpat.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(
		"input: "+in+"\noutput: "+filepath.Join(dir, "ignored.onnx")+"\nnode_names: [act]\n"), 0o600))

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-config", cfgPath, "-o", out, "-n", "add,r1"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	assert.FileExists(t, out)
	assert.NoFileExists(t, filepath.Join(dir, "ignored.onnx"))
	assert.Contains(t, stdout.String(), `{"add": "tpat_add", "r1": "tpat_r1"}`)
}

func TestRunCommandErrors(t *testing.T) {
	dir, in := saveChain(t)
	out := filepath.Join(dir, "out.onnx")

	tests := []struct {
		name string
		args []string
		code int
	}{
		{"missing input", []string{"-o", out, "-t", "Relu"}, 2},
		{"bad plugin map", []string{"-i", in, "-o", out, "-p", "n1=x"}, 2},
		{"bad log level", []string{"-i", in, "-o", out, "-t", "Relu", "-log-level", "loud"}, 2},
		{"bad batch", []string{"-i", in, "-o", out, "-t", "Relu", "-dynamic-batch", "-min-batch", "0"}, 2},
		{"missing config", []string{"-config", filepath.Join(dir, "absent.yaml")}, 2},
		{"no selection", []string{"-i", in, "-o", out}, 1},
		{"unknown node", []string{"-i", in, "-o", out, "-n", "ghost"}, 1},
		{"name collision", []string{"-i", in, "-o", out, "-p", `{"act": "Relu"}`}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := run(context.Background(), tt.args, &stdout, &stderr)
			assert.Equal(t, tt.code, code, stderr.String())
			assert.NoFileExists(t, out)
		})
	}
}

func TestRunCommandInfo(t *testing.T) {
	var stdout, stderr bytes.Buffer
	require.Equal(t, 0, run(context.Background(), []string{"-version"}, &stdout, &stderr))
	assert.Equal(t, "tpat "+version+"\n", stdout.String())

	stdout.Reset()
	require.Equal(t, 0, run(context.Background(), []string{"-list-native-ops"}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "ReduceMax\n")

	assert.Equal(t, 0, run(context.Background(), []string{"-h"}, &stdout, &stderr))
}

func TestListFlag(t *testing.T) {
	var l listFlag
	require.NoError(t, l.Set("a, b"))
	require.NoError(t, l.Set("c"))
	require.NoError(t, l.Set(""))
	assert.Equal(t, listFlag{"a", "b", "c"}, l)
	assert.Equal(t, "a,b,c", l.String())
}
