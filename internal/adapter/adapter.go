// Package adapter produces the engine-side plugin for a freshly built
// kernel. The file generator writes the kernel source next to a manifest
// describing how the plugin was produced.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/born-ml/tpat/internal/kernel"
)

// ManifestFile is the name of the manifest written for every plugin.
const ManifestFile = "manifest.yaml"

// Context describes one generation request.
type Context struct {
	Artifact  *kernel.Artifact
	ModelPath string
	NodeName  string
	RunID     string
}

// Generator produces a plugin for a built kernel. It is called once per
// freshly built node and never for reused ones.
type Generator interface {
	Generate(ctx context.Context, gc Context) error
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, gc Context) error

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, gc Context) error {
	return f(ctx, gc)
}

// Manifest is the YAML document stored with each plugin.
type Manifest struct {
	Plugin     string         `yaml:"plugin"`
	OpType     string         `yaml:"op_type"`
	Node       string         `yaml:"node"`
	Model      string         `yaml:"model,omitempty"`
	RunID      string         `yaml:"run_id,omitempty"`
	Language   string         `yaml:"language"`
	EntryPoint string         `yaml:"entry_point"`
	Source     string         `yaml:"source"`
	SHA256     string         `yaml:"sha256"`
	Params     []string       `yaml:"params,omitempty"`
	Inputs     []string       `yaml:"inputs"`
	Outputs    []string       `yaml:"outputs"`
	Batch      kernel.Options `yaml:"batch"`
}

// FileGenerator writes each plugin to <dir>/<plugin>/.
type FileGenerator struct {
	dir string
}

// NewFileGenerator creates a generator rooted at dir.
func NewFileGenerator(dir string) *FileGenerator {
	return &FileGenerator{dir: dir}
}

// Dir returns the root directory.
func (g *FileGenerator) Dir() string {
	return g.dir
}

// Generate writes the kernel source and its manifest.
func (g *FileGenerator) Generate(ctx context.Context, gc Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	art := gc.Artifact
	if art == nil || art.Plugin == "" {
		return errors.New("adapter: artifact without plugin name")
	}
	if filepath.Base(art.Plugin) != art.Plugin || art.Plugin == "." || art.Plugin == ".." {
		return fmt.Errorf("adapter: plugin name %q is not a valid directory name", art.Plugin)
	}

	dir := filepath.Join(g.dir, art.Plugin)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("adapter: create %s: %w", dir, err)
	}

	source := "kernel." + extension(art.Language)
	if err := os.WriteFile(filepath.Join(dir, source), art.Source, 0o600); err != nil {
		return fmt.Errorf("adapter: write kernel source: %w", err)
	}

	m := Manifest{
		Plugin:     art.Plugin,
		OpType:     art.OpType,
		Node:       gc.NodeName,
		Model:      gc.ModelPath,
		RunID:      gc.RunID,
		Language:   art.Language,
		EntryPoint: art.EntryPoint,
		Source:     source,
		SHA256:     Checksum(art.Source),
		Params:     art.Params,
		Inputs:     art.Inputs,
		Outputs:    art.Outputs,
		Batch:      art.Batch,
	}
	data, err := yaml.Marshal(&m)
	if err != nil {
		return fmt.Errorf("adapter: encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), data, 0o600); err != nil {
		return fmt.Errorf("adapter: write manifest: %w", err)
	}
	return nil
}

// ReadManifest loads the manifest of a generated plugin directory.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile)) //nolint:gosec // G304: plugin directory chosen by the caller.
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("adapter: decode manifest: %w", err)
	}
	return &m, nil
}

func extension(language string) string {
	switch language {
	case "":
		return "txt"
	case "cuda":
		return "cu"
	default:
		return language
	}
}
