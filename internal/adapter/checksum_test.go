package adapter

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksum(t *testing.T) {
	// SHA-256 of the empty input.
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", Checksum(nil))

	got, err := checksumReader(strings.NewReader("// kernel\n"))
	require.NoError(t, err)
	assert.Equal(t, Checksum([]byte("// kernel\n")), got)
}

func TestVerify(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, NewFileGenerator(dir).Generate(context.Background(), Context{Artifact: artifact("tpat_r1")}))
	plugin := filepath.Join(dir, "tpat_r1")

	m, err := Verify(plugin)
	require.NoError(t, err)
	assert.Equal(t, "tpat_r1", m.Plugin)

	require.NoError(t, os.WriteFile(filepath.Join(plugin, "kernel.wgsl"), []byte("// edited\n"), 0o600))
	_, err = Verify(plugin)
	require.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestVerifyMissing(t *testing.T) {
	_, err := Verify(t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestVerifyRejectsEscapingSource(t *testing.T) {
	dir := t.TempDir()
	manifest := "plugin: p\nsource: ../kernel.wgsl\nsha256: x\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), []byte(manifest), 0o600))

	_, err := Verify(dir)
	assert.ErrorContains(t, err, "escapes")
}
