package adapter

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrChecksumMismatch reports a kernel source that no longer matches the
// digest recorded in its manifest.
var ErrChecksumMismatch = errors.New("adapter: kernel source checksum mismatch")

// Checksum returns the hex SHA-256 digest of a kernel source.
func Checksum(source []byte) string {
	sum := sha256.Sum256(source)
	return hex.EncodeToString(sum[:])
}

// checksumReader computes the digest of r without buffering it.
func checksumReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify reads the manifest in dir and checks that the kernel source it
// names still has the recorded digest.
func Verify(dir string) (*Manifest, error) {
	m, err := ReadManifest(dir)
	if err != nil {
		return nil, err
	}
	if filepath.Base(m.Source) != m.Source {
		return nil, fmt.Errorf("adapter: manifest source %q escapes %s", m.Source, dir)
	}

	f, err := os.Open(filepath.Join(dir, m.Source)) //nolint:gosec // G304: name checked above.
	if err != nil {
		return nil, fmt.Errorf("adapter: open kernel source: %w", err)
	}
	defer func() { _ = f.Close() }()

	got, err := checksumReader(f)
	if err != nil {
		return nil, fmt.Errorf("adapter: read kernel source: %w", err)
	}
	if got != m.SHA256 {
		return nil, fmt.Errorf("%w: %s has %s, manifest records %s", ErrChecksumMismatch, m.Source, got, m.SHA256)
	}
	return m, nil
}
