// Package config loads extension manifests, run fixtures and the runtime settings
// derived from the system config.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"
	"github.com/guildhook/guildhook/internal/domain/extension"
	"github.com/guildhook/guildhook/internal/infrastructure/persistence"
)

// MaxCodeBytes caps a guest module read from disk.
const MaxCodeBytes = 16 << 20

// manifestDocument is the on-disk manifest. CodeFile points at the guest module
// relative to the manifest and replaces the code reference once loaded.
type manifestDocument struct {
	extension.Manifest `yaml:",inline"`
	CodeFile           string `yaml:"code_file"`
}

// LoadedManifest is a validated manifest plus the code it references, when local.
type LoadedManifest struct {
	Manifest *extension.Manifest
	Code     []byte
}

// ManifestLoader handles loading manifests from YAML files.
type ManifestLoader struct{}

// NewManifestLoader creates a new manifest loader.
func NewManifestLoader() *ManifestLoader {
	return &ManifestLoader{}
}

// LoadManifest loads a manifest and the code file it names.
// Code files are opened through an os.Root on the manifest's directory so a
// manifest cannot reach outside it.
func (l *ManifestLoader) LoadManifest(path string) (*LoadedManifest, error) {
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest directory: %w", err)
	}
	defer func() {
		_ = root.Close()
	}()

	file, err := root.Open(base)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	doc, err := decodeManifest(file)
	if err != nil {
		return nil, err
	}

	var code []byte
	if doc.CodeFile != "" {
		code, err = readCode(root, doc.CodeFile)
		if err != nil {
			return nil, err
		}
		doc.CodeRef = persistence.CodeRef(code)
	}

	if err := doc.Manifest.Validate(); err != nil {
		return nil, err
	}
	m := doc.Manifest
	return &LoadedManifest{Manifest: &m, Code: code}, nil
}

// LoadManifestFromReader loads a manifest whose code is referenced, not embedded.
func (l *ManifestLoader) LoadManifestFromReader(r io.Reader) (*extension.Manifest, error) {
	doc, err := decodeManifest(r)
	if err != nil {
		return nil, err
	}
	if doc.CodeFile != "" {
		return nil, fmt.Errorf("manifest %s: code_file needs a manifest path", doc.Key())
	}
	if err := doc.Manifest.Validate(); err != nil {
		return nil, err
	}
	m := doc.Manifest
	return &m, nil
}

func decodeManifest(r io.Reader) (*manifestDocument, error) {
	var doc manifestDocument
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode manifest YAML: %w", err)
	}
	return &doc, nil
}

func readCode(root *os.Root, name string) ([]byte, error) {
	f, err := root.Open(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open code file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	code, err := io.ReadAll(io.LimitReader(f, MaxCodeBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read code file: %w", err)
	}
	if len(code) > MaxCodeBytes {
		return nil, fmt.Errorf("code file %s exceeds %d bytes", name, MaxCodeBytes)
	}
	return code, nil
}
