package io

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"gopkg.in/yaml.v3"

	"github.com/slok/devup/internal/model"
)

// ManifestYAMLRepository loads manifests from YAML files.
type ManifestYAMLRepository struct {
	fs fs.FS
}

// NewManifestYAMLRepository creates a new YAML manifest repository.
func NewManifestYAMLRepository(filesystem fs.FS) *ManifestYAMLRepository {
	return &ManifestYAMLRepository{fs: filesystem}
}

// GetManifest loads a manifest from a YAML file and returns a validated domain model.
func (r *ManifestYAMLRepository) GetManifest(ctx context.Context, path string) (model.Manifest, error) {
	data, err := readManifestFile(ctx, r.fs, path)
	if err != nil {
		return model.Manifest{}, err
	}

	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil && !errors.Is(err, io.EOF) {
		return model.Manifest{}, fmt.Errorf("parsing YAML: %w: %w", model.ErrParse, err)
	}

	mf, err := m.toModel()
	if err != nil {
		return model.Manifest{}, fmt.Errorf("invalid manifest: %w: %w", model.ErrParse, err)
	}

	return mf, nil
}
