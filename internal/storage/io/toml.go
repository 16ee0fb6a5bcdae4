package io

import (
	"context"
	"fmt"
	"io/fs"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/slok/devup/internal/model"
)

// ManifestTOMLRepository loads manifests from TOML files.
type ManifestTOMLRepository struct {
	fs fs.FS
}

// NewManifestTOMLRepository creates a new TOML manifest repository.
func NewManifestTOMLRepository(filesystem fs.FS) *ManifestTOMLRepository {
	return &ManifestTOMLRepository{fs: filesystem}
}

// GetManifest loads a manifest from a TOML file and returns a validated domain model.
func (r *ManifestTOMLRepository) GetManifest(ctx context.Context, path string) (model.Manifest, error) {
	data, err := readManifestFile(ctx, r.fs, path)
	if err != nil {
		return model.Manifest{}, err
	}

	var m Manifest
	meta, err := toml.Decode(string(data), &m)
	if err != nil {
		return model.Manifest{}, fmt.Errorf("parsing TOML: %w: %w", model.ErrParse, err)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return model.Manifest{}, fmt.Errorf("unknown fields %s: %w", strings.Join(keys, ", "), model.ErrParse)
	}

	mf, err := m.toModel()
	if err != nil {
		return model.Manifest{}, fmt.Errorf("invalid manifest: %w: %w", model.ErrParse, err)
	}

	return mf, nil
}
