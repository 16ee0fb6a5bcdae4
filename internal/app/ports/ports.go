package ports

import (
	"context"
	"fmt"

	"github.com/slok/devup/internal/log"
	"github.com/slok/devup/internal/model"
	"github.com/slok/devup/internal/ports"
	storageio "github.com/slok/devup/internal/storage/io"
)

// ServiceConfig is the configuration for the ports service.
type ServiceConfig struct {
	ManifestRepository storageio.ManifestRepository
	Logger             log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.ManifestRepository == nil {
		return fmt.Errorf("manifest repository is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}

	return nil
}

// Service returns the port table of a manifest.
type Service struct {
	manifests storageio.ManifestRepository
	logger    log.Logger
}

// NewService creates a new ports service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		manifests: cfg.ManifestRepository,
		logger:    cfg.Logger,
	}, nil
}

// Request represents the ports request parameters.
type Request struct {
	ManifestPath string
	// PolicyFilter is an optional filter to only return ports with this policy.
	PolicyFilter *model.PortPolicy
}

// Run returns the declared ports of the manifest.
func (s *Service) Run(ctx context.Context, req Request) (*ports.Table, error) {
	if req.ManifestPath == "" {
		return nil, fmt.Errorf("manifest path is required: %w", model.ErrNotValid)
	}

	m, err := s.manifests.GetManifest(ctx, req.ManifestPath)
	if err != nil {
		return nil, fmt.Errorf("could not load manifest: %w", err)
	}

	table, err := ports.Declare(m.Ports)
	if err != nil {
		return nil, err
	}

	if req.PolicyFilter != nil {
		s.logger.Debugf("filtering ports by policy %s", *req.PolicyFilter)
		return ports.Declare(table.ByPolicy(*req.PolicyFilter))
	}

	return table, nil
}
