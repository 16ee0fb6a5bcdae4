package validate

import (
	"context"
	"fmt"

	"github.com/slok/devup/internal/log"
	"github.com/slok/devup/internal/model"
	"github.com/slok/devup/internal/ports"
	"github.com/slok/devup/internal/sequencer"
	storageio "github.com/slok/devup/internal/storage/io"
)

// ServiceConfig is the configuration for the validate service.
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
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.validate.Service"})

	return nil
}

// Service checks a manifest can be run without running anything.
type Service struct {
	manifests storageio.ManifestRepository
	logger    log.Logger
}

// NewService creates a new validate service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		manifests: cfg.ManifestRepository,
		logger:    cfg.Logger,
	}, nil
}

// Request represents the validate request parameters.
type Request struct {
	ManifestPath string
}

// Response is the validated manifest with its execution plan.
type Response struct {
	Manifest model.Manifest
	Plan     model.Plan
	Ports    *ports.Table
}

// Run loads the manifest, sequences the init tasks and declares the ports.
func (s *Service) Run(ctx context.Context, req Request) (*Response, error) {
	if req.ManifestPath == "" {
		return nil, fmt.Errorf("manifest path is required: %w", model.ErrNotValid)
	}

	m, err := s.manifests.GetManifest(ctx, req.ManifestPath)
	if err != nil {
		return nil, fmt.Errorf("could not load manifest: %w", err)
	}

	plan, err := sequencer.Sequence(m)
	if err != nil {
		return nil, fmt.Errorf("could not sequence init tasks: %w", err)
	}

	pt, err := ports.Declare(m.Ports)
	if err != nil {
		return nil, err
	}

	s.logger.Debugf("Manifest %q is valid: %d init steps, %d services, %d ports", m.Name, len(plan.Steps), len(m.Services), len(pt.All()))

	return &Response{
		Manifest: m,
		Plan:     plan,
		Ports:    pt,
	}, nil
}
