package history

import (
	"context"
	"fmt"

	"github.com/slok/devup/internal/log"
	"github.com/slok/devup/internal/model"
	"github.com/slok/devup/internal/storage"
)

// ServiceConfig is the configuration for the history service.
type ServiceConfig struct {
	Repository storage.Repository
	Logger     log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}

	return nil
}

// Service lists the past sessions with optional filtering.
type Service struct {
	repo   storage.Repository
	logger log.Logger
}

// NewService creates a new history service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:   cfg.Repository,
		logger: cfg.Logger,
	}, nil
}

// Request represents the history request parameters.
type Request struct {
	// StateFilter is an optional filter to only show sessions in this state.
	StateFilter *model.SessionState
	// Limit is the max number of sessions returned, 0 means all.
	Limit int
}

// Run lists the sessions, newest first.
func (s *Service) Run(ctx context.Context, req Request) ([]model.Session, error) {
	s.logger.Debugf("listing sessions with filter: %v", req.StateFilter)

	sessions, err := s.repo.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not list sessions: %w", err)
	}

	if req.StateFilter != nil {
		filtered := make([]model.Session, 0, len(sessions))
		for _, ss := range sessions {
			if ss.State == *req.StateFilter {
				filtered = append(filtered, ss)
			}
		}
		sessions = filtered
	}

	if req.Limit > 0 && len(sessions) > req.Limit {
		sessions = sessions[:req.Limit]
	}

	s.logger.Debugf("found %d sessions", len(sessions))
	return sessions, nil
}
