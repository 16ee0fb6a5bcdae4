package status

import (
	"context"
	"errors"
	"fmt"

	"github.com/slok/devup/internal/log"
	"github.com/slok/devup/internal/model"
	"github.com/slok/devup/internal/storage"
)

// ServiceConfig is the configuration for the status service.
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

// Service is the service to get the status of a session.
type Service struct {
	repo   storage.Repository
	logger log.Logger
}

// NewService creates a new status service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:   cfg.Repository,
		logger: cfg.Logger,
	}, nil
}

// Request represents the status request parameters.
type Request struct {
	// SessionID is the session to query, the latest one when empty.
	SessionID string
}

// Response is the status of a session and its tasks.
type Response struct {
	Session model.Session
	Tasks   []model.TaskStatus
}

// Run retrieves the status of a session with the state and output tail of
// every task.
func (s *Service) Run(ctx context.Context, req Request) (*Response, error) {
	var (
		session *model.Session
		err     error
	)
	if req.SessionID == "" {
		s.logger.Debugf("getting status for latest session")
		session, err = s.repo.GetLatestSession(ctx)
	} else {
		s.logger.Debugf("getting status for session: %s", req.SessionID)
		session, err = s.repo.GetSession(ctx, req.SessionID)
	}
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			if req.SessionID == "" {
				return nil, fmt.Errorf("there are no sessions: %w", model.ErrNotFound)
			}
			return nil, fmt.Errorf("session not found: %s: %w", req.SessionID, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not get session: %w", err)
	}

	tasks, err := s.repo.ListTaskRuns(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("could not list session %s tasks: %w", session.ID, err)
	}

	return &Response{
		Session: *session,
		Tasks:   tasks,
	}, nil
}
