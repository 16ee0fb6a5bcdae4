package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/slok/devup/internal/log"
	"github.com/slok/devup/internal/model"
)

// RepositoryConfig is the configuration for the memory repository.
type RepositoryConfig struct {
	Logger log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.Memory"})
	return nil
}

// Repository is an in-memory implementation of storage.Repository.
type Repository struct {
	sessions map[string]model.Session
	runs     map[string]map[string]model.TaskStatus
	mu       sync.RWMutex
	logger   log.Logger
}

// NewRepository creates a new memory repository.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Repository{
		sessions: make(map[string]model.Session),
		runs:     make(map[string]map[string]model.TaskStatus),
		logger:   cfg.Logger,
	}, nil
}

// CreateSession stores a new session.
func (r *Repository) CreateSession(ctx context.Context, s model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[s.ID]; ok {
		return fmt.Errorf("session %s: %w", s.ID, model.ErrAlreadyExists)
	}

	r.sessions[s.ID] = s
	r.runs[s.ID] = map[string]model.TaskStatus{}
	r.logger.Debugf("Created session in repository: %s", s.ID)

	return nil
}

// UpdateSession updates an existing session, the creation time is kept.
func (r *Repository) UpdateSession(ctx context.Context, s model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.sessions[s.ID]
	if !ok {
		return fmt.Errorf("session %s: %w", s.ID, model.ErrNotFound)
	}

	s.CreatedAt = current.CreatedAt
	r.sessions[s.ID] = s

	return nil
}

// GetSession returns a session by ID.
func (r *Repository) GetSession(ctx context.Context, id string) (*model.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, model.ErrNotFound)
	}

	return &s, nil
}

// GetLatestSession returns the most recently created session.
func (r *Repository) GetLatestSession(ctx context.Context) (*model.Session, error) {
	sessions, err := r.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, fmt.Errorf("no sessions: %w", model.ErrNotFound)
	}

	return &sessions[0], nil
}

// ListSessions returns all the sessions, newest first.
func (r *Repository) ListSessions(ctx context.Context) ([]model.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]model.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}

	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
		}
		return sessions[i].ID > sessions[j].ID
	})

	return sessions, nil
}

// SaveTaskRun creates or replaces a session task run.
func (r *Repository) SaveTaskRun(ctx context.Context, sessionID string, status model.TaskStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	runs, ok := r.runs[sessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, model.ErrNotFound)
	}

	status.Tail = append([]string{}, status.Tail...)
	runs[status.Run.Name] = status

	return nil
}

// ListTaskRuns returns the task runs of a session in sequence order.
func (r *Repository) ListTaskRuns(ctx context.Context, sessionID string) ([]model.TaskStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	statuses := make([]model.TaskStatus, 0, len(r.runs[sessionID]))
	for _, st := range r.runs[sessionID] {
		statuses = append(statuses, st)
	}

	sort.Slice(statuses, func(i, j int) bool {
		if statuses[i].Run.Sequence != statuses[j].Run.Sequence {
			return statuses[i].Run.Sequence < statuses[j].Run.Sequence
		}
		return statuses[i].Run.Name < statuses[j].Run.Name
	})

	return statuses, nil
}
