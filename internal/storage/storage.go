package storage

import (
	"context"

	"github.com/slok/devup/internal/model"
)

// Repository is the interface for session history persistence.
type Repository interface {
	CreateSession(ctx context.Context, s model.Session) error
	UpdateSession(ctx context.Context, s model.Session) error
	GetSession(ctx context.Context, id string) (*model.Session, error)
	// GetLatestSession returns the most recently created session.
	GetLatestSession(ctx context.Context) (*model.Session, error)
	// ListSessions returns the sessions, newest first.
	ListSessions(ctx context.Context) ([]model.Session, error)
	// SaveTaskRun creates or replaces the task run of a session.
	SaveTaskRun(ctx context.Context, sessionID string, status model.TaskStatus) error
	// ListTaskRuns returns the session task runs in sequence order.
	ListTaskRuns(ctx context.Context, sessionID string) ([]model.TaskStatus, error)
}
