// Package storagemock has testify mocks of the storage interfaces.
package storagemock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/slok/devup/internal/model"
)

// MockRepository is a mock of storage.Repository.
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) CreateSession(ctx context.Context, s model.Session) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

func (m *MockRepository) UpdateSession(ctx context.Context, s model.Session) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

func (m *MockRepository) GetSession(ctx context.Context, id string) (*model.Session, error) {
	args := m.Called(ctx, id)
	s, _ := args.Get(0).(*model.Session)
	return s, args.Error(1)
}

func (m *MockRepository) GetLatestSession(ctx context.Context) (*model.Session, error) {
	args := m.Called(ctx)
	s, _ := args.Get(0).(*model.Session)
	return s, args.Error(1)
}

func (m *MockRepository) ListSessions(ctx context.Context) ([]model.Session, error) {
	args := m.Called(ctx)
	s, _ := args.Get(0).([]model.Session)
	return s, args.Error(1)
}

func (m *MockRepository) SaveTaskRun(ctx context.Context, sessionID string, status model.TaskStatus) error {
	args := m.Called(ctx, sessionID, status)
	return args.Error(0)
}

func (m *MockRepository) ListTaskRuns(ctx context.Context, sessionID string) ([]model.TaskStatus, error) {
	args := m.Called(ctx, sessionID)
	s, _ := args.Get(0).([]model.TaskStatus)
	return s, args.Error(1)
}

// MockManifestRepository is a mock of io.ManifestRepository.
type MockManifestRepository struct {
	mock.Mock
}

func (m *MockManifestRepository) GetManifest(ctx context.Context, path string) (model.Manifest, error) {
	args := m.Called(ctx, path)
	return args.Get(0).(model.Manifest), args.Error(1)
}
