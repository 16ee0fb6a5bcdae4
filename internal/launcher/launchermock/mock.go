// Package launchermock has testify mocks of the launcher interfaces.
package launchermock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/slok/devup/internal/launcher"
)

// MockLauncher is a mock of launcher.Launcher.
type MockLauncher struct {
	mock.Mock
}

func (m *MockLauncher) Check(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockLauncher) Launch(ctx context.Context, req launcher.Request) (launcher.Process, error) {
	args := m.Called(ctx, req)
	p, _ := args.Get(0).(launcher.Process)
	return p, args.Error(1)
}

// MockProcess is a mock of launcher.Process.
type MockProcess struct {
	mock.Mock
}

func (m *MockProcess) Wait() launcher.ExitResult {
	args := m.Called()
	return args.Get(0).(launcher.ExitResult)
}

func (m *MockProcess) Terminate(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
