package launcher

import (
	"context"
	"fmt"

	"github.com/slok/devup/internal/model"
)

// Router launches container tasks with the container launcher and the rest
// with the shell launcher.
type Router struct {
	Shell Launcher
	// Container is optional, only required when a task uses a container.
	Container Launcher
	// RequireContainer makes the container launcher part of the check, it's
	// set when the session has container tasks.
	RequireContainer bool
}

// Check checks the shell launcher and, when required, the container launcher.
func (r Router) Check(ctx context.Context) error {
	if r.Shell == nil {
		return fmt.Errorf("shell launcher is missing: %w", model.ErrExternalCommandUnavailable)
	}
	if err := r.Shell.Check(ctx); err != nil {
		return err
	}

	if !r.RequireContainer {
		return nil
	}
	if r.Container == nil {
		return fmt.Errorf("container launcher is missing: %w", model.ErrExternalCommandUnavailable)
	}

	return r.Container.Check(ctx)
}

// Launch launches the request with the right launcher.
func (r Router) Launch(ctx context.Context, req Request) (Process, error) {
	if req.Task.Container != nil {
		if r.Container == nil {
			return nil, fmt.Errorf("task %q requires a container runtime: %w", req.Task.Name, model.ErrExternalCommandUnavailable)
		}
		return r.Container.Launch(ctx, req)
	}

	if r.Shell == nil {
		return nil, fmt.Errorf("shell launcher is missing: %w", model.ErrExternalCommandUnavailable)
	}
	return r.Shell.Launch(ctx, req)
}
