package launcher

import (
	"context"
	"io"

	"github.com/slok/devup/internal/model"
)

// Request is a single command launch request.
type Request struct {
	// SessionID scopes the external resources (e.g container names) to a session.
	SessionID string
	Task      model.TaskSpec
	// Command is the command handed verbatim to the shell. It can be empty for
	// container tasks, then the image default command is used.
	Command string
	// Env is the task environment (manifest, task and operator overrides merged).
	Env    map[string]string
	Stdout io.Writer
	Stderr io.Writer
}

// ExitResult is the result of a finished process.
type ExitResult struct {
	// ExitCode is -1 when the process was killed by a signal or the code is unknown.
	ExitCode int
	// Err has the error that made the process end abnormally, if any.
	Err error
}

// Success returns true if the process ended successfully.
func (e ExitResult) Success() bool { return e.ExitCode == 0 && e.Err == nil }

// Process is a launched command.
type Process interface {
	// Wait blocks until the process has finished and all its output has been
	// written.
	Wait() ExitResult
	// Terminate gracefully stops the process and releases its resources. It
	// returns once the process has finished. It's safe to call multiple times.
	Terminate(ctx context.Context) error
}

// Launcher knows how to launch task commands.
type Launcher interface {
	// Check verifies the launcher can be invoked.
	Check(ctx context.Context) error
	// Launch starts a command and returns without waiting for it to end. If
	// the context is cancelled the process is terminated.
	Launch(ctx context.Context, req Request) (Process, error)
}
