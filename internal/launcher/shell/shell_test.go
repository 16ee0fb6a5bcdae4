//go:build unix

package shell_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/devup/internal/launcher"
	"github.com/slok/devup/internal/launcher/shell"
	"github.com/slok/devup/internal/model"
)

type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *safeBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *safeBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func TestLauncherLaunch(t *testing.T) {
	tests := map[string]struct {
		command   string
		env       map[string]string
		expCode   int
		expStdout string
		expStderr string
	}{
		"A successful command should exit with 0.": {
			command:   "echo hello",
			expCode:   0,
			expStdout: "hello\n",
		},

		"A failing command should return its exit code.": {
			command: "exit 3",
			expCode: 3,
		},

		"Stderr should be captured separately.": {
			command:   "echo oops >&2; exit 1",
			expCode:   1,
			expStderr: "oops\n",
		},

		"The environment should be passed to the command.": {
			command:   `echo "$GREETING $TARGET"`,
			env:       map[string]string{"GREETING": "hi", "TARGET": "there"},
			expStdout: "hi there\n",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			l, err := shell.NewLauncher(shell.LauncherConfig{})
			require.NoError(err)

			var stdout, stderr safeBuffer
			p, err := l.Launch(context.Background(), launcher.Request{
				Task:    model.TaskSpec{Name: "t", Class: model.TaskClassInit},
				Command: test.command,
				Env:     test.env,
				Stdout:  &stdout,
				Stderr:  &stderr,
			})
			require.NoError(err)

			res := p.Wait()
			assert.Equal(test.expCode, res.ExitCode)
			assert.Equal(test.expStdout, stdout.String())
			assert.Equal(test.expStderr, stderr.String())
		})
	}
}

func TestLauncherTerminate(t *testing.T) {
	require := require.New(t)

	l, err := shell.NewLauncher(shell.LauncherConfig{GracePeriod: 2 * time.Second})
	require.NoError(err)

	p, err := l.Launch(context.Background(), launcher.Request{
		Task:    model.TaskSpec{Name: "svc", Class: model.TaskClassService},
		Command: "sleep 60",
	})
	require.NoError(err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(p.Terminate(ctx))

	res := p.Wait()
	assert.False(t, res.Success())

	// Terminating twice is safe.
	assert.NoError(t, p.Terminate(ctx))
}

func TestLauncherContextCancelTerminates(t *testing.T) {
	require := require.New(t)

	l, err := shell.NewLauncher(shell.LauncherConfig{GracePeriod: time.Second})
	require.NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	p, err := l.Launch(ctx, launcher.Request{
		Task:    model.TaskSpec{Name: "svc", Class: model.TaskClassService},
		Command: "sleep 60",
	})
	require.NoError(err)
	cancel()

	done := make(chan launcher.ExitResult)
	go func() { done <- p.Wait() }()

	select {
	case res := <-done:
		assert.False(t, res.Success())
	case <-time.After(10 * time.Second):
		t.Fatal("process was not terminated")
	}
}

func TestLauncherMissingShell(t *testing.T) {
	l, err := shell.NewLauncher(shell.LauncherConfig{Shell: "/nonexistent/devup-shell"})
	require.NoError(t, err)

	err = l.Check(context.Background())
	assert.True(t, errors.Is(err, model.ErrExternalCommandUnavailable))

	_, err = l.Launch(context.Background(), launcher.Request{
		Task:    model.TaskSpec{Name: "t", Class: model.TaskClassInit},
		Command: "true",
	})
	assert.True(t, errors.Is(err, model.ErrExternalCommandUnavailable))
}

func TestLauncherEmptyCommand(t *testing.T) {
	l, err := shell.NewLauncher(shell.LauncherConfig{})
	require.NoError(t, err)

	_, err = l.Launch(context.Background(), launcher.Request{Task: model.TaskSpec{Name: "t"}})
	assert.True(t, errors.Is(err, model.ErrNotValid))
}
