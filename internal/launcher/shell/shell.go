package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/slok/devup/internal/launcher"
	"github.com/slok/devup/internal/log"
	"github.com/slok/devup/internal/model"
	utilsenv "github.com/slok/devup/internal/utils/env"
)

const defaultShell = "/bin/sh"

// LauncherConfig is the configuration for the shell launcher.
type LauncherConfig struct {
	// Shell is the shell binary used to interpret the commands (`<shell> -c <command>`).
	Shell string
	// GracePeriod is the time the process has to exit after the terminate signal
	// before being killed.
	GracePeriod time.Duration
	// IsolateEnv doesn't pass the current process environment to the launched commands.
	IsolateEnv bool
	Logger     log.Logger
}

func (c *LauncherConfig) defaults() error {
	if c.Shell == "" {
		c.Shell = defaultShell
	}

	if c.GracePeriod <= 0 {
		c.GracePeriod = 10 * time.Second
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "launcher.Shell"})

	return nil
}

// Launcher launches task commands as local shell processes.
type Launcher struct {
	shell       string
	gracePeriod time.Duration
	isolateEnv  bool
	logger      log.Logger
}

// NewLauncher returns a new shell launcher.
func NewLauncher(cfg LauncherConfig) (*Launcher, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Launcher{
		shell:       cfg.Shell,
		gracePeriod: cfg.GracePeriod,
		isolateEnv:  cfg.IsolateEnv,
		logger:      cfg.Logger,
	}, nil
}

// Check checks the shell is available.
func (l *Launcher) Check(ctx context.Context) error {
	if _, err := exec.LookPath(l.shell); err != nil {
		return fmt.Errorf("shell %q not available: %w: %w", l.shell, model.ErrExternalCommandUnavailable, err)
	}

	return nil
}

// Launch starts the command with the shell.
func (l *Launcher) Launch(ctx context.Context, req launcher.Request) (launcher.Process, error) {
	if req.Command == "" {
		return nil, fmt.Errorf("task %q has no command: %w", req.Task.Name, model.ErrNotValid)
	}

	cmd := exec.Command(l.shell, "-c", req.Command)
	cmd.Dir = req.Task.WorkingDir
	cmd.Env = l.env(req.Env)
	cmd.Stdout = writerOrDiscard(req.Stdout)
	cmd.Stderr = writerOrDiscard(req.Stderr)
	// Children that keep the output pipes open must not block the wait forever.
	cmd.WaitDelay = l.gracePeriod
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("could not start %q: %w: %w", req.Task.Name, model.ErrExternalCommandUnavailable, err)
		}
		return nil, fmt.Errorf("could not start %q: %w", req.Task.Name, err)
	}

	logger := l.logger.WithValues(log.Kv{"task": req.Task.Name, "pid": cmd.Process.Pid})
	logger.Debugf("Process started")

	p := &process{
		cmd:         cmd,
		gracePeriod: l.gracePeriod,
		done:        make(chan struct{}),
		logger:      logger,
	}
	go p.wait()
	go p.watch(ctx)

	return p, nil
}

func (l *Launcher) env(env map[string]string) []string {
	var base []string
	if !l.isolateEnv {
		base = os.Environ()
	}

	return append(base, utilsenv.List(env)...)
}

func writerOrDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}

type process struct {
	cmd         *exec.Cmd
	gracePeriod time.Duration
	done        chan struct{}
	result      launcher.ExitResult
	termOnce    sync.Once
	logger      log.Logger
}

func (p *process) wait() {
	err := p.cmd.Wait()
	p.result = exitResult(err, p.cmd.ProcessState)
	p.logger.Debugf("Process finished with exit code %d", p.result.ExitCode)
	close(p.done)
}

func (p *process) watch(ctx context.Context) {
	select {
	case <-p.done:
	case <-ctx.Done():
		if err := p.Terminate(context.Background()); err != nil {
			p.logger.Warningf("Could not terminate process: %s", err)
		}
	}
}

func (p *process) Wait() launcher.ExitResult {
	<-p.done
	return p.result
}

func (p *process) Terminate(ctx context.Context) error {
	select {
	case <-p.done:
		return nil
	default:
	}

	p.termOnce.Do(func() {
		if err := terminateProcess(p.cmd); err != nil {
			p.logger.Debugf("Could not send terminate signal: %s", err)
		}
	})

	timer := time.NewTimer(p.gracePeriod)
	defer timer.Stop()
	select {
	case <-p.done:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	p.logger.Warningf("Process did not exit after terminate signal, killing it")
	if err := killProcess(p.cmd); err != nil {
		p.logger.Debugf("Could not kill process: %s", err)
	}

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("process did not finish: %w", ctx.Err())
	}
}

func exitResult(err error, state *os.ProcessState) launcher.ExitResult {
	if err == nil {
		return launcher.ExitResult{ExitCode: 0}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return launcher.ExitResult{ExitCode: exitErr.ExitCode()}
	}

	// Exited but the output could not be completely drained (WaitDelay).
	if errors.Is(err, exec.ErrWaitDelay) {
		code := -1
		if state != nil {
			code = state.ExitCode()
		}
		return launcher.ExitResult{ExitCode: code}
	}

	return launcher.ExitResult{ExitCode: -1, Err: err}
}
