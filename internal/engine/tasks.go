package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/slok/devup/internal/launcher"
	"github.com/slok/devup/internal/log"
	"github.com/slok/devup/internal/model"
)

// runInit runs all the commands of an init task sequentially, the first
// failing command fails the task.
func (e *Engine) runInit(ctx context.Context, task model.TaskSpec) error {
	logger := e.logger.WithValues(log.Kv{"task": task.Name})
	logger.Infof("Running init task")

	timeout := task.Timeout
	if timeout == 0 {
		timeout = e.initTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	now := e.timeNow()
	e.updateRun(task.Name, func(r *model.TaskRun) {
		r.State = model.TaskRunStateRunning
		r.StartedAt = &now
	})

	stdout := e.output.Writer(task.Name, model.OutputStreamStdout)
	stderr := e.output.Writer(task.Name, model.OutputStreamStderr)

	failure := e.runInitCommands(ctx, task, timeout, stdout, stderr)

	_ = stdout.Close()
	_ = stderr.Close()
	e.output.Close(task.Name)

	finished := e.timeNow()
	if failure != nil {
		failure.Output = e.output.Lines(task.Name)
		e.updateRun(task.Name, func(r *model.TaskRun) {
			r.State = model.TaskRunStateFailed
			r.FinishedAt = &finished
			r.ExitCode = failure.ExitCode
			r.Error = failure.Error()
		})
		logger.Errorf("Init task failed: %s", failure)
		return failure
	}

	e.updateRun(task.Name, func(r *model.TaskRun) {
		r.State = model.TaskRunStateSucceeded
		r.FinishedAt = &finished
		r.ExitCode = 0
	})
	logger.Infof("Init task succeeded")

	return nil
}

func (e *Engine) runInitCommands(ctx context.Context, task model.TaskSpec, timeout time.Duration, stdout, stderr io.Writer) *model.InitTaskFailureError {
	for _, cmd := range task.Commands {
		proc, err := e.launcher.Launch(ctx, e.request(task, cmd, stdout, stderr))
		if err != nil {
			return &model.InitTaskFailureError{Task: task.Name, Command: cmd, ExitCode: -1, Err: fmt.Errorf("could not launch: %w", err)}
		}

		if !e.track(task.Name, proc) {
			_ = proc.Terminate(context.Background())
		}
		res := proc.Wait()
		e.untrack(task.Name)

		if res.Success() {
			continue
		}

		failure := &model.InitTaskFailureError{Task: task.Name, Command: cmd, ExitCode: res.ExitCode, Err: res.Err}
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			failure.Err = fmt.Errorf("timed out after %s", timeout)
		case ctx.Err() != nil:
			failure.Err = fmt.Errorf("session aborted: %w", ctx.Err())
		}
		return failure
	}

	return nil
}

// superviseService launches a service and follows it until it has finished.
// launched is called once the first launch attempt and its readiness probe
// have completed.
func (e *Engine) superviseService(ctx context.Context, task model.TaskSpec, launched func()) {
	logger := e.logger.WithValues(log.Kv{"task": task.Name})

	notified := false
	notifyLaunched := func() {
		if !notified {
			notified = true
			launched()
		}
	}
	defer notifyLaunched()

	for {
		stopped, crash := e.runService(ctx, logger, task, notifyLaunched)
		if stopped {
			return
		}

		run, err := e.runs.Get(task.Name)
		if err != nil || crash.probe || e.isStopping() || !e.restart.Restart(run) {
			e.output.Close(task.Name)
			return
		}

		logger.Warningf("Restarting crashed service (restart %d)", run.Restarts+1)
		e.output.Reopen(task.Name)
		e.updateRun(task.Name, func(r *model.TaskRun) {
			r.Restarts++
		})
	}
}

var errExitedBeforeReady = errors.New("process exited before being ready")

type serviceCrash struct {
	probe bool
}

// runService runs a single service process. It returns stopped when the
// service was terminated by the session.
func (e *Engine) runService(ctx context.Context, logger log.Logger, task model.TaskSpec, launched func()) (stopped bool, crash serviceCrash) {
	now := e.timeNow()
	e.updateRun(task.Name, func(r *model.TaskRun) {
		r.State = model.TaskRunStateRunning
		r.StartedAt = &now
		r.FinishedAt = nil
		r.ExitCode = -1
		r.Error = ""
	})

	stdout := e.output.Writer(task.Name, model.OutputStreamStdout)
	stderr := e.output.Writer(task.Name, model.OutputStreamStderr)
	closeWriters := func() {
		_ = stdout.Close()
		_ = stderr.Close()
	}

	proc, err := e.launcher.Launch(ctx, e.request(task, task.Command(), stdout, stderr))
	if err != nil {
		closeWriters()
		e.markCrashed(logger, task.Name, -1, fmt.Errorf("%w: could not launch: %w", model.ErrServiceCrash, err))
		launched()
		return false, crash
	}
	logger.Infof("Service launched")

	if !e.track(task.Name, proc) {
		e.release(logger, proc)
	}

	// A process that exits while being probed will never become ready, the
	// exit is handled as a regular crash.
	probeCtx, stopProbe := context.WithCancelCause(ctx)
	go func() {
		proc.Wait()
		stopProbe(errExitedBeforeReady)
	}()

	var probeErr error
	err = e.probe.Probe(probeCtx, task)
	exited := errors.Is(context.Cause(probeCtx), errExitedBeforeReady)
	stopProbe(nil)
	if err != nil && !exited {
		probeErr = fmt.Errorf("readiness probe failed: %w", err)
		crash.probe = true
		e.release(logger, proc)
	}
	launched()

	res := proc.Wait()
	e.untrack(task.Name)
	closeWriters()

	finished := e.timeNow()
	if e.isStopping() {
		e.updateRun(task.Name, func(r *model.TaskRun) {
			r.State = model.TaskRunStateStopped
			r.FinishedAt = &finished
			r.ExitCode = res.ExitCode
		})
		e.output.Close(task.Name)
		logger.Infof("Service stopped")
		return true, crash
	}

	// The exited process can still hold resources (e.g a stopped container),
	// it must be released before marking the crash or restarting.
	if !crash.probe {
		e.release(logger, proc)
	}

	cause := fmt.Errorf("%w: exited with code %d", model.ErrServiceCrash, res.ExitCode)
	switch {
	case probeErr != nil:
		cause = fmt.Errorf("%w: %w", model.ErrServiceCrash, probeErr)
	case res.Err != nil:
		cause = fmt.Errorf("%w: %w", model.ErrServiceCrash, res.Err)
	}
	e.markCrashed(logger, task.Name, res.ExitCode, cause)

	return false, crash
}

func (e *Engine) markCrashed(logger log.Logger, name string, exitCode int, cause error) {
	finished := e.timeNow()
	e.updateRun(name, func(r *model.TaskRun) {
		r.State = model.TaskRunStateCrashed
		r.FinishedAt = &finished
		r.ExitCode = exitCode
		r.Error = cause.Error()
	})
	logger.Warningf("Service crashed: %s", cause)
}

func (e *Engine) release(logger log.Logger, proc launcher.Process) {
	ctx, cancel := context.WithTimeout(context.Background(), e.stopTimeout)
	defer cancel()
	if err := proc.Terminate(ctx); err != nil {
		logger.Errorf("Could not release process: %s", err)
	}
}
