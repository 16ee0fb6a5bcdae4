package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/slok/devup/internal/launcher"
	"github.com/slok/devup/internal/log"
	"github.com/slok/devup/internal/model"
	"github.com/slok/devup/internal/runtable"
	utilsenv "github.com/slok/devup/internal/utils/env"
)

// OutputSink receives the output of the launched tasks.
type OutputSink interface {
	Writer(task string, kind model.OutputStream) io.WriteCloser
	Close(task string)
	Reopen(task string)
	Tail(task string) []string
	Lines(task string) []string
}

// Recorder persists the session progress.
type Recorder interface {
	UpdateSession(ctx context.Context, s model.Session) error
	SaveTaskRun(ctx context.Context, sessionID string, status model.TaskStatus) error
}

// EngineConfig is the configuration of the execution engine.
type EngineConfig struct {
	Launcher launcher.Launcher
	// Runs is the shared task run table, the reporter reads from it.
	Runs   *runtable.Table
	Output OutputSink
	// Recorder is optional.
	Recorder       Recorder
	ReadinessProbe ReadinessProbe
	RestartPolicy  RestartPolicy
	// InitTimeout is the default init task timeout, 0 means no timeout.
	InitTimeout time.Duration
	// StopTimeout bounds the time a process has to be released on abort.
	StopTimeout time.Duration
	// Env is the manifest environment, task env and EnvOverrides take precedence.
	Env          map[string]string
	EnvOverrides map[string]string
	SessionID    string
	ManifestName string
	Logger       log.Logger
	TimeNow      func() time.Time
}

func (c *EngineConfig) defaults() error {
	if c.Launcher == nil {
		return fmt.Errorf("launcher is required")
	}

	if c.Runs == nil {
		c.Runs = runtable.New()
	}

	if c.Output == nil {
		c.Output = discardSink{}
	}

	if c.ReadinessProbe == nil {
		c.ReadinessProbe = NoopReadinessProbe
	}

	if c.RestartPolicy == nil {
		c.RestartPolicy = NeverRestart{}
	}

	if c.InitTimeout < 0 {
		return fmt.Errorf("init timeout can't be negative")
	}

	if c.StopTimeout <= 0 {
		c.StopTimeout = 30 * time.Second
	}

	if c.SessionID == "" {
		c.SessionID = ulid.Make().String()
	}

	if c.TimeNow == nil {
		c.TimeNow = func() time.Time { return time.Now().UTC() }
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "engine.Engine", "session": c.SessionID})

	return nil
}

// Engine runs a session: init tasks sequentially and then all the services
// concurrently. Every launched process is tracked until it has finished.
type Engine struct {
	launcher     launcher.Launcher
	runs         *runtable.Table
	output       OutputSink
	recorder     Recorder
	probe        ReadinessProbe
	restart      RestartPolicy
	initTimeout  time.Duration
	stopTimeout  time.Duration
	env          map[string]string
	envOverrides map[string]string
	sessionID    string
	manifestName string
	logger       log.Logger
	timeNow      func() time.Time

	mu         sync.Mutex
	state      model.SessionState
	stateErr   string
	createdAt  time.Time
	started    bool
	registered bool
	stopping   bool
	procs      map[string]launcher.Process
	cancelRun  context.CancelFunc
	cancelSvc  context.CancelFunc
	runDone    chan struct{}
	services   sync.WaitGroup
	stopOnce   sync.Once
	stopResult error
}

// NewEngine returns a new engine for a single session.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Engine{
		launcher:     cfg.Launcher,
		runs:         cfg.Runs,
		output:       cfg.Output,
		recorder:     cfg.Recorder,
		probe:        cfg.ReadinessProbe,
		restart:      cfg.RestartPolicy,
		initTimeout:  cfg.InitTimeout,
		stopTimeout:  cfg.StopTimeout,
		env:          cfg.Env,
		envOverrides: cfg.EnvOverrides,
		sessionID:    cfg.SessionID,
		manifestName: cfg.ManifestName,
		logger:       cfg.Logger,
		timeNow:      cfg.TimeNow,

		state:     model.SessionStateIdle,
		createdAt: cfg.TimeNow(),
		procs:     map[string]launcher.Process{},
		runDone:   make(chan struct{}),
	}, nil
}

// SessionID returns the session ID.
func (e *Engine) SessionID() string { return e.sessionID }

// Runs returns the task run table of the session.
func (e *Engine) Runs() *runtable.Table { return e.runs }

// State returns the current session state.
func (e *Engine) State() model.SessionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Session returns the current session.
func (e *Engine) Session() model.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session()
}

func (e *Engine) session() model.Session {
	return model.Session{
		ID:        e.sessionID,
		Manifest:  e.manifestName,
		State:     e.state,
		Error:     e.stateErr,
		CreatedAt: e.createdAt,
		UpdatedAt: e.timeNow(),
	}
}

// Register adds the session tasks to the run table as pending. Run does it
// when it has not been called before, callers that need the tasks before the
// session starts (e.g output subscriptions) can call it first.
func (e *Engine) Register(plan model.Plan, services []model.TaskSpec) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.registered {
		return nil
	}

	for _, step := range plan.Steps {
		if err := e.runs.Register(step.Task); err != nil {
			return err
		}
	}
	for _, svc := range services {
		if err := e.runs.Register(svc); err != nil {
			return err
		}
	}
	e.registered = true

	if e.recorder != nil {
		for _, run := range e.runs.List() {
			if err := e.recorder.SaveTaskRun(context.Background(), e.sessionID, model.TaskStatus{Run: run}); err != nil {
				e.logger.Warningf("Could not record task %q: %s", run.Name, err)
			}
		}
	}

	return nil
}

// Run runs the init tasks in plan order and then launches the services. It
// returns once the session is ready or aborted, services keep running until
// Abort is called.
func (e *Engine) Run(ctx context.Context, plan model.Plan, services []model.TaskSpec) (model.SessionState, error) {
	e.mu.Lock()
	if e.started || e.stopping {
		e.mu.Unlock()
		return e.State(), fmt.Errorf("session %s already started: %w", e.sessionID, model.ErrNotValid)
	}
	e.started = true
	runCtx, cancel := context.WithCancel(ctx)
	e.cancelRun = cancel
	e.mu.Unlock()

	defer close(e.runDone)
	defer cancel()

	if err := e.Register(plan, services); err != nil {
		return e.fail(err)
	}

	// Init phase.
	e.setState(model.SessionStateInit, nil)
	if err := e.launcher.Check(runCtx); err != nil {
		return e.fail(err)
	}

	for _, step := range plan.Steps {
		if e.isStopping() {
			return e.fail(fmt.Errorf("session aborted before running %q: %w", step.Task.Name, context.Canceled))
		}
		if err := e.runInit(runCtx, step.Task); err != nil {
			return e.fail(err)
		}
	}

	// Service phase.
	e.setState(model.SessionStateService, nil)

	// Services outlive the run context, they are stopped with Abort.
	svcCtx, svcCancel := context.WithCancel(context.WithoutCancel(runCtx))
	e.mu.Lock()
	e.cancelSvc = svcCancel
	e.mu.Unlock()
	var launched sync.WaitGroup
	for _, svc := range services {
		launched.Add(1)
		e.services.Add(1)
		go func() {
			defer e.services.Done()
			e.superviseService(svcCtx, svc, launched.Done)
		}()
	}
	launched.Wait()

	if e.isStopping() {
		return model.SessionStateClosed, nil
	}

	e.setState(model.SessionStateReady, nil)
	e.logger.Infof("Session ready")

	return model.SessionStateReady, nil
}

func (e *Engine) fail(err error) (model.SessionState, error) {
	e.setState(model.SessionStateAborted, err)
	e.logger.Errorf("Session aborted: %s", err)
	return model.SessionStateAborted, err
}

// Wait blocks until Run has returned and every service has finished.
func (e *Engine) Wait(ctx context.Context) error {
	e.mu.Lock()
	started := e.started
	e.mu.Unlock()

	if started {
		select {
		case <-e.runDone:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	done := make(chan struct{})
	go func() {
		e.services.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Abort terminates every running task of the session and waits until all of
// them have reached a terminal state. A session that reached the service phase
// ends closed.
func (e *Engine) Abort(ctx context.Context) error {
	e.stopOnce.Do(func() {
		e.stopResult = e.abort(ctx)
	})
	return e.stopResult
}

func (e *Engine) abort(ctx context.Context) error {
	e.logger.Infof("Aborting session")

	e.mu.Lock()
	e.stopping = true
	started := e.started
	if e.cancelRun != nil {
		e.cancelRun()
	}
	cancelSvc := e.cancelSvc
	e.mu.Unlock()

	errs := []error{e.terminateAll(ctx)}
	if cancelSvc != nil {
		cancelSvc()
	}

	if started {
		select {
		case <-e.runDone:
		case <-ctx.Done():
			return fmt.Errorf("session run did not finish: %w", ctx.Err())
		}
	}

	// Services that were being launched while stopping.
	e.mu.Lock()
	if e.cancelSvc != nil {
		e.cancelSvc()
	}
	e.mu.Unlock()
	errs = append(errs, e.terminateAll(ctx))

	if err := e.Wait(ctx); err != nil {
		errs = append(errs, fmt.Errorf("services did not finish: %w", err))
	}

	e.mu.Lock()
	closeSession := e.state != model.SessionStateAborted
	e.mu.Unlock()
	if closeSession {
		e.setState(model.SessionStateClosed, nil)
	}

	e.logger.Infof("Session finished")

	return errors.Join(errs...)
}

func (e *Engine) terminateAll(ctx context.Context) error {
	e.mu.Lock()
	procs := make(map[string]launcher.Process, len(e.procs))
	for name, p := range e.procs {
		procs[name] = p
	}
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, e.stopTimeout)
	defer cancel()

	var g errgroup.Group
	for name, p := range procs {
		g.Go(func() error {
			e.logger.Debugf("Terminating %q", name)
			if err := p.Terminate(ctx); err != nil {
				return fmt.Errorf("could not terminate %q: %w", name, err)
			}
			return nil
		})
	}

	return g.Wait()
}

// track registers a live process, if the session is stopping the process is
// not tracked and the caller must terminate it.
func (e *Engine) track(name string, p launcher.Process) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopping {
		return false
	}
	e.procs[name] = p
	return true
}

func (e *Engine) untrack(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.procs, name)
}

func (e *Engine) isStopping() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopping
}

func (e *Engine) setState(s model.SessionState, err error) {
	e.mu.Lock()
	e.state = s
	if err != nil {
		e.stateErr = err.Error()
	}
	sess := e.session()
	e.mu.Unlock()

	e.logger.Debugf("Session state: %s", s)

	if e.recorder != nil {
		if err := e.recorder.UpdateSession(context.Background(), sess); err != nil {
			e.logger.Warningf("Could not record session: %s", err)
		}
	}
}

func (e *Engine) updateRun(name string, fn func(r *model.TaskRun)) model.TaskRun {
	run, err := e.runs.Update(name, fn)
	if err != nil {
		e.logger.Errorf("Could not update task %q: %s", name, err)
		return run
	}

	if e.recorder != nil {
		status := model.TaskStatus{Run: run, Tail: e.output.Tail(name)}
		if err := e.recorder.SaveTaskRun(context.Background(), e.sessionID, status); err != nil {
			e.logger.Warningf("Could not record task %q: %s", name, err)
		}
	}

	return run
}

func (e *Engine) request(task model.TaskSpec, command string, stdout, stderr io.Writer) launcher.Request {
	return launcher.Request{
		SessionID: e.sessionID,
		Task:      task,
		Command:   command,
		Env:       utilsenv.MergeMaps(e.env, task.Env, e.envOverrides),
		Stdout:    stdout,
		Stderr:    stderr,
	}
}

type discardSink struct{}

func (discardSink) Writer(string, model.OutputStream) io.WriteCloser { return nopWriteCloser{io.Discard} }
func (discardSink) Close(string) {}
func (discardSink) Reopen(string) {}
func (discardSink) Tail(string) []string  { return nil }
func (discardSink) Lines(string) []string { return nil }

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
