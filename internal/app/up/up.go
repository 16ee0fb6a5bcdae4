package up

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/slok/devup/internal/engine"
	"github.com/slok/devup/internal/launcher"
	"github.com/slok/devup/internal/log"
	"github.com/slok/devup/internal/model"
	"github.com/slok/devup/internal/ports"
	"github.com/slok/devup/internal/printer"
	"github.com/slok/devup/internal/reporter"
	"github.com/slok/devup/internal/runtable"
	"github.com/slok/devup/internal/sequencer"
	"github.com/slok/devup/internal/storage"
	storageio "github.com/slok/devup/internal/storage/io"
)

const (
	defaultStopTimeout  = 30 * time.Second
	defaultReadyTimeout = time.Minute
	followRetryInterval = 500 * time.Millisecond
	followDrainTimeout  = time.Second
)

// ServiceConfig is the configuration for the up service.
type ServiceConfig struct {
	ManifestRepository storageio.ManifestRepository
	Repository         storage.Repository
	// Launcher launches the shell tasks.
	Launcher launcher.Launcher
	// ContainerLauncher launches the container tasks, optional when the
	// manifests don't use containers.
	ContainerLauncher launcher.Launcher
	// Printer prints the port table once the session is ready, optional.
	Printer printer.PortsPrinter
	// Out receives the task output prefixed with the task name, nil disables it.
	Out            io.Writer
	ReadinessProbe engine.ReadinessProbe
	RestartPolicy  engine.RestartPolicy
	// InitTimeout is the default init task timeout, 0 means no timeout.
	InitTimeout time.Duration
	StopTimeout time.Duration
	Logger      log.Logger
	TimeNow     func() time.Time
}

func (c *ServiceConfig) defaults() error {
	if c.ManifestRepository == nil {
		return fmt.Errorf("manifest repository is required")
	}
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}
	if c.Launcher == nil {
		return fmt.Errorf("launcher is required")
	}
	if c.ReadinessProbe == nil {
		c.ReadinessProbe = engine.TCPProbe{Timeout: defaultReadyTimeout}
	}
	if c.RestartPolicy == nil {
		c.RestartPolicy = engine.NeverRestart{}
	}
	if c.InitTimeout < 0 {
		return fmt.Errorf("init timeout can't be negative")
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = defaultStopTimeout
	}
	if c.TimeNow == nil {
		c.TimeNow = func() time.Time { return time.Now().UTC() }
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Up"})
	return nil
}

// Service brings up an environment and keeps it running until the context
// is done.
type Service struct {
	manifests   storageio.ManifestRepository
	repo        storage.Repository
	launcher    launcher.Launcher
	containers  launcher.Launcher
	printer     printer.PortsPrinter
	out         io.Writer
	probe       engine.ReadinessProbe
	restart     engine.RestartPolicy
	initTimeout time.Duration
	stopTimeout time.Duration
	logger      log.Logger
	timeNow     func() time.Time
}

// NewService creates a new up service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		manifests:   cfg.ManifestRepository,
		repo:        cfg.Repository,
		launcher:    cfg.Launcher,
		containers:  cfg.ContainerLauncher,
		printer:     cfg.Printer,
		out:         cfg.Out,
		probe:       cfg.ReadinessProbe,
		restart:     cfg.RestartPolicy,
		initTimeout: cfg.InitTimeout,
		stopTimeout: cfg.StopTimeout,
		logger:      cfg.Logger,
		timeNow:     cfg.TimeNow,
	}, nil
}

// Request represents the up request parameters.
type Request struct {
	ManifestPath string
	// Env overrides the manifest and task environment.
	Env map[string]string
	// Follow restricts the output to these tasks, all the tasks when empty.
	Follow []string
	// Ready is called once the session is ready, optional.
	Ready func(sessionID string)
}

// Response is the final status of the session.
type Response struct {
	Session model.Session
	Tasks   []model.TaskStatus
}

// Run runs the init tasks, launches the services and blocks until the
// context is done, then every running service is stopped. An aborted session
// returns an error.
func (s *Service) Run(ctx context.Context, req Request) (*Response, error) {
	// 1. Load and plan.
	if req.ManifestPath == "" {
		return nil, fmt.Errorf("manifest path is required: %w", model.ErrNotValid)
	}

	m, err := s.manifests.GetManifest(ctx, req.ManifestPath)
	if err != nil {
		return nil, fmt.Errorf("could not load manifest: %w", err)
	}

	plan, err := sequencer.Sequence(m)
	if err != nil {
		return nil, fmt.Errorf("could not sequence init tasks: %w", err)
	}

	portTable, err := ports.Declare(m.Ports)
	if err != nil {
		return nil, err
	}

	if err := checkFollow(m, req.Follow); err != nil {
		return nil, err
	}

	// 2. Prepare the session.
	runs := runtable.New()
	echo := s.out
	if len(req.Follow) > 0 {
		echo = nil
	}
	rep, err := reporter.NewReporter(reporter.ReporterConfig{
		Runs:   runs,
		Out:    echo,
		Logger: s.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create reporter: %w", err)
	}

	now := s.timeNow()
	session := model.Session{
		ID:        ulid.Make().String(),
		Manifest:  m.Name,
		State:     model.SessionStateIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("could not create session: %w", err)
	}
	logger := s.logger.WithValues(log.Kv{"session": session.ID})

	router := launcher.Router{
		Shell:            s.launcher,
		Container:        s.containers,
		RequireContainer: usesContainers(m),
	}
	eng, err := engine.NewEngine(engine.EngineConfig{
		Launcher:       router,
		Runs:           runs,
		Output:         rep,
		Recorder:       s.repo,
		ReadinessProbe: s.probe,
		RestartPolicy:  s.restart,
		InitTimeout:    s.initTimeout,
		StopTimeout:    s.stopTimeout,
		Env:            m.Env,
		EnvOverrides:   req.Env,
		SessionID:      session.ID,
		ManifestName:   m.Name,
		Logger:         s.logger,
		TimeNow:        s.timeNow,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create engine: %w", err)
	}
	if err := eng.Register(plan, m.Services); err != nil {
		return nil, fmt.Errorf("could not register tasks: %w", err)
	}

	// Followers keep printing until the session has been shut down.
	followCtx, stopFollow := context.WithCancel(context.WithoutCancel(ctx))
	defer stopFollow()
	finished := make(chan struct{})
	var followers sync.WaitGroup
	if s.out != nil {
		out := &lockedWriter{w: s.out}
		for _, task := range req.Follow {
			followers.Add(1)
			go func() {
				defer followers.Done()
				s.follow(followCtx, finished, rep, runs, task, out)
			}()
		}
	}

	// 3. Run.
	logger.Infof("Starting %q session", m.Name)
	state, runErr := eng.Run(ctx, plan, m.Services)
	if runErr == nil && state == model.SessionStateReady {
		logger.Infof("Session ready")
		if s.printer != nil {
			if err := s.printer.PrintPorts(portTable); err != nil {
				logger.Warningf("Could not print ports: %s", err)
			}
		}
		if req.Ready != nil {
			req.Ready(session.ID)
		}

		<-ctx.Done()
		logger.Infof("Shutting down session")
	}

	// 4. Shutdown, it's also needed on aborted sessions to release the runs.
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*s.stopTimeout)
	defer cancel()
	abortErr := eng.Abort(stopCtx)
	if abortErr != nil {
		logger.Warningf("Session shutdown was not clean: %s", abortErr)
	}

	// Give the followers the chance to drain the last lines.
	close(finished)
	waitFollowers(&followers, stopFollow, followDrainTimeout)

	resp := &Response{
		Session: eng.Session(),
		Tasks:   rep.Statuses(),
	}

	if runErr != nil {
		s.printInitFailure(runErr, req.Follow)
		return resp, fmt.Errorf("session %s aborted: %w", session.ID, runErr)
	}

	return resp, abortErr
}

// printInitFailure prints the output of a failed init task when it was not
// already printed while the session was running.
func (s *Service) printInitFailure(runErr error, follow []string) {
	var failure *model.InitTaskFailureError
	if s.out == nil || len(follow) == 0 || !errors.As(runErr, &failure) || slices.Contains(follow, failure.Task) {
		return
	}

	for _, l := range failure.Output {
		fmt.Fprintf(s.out, "[%s] %s\n", failure.Task, l)
	}
}

func usesContainers(m model.Manifest) bool {
	for _, t := range m.Tasks() {
		if t.Container != nil {
			return true
		}
	}
	return false
}

// checkFollow checks that all the followed tasks are in the manifest.
func checkFollow(m model.Manifest, follow []string) error {
	names := map[string]struct{}{}
	for _, t := range m.Tasks() {
		names[t.Name] = struct{}{}
	}

	var errs []error
	for _, f := range follow {
		if _, ok := names[f]; !ok {
			errs = append(errs, fmt.Errorf("followed task %q is not in the manifest: %w", f, model.ErrNotValid))
		}
	}

	return errors.Join(errs...)
}

// follow prints the output of a task. Restarted services reopen their output,
// so the task is subscribed again skipping the lines already printed. Once the
// session has finished it returns after the output has been drained.
func (s *Service) follow(ctx context.Context, finished <-chan struct{}, rep *reporter.Reporter, runs *runtable.Table, task string, out io.Writer) {
	var last uint64
	for {
		lines, err := rep.Subscribe(ctx, task)
		if err != nil {
			s.logger.Warningf("Could not follow %q output: %s", task, err)
			return
		}
		for l := range lines {
			if l.Seq <= last {
				continue
			}
			last = l.Seq
			fmt.Fprintf(out, "[%s] %s\n", task, l.Text)
		}

		run, err := runs.Get(task)
		if err != nil {
			return
		}
		if run.State == model.TaskRunStateStopped || (run.Class == model.TaskClassInit && run.State.IsTerminal()) {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-finished:
			return
		case <-time.After(followRetryInterval):
		}
	}
}

func waitFollowers(wg *sync.WaitGroup, stop context.CancelFunc, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
	}
	stop()
	<-done
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
