package fake

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/slok/devup/internal/launcher"
	"github.com/slok/devup/internal/log"
	"github.com/slok/devup/internal/model"
)

// Behavior is how a fake process behaves.
type Behavior struct {
	// Stdout and Stderr lines written when the process starts.
	Stdout []string
	Stderr []string
	// ExitCode is the code returned when the process finishes on its own.
	ExitCode int
	// Duration is how long the process runs before exiting.
	Duration time.Duration
	// LongRunning processes only exit when terminated.
	LongRunning bool
	// LaunchErr makes the launch fail.
	LaunchErr error
	// Crashes makes the process exit with ExitCode on its first N launches,
	// after that the process behaves as long running.
	Crashes int
	// EchoCommand writes the launched command as the first stdout line.
	EchoCommand bool
}

// LauncherConfig is the configuration for the fake launcher.
type LauncherConfig struct {
	// Behaviors by command. When a command is missing, the task name is used.
	Behaviors map[string]Behavior
	// Default is the behavior used when no behavior matches.
	Default Behavior
	// ServiceDefault is used instead of Default for service tasks when set.
	ServiceDefault *Behavior
	CheckErr       error
	Logger         log.Logger
}

func (c *LauncherConfig) defaults() error {
	if c.Behaviors == nil {
		c.Behaviors = map[string]Behavior{}
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "launcher.Fake"})

	return nil
}

// Launcher is a fake launcher that simulates processes without running anything.
type Launcher struct {
	behaviors  map[string]Behavior
	def        Behavior
	svcDef     *Behavior
	checkErr   error
	launches   []launcher.Request
	launchByID map[string]int
	terminated []string
	running    int
	maxRunning int
	mu         sync.Mutex
	logger     log.Logger
}

// NewLauncher returns a new fake launcher.
func NewLauncher(cfg LauncherConfig) (*Launcher, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Launcher{
		behaviors:  cfg.Behaviors,
		def:        cfg.Default,
		svcDef:     cfg.ServiceDefault,
		checkErr:   cfg.CheckErr,
		launchByID: map[string]int{},
		logger:     cfg.Logger,
	}, nil
}

func (l *Launcher) Check(ctx context.Context) error {
	return l.checkErr
}

func (l *Launcher) Launch(ctx context.Context, req launcher.Request) (launcher.Process, error) {
	b, key := l.behavior(req)

	l.mu.Lock()
	l.launches = append(l.launches, req)
	n := l.launchByID[key]
	l.launchByID[key]++
	l.mu.Unlock()

	if b.LaunchErr != nil {
		return nil, b.LaunchErr
	}

	if b.Crashes > 0 {
		b.LongRunning = n >= b.Crashes
	}

	l.mu.Lock()
	l.running++
	if l.running > l.maxRunning {
		l.maxRunning = l.running
	}
	l.mu.Unlock()

	l.logger.Debugf("Launching %q (%s)", req.Task.Name, req.Command)

	p := &process{
		name:     req.Task.Name,
		launcher: l,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go p.run(ctx, b, req.Command, req.Stdout, req.Stderr)

	return p, nil
}

func (l *Launcher) behavior(req launcher.Request) (Behavior, string) {
	if b, ok := l.behaviors[req.Command]; ok && req.Command != "" {
		return b, req.Command
	}
	if b, ok := l.behaviors[req.Task.Name]; ok {
		return b, req.Task.Name
	}
	if req.Task.Class == model.TaskClassService && l.svcDef != nil {
		return *l.svcDef, req.Task.Name + "/" + req.Command
	}
	return l.def, req.Task.Name + "/" + req.Command
}

// Launches returns all the launch requests in order.
func (l *Launcher) Launches() []launcher.Request {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]launcher.Request{}, l.launches...)
}

// Commands returns the launched commands in order.
func (l *Launcher) Commands() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	cmds := make([]string, 0, len(l.launches))
	for _, r := range l.launches {
		cmds = append(cmds, r.Command)
	}
	return cmds
}

// Terminated returns the task names of the terminated processes.
func (l *Launcher) Terminated() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string{}, l.terminated...)
}

// Running returns the number of processes that have not finished.
func (l *Launcher) Running() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// MaxRunning returns the maximum number of processes that were running at the same time.
func (l *Launcher) MaxRunning() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.maxRunning
}

type process struct {
	name     string
	launcher *Launcher
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	result   launcher.ExitResult
}

func (p *process) run(ctx context.Context, b Behavior, command string, stdout, stderr io.Writer) {
	defer func() {
		p.launcher.mu.Lock()
		p.launcher.running--
		p.launcher.mu.Unlock()
		close(p.done)
	}()

	if b.EchoCommand {
		writeLines(stdout, []string{"$ " + command})
	}
	writeLines(stdout, b.Stdout)
	writeLines(stderr, b.Stderr)

	var exit <-chan time.Time
	if !b.LongRunning {
		t := time.NewTimer(b.Duration)
		defer t.Stop()
		exit = t.C
	}

	select {
	case <-exit:
		p.result = launcher.ExitResult{ExitCode: b.ExitCode}
	case <-p.stop:
		p.result = launcher.ExitResult{ExitCode: -1}
	case <-ctx.Done():
		p.result = launcher.ExitResult{ExitCode: -1, Err: ctx.Err()}
	}
}

func (p *process) Wait() launcher.ExitResult {
	<-p.done
	return p.result
}

func (p *process) Terminate(ctx context.Context) error {
	p.stopOnce.Do(func() {
		p.launcher.mu.Lock()
		p.launcher.terminated = append(p.launcher.terminated, p.name)
		p.launcher.mu.Unlock()
		close(p.stop)
	})

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func writeLines(w io.Writer, lines []string) {
	if w == nil {
		return
	}
	for _, l := range lines {
		_, _ = io.WriteString(w, l+"\n")
	}
}
