package lib

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/slok/devup/internal/app/history"
	appports "github.com/slok/devup/internal/app/ports"
	"github.com/slok/devup/internal/app/status"
	"github.com/slok/devup/internal/app/up"
	"github.com/slok/devup/internal/app/validate"
	"github.com/slok/devup/internal/conventions"
	"github.com/slok/devup/internal/engine"
	"github.com/slok/devup/internal/launcher"
	"github.com/slok/devup/internal/launcher/docker"
	"github.com/slok/devup/internal/launcher/fake"
	"github.com/slok/devup/internal/launcher/shell"
	"github.com/slok/devup/internal/log"
	"github.com/slok/devup/internal/model"
	"github.com/slok/devup/internal/storage"
	storageio "github.com/slok/devup/internal/storage/io"
	"github.com/slok/devup/internal/storage/memory"
	"github.com/slok/devup/internal/storage/sqlite"
)

// Config configures the SDK client.
//
// All fields are optional. An empty Config{} stores the history in
// ~/.devup/devup.db and runs the tasks with /bin/sh.
type Config struct {
	// DBPath is the SQLite session history path.
	// Default: <DataDir>/devup.db.
	DBPath string

	// DataDir is the base directory for devup data.
	// Default: ~/.devup.
	DataDir string

	// Ephemeral keeps the session history in memory.
	Ephemeral bool

	// Logger receives structured log output from the SDK.
	// Default: noop (silent). See the log sub-package for the interface.
	Logger log.Logger

	// Runtime selects how the tasks are run. Default: [RuntimeShell].
	Runtime RuntimeType

	// Shell interprets the task commands. Default: /bin/sh.
	Shell string

	// InitTimeout is the default init task timeout, 0 is unlimited.
	InitTimeout time.Duration

	// StopTimeout is the grace period the tasks have to stop on shutdown.
	// Default: 10s.
	StopTimeout time.Duration

	// ReadyTimeout bounds the wait of services with a ready port.
	// Default: 1m.
	ReadyTimeout time.Duration

	// MaxRestarts is the number of times a crashed service is restarted.
	MaxRestarts int
}

func (c *Config) defaults() error {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("could not get user home dir: %w", err)
		}
		c.DataDir = filepath.Join(home, conventions.DefaultDataDir)
	}

	if c.DBPath == "" {
		c.DBPath = conventions.DBPath(c.DataDir)
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}

	switch c.Runtime {
	case "":
		c.Runtime = RuntimeShell
	case RuntimeShell, RuntimeFake:
	default:
		return fmt.Errorf("unknown runtime %q: %w", c.Runtime, ErrNotValid)
	}

	if c.InitTimeout < 0 {
		return fmt.Errorf("init timeout can't be negative: %w", ErrNotValid)
	}

	if c.StopTimeout <= 0 {
		c.StopTimeout = 10 * time.Second
	}

	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = time.Minute
	}

	if c.MaxRestarts < 0 {
		return fmt.Errorf("max restarts can't be negative: %w", ErrNotValid)
	}

	return nil
}

// Client is the main SDK entry point.
//
// Create a Client with [New] and release its resources with [Client.Close].
// A Client is safe for concurrent use, every [Client.Up] call is an
// independent session.
type Client struct {
	repo    storage.Repository
	cfg     Config
	logger  log.Logger
	closeFn func() error
}

// New creates a new SDK client.
//
// The caller must call [Client.Close] when done to release the history
// database connection.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := &Client{cfg: cfg, logger: cfg.Logger}
	if cfg.Ephemeral {
		repo, err := memory.NewRepository(memory.RepositoryConfig{Logger: cfg.Logger})
		if err != nil {
			return nil, fmt.Errorf("could not create repository: %w", err)
		}
		c.repo = repo
		return c, nil
	}

	repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
		DBPath: cfg.DBPath,
		Logger: cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create repository: %w", err)
	}
	c.repo = repo
	c.closeFn = repo.Close

	return c, nil
}

// Close releases resources held by the client, including the database connection.
// After Close returns, the client must not be used.
func (c *Client) Close() error {
	if c.closeFn != nil {
		return c.closeFn()
	}
	return nil
}

// Up runs a session of a manifest: the init tasks in order and then the
// services. It blocks until ctx is cancelled, then the services are stopped
// and the final status is returned.
//
// Returns [ErrInitTaskFailure] if an init task fails (the status is also
// returned), [ErrParse] or [ErrNotValid] if the manifest can't be used.
func (c *Client) Up(ctx context.Context, opts UpOpts) (*SessionStatus, error) {
	manifests, path, err := storageio.NewFileManifestRepository(opts.ManifestPath)
	if err != nil {
		return nil, mapError(err)
	}

	shellLauncher, containerLauncher, err := c.newLaunchers()
	if err != nil {
		return nil, mapError(err)
	}

	var probe engine.ReadinessProbe = engine.TCPProbe{Timeout: c.cfg.ReadyTimeout}
	if c.cfg.Runtime == RuntimeFake {
		probe = engine.NoopReadinessProbe
	}

	var restart engine.RestartPolicy = engine.NeverRestart{}
	if c.cfg.MaxRestarts > 0 {
		restart = engine.MaxRestarts(c.cfg.MaxRestarts)
	}

	svc, err := up.NewService(up.ServiceConfig{
		ManifestRepository: manifests,
		Repository:         c.repo,
		Launcher:           shellLauncher,
		ContainerLauncher:  containerLauncher,
		Out:                opts.Output,
		ReadinessProbe:     probe,
		RestartPolicy:      restart,
		InitTimeout:        c.cfg.InitTimeout,
		StopTimeout:        c.cfg.StopTimeout,
		Logger:             c.logger,
	})
	if err != nil {
		return nil, mapError(fmt.Errorf("could not create service: %w", err))
	}

	resp, err := svc.Run(ctx, up.Request{
		ManifestPath: path,
		Env:          opts.Env,
		Follow:       opts.Follow,
		Ready:        opts.Ready,
	})

	var st *SessionStatus
	if resp != nil {
		st = &SessionStatus{
			Session: fromInternalSession(resp.Session),
			Tasks:   fromInternalTaskStatuses(resp.Tasks),
		}
	}

	return st, mapError(err)
}

// Validate checks a manifest and returns its execution plan.
func (c *Client) Validate(ctx context.Context, manifestPath string) (*ValidateResult, error) {
	manifests, path, err := storageio.NewFileManifestRepository(manifestPath)
	if err != nil {
		return nil, mapError(err)
	}

	svc, err := validate.NewService(validate.ServiceConfig{
		ManifestRepository: manifests,
		Logger:             c.logger,
	})
	if err != nil {
		return nil, mapError(fmt.Errorf("could not create service: %w", err))
	}

	resp, err := svc.Run(ctx, validate.Request{ManifestPath: path})
	if err != nil {
		return nil, mapError(err)
	}

	res := fromInternalPlan(resp.Manifest, resp.Plan, resp.Ports)
	return &res, nil
}

// Ports returns the ports declared by a manifest in declaration order.
func (c *Client) Ports(ctx context.Context, manifestPath string) ([]Port, error) {
	manifests, path, err := storageio.NewFileManifestRepository(manifestPath)
	if err != nil {
		return nil, mapError(err)
	}

	svc, err := appports.NewService(appports.ServiceConfig{
		ManifestRepository: manifests,
		Logger:             c.logger,
	})
	if err != nil {
		return nil, mapError(fmt.Errorf("could not create service: %w", err))
	}

	table, err := svc.Run(ctx, appports.Request{ManifestPath: path})
	if err != nil {
		return nil, mapError(err)
	}

	return fromInternalPorts(table), nil
}

// Status returns the status of a stored session, the latest one when
// sessionID is empty.
//
// Returns [ErrNotFound] if the session does not exist.
func (c *Client) Status(ctx context.Context, sessionID string) (*SessionStatus, error) {
	svc, err := status.NewService(status.ServiceConfig{
		Repository: c.repo,
		Logger:     c.logger,
	})
	if err != nil {
		return nil, mapError(fmt.Errorf("could not create service: %w", err))
	}

	resp, err := svc.Run(ctx, status.Request{SessionID: sessionID})
	if err != nil {
		return nil, mapError(err)
	}

	return &SessionStatus{
		Session: fromInternalSession(resp.Session),
		Tasks:   fromInternalTaskStatuses(resp.Tasks),
	}, nil
}

// History lists the stored sessions, newest first. Pass nil to list all.
func (c *Client) History(ctx context.Context, opts *ListSessionsOpts) ([]Session, error) {
	svc, err := history.NewService(history.ServiceConfig{
		Repository: c.repo,
		Logger:     c.logger,
	})
	if err != nil {
		return nil, mapError(fmt.Errorf("could not create service: %w", err))
	}

	req := history.Request{}
	if opts != nil {
		req.Limit = opts.Limit
		if opts.State != nil {
			s := model.SessionState(*opts.State)
			req.StateFilter = &s
		}
	}

	sessions, err := svc.Run(ctx, req)
	if err != nil {
		return nil, mapError(err)
	}

	return fromInternalSessionList(sessions), nil
}

func (c *Client) newLaunchers() (shellLauncher, containerLauncher launcher.Launcher, err error) {
	if c.cfg.Runtime == RuntimeFake {
		l, err := fake.NewLauncher(fake.LauncherConfig{
			Default:        fake.Behavior{EchoCommand: true},
			ServiceDefault: &fake.Behavior{EchoCommand: true, LongRunning: true},
			Logger:         c.logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("could not create fake launcher: %w", err)
		}
		return l, l, nil
	}

	sl, err := shell.NewLauncher(shell.LauncherConfig{
		Shell:       c.cfg.Shell,
		GracePeriod: c.cfg.StopTimeout,
		Logger:      c.logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("could not create shell launcher: %w", err)
	}

	dl, err := docker.NewLauncher(docker.LauncherConfig{
		StopTimeout: c.cfg.StopTimeout,
		Logger:      c.logger,
	})
	if err != nil {
		c.logger.Warningf("Container runtime not available: %s", err)
		return sl, nil, nil
	}

	return sl, dl, nil
}
