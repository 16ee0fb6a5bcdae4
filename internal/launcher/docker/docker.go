package docker

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/slok/devup/internal/conventions"
	"github.com/slok/devup/internal/launcher"
	"github.com/slok/devup/internal/log"
	"github.com/slok/devup/internal/model"
	utilsenv "github.com/slok/devup/internal/utils/env"
)

// DockerClient is the interface for Docker operations that we use.
// This allows us to mock the Docker client for testing.
type DockerClient interface {
	Ping(ctx context.Context) (types.Ping, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
}

// LauncherConfig is the configuration for the Docker launcher.
type LauncherConfig struct {
	Client DockerClient
	// StopTimeout is the time the container has to stop before being killed.
	StopTimeout time.Duration
	// SkipPull doesn't pull the images before creating the containers.
	SkipPull bool
	Logger   log.Logger
}

func (c *LauncherConfig) defaults() error {
	if c.Client == nil {
		// Create a default Docker client
		cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return fmt.Errorf("could not create Docker client: %w", err)
		}
		c.Client = cli
	}

	if c.StopTimeout <= 0 {
		c.StopTimeout = 10 * time.Second
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "launcher.Docker"})

	return nil
}

// Launcher launches tasks as Docker containers.
type Launcher struct {
	client      DockerClient
	stopTimeout time.Duration
	skipPull    bool
	logger      log.Logger
}

// NewLauncher returns a new Docker launcher.
func NewLauncher(cfg LauncherConfig) (*Launcher, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Launcher{
		client:      cfg.Client,
		stopTimeout: cfg.StopTimeout,
		skipPull:    cfg.SkipPull,
		logger:      cfg.Logger,
	}, nil
}

// Check checks the Docker daemon is reachable.
func (l *Launcher) Check(ctx context.Context) error {
	if _, err := l.client.Ping(ctx); err != nil {
		return fmt.Errorf("docker daemon not reachable: %w: %w", model.ErrExternalCommandUnavailable, err)
	}

	return nil
}

// Launch creates and starts the task container.
func (l *Launcher) Launch(ctx context.Context, req launcher.Request) (launcher.Process, error) {
	spec := req.Task.Container
	if spec == nil {
		return nil, fmt.Errorf("task %q has no container: %w", req.Task.Name, model.ErrNotValid)
	}

	exposed, bindings, err := nat.ParsePortSpecs(spec.Ports)
	if err != nil {
		return nil, fmt.Errorf("invalid ports on task %q: %w: %w", req.Task.Name, model.ErrNotValid, err)
	}

	name := ContainerName(req.SessionID, req.Task.Name)
	logger := l.logger.WithValues(log.Kv{"task": req.Task.Name, "container": name})

	if !l.skipPull {
		logger.Infof("Pulling image: %s", spec.Image)
		if err := l.pull(ctx, spec.Image); err != nil {
			// The image can still be present locally.
			logger.Warningf("Could not pull image %s: %s", spec.Image, err)
		}
	}

	cfg := &container.Config{
		Image:        spec.Image,
		Env:          utilsenv.List(utilsenv.MergeMaps(req.Env, spec.Env)),
		ExposedPorts: exposed,
		WorkingDir:   req.Task.WorkingDir,
		Labels: map[string]string{
			conventions.LabelSession: req.SessionID,
			conventions.LabelTask:    req.Task.Name,
		},
	}
	if req.Command != "" {
		cfg.Entrypoint = []string{"/bin/sh", "-c"}
		cfg.Cmd = []string{req.Command}
	}

	hostCfg := &container.HostConfig{
		PortBindings: bindings,
		AutoRemove:   spec.AutoRemove,
	}

	resp, err := l.client.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return nil, wrapErr(fmt.Errorf("failed to create container %s: %w", name, err))
	}
	logger.Debugf("Container created: %s", resp.ID)

	// The process lifecycle is owned by the process itself, the launch context
	// cancellation is handled with terminate.
	pctx, pcancel := context.WithCancel(context.WithoutCancel(ctx))
	p := &process{
		id:          resp.ID,
		name:        name,
		client:      l.client,
		stopTimeout: l.stopTimeout,
		cancel:      pcancel,
		done:        make(chan struct{}),
		logger:      logger,
	}

	// Wait must be registered before starting so fast exits are not missed.
	waitC, waitErrC := l.client.ContainerWait(pctx, resp.ID, container.WaitConditionNextExit)

	if err := l.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		pcancel()
		p.remove(context.WithoutCancel(ctx))
		return nil, wrapErr(fmt.Errorf("failed to start container %s: %w", name, err))
	}

	logsDone := make(chan struct{})
	rc, err := l.client.ContainerLogs(pctx, resp.ID, container.LogsOptions{ShowStdout: true, ShowStderr: true, Follow: true})
	if err != nil {
		logger.Warningf("Could not follow container logs: %s", err)
		close(logsDone)
	} else {
		go func() {
			defer close(logsDone)
			defer rc.Close()
			_, _ = stdcopy.StdCopy(writerOrDiscard(req.Stdout), writerOrDiscard(req.Stderr), rc)
		}()
	}

	go p.wait(waitC, waitErrC, logsDone)
	go p.watch(ctx)

	logger.Debugf("Container started")

	return p, nil
}

func (l *Launcher) pull(ctx context.Context, ref string) error {
	pullResp, err := l.client.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return err
	}
	defer pullResp.Close()

	// Consume the pull response to ensure it completes
	_, err = io.Copy(io.Discard, pullResp)
	return err
}

var invalidNameChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]+`)

// ContainerName returns the container name of a session task.
func ContainerName(sessionID, task string) string {
	return fmt.Sprintf("%s-%s-%s", conventions.ContainerPrefix, strings.ToLower(sessionID), invalidNameChars.ReplaceAllString(task, "-"))
}

func writerOrDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}

func wrapErr(err error) error {
	if client.IsErrConnectionFailed(err) {
		return fmt.Errorf("%w: %w", model.ErrExternalCommandUnavailable, err)
	}
	return err
}

func isNotFound(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "No such container") || strings.Contains(msg, "is already in progress")
}

type process struct {
	id          string
	name        string
	client      DockerClient
	stopTimeout time.Duration
	cancel      context.CancelFunc
	done        chan struct{}
	result      launcher.ExitResult
	termMu      sync.Mutex
	logger      log.Logger
}

func (p *process) wait(waitC <-chan container.WaitResponse, errC <-chan error, logsDone <-chan struct{}) {
	select {
	case resp := <-waitC:
		p.result = launcher.ExitResult{ExitCode: int(resp.StatusCode)}
		if resp.Error != nil && resp.Error.Message != "" {
			p.result.Err = fmt.Errorf("container wait: %s", resp.Error.Message)
		}
	case err := <-errC:
		p.result = launcher.ExitResult{ExitCode: -1, Err: fmt.Errorf("container wait: %w", err)}
	}

	// Give the logs a bounded time to drain.
	select {
	case <-logsDone:
	case <-time.After(p.stopTimeout):
	}

	p.logger.Debugf("Container finished with exit code %d", p.result.ExitCode)
	p.cancel()
	close(p.done)
}

func (p *process) watch(ctx context.Context) {
	select {
	case <-p.done:
	case <-ctx.Done():
		if err := p.Terminate(context.Background()); err != nil {
			p.logger.Warningf("Could not terminate container: %s", err)
		}
	}
}

func (p *process) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *process) Wait() launcher.ExitResult {
	<-p.done
	return p.result
}

// Terminate stops and removes the container. Containers that already exited
// are only removed.
func (p *process) Terminate(ctx context.Context) error {
	p.termMu.Lock()
	defer p.termMu.Unlock()

	if !p.exited() {
		timeout := int(p.stopTimeout.Seconds())
		if err := p.client.ContainerStop(ctx, p.id, container.StopOptions{Timeout: &timeout}); err != nil && !isNotFound(err) {
			// Check if already stopped - this is idempotent
			if !strings.Contains(err.Error(), "is not running") {
				return fmt.Errorf("failed to stop container %s: %w", p.name, err)
			}
		}
	}

	select {
	case <-p.done:
	case <-ctx.Done():
		return fmt.Errorf("container %s did not finish: %w", p.name, ctx.Err())
	}

	p.remove(ctx)
	return nil
}

func (p *process) remove(ctx context.Context) {
	err := p.client.ContainerRemove(ctx, p.id, container.RemoveOptions{Force: true})
	if err != nil && !isNotFound(err) {
		p.logger.Warningf("Could not remove container %s: %s", p.name, err)
	}
}
