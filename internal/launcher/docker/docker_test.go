package docker_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slok/devup/internal/launcher"
	"github.com/slok/devup/internal/launcher/docker"
	"github.com/slok/devup/internal/model"
)

type mockDockerClient struct {
	mock.Mock
}

func (m *mockDockerClient) Ping(ctx context.Context) (types.Ping, error) {
	args := m.Called(ctx)
	return types.Ping{}, args.Error(0)
}

func (m *mockDockerClient) ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error) {
	args := m.Called(ctx, refStr, options)
	rc, _ := args.Get(0).(io.ReadCloser)
	return rc, args.Error(1)
}

func (m *mockDockerClient) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error) {
	args := m.Called(ctx, config, hostConfig, networkingConfig, platform, containerName)
	return args.Get(0).(container.CreateResponse), args.Error(1)
}

func (m *mockDockerClient) ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error {
	args := m.Called(ctx, containerID, options)
	return args.Error(0)
}

func (m *mockDockerClient) ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error {
	args := m.Called(ctx, containerID, options)
	return args.Error(0)
}

func (m *mockDockerClient) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	args := m.Called(ctx, containerID, options)
	return args.Error(0)
}

func (m *mockDockerClient) ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	args := m.Called(ctx, containerID, condition)
	return args.Get(0).(chan container.WaitResponse), args.Get(1).(chan error)
}

func (m *mockDockerClient) ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error) {
	args := m.Called(ctx, containerID, options)
	rc, _ := args.Get(0).(io.ReadCloser)
	return rc, args.Error(1)
}

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

func muxedLogs(t *testing.T, stdout, stderr string) io.ReadCloser {
	var b bytes.Buffer
	_, err := stdcopy.NewStdWriter(&b, stdcopy.Stdout).Write([]byte(stdout))
	require.NoError(t, err)
	_, err = stdcopy.NewStdWriter(&b, stdcopy.Stderr).Write([]byte(stderr))
	require.NoError(t, err)
	return io.NopCloser(&b)
}

func redisTask() model.TaskSpec {
	return model.TaskSpec{
		Name:  "redis",
		Class: model.TaskClassService,
		Container: &model.ContainerSpec{
			Image:      "redis:7",
			Ports:      []string{"6379:6379"},
			AutoRemove: true,
			Env:        map[string]string{"B": "2"},
		},
	}
}

func TestLauncherLaunch(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	m := &mockDockerClient{}
	waitC := make(chan container.WaitResponse, 1)
	errC := make(chan error, 1)

	m.On("ImagePull", mock.Anything, "redis:7", mock.Anything).Once().Return(io.NopCloser(bytes.NewBufferString("{}")), nil)
	m.On("ContainerCreate", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, "devup-01abc-redis").Once().
		Run(func(args mock.Arguments) {
			cfg := args.Get(1).(*container.Config)
			hostCfg := args.Get(2).(*container.HostConfig)
			assert.Equal("redis:7", cfg.Image)
			assert.Equal([]string{"A=1", "B=2"}, cfg.Env)
			assert.Equal([]string{"/bin/sh", "-c"}, []string(cfg.Entrypoint))
			assert.Equal([]string{"redis-server --appendonly yes"}, []string(cfg.Cmd))
			assert.Contains(cfg.ExposedPorts, nat.Port("6379/tcp"))
			assert.True(hostCfg.AutoRemove)
			assert.Len(hostCfg.PortBindings, 1)
		}).
		Return(container.CreateResponse{ID: "c1"}, nil)
	m.On("ContainerWait", mock.Anything, "c1", container.WaitConditionNextExit).Once().Return(waitC, errC)
	m.On("ContainerStart", mock.Anything, "c1", mock.Anything).Once().Return(nil)
	m.On("ContainerLogs", mock.Anything, "c1", mock.Anything).Once().Return(muxedLogs(t, "ready\n", "warn\n"), nil)

	l, err := docker.NewLauncher(docker.LauncherConfig{Client: m})
	require.NoError(err)

	var stdout, stderr safeBuffer
	p, err := l.Launch(context.Background(), launcher.Request{
		SessionID: "01ABC",
		Task:      redisTask(),
		Command:   "redis-server --appendonly yes",
		Env:       map[string]string{"A": "1", "B": "1"},
		Stdout:    &stdout,
		Stderr:    &stderr,
	})
	require.NoError(err)

	waitC <- container.WaitResponse{StatusCode: 2}
	res := p.Wait()
	assert.Equal(2, res.ExitCode)
	assert.Equal("ready\n", stdout.String())
	assert.Equal("warn\n", stderr.String())

	m.AssertExpectations(t)
}

func TestLauncherTerminate(t *testing.T) {
	require := require.New(t)

	m := &mockDockerClient{}
	waitC := make(chan container.WaitResponse, 1)
	errC := make(chan error, 1)

	m.On("ContainerCreate", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Once().Return(container.CreateResponse{ID: "c1"}, nil)
	m.On("ContainerWait", mock.Anything, "c1", mock.Anything).Once().Return(waitC, errC)
	m.On("ContainerStart", mock.Anything, "c1", mock.Anything).Once().Return(nil)
	m.On("ContainerLogs", mock.Anything, "c1", mock.Anything).Once().Return(io.NopCloser(&bytes.Buffer{}), nil)
	m.On("ContainerStop", mock.Anything, "c1", mock.Anything).Once().Run(func(args mock.Arguments) {
		waitC <- container.WaitResponse{StatusCode: 137}
	}).Return(nil)
	m.On("ContainerRemove", mock.Anything, "c1", container.RemoveOptions{Force: true}).Once().Return(errors.New("Error: No such container: c1"))

	l, err := docker.NewLauncher(docker.LauncherConfig{Client: m, SkipPull: true})
	require.NoError(err)

	p, err := l.Launch(context.Background(), launcher.Request{SessionID: "s", Task: redisTask()})
	require.NoError(err)

	require.NoError(p.Terminate(context.Background()))
	assert.Equal(t, 137, p.Wait().ExitCode)

	m.AssertExpectations(t)
}

func TestLauncherTerminateExitedContainer(t *testing.T) {
	require := require.New(t)

	m := &mockDockerClient{}
	waitC := make(chan container.WaitResponse, 1)
	errC := make(chan error, 1)

	m.On("ContainerCreate", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Once().Return(container.CreateResponse{ID: "c1"}, nil)
	m.On("ContainerWait", mock.Anything, "c1", mock.Anything).Once().Return(waitC, errC)
	m.On("ContainerStart", mock.Anything, "c1", mock.Anything).Once().Return(nil)
	m.On("ContainerLogs", mock.Anything, "c1", mock.Anything).Once().Return(io.NopCloser(&bytes.Buffer{}), nil)
	m.On("ContainerRemove", mock.Anything, "c1", container.RemoveOptions{Force: true}).Once().Return(nil)

	l, err := docker.NewLauncher(docker.LauncherConfig{Client: m, SkipPull: true})
	require.NoError(err)

	task := redisTask()
	task.Container.AutoRemove = false
	p, err := l.Launch(context.Background(), launcher.Request{SessionID: "s", Task: task})
	require.NoError(err)

	// The container exits on its own.
	waitC <- container.WaitResponse{StatusCode: 1}
	assert.Equal(t, 1, p.Wait().ExitCode)

	require.NoError(p.Terminate(context.Background()))

	m.AssertNotCalled(t, "ContainerStop", mock.Anything, mock.Anything, mock.Anything)
	m.AssertExpectations(t)
}

func TestLauncherStartFailureRemovesContainer(t *testing.T) {
	m := &mockDockerClient{}
	waitC := make(chan container.WaitResponse, 1)
	errC := make(chan error, 1)

	m.On("ContainerCreate", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Once().Return(container.CreateResponse{ID: "c1"}, nil)
	m.On("ContainerWait", mock.Anything, "c1", mock.Anything).Once().Return(waitC, errC)
	m.On("ContainerStart", mock.Anything, "c1", mock.Anything).Once().Return(errors.New("port is already allocated"))
	m.On("ContainerRemove", mock.Anything, "c1", mock.Anything).Once().Return(nil)

	l, err := docker.NewLauncher(docker.LauncherConfig{Client: m, SkipPull: true})
	require.NoError(t, err)

	_, err = l.Launch(context.Background(), launcher.Request{SessionID: "s", Task: redisTask()})
	assert.Error(t, err)

	m.AssertExpectations(t)
}

func TestLauncherInvalidPorts(t *testing.T) {
	l, err := docker.NewLauncher(docker.LauncherConfig{Client: &mockDockerClient{}})
	require.NoError(t, err)

	task := redisTask()
	task.Container.Ports = []string{"not-a-port"}
	_, err = l.Launch(context.Background(), launcher.Request{SessionID: "s", Task: task})
	assert.True(t, errors.Is(err, model.ErrNotValid))
}

func TestLauncherCheck(t *testing.T) {
	m := &mockDockerClient{}
	m.On("Ping", mock.Anything).Once().Return(errors.New("connection refused"))

	l, err := docker.NewLauncher(docker.LauncherConfig{Client: m})
	require.NoError(t, err)

	err = l.Check(context.Background())
	assert.True(t, errors.Is(err, model.ErrExternalCommandUnavailable))
}

func TestContainerName(t *testing.T) {
	tests := map[string]struct {
		session string
		task    string
		exp     string
	}{
		"A regular task name should be kept.": {
			session: "01HXYZ",
			task:    "web",
			exp:     "devup-01hxyz-web",
		},

		"Invalid characters should be replaced.": {
			session: "01HXYZ",
			task:    "my task/1",
			exp:     "devup-01hxyz-my-task-1",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.exp, docker.ContainerName(test.session, test.task))
		})
	}
}
