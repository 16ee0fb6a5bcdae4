package up_test

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slok/devup/internal/app/up"
	"github.com/slok/devup/internal/launcher/fake"
	"github.com/slok/devup/internal/launcher/launchermock"
	"github.com/slok/devup/internal/log"
	"github.com/slok/devup/internal/model"
	"github.com/slok/devup/internal/printer"
	"github.com/slok/devup/internal/storage/memory"
	"github.com/slok/devup/internal/storage/storagemock"
)

type safeBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *safeBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *safeBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func testManifest() model.Manifest {
	return model.Manifest{
		Name: "django",
		Env:  map[string]string{"DJANGO_DEBUG": "1"},
		InitTasks: []model.TaskSpec{
			{Name: "install", Class: model.TaskClassInit, Commands: []string{"pip install -r requirements.txt"}},
			{Name: "migrate", Class: model.TaskClassInit, Commands: []string{"python manage.py migrate"}},
		},
		Services: []model.TaskSpec{
			{Name: "web", Class: model.TaskClassService, Commands: []string{"python manage.py runserver"}},
		},
		Ports: []model.PortSpec{
			{Port: 8000, Policy: model.PortPolicyNotify, Label: "Django"},
			{Port: 6379, Policy: model.PortPolicyIgnore},
		},
	}
}

func TestNewService(t *testing.T) {
	tests := map[string]struct {
		config up.ServiceConfig
		expErr bool
	}{
		"valid config should create service": {
			config: up.ServiceConfig{
				ManifestRepository: &storagemock.MockManifestRepository{},
				Repository:         &storagemock.MockRepository{},
				Launcher:           &launchermock.MockLauncher{},
				Logger:             log.Noop,
			},
		},
		"missing manifest repository should fail": {
			config: up.ServiceConfig{
				Repository: &storagemock.MockRepository{},
				Launcher:   &launchermock.MockLauncher{},
			},
			expErr: true,
		},
		"missing repository should fail": {
			config: up.ServiceConfig{
				ManifestRepository: &storagemock.MockManifestRepository{},
				Launcher:           &launchermock.MockLauncher{},
			},
			expErr: true,
		},
		"missing launcher should fail": {
			config: up.ServiceConfig{
				ManifestRepository: &storagemock.MockManifestRepository{},
				Repository:         &storagemock.MockRepository{},
			},
			expErr: true,
		},
		"negative init timeout should fail": {
			config: up.ServiceConfig{
				ManifestRepository: &storagemock.MockManifestRepository{},
				Repository:         &storagemock.MockRepository{},
				Launcher:           &launchermock.MockLauncher{},
				InitTimeout:        -1 * time.Second,
			},
			expErr: true,
		},
		"nil logger should default to noop": {
			config: up.ServiceConfig{
				ManifestRepository: &storagemock.MockManifestRepository{},
				Repository:         &storagemock.MockRepository{},
				Launcher:           &launchermock.MockLauncher{},
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)

			svc, err := up.NewService(test.config)

			if test.expErr {
				require.Error(err)
				require.Nil(svc)
			} else {
				require.NoError(err)
				require.NotNil(svc)
			}
		})
	}
}

type testSetup struct {
	svc      *up.Service
	launcher *fake.Launcher
	repo     *memory.Repository
	out      *safeBuffer
	portsOut *bytes.Buffer
}

func newTestSetup(t *testing.T, m model.Manifest, behaviors map[string]fake.Behavior) testSetup {
	t.Helper()

	mm := &storagemock.MockManifestRepository{}
	mm.On("GetManifest", mock.Anything, "devup.yaml").Return(m, nil)

	l, err := fake.NewLauncher(fake.LauncherConfig{Behaviors: behaviors})
	require.NoError(t, err)
	repo, err := memory.NewRepository(memory.RepositoryConfig{})
	require.NoError(t, err)

	out := &safeBuffer{}
	portsOut := &bytes.Buffer{}
	svc, err := up.NewService(up.ServiceConfig{
		ManifestRepository: mm,
		Repository:         repo,
		Launcher:           l,
		Printer:            printer.NewTablePrinter(portsOut),
		Out:                out,
		StopTimeout:        time.Second,
	})
	require.NoError(t, err)

	return testSetup{svc: svc, launcher: l, repo: repo, out: out, portsOut: portsOut}
}

func statesByTask(tasks []model.TaskStatus) map[string]model.TaskRunState {
	res := map[string]model.TaskRunState{}
	for _, t := range tasks {
		res[t.Run.Name] = t.Run.State
	}
	return res
}

func TestServiceRunReadyAndShutdown(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	ts := newTestSetup(t, testManifest(), map[string]fake.Behavior{
		"pip install -r requirements.txt": {Stdout: []string{"installed"}},
		"python manage.py migrate":        {Stdout: []string{"migrated"}},
		"python manage.py runserver":      {Stdout: []string{"listening"}, LongRunning: true},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var readySession string
	resp, err := ts.svc.Run(ctx, up.Request{
		ManifestPath: "devup.yaml",
		Ready: func(id string) {
			readySession = id
			cancel()
		},
	})
	require.NoError(err)

	// Final status.
	assert.Equal(readySession, resp.Session.ID)
	assert.Equal(model.SessionStateClosed, resp.Session.State)
	assert.Equal(map[string]model.TaskRunState{
		"install": model.TaskRunStateSucceeded,
		"migrate": model.TaskRunStateSucceeded,
		"web":     model.TaskRunStateStopped,
	}, statesByTask(resp.Tasks))
	assert.Equal([]string{"web"}, ts.launcher.Terminated())

	// History.
	session, err := ts.repo.GetSession(context.Background(), readySession)
	require.NoError(err)
	assert.Equal(model.SessionStateClosed, session.State)
	assert.Equal("django", session.Manifest)
	runs, err := ts.repo.ListTaskRuns(context.Background(), readySession)
	require.NoError(err)
	assert.Len(runs, 3)

	// Output.
	out := ts.out.String()
	assert.Contains(out, "[install] installed\n")
	assert.Contains(out, "[migrate] migrated\n")
	assert.Contains(out, "[web] listening\n")
	assert.Contains(ts.portsOut.String(), "8000")
	assert.Contains(ts.portsOut.String(), "Django")
}

func TestServiceRunInitFailure(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	ts := newTestSetup(t, testManifest(), map[string]fake.Behavior{
		"pip install -r requirements.txt": {Stdout: []string{"installed"}},
		"python manage.py migrate":        {Stderr: []string{"no such table"}, ExitCode: 1},
		"python manage.py runserver":      {LongRunning: true},
	})

	resp, err := ts.svc.Run(context.Background(), up.Request{ManifestPath: "devup.yaml"})
	require.Error(err)
	assert.ErrorIs(err, model.ErrInitTaskFailure)

	assert.Equal(model.SessionStateAborted, resp.Session.State)
	assert.Equal(map[string]model.TaskRunState{
		"install": model.TaskRunStateSucceeded,
		"migrate": model.TaskRunStateFailed,
		"web":     model.TaskRunStatePending,
	}, statesByTask(resp.Tasks))
	assert.Equal([]string{"pip install -r requirements.txt", "python manage.py migrate"}, ts.launcher.Commands())
	assert.Empty(ts.portsOut.String())

	session, err := ts.repo.GetSession(context.Background(), resp.Session.ID)
	require.NoError(err)
	assert.Equal(model.SessionStateAborted, session.State)
	assert.Contains(session.Error, "migrate")
}

func TestServiceRunFollow(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	ts := newTestSetup(t, testManifest(), map[string]fake.Behavior{
		"pip install -r requirements.txt": {Stdout: []string{"installed"}},
		"python manage.py migrate":        {Stdout: []string{"migrated"}},
		"python manage.py runserver":      {Stdout: []string{"listening"}, LongRunning: true},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := ts.svc.Run(ctx, up.Request{
		ManifestPath: "devup.yaml",
		Follow:       []string{"web"},
		Ready:        func(string) { cancel() },
	})
	require.NoError(err)

	out := ts.out.String()
	assert.Contains(out, "[web] listening\n")
	assert.NotContains(out, "[install]")
	assert.NotContains(out, "[migrate]")
}

func TestServiceRunFollowInitFailureShowsOutput(t *testing.T) {
	tests := map[string]struct {
		follow []string
	}{
		"A failed init task that is not followed should print its output.": {
			follow: []string{"web"},
		},
		"A failed init task that is followed should print its output once.": {
			follow: []string{"migrate"},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			ts := newTestSetup(t, testManifest(), map[string]fake.Behavior{
				"pip install -r requirements.txt": {Stdout: []string{"installed"}},
				"python manage.py migrate":        {Stdout: []string{"applying 0001"}, Stderr: []string{"no such table"}, ExitCode: 1},
				"python manage.py runserver":      {LongRunning: true},
			})

			_, err := ts.svc.Run(context.Background(), up.Request{
				ManifestPath: "devup.yaml",
				Follow:       test.follow,
			})
			require.Error(err)
			assert.ErrorIs(err, model.ErrInitTaskFailure)

			out := ts.out.String()
			assert.Equal(1, strings.Count(out, "[migrate] applying 0001\n"))
			assert.Equal(1, strings.Count(out, "[migrate] no such table\n"))
			assert.NotContains(out, "[install]")
		})
	}
}

func TestServiceRunEnvOverrides(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	ts := newTestSetup(t, testManifest(), map[string]fake.Behavior{
		"python manage.py runserver": {LongRunning: true},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := ts.svc.Run(ctx, up.Request{
		ManifestPath: "devup.yaml",
		Env:          map[string]string{"DJANGO_DEBUG": "0"},
		Ready:        func(string) { cancel() },
	})
	require.NoError(err)

	for _, l := range ts.launcher.Launches() {
		assert.Equal("0", l.Env["DJANGO_DEBUG"], l.Task.Name)
	}
}

func TestServiceRunInvalidRequests(t *testing.T) {
	tests := map[string]struct {
		manifest model.Manifest
		loadErr  error
		req      up.Request
		expErrIs error
	}{
		"a missing manifest path should fail": {
			req:      up.Request{},
			expErrIs: model.ErrNotValid,
		},
		"a manifest load error should fail": {
			loadErr:  fmt.Errorf("bad file: %w", model.ErrParse),
			req:      up.Request{ManifestPath: "devup.yaml"},
			expErrIs: model.ErrParse,
		},
		"following an unknown task should fail": {
			manifest: testManifest(),
			req:      up.Request{ManifestPath: "devup.yaml", Follow: []string{"celery"}},
			expErrIs: model.ErrNotValid,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			mm := &storagemock.MockManifestRepository{}
			mm.On("GetManifest", mock.Anything, "devup.yaml").Maybe().Return(test.manifest, test.loadErr)
			l := &launchermock.MockLauncher{}
			repo := &storagemock.MockRepository{}

			svc, err := up.NewService(up.ServiceConfig{
				ManifestRepository: mm,
				Repository:         repo,
				Launcher:           l,
			})
			require.NoError(err)

			resp, err := svc.Run(context.Background(), test.req)
			require.Error(err)
			assert.ErrorIs(err, test.expErrIs)
			assert.Nil(resp)

			// Nothing should have been run nor stored.
			l.AssertExpectations(t)
			repo.AssertExpectations(t)
		})
	}
}

func TestServiceRunContainerRuntimeRequired(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	m := testManifest()
	m.Services = append(m.Services, model.TaskSpec{
		Name:      "redis",
		Class:     model.TaskClassService,
		Container: &model.ContainerSpec{Image: "redis:7"},
	})
	ts := newTestSetup(t, m, nil)

	resp, err := ts.svc.Run(context.Background(), up.Request{ManifestPath: "devup.yaml"})
	require.Error(err)
	assert.ErrorIs(err, model.ErrExternalCommandUnavailable)
	assert.Equal(model.SessionStateAborted, resp.Session.State)
	assert.Empty(ts.launcher.Launches())
}
