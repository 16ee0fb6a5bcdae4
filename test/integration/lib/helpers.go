package lib

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/stretchr/testify/require"

	"github.com/slok/devup/internal/conventions"
	sdklib "github.com/slok/devup/pkg/lib"
)

// Config holds integration test configuration loaded from environment variables.
type Config struct {
	// Docker enables the tests that need a Docker daemon.
	Docker bool
}

// NewConfig loads integration test configuration from environment variables.
// If the activation env var is not set, the test is skipped.
func NewConfig(t *testing.T) Config {
	t.Helper()

	const (
		envActivation = "DEVUP_INTEGRATION"
		envDocker     = "DEVUP_INTEGRATION_DOCKER"
	)

	if os.Getenv(envActivation) != "true" {
		t.Skipf("Skipping integration test: %s is not set to 'true'", envActivation)
	}

	return Config{
		Docker: os.Getenv(envDocker) == "true",
	}
}

// NewTestClient creates an SDK client with a temp SQLite DB for test isolation.
// The client runs the tasks with the host shell.
func NewTestClient(t *testing.T) *sdklib.Client {
	t.Helper()

	client, err := sdklib.New(context.Background(), sdklib.Config{
		DBPath:      filepath.Join(t.TempDir(), "test.db"),
		DataDir:     t.TempDir(),
		Runtime:     sdklib.RuntimeShell,
		StopTimeout: 5 * time.Second,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Close()
	})

	return client
}

// WriteManifest writes a manifest on a temp dir and returns its path.
func WriteManifest(t *testing.T, data string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "devup.yaml")
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	return path
}

// DockerHelper provides utilities for interacting with Docker in tests.
type DockerHelper struct {
	client *client.Client
}

// NewDockerHelper creates a new Docker helper for tests.
func NewDockerHelper(t *testing.T) *DockerHelper {
	t.Helper()

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	require.NoError(t, err, "Failed to create Docker client")
	t.Cleanup(func() { _ = cli.Close() })

	return &DockerHelper{client: cli}
}

// SessionContainers returns the names of the containers (running or not) of a session.
func (d *DockerHelper) SessionContainers(t *testing.T, sessionID string) []string {
	t.Helper()

	containers, err := d.client.ContainerList(context.Background(), container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", conventions.LabelSession+"="+sessionID)),
	})
	require.NoError(t, err, "Failed to list containers")

	names := []string{}
	for _, c := range containers {
		names = append(names, c.Names...)
	}

	return names
}

// CleanupSessionContainers removes the containers of a session (for test cleanup).
func (d *DockerHelper) CleanupSessionContainers(t *testing.T, sessionID string) {
	ctx := context.Background()
	containers, err := d.client.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", conventions.LabelSession+"="+sessionID)),
	})
	if err != nil {
		t.Logf("Warning: Failed to list containers during cleanup: %v", err)
		return
	}

	for _, c := range containers {
		if err := d.client.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true}); err != nil {
			t.Logf("Warning: Failed to remove container %s during cleanup: %v", c.ID, err)
		}
	}
}
