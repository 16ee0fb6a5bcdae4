package lib_test

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sdklib "github.com/slok/devup/pkg/lib"
	intlib "github.com/slok/devup/test/integration/lib"
)

type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSDKSessionLifecycle(t *testing.T) {
	intlib.NewConfig(t)
	client := intlib.NewTestClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	workDir := t.TempDir()
	manifest := intlib.WriteManifest(t, fmt.Sprintf(`
name: lifecycle
env:
  GREETING: hello
tasks:
  - name: prepare
    class: init
    working_dir: %[1]s
    commands:
      - echo "$GREETING" > prepared.txt
      - echo prepared
  - name: web
    class: service
    working_dir: %[1]s
    command: echo started && sleep 300
`, workDir))

	out := &safeBuffer{}
	upCtx, upCancel := context.WithCancel(ctx)
	defer upCancel()

	st, err := client.Up(upCtx, sdklib.UpOpts{
		ManifestPath: manifest,
		Env:          map[string]string{"GREETING": "overridden"},
		Output:       out,
		Ready: func(string) {
			// Give the service some time to write its output.
			time.Sleep(time.Second)
			upCancel()
		},
	})
	require.NoError(t, err)
	assert.Equal(t, sdklib.SessionStateClosed, st.Session.State)

	data, err := os.ReadFile(filepath.Join(workDir, "prepared.txt"))
	require.NoError(t, err)
	assert.Equal(t, "overridden", strings.TrimSpace(string(data)))

	assert.Contains(t, out.String(), "[prepare] prepared")
	assert.Contains(t, out.String(), "[web] started")

	states := map[string]sdklib.TaskState{}
	for _, task := range st.Tasks {
		states[task.Name] = task.State
	}
	assert.Equal(t, sdklib.TaskStateSucceeded, states["prepare"])
	assert.Equal(t, sdklib.TaskStateStopped, states["web"])

	// Stored session.
	stored, err := client.Status(ctx, st.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, sdklib.SessionStateClosed, stored.Session.State)
}

func TestSDKInitTimeout(t *testing.T) {
	intlib.NewConfig(t)
	client := intlib.NewTestClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	manifest := intlib.WriteManifest(t, `
tasks:
  - name: slow
    class: init
    command: sleep 60
    timeout: 1s
`)

	st, err := client.Up(ctx, sdklib.UpOpts{ManifestPath: manifest})
	assert.ErrorIs(t, err, sdklib.ErrInitTaskFailure)
	require.NotNil(t, st)
	assert.Equal(t, sdklib.SessionStateAborted, st.Session.State)
}

func TestSDKContainerService(t *testing.T) {
	config := intlib.NewConfig(t)
	if !config.Docker {
		t.Skip("Skipping container test: DEVUP_INTEGRATION_DOCKER is not set to 'true'")
	}
	client := intlib.NewTestClient(t)
	docker := intlib.NewDockerHelper(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	manifest := intlib.WriteManifest(t, `
tasks:
  - name: cache
    class: service
    command: echo cache-up && sleep 300
    container:
      image: alpine:3
`)

	out := &safeBuffer{}
	upCtx, upCancel := context.WithCancel(ctx)
	defer upCancel()

	var sessionID string
	var running []string
	st, err := client.Up(upCtx, sdklib.UpOpts{
		ManifestPath: manifest,
		Output:       out,
		Ready: func(id string) {
			sessionID = id
			t.Cleanup(func() { docker.CleanupSessionContainers(t, id) })
			time.Sleep(2 * time.Second)
			running = docker.SessionContainers(t, id)
			upCancel()
		},
	})
	require.NoError(t, err)
	assert.Equal(t, sdklib.SessionStateClosed, st.Session.State)

	assert.Len(t, running, 1)
	assert.Contains(t, out.String(), "[cache] cache-up")

	// Auto removed containers are gone after the session.
	assert.Empty(t, docker.SessionContainers(t, sessionID))
}
