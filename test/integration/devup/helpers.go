package devup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/slok/devup/test/integration/testutils"
)

// Config holds integration test configuration loaded from environment variables.
type Config struct {
	Binary string
}

func (c *Config) defaults() error {
	// go test changes the CWD to the test package directory, relative paths
	// would point to the wrong place.
	if !filepath.IsAbs(c.Binary) {
		return fmt.Errorf("DEVUP_INTEGRATION_BINARY must be an absolute path, got %q", c.Binary)
	}
	if _, err := os.Stat(c.Binary); err != nil {
		return fmt.Errorf("devup binary not found at %q: %w", c.Binary, err)
	}

	return nil
}

// NewConfig loads integration test configuration from environment variables.
// If the config is invalid or the activation env var is not set, the test is skipped.
func NewConfig(t *testing.T) Config {
	t.Helper()

	const (
		envActivation = "DEVUP_INTEGRATION"
		envBinary     = "DEVUP_INTEGRATION_BINARY"
	)

	if os.Getenv(envActivation) != "true" {
		t.Skipf("Skipping integration test: %s is not set to 'true'", envActivation)
	}

	c := Config{
		Binary: os.Getenv(envBinary),
	}

	if err := c.defaults(); err != nil {
		t.Skipf("Skipping due to invalid config: %s", err)
	}

	return c
}

// RunDevupCmd runs a devup command with the given arguments and a specific db path.
// It suppresses logging output for cleaner test output.
func RunDevupCmd(ctx context.Context, config Config, dbPath, cmdArgs string) (stdout, stderr []byte, err error) {
	args := fmt.Sprintf("--db-path %s %s", dbPath, cmdArgs)
	return testutils.RunDevup(ctx, nil, config.Binary, args, true)
}

// RunValidate validates a manifest and prints the plan in JSON format.
func RunValidate(ctx context.Context, config Config, dbPath, manifest string) (stdout, stderr []byte, err error) {
	return RunDevupCmd(ctx, config, dbPath, fmt.Sprintf("validate --file %s --format json", manifest))
}

// RunPorts prints the manifest ports in the given format.
func RunPorts(ctx context.Context, config Config, dbPath, manifest, format string) (stdout, stderr []byte, err error) {
	return RunDevupCmd(ctx, config, dbPath, fmt.Sprintf("ports --file %s --format %s", manifest, format))
}

// RunUp runs a session, it only returns when the session ends on its own or ctx is done.
func RunUp(ctx context.Context, config Config, dbPath, manifest string, extraArgs ...string) (stdout, stderr []byte, err error) {
	args := []string{"--db-path", dbPath, "up", "--file", manifest}
	args = append(args, extraArgs...)
	return testutils.RunDevupArgs(ctx, nil, config.Binary, args, true)
}

// RunStatus prints the latest session status in JSON format.
func RunStatus(ctx context.Context, config Config, dbPath string) (stdout, stderr []byte, err error) {
	return RunDevupCmd(ctx, config, dbPath, "status --format json")
}

// RunHistory prints the sessions history in JSON format.
func RunHistory(ctx context.Context, config Config, dbPath string) (stdout, stderr []byte, err error) {
	return RunDevupCmd(ctx, config, dbPath, "history --format json")
}
