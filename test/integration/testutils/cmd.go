package testutils

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"time"
)

const interruptGracePeriod = 30 * time.Second

// RunDevup runs the devup binary with a command line like `validate --file devup.yaml`.
// The command line is split on whitespace, --env and --follow values that need
// spaces must go through RunDevupArgs.
func RunDevup(ctx context.Context, env []string, binary, cmdLine string, nolog bool) (stdout, stderr []byte, err error) {
	return RunDevupArgs(ctx, env, binary, strings.Fields(cmdLine), nolog)
}

// RunDevupArgs runs the devup binary with already split arguments. When nolog is
// set the global --no-log flag is added so stderr only has the command errors.
//
// The process inherits the test environment, env entries override it. A
// canceled ctx interrupts the process, so a running `up` session shuts down
// and releases its services, it's killed if it doesn't exit in time.
func RunDevupArgs(ctx context.Context, env []string, binary string, args []string, nolog bool) (stdout, stderr []byte, err error) {
	if nolog {
		args = append([]string{"--no-log"}, args...)
	}

	var outData, errData bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdout = &outData
	cmd.Stderr = &errData
	cmd.Env = append(os.Environ(), env...)
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = interruptGracePeriod

	err = cmd.Run()

	return outData.Bytes(), errData.Bytes(), err
}
