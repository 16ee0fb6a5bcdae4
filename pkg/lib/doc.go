// Package lib provides a Go SDK to run devup environments programmatically.
//
// It runs the same sessions as the devup CLI without shelling out to the
// binary: the init tasks of a manifest in order and then the services until
// the context is cancelled.
//
// # Quick Start
//
//	client, err := lib.New(ctx, lib.Config{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Check the manifest.
//	res, err := client.Validate(ctx, "devup.yaml")
//
//	// Bring the environment up, it blocks until ctx is cancelled.
//	status, err := client.Up(ctx, lib.UpOpts{
//	    ManifestPath: "devup.yaml",
//	    Output:       os.Stdout,
//	    Ready: func(sessionID string) {
//	        fmt.Println("ready:", sessionID)
//	    },
//	})
//
// # Runtimes
//
//   - [RuntimeShell]: Tasks run as shell commands on the host, container
//     tasks use the local Docker daemon. This is the default.
//   - [RuntimeFake]: Simulated tasks, nothing is run. Init tasks succeed and
//     services run until the session is shut down. Use it for tests.
//
// # Session History
//
// Every session and its task runs are stored (SQLite by default):
//
//	sessions, _ := client.History(ctx, nil)
//	status, _ := client.Status(ctx, sessions[0].ID)
//
// # Error Handling
//
// All methods return errors that can be inspected with [errors.Is]:
//
//   - [ErrNotFound]: Session or manifest does not exist.
//   - [ErrNotValid]: Invalid input or manifest.
//   - [ErrParse]: The manifest can't be parsed.
//   - [ErrCyclicDependency]: The init task order can't be satisfied.
//   - [ErrInitTaskFailure]: An init task failed and the session was aborted.
//   - [ErrExternalCommandUnavailable]: The shell or the container runtime can't be used.
//
// # Testing
//
// Use [RuntimeFake] and an ephemeral history to write tests without running
// anything:
//
//	client, _ := lib.New(ctx, lib.Config{
//	    Ephemeral: true,
//	    Runtime:   lib.RuntimeFake,
//	})
//	defer client.Close()
package lib
