package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a resource is not found.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a resource already exists.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotValid is returned when a resource is not valid.
	ErrNotValid = errors.New("not valid")

	// ErrParse is returned when a manifest can't be loaded.
	ErrParse = errors.New("manifest parse error")
	// ErrCyclicDependency is returned when task ordering can't be satisfied.
	ErrCyclicDependency = errors.New("cyclic dependency")
	// ErrInitTaskFailure is returned when an init task fails, it aborts the session.
	ErrInitTaskFailure = errors.New("init task failure")
	// ErrServiceCrash is used when a service process exits.
	ErrServiceCrash = errors.New("service crash")
	// ErrExternalCommandUnavailable is returned when the command executor or the
	// container runtime can't be invoked at all.
	ErrExternalCommandUnavailable = errors.New("external command unavailable")
)

// InitTaskFailureError is the error of an init task that didn't succeed.
type InitTaskFailureError struct {
	Task     string
	Command  string
	ExitCode int
	Output   []string
	Err      error
}

func (e *InitTaskFailureError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "init task %q failed", e.Task)
	if e.ExitCode >= 0 {
		fmt.Fprintf(&b, " with exit code %d", e.ExitCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %s", e.Err)
	}
	return b.String()
}

func (e *InitTaskFailureError) Is(target error) bool { return target == ErrInitTaskFailure }

func (e *InitTaskFailureError) Unwrap() error { return e.Err }
