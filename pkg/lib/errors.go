package lib

import (
	"errors"

	"github.com/slok/devup/internal/model"
)

var (
	// ErrNotFound is returned when a session or manifest doesn't exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a session already exists.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotValid is returned on invalid input.
	ErrNotValid = errors.New("not valid")
	// ErrParse is returned when a manifest can't be parsed.
	ErrParse = errors.New("manifest parse error")
	// ErrCyclicDependency is returned when the init task order can't be satisfied.
	ErrCyclicDependency = errors.New("cyclic dependency")
	// ErrInitTaskFailure is returned when an init task fails.
	ErrInitTaskFailure = errors.New("init task failure")
	// ErrExternalCommandUnavailable is returned when the shell or the container
	// runtime can't be invoked.
	ErrExternalCommandUnavailable = errors.New("external command unavailable")
)

var errorMapping = []struct {
	internal error
	public   error
}{
	{model.ErrNotFound, ErrNotFound},
	{model.ErrAlreadyExists, ErrAlreadyExists},
	{model.ErrParse, ErrParse},
	{model.ErrCyclicDependency, ErrCyclicDependency},
	{model.ErrInitTaskFailure, ErrInitTaskFailure},
	{model.ErrExternalCommandUnavailable, ErrExternalCommandUnavailable},
	{model.ErrNotValid, ErrNotValid},
}

// mapError makes internal errors match the SDK sentinels, the message and
// the wrapped chain are kept.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var sentinels []error
	for _, m := range errorMapping {
		if errors.Is(err, m.internal) {
			sentinels = append(sentinels, m.public)
		}
	}
	if len(sentinels) == 0 {
		return err
	}

	return &mappedError{original: err, sentinels: sentinels}
}

type mappedError struct {
	original  error
	sentinels []error
}

func (e *mappedError) Error() string { return e.original.Error() }

func (e *mappedError) Is(target error) bool {
	for _, s := range e.sentinels {
		if target == s {
			return true
		}
	}
	return false
}

func (e *mappedError) Unwrap() error { return e.original }
