package model

import (
	"fmt"
	"time"

	utilsenv "github.com/slok/devup/internal/utils/env"
)

// TaskClass is the kind of a task.
type TaskClass string

const (
	// TaskClassInit tasks run once, in order, and must succeed.
	TaskClassInit TaskClass = "init"
	// TaskClassService tasks run in background for the whole session.
	TaskClassService TaskClass = "service"
)

// TaskSpec is the immutable definition of a task loaded from a manifest.
type TaskSpec struct {
	Name  string
	Class TaskClass
	// Commands are the shell command strings of the task. Init tasks run them in
	// order, services have a single long running command.
	Commands []string
	Env      map[string]string
	// WorkingDir is the directory where the commands run, empty means current.
	WorkingDir string
	// Container is set when the service runs inside a container.
	Container *ContainerSpec
	// After are explicit dependencies on other init tasks.
	After []string
	// Timeout for init tasks, zero means no timeout.
	Timeout time.Duration
	// ReadyPort enables a TCP readiness probe for services.
	ReadyPort int
}

// ContainerSpec describes the container a service task requests.
type ContainerSpec struct {
	Image string
	// Ports in "host:container" or "port" format.
	Ports      []string
	AutoRemove bool
	Env        map[string]string
}

// Command returns the single command of a service.
func (t TaskSpec) Command() string {
	if len(t.Commands) == 0 {
		return ""
	}
	return t.Commands[0]
}

// Validate validates the task spec.
func (t TaskSpec) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("task name is required: %w", ErrNotValid)
	}

	switch t.Class {
	case TaskClassInit:
		if len(t.Commands) == 0 {
			return fmt.Errorf("init task %q requires at least one command: %w", t.Name, ErrNotValid)
		}
		if t.Container != nil {
			return fmt.Errorf("init task %q can't use a container: %w", t.Name, ErrNotValid)
		}
		if t.ReadyPort != 0 {
			return fmt.Errorf("init task %q can't have a ready port: %w", t.Name, ErrNotValid)
		}
	case TaskClassService:
		if len(t.Commands) > 1 {
			return fmt.Errorf("service task %q must have a single command: %w", t.Name, ErrNotValid)
		}
		if t.Command() == "" && t.Container == nil {
			return fmt.Errorf("service task %q requires a command: %w", t.Name, ErrNotValid)
		}
		if t.Container != nil && t.Container.Image == "" {
			return fmt.Errorf("service task %q container requires an image: %w", t.Name, ErrNotValid)
		}
		if len(t.After) > 0 {
			return fmt.Errorf("service task %q can't declare dependencies: %w", t.Name, ErrNotValid)
		}
		if t.Timeout != 0 {
			return fmt.Errorf("service task %q can't have a timeout: %w", t.Name, ErrNotValid)
		}
		if t.ReadyPort != 0 {
			if err := ValidatePort(t.ReadyPort); err != nil {
				return fmt.Errorf("service task %q ready port: %w", t.Name, err)
			}
		}
	case "":
		return fmt.Errorf("task %q class is required: %w", t.Name, ErrNotValid)
	default:
		return fmt.Errorf("task %q has unknown class %q: %w", t.Name, t.Class, ErrNotValid)
	}

	for i, c := range t.Commands {
		if c == "" {
			return fmt.Errorf("task %q command %d is empty: %w", t.Name, i, ErrNotValid)
		}
	}

	if t.Timeout < 0 {
		return fmt.Errorf("task %q timeout can't be negative: %w", t.Name, ErrNotValid)
	}

	if err := validateEnv(t.Env); err != nil {
		return fmt.Errorf("task %q env: %w", t.Name, err)
	}
	if t.Container != nil {
		if err := validateEnv(t.Container.Env); err != nil {
			return fmt.Errorf("task %q container env: %w", t.Name, err)
		}
	}

	return nil
}

func validateEnv(env map[string]string) error {
	for k := range env {
		if err := utilsenv.ValidateKey(k); err != nil {
			return fmt.Errorf("%w: %w", err, ErrNotValid)
		}
	}
	return nil
}
