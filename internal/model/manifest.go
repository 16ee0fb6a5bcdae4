package model

import "fmt"

// Manifest is the loaded environment description. It's immutable once loaded.
type Manifest struct {
	Name string
	// Env is applied to every task, task env overrides it.
	Env       map[string]string
	InitTasks []TaskSpec
	Services  []TaskSpec
	Ports     []PortSpec
}

// Validate validates the whole manifest.
func (m Manifest) Validate() error {
	if err := validateEnv(m.Env); err != nil {
		return fmt.Errorf("manifest env: %w", err)
	}

	initNames := map[string]struct{}{}
	for _, t := range m.InitTasks {
		if err := t.Validate(); err != nil {
			return err
		}
		if t.Class != TaskClassInit {
			return fmt.Errorf("task %q is not an init task: %w", t.Name, ErrNotValid)
		}
		if _, ok := initNames[t.Name]; ok {
			return fmt.Errorf("init task %q is duplicated: %w", t.Name, ErrNotValid)
		}
		initNames[t.Name] = struct{}{}
	}

	svcNames := map[string]struct{}{}
	for _, t := range m.Services {
		if err := t.Validate(); err != nil {
			return err
		}
		if t.Class != TaskClassService {
			return fmt.Errorf("task %q is not a service task: %w", t.Name, ErrNotValid)
		}
		if _, ok := svcNames[t.Name]; ok {
			return fmt.Errorf("service task %q is duplicated: %w", t.Name, ErrNotValid)
		}
		// Tasks are addressed by name on the status surface.
		if _, ok := initNames[t.Name]; ok {
			return fmt.Errorf("service task %q collides with an init task: %w", t.Name, ErrNotValid)
		}
		svcNames[t.Name] = struct{}{}
	}

	for _, p := range m.Ports {
		if err := p.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// Tasks returns all the tasks, init tasks first.
func (m Manifest) Tasks() []TaskSpec {
	tasks := make([]TaskSpec, 0, len(m.InitTasks)+len(m.Services))
	tasks = append(tasks, m.InitTasks...)
	tasks = append(tasks, m.Services...)
	return tasks
}

// Plan is the ordered chain of init steps the engine executes.
type Plan struct {
	Steps []Step
}

// Step is a single link of the init chain.
type Step struct {
	Index int
	Task  TaskSpec
	// Requires are the task names that must succeed before this step runs.
	Requires []string
}
