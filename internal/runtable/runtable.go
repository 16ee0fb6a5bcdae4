// Package runtable has the task run table of a session. The engine writes it
// and the reporter reads it, every access is serialized.
package runtable

import (
	"fmt"
	"sync"

	"github.com/slok/devup/internal/model"
)

// Table is the concurrency safe TaskRun table.
type Table struct {
	mu    sync.RWMutex
	runs  map[string]*model.TaskRun
	order []string
}

// New returns an empty table.
func New() *Table {
	return &Table{runs: map[string]*model.TaskRun{}}
}

// Register adds a pending run for a task.
func (t *Table) Register(spec model.TaskSpec) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.runs[spec.Name]; ok {
		return fmt.Errorf("task %q: %w", spec.Name, model.ErrAlreadyExists)
	}

	t.runs[spec.Name] = &model.TaskRun{
		Name:     spec.Name,
		Class:    spec.Class,
		Sequence: len(t.order) + 1,
		State:    model.TaskRunStatePending,
		ExitCode: -1,
	}
	t.order = append(t.order, spec.Name)

	return nil
}

// Update mutates a run atomically and returns the resulting copy.
func (t *Table) Update(name string, fn func(r *model.TaskRun)) (model.TaskRun, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.runs[name]
	if !ok {
		return model.TaskRun{}, fmt.Errorf("task %q: %w", name, model.ErrNotFound)
	}
	fn(r)

	return *r, nil
}

// Get returns a copy of a task run.
func (t *Table) Get(name string) (model.TaskRun, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	r, ok := t.runs[name]
	if !ok {
		return model.TaskRun{}, fmt.Errorf("task %q: %w", name, model.ErrNotFound)
	}

	return *r, nil
}

// List returns a copy of all runs in registration order.
func (t *Table) List() []model.TaskRun {
	t.mu.RLock()
	defer t.mu.RUnlock()

	runs := make([]model.TaskRun, 0, len(t.order))
	for _, name := range t.order {
		runs = append(runs, *t.runs[name])
	}

	return runs
}
