package lib

import (
	"io"
	"time"

	"github.com/slok/devup/internal/model"
	"github.com/slok/devup/internal/ports"
)

// RuntimeType identifies how the tasks are run.
type RuntimeType string

const (
	// RuntimeShell runs the task commands with a shell on the host and the
	// container tasks with the local Docker daemon.
	RuntimeShell RuntimeType = "shell"

	// RuntimeFake simulates the tasks without running anything.
	RuntimeFake RuntimeType = "fake"
)

// SessionState is the lifecycle state of a session.
//
// The typical lifecycle is:
//
//	idle -> init -> service -> ready -> closed
//
// A failing init task moves the session to aborted.
type SessionState string

const (
	SessionStateIdle    SessionState = "idle"
	SessionStateInit    SessionState = "init"
	SessionStateService SessionState = "service"
	SessionStateReady   SessionState = "ready"
	SessionStateAborted SessionState = "aborted"
	SessionStateClosed  SessionState = "closed"
)

// TaskState is the runtime state of a task.
type TaskState string

const (
	TaskStatePending   TaskState = "pending"
	TaskStateRunning   TaskState = "running"
	TaskStateSucceeded TaskState = "succeeded"
	TaskStateFailed    TaskState = "failed"
	// TaskStateStopped is a service stopped when the session was shut down.
	TaskStateStopped TaskState = "stopped"
	// TaskStateCrashed is a service that exited on its own.
	TaskStateCrashed TaskState = "crashed"
)

// TaskClass is the kind of a task.
type TaskClass string

const (
	// TaskClassInit tasks run once, in order, and must succeed.
	TaskClassInit TaskClass = "init"
	// TaskClassService tasks run in background for the whole session.
	TaskClassService TaskClass = "service"
)

// PortPolicy is how the hosting environment treats a declared port.
type PortPolicy string

const (
	PortPolicyIgnore      PortPolicy = "ignore"
	PortPolicyNotify      PortPolicy = "notify"
	PortPolicyOpenBrowser PortPolicy = "openBrowser"
)

// Session is a single run of a manifest.
type Session struct {
	ID        string
	Manifest  string
	State     SessionState
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TaskStatus is the status of a task in a session.
type TaskStatus struct {
	Name       string
	Class      TaskClass
	Sequence   int
	State      TaskState
	StartedAt  *time.Time
	FinishedAt *time.Time
	// ExitCode is -1 while unknown.
	ExitCode int
	Error    string
	Restarts int
	// Tail are the last output lines of the task.
	Tail []string
}

// SessionStatus is a session with the status of all its tasks.
type SessionStatus struct {
	Session Session
	Tasks   []TaskStatus
}

// Port is a port declared by a manifest.
type Port struct {
	Port   int
	Policy PortPolicy
	Label  string
}

// PlanStep is a step of the init task chain.
type PlanStep struct {
	// Index is the 0 based position of the step.
	Index    int
	Task     string
	Requires []string
}

// ValidateResult is the execution plan of a valid manifest.
type ValidateResult struct {
	Name     string
	Steps    []PlanStep
	Services []string
	Ports    []Port
}

// UpOpts configures a session.
type UpOpts struct {
	// ManifestPath is the manifest file (required), YAML or TOML.
	ManifestPath string
	// Env overrides the manifest and task environment.
	Env map[string]string
	// Output receives the task output lines prefixed with the task name.
	// Nil discards the output.
	Output io.Writer
	// Follow restricts the output to these tasks.
	Follow []string
	// Ready is called once the session is ready.
	Ready func(sessionID string)
}

// ListSessionsOpts filters the session history.
type ListSessionsOpts struct {
	State *SessionState
	// Limit is the max number of sessions, 0 is unlimited.
	Limit int
}

// --- Internal conversion helpers ---

func fromInternalSession(s model.Session) Session {
	return Session{
		ID:        s.ID,
		Manifest:  s.Manifest,
		State:     SessionState(s.State),
		Error:     s.Error,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

func fromInternalSessionList(ss []model.Session) []Session {
	result := make([]Session, len(ss))
	for i, s := range ss {
		result[i] = fromInternalSession(s)
	}
	return result
}

func fromInternalTaskStatuses(ts []model.TaskStatus) []TaskStatus {
	result := make([]TaskStatus, len(ts))
	for i, t := range ts {
		tail := t.Tail
		if tail == nil {
			tail = []string{}
		}
		result[i] = TaskStatus{
			Name:       t.Run.Name,
			Class:      TaskClass(t.Run.Class),
			Sequence:   t.Run.Sequence,
			State:      TaskState(t.Run.State),
			StartedAt:  t.Run.StartedAt,
			FinishedAt: t.Run.FinishedAt,
			ExitCode:   t.Run.ExitCode,
			Error:      t.Run.Error,
			Restarts:   t.Run.Restarts,
			Tail:       tail,
		}
	}
	return result
}

func fromInternalPorts(table *ports.Table) []Port {
	all := table.All()
	result := make([]Port, len(all))
	for i, p := range all {
		result[i] = Port{Port: p.Port, Policy: PortPolicy(p.Policy), Label: p.Label}
	}
	return result
}

func fromInternalPlan(m model.Manifest, plan model.Plan, table *ports.Table) ValidateResult {
	res := ValidateResult{
		Name:     m.Name,
		Steps:    make([]PlanStep, len(plan.Steps)),
		Services: make([]string, len(m.Services)),
		Ports:    fromInternalPorts(table),
	}
	for i, s := range plan.Steps {
		res.Steps[i] = PlanStep{Index: s.Index, Task: s.Task.Name, Requires: s.Requires}
	}
	for i, s := range m.Services {
		res.Services[i] = s.Name
	}
	return res
}
