package model

import "time"

// TaskRunState is the runtime state of a task.
type TaskRunState string

const (
	TaskRunStatePending   TaskRunState = "pending"
	TaskRunStateRunning   TaskRunState = "running"
	TaskRunStateSucceeded TaskRunState = "succeeded"
	TaskRunStateFailed    TaskRunState = "failed"
	// TaskRunStateStopped is a service terminated by the orchestrator.
	TaskRunStateStopped TaskRunState = "stopped"
	// TaskRunStateCrashed is a service that exited on its own.
	TaskRunStateCrashed TaskRunState = "crashed"
)

// IsTerminal returns true when the state can't change anymore.
func (s TaskRunState) IsTerminal() bool {
	switch s {
	case TaskRunStateSucceeded, TaskRunStateFailed, TaskRunStateStopped, TaskRunStateCrashed:
		return true
	}
	return false
}

// TaskRun is the runtime record of a task execution.
type TaskRun struct {
	Name       string
	Class      TaskClass
	Sequence   int
	State      TaskRunState
	StartedAt  *time.Time
	FinishedAt *time.Time
	// ExitCode is -1 while unknown.
	ExitCode int
	Error    string
	Restarts int
}

// TaskStatus is the point in time status of a task as shown to the operator.
type TaskStatus struct {
	Run  TaskRun
	Tail []string
}

// SessionState is the state of an orchestrator session.
type SessionState string

const (
	SessionStateIdle    SessionState = "idle"
	SessionStateInit    SessionState = "init"
	SessionStateService SessionState = "service"
	SessionStateReady   SessionState = "ready"
	SessionStateAborted SessionState = "aborted"
	// SessionStateClosed is set once a session has been shut down by the operator.
	SessionStateClosed SessionState = "closed"
)

// Session is one orchestrator lifecycle.
type Session struct {
	ID        string
	Manifest  string
	State     SessionState
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OutputStream identifies the origin stream of an output line.
type OutputStream string

const (
	OutputStreamStdout OutputStream = "stdout"
	OutputStreamStderr OutputStream = "stderr"
)

// OutputLine is a single line of task output.
type OutputLine struct {
	Task   string
	Stream OutputStream
	// Seq is the per task line sequence, starts at 1.
	Seq  uint64
	Text string
	Time time.Time
}
