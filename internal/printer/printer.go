package printer

import (
	"github.com/slok/devup/internal/model"
	"github.com/slok/devup/internal/ports"
)

// Printer knows how to print the orchestrator information in different formats.
type Printer interface {
	PrintPlan(plan model.Plan, services []model.TaskSpec) error
	PrintPorts(table *ports.Table) error
	PrintSession(session model.Session, statuses []model.TaskStatus) error
	PrintSessions(sessions []model.Session) error
	PrintMessage(msg string) error
}

// PortsPrinter prints a port table.
type PortsPrinter interface {
	PrintPorts(table *ports.Table) error
}
