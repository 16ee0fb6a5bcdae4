package printer

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/slok/devup/internal/model"
	"github.com/slok/devup/internal/ports"
)

// TablePrinter prints the orchestrator information in a table format.
type TablePrinter struct {
	writer  io.Writer
	timeNow func() time.Time
}

// NewTablePrinter creates a new table printer.
func NewTablePrinter(w io.Writer) *TablePrinter {
	return &TablePrinter{writer: w, timeNow: time.Now}
}

func (t *TablePrinter) newTabWriter() *tabwriter.Writer {
	return tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
}

// PrintPlan prints the init steps in execution order followed by the services.
func (t *TablePrinter) PrintPlan(plan model.Plan, services []model.TaskSpec) error {
	tw := t.newTabWriter()
	defer tw.Flush()

	fmt.Fprintln(tw, "STEP\tTASK\tCLASS\tRUNS\tREQUIRES")

	for _, s := range plan.Steps {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", s.Index+1, s.Task.Name, s.Task.Class, taskBody(s.Task), orDash(strings.Join(s.Requires, ",")))
	}

	for _, svc := range services {
		fmt.Fprintf(tw, "-\t%s\t%s\t%s\t-\n", svc.Name, svc.Class, taskBody(svc))
	}

	return nil
}

// PrintPorts prints the declared ports.
func (t *TablePrinter) PrintPorts(table *ports.Table) error {
	all := table.All()
	if len(all) == 0 {
		return nil
	}

	tw := t.newTabWriter()
	defer tw.Flush()

	fmt.Fprintln(tw, "PORT\tPOLICY\tLABEL")
	for _, p := range all {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", p.Port, p.Policy, orDash(p.Label))
	}

	return nil
}

// PrintSession prints the session details, its tasks and their output tail.
func (t *TablePrinter) PrintSession(session model.Session, statuses []model.TaskStatus) error {
	fmt.Fprintf(t.writer, "Session:   %s\n", session.ID)
	fmt.Fprintf(t.writer, "Manifest:  %s\n", session.Manifest)
	fmt.Fprintf(t.writer, "State:     %s\n", session.State)
	fmt.Fprintf(t.writer, "Created:   %s\n", FormatTimestamp(session.CreatedAt))
	fmt.Fprintf(t.writer, "Updated:   %s\n", FormatTimestamp(session.UpdatedAt))
	if session.Error != "" {
		fmt.Fprintf(t.writer, "Error:     %s\n", session.Error)
	}

	if len(statuses) == 0 {
		return nil
	}

	fmt.Fprintln(t.writer)
	tw := t.newTabWriter()
	fmt.Fprintln(tw, "TASK\tCLASS\tSTATE\tEXIT\tRESTARTS\tDURATION")
	now := t.timeNow()
	for _, st := range statuses {
		r := st.Run
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n", r.Name, r.Class, r.State, exitCode(r.ExitCode), r.Restarts, RunDuration(r.StartedAt, r.FinishedAt, now))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, st := range statuses {
		if st.Run.Error == "" && len(st.Tail) == 0 {
			continue
		}

		fmt.Fprintf(t.writer, "\n==> %s <==\n", st.Run.Name)
		if st.Run.Error != "" {
			fmt.Fprintf(t.writer, "error: %s\n", st.Run.Error)
		}
		for _, l := range st.Tail {
			fmt.Fprintln(t.writer, l)
		}
	}

	return nil
}

// PrintSessions prints the sessions history.
func (t *TablePrinter) PrintSessions(sessions []model.Session) error {
	if len(sessions) == 0 {
		return nil
	}

	tw := t.newTabWriter()
	defer tw.Flush()

	fmt.Fprintln(tw, "ID\tMANIFEST\tSTATE\tCREATED")
	now := t.timeNow()
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.ID, s.Manifest, s.State, TimeAgo(s.CreatedAt, now))
	}

	return nil
}

// PrintMessage prints a simple text message.
func (t *TablePrinter) PrintMessage(msg string) error {
	fmt.Fprintln(t.writer, msg)
	return nil
}

func taskBody(task model.TaskSpec) string {
	cmd := strings.Join(task.Commands, " && ")
	if task.Container == nil {
		return cmd
	}

	if cmd == "" {
		return fmt.Sprintf("[%s]", task.Container.Image)
	}
	return fmt.Sprintf("[%s] %s", task.Container.Image, cmd)
}

func exitCode(code int) string {
	if code < 0 {
		return "-"
	}
	return strconv.Itoa(code)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
