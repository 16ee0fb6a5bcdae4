package printer

import (
	"encoding/json"
	"io"
	"time"

	"github.com/slok/devup/internal/model"
	"github.com/slok/devup/internal/ports"
)

// JSONPrinter prints the orchestrator information in JSON format.
type JSONPrinter struct {
	writer io.Writer
}

// NewJSONPrinter creates a new JSON printer.
func NewJSONPrinter(w io.Writer) *JSONPrinter {
	return &JSONPrinter{writer: w}
}

type planTaskOutput struct {
	Step      *int              `json:"step,omitempty"`
	Name      string            `json:"name"`
	Class     string            `json:"class"`
	Commands  []string          `json:"commands"`
	Image     string            `json:"image,omitempty"`
	Requires  []string          `json:"requires,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	ReadyPort int               `json:"ready_port,omitempty"`
}

type portOutput struct {
	Port   int    `json:"port"`
	Policy string `json:"policy"`
	Label  string `json:"label,omitempty"`
}

type sessionOutput struct {
	ID        string       `json:"id"`
	Manifest  string       `json:"manifest"`
	State     string       `json:"state"`
	Error     string       `json:"error,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
	Tasks     []taskOutput `json:"tasks,omitempty"`
}

type taskOutput struct {
	Name       string     `json:"name"`
	Class      string     `json:"class"`
	State      string     `json:"state"`
	ExitCode   *int       `json:"exit_code"`
	Error      string     `json:"error,omitempty"`
	Restarts   int        `json:"restarts"`
	StartedAt  *time.Time `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
	Tail       []string   `json:"tail"`
}

type messageOutput struct {
	Message string `json:"message"`
}

func (j *JSONPrinter) encode(v any) error {
	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// PrintPlan prints the execution plan in JSON format.
func (j *JSONPrinter) PrintPlan(plan model.Plan, services []model.TaskSpec) error {
	out := make([]planTaskOutput, 0, len(plan.Steps)+len(services))
	for _, s := range plan.Steps {
		step := s.Index + 1
		o := newPlanTaskOutput(s.Task)
		o.Step = &step
		o.Requires = s.Requires
		out = append(out, o)
	}
	for _, svc := range services {
		out = append(out, newPlanTaskOutput(svc))
	}

	return j.encode(out)
}

func newPlanTaskOutput(t model.TaskSpec) planTaskOutput {
	o := planTaskOutput{
		Name:      t.Name,
		Class:     string(t.Class),
		Commands:  t.Commands,
		Env:       t.Env,
		ReadyPort: t.ReadyPort,
	}
	if o.Commands == nil {
		o.Commands = []string{}
	}
	if t.Container != nil {
		o.Image = t.Container.Image
	}
	return o
}

// PrintPorts prints the declared ports in JSON format.
func (j *JSONPrinter) PrintPorts(table *ports.Table) error {
	all := table.All()
	out := make([]portOutput, 0, len(all))
	for _, p := range all {
		out = append(out, portOutput{Port: p.Port, Policy: string(p.Policy), Label: p.Label})
	}

	return j.encode(out)
}

// PrintSession prints the session with its tasks in JSON format.
func (j *JSONPrinter) PrintSession(session model.Session, statuses []model.TaskStatus) error {
	out := newSessionOutput(session)
	for _, st := range statuses {
		r := st.Run
		t := taskOutput{
			Name:       r.Name,
			Class:      string(r.Class),
			State:      string(r.State),
			Error:      r.Error,
			Restarts:   r.Restarts,
			StartedAt:  utcOrNil(r.StartedAt),
			FinishedAt: utcOrNil(r.FinishedAt),
			Tail:       st.Tail,
		}
		if r.ExitCode >= 0 {
			code := r.ExitCode
			t.ExitCode = &code
		}
		if t.Tail == nil {
			t.Tail = []string{}
		}
		out.Tasks = append(out.Tasks, t)
	}

	return j.encode(out)
}

// PrintSessions prints the sessions history in JSON format.
func (j *JSONPrinter) PrintSessions(sessions []model.Session) error {
	out := make([]sessionOutput, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, newSessionOutput(s))
	}

	return j.encode(out)
}

// PrintMessage prints a simple message in JSON format.
func (j *JSONPrinter) PrintMessage(msg string) error {
	return j.encode(messageOutput{Message: msg})
}

func newSessionOutput(s model.Session) sessionOutput {
	return sessionOutput{
		ID:        s.ID,
		Manifest:  s.Manifest,
		State:     string(s.State),
		Error:     s.Error,
		CreatedAt: s.CreatedAt.UTC(),
		UpdatedAt: s.UpdatedAt.UTC(),
	}
}

func utcOrNil(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
