package printer_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/devup/internal/model"
	"github.com/slok/devup/internal/ports"
	"github.com/slok/devup/internal/printer"
)

func planFixture() (model.Plan, []model.TaskSpec) {
	deps := model.TaskSpec{Name: "deps", Class: model.TaskClassInit, Commands: []string{"npm ci"}}
	migrate := model.TaskSpec{Name: "migrate", Class: model.TaskClassInit, Commands: []string{"python manage.py migrate"}}
	plan := model.Plan{Steps: []model.Step{
		{Index: 0, Task: deps, Requires: []string{}},
		{Index: 1, Task: migrate, Requires: []string{"deps"}},
	}}
	services := []model.TaskSpec{
		{Name: "redis", Class: model.TaskClassService, Container: &model.ContainerSpec{Image: "redis:7"}},
		{Name: "web", Class: model.TaskClassService, Commands: []string{"python manage.py runserver"}},
	}
	return plan, services
}

func portsFixture(t *testing.T) *ports.Table {
	t.Helper()
	table, err := ports.Declare([]model.PortSpec{
		{Port: 8000, Policy: model.PortPolicyNotify, Label: "Django"},
		{Port: 6379, Policy: model.PortPolicyIgnore},
	})
	require.NoError(t, err)
	return table
}

func sessionFixture() (model.Session, []model.TaskStatus) {
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	finished := created.Add(2 * time.Second)
	session := model.Session{
		ID:        "01HXYZ",
		Manifest:  "django",
		State:     model.SessionStateAborted,
		Error:     `init task "migrate" failed with exit code 1`,
		CreatedAt: created,
		UpdatedAt: finished,
	}
	statuses := []model.TaskStatus{
		{Run: model.TaskRun{Name: "deps", Class: model.TaskClassInit, State: model.TaskRunStateSucceeded, StartedAt: &created, FinishedAt: &finished, ExitCode: 0}},
		{
			Run:  model.TaskRun{Name: "migrate", Class: model.TaskClassInit, State: model.TaskRunStateFailed, StartedAt: &created, FinishedAt: &finished, ExitCode: 1, Error: "exit code 1"},
			Tail: []string{"django.db.utils.OperationalError: no such table"},
		},
		{Run: model.TaskRun{Name: "web", Class: model.TaskClassService, State: model.TaskRunStatePending, ExitCode: -1}},
	}
	return session, statuses
}

func TestTablePrinterPrintPlan(t *testing.T) {
	var buf bytes.Buffer
	plan, services := planFixture()

	require.NoError(t, printer.NewTablePrinter(&buf).PrintPlan(plan, services))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, []string{"STEP", "TASK", "CLASS", "RUNS", "REQUIRES"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"1", "deps", "init", "npm", "ci", "-"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"2", "migrate", "init", "python", "manage.py", "migrate", "deps"}, strings.Fields(lines[2]))
	assert.Equal(t, []string{"-", "redis", "service", "[redis:7]", "-"}, strings.Fields(lines[3]))
	assert.Equal(t, []string{"-", "web", "service", "python", "manage.py", "runserver", "-"}, strings.Fields(lines[4]))
}

func TestTablePrinterPrintPorts(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, printer.NewTablePrinter(&buf).PrintPorts(portsFixture(t)))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, []string{"8000", "notify", "Django"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"6379", "ignore", "-"}, strings.Fields(lines[2]))
}

func TestTablePrinterPrintSession(t *testing.T) {
	var buf bytes.Buffer
	session, statuses := sessionFixture()

	require.NoError(t, printer.NewTablePrinter(&buf).PrintSession(session, statuses))

	out := buf.String()
	assert.Contains(t, out, "Session:   01HXYZ")
	assert.Contains(t, out, "State:     aborted")
	assert.Contains(t, out, `Error:     init task "migrate" failed with exit code 1`)
	assert.Contains(t, out, "==> migrate <==\nerror: exit code 1\ndjango.db.utils.OperationalError: no such table\n")
	assert.NotContains(t, out, "==> deps <==")

	var webLine string
	for _, l := range strings.Split(out, "\n") {
		if strings.HasPrefix(l, "web ") {
			webLine = l
		}
	}
	assert.Equal(t, []string{"web", "service", "pending", "-", "0", "-"}, strings.Fields(webLine))
}

func TestTablePrinterPrintSessions(t *testing.T) {
	var buf bytes.Buffer
	session, _ := sessionFixture()

	require.NoError(t, printer.NewTablePrinter(&buf).PrintSessions([]model.Session{session}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, []string{"01HXYZ", "django", "aborted"}, strings.Fields(lines[1])[:3])
}

func TestTablePrinterPrintMessage(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, printer.NewTablePrinter(&buf).PrintMessage("ok"))
	assert.Equal(t, "ok", strings.TrimSpace(buf.String()))
}

func TestJSONPrinterPrintPlan(t *testing.T) {
	var buf bytes.Buffer
	plan, services := planFixture()

	require.NoError(t, printer.NewJSONPrinter(&buf).PrintPlan(plan, services))

	out := buf.String()
	assert.Contains(t, out, `"step": 2`)
	assert.Contains(t, out, `"requires": [
      "deps"
    ]`)
	assert.Contains(t, out, `"image": "redis:7"`)
	assert.Contains(t, out, `"commands": []`)
}

func TestJSONPrinterPrintPorts(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, printer.NewJSONPrinter(&buf).PrintPorts(portsFixture(t)))

	exp := `[
  {
    "port": 8000,
    "policy": "notify",
    "label": "Django"
  },
  {
    "port": 6379,
    "policy": "ignore"
  }
]
`
	assert.Equal(t, exp, buf.String())
}

func TestJSONPrinterPrintSession(t *testing.T) {
	var buf bytes.Buffer
	session, statuses := sessionFixture()

	require.NoError(t, printer.NewJSONPrinter(&buf).PrintSession(session, statuses))

	out := buf.String()
	assert.Contains(t, out, `"state": "aborted"`)
	assert.Contains(t, out, `"exit_code": 1`)
	assert.Contains(t, out, `"exit_code": null`)
	assert.Contains(t, out, `"created_at": "2024-05-01T10:00:00Z"`)
	assert.Contains(t, out, `"django.db.utils.OperationalError: no such table"`)
}

func TestDevcontainerPrinterPrintPorts(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, printer.NewDevcontainerPrinter(&buf).PrintPorts(portsFixture(t)))

	exp := `{
  "forwardPorts": [
    8000
  ],
  "portsAttributes": {
    "6379": {
      "onAutoForward": "ignore"
    },
    "8000": {
      "label": "Django",
      "onAutoForward": "notify"
    }
  }
}
`
	assert.Equal(t, exp, buf.String())
}
