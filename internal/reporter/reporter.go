// Package reporter streams task output lines and exposes task status to the
// operator.
//
// Every task has its own line stream. Lines are kept in a bounded buffer so
// late subscribers get the recent history before following live output. A
// stream is closed when its task reaches a terminal state, which ends all its
// subscriptions.
package reporter

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/slok/devup/internal/log"
	"github.com/slok/devup/internal/model"
)

const (
	defaultRetention = 1000
	defaultTailSize  = 20
)

// RunSource is where the reporter reads the task runs from.
type RunSource interface {
	Get(name string) (model.TaskRun, error)
	List() []model.TaskRun
}

// ReporterConfig is the configuration of the reporter.
type ReporterConfig struct {
	Runs RunSource
	// Out is where all the output lines are echoed, prefixed with the task name.
	// Nil disables the echo.
	Out io.Writer
	// Retention is the number of lines kept per task.
	Retention int
	// TailSize is the number of lines returned on the status.
	TailSize int
	Logger   log.Logger
	// TimeNow is used to timestamp lines.
	TimeNow func() time.Time
}

func (c *ReporterConfig) defaults() error {
	if c.Runs == nil {
		return fmt.Errorf("runs source is required")
	}
	if c.Retention <= 0 {
		c.Retention = defaultRetention
	}
	if c.TailSize <= 0 {
		c.TailSize = defaultTailSize
	}
	if c.TailSize > c.Retention {
		c.TailSize = c.Retention
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "reporter.Reporter"})
	if c.TimeNow == nil {
		c.TimeNow = time.Now
	}
	return nil
}

// Reporter is the output and status reporter.
type Reporter struct {
	runs      RunSource
	out       io.Writer
	outMu     sync.Mutex
	retention int
	tailSize  int
	logger    log.Logger
	timeNow   func() time.Time

	mu      sync.Mutex
	streams map[string]*stream
}

// NewReporter returns a new reporter.
func NewReporter(cfg ReporterConfig) (*Reporter, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Reporter{
		runs:      cfg.Runs,
		out:       cfg.Out,
		retention: cfg.Retention,
		tailSize:  cfg.TailSize,
		logger:    cfg.Logger,
		timeNow:   cfg.TimeNow,
		streams:   map[string]*stream{},
	}, nil
}

type stream struct {
	mu      sync.Mutex
	lines   []model.OutputLine
	seq     uint64
	closed  bool
	changed chan struct{}
}

func newStream() *stream {
	return &stream{changed: make(chan struct{})}
}

// notify wakes up the followers, must be called with the lock held.
func (s *stream) notify() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (r *Reporter) stream(task string) *stream {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.streams[task]
	if !ok {
		s = newStream()
		r.streams[task] = s
	}
	return s
}

// Publish adds a line to a task output.
func (r *Reporter) Publish(task string, kind model.OutputStream, text string) {
	s := r.stream(task)

	s.mu.Lock()
	s.seq++
	s.lines = append(s.lines, model.OutputLine{
		Task:   task,
		Stream: kind,
		Seq:    s.seq,
		Text:   text,
		Time:   r.timeNow(),
	})
	if len(s.lines) > r.retention {
		s.lines = append([]model.OutputLine(nil), s.lines[len(s.lines)-r.retention:]...)
	}
	s.notify()
	s.mu.Unlock()

	if r.out != nil {
		r.outMu.Lock()
		fmt.Fprintf(r.out, "[%s] %s\n", task, text)
		r.outMu.Unlock()
	}
}

// Close ends the output stream of a task, subscribers will be finished once
// they have received all the lines.
func (r *Reporter) Close(task string) {
	s := r.stream(task)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.notify()
}

// Reopen opens again the stream of a task (e.g on a restart). Lines keep
// their sequence.
func (r *Reporter) Reopen(task string) {
	s := r.stream(task)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = false
}

// Subscribe returns the output lines of a task. Retained lines are sent first
// and then the live ones. The channel is closed when the task output ends or
// the context is done.
func (r *Reporter) Subscribe(ctx context.Context, task string) (<-chan model.OutputLine, error) {
	if _, err := r.runs.Get(task); err != nil {
		return nil, fmt.Errorf("could not subscribe to task: %w", err)
	}

	s := r.stream(task)
	ch := make(chan model.OutputLine)
	r.logger.Debugf("New subscription to task %s output", task)

	go func() {
		defer close(ch)

		var next uint64 = 1
		for {
			s.mu.Lock()
			pending := make([]model.OutputLine, 0)
			for _, l := range s.lines {
				if l.Seq >= next {
					pending = append(pending, l)
				}
			}
			closed := s.closed
			changed := s.changed
			s.mu.Unlock()

			for _, l := range pending {
				select {
				case <-ctx.Done():
					return
				case ch <- l:
					next = l.Seq + 1
				}
			}

			// Nothing else can be published after the snapshot of a closed stream.
			if closed {
				return
			}

			if len(pending) > 0 {
				continue
			}

			select {
			case <-ctx.Done():
				return
			case <-changed:
			}
		}
	}()

	return ch, nil
}

// Status returns the current status of a task.
func (r *Reporter) Status(task string) (model.TaskStatus, error) {
	run, err := r.runs.Get(task)
	if err != nil {
		return model.TaskStatus{}, err
	}

	return model.TaskStatus{Run: run, Tail: r.Tail(task)}, nil
}

// Statuses returns the current status of all the tasks.
func (r *Reporter) Statuses() []model.TaskStatus {
	runs := r.runs.List()
	statuses := make([]model.TaskStatus, 0, len(runs))
	for _, run := range runs {
		statuses = append(statuses, model.TaskStatus{Run: run, Tail: r.Tail(run.Name)})
	}
	return statuses
}

// Tail returns the last output lines of a task.
func (r *Reporter) Tail(task string) []string {
	return r.texts(task, r.tailSize)
}

// Lines returns the text of every retained output line of a task.
func (r *Reporter) Lines(task string) []string {
	return r.texts(task, -1)
}

func (r *Reporter) texts(task string, max int) []string {
	r.mu.Lock()
	s, ok := r.streams[task]
	r.mu.Unlock()
	if !ok {
		return []string{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := 0
	if max >= 0 && len(s.lines) > max {
		start = len(s.lines) - max
	}
	texts := make([]string, 0, len(s.lines)-start)
	for _, l := range s.lines[start:] {
		texts = append(texts, l.Text)
	}
	return texts
}
