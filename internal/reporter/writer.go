package reporter

import (
	"bytes"
	"io"
	"sync"

	"github.com/slok/devup/internal/model"
)

// Writer returns a writer that publishes every complete line written into it
// as task output. Close flushes the last incomplete line.
func (r *Reporter) Writer(task string, kind model.OutputStream) io.WriteCloser {
	return &lineWriter{reporter: r, task: task, kind: kind}
}

type lineWriter struct {
	reporter *Reporter
	task     string
	kind     model.OutputStream

	mu  sync.Mutex
	buf []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.reporter.Publish(w.task, w.kind, string(bytes.TrimSuffix(w.buf[:i], []byte("\r"))))
		w.buf = w.buf[i+1:]
	}

	return len(p), nil
}

func (w *lineWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.buf) > 0 {
		w.reporter.Publish(w.task, w.kind, string(bytes.TrimSuffix(w.buf, []byte("\r"))))
		w.buf = nil
	}
	return nil
}
