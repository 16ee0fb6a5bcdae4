package engine

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/slok/devup/internal/model"
)

// ReadinessProbe gates a launched service before the session is considered ready.
type ReadinessProbe interface {
	Probe(ctx context.Context, task model.TaskSpec) error
}

// ReadinessProbeFunc is a helper to use functions as ReadinessProbe.
type ReadinessProbeFunc func(ctx context.Context, task model.TaskSpec) error

func (f ReadinessProbeFunc) Probe(ctx context.Context, task model.TaskSpec) error { return f(ctx, task) }

// NoopReadinessProbe considers every launched service ready.
var NoopReadinessProbe = ReadinessProbeFunc(func(context.Context, model.TaskSpec) error { return nil })

// TCPProbe waits until the service ready port accepts TCP connections. Services
// without a ready port are ready once launched.
type TCPProbe struct {
	Host     string
	Timeout  time.Duration
	Interval time.Duration
}

func (p TCPProbe) Probe(ctx context.Context, task model.TaskSpec) error {
	if task.ReadyPort == 0 {
		return nil
	}

	host := p.Host
	if host == "" {
		host = "127.0.0.1"
	}
	interval := p.Interval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	addr := net.JoinHostPort(host, strconv.Itoa(task.ReadyPort))
	dialer := net.Dialer{Timeout: time.Second}
	for {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			_ = conn.Close()
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s not reachable: %w", addr, ctx.Err())
		case <-time.After(interval):
		}
	}
}

// RestartPolicy decides if a crashed service is launched again.
type RestartPolicy interface {
	Restart(run model.TaskRun) bool
}

// NeverRestart leaves crashed services terminated.
type NeverRestart struct{}

func (NeverRestart) Restart(model.TaskRun) bool { return false }

// MaxRestarts restarts a crashed service up to N times.
type MaxRestarts int

func (m MaxRestarts) Restart(run model.TaskRun) bool { return run.Restarts < int(m) }
