// Package log provides the logging interface for the devup SDK.
//
// The SDK accepts any implementation of [Logger]. Use [Noop] to disable
// logging (this is the default when no logger is configured), or [NewLogrus]
// to log through a logrus logger:
//
//	l := logrus.New()
//	l.SetLevel(logrus.DebugLevel)
//	client, err := lib.New(ctx, lib.Config{Logger: log.NewLogrus(l)})
//
// Task output never goes through the logger, use [lib.UpOpts] Output for it.
package log

import (
	"github.com/sirupsen/logrus"

	"github.com/slok/devup/internal/log"
	loglogrus "github.com/slok/devup/internal/log/logrus"
)

// Logger is the interface that loggers must implement for the SDK.
//
// It supports structured logging through [Kv] values and context propagation.
type Logger = log.Logger

// Kv is a helper type for structured logging key-value pairs.
type Kv = log.Kv

// Noop is a logger that discards all log output.
var Noop = log.Noop

// NewLogrus returns a [Logger] that writes to a logrus logger.
func NewLogrus(l *logrus.Logger) Logger {
	return loglogrus.NewLogrus(logrus.NewEntry(l))
}
