// Package logger provides the leveled logging facade used across the
// gateway. It wraps github.com/op/go-logging so call sites never depend
// on the concrete logging library directly.
package logger

import (
	"os"

	logging "github.com/op/go-logging"
)

// Logger is the leveled logging interface every component depends on.
type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Notice(args ...interface{})
	Noticef(format string, args ...interface{})
	Warning(args ...interface{})
	Warningf(format string, args ...interface{})
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	Critical(args ...interface{})
	Criticalf(format string, args ...interface{})
}

// moduleLogger adapts a named go-logging logger to the Logger interface.
type moduleLogger struct {
	lg *logging.Logger
}

// backendConfigured guards the one-time backend setup; every New() call
// for every adapter shares the same formatted stderr backend.
var backendConfigured bool

// New creates a logger for the given module name (typically the chain
// adapter or component name, e.g. "tron", "engine", "jsonrpc").
func New(module string) Logger {
	if !backendConfigured {
		format := logging.MustStringFormatter(
			`%{time:2006-01-02T15:04:05.000Z07:00} %{level:.4s} [%{module}] %{message}`,
		)
		backend := logging.NewLogBackend(os.Stderr, "", 0)
		formatted := logging.NewBackendFormatter(backend, format)
		logging.SetBackend(formatted)
		backendConfigured = true
	}
	return &moduleLogger{lg: logging.MustGetLogger(module)}
}

func (m *moduleLogger) Debug(args ...interface{})                 { m.lg.Debug(args...) }
func (m *moduleLogger) Debugf(format string, args ...interface{})  { m.lg.Debugf(format, args...) }
func (m *moduleLogger) Info(args ...interface{})                  { m.lg.Info(args...) }
func (m *moduleLogger) Infof(format string, args ...interface{})  { m.lg.Infof(format, args...) }
func (m *moduleLogger) Notice(args ...interface{})                { m.lg.Notice(args...) }
func (m *moduleLogger) Noticef(format string, args ...interface{}) { m.lg.Noticef(format, args...) }
func (m *moduleLogger) Warning(args ...interface{})               { m.lg.Warning(args...) }
func (m *moduleLogger) Warningf(format string, args ...interface{}) {
	m.lg.Warningf(format, args...)
}
func (m *moduleLogger) Error(args ...interface{})                 { m.lg.Error(args...) }
func (m *moduleLogger) Errorf(format string, args ...interface{}) { m.lg.Errorf(format, args...) }
func (m *moduleLogger) Critical(args ...interface{})              { m.lg.Critical(args...) }
func (m *moduleLogger) Criticalf(format string, args ...interface{}) {
	m.lg.Criticalf(format, args...)
}
