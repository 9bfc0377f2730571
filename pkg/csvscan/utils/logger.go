package utils

import (
	"fmt"
	"io"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

type Logger interface {
	Info(format string, v ...interface{})
	Error(format string, v ...interface{})
	Debug(format string, v ...interface{})
	With(keyvals ...interface{}) Logger
}

// KitLogger writes logfmt lines through go-kit/log.
type KitLogger struct {
	logger log.Logger
}

// NewLogger returns a logfmt logger on w. Debug lines are dropped unless
// verbose is set.
func NewLogger(w io.Writer, verbose bool) *KitLogger {
	l := log.NewLogfmtLogger(log.NewSyncWriter(w))
	l = log.With(l, "ts", log.DefaultTimestampUTC, "app", "csvscan")
	if verbose {
		l = level.NewFilter(l, level.AllowDebug())
	} else {
		l = level.NewFilter(l, level.AllowInfo())
	}
	return &KitLogger{logger: l}
}

func (l *KitLogger) Info(format string, v ...interface{}) {
	level.Info(l.logger).Log("msg", fmt.Sprintf(format, v...))
}

func (l *KitLogger) Error(format string, v ...interface{}) {
	level.Error(l.logger).Log("msg", fmt.Sprintf(format, v...))
}

func (l *KitLogger) Debug(format string, v ...interface{}) {
	level.Debug(l.logger).Log("msg", fmt.Sprintf(format, v...))
}

// With returns a logger that adds keyvals to every line.
func (l *KitLogger) With(keyvals ...interface{}) Logger {
	return &KitLogger{logger: log.With(l.logger, keyvals...)}
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Info(string, ...interface{})  {}
func (NopLogger) Error(string, ...interface{}) {}
func (NopLogger) Debug(string, ...interface{}) {}
func (n NopLogger) With(...interface{}) Logger { return n }
