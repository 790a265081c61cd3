// Package logger provides the structured logger every node component
// reports background failures through (spec.md §7 propagation policy).
package logger

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger embeds a configured *logrus.Logger. Components receive a
// *Logger and attach context with WithField/WithFields; none of them
// import logrus directly.
type Logger struct {
	*logrus.Logger
}

// LoggingConfig selects the level, line format, and output stream.
type LoggingConfig struct {
	Level  string // debug, info, warn, error; unknown values mean info
	Format string // "json" or "text"
	Output string // "stderr" or "stdout"
}

// New builds a Logger from cfg. The node is a single always-on process
// whose operators capture its output streams, so stdout/stderr are the
// only supported sinks.
func New(cfg LoggingConfig) *Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if strings.EqualFold(cfg.Format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if strings.EqualFold(cfg.Output, "stderr") {
		l.SetOutput(os.Stderr)
	} else {
		l.SetOutput(os.Stdout)
	}

	return &Logger{Logger: l}
}

// WithFields attaches several context fields at once. The parameter is a
// plain map so callers stay free of the logrus dependency.
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields(fields))
}
