package app

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Logger is the leveled logger used across the application. Components take
// it as a dependency so tests can silence or capture output.
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
}

type level int

const (
	levelDebug level = iota
	levelInfo
	levelWarn
	levelError
)

func parseLevel(s string) level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return levelDebug
	case "WARN", "WARNING":
		return levelWarn
	case "ERROR":
		return levelError
	default:
		return levelInfo
	}
}

type writerLogger struct {
	out io.Writer
	min level
}

// NewLogger returns a logger writing prefixed lines to out. Levels below min
// are dropped; min accepts DEBUG, INFO, WARN, ERROR (default INFO).
func NewLogger(out io.Writer, min string) Logger {
	if out == nil {
		out = os.Stderr
	}
	return &writerLogger{out: out, min: parseLevel(min)}
}

// NewNopLogger returns a logger that discards everything. Used in tests.
func NewNopLogger() Logger {
	return &writerLogger{out: io.Discard, min: levelError + 1}
}

func (l *writerLogger) log(lv level, prefix, format string, args ...interface{}) {
	if lv < l.min {
		return
	}
	fmt.Fprintf(l.out, prefix+format+"\n", args...)
}

func (l *writerLogger) Debug(format string, args ...interface{}) {
	l.log(levelDebug, "DEBUG: ", format, args...)
}

func (l *writerLogger) Info(format string, args ...interface{}) {
	l.log(levelInfo, "INFO: ", format, args...)
}

func (l *writerLogger) Warn(format string, args ...interface{}) {
	l.log(levelWarn, "WARN: ", format, args...)
}

func (l *writerLogger) Error(format string, args ...interface{}) {
	l.log(levelError, "ERROR: ", format, args...)
}
