package core

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
)

// LogLevel controls verbosity, matching the pack's DebugLevel..ErrorLevel
// enum.
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// Logger is the structured logging contract every component depends on.
// Kept small and interface-based so call sites never need a concrete
// implementation; NoOpLogger satisfies it for tests and optional wiring.
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	SetLevel(level LogLevel)
	WithComponent(name string) Logger
}

// NoOpLogger discards everything. Safe zero value for components that
// don't have a logger wired in yet.
type NoOpLogger struct{}

func (NoOpLogger) Debug(string, map[string]interface{}) {}
func (NoOpLogger) Info(string, map[string]interface{})  {}
func (NoOpLogger) Warn(string, map[string]interface{})  {}
func (NoOpLogger) Error(string, map[string]interface{}) {}
func (NoOpLogger) SetLevel(LogLevel)                     {}
func (NoOpLogger) WithComponent(string) Logger           { return NoOpLogger{} }

// SimpleLogger is a minimal structured logger backed by the standard
// library, written in the key=value style the pack's SimpleLogger uses.
type SimpleLogger struct {
	mu        sync.Mutex
	level     LogLevel
	component string
	out       *log.Logger
}

// NewSimpleLogger returns a Logger writing to stderr at InfoLevel.
func NewSimpleLogger() *SimpleLogger {
	return &SimpleLogger{
		level: InfoLevel,
		out:   log.New(os.Stderr, "", log.LstdFlags),
	}
}

func (l *SimpleLogger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *SimpleLogger) WithComponent(name string) Logger {
	return &SimpleLogger{level: l.level, component: name, out: l.out}
}

func (l *SimpleLogger) log(level LogLevel, tag, msg string, fields map[string]interface{}) {
	l.mu.Lock()
	cur := l.level
	l.mu.Unlock()
	if level < cur {
		return
	}
	var b strings.Builder
	b.WriteString(tag)
	b.WriteString(" ")
	if l.component != "" {
		b.WriteString("component=")
		b.WriteString(l.component)
		b.WriteString(" ")
	}
	b.WriteString(msg)
	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, fields[k])
		}
	}
	l.out.Println(b.String())
}

func (l *SimpleLogger) Debug(msg string, fields map[string]interface{}) {
	l.log(DebugLevel, "DEBUG", msg, fields)
}
func (l *SimpleLogger) Info(msg string, fields map[string]interface{}) {
	l.log(InfoLevel, "INFO", msg, fields)
}
func (l *SimpleLogger) Warn(msg string, fields map[string]interface{}) {
	l.log(WarnLevel, "WARN", msg, fields)
}
func (l *SimpleLogger) Error(msg string, fields map[string]interface{}) {
	l.log(ErrorLevel, "ERROR", msg, fields)
}
