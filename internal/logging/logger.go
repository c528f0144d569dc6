// Package logging provides the small structured logger shared by the planner components.
package logging

import (
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"
)

// Fields carries structured key/value context for a log line.
type Fields map[string]interface{}

// Logger is a simple structured logger interface.
type Logger interface {
	Debug(msg string, fields Fields)
	Info(msg string, fields Fields)
	Warn(msg string, fields Fields)
	Error(msg string, fields Fields)
}

// Level orders log severities.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps a level name to a Level, defaulting to info.
func ParseLevel(name string) Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// StdLogger implements Logger using the standard log package with JSON output.
type StdLogger struct {
	min    Level
	logger *log.Logger
	mu     sync.Mutex
}

// NewStdLogger creates a JSON line logger that drops entries below min.
// A nil logger writes through the standard package logger.
func NewStdLogger(min Level, logger *log.Logger) *StdLogger {
	return &StdLogger{min: min, logger: logger}
}

func (l *StdLogger) Debug(msg string, fields Fields) { l.write(LevelDebug, msg, fields) }
func (l *StdLogger) Info(msg string, fields Fields)  { l.write(LevelInfo, msg, fields) }
func (l *StdLogger) Warn(msg string, fields Fields)  { l.write(LevelWarn, msg, fields) }
func (l *StdLogger) Error(msg string, fields Fields) { l.write(LevelError, msg, fields) }

func (l *StdLogger) write(level Level, msg string, fields Fields) {
	if level < l.min {
		return
	}
	// copy so callers can reuse their field maps
	entry := make(map[string]interface{}, len(fields)+3)
	for k, v := range fields {
		entry[k] = v
	}
	entry["level"] = level.String()
	entry["msg"] = msg
	entry["ts"] = time.Now().Format(time.RFC3339)
	b, err := json.Marshal(entry)
	if err != nil {
		b = []byte(`{"level":"error","msg":"unserializable log fields"}`)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.logger != nil {
		l.logger.Println(string(b))
		return
	}
	log.Println(string(b))
}

// Nop discards everything.
type Nop struct{}

func (Nop) Debug(string, Fields) {}
func (Nop) Info(string, Fields)  {}
func (Nop) Warn(string, Fields)  {}
func (Nop) Error(string, Fields) {}

// OrNop returns l, or a Nop logger when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return Nop{}
	}
	return l
}
