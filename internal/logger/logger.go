package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents a logging level
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

// String returns the string representation of the log level
func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a string into a Level. Unknown values map to INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// sink is shared by a logger and every logger derived from it, so that
// SetLevel and SetOutput on the root apply to all components.
type sink struct {
	mu     sync.Mutex
	level  Level
	output io.Writer
}

func (s *sink) write(level Level, component, prefix, format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if level < s.level {
		return
	}

	msg := fmt.Sprintf(format, args...)
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	var line string
	if prefix != "" {
		line = fmt.Sprintf("%s %s [%s] [%s] %s\n", timestamp, level.String(), component, prefix, msg)
	} else {
		line = fmt.Sprintf("%s %s [%s] %s\n", timestamp, level.String(), component, msg)
	}
	_, _ = io.WriteString(s.output, line)
}

// Logger is a leveled logger tagged with a component name
type Logger struct {
	sink      *sink
	component string
}

// Config holds logger configuration
type Config struct {
	Level     string `yaml:"level"` // debug, info, warn, error
	Component string `yaml:"-"`
}

var (
	defaultLogger = New(&Config{Level: "info", Component: "yacb"})
	defaultMu     sync.RWMutex
)

// New creates a root logger writing to stderr
func New(cfg *Config) *Logger {
	component := cfg.Component
	if component == "" {
		component = "yacb"
	}
	return &Logger{
		sink:      &sink{level: ParseLevel(cfg.Level), output: os.Stderr},
		component: component,
	}
}

// SetOutput sets the output writer for this logger and all derived loggers
func (l *Logger) SetOutput(w io.Writer) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.output = w
}

// SetLevel sets the minimum logging level
func (l *Logger) SetLevel(level Level) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.level = level
}

// GetLevel returns the current logging level
func (l *Logger) GetLevel() Level {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	return l.sink.level
}

// WithComponent returns a logger sharing this logger's sink under another component name
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{sink: l.sink, component: component}
}

// WithTurn returns a logger that tags every line with a short turn id
func (l *Logger) WithTurn(turnID string) *TurnLogger {
	if len(turnID) > 8 {
		turnID = turnID[:8]
	}
	return &TurnLogger{logger: l, turnID: turnID}
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...any) {
	l.sink.write(DEBUG, l.component, "", format, args...)
}

// Info logs an info message
func (l *Logger) Info(format string, args ...any) {
	l.sink.write(INFO, l.component, "", format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...any) {
	l.sink.write(WARN, l.component, "", format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...any) {
	l.sink.write(ERROR, l.component, "", format, args...)
}

// TurnLogger tags lines with the turn being processed
type TurnLogger struct {
	logger *Logger
	turnID string
}

// Debug logs a debug message for the turn
func (tl *TurnLogger) Debug(format string, args ...any) {
	tl.logger.sink.write(DEBUG, tl.logger.component, tl.turnID, format, args...)
}

// Info logs an info message for the turn
func (tl *TurnLogger) Info(format string, args ...any) {
	tl.logger.sink.write(INFO, tl.logger.component, tl.turnID, format, args...)
}

// Warn logs a warning message for the turn
func (tl *TurnLogger) Warn(format string, args ...any) {
	tl.logger.sink.write(WARN, tl.logger.component, tl.turnID, format, args...)
}

// Error logs an error message for the turn
func (tl *TurnLogger) Error(format string, args ...any) {
	tl.logger.sink.write(ERROR, tl.logger.component, tl.turnID, format, args...)
}

// Package-level functions that use the default logger

// SetDefaultLogger sets the package-level default logger
func SetDefaultLogger(l *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = l
}

// GetDefaultLogger returns the package-level default logger
func GetDefaultLogger() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// Component returns a component logger derived from the default logger
func Component(name string) *Logger {
	return GetDefaultLogger().WithComponent(name)
}

// SetLevel sets the default logger's level
func SetLevel(level Level) {
	GetDefaultLogger().SetLevel(level)
}

// Debug logs a debug message using the default logger
func Debug(format string, args ...any) {
	GetDefaultLogger().Debug(format, args...)
}

// Info logs an info message using the default logger
func Info(format string, args ...any) {
	GetDefaultLogger().Info(format, args...)
}

// Warn logs a warning message using the default logger
func Warn(format string, args ...any) {
	GetDefaultLogger().Warn(format, args...)
}

// Error logs an error message using the default logger
func Error(format string, args ...any) {
	GetDefaultLogger().Error(format, args...)
}
