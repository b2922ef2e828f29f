package logger

import (
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Level defines the logging level
type Level int

const (
	// DEBUG level for verbose debugging information
	DEBUG Level = iota
	// INFO level for general information
	INFO
	// WARN level for warning messages
	WARN
	// ERROR level for error messages
	ERROR
)

var levelNames = map[Level]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseLevel maps a configured level name to a Level, defaulting to INFO.
func ParseLevel(name string) Level {
	switch strings.ToUpper(name) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// Logger handles logging with different levels
type Logger struct {
	level     Level
	mu        sync.Mutex
	base      zerolog.Logger
	out       zerolog.Logger
	component string
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Initialize initializes the default logger with the specified level.
// Console output is human readable and meant for local development.
func Initialize(level Level, console bool) {
	once.Do(func() {
		var out io.Writer = os.Stdout
		if console {
			out = zerolog.ConsoleWriter{
				Out:        os.Stdout,
				TimeFormat: "2006-01-02T15:04:05.000-07:00",
			}
		}
		zerolog.TimeFieldFormat = time.RFC3339Nano
		defaultLogger = NewLogger(out, level, "")
		log.SetOutput(io.Discard) // Redirect standard logger to discard
	})
}

// SetLevel sets the logging level for the default logger
func SetLevel(level Level) {
	if defaultLogger != nil {
		defaultLogger.SetLevel(level)
	}
}

// NewLogger creates a new logger with the specified writer and level
func NewLogger(out io.Writer, level Level, component string) *Logger {
	base := zerolog.New(out).With().Timestamp().Logger()
	return &Logger{
		level:     level,
		base:      base,
		out:       withComponent(base, component),
		component: component,
	}
}

func withComponent(base zerolog.Logger, component string) zerolog.Logger {
	if component == "" {
		return base
	}
	return base.With().Str("component", component).Logger()
}

// SetLevel sets the logging level for this logger
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *Logger) enabled(level Level) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return level >= l.level
}

// log logs a message at the specified level
func (l *Logger) log(level Level, format string, v ...interface{}) {
	if !l.enabled(level) {
		return
	}

	var ev *zerolog.Event
	switch level {
	case DEBUG:
		ev = l.out.Debug()
	case INFO:
		ev = l.out.Info()
	case WARN:
		ev = l.out.Warn()
	default:
		ev = l.out.Error()
	}
	ev.Msgf(format, v...)
}

// Debug logs a debug message
func (l *Logger) Debug(format string, v ...interface{}) {
	l.log(DEBUG, format, v...)
}

// Info logs an info message
func (l *Logger) Info(format string, v ...interface{}) {
	l.log(INFO, format, v...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, v ...interface{}) {
	l.log(WARN, format, v...)
}

// Error logs an error message
func (l *Logger) Error(format string, v ...interface{}) {
	l.log(ERROR, format, v...)
}

// Component returns a new logger with the specified component name
func (l *Logger) Component(name string) *Logger {
	l.mu.Lock()
	level := l.level
	l.mu.Unlock()

	return &Logger{
		level:     level,
		base:      l.base,
		out:       withComponent(l.base, name),
		component: name,
	}
}

// GetDefaultLogger returns the default logger
func GetDefaultLogger() *Logger {
	if defaultLogger == nil {
		// Initialize with INFO level if not initialized yet
		Initialize(INFO, false)
	}
	return defaultLogger
}

// Debug logs a debug message using the default logger
func Debug(format string, v ...interface{}) {
	GetDefaultLogger().Debug(format, v...)
}

// Info logs an info message using the default logger
func Info(format string, v ...interface{}) {
	GetDefaultLogger().Info(format, v...)
}

// Warn logs a warning message using the default logger
func Warn(format string, v ...interface{}) {
	GetDefaultLogger().Warn(format, v...)
}

// Error logs an error message using the default logger
func Error(format string, v ...interface{}) {
	GetDefaultLogger().Error(format, v...)
}

// Component returns a new logger with the specified component name
func Component(name string) *Logger {
	return GetDefaultLogger().Component(name)
}
