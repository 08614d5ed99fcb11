package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/killallgit/flowchat/pkg/config"
)

// LogLevel represents the logging level
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger provides a unified logging interface
type Logger struct {
	level  LogLevel
	logger *log.Logger
	file   *os.File
	stderr io.Writer
}

var (
	defaultLogger *Logger
	mu            sync.RWMutex
)

// Init initializes the default logger from the global config
func Init() error {
	settings := config.Get()

	l, err := New(ParseLevel(settings.Logging.Level), settings.Logging.LogFile, settings.Logging.Preserve)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	mu.Lock()
	old := defaultLogger
	defaultLogger = l
	mu.Unlock()

	if old != nil {
		old.Close()
	}
	return nil
}

// New creates a new Logger writing to logFile
func New(level LogLevel, logFile string, preserve bool) (*Logger, error) {
	logPath := logFile
	if logPath == "" {
		logPath = "system.log"
	}
	if !filepath.IsAbs(logPath) && !strings.HasPrefix(logPath, ".") {
		logPath = config.BuildSettingsPath(filepath.Base(logPath))
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if preserve {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}

	file, err := os.OpenFile(logPath, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return &Logger{
		level:  level,
		logger: log.New(file, "", log.LstdFlags),
		file:   file,
		stderr: os.Stderr,
	}, nil
}

// NewWithWriter creates a logger that writes to w (useful for testing)
func NewWithWriter(level LogLevel, w io.Writer) *Logger {
	return &Logger{
		level:  level,
		logger: log.New(w, "", 0),
		stderr: io.Discard,
	}
}

// Close closes the log file
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// ParseLevel converts a string level to LogLevel
func ParseLevel(levelStr string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l *Logger) shouldLog(level LogLevel) bool {
	return level >= l.level
}

func (l *Logger) log(level LogLevel, message string) {
	if !l.shouldLog(level) {
		return
	}

	l.logger.Printf("[%s] %s", level.String(), message)

	if level >= LevelError {
		fmt.Fprintf(l.stderr, "[%s] %s\n", level.String(), message)
	}
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...any) {
	l.log(LevelDebug, fmt.Sprintf(format, args...))
}

// Info logs an info message
func (l *Logger) Info(format string, args ...any) {
	l.log(LevelInfo, fmt.Sprintf(format, args...))
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...any) {
	l.log(LevelWarn, fmt.Sprintf(format, args...))
}

// Error logs an error message
func (l *Logger) Error(format string, args ...any) {
	l.log(LevelError, fmt.Sprintf(format, args...))
}

func current() *Logger {
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger
}

// Debug logs a debug message using the default logger
func Debug(format string, args ...any) {
	if l := current(); l != nil {
		l.Debug(format, args...)
	}
}

// Info logs an info message using the default logger
func Info(format string, args ...any) {
	if l := current(); l != nil {
		l.Info(format, args...)
	}
}

// Warn logs a warning message using the default logger
func Warn(format string, args ...any) {
	if l := current(); l != nil {
		l.Warn(format, args...)
	}
}

// Error logs an error message using the default logger
func Error(format string, args ...any) {
	if l := current(); l != nil {
		l.Error(format, args...)
	}
}

// SetDefault replaces the default logger and returns the previous one
func SetDefault(l *Logger) *Logger {
	mu.Lock()
	defer mu.Unlock()
	old := defaultLogger
	defaultLogger = l
	return old
}

// Close closes the default logger
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		return nil
	}
	err := defaultLogger.Close()
	defaultLogger = nil
	return err
}
