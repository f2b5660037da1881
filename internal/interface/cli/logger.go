package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// LogLevel orders log severities for filtering.
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

// Logger provides centralized logging with level control. It writes the
// same line to every configured output (stderr plus the daily log file).
type Logger struct {
	mu       sync.RWMutex
	minLevel LogLevel
	outputs  []io.Writer
	now      func() time.Time
}

// NewLogger creates a logger with the given minimum level and outputs.
func NewLogger(minLevel LogLevel, outputs ...io.Writer) *Logger {
	return &Logger{
		minLevel: minLevel,
		outputs:  outputs,
		now:      time.Now,
	}
}

// SetLevel changes the minimum log level.
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minLevel = level
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(LogLevelDebug, "DEBUG", format, args...)
}

// Info logs an info message.
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(LogLevelInfo, "INFO", format, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(LogLevelWarn, "WARN", format, args...)
}

// Error logs an error message.
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(LogLevelError, "ERROR", format, args...)
}

func (l *Logger) log(level LogLevel, tag string, format string, args ...interface{}) {
	l.mu.RLock()
	minLevel := l.minLevel
	outputs := l.outputs
	now := l.now
	l.mu.RUnlock()

	if level < minLevel {
		return
	}
	line := fmt.Sprintf("%s [%s] %s\n",
		now().Format("2006-01-02 15:04:05"), tag, fmt.Sprintf(format, args...))
	for _, output := range outputs {
		fmt.Fprint(output, line)
	}
}

// LogLevelFromString converts a config string to a LogLevel. Unknown or
// empty values default to Info, matching the original behavior.
func LogLevelFromString(level string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return LogLevelDebug
	case "info", "":
		return LogLevelInfo
	case "warn", "warning":
		return LogLevelWarn
	case "error", "fatal":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// dailyFileWriter appends to <dir>/YYYY-MM-DD.log and switches files when
// the local date changes, giving one append-only log file per day.
type dailyFileWriter struct {
	mu   sync.Mutex
	dir  string
	day  string
	file *os.File
	now  func() time.Time
}

func newDailyFileWriter(dir string) *dailyFileWriter {
	return &dailyFileWriter{dir: dir, now: time.Now}
}

func (w *dailyFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	day := w.now().Format("2006-01-02")
	if w.file == nil || day != w.day {
		if w.file != nil {
			w.file.Close()
			w.file = nil
		}
		if err := os.MkdirAll(w.dir, 0o755); err != nil {
			return 0, err
		}
		f, err := os.OpenFile(
			// one file per day, named by date
			w.dir+string(os.PathSeparator)+day+".log",
			os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return 0, err
		}
		w.file = f
		w.day = day
	}
	return w.file.Write(p)
}

func (w *dailyFileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// Global logger instance shared by the command layer.
var globalLogger *Logger

// InitGlobalLogger initializes the global logger writing to stderr and,
// when logDir is non-empty, to the daily log file.
func InitGlobalLogger(level string, logDir string) {
	outputs := []io.Writer{os.Stderr}
	if logDir != "" {
		outputs = append(outputs, newDailyFileWriter(logDir))
	}
	globalLogger = NewLogger(LogLevelFromString(level), outputs...)
}

// GetLogger returns the global logger, initializing a stderr-only one on
// first use.
func GetLogger() *Logger {
	if globalLogger == nil {
		InitGlobalLogger("info", "")
	}
	return globalLogger
}

// Convenience functions for the global logger.

func Debug(format string, args ...interface{}) { GetLogger().Debug(format, args...) }
func Info(format string, args ...interface{})  { GetLogger().Info(format, args...) }
func Warn(format string, args ...interface{})  { GetLogger().Warn(format, args...) }
func Error(format string, args ...interface{}) { GetLogger().Error(format, args...) }
