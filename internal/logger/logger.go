// Package logger provides leveled logging with support for debug, info, warn, and error levels.
// It wraps the standard log package to provide level-based filtering and formatted output.
//
// Two formats are supported: "text" prefixes each line with its level and the
// calling file, "json" writes one object per line for log shippers.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents a logging level
type Level int

const (
	// DebugLevel logs are typically voluminous, and are usually disabled in production.
	DebugLevel Level = iota
	// InfoLevel is the default logging priority.
	InfoLevel
	// WarnLevel logs are more important than Info, but don't need individual human review.
	WarnLevel
	// ErrorLevel logs are high-priority. If an application is running smoothly, it shouldn't generate any error-level logs.
	ErrorLevel
	fatalLevel
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}

func (l Level) String() string {
	if l < DebugLevel || l > fatalLevel {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLevel maps a config value to a Level, defaulting to InfoLevel.
func ParseLevel(level string) Level {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel
	case "warn":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// Logger provides leveled logging
type Logger struct {
	level  Level
	json   bool
	mu     sync.Mutex // serializes json lines
	out    io.Writer
	logger *log.Logger
}

var (
	// Global logger instance
	defaultLogger *Logger
)

// Init initializes the default logger with the specified level and format
func Init(level string, format string) {
	InitWriter(os.Stderr, level, format)
}

// InitWriter is Init with a custom destination.
func InitWriter(w io.Writer, level string, format string) {
	l := &Logger{
		level: ParseLevel(level),
		json:  strings.ToLower(format) == "json",
		out:   w,
	}

	// Set log flags based on format
	flags := log.LstdFlags | log.Lmicroseconds | log.Lshortfile
	if l.json {
		flags = 0
	}
	l.logger = log.New(w, "", flags)
	defaultLogger = l
}

// Enabled reports whether messages at level are written.
func Enabled(level Level) bool {
	return defaultLogger != nil && defaultLogger.level <= level
}

type entry struct {
	Time    string `json:"ts"`
	Level   string `json:"level"`
	Message string `json:"msg"`
}

func (l *Logger) output(level Level, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if !l.json {
		// 3 skips output and the exported wrapper
		_ = l.logger.Output(3, "["+level.String()+"] "+msg)
		return
	}
	line, err := json.Marshal(entry{
		Time:    time.Now().UTC().Format(time.RFC3339Nano),
		Level:   strings.ToLower(level.String()),
		Message: msg,
	})
	if err != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.out.Write(append(line, '\n'))
}

// Debug logs a message at DebugLevel
func Debug(format string, args ...interface{}) {
	if Enabled(DebugLevel) {
		defaultLogger.output(DebugLevel, format, args...)
	}
}

// Info logs a message at InfoLevel
func Info(format string, args ...interface{}) {
	if Enabled(InfoLevel) {
		defaultLogger.output(InfoLevel, format, args...)
	}
}

// Warn logs a message at WarnLevel
func Warn(format string, args ...interface{}) {
	if Enabled(WarnLevel) {
		defaultLogger.output(WarnLevel, format, args...)
	}
}

// Error logs a message at ErrorLevel
func Error(format string, args ...interface{}) {
	if Enabled(ErrorLevel) {
		defaultLogger.output(ErrorLevel, format, args...)
	}
}

// Fatal logs a message at ErrorLevel and exits
func Fatal(format string, args ...interface{}) {
	if defaultLogger == nil {
		log.Fatalf("[FATAL] "+format, args...)
	}
	defaultLogger.output(fatalLevel, format, args...)
	os.Exit(1)
}

type errorWriter struct{}

func (errorWriter) Write(p []byte) (int, error) {
	Error("%s", strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// StdLogger returns a *log.Logger that writes through Error, for libraries
// such as net/http that take one.
func StdLogger() *log.Logger {
	return log.New(errorWriter{}, "", 0)
}
