package log

import (
	"fmt"
	"os"
)

var defaultLogger *Logger = NewText(os.Stderr)

// Default returns the default logger.
func Default() *Logger {
	return defaultLogger
}

// SetDefault replaces the default logger.
func SetDefault(l *Logger) {
	defaultLogger = l
}

// Trace level message.
func Trace(msg string, v ...any) {
	defaultLogger.log(nil, msg, LevelTrace, v...)
}

// Debug level message.
func Debug(msg string, v ...any) {
	defaultLogger.log(nil, msg, LevelDebug, v...)
}

// Info level message.
func Info(msg string, v ...any) {
	defaultLogger.log(nil, msg, LevelInfo, v...)
}

// Warn level message.
func Warn(msg string, v ...any) {
	defaultLogger.log(nil, msg, LevelWarn, v...)
}

// Error level message.
func Error(msg string, v ...any) {
	defaultLogger.log(nil, msg, LevelError, v...)
}

// Fatal level message, followed by an exit.
func Fatal(msg string, v ...any) {
	defaultLogger.log(nil, msg, LevelFatal, v...)
	os.Exit(1)
}

// Errorf level formatted message.
func Errorf(format string, v ...any) {
	defaultLogger.log(nil, fmt.Sprintf(format, v...), LevelError)
}

// HasTrace returns if trace level is enabled.
func HasTrace() bool {
	return defaultLogger.Enabled(LevelTrace)
}
