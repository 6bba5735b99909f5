package cmdrdata

import (
	"log"
	"os"
)

// defaultLogger is used by code paths that run outside a Tracker, such as
// extraction functions invoked with a caller-supplied sink. Debug output is
// gated by CMDRDATA_DEBUG.
var defaultLogger = newLogger(os.Getenv("CMDRDATA_DEBUG") != "")

// Logger provides simple leveled logging for the cmdrdata package.
type Logger struct {
	debug bool
}

func newLogger(debug bool) *Logger {
	return &Logger{debug: debug}
}

// Debug logs a message at debug level (only when debug mode is enabled).
func (l *Logger) Debug(msg string, args ...any) {
	if l.debug {
		log.Printf("[cmdrdata:debug] "+msg, args...)
	}
}

// Info logs a message at info level.
func (l *Logger) Info(msg string, args ...any) {
	log.Printf("[cmdrdata:info] "+msg, args...)
}

// Warn logs a message at warn level.
func (l *Logger) Warn(msg string, args ...any) {
	log.Printf("[cmdrdata:warn] "+msg, args...)
}

// Error logs a message at error level.
func (l *Logger) Error(msg string, args ...any) {
	log.Printf("[cmdrdata:error] "+msg, args...)
}
