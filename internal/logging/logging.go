package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// DevMode indicates if development logging is enabled
	DevMode = os.Getenv("DEV_MODE") == "1"
	// Logger is the shared logger instance
	Logger *log.Logger
)

func init() {
	Logger = log.Default()
}

// Setup points the shared logger at a rotating file sink and returns a
// plain *log.Logger writing to the same sink for component loggers.
func Setup(path string, alsoStderr bool) *log.Logger {
	sink := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     14, // days
	}
	var out io.Writer = sink
	if alsoStderr {
		out = io.MultiWriter(sink, os.Stderr)
	}
	Logger = log.New(out, "tinker ", log.LstdFlags|log.Lmicroseconds)
	return Logger
}

// Discard returns a logger that drops everything; used by components whose
// caller did not provide one.
func Discard() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// DevLog logs only when DEV_MODE=1
func DevLog(format string, args ...interface{}) {
	if DevMode {
		Logger.Printf("[DEV] "+format, args...)
	}
}

// UserLog logs important user-facing information (always visible)
func UserLog(format string, args ...interface{}) {
	Logger.Printf("[USER] "+format, args...)
}

// ErrorLog logs errors (always visible)
func ErrorLog(format string, args ...interface{}) {
	Logger.Printf("[ERROR] "+format, args...)
}
