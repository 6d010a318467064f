// Package applog centralizes the [INFO]/[WARN]/[ERROR]/[DEBUG] tagged
// logging convention scattered across pkg/session and pkg/httpapi as
// local debugLog helpers, so cmd/beach can gate
// debug output from one place (BEACH_DEBUG env var or config.Advanced.DebugMode)
// instead of every package reading the env var itself.
package applog

import (
	"log"
	"os"
)

var debugEnabled = os.Getenv("BEACH_DEBUG") != ""

// SetDebug overrides the debug gate, used by cmd/beach after parsing
// config/flags so --debug and BEACH_DEBUG=1 behave the same way.
func SetDebug(enabled bool) {
	debugEnabled = enabled
}

// Debugf logs a [DEBUG]-tagged line only when debug mode is on.
func Debugf(format string, args ...interface{}) {
	if debugEnabled {
		log.Printf("[DEBUG] "+format, args...)
	}
}

// Infof logs an [INFO]-tagged line unconditionally.
func Infof(format string, args ...interface{}) {
	log.Printf("[INFO] "+format, args...)
}

// Warnf logs a [WARN]-tagged line unconditionally.
func Warnf(format string, args ...interface{}) {
	log.Printf("[WARN] "+format, args...)
}

// Errorf logs an [ERROR]-tagged line unconditionally.
func Errorf(format string, args ...interface{}) {
	log.Printf("[ERROR] "+format, args...)
}
