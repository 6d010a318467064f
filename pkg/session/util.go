package session

import (
	"log"
	"os"
)

// debugLog logs debug messages only if BEACH_DEBUG is set
func debugLog(format string, args ...interface{}) {
	if os.Getenv("BEACH_DEBUG") != "" {
		log.Printf(format, args...)
	}
}
