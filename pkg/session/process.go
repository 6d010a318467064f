package session

import (
	"log"
	"os"
	"syscall"
	"time"
)

// ProcessTerminator escalates from SIGTERM to SIGKILL when shutting
// down a session's PTY child, giving it a grace window to exit cleanly
// before being forced.
type ProcessTerminator struct {
	session         *Session
	gracefulTimeout time.Duration
	checkInterval   time.Duration
}

// NewProcessTerminator creates a terminator for session with a 3s
// graceful window, polled every 500ms.
func NewProcessTerminator(session *Session) *ProcessTerminator {
	return &ProcessTerminator{
		session:         session,
		gracefulTimeout: 3 * time.Second,
		checkInterval:   500 * time.Millisecond,
	}
}

// TerminateGracefully sends SIGTERM, waits up to gracefulTimeout for
// the child to exit, then escalates to SIGKILL if it hasn't.
func (pt *ProcessTerminator) TerminateGracefully() error {
	sessionID := pt.session.ID[:8]
	pid := pt.session.info.Pid

	if pt.session.info.Status == string(StatusExited) {
		debugLog("[DEBUG] ProcessTerminator: Session %s already exited", sessionID)
		pt.session.cleanup()
		return nil
	}

	if pid == 0 {
		return NewSessionError("no process to terminate", ErrProcessNotFound, pt.session.ID)
	}

	log.Printf("[INFO] Terminating session %s (PID: %d) with SIGTERM...", sessionID, pid)

	if err := pt.session.Signal("SIGTERM"); err != nil {
		if !pt.session.IsAlive() {
			log.Printf("[INFO] Session %s already terminated", sessionID)
			pt.session.cleanup()
			return nil
		}
		if se, ok := err.(*SessionError); ok {
			return se
		}
		return NewSessionErrorWithCause("failed to send SIGTERM", ErrProcessTerminateFailed, pt.session.ID, err)
	}

	startTime := time.Now()
	checkCount := 0
	maxChecks := int(pt.gracefulTimeout / pt.checkInterval)

	for checkCount < maxChecks {
		time.Sleep(pt.checkInterval)
		checkCount++

		if !pt.session.IsAlive() {
			elapsed := time.Since(startTime)
			log.Printf("[INFO] Session %s terminated gracefully after %dms", sessionID, elapsed.Milliseconds())
			pt.session.cleanup()
			return nil
		}

		elapsed := time.Since(startTime)
		log.Printf("[INFO] Session %s still alive after %dms...", sessionID, elapsed.Milliseconds())
	}

	log.Printf("[INFO] Session %s didn't terminate gracefully, sending SIGKILL...", sessionID)

	if err := pt.session.Signal("SIGKILL"); err != nil {
		if !pt.session.IsAlive() {
			log.Printf("[INFO] Session %s terminated before SIGKILL", sessionID)
			pt.session.cleanup()
			return nil
		}
		if se, ok := err.(*SessionError); ok {
			return se
		}
		return NewSessionErrorWithCause("failed to send SIGKILL", ErrProcessTerminateFailed, pt.session.ID, err)
	}

	time.Sleep(100 * time.Millisecond)

	if pt.session.IsAlive() {
		log.Printf("[WARN] Session %s may still be alive after SIGKILL", sessionID)
	} else {
		log.Printf("[INFO] Session %s forcefully terminated with SIGKILL", sessionID)
	}

	pt.session.cleanup()
	return nil
}

// waitForProcessExit polls pid until it exits or timeout elapses,
// reporting which happened first.
func waitForProcessExit(pid int, timeout time.Duration) bool {
	startTime := time.Now()
	checkInterval := 100 * time.Millisecond

	for time.Since(startTime) < timeout {
		proc, err := os.FindProcess(pid)
		if err != nil {
			return true
		}

		if err := proc.Signal(syscall.Signal(0)); err != nil {
			return true
		}

		time.Sleep(checkInterval)
	}

	return false
}

// isProcessRunning reports whether pid names a live process, using a
// signal-0 probe.
func isProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	err = proc.Signal(syscall.Signal(0))
	return err == nil
}
