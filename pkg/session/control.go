package session

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// ControlCommand is a line of JSON read off a session's control FIFO by
// PTY.pollWithSelect. The wire viewer path (pkg/input, pkg/httpapi) drives
// resize directly via Session.Resize; this FIFO exists for local,
// out-of-process callers (e.g. a shell script poking a running session).
type ControlCommand struct {
	Cmd  string `json:"cmd"`
	Cols int    `json:"cols,omitempty"`
	Rows int    `json:"rows,omitempty"`
}

// createControlFIFO creates the control FIFO that pollWithSelect polls
// alongside the PTY and stdin descriptors.
func (s *Session) createControlFIFO() error {
	controlPath := filepath.Join(s.Path(), "control")

	if err := os.Remove(controlPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove existing control FIFO: %w", err)
	}
	if err := syscall.Mkfifo(controlPath, 0600); err != nil {
		return fmt.Errorf("failed to create control FIFO: %w", err)
	}

	debugLog("[DEBUG] Created control FIFO at %s", controlPath)
	return nil
}

// handleControlCommand dispatches a command decoded from the control FIFO.
func (s *Session) handleControlCommand(cmd *ControlCommand) {
	debugLog("[DEBUG] Received control command for session %s: %+v", s.ID[:8], cmd)

	switch cmd.Cmd {
	case "resize":
		if cmd.Cols > 0 && cmd.Rows > 0 {
			if err := s.Resize(cmd.Cols, cmd.Rows); err != nil {
				debugLog("[ERROR] Failed to resize session %s: %v", s.ID[:8], err)
			}
		}
	default:
		debugLog("[WARN] Unknown control command: %s", cmd.Cmd)
	}
}
