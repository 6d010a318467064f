package session

import "fmt"

// ErrorCode classifies a SessionError by cause, so callers can branch on
// IsSessionError without parsing the message text.
type ErrorCode string

const (
	ErrSessionNotFound   ErrorCode = "SESSION_NOT_FOUND"
	ErrSessionNotRunning ErrorCode = "SESSION_NOT_RUNNING"

	ErrProcessNotFound        ErrorCode = "PROCESS_NOT_FOUND"
	ErrProcessSignalFailed    ErrorCode = "PROCESS_SIGNAL_FAILED"
	ErrProcessTerminateFailed ErrorCode = "PROCESS_TERMINATE_FAILED"

	ErrInvalidArgument ErrorCode = "INVALID_ARGUMENT"
)

// SessionError is an error carrying the owning session's id and a
// stable ErrorCode alongside the human-readable message.
type SessionError struct {
	Message   string
	Code      ErrorCode
	SessionID string
	Cause     error
}

func (e *SessionError) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("%s (session: %s, code: %s)", e.Message, e.SessionID[:8], e.Code)
	}
	return fmt.Sprintf("%s (code: %s)", e.Message, e.Code)
}

func (e *SessionError) Unwrap() error {
	return e.Cause
}

// NewSessionError creates a SessionError with no underlying cause.
func NewSessionError(message string, code ErrorCode, sessionID string) *SessionError {
	return &SessionError{Message: message, Code: code, SessionID: sessionID}
}

// NewSessionErrorWithCause creates a SessionError wrapping cause.
func NewSessionErrorWithCause(message string, code ErrorCode, sessionID string, cause error) *SessionError {
	return &SessionError{Message: message, Code: code, SessionID: sessionID, Cause: cause}
}

// IsSessionError reports whether err is a SessionError with the given code.
func IsSessionError(err error, code ErrorCode) bool {
	se, ok := err.(*SessionError)
	return ok && se.Code == code
}

// GetSessionID extracts the session id from err, or "" if err isn't a
// SessionError.
func GetSessionID(err error) string {
	if se, ok := err.(*SessionError); ok {
		return se.SessionID
	}
	return ""
}

// ErrProcessSignalError builds the SessionError Session.Signal returns
// when delivering sig to the PTY's child process fails.
func ErrProcessSignalError(sessionID string, signal string, cause error) *SessionError {
	return NewSessionErrorWithCause(
		fmt.Sprintf("Failed to send signal %s to session", signal),
		ErrProcessSignalFailed,
		sessionID,
		cause,
	)
}
