// Package tunnel exposes the pkg/httpapi front door through ngrok, so
// a remote viewer can reach a session without the host opening a port
// itself.
package tunnel

import (
	"context"
	"sync"
	"time"

	"golang.ngrok.com/ngrok"
)

// Status is the current state of the tunnel.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// Info describes the active tunnel.
type Info struct {
	URL         string    `json:"url"`
	Status      Status    `json:"status"`
	ConnectedAt time.Time `json:"connected_at,omitempty"`
	Error       string    `json:"error,omitempty"`
	LocalURL    string    `json:"local_url"`
}

// Config holds the tunnel's auth token and enablement, mirrored from
// config.Tunnel.
type Config struct {
	AuthToken string `json:"auth_token"`
	Enabled   bool   `json:"enabled"`
}

// Service manages one ngrok tunnel's lifecycle.
type Service struct {
	mu           sync.RWMutex
	forwarder    ngrok.Forwarder
	info         Info
	config       Config
	ctx          context.Context
	cancel       context.CancelFunc
	sessionCount func() int
}

// StatusResponse is the JSON body returned by the tunnel status endpoint.
type StatusResponse struct {
	Info
	IsRunning      bool `json:"is_running"`
	ActiveSessions int  `json:"active_sessions"`
}

// Error is a tunnel-specific error with a stable code for API clients.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e Error) Error() string {
	if e.Details != "" {
		return e.Message + ": " + e.Details
	}
	return e.Message
}

var (
	ErrNotConnected   = Error{Code: "not_connected", Message: "tunnel is not connected"}
	ErrAlreadyRunning = Error{Code: "already_running", Message: "tunnel is already running"}
	ErrTunnelFailed   = Error{Code: "tunnel_failed", Message: "failed to establish tunnel"}
)
