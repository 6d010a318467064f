package tunnel

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"golang.ngrok.com/ngrok"
	"golang.ngrok.com/ngrok/config"

	"github.com/beachsh/beach/pkg/applog"
)

// NewService creates an idle tunnel service.
func NewService() *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		ctx:    ctx,
		cancel: cancel,
		info: Info{
			Status: StatusDisconnected,
		},
	}
}

// Start forwards localPort through ngrok using authToken.
func (s *Service) Start(authToken string, localPort int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.info.Status == StatusConnected || s.info.Status == StatusConnecting {
		return ErrAlreadyRunning
	}

	s.info.Status = StatusConnecting
	s.info.Error = ""
	s.info.LocalURL = fmt.Sprintf("http://127.0.0.1:%d", localPort)

	go func() {
		if err := s.startTunnel(authToken, localPort); err != nil {
			s.mu.Lock()
			s.info.Status = StatusError
			s.info.Error = err.Error()
			s.mu.Unlock()
			applog.Errorf("tunnel failed: %v", err)
		}
	}()

	return nil
}

func (s *Service) startTunnel(authToken string, localPort int) error {
	localURL, err := url.Parse(fmt.Sprintf("http://127.0.0.1:%d", localPort))
	if err != nil {
		return fmt.Errorf("invalid local port: %w", err)
	}

	forwarder, err := ngrok.ListenAndForward(s.ctx, localURL, config.HTTPEndpoint(), ngrok.WithAuthtoken(authToken))
	if err != nil {
		return fmt.Errorf("failed to create tunnel: %w", err)
	}

	s.mu.Lock()
	s.forwarder = forwarder
	s.info.URL = forwarder.URL()
	s.info.Status = StatusConnected
	s.info.ConnectedAt = time.Now()
	s.mu.Unlock()

	applog.Infof("tunnel established: %s -> http://127.0.0.1:%d", forwarder.URL(), localPort)

	return forwarder.Wait()
}

// Stop tears down the tunnel, if one is running.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.info.Status == StatusDisconnected {
		return ErrNotConnected
	}

	s.cancel()

	if s.forwarder != nil {
		if err := s.forwarder.Close(); err != nil {
			applog.Warnf("error closing tunnel forwarder: %v", err)
		}
		s.forwarder = nil
	}

	s.info.Status = StatusDisconnected
	s.info.URL = ""
	s.info.Error = ""
	s.info.ConnectedAt = time.Time{}

	s.ctx, s.cancel = context.WithCancel(context.Background())

	applog.Infof("tunnel stopped")
	return nil
}

// SetSessionCounter attaches a callback reporting the host's current
// number of active sessions. GetStatus includes it so a remote viewer
// can tell an idle tunnel from one serving active terminals.
func (s *Service) SetSessionCounter(fn func() int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionCount = fn
}

// GetStatus returns the current tunnel status.
func (s *Service) GetStatus() StatusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active int
	if s.sessionCount != nil {
		active = s.sessionCount()
	}

	return StatusResponse{
		Info:           s.info,
		IsRunning:      s.info.Status == StatusConnected || s.info.Status == StatusConnecting,
		ActiveSessions: active,
	}
}

// IsRunning reports whether the tunnel is active.
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info.Status == StatusConnected || s.info.Status == StatusConnecting
}

// GetURL returns the public tunnel URL, or "" if not connected.
func (s *Service) GetURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info.URL
}

// SetConfig updates the tunnel's stored configuration.
func (s *Service) SetConfig(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = cfg
}

// GetConfig returns the tunnel's stored configuration.
func (s *Service) GetConfig() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// Cleanup stops the tunnel during shutdown, ignoring ErrNotConnected.
func (s *Service) Cleanup() {
	if err := s.Stop(); err != nil && err != ErrNotConnected {
		applog.Warnf("error during tunnel cleanup: %v", err)
	}
}
