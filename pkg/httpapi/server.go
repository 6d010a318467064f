// Package httpapi is the HTTP/WebSocket front door: a gorilla/mux
// router exposing session CRUD plus a gorilla/websocket upgrade for
// the term channel. Frames ride pkg/wire's HostFrame/ClientFrame
// envelopes carried over pkg/transport/wstransport, driving a
// pkg/sync.Synchronizer against a per-session pkg/emulator.Emulator.
package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/mux"

	"github.com/beachsh/beach/pkg/applog"
	"github.com/beachsh/beach/pkg/cell"
	"github.com/beachsh/beach/pkg/diag"
	"github.com/beachsh/beach/pkg/emulator"
	"github.com/beachsh/beach/pkg/input"
	"github.com/beachsh/beach/pkg/recording"
	"github.com/beachsh/beach/pkg/session"
	termsync "github.com/beachsh/beach/pkg/sync"
	"github.com/beachsh/beach/pkg/transport"
	"github.com/beachsh/beach/pkg/tunnel"
	"github.com/beachsh/beach/pkg/transport/wstransport"
	"github.com/beachsh/beach/pkg/update"
	"github.com/beachsh/beach/pkg/wire"
)

// liveSession bundles the wire-protocol state for one running session:
// the emulator driving the shared grid, the broadcaster viewer
// subscriptions register on, and the PTY input writer.
type liveSession struct {
	sess    *session.Session
	emu     *emulator.Emulator
	styles  *cell.StyleTable
	bcast   *update.Broadcaster
	diagSrv *diag.Server
}

// diagSource adapts a liveSession's emulator into diag.Source: the
// host has no single viewer viewport, so ViewportTop tracks the grid's
// own base row and FollowTail is always true.
type diagSource struct {
	ls *liveSession
}

func (d *diagSource) DiagSnapshot() diag.Snapshot {
	g := d.ls.emu.Grid()
	rows, cols := g.Dims()
	return diag.Snapshot{
		Cols:         cols,
		Rows:         rows,
		BaseRow:      g.BaseRow(),
		NextRow:      g.NextRow(),
		Cursor:       g.GetCursor(),
		ViewportTop:  g.BaseRow(),
		ViewportRows: rows,
		FollowTail:   true,
	}
}

// Server is the HTTP/WebSocket front door for one beach host.
type Server struct {
	manager    *session.Manager
	password   string
	syncConfig wire.SyncConfigFrame
	tunnel     *tunnel.Service

	mu      sync.RWMutex
	live    map[string]*liveSession
	nextSub uint64
}

// NewServer builds a Server over manager. password, if non-empty,
// gates /api with HTTP basic auth (username "admin").
func NewServer(manager *session.Manager, password string) *Server {
	return &Server{
		manager:  manager,
		password: password,
		live:     make(map[string]*liveSession),
	}
}

// SetSyncConfig sets the lane budgets/heartbeat sent at Hello time for
// every new subscription (pkg/config's Sync section, via cfg.Sync.Frame()).
func (s *Server) SetSyncConfig(cfg wire.SyncConfigFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncConfig = cfg
}

// SetTunnel attaches the ngrok tunnel whose status and configuration
// are exposed under /api/tunnel. Optional; a Server with no tunnel
// reports tunnel as disconnected.
func (s *Server) SetTunnel(t *tunnel.Service) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tunnel = t
}

// Handler builds the router. Call once at startup.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()
	if s.password != "" {
		api.Use(s.basicAuthMiddleware)
	}

	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/tunnel", s.handleTunnelStatus).Methods("GET")
	api.HandleFunc("/tunnel/config", s.handleTunnelConfig).Methods("PUT")
	api.HandleFunc("/sessions", s.handleListSessions).Methods("GET")
	api.HandleFunc("/sessions", s.handleCreateSession).Methods("POST")
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods("GET")
	api.HandleFunc("/sessions/{id}", s.handleDeleteSession).Methods("DELETE")
	api.HandleFunc("/sessions/{id}/resize", s.handleResizeSession).Methods("POST")
	api.HandleFunc("/sessions/{id}/input", s.handleSendInput).Methods("POST")

	wsRoute := r.HandleFunc("/ws/sessions/{id}", s.handleWebSocket)
	if s.password != "" {
		wsRoute.Handler(s.basicAuthMiddleware(http.HandlerFunc(s.handleWebSocket)))
	}

	return r
}

func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		const prefix = "Basic "
		if auth == "" || !strings.HasPrefix(auth, prefix) {
			s.unauthorized(w)
			return
		}
		decoded, err := base64.StdEncoding.DecodeString(auth[len(prefix):])
		if err != nil {
			s.unauthorized(w)
			return
		}
		parts := strings.SplitN(string(decoded), ":", 2)
		if len(parts) != 2 || parts[0] != "admin" || parts[1] != s.password {
			s.unauthorized(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="beach"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleTunnelStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	t := s.tunnel
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if t == nil {
		json.NewEncoder(w).Encode(tunnel.StatusResponse{Info: tunnel.Info{Status: tunnel.StatusDisconnected}})
		return
	}
	json.NewEncoder(w).Encode(t.GetStatus())
}

func (s *Server) handleTunnelConfig(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	t := s.tunnel
	s.mu.RUnlock()

	if t == nil {
		http.Error(w, "tunnel not configured", http.StatusNotFound)
		return
	}

	var cfg tunnel.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	t.SetConfig(cfg)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(t.GetConfig())
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.manager.ListSessions()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sessions)
}

type createSessionRequest struct {
	Name    string   `json:"name"`
	Cmdline []string `json:"cmdline"`
	Cwd     string   `json:"cwd"`
	Width   int      `json:"width"`
	Height  int      `json:"height"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var ls *liveSession
	sess, err := s.manager.CreateSession(session.Config{
		Name:      req.Name,
		Cmdline:   req.Cmdline,
		Cwd:       req.Cwd,
		Width:     req.Width,
		Height:    req.Height,
		IsSpawned: true,
	}, func(pty *session.PTY) {
		info := pty.Session().GetInfo()
		ls = s.registerLive(info.Width, info.Height)
		pty.SetOutputSink(session.NewBufferWriter(ls.emu, nil, "", nil))
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	ls.sess = sess
	ls.diagSrv = diag.NewServer(diag.SocketPath(sess.ID), &diagSource{ls: ls})
	if err := ls.diagSrv.Start(); err != nil {
		applog.Warnf("diagnostics socket failed to start for session %s: %v", sess.ID, err)
	}

	s.mu.Lock()
	s.live[sess.ID] = ls
	s.mu.Unlock()

	info := sess.GetInfo()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(info)
}

// registerLive builds the emulator/broadcaster pair for a session whose
// PTY just came up. Called from the Manager.CreateSession onPTYReady
// hook, before the PTY's output goroutine starts, so no early output
// bytes are missed by the live grid. The caller fills in ls.sess and
// registers it into s.live once CreateSession returns with an ID.
func (s *Server) registerLive(cols, rows int) *liveSession {
	styles := cell.NewStyleTable()
	bcast := update.NewBroadcaster()
	historyRows := rows * 200
	emu := emulator.New(cols, rows, historyRows, styles, bcast)
	return &liveSession{emu: emu, styles: styles, bcast: bcast}
}

func (s *Server) getLive(id string) (*liveSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ls, ok := s.live[id]
	return ls, ok
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sess, err := s.manager.GetSession(id)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sess.GetInfo())
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sess, err := s.manager.GetSession(id)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	if err := sess.Kill(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.mu.Lock()
	ls, ok := s.live[id]
	delete(s.live, id)
	s.mu.Unlock()
	if ok && ls.diagSrv != nil {
		if err := ls.diagSrv.Stop(); err != nil {
			applog.Warnf("diagnostics socket stop failed for session %s: %v", id, err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

type resizeRequest struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

func (s *Server) handleResizeSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sess, err := s.manager.GetSession(id)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	var req resizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := sess.Resize(req.Cols, req.Rows); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if ls, ok := s.getLive(id); ok {
		ls.emu.Resize(req.Cols, req.Rows)
	}
	w.WriteHeader(http.StatusOK)
}

type sendInputRequest struct {
	Data string `json:"data"`
}

func (s *Server) handleSendInput(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sess, err := s.manager.GetSession(id)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	var req sendInputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := sess.SendText(req.Data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// sessionResizer adapts *session.Session + the live emulator to
// pkg/input.Resizer, firing once per coalesced resize burst.
type sessionResizer struct {
	sess *session.Session
	emu  *emulator.Emulator
}

func (r *sessionResizer) Resize(cols, rows uint16) error {
	if err := r.sess.Resize(int(cols), int(rows)); err != nil {
		return err
	}
	r.emu.Resize(int(cols), int(rows))
	return nil
}

// handleWebSocket upgrades one viewer connection and drives it with a
// pkg/sync.Synchronizer on Output plus a pkg/input.Handler consuming
// Input/Resize/RequestBackfill ClientFrames.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ls, ok := s.getLive(id)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	conn, err := wstransport.Upgrade(w, r)
	if err != nil {
		applog.Debugf("websocket upgrade failed for session %s: %v", id, err)
		return
	}
	defer conn.Close()

	subNum := atomic.AddUint64(&s.nextSub, 1)
	subID := fmt.Sprintf("%s-%d", id, subNum)

	rows, _ := ls.emu.Grid().Dims()
	sub := update.NewSubscriber(subID, rows, 1024)
	ls.bcast.Subscribe(sub)
	defer ls.bcast.Unsubscribe(subID)

	s.mu.RLock()
	syncCfg := s.syncConfig
	s.mu.RUnlock()

	synchronizer := termsync.New(subNum, ls.emu.Grid(), ls.styles, sub, syncCfg, wire.FeatureCursorSync, 0, rows)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sink := transport.NewFrameSink(conn.Output(), true)

	handler := input.NewHandler(ls.sess.PTY(), &sessionResizer{sess: ls.sess, emu: ls.emu})
	defer handler.Stop()

	errCh := make(chan error, 2)
	go func() { errCh <- synchronizer.Run(ctx, sink) }()
	go func() { errCh <- s.serveClientFrames(ctx, conn, synchronizer, handler, sink) }()

	if err := <-errCh; err != nil {
		applog.Debugf("session %s subscription %s ended: %v", id, subID, err)
	}
}

func (s *Server) serveClientFrames(ctx context.Context, conn *wstransport.Conn, synchronizer *termsync.Synchronizer, handler *input.Handler, sink termsync.Sink) error {
	src := transport.NewFrameSource(conn.Output())
	for {
		f, err := src.Recv(ctx)
		if err != nil {
			return err
		}
		switch f.Kind {
		case wire.CFInput:
			ackSeq, err := handler.HandleInput(f.Seq, f.Data)
			if err == nil {
				sink.Send(wire.HostFrame{Kind: wire.HFInputAck, Seq: ackSeq})
			}
		case wire.CFResize:
			handler.HandleResize(f.Cols, f.Rows)
		case wire.CFRequestBackfill:
			synchronizer.RequestBackfill(f)
		case wire.CFViewportCommand:
			// ViewportClear re-pins the viewer's own follow-tail state
			// (pkg/viewercache); the host side has no matching action.
		}
	}
}

// replayRecordingInto seeds emu's grid from a prior on-disk recording
// at path, used when a session's live grid has already trimmed rows a
// new viewer's backfill request needs.
func replayRecordingInto(path string, emu *emulator.Emulator) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return recording.Replay(f, emu)
}
