// Package web provides the HTTP status and control server for the neuromod daemon.
package web

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/sweeney/neuromod/internal/session"
	"github.com/sweeney/neuromod/internal/status"
)

// DefaultFaultReason is used when a fault request carries no reason.
const DefaultFaultReason = "operator request"

// Controller is the part of the scheduler the control endpoints drive.
type Controller interface {
	Start()
	Stop()
	Fault(reason string)
	State() session.State
}

// Server serves the status page, control endpoints and live stream over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	ctl        Controller
	hub        *Hub
	upgrader   websocket.Upgrader
}

// New creates a Server that reads state from tracker and drives ctl.
func New(addr string, tracker *status.Tracker, ctl Controller, hub *Hub) *Server {
	s := &Server{tracker: tracker, ctl: ctl, hub: hub}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	mux.HandleFunc("/api/session/start", s.handleStart)
	mux.HandleFunc("/api/session/stop", s.handleStop)
	mux.HandleFunc("/api/session/fault", s.handleFault)
	mux.HandleFunc("/ws", s.handleWS)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// Handler returns the server's request router. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server and disconnects stream clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, "start", s.ctl.Start)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, "stop", s.ctl.Stop)
}

func (s *Server) handleFault(w http.ResponseWriter, r *http.Request) {
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = DefaultFaultReason
	}
	s.control(w, r, "fault", func() { s.ctl.Fault(reason) })
}

func (s *Server) control(w http.ResponseWriter, r *http.Request, name string, fn func()) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	log.Printf("web: %s requested by %s", name, r.RemoteAddr)
	fn()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ControlResponse{State: string(s.ctl.State())})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: upgrade error: %v", err)
		return
	}

	log.Printf("ws: client connected: %s", r.RemoteAddr)
	c := s.hub.addClient(conn)

	go func() {
		defer func() {
			s.hub.removeClient(c)
			log.Printf("ws: client disconnected: %s", r.RemoteAddr)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
