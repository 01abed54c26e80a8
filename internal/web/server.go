// Package web provides the HTTP status and control server for the
// pump-controller daemon.
package web

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/pump-controller/internal/status"
)

// PumpControl is the slice of the controller the HTTP handlers need.
type PumpControl interface {
	Enable(on bool) error
	IsEnabled() bool
}

// Server serves the status page, the pump control API and the live sample
// stream over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	pump       PumpControl
	hub        *Hub
}

// New creates a Server that reads state from the given tracker and switches
// the pump through ctrl. hub may be nil to disable the WebSocket stream.
func New(addr string, tracker *status.Tracker, ctrl PumpControl, hub *Hub) *Server {
	s := &Server{tracker: tracker, pump: ctrl, hub: hub}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	mux.HandleFunc("/api/status", s.handleJSON)
	mux.HandleFunc("/api/pump", s.handlePump)
	if hub != nil {
		mux.Handle("/ws/stream", hub)
	}
	mux.Handle("/metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
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

// handlePump switches the pump on or off. The body must be {"enabled":bool},
// the same shape the MQTT command topic accepts.
func (s *Server) handlePump(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Enabled == nil {
		http.Error(w, `body must be {"enabled":true|false}`, http.StatusBadRequest)
		return
	}

	if err := s.pump.Enable(*body.Enabled); err != nil {
		log.Printf("web: pump enable failed: %v", err)
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"enabled": s.pump.IsEnabled()})
}
