// Package web provides a read-only HTTP status server for the dosing station.
package web

import (
	"context"
	"encoding/json"
	"net"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sweeney/dosing-station/internal/metrics"
	"github.com/sweeney/dosing-station/internal/status"
)

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
}

// New creates a Server that reads state from the given tracker. When m is
// non-nil, /metrics is served and requests are counted.
func New(addr string, tracker *status.Tracker, m *metrics.Metrics) *Server {
	s := &Server{tracker: tracker}

	r := mux.NewRouter()
	r.Handle("/", m.WrapHandler("/", http.HandlerFunc(s.handleIndex))).Methods(http.MethodGet)
	r.Handle("/index.html", m.WrapHandler("/", http.HandlerFunc(s.handleIndex))).Methods(http.MethodGet)
	r.Handle("/index.json", m.WrapHandler("/index.json", http.HandlerFunc(s.handleJSON))).Methods(http.MethodGet)
	r.Handle("/sensors/{id}", m.WrapHandler("/sensors", http.HandlerFunc(s.handleSensor))).Methods(http.MethodGet)
	r.Handle("/actuators/{id}", m.WrapHandler("/actuators", http.HandlerFunc(s.handleActuator))).Methods(http.MethodGet)
	if m != nil {
		r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	}

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: handlers.RecoveryHandler()(r),
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
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func (s *Server) handleSensor(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	for _, st := range s.tracker.Snapshot().Sensors {
		if st.ID == id {
			writeJSON(w, st)
			return
		}
	}
	http.Error(w, "unknown sensor", http.StatusNotFound)
}

func (s *Server) handleActuator(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	for _, st := range s.tracker.Snapshot().Actuators.Actuators {
		if st.ID == id {
			writeJSON(w, st)
			return
		}
	}
	http.Error(w, "unknown actuator", http.StatusNotFound)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
