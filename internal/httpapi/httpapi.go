// Package httpapi is the thin HTTP facade over the controller: a handful
// of state-transition endpoints and a read-only snapshot, meant to sit
// behind whatever static-asset server the embedded UI wrapper provides.
package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"terracotta/internal/controller"
	"terracotta/internal/logging"
)

// Version and Build identify this binary in /meta; they are placeholders
// overridden at link time by the packaging layer.
var (
	Version = "dev"
	Build   = "unknown"
)

// Server wires the controller's singleton cell to a gorilla/mux router.
type Server struct {
	cell *controller.Cell
	cfg  controller.Config
}

// New builds the router; call ListenAndServe on the result's Handler.
func New(cell *controller.Cell, cfg controller.Config) *Server {
	return &Server{cell: cell, cfg: cfg}
}

// Handler returns the mux.Router to pass to http.ListenAndServe.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/state", s.handleState).Methods(http.MethodGet)
	r.HandleFunc("/state/ide", s.handleIde).Methods(http.MethodGet)
	r.HandleFunc("/state/scanning", s.handleScanning).Methods(http.MethodGet)
	r.HandleFunc("/state/guesting", s.handleGuesting).Methods(http.MethodGet)
	r.HandleFunc("/meta", s.handleMeta).Methods(http.MethodGet)
	return r
}

var stateNames = map[controller.Kind]string{
	controller.Waiting:         "waiting",
	controller.HostScanning:    "host-scanning",
	controller.HostStarting:    "host-starting",
	controller.HostOk:          "host-ok",
	controller.GuestConnecting: "guest-connecting",
	controller.GuestStarting:   "guest-starting",
	controller.GuestOk:         "guest-ok",
	controller.Exception:       "exception",
}

// handleState renders the FSM snapshot: always the state name and the
// mutation index; the room code while hosting/guesting; the roster plus its
// sharing-run index while in an Ok state; and the exception reason as its
// small integer code.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	g := s.cell.Acquire()
	st := *g.Value()
	index, sharing := g.Index()
	g.Release()

	view := map[string]interface{}{
		"state": stateNames[st.Kind],
		"index": index,
	}

	switch st.Kind {
	case controller.HostStarting, controller.GuestConnecting, controller.GuestStarting:
		view["room"] = st.Room.Code
	case controller.HostOk:
		view["room"] = st.Room.Code
		view["profile_index"] = sharing
		profiles := make([]interface{}, 0, len(st.HostProfiles))
		for _, tp := range st.HostProfiles {
			profiles = append(profiles, tp.Profile)
		}
		view["profiles"] = profiles
	case controller.GuestOk:
		view["url"] = fmt.Sprintf("127.0.0.1:%d", st.Port)
		view["profile_index"] = sharing
		view["profiles"] = st.GuestProfiles
	case controller.Exception:
		view["type"] = int(st.ExcKind)
	}

	writeJSON(w, view)
}

func (s *Server) handleIde(w http.ResponseWriter, r *http.Request) {
	controller.SetWaiting(s.cell)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleScanning(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfg
	if name := r.URL.Query().Get("player"); name != "" {
		cfg.PlayerName = name
	}
	controller.SetScanning(s.cell, cfg)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleGuesting(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("room")
	cfg := s.cfg
	if name := r.URL.Query().Get("player"); name != "" {
		cfg.PlayerName = name
	}
	if !controller.SetGuesting(s.cell, code, cfg) {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleMeta(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{
		"version": Version,
		"build":   Build,
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn("HTTP", "Cannot encode response: %v", err)
	}
}
