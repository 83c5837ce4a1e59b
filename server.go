package main

import (
	"net/http"
	"strings"

	"github.com/kestrel-data/detector.link/internal/db"
	"github.com/kestrel-data/detector.link/internal/httputil"
	"github.com/kestrel-data/detector.link/internal/pipeline"
	"github.com/kestrel-data/detector.link/internal/reassembly"
	"github.com/kestrel-data/detector.link/internal/scan"
	"github.com/kestrel-data/detector.link/internal/version"
)

// Server exposes the monitoring and control API over HTTP.
type Server struct {
	tx        *pipeline.Transmitter
	reasm     *reassembly.Reassembler
	database  *db.DB
	sessionID string
}

func NewServer(tx *pipeline.Transmitter, reasm *reassembly.Reassembler, database *db.DB, sessionID string) *Server {
	return &Server{
		tx:        tx,
		reasm:     reasm,
		database:  database,
		sessionID: sessionID,
	}
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.statusHandler)
	mux.HandleFunc("/regs", s.regsHandler)
	mux.HandleFunc("/link", s.linkHandler)
	mux.HandleFunc("/frames", s.framesHandler)
	mux.HandleFunc("/completeness", s.completenessHandler)
	mux.HandleFunc("/control", s.controlHandler)
	return mux
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	st := s.tx.Machine().Status()
	httputil.WriteJSONOK(w, map[string]any{
		"version":       version.String(),
		"session":       s.sessionID,
		"state":         st.State.String(),
		"mode":          st.Mode.String(),
		"frame_counter": st.FrameCounter,
		"line_counter":  st.LineCounter,
		"active_bank":   st.ActiveBank,
		"error_flags":   uint8(st.ErrorFlags),
	})
}

func (s *Server) regsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	st := s.tx.Machine().Status()
	lo, hi := scan.FrameCountRegs(st)
	httputil.WriteJSONOK(w, map[string]any{
		"status_word":   scan.StatusWord(st),
		"frame_count_l": lo,
		"frame_count_h": hi,
	})
}

func (s *Server) linkHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	httputil.WriteJSONOK(w, map[string]any{
		"link":       s.tx.LinkStats(),
		"reassembly": s.reasm.Stats(),
	})
}

func (s *Server) framesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	frames, err := s.database.SessionFrames(s.sessionID)
	if err != nil {
		httputil.InternalServerError(w, "failed to retrieve frames: "+err.Error())
		return
	}
	httputil.WriteJSONOK(w, frames)
}

func (s *Server) completenessHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	counts, err := s.database.SessionCompleteness(s.sessionID)
	if err != nil {
		httputil.InternalServerError(w, "failed to retrieve completeness: "+err.Error())
		return
	}
	httputil.WriteJSONOK(w, counts)
}

// controlHandler accepts the same verbs as the serial console: start, stop
// and clear.
func (s *Server) controlHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	m := s.tx.Machine()
	switch action := strings.TrimSpace(r.FormValue("action")); action {
	case "start":
		if st := m.Status(); st.State != scan.Idle {
			httputil.Conflict(w, "cannot start from state "+st.State.String())
			return
		}
		m.StartScan()
		httputil.WriteJSONOK(w, map[string]string{"result": "scan started"})
	case "stop":
		if st := m.Status(); st.State == scan.ErrorState {
			httputil.Conflict(w, "machine faulted, clear first")
			return
		}
		m.StopScan()
		httputil.WriteJSONOK(w, map[string]string{"result": "scan stopped"})
	case "clear":
		m.ClearError()
		httputil.WriteJSONOK(w, map[string]string{"result": "errors cleared"})
	default:
		httputil.BadRequest(w, "invalid action")
	}
}
