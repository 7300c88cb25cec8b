package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/xrsession/internal/backends/fiducial"
	"github.com/banshee-data/xrsession/internal/backends/geolocation"
	"github.com/banshee-data/xrsession/internal/db"
	"github.com/banshee-data/xrsession/internal/monitoring"
	"github.com/banshee-data/xrsession/internal/xr"
	"github.com/banshee-data/xrsession/internal/xr/anchor"
	"github.com/banshee-data/xrsession/internal/xr/session"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

const (
	defaultListLimit = 50
	maxListLimit     = 1000
)

type Server struct {
	reg      *session.Registry
	db       *db.DB
	receiver *ReceiverManager
}

// NewServer builds the HTTP surface over a running session. database and
// receiver may be nil; their routes then answer 503.
func NewServer(reg *session.Registry, database *db.DB, receiver *ReceiverManager) *Server {
	return &Server{
		reg:      reg,
		db:       database,
		receiver: receiver,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/session", s.showSession)
	mux.HandleFunc("/api/anchors", s.listAnchors)
	mux.HandleFunc("/api/fix", s.handleFix)
	mux.HandleFunc("/api/fixes", s.listFixes)
	mux.HandleFunc("/api/events", s.listEvents)
	mux.HandleFunc("/api/gps/configs", s.handleSerialConfigsOrCreate)
	mux.HandleFunc("/api/gps/configs/", s.handleSerialConfigByID)
	mux.HandleFunc("/api/gps/reload", s.handleReceiverReload)
	mux.HandleFunc("/command", s.sendCommandHandler)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		monitoring.Opsf("failed to encode response: %v", err)
	}
}

// parseLimit reads ?limit=, clamped to [1, maxListLimit].
func parseLimit(r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, false
	}
	return min(n, maxListLimit), true
}

func (s *Server) sendCommandHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.receiver == nil {
		http.Error(w, "No GPS receiver", http.StatusServiceUnavailable)
		return
	}

	command := strings.TrimSpace(r.FormValue("command"))
	if command == "" {
		http.Error(w, "Missing command", http.StatusBadRequest)
		return
	}
	if err := s.receiver.SendCommand(command); err != nil {
		http.Error(w, "Failed to send command", http.StatusInternalServerError)
		return
	}
	io.WriteString(w, "Command sent successfully")
}

// SessionResponse is the body of GET /api/session.
type SessionResponse struct {
	SessionTypes []xr.SessionType `json:"session_types"`
	Immersive    bool             `json:"immersive"`
	Backends     []session.Status `json:"backends"`
}

func (s *Server) showSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	types := s.reg.SessionTypes()
	if types == nil {
		types = []xr.SessionType{}
	}
	writeJSON(w, http.StatusOK, SessionResponse{
		SessionTypes: types,
		Immersive:    s.reg.IsImmersive(),
		Backends:     s.reg.Statuses(),
	})
}

// AnchorView is one anchor in GET /api/anchors.
type AnchorView struct {
	ID       string  `json:"id"`
	Backend  string  `json:"backend"`
	Attached bool    `json:"attached"`
	Visible  bool    `json:"visible"`
	Lat      float64 `json:"lat,omitempty"`
	Lon      float64 `json:"lon,omitempty"`
	Vertices int     `json:"vertices,omitempty"`
	Marker   string  `json:"marker,omitempty"`
}

func (s *Server) listAnchors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	views := []AnchorView{}
	if gb := s.geolocation(); gb != nil {
		gb.Anchors().ForEach(func(id string, e anchor.Entry[geolocation.Target, geolocation.Fix], attached bool) {
			views = append(views, AnchorView{
				ID:       id,
				Backend:  xr.KindGeolocation.String(),
				Attached: attached,
				Visible:  e.Node.Visible(),
				Lat:      e.Target.Coord.Lat,
				Lon:      e.Target.Coord.Lon,
				Vertices: len(e.Target.Path),
			})
		})
	}
	if fb := s.fiducial(); fb != nil {
		fb.Markers().ForEach(func(id string, e anchor.Entry[fiducial.Marker, fiducial.Ready], attached bool) {
			views = append(views, AnchorView{
				ID:       id,
				Backend:  xr.KindFiducial.String(),
				Attached: attached,
				Visible:  e.Node.Visible(),
				Marker:   e.Target.Key(),
			})
		})
	}
	writeJSON(w, http.StatusOK, views)
}

// FixRequest sets a fake position through POST /api/fix.
type FixRequest struct {
	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`
}

func (s *Server) handleFix(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.showFix(w)
	case http.MethodPost:
		s.setFakeFix(w, r)
	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) showFix(w http.ResponseWriter) {
	if gb := s.geolocation(); gb != nil {
		if fix, ok := gb.LastKnown(); ok {
			writeJSON(w, http.StatusOK, fix)
			return
		}
	}
	if s.db != nil {
		fix, ok, err := s.db.LastFix()
		if err != nil {
			monitoring.Opsf("Error fetching last fix: %v", err)
			s.writeJSONError(w, http.StatusInternalServerError, "Failed to fetch last fix")
			return
		}
		if ok {
			writeJSON(w, http.StatusOK, fix)
			return
		}
	}
	s.writeJSONError(w, http.StatusNotFound, "No fix yet")
}

func (s *Server) setFakeFix(w http.ResponseWriter, r *http.Request) {
	gb := s.geolocation()
	if gb == nil {
		s.writeJSONError(w, http.StatusConflict, "Geolocation backend is not active")
		return
	}
	var req FixRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Lat == nil || req.Lon == nil {
		s.writeJSONError(w, http.StatusBadRequest, "lat and lon are required")
		return
	}
	if *req.Lat < -90 || *req.Lat > 90 || *req.Lon < -180 || *req.Lon > 180 {
		s.writeJSONError(w, http.StatusBadRequest, "lat or lon out of range")
		return
	}
	gb.SetFakeFix(*req.Lat, *req.Lon)
	fix, _ := gb.LastKnown()
	writeJSON(w, http.StatusAccepted, fix)
}

func (s *Server) listFixes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.db == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "Journal disabled")
		return
	}
	limit, ok := parseLimit(r)
	if !ok {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
		return
	}
	fixes, err := s.db.RecentFixes(limit)
	if err != nil {
		monitoring.Opsf("Error fetching fixes: %v", err)
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to fetch fixes")
		return
	}
	if fixes == nil {
		fixes = []geolocation.Fix{}
	}
	writeJSON(w, http.StatusOK, fixes)
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.db == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "Journal disabled")
		return
	}
	limit, ok := parseLimit(r)
	if !ok {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
		return
	}
	events, err := s.db.RecentSessionEvents(limit)
	if err != nil {
		monitoring.Opsf("Error fetching session events: %v", err)
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to fetch events")
		return
	}
	if events == nil {
		events = []db.SessionEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleReceiverReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.receiver == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "No GPS receiver")
		return
	}
	res, err := s.receiver.ReloadConfig(r.Context())
	if err != nil {
		monitoring.Opsf("receiver reload failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, ReloadResult{Success: false, Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) geolocation() *geolocation.Backend {
	b, ok := s.reg.Backend(xr.KindGeolocation)
	if !ok {
		return nil
	}
	gb, _ := b.(*geolocation.Backend)
	return gb
}

func (s *Server) fiducial() *fiducial.Backend {
	b, ok := s.reg.Backend(xr.KindFiducial)
	if !ok {
		return nil
	}
	fb, _ := b.(*fiducial.Backend)
	return fb
}
