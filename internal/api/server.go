// Package api exposes the navigation engine over HTTP: snapshots and
// commands as JSON endpoints, live telemetry as a websocket stream.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/navmiles/navmiles/internal/fuel"
	"github.com/navmiles/navmiles/internal/geo"
	"github.com/navmiles/navmiles/internal/hazard"
	"github.com/navmiles/navmiles/internal/httputil"
	"github.com/navmiles/navmiles/internal/monitoring"
	"github.com/navmiles/navmiles/internal/nav"
	"github.com/navmiles/navmiles/internal/store"
	"github.com/navmiles/navmiles/internal/units"
	"github.com/navmiles/navmiles/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	engine *nav.Engine
	st     *store.Store // nil when running without persistence

	upgrader websocket.Upgrader
}

func NewServer(engine *nav.Engine, st *store.Store) *Server {
	return &Server{
		engine: engine,
		st:     st,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The daemon serves the driver's own device; there is no
			// cross-origin story to enforce.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
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
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/navigate", s.startNavigation)
	mux.HandleFunc("/api/navigate/stop", s.stopNavigation)
	mux.HandleFunc("/api/lookahead", s.showLookAhead)
	mux.HandleFunc("/api/hazards", s.handleHazards)
	mux.HandleFunc("/api/hazards/vote", s.voteHazard)
	mux.HandleFunc("/api/fuel", s.showFuel)
	mux.HandleFunc("/api/fuel/fill", s.recordFill)
	mux.HandleFunc("/api/fuel/log", s.listFills)
	mux.HandleFunc("/api/trips", s.listTrips)
	mux.HandleFunc("/ws/telemetry", s.streamTelemetry)
	mux.HandleFunc("/api/version", s.showVersion)
	return mux
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"build_time": version.BuildTime,
	})
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.engine.Snapshot())
}

type navigateRequest struct {
	Destination geo.LatLng   `json:"destination"`
	Waypoints   []geo.LatLng `json:"waypoints,omitempty"`
	AvoidTolls  bool         `json:"avoid_tolls,omitempty"`
}

func (s *Server) startNavigation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	var req navigateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "Invalid request body")
		return
	}
	if !req.Destination.IsValid() {
		httputil.BadRequest(w, "Invalid destination")
		return
	}
	for _, wp := range req.Waypoints {
		if !wp.IsValid() {
			httputil.BadRequest(w, "Invalid waypoint")
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 20*time.Second)
	defer cancel()

	rt, err := s.engine.Navigate(ctx, req.Destination, req.Waypoints, req.AvoidTolls)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusBadGateway,
			fmt.Sprintf("Failed to start navigation: %v", err))
		return
	}
	httputil.WriteJSONOK(w, map[string]any{
		"summary":          rt.Summary,
		"distance_meters":  rt.DistanceMeters,
		"duration_seconds": rt.DurationSeconds,
		"steps":            len(rt.Steps),
	})
}

func (s *Server) stopNavigation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	s.engine.StopNavigation()
	httputil.WriteJSONOK(w, map[string]string{"state": "idle"})
}

func (s *Server) showLookAhead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	// Default projection is the search-ahead center for finding gas
	// stations along the current heading.
	meters := 25 * units.MetersPerMile
	if m := r.URL.Query().Get("meters"); m != "" {
		parsed, err := strconv.ParseFloat(m, 64)
		if err != nil || parsed <= 0 {
			httputil.BadRequest(w, "Invalid 'meters' parameter")
			return
		}
		meters = parsed
	}

	pos, ok := s.engine.LookAhead(meters)
	if !ok {
		httputil.WriteJSONError(w, http.StatusConflict, "No position fix yet")
		return
	}
	httputil.WriteJSONOK(w, pos)
}

type reportHazardRequest struct {
	Type hazard.Type `json:"type"`
	Pos  geo.LatLng  `json:"pos"`
}

func (s *Server) handleHazards(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listHazards(w, r)
	case http.MethodPost:
		s.reportHazard(w, r)
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) listHazards(w http.ResponseWriter, r *http.Request) {
	hazards := s.engine.Board().Active()
	if t := r.URL.Query().Get("type"); t != "" {
		if !hazard.ValidType(hazard.Type(t)) {
			httputil.BadRequest(w, "Invalid 'type' parameter")
			return
		}
		filtered := hazards[:0]
		for _, h := range hazards {
			if h.Type == hazard.Type(t) {
				filtered = append(filtered, h)
			}
		}
		hazards = filtered
	}
	httputil.WriteJSONOK(w, hazards)
}

func (s *Server) reportHazard(w http.ResponseWriter, r *http.Request) {
	var req reportHazardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "Invalid request body")
		return
	}
	h, err := s.engine.ReportHazard(req.Type, req.Pos)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, h)
}

type voteHazardRequest struct {
	ID         string `json:"id"`
	StillThere bool   `json:"still_there"`
}

func (s *Server) voteHazard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	var req voteHazardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "Invalid request body")
		return
	}
	h, err := s.engine.VoteHazard(req.ID, req.StillThere)
	if err == hazard.ErrNotFound {
		httputil.NotFound(w, "Hazard not found")
		return
	}
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	// A deny that hit the removal limit leaves an empty hazard.
	if h.ID == "" {
		httputil.WriteJSONOK(w, map[string]string{"id": req.ID, "state": "removed"})
		return
	}
	httputil.WriteJSONOK(w, h)
}

func (s *Server) showFuel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.engine.Fuel().Status())
}

func (s *Server) recordFill(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	var ev fuel.FillEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		httputil.BadRequest(w, "Invalid request body")
		return
	}
	saved, err := s.engine.RecordFill(ev)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, saved)
}

func (s *Server) listFills(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.engine.Fuel().Log())
}

func (s *Server) listTrips(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.st == nil {
		httputil.WriteJSONOK(w, []store.TripLog{})
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			httputil.BadRequest(w, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	trips, err := s.st.ListTrips(limit)
	if err != nil {
		httputil.InternalServerError(w,
			fmt.Sprintf("Failed to retrieve trips: %v", err))
		return
	}
	httputil.WriteJSONOK(w, trips)
}

// streamTelemetry upgrades to a websocket and pushes one JSON frame per
// engine update until the client goes away.
func (s *Server) streamTelemetry(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}
	defer conn.Close()

	id, updates := s.engine.Subscribe()
	defer s.engine.Unsubscribe(id)

	// Reads are discarded; a read error is how we learn the peer hung
	// up while we block on the update channel.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := conn.WriteJSON(s.engine.Snapshot()); err != nil {
		return
	}
	for {
		select {
		case <-closed:
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if err := conn.WriteJSON(u); err != nil {
				monitoring.Logf("api: telemetry write: %v", err)
				return
			}
		}
	}
}
