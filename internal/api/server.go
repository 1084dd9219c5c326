// Package api serves the tracker's status over HTTP: current position
// and telemetry state, the latest trajectory prediction, cache
// statistics, flight sessions and prometheus metrics.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kestrel-data/recovery.report/internal/monitoring"
	"github.com/kestrel-data/recovery.report/internal/pipeline"
	"github.com/kestrel-data/recovery.report/internal/predict"
	"github.com/kestrel-data/recovery.report/internal/storage/sqlite"
	"github.com/kestrel-data/recovery.report/internal/units"
	"github.com/kestrel-data/recovery.report/internal/version"
)

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// SessionStore lists recorded flight sessions.
type SessionStore interface {
	GetSessions(subject string, limit int) ([]*sqlite.FlightSession, error)
}

// Server holds the latest tracker state for serving. UpdatePosition and
// UpdateLanding are called from the pipeline goroutine; handlers run on
// HTTP goroutines, so the snapshot is mutex-guarded.
type Server struct {
	dispatcher *predict.Dispatcher
	store      SessionStore
	subject    string
	speedUnits string
	registry   *prometheus.Registry

	mu          sync.Mutex
	latest      *pipeline.PositionUpdate
	lastLanding *pipeline.LandingEvent
}

// NewServer creates a status server. dispatcher, store and registry may
// be nil; the corresponding endpoints then report empty data.
func NewServer(dispatcher *predict.Dispatcher, store SessionStore, subject, speedUnits string, registry *prometheus.Registry) *Server {
	if !units.IsValidSpeed(speedUnits) {
		speedUnits = units.MPS
	}
	return &Server{
		dispatcher: dispatcher,
		store:      store,
		subject:    subject,
		speedUnits: speedUnits,
		registry:   registry,
	}
}

// UpdatePosition records the latest position for serving.
func (s *Server) UpdatePosition(u pipeline.PositionUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = &u
}

// UpdateLanding records the latest landing event for serving.
func (s *Server) UpdateLanding(ev pipeline.LandingEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastLanding = &ev
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
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/prediction", s.showPrediction)
	mux.HandleFunc("/api/cache_stats", s.showCacheStats)
	mux.HandleFunc("/api/sessions", s.listSessions)
	mux.HandleFunc("/api/config", s.showConfig)
	if s.registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// statusResponse controls the output format; internal structs carry
// fields the API should not leak.
type statusResponse struct {
	Subject       string   `json:"subject"`
	State         string   `json:"state"`
	Phase         string   `json:"phase"`
	Lat           float64  `json:"lat"`
	Lon           float64  `json:"lon"`
	Altitude      float64  `json:"altitude"`
	HorizontalSpd float64  `json:"horizontal_speed"`
	VerticalSpd   float64  `json:"vertical_speed"`
	Confidence    float64  `json:"landing_confidence"`
	Time          string   `json:"time"`
	SpeedUnits    string   `json:"speed_units"`
	AltitudeUnits string   `json:"altitude_units"`
	LandingLat    *float64 `json:"landing_lat,omitempty"`
	LandingLon    *float64 `json:"landing_lon,omitempty"`
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	altUnits := units.Meters
	if r.URL.Query().Get("altitude_units") == units.Feet {
		altUnits = units.Feet
	}

	s.mu.Lock()
	latest := s.latest
	landing := s.lastLanding
	s.mu.Unlock()

	if latest == nil {
		s.writeJSONError(w, http.StatusNotFound, "No telemetry received yet")
		return
	}

	resp := statusResponse{
		Subject:       latest.Point.Subject,
		State:         string(latest.State),
		Phase:         string(latest.Phase),
		Lat:           latest.Point.Lat,
		Lon:           latest.Point.Lon,
		Altitude:      units.ConvertAltitude(latest.Point.AltitudeM, altUnits),
		HorizontalSpd: units.ConvertSpeed(latest.Estimate.HorizontalMps, s.speedUnits),
		VerticalSpd:   units.ConvertSpeed(latest.Estimate.VerticalMps, s.speedUnits),
		Confidence:    latest.Confidence,
		Time:          latest.Point.Time.UTC().Format(time.RFC3339),
		SpeedUnits:    s.speedUnits,
		AltitudeUnits: altUnits,
	}
	if landing != nil && landing.Landed {
		resp.LandingLat = &landing.Position.Lat
		resp.LandingLon = &landing.Position.Lon
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write status")
		return
	}
}

func (s *Server) showPrediction(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if s.dispatcher == nil {
		s.writeJSONError(w, http.StatusNotFound, "Predictions disabled")
		return
	}
	res, ok := s.dispatcher.Latest(s.subject)
	if !ok {
		s.writeJSONError(w, http.StatusNotFound, "No prediction available yet")
		return
	}

	if err := json.NewEncoder(w).Encode(res); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write prediction")
		return
	}
}

func (s *Server) showCacheStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var stats predict.Stats
	if s.dispatcher != nil {
		stats = s.dispatcher.Cache().CacheStats()
	}
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write cache stats")
		return
	}
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	if s.store == nil {
		json.NewEncoder(w).Encode([]*sqlite.FlightSession{})
		return
	}
	sessions, err := s.store.GetSessions(s.subject, limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve sessions: %v", err))
		return
	}
	if sessions == nil {
		sessions = []*sqlite.FlightSession{}
	}

	if err := json.NewEncoder(w).Encode(sessions); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write sessions")
		return
	}
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	config := map[string]interface{}{
		"subject":     s.subject,
		"speed_units": s.speedUnits,
		"version":     version.Version,
	}

	if err := json.NewEncoder(w).Encode(config); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write config")
		return
	}
}
