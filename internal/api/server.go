// Package api exposes the fusion engine over HTTP: track queries, JSON
// sensor ingest, manual cycle triggering, stored history and debug charts.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/fusion.report/internal/fusion/pipeline"
	"github.com/banshee-data/fusion.report/internal/monitoring"
	"github.com/banshee-data/fusion.report/internal/storage/sqlite"
)

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// HistoryStore is the read side of the track database.
type HistoryStore interface {
	GetTrackObservations(trackID string, limit int) ([]sqlite.TrackObservation, error)
	RecentCycles(limit int) ([]sqlite.CycleRecord, error)
}

// RunnerStats reports scheduler counters; *pipeline.Runner satisfies it.
type RunnerStats interface {
	Stats() pipeline.RunnerStats
}

type Server struct {
	engine  *pipeline.Engine
	history HistoryStore
	runner  RunnerStats
	health  *HealthReporter
}

// Option configures a Server.
type Option func(*Server)

// WithHistory enables /api/tracks/{id}/history and stored cycles in status.
func WithHistory(h HistoryStore) Option {
	return func(s *Server) { s.history = h }
}

// WithRunner adds runner counters to /api/fusion/status.
func WithRunner(r RunnerStats) Option {
	return func(s *Server) { s.runner = r }
}

// WithHealth adds the serving state to /api/fusion/status.
func WithHealth(h *HealthReporter) Option {
	return func(s *Server) { s.health = h }
}

func NewServer(engine *pipeline.Engine, opts ...Option) *Server {
	s := &Server{engine: engine}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
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
			"[api] [%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns the API routes. Debug routes are attached separately
// with AttachDebugRoutes.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tracks", s.handleTracks)
	mux.HandleFunc("/api/tracks/{id}", s.handleTrack)
	mux.HandleFunc("/api/tracks/{id}/history", s.handleTrackHistory)
	mux.HandleFunc("/api/sensors/{sensor_id}/readings", s.handleIngest)
	mux.HandleFunc("/api/fusion/cycle", s.handleCycle)
	mux.HandleFunc("/api/fusion/status", s.handleStatus)
	mux.HandleFunc("/debug/tracks/chart", s.handleTrackChart)
	mux.HandleFunc("/debug/tracks/plot.png", s.handleTrackPlot)
	return mux
}
