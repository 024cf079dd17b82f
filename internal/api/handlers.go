package api

import (
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/banshee-data/fusion.report/internal/fusion"
	"github.com/banshee-data/fusion.report/internal/httputil"
	"github.com/banshee-data/fusion.report/internal/monitoring"
	"github.com/banshee-data/fusion.report/internal/units"
)

const defaultHistoryLimit = 100

// handleTracks lists published tracks nearest first. max_distance limits the
// range (inclusive); class filters by classification.
func (s *Server) handleTracks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	maxDistance := math.Inf(1)
	if v := r.URL.Query().Get("max_distance"); v != "" {
		d, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(d) || d < 0 {
			httputil.BadRequest(w, fmt.Sprintf("invalid max_distance %q", v))
			return
		}
		maxDistance = d
	}
	class := r.URL.Query().Get("class")
	u, ok := speedUnits(w, r)
	if !ok {
		return
	}

	snap := s.engine.Published()
	results := snap.GetNearest(maxDistance, class)
	tracks := make([]Track, len(results))
	for i, res := range results {
		tracks[i] = trackJSON(res.Track).withUnits(u)
		d := res.Distance
		tracks[i].Distance = &d
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"cycle":  snap.Cycle(),
		"time":   snap.Time(),
		"tracks": tracks,
	})
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	u, ok := speedUnits(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	t, ok := s.engine.GetObjectByID(id)
	if !ok {
		httputil.NotFound(w, fmt.Sprintf("track %q not found", id))
		return
	}
	httputil.WriteJSONOK(w, trackJSON(t).withUnits(u))
}

// speedUnits reads the units query parameter, answering 400 when invalid.
func speedUnits(w http.ResponseWriter, r *http.Request) (string, bool) {
	v := r.URL.Query().Get("units")
	u, ok := units.Parse(v)
	if !ok {
		httputil.BadRequest(w, fmt.Sprintf("invalid units %q, must be one of: %s", v, units.GetValidUnitsString()))
	}
	return u, ok
}

func (s *Server) handleTrackHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.history == nil {
		httputil.NotFound(w, "track history is not recorded")
		return
	}
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			httputil.BadRequest(w, fmt.Sprintf("invalid limit %q", v))
			return
		}
		limit = n
	}

	id := r.PathValue("id")
	obs, err := s.history.GetTrackObservations(id, limit)
	if err != nil {
		monitoring.Logf("[api] history %s: %v", id, err)
		httputil.InternalServerError(w, "failed to load track history")
		return
	}
	if len(obs) == 0 {
		httputil.NotFound(w, fmt.Sprintf("no history for track %q", id))
		return
	}
	out := make([]Observation, len(obs))
	for i, o := range obs {
		out[i] = observationJSON(o)
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"track_id":     id,
		"observations": out,
	})
}

// handleIngest registers one sensor reading. A missing timestamp is a 400
// here since the engine would drop it silently; out-of-range confidences are
// clipped to [0,1] by the engine.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	sensorID := r.PathValue("sensor_id")

	var req ReadingRequest
	if err := httputil.DecodeJSONBody(w, r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if req.Timestamp.IsZero() {
		httputil.BadRequest(w, "timestamp is required")
		return
	}

	s.engine.RegisterSensorData(sensorID, req.detections(), req.Timestamp)
	httputil.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"sensor_id":  sensorID,
		"detections": len(req.Detections),
	})
}

// handleCycle runs one fusion cycle. Missing or unsynchronised sensor data
// is a 409: the caller can retry once more data has arrived.
func (s *Server) handleCycle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	tracks, err := s.engine.PerformFusion()
	if err != nil {
		if fusion.IsRecoverable(err) {
			httputil.WriteJSON(w, http.StatusConflict, map[string]string{
				"error": err.Error(),
				"kind":  fusion.ErrorKind(err),
			})
			return
		}
		monitoring.Logf("[api] cycle failed: %v", err)
		httputil.InternalServerError(w, err.Error())
		return
	}

	out := make([]Track, len(tracks))
	for i, t := range tracks {
		out[i] = trackJSON(t)
	}
	resp := map[string]interface{}{"tracks": out}
	if last, ok := s.engine.LastCycle(); ok {
		resp["cycle"] = cycleJSON(last)
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	snap := s.engine.Published()
	resp := map[string]interface{}{
		"published_cycle": snap.Cycle(),
		"published_at":    snap.PublishedAt(),
		"active_tracks":   snap.Len(),
	}
	if last, ok := s.engine.LastCycle(); ok {
		resp["last_cycle"] = cycleJSON(last)
	}
	if s.runner != nil {
		resp["runner"] = s.runner.Stats()
	}
	if s.health != nil {
		resp["serving"] = s.health.Serving()
	}
	if s.history != nil {
		recent, err := s.history.RecentCycles(10)
		if err != nil {
			monitoring.Logf("[api] recent cycles: %v", err)
		} else {
			resp["recent_cycles"] = recent
		}
	}
	httputil.WriteJSONOK(w, resp)
}
