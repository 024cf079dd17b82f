package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/fusion.report/internal/fusion"
	"github.com/banshee-data/fusion.report/internal/fusion/pipeline"
	"github.com/banshee-data/fusion.report/internal/storage/sqlite"
	"github.com/banshee-data/fusion.report/internal/testutil"
	"github.com/banshee-data/fusion.report/internal/timeutil"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testServer struct {
	server *Server
	engine *pipeline.Engine
	health *HealthReporter
	db     *sqlite.DB
	mux    *http.ServeMux
}

// setupTestServer builds an engine with sequential IDs, a track store and a
// health reporter, all wired the way cmd/fusiond wires them.
func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	clock := timeutil.NewMockClock(t0)

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "fusion.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store := sqlite.NewTrackStore(db, clock)
	health := NewHealthReporter()

	n := 0
	e, err := pipeline.NewEngine(fusion.MustNewConfig(fusion.DefaultParams()),
		pipeline.WithClock(clock),
		pipeline.WithIDGenerator(func() string { n++; return fmt.Sprintf("trk_%d", n) }),
		pipeline.WithObserver(store),
		pipeline.WithObserver(health),
	)
	require.NoError(t, err)

	s := NewServer(e, WithHistory(store), WithHealth(health))
	return &testServer{server: s, engine: e, health: health, db: db, mux: s.ServeMux()}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	ts.mux.ServeHTTP(rec, testutil.NewTestRequest(t, method, path, body))
	return rec
}

// ingestReference posts the reference scenario through the HTTP adapter.
func (ts *testServer) ingestReference(t *testing.T, at time.Time) {
	t.Helper()
	for _, r := range testutil.ReferenceScenario(at) {
		req := ReadingRequest{Timestamp: r.Timestamp}
		for _, d := range r.Detections {
			req.Detections = append(req.Detections, Detection{
				Position:       Vec3{X: d.Position.X, Y: d.Position.Y, Z: d.Position.Z},
				Velocity:       vecPtr(d.Velocity),
				Dimensions:     vecPtr(d.Dimensions),
				Classification: d.Classification,
				Confidence:     d.Confidence,
			})
		}
		rec := ts.do(t, http.MethodPost, "/api/sensors/"+r.SensorID+"/readings", req)
		testutil.AssertStatusCode(t, rec.Code, http.StatusAccepted)
	}
}

func TestIngestAndCycle(t *testing.T) {
	t.Parallel()
	ts := setupTestServer(t)

	ts.ingestReference(t, t0)
	rec := ts.do(t, http.MethodPost, "/api/fusion/cycle", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	var resp struct {
		Tracks []Track `json:"tracks"`
		Cycle  Cycle   `json:"cycle"`
	}
	testutil.DecodeJSON(t, rec, &resp)
	require.Len(t, resp.Tracks, 1)
	tr := resp.Tracks[0]
	assert.Equal(t, "trk_1", tr.ID)
	assert.InDelta(t, 10.57, tr.Position.X, 1e-9)
	assert.InDelta(t, 1.235, tr.Position.Y, 1e-9)
	assert.Equal(t, "vehicle", tr.Classification)
	assert.InDelta(t, 0.925, tr.Confidence, 1e-9)
	require.NotNil(t, tr.SpeedMps)
	assert.InDelta(t, 5, *tr.SpeedMps, 1e-9)
	assert.Equal(t, uint64(1), resp.Cycle.Cycle)
	assert.Equal(t, []string{"trk_1"}, resp.Cycle.Created)
}

func TestCycle_RecoverableErrorIsConflict(t *testing.T) {
	t.Parallel()
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/sensors/lidar/readings", ReadingRequest{Timestamp: t0})
	testutil.AssertStatusCode(t, rec.Code, http.StatusAccepted)

	rec = ts.do(t, http.MethodPost, "/api/fusion/cycle", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusConflict)
	var resp map[string]string
	testutil.DecodeJSON(t, rec, &resp)
	assert.Equal(t, "missing_sensor", resp["kind"])
	assert.False(t, ts.health.Serving())
}

func TestIngest_Validation(t *testing.T) {
	t.Parallel()
	ts := setupTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"empty", ``},
		{"no timestamp", `{"detections":[]}`},
		{"bad timestamp", `{"timestamp":"yesterday"}`},
		{"unknown field", `{"timestamp":"2026-03-01T12:00:00Z","sensor":"x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/sensors/lidar/readings", strings.NewReader(tt.body))
			ts.mux.ServeHTTP(rec, req)
			testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
		})
	}

	rec := ts.do(t, http.MethodGet, "/api/sensors/lidar/readings", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusMethodNotAllowed)
}

func TestIngest_ConfidenceClipped(t *testing.T) {
	t.Parallel()
	ts := setupTestServer(t)

	det := []Detection{{Position: Vec3{X: 5}, Confidence: 5}}
	for _, id := range []string{"lidar", "camera", "radar"} {
		req := ReadingRequest{Timestamp: t0}
		if id != "radar" {
			req.Detections = det
		}
		rec := ts.do(t, http.MethodPost, "/api/sensors/"+id+"/readings", req)
		testutil.AssertStatusCode(t, rec.Code, http.StatusAccepted)
	}

	tracks, err := ts.engine.PerformFusion()
	require.NoError(t, err)
	require.Len(t, tracks, 1)
	// lidar 0.6×1 + camera 0.3×1, each clipped before weighting.
	assert.InDelta(t, 0.9, tracks[0].Confidence, 1e-9)
}

func TestGetTrack(t *testing.T) {
	t.Parallel()
	ts := setupTestServer(t)
	ts.ingestReference(t, t0)
	_, err := ts.engine.PerformFusion()
	require.NoError(t, err)

	rec := ts.do(t, http.MethodGet, "/api/tracks/trk_1", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var tr Track
	testutil.DecodeJSON(t, rec, &tr)
	assert.Equal(t, "trk_1", tr.ID)
	assert.Equal(t, "active", tr.State)
	assert.Equal(t, []string{"camera", "lidar", "radar"}, tr.Sources)

	rec = ts.do(t, http.MethodGet, "/api/tracks/trk_404", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
	var errResp map[string]string
	testutil.DecodeJSON(t, rec, &errResp)
	assert.Contains(t, errResp["error"], "trk_404")
}

func TestGetTrack_SpeedUnits(t *testing.T) {
	t.Parallel()
	ts := setupTestServer(t)
	ts.ingestReference(t, t0)
	_, err := ts.engine.PerformFusion()
	require.NoError(t, err)

	rec := ts.do(t, http.MethodGet, "/api/tracks/trk_1?units=kph", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var tr Track
	testutil.DecodeJSON(t, rec, &tr)
	require.NotNil(t, tr.SpeedMps)
	require.NotNil(t, tr.Speed)
	assert.Equal(t, "kph", tr.Units)
	assert.InDelta(t, *tr.SpeedMps*3.6, *tr.Speed, 1e-9)

	rec = ts.do(t, http.MethodGet, "/api/tracks?units=knots", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
}

func TestListTracks(t *testing.T) {
	t.Parallel()
	ts := setupTestServer(t)
	ts.ingestReference(t, t0)
	_, err := ts.engine.PerformFusion()
	require.NoError(t, err)

	tests := []struct {
		name   string
		query  string
		status int
		want   int
	}{
		{"all", "", http.StatusOK, 1},
		{"in range", "?max_distance=11", http.StatusOK, 1},
		{"out of range", "?max_distance=10", http.StatusOK, 0},
		{"class match", "?class=vehicle", http.StatusOK, 1},
		{"class mismatch", "?class=pedestrian", http.StatusOK, 0},
		{"negative", "?max_distance=-1", http.StatusBadRequest, 0},
		{"not a number", "?max_distance=far", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodGet, "/api/tracks"+tt.query, nil)
			testutil.AssertStatusCode(t, rec.Code, tt.status)
			if tt.status != http.StatusOK {
				return
			}
			var resp struct {
				Cycle  uint64  `json:"cycle"`
				Tracks []Track `json:"tracks"`
			}
			testutil.DecodeJSON(t, rec, &resp)
			assert.Len(t, resp.Tracks, tt.want)
			assert.Equal(t, uint64(1), resp.Cycle)
			for _, tr := range resp.Tracks {
				require.NotNil(t, tr.Distance)
			}
		})
	}
}

func TestTrackHistory(t *testing.T) {
	t.Parallel()
	ts := setupTestServer(t)
	for i := 0; i < 3; i++ {
		testutil.Register(ts.engine, testutil.ShiftedScenario(t0, time.Duration(i)*100*time.Millisecond, 0.5*float64(i)))
		_, err := ts.engine.PerformFusion()
		require.NoError(t, err)
	}

	rec := ts.do(t, http.MethodGet, "/api/tracks/trk_1/history?limit=2", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var resp struct {
		TrackID      string        `json:"track_id"`
		Observations []Observation `json:"observations"`
	}
	testutil.DecodeJSON(t, rec, &resp)
	assert.Equal(t, "trk_1", resp.TrackID)
	require.Len(t, resp.Observations, 2)
	assert.Equal(t, uint64(3), resp.Observations[0].Cycle)

	rec = ts.do(t, http.MethodGet, "/api/tracks/trk_9/history", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)

	rec = ts.do(t, http.MethodGet, "/api/tracks/trk_1/history?limit=0", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
}

func TestTrackHistory_NoStore(t *testing.T) {
	t.Parallel()
	e, err := pipeline.NewEngine(fusion.MustNewConfig(fusion.DefaultParams()))
	require.NoError(t, err)
	mux := NewServer(e).ServeMux()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tracks/trk_1/history", nil))
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
}

type fakeRunner struct{ stats pipeline.RunnerStats }

func (f fakeRunner) Stats() pipeline.RunnerStats { return f.stats }

func TestStatus(t *testing.T) {
	t.Parallel()
	ts := setupTestServer(t)
	ts.server.runner = fakeRunner{stats: pipeline.RunnerStats{Cycles: 7, Skipped: 2}}

	ts.ingestReference(t, t0)
	_, err := ts.engine.PerformFusion()
	require.NoError(t, err)

	rec := ts.do(t, http.MethodGet, "/api/fusion/status", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var resp struct {
		PublishedCycle uint64               `json:"published_cycle"`
		ActiveTracks   int                  `json:"active_tracks"`
		Serving        bool                 `json:"serving"`
		LastCycle      Cycle                `json:"last_cycle"`
		Runner         pipeline.RunnerStats `json:"runner"`
		RecentCycles   []sqlite.CycleRecord `json:"recent_cycles"`
	}
	testutil.DecodeJSON(t, rec, &resp)
	assert.Equal(t, uint64(1), resp.PublishedCycle)
	assert.Equal(t, 1, resp.ActiveTracks)
	assert.True(t, resp.Serving)
	assert.Equal(t, 3, resp.LastCycle.Readings)
	assert.Equal(t, uint64(7), resp.Runner.Cycles)
	require.Len(t, resp.RecentCycles, 1)
	assert.Equal(t, uint64(1), resp.RecentCycles[0].Cycle)
}

func TestHealthReporter(t *testing.T) {
	t.Parallel()
	ts := setupTestServer(t)
	ctx := context.Background()
	check := func() healthpb.HealthCheckResponse_ServingStatus {
		resp, err := ts.health.Server().Check(ctx, &healthpb.HealthCheckRequest{Service: HealthService})
		require.NoError(t, err)
		return resp.GetStatus()
	}

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check())

	ts.ingestReference(t, t0)
	_, err := ts.engine.PerformFusion()
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check())

	// Radar falls far behind: synchronisation failure.
	ts.ingestReference(t, t0.Add(time.Second))
	ts.engine.RegisterSensorData("radar", nil, t0.Add(500*time.Millisecond))
	_, err = ts.engine.PerformFusion()
	require.ErrorIs(t, err, fusion.ErrSynchronization)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check())
}

func TestTrackChart(t *testing.T) {
	t.Parallel()
	ts := setupTestServer(t)
	ts.ingestReference(t, t0)
	_, err := ts.engine.PerformFusion()
	require.NoError(t, err)

	rec := ts.do(t, http.MethodGet, "/debug/tracks/chart", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "Fused Tracks")
	assert.Contains(t, rec.Body.String(), "vehicle")
}

func TestTrackPlot(t *testing.T) {
	t.Parallel()
	ts := setupTestServer(t)
	ts.ingestReference(t, t0)
	_, err := ts.engine.PerformFusion()
	require.NoError(t, err)

	rec := ts.do(t, http.MethodGet, "/debug/tracks/plot.png", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")), "body is not a PNG")
}

func TestDebugRoutes(t *testing.T) {
	t.Parallel()
	ts := setupTestServer(t)
	require.NoError(t, ts.server.AttachDebugRoutes(ts.mux, ts.db))

	req := httptest.NewRequest(http.MethodGet, "/debug/", nil)
	req.RemoteAddr = "127.0.0.1:4242"
	rec := httptest.NewRecorder()
	ts.mux.ServeHTTP(rec, req)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Contains(t, rec.Body.String(), "SQL live debugging")
}

func TestLoggingMiddleware(t *testing.T) {
	t.Parallel()
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	rec := httptest.NewRecorder()
	LoggingMiddleware(inner).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	testutil.AssertStatusCode(t, rec.Code, http.StatusTeapot)
	assert.Contains(t, statusCodeColor(404), "404")
}
