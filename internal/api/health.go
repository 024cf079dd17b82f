package api

import (
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/fusion.report/internal/fusion"
	"github.com/banshee-data/fusion.report/internal/fusion/l6query"
	"github.com/banshee-data/fusion.report/internal/fusion/pipeline"
	"github.com/banshee-data/fusion.report/internal/monitoring"
)

// HealthService is the gRPC health service name reported for the engine.
const HealthService = "fusion.Engine"

// HealthReporter publishes engine health over the standard gRPC health
// protocol. The engine service starts NOT_SERVING and follows the outcome
// of the latest cycle.
type HealthReporter struct {
	hs      *health.Server
	serving atomic.Bool
}

var _ pipeline.CycleObserver = (*HealthReporter)(nil)

func NewHealthReporter() *HealthReporter {
	hs := health.NewServer()
	hs.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)
	return &HealthReporter{hs: hs}
}

// Register adds the health service to s.
func (h *HealthReporter) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.hs)
}

// Server returns the underlying health server.
func (h *HealthReporter) Server() *health.Server { return h.hs }

// Serving reports whether the latest cycle succeeded.
func (h *HealthReporter) Serving() bool { return h.serving.Load() }

func (h *HealthReporter) CycleCompleted(pipeline.CycleResult, *l6query.Snapshot) {
	if !h.serving.Swap(true) {
		monitoring.Logf("[api] health: %s SERVING", HealthService)
	}
	h.hs.SetServingStatus(HealthService, healthpb.HealthCheckResponse_SERVING)
}

func (h *HealthReporter) CycleFailed(err error) {
	if h.serving.Swap(false) {
		monitoring.Logf("[api] health: %s NOT_SERVING (%s)", HealthService, fusion.ErrorKind(err))
	}
	h.hs.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)
}

// Shutdown marks every service NOT_SERVING ahead of a graceful stop.
func (h *HealthReporter) Shutdown() {
	h.serving.Store(false)
	h.hs.Shutdown()
}
