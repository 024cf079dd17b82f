// Package l2sync owns Layer 2 (Synchronisation): the fail-fast gate that
// decides whether a snapshot of sensor readings is fresh and mutually recent
// enough to fuse. It runs before any association work.
package l2sync

import (
	"time"

	"github.com/banshee-data/fusion.report/internal/fusion"
	"github.com/banshee-data/fusion.report/internal/fusion/l1readings"
)

// Result describes a snapshot that passed the gate.
type Result struct {
	Oldest time.Time // earliest required timestamp
	Newest time.Time // latest required timestamp
	Span   time.Duration
}

// Synchronizer checks required-sensor presence and timestamp spread.
type Synchronizer struct {
	cfg fusion.Config
}

// NewSynchronizer creates a Synchronizer for cfg.
func NewSynchronizer(cfg fusion.Config) *Synchronizer {
	return &Synchronizer{cfg: cfg}
}

// Check verifies that every required sensor has a reading in snap and that
// the span between the oldest and newest required timestamps is strictly
// below the threshold. Non-required sensors are ignored here.
func (s *Synchronizer) Check(snap l1readings.Snapshot) (Result, error) {
	required := s.cfg.RequiredSensors()

	var missing []string
	for _, id := range required {
		if _, ok := snap.Reading(id); !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return Result{}, &fusion.MissingSensorError{Missing: missing, Present: snap.SensorIDs()}
	}

	var res Result
	var oldestID, newestID string
	for i, id := range required {
		r, _ := snap.Reading(id)
		// Required IDs are sorted, so ties resolve to the smallest ID.
		if i == 0 || r.Timestamp.Before(res.Oldest) {
			res.Oldest, oldestID = r.Timestamp, id
		}
		if i == 0 || r.Timestamp.After(res.Newest) {
			res.Newest, newestID = r.Timestamp, id
		}
	}
	res.Span = res.Newest.Sub(res.Oldest)

	if res.Span >= s.cfg.TimeSyncThreshold() {
		return Result{}, &fusion.SynchronizationError{
			Span:      res.Span,
			Threshold: s.cfg.TimeSyncThreshold(),
			Oldest:    oldestID,
			Newest:    newestID,
		}
	}
	return res, nil
}
