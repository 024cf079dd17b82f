package l5tracks

import (
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

// TrackState is the lifecycle state of a track. There is no transition out
// of TrackExpired: a re-detected object gets a new track.
type TrackState string

const (
	TrackActive  TrackState = "active"
	TrackExpired TrackState = "expired"
)

// Track is the persistent fused identity of one physical object.
type Track struct {
	ID             string
	Position       r3.Vec
	Velocity       *r3.Vec // nil until a sensor reports it or it can be estimated
	Dimensions     *r3.Vec
	Classification string
	Confidence     float64
	FirstDetected  time.Time // set once, never changes
	LastUpdated    time.Time
	State          TrackState

	Sources []string // sensors behind the most recent update
	Updates int      // number of cycles this track was matched, including creation
}

// Clone returns a deep copy safe to hand out while the registry keeps
// mutating its own instance.
func (t *Track) Clone() Track {
	c := *t
	if t.Velocity != nil {
		v := *t.Velocity
		c.Velocity = &v
	}
	if t.Dimensions != nil {
		d := *t.Dimensions
		c.Dimensions = &d
	}
	if t.Sources != nil {
		c.Sources = append([]string(nil), t.Sources...)
	}
	return c
}

// Distance is the Euclidean distance of the track from the ego origin.
func (t *Track) Distance() float64 { return r3.Norm(t.Position) }

// Speed returns the magnitude of the velocity, 0 when unknown.
func (t *Track) Speed() float64 {
	if t.Velocity == nil {
		return 0
	}
	return r3.Norm(*t.Velocity)
}

// PredictedPosition extrapolates Position linearly to now. dt below zero is
// treated as zero and, when maxDt > 0, dt is clamped to maxDt. The track is
// not modified.
func (t *Track) PredictedPosition(now time.Time, maxDt time.Duration) r3.Vec {
	if t.Velocity == nil {
		return t.Position
	}
	dt := now.Sub(t.LastUpdated)
	if dt < 0 {
		dt = 0
	}
	if maxDt > 0 && dt > maxDt {
		dt = maxDt
	}
	return r3.Add(t.Position, r3.Scale(dt.Seconds(), *t.Velocity))
}
