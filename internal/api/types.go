package api

import (
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/fusion.report/internal/fusion/l1readings"
	"github.com/banshee-data/fusion.report/internal/fusion/l5tracks"
	"github.com/banshee-data/fusion.report/internal/fusion/pipeline"
	"github.com/banshee-data/fusion.report/internal/storage/sqlite"
	"github.com/banshee-data/fusion.report/internal/units"
)

// Vec3 is the JSON form of a position, velocity or size in the ego frame.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (v Vec3) r3() r3.Vec { return r3.Vec{X: v.X, Y: v.Y, Z: v.Z} }

func vecPtr(v *r3.Vec) *Vec3 {
	if v == nil {
		return nil
	}
	return &Vec3{X: v.X, Y: v.Y, Z: v.Z}
}

func (v *Vec3) r3Ptr() *r3.Vec {
	if v == nil {
		return nil
	}
	out := v.r3()
	return &out
}

// Track is the JSON form of a fused track.
type Track struct {
	ID             string    `json:"id"`
	Position       Vec3      `json:"position"`
	Velocity       *Vec3     `json:"velocity,omitempty"`
	Dimensions     *Vec3     `json:"dimensions,omitempty"`
	Classification string    `json:"classification,omitempty"`
	Confidence     float64   `json:"confidence"`
	FirstDetected  time.Time `json:"first_detected"`
	LastUpdated    time.Time `json:"last_updated"`
	State          string    `json:"state"`
	Sources        []string  `json:"sources"`
	Updates        int       `json:"updates"`

	Distance *float64 `json:"distance,omitempty"`
	SpeedMps *float64 `json:"speed_mps,omitempty"`
	Speed    *float64 `json:"speed,omitempty"`
	Units    string   `json:"units,omitempty"`
}

// withUnits fills Speed in the requested units when the track has a velocity.
func (t Track) withUnits(u string) Track {
	if t.SpeedMps == nil {
		return t
	}
	speed := units.ConvertSpeed(*t.SpeedMps, u)
	t.Speed = &speed
	t.Units = u
	return t
}

func trackJSON(t l5tracks.Track) Track {
	out := Track{
		ID:             t.ID,
		Position:       Vec3{X: t.Position.X, Y: t.Position.Y, Z: t.Position.Z},
		Velocity:       vecPtr(t.Velocity),
		Dimensions:     vecPtr(t.Dimensions),
		Classification: t.Classification,
		Confidence:     t.Confidence,
		FirstDetected:  t.FirstDetected,
		LastUpdated:    t.LastUpdated,
		State:          string(t.State),
		Sources:        t.Sources,
		Updates:        t.Updates,
	}
	if t.Velocity != nil {
		speed := t.Speed()
		out.SpeedMps = &speed
	}
	return out
}

// Detection is one object in an ingest request.
type Detection struct {
	Position       Vec3    `json:"position"`
	Velocity       *Vec3   `json:"velocity,omitempty"`
	Dimensions     *Vec3   `json:"dimensions,omitempty"`
	Classification string  `json:"classification,omitempty"`
	Confidence     float64 `json:"confidence"`
}

// ReadingRequest is the body of POST /api/sensors/{sensor_id}/readings.
// Timestamp is the capture time in RFC 3339.
type ReadingRequest struct {
	Timestamp  time.Time   `json:"timestamp"`
	Detections []Detection `json:"detections"`
}

func (r ReadingRequest) detections() []l1readings.Detection {
	out := make([]l1readings.Detection, len(r.Detections))
	for i, d := range r.Detections {
		out[i] = l1readings.Detection{
			Position:       d.Position.r3(),
			Velocity:       d.Velocity.r3Ptr(),
			Dimensions:     d.Dimensions.r3Ptr(),
			Classification: d.Classification,
			Confidence:     d.Confidence,
		}
	}
	return out
}

// Cycle is the JSON form of a cycle summary.
type Cycle struct {
	Cycle      uint64    `json:"cycle"`
	Time       time.Time `json:"time"`
	DurationMs float64   `json:"duration_ms"`
	Readings   int       `json:"readings"`
	Detections int       `json:"detections"`
	Clusters   int       `json:"clusters"`
	Accepted   int       `json:"accepted"`
	Filtered   int       `json:"filtered"`
	Created    []string  `json:"created"`
	Updated    []string  `json:"updated"`
	Expired    []string  `json:"expired"`
	Rejected   int       `json:"rejected"`
}

func cycleJSON(r pipeline.CycleResult) Cycle {
	expired := make([]string, len(r.Expired))
	for i, t := range r.Expired {
		expired[i] = t.ID
	}
	return Cycle{
		Cycle:      r.Cycle,
		Time:       r.Time,
		DurationMs: float64(r.Duration.Nanoseconds()) / 1e6,
		Readings:   r.Readings,
		Detections: r.Detections,
		Clusters:   r.Clusters,
		Accepted:   r.Accepted,
		Filtered:   r.Filtered,
		Created:    nonNil(r.Created),
		Updated:    nonNil(r.Updated),
		Expired:    expired,
		Rejected:   r.Rejected,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Observation is the JSON form of a stored track sample.
type Observation struct {
	Cycle          uint64    `json:"cycle"`
	Timestamp      time.Time `json:"timestamp"`
	Position       Vec3      `json:"position"`
	Velocity       *Vec3     `json:"velocity,omitempty"`
	SpeedMps       *float64  `json:"speed_mps,omitempty"`
	Classification string    `json:"classification,omitempty"`
	Confidence     float64   `json:"confidence"`
	Sources        []string  `json:"sources"`
}

func observationJSON(o sqlite.TrackObservation) Observation {
	return Observation{
		Cycle:          o.Cycle,
		Timestamp:      o.Timestamp,
		Position:       Vec3{X: o.Position.X, Y: o.Position.Y, Z: o.Position.Z},
		Velocity:       vecPtr(o.Velocity),
		SpeedMps:       o.SpeedMps,
		Classification: o.Classification,
		Confidence:     o.Confidence,
		Sources:        o.Sources,
	}
}
