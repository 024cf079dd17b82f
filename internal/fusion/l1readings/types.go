package l1readings

import (
	"errors"
	"math"
	"time"

	"github.com/banshee-data/fusion.report/internal/fusion"
	"gonum.org/v1/gonum/spatial/r3"
)

// Detection is one sensor's observation of one object in the ego frame.
// Position is always present; the other attributes depend on the sensor
// modality (radar: velocity, camera: classification, lidar: dimensions).
type Detection struct {
	SensorID string
	Position r3.Vec

	Velocity       *r3.Vec // m/s; nil when not reported
	Dimensions     *r3.Vec // length, width, height in metres; nil when not reported
	Classification string  // "" when the sensor does not classify

	Confidence float64 // [0,1]
}

// HasVelocity reports whether the sensor measured velocity.
func (d Detection) HasVelocity() bool { return d.Velocity != nil }

// HasDimensions reports whether the sensor measured dimensions.
func (d Detection) HasDimensions() bool { return d.Dimensions != nil }

// Clone returns a deep copy; optional vectors are not shared.
func (d Detection) Clone() Detection {
	out := d
	if d.Velocity != nil {
		v := *d.Velocity
		out.Velocity = &v
	}
	if d.Dimensions != nil {
		v := *d.Dimensions
		out.Dimensions = &v
	}
	return out
}

// SensorReading is the full output of one sensor capture. Once built by
// NewReading it is shared read-only between the buffer and fusion cycles
// and must not be modified.
type SensorReading struct {
	SensorID   string
	Detections []Detection
	Timestamp  time.Time

	// Dropped counts detections discarded on ingest for non-finite values.
	Dropped int
}

var (
	errEmptySensorID = errors.New("sensor id must not be empty")
	errZeroTimestamp = errors.New("capture timestamp must be set")
)

// NewReading copies detections into an immutable reading. Each detection is
// tagged with sensorID, its confidence is clipped to [0,1], and detections
// with a non-finite position, velocity or dimensions are dropped.
func NewReading(sensorID string, detections []Detection, timestamp time.Time) (*SensorReading, error) {
	if sensorID == "" {
		return nil, errEmptySensorID
	}
	if timestamp.IsZero() {
		return nil, errZeroTimestamp
	}

	reading := &SensorReading{
		SensorID:   sensorID,
		Detections: make([]Detection, 0, len(detections)),
		Timestamp:  timestamp,
	}
	for _, d := range detections {
		if !finiteVec(d.Position) ||
			(d.Velocity != nil && !finiteVec(*d.Velocity)) ||
			(d.Dimensions != nil && !finiteVec(*d.Dimensions)) {
			reading.Dropped++
			continue
		}
		c := d.Clone()
		c.SensorID = sensorID
		c.Confidence = fusion.ClampConfidence(d.Confidence)
		reading.Detections = append(reading.Detections, c)
	}
	return reading, nil
}

func finiteVec(v r3.Vec) bool {
	for _, f := range [3]float64{v.X, v.Y, v.Z} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
