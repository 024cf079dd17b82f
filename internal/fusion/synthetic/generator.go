// Package synthetic generates deterministic lidar/camera/radar readings for
// objects moving on straight lines. It feeds the engine in development mode
// and in end-to-end tests.
package synthetic

import (
	"math/rand"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/fusion.report/internal/fusion/l1readings"
)

// SensorProfile describes what one simulated modality reports.
type SensorProfile struct {
	ID         string
	Offset     time.Duration // fixed capture delay relative to the frame
	Jitter     time.Duration // extra uniform delay in [0, Jitter)
	Noise      float64       // std dev of position noise per axis, metres
	Dropout    float64       // probability a detection is missed, [0,1]
	Confidence float64

	ReportsVelocity   bool
	ReportsDimensions bool
	Classifies        bool
}

// DefaultProfiles mirrors the reference rig: lidar for shape, camera for
// class, radar for velocity, each a few milliseconds apart.
func DefaultProfiles() []SensorProfile {
	return []SensorProfile{
		{ID: "lidar", Noise: 0.05, Confidence: 0.95, ReportsDimensions: true},
		{ID: "camera", Offset: 10 * time.Millisecond, Noise: 0.15, Confidence: 0.9, Classifies: true},
		{ID: "radar", Offset: 20 * time.Millisecond, Noise: 0.1, Confidence: 0.85, ReportsVelocity: true},
	}
}

// Object is one simulated ground-truth object.
type Object struct {
	Start          r3.Vec
	Velocity       r3.Vec
	Dimensions     r3.Vec
	Classification string
}

// Reading is one sensor submission.
type Reading struct {
	SensorID   string
	Detections []l1readings.Detection
	Timestamp  time.Time
}

// Registrar accepts sensor data. *pipeline.Engine satisfies it.
type Registrar interface {
	RegisterSensorData(sensorID string, detections []l1readings.Detection, timestamp time.Time)
}

// Generator produces frames of readings at FrameRate. It is not safe for
// concurrent use.
type Generator struct {
	// Configuration
	ObjectCount int
	FrameRate   float64 // frames per second
	LaneSpacing float64 // metres between object lanes along Y
	MinSpeedMPS float64
	MaxSpeedMPS float64
	Profiles    []SensorProfile

	start   time.Time
	frame   int
	rng     *rand.Rand
	objects []Object
}

// NewGenerator creates a generator whose output depends only on seed and
// start.
func NewGenerator(seed int64, start time.Time) *Generator {
	return &Generator{
		ObjectCount: 4,
		FrameRate:   10,
		LaneSpacing: 4,
		MinSpeedMPS: 3,
		MaxSpeedMPS: 8,
		Profiles:    DefaultProfiles(),
		start:       start,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

var classes = []string{"vehicle", "cyclist", "pedestrian"}

// Objects returns the ground truth, creating it on first use. Objects sit
// in separate lanes so they never come within gate distance of each other.
func (g *Generator) Objects() []Object {
	if g.objects != nil {
		return g.objects
	}
	g.objects = make([]Object, g.ObjectCount)
	for i := range g.objects {
		speed := g.MinSpeedMPS + g.rng.Float64()*(g.MaxSpeedMPS-g.MinSpeedMPS)
		if g.rng.Intn(2) == 0 {
			speed = -speed
		}
		g.objects[i] = Object{
			Start:          r3.Vec{X: 5 + g.rng.Float64()*25, Y: (float64(i) - float64(g.ObjectCount-1)/2) * g.LaneSpacing},
			Velocity:       r3.Vec{X: speed},
			Dimensions:     r3.Vec{X: 4.5, Y: 1.8, Z: 1.5},
			Classification: classes[i%len(classes)],
		}
	}
	return g.objects
}

// FrameTime returns the nominal time of frame n.
func (g *Generator) FrameTime(n int) time.Time {
	return g.start.Add(time.Duration(float64(n) / g.FrameRate * float64(time.Second)))
}

// Next returns one reading per profile for the next frame.
func (g *Generator) Next() []Reading {
	objects := g.Objects()
	base := g.FrameTime(g.frame)
	elapsed := base.Sub(g.start).Seconds()
	g.frame++

	readings := make([]Reading, 0, len(g.Profiles))
	for _, p := range g.Profiles {
		ts := base.Add(p.Offset)
		if p.Jitter > 0 {
			ts = ts.Add(time.Duration(g.rng.Int63n(int64(p.Jitter))))
		}
		r := Reading{SensorID: p.ID, Timestamp: ts}
		for _, o := range objects {
			if p.Dropout > 0 && g.rng.Float64() < p.Dropout {
				continue
			}
			r.Detections = append(r.Detections, g.detect(p, o, elapsed))
		}
		readings = append(readings, r)
	}
	return readings
}

func (g *Generator) detect(p SensorProfile, o Object, elapsed float64) l1readings.Detection {
	pos := r3.Add(o.Start, r3.Scale(elapsed, o.Velocity))
	if p.Noise > 0 {
		pos.X += g.rng.NormFloat64() * p.Noise
		pos.Y += g.rng.NormFloat64() * p.Noise
	}
	d := l1readings.Detection{Position: pos, Confidence: p.Confidence}
	if p.ReportsVelocity {
		v := o.Velocity
		d.Velocity = &v
	}
	if p.ReportsDimensions {
		dims := o.Dimensions
		d.Dimensions = &dims
	}
	if p.Classifies {
		d.Classification = o.Classification
	}
	return d
}

// Feed registers the next frame with reg and returns the frame's latest
// timestamp.
func (g *Generator) Feed(reg Registrar) time.Time {
	var latest time.Time
	for _, r := range g.Next() {
		reg.RegisterSensorData(r.SensorID, r.Detections, r.Timestamp)
		if r.Timestamp.After(latest) {
			latest = r.Timestamp
		}
	}
	return latest
}
