// Package l4confidence owns Layer 4 (Confidence) of the fusion data model:
// turning one association cluster into a single fused attribute bundle and
// deciding whether it is trustworthy enough to reach the track registry.
package l4confidence

import (
	"sort"

	"github.com/banshee-data/fusion.report/internal/fusion"
	"github.com/banshee-data/fusion.report/internal/fusion/l3association"
	"gonum.org/v1/gonum/spatial/r3"
)

// FusedObject is the per-cycle result of fusing one cluster. Attributes no
// member reported stay unset (nil or "") rather than zero.
type FusedObject struct {
	Position       r3.Vec
	Velocity       *r3.Vec
	Dimensions     *r3.Vec
	Classification string
	Confidence     float64  // [0,1]
	Sources        []string // contributing sensor IDs, sorted
}

// Fuser combines member attributes by sensor weight.
type Fuser struct {
	cfg fusion.Config
}

// NewFuser creates a Fuser for cfg.
func NewFuser(cfg fusion.Config) *Fuser {
	return &Fuser{cfg: cfg}
}

// Fuse computes the fused attributes of c. accepted is false when the fused
// confidence is below the configured threshold; that is expected filtering,
// not an error. A malformed cluster returns a ContractViolationError.
func (f *Fuser) Fuse(c l3association.Cluster) (obj FusedObject, accepted bool, err error) {
	if err := c.Validate(); err != nil {
		return FusedObject{}, false, err
	}

	var pos, vel, dims weightedMean
	var confidence float64
	for _, m := range c.Members {
		w := f.cfg.SensorWeight(m.SensorID)
		d := m.Detection
		pos.add(w, d.Position)
		if d.Velocity != nil {
			vel.add(w, *d.Velocity)
		}
		if d.Dimensions != nil {
			dims.add(w, *d.Dimensions)
		}
		confidence += w * d.Confidence
	}

	obj = FusedObject{
		Position:       pos.mean(),
		Velocity:       vel.meanPtr(),
		Dimensions:     dims.meanPtr(),
		Classification: f.classify(c),
		Confidence:     fusion.ClampConfidence(confidence),
		Sources:        c.SensorIDs(),
	}
	return obj, obj.Confidence >= f.cfg.ConfidenceThreshold(), nil
}

// FuseAll fuses every cluster in order and returns the accepted objects
// along with the number filtered out by the confidence threshold. The first
// malformed cluster aborts with its error.
func (f *Fuser) FuseAll(clusters []l3association.Cluster) (accepted []FusedObject, filtered int, err error) {
	accepted = make([]FusedObject, 0, len(clusters))
	for _, c := range clusters {
		obj, ok, err := f.Fuse(c)
		if err != nil {
			return nil, 0, err
		}
		if !ok {
			filtered++
			continue
		}
		accepted = append(accepted, obj)
	}
	return accepted, filtered, nil
}

// classify returns the label of the member with the highest
// weight × confidence among those that classify. Ties go to the
// lexicographically smallest sensor ID.
func (f *Fuser) classify(c l3association.Cluster) string {
	type candidate struct {
		sensorID string
		label    string
		score    float64
	}
	var candidates []candidate
	for _, m := range c.Members {
		if m.Detection.Classification == "" {
			continue
		}
		candidates = append(candidates, candidate{
			sensorID: m.SensorID,
			label:    m.Detection.Classification,
			score:    f.cfg.SensorWeight(m.SensorID) * m.Detection.Confidence,
		})
	}
	if len(candidates) == 0 {
		return ""
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].sensorID < candidates[j].sensorID
	})
	return candidates[0].label
}

// weightedMean accumulates a sensor-weighted average of vectors, falling
// back to the plain mean when every contributing weight is zero.
type weightedMean struct {
	wsum   r3.Vec
	sum    r3.Vec
	weight float64
	n      int
}

func (m *weightedMean) add(w float64, v r3.Vec) {
	m.wsum = r3.Add(m.wsum, r3.Scale(w, v))
	m.sum = r3.Add(m.sum, v)
	m.weight += w
	m.n++
}

func (m *weightedMean) mean() r3.Vec {
	switch {
	case m.n == 0:
		return r3.Vec{}
	case m.weight > 0:
		return r3.Vec{X: m.wsum.X / m.weight, Y: m.wsum.Y / m.weight, Z: m.wsum.Z / m.weight}
	}
	n := float64(m.n)
	return r3.Vec{X: m.sum.X / n, Y: m.sum.Y / n, Z: m.sum.Z / n}
}

func (m *weightedMean) meanPtr() *r3.Vec {
	if m.n == 0 {
		return nil
	}
	v := m.mean()
	return &v
}
