package l3association

import (
	"fmt"
	"sort"

	"github.com/banshee-data/fusion.report/internal/fusion"
	"github.com/banshee-data/fusion.report/internal/fusion/l1readings"
	"gonum.org/v1/gonum/spatial/r3"
)

// Member is one detection inside a cluster, tagged with its sensor and the
// sensor's configured weight.
type Member struct {
	SensorID  string
	Weight    float64
	Detection l1readings.Detection
}

// Cluster is a set of detections believed to be one physical object in the
// current cycle. A valid cluster has at least one member and at most one
// member per sensor.
type Cluster struct {
	Members []Member

	// Representative is the weighted centroid of member positions; it is the
	// anchor new detections are gated against.
	Representative r3.Vec
}

// NewCluster opens a singleton cluster.
func NewCluster(m Member) Cluster {
	return Cluster{Members: []Member{m}, Representative: m.Detection.Position}
}

// Len returns the number of members.
func (c *Cluster) Len() int { return len(c.Members) }

// HasSensor reports whether a member from sensorID is already present.
func (c *Cluster) HasSensor(sensorID string) bool {
	for _, m := range c.Members {
		if m.SensorID == sensorID {
			return true
		}
	}
	return false
}

// TotalWeight is the cumulative sensor weight of the members.
func (c *Cluster) TotalWeight() float64 {
	var sum float64
	for _, m := range c.Members {
		sum += m.Weight
	}
	return sum
}

// SensorIDs returns the contributing sensors, sorted.
func (c *Cluster) SensorIDs() []string {
	ids := make([]string, 0, len(c.Members))
	for _, m := range c.Members {
		ids = append(ids, m.SensorID)
	}
	sort.Strings(ids)
	return ids
}

// Add appends m and moves the representative to the weighted centroid.
func (c *Cluster) Add(m Member) {
	c.Members = append(c.Members, m)
	c.Representative = c.centroid()
}

// centroid weights member positions by sensor weight. When every member has
// zero weight it falls back to the plain mean.
func (c *Cluster) centroid() r3.Vec {
	var sum r3.Vec
	var wsum float64
	for _, m := range c.Members {
		sum = r3.Add(sum, r3.Scale(m.Weight, m.Detection.Position))
		wsum += m.Weight
	}
	if wsum > 0 {
		return divVec(sum, wsum)
	}
	sum = r3.Vec{}
	for _, m := range c.Members {
		sum = r3.Add(sum, m.Detection.Position)
	}
	return divVec(sum, float64(len(c.Members)))
}

// divVec divides componentwise; multiplying by a reciprocal would lose exact
// results such as 0.375/0.75.
func divVec(v r3.Vec, d float64) r3.Vec {
	return r3.Vec{X: v.X / d, Y: v.Y / d, Z: v.Z / d}
}

// Validate enforces the cluster invariants. Violations are programming
// errors in whoever built the cluster.
func (c *Cluster) Validate() error {
	if len(c.Members) == 0 {
		return &fusion.ContractViolationError{Component: "cluster", Reason: "empty cluster"}
	}
	seen := make(map[string]struct{}, len(c.Members))
	for _, m := range c.Members {
		if m.SensorID == "" {
			return &fusion.ContractViolationError{Component: "cluster", Reason: "member without sensor id"}
		}
		if _, dup := seen[m.SensorID]; dup {
			return &fusion.ContractViolationError{
				Component: "cluster",
				Reason:    fmt.Sprintf("sensor %q contributes more than one detection", m.SensorID),
			}
		}
		seen[m.SensorID] = struct{}{}
	}
	return nil
}
