package l3association

import (
	"sort"

	"github.com/banshee-data/fusion.report/internal/fusion"
	"github.com/banshee-data/fusion.report/internal/fusion/l1readings"
	"gonum.org/v1/gonum/spatial/r3"
)

// Associator clusters detections across sensors with greedy nearest-neighbour
// gating.
type Associator struct {
	cfg fusion.Config

	// DebugCollector captures gating decisions for visualisation (optional).
	DebugCollector DebugCollector
}

// DebugCollector receives one call per candidate cluster considered for a
// detection. Implementations must be cheap when disabled.
type DebugCollector interface {
	IsEnabled() bool
	RecordGate(sensorID string, detectionIdx, clusterIdx int, distance float64, accepted bool)
}

// NewAssociator creates an Associator for cfg.
func NewAssociator(cfg fusion.Config) *Associator {
	return &Associator{cfg: cfg}
}

// SensorOrder returns the sensor IDs of snap in processing order: descending
// configured weight, ties broken by lexicographic ID.
func (a *Associator) SensorOrder(snap l1readings.Snapshot) []string {
	ids := snap.SensorIDs()
	sort.SliceStable(ids, func(i, j int) bool {
		wi, wj := a.cfg.SensorWeight(ids[i]), a.cfg.SensorWeight(ids[j])
		if wi != wj {
			return wi > wj
		}
		return ids[i] < ids[j]
	})
	return ids
}

// Associate groups every detection in snap into clusters, returned in
// creation order.
//
// Sensors are processed by SensorOrder, so the highest-weighted sensor's
// detections seed the first clusters. Each later detection joins the nearest
// cluster whose representative lies strictly within the gate distance and
// that has no member from the same sensor yet. Ties on distance go to the
// cluster with the higher cumulative weight, then to the older cluster. A
// detection with no qualifying cluster opens a new singleton.
func (a *Associator) Associate(snap l1readings.Snapshot) []Cluster {
	gate := a.cfg.AssociationGateDistance()
	debug := a.DebugCollector != nil && a.DebugCollector.IsEnabled()

	clusters := make([]Cluster, 0, snap.DetectionCount())
	for _, sensorID := range a.SensorOrder(snap) {
		reading, _ := snap.Reading(sensorID)
		weight := a.cfg.SensorWeight(sensorID)

		for di, det := range reading.Detections {
			member := Member{SensorID: sensorID, Weight: weight, Detection: det}

			best := -1
			var bestDist, bestWeight float64
			for ci := range clusters {
				c := &clusters[ci]
				if c.HasSensor(sensorID) {
					continue
				}
				dist := r3.Norm(r3.Sub(det.Position, c.Representative))
				within := dist < gate
				if debug {
					a.DebugCollector.RecordGate(sensorID, di, ci, dist, within)
				}
				if !within {
					continue
				}
				w := c.TotalWeight()
				if best < 0 || dist < bestDist || (dist == bestDist && w > bestWeight) {
					best, bestDist, bestWeight = ci, dist, w
				}
			}

			if best < 0 {
				clusters = append(clusters, NewCluster(member))
				continue
			}
			clusters[best].Add(member)
		}
	}
	return clusters
}
