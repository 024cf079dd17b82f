package l5tracks

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/fusion.report/internal/fusion"
	"github.com/banshee-data/fusion.report/internal/fusion/l4confidence"
)

// ReconcileResult summarises one Reconcile call.
type ReconcileResult struct {
	Created []string // new track IDs, in object order
	Updated []string // matched track IDs, in object order
	Expired []Track  // removed tracks, State == TrackExpired, sorted by ID

	// Rejected counts unmatched objects that did not spawn a track because
	// the registry was at MaxTracks.
	Rejected int
}

// DebugCollector receives one call per gated object/track pair. Optional.
type DebugCollector interface {
	IsEnabled() bool
	RecordMatch(trackID string, objectIdx int, distance float64, accepted bool)
}

// Option configures a Registry.
type Option func(*Registry)

// WithIDGenerator replaces the default "trk_<uuid>" identifier source.
// Generated IDs must be unique; a collision fails the cycle.
func WithIDGenerator(gen func() string) Option {
	return func(r *Registry) { r.newID = gen }
}

// Registry holds the active tracks. Reconcile is the only mutator besides
// Reset; readers get deep copies.
type Registry struct {
	cfg    fusion.Config
	tracks map[string]*Track
	newID  func() string

	// DebugCollector captures matching decisions for visualisation (optional).
	DebugCollector DebugCollector

	mu sync.RWMutex
}

// NewRegistry creates an empty registry for cfg.
func NewRegistry(cfg fusion.Config, opts ...Option) *Registry {
	r := &Registry{
		cfg:    cfg,
		tracks: make(map[string]*Track),
		newID:  func() string { return fmt.Sprintf("trk_%s", uuid.NewString()) },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile runs one cycle of track maintenance against the accepted fused
// objects at time now:
//
//  1. each active track is predicted forward to now (anchor only, not stored);
//  2. objects are matched to predictions strictly inside the gate distance,
//     each track and each object at most once;
//  3. matched tracks take the object's fused attributes, keeping ID and
//     FirstDetected;
//  4. unmatched tracks idle for longer than the staleness timeout expire and
//     are removed;
//  5. unmatched objects spawn new tracks.
//
// Malformed objects fail the whole call with a ContractViolationError before
// anything is touched.
func (r *Registry) Reconcile(objects []l4confidence.FusedObject, now time.Time) (ReconcileResult, error) {
	for i := range objects {
		if err := validateObject(i, &objects[i]); err != nil {
			return ReconcileResult{}, err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ids := r.sortedIDsLocked()
	assign := r.match(objects, ids, now)

	matched := make([]bool, len(ids))
	for _, tj := range assign {
		if tj >= 0 {
			matched[tj] = true
		}
	}

	timeout := r.cfg.TrackStalenessTimeout()
	var expired []string
	for tj, id := range ids {
		if !matched[tj] && now.Sub(r.tracks[id].LastUpdated) > timeout {
			expired = append(expired, id)
		}
	}

	// Plan creations and draw identifiers before mutating anything, so a
	// misbehaving generator leaves the registry as it was.
	capacity := -1
	if maxTracks := r.cfg.MaxTracks(); maxTracks > 0 {
		capacity = max(maxTracks-(len(ids)-len(expired)), 0)
	}
	var res ReconcileResult
	newIDs := make(map[int]string)
	for oi, tj := range assign {
		if tj >= 0 {
			continue
		}
		if capacity == 0 {
			res.Rejected++
			continue
		}
		id := r.newID()
		if id == "" || r.tracks[id] != nil || containsValue(newIDs, id) {
			return ReconcileResult{}, &fusion.ContractViolationError{
				Component: "track registry",
				Reason:    fmt.Sprintf("id generator returned unusable id %q", id),
			}
		}
		newIDs[oi] = id
		if capacity > 0 {
			capacity--
		}
	}

	for oi, tj := range assign {
		obj := &objects[oi]
		switch {
		case tj >= 0:
			id := ids[tj]
			r.tracks[id].apply(obj, now)
			res.Updated = append(res.Updated, id)
		case newIDs[oi] != "":
			id := newIDs[oi]
			r.tracks[id] = newTrack(id, obj, now)
			res.Created = append(res.Created, id)
		}
	}

	for _, id := range expired {
		t := r.tracks[id]
		t.State = TrackExpired
		res.Expired = append(res.Expired, t.Clone())
		delete(r.tracks, id)
	}
	return res, nil
}

// match returns, per object, the index into ids of its track or -1.
func (r *Registry) match(objects []l4confidence.FusedObject, ids []string, now time.Time) []int {
	assign := make([]int, len(objects))
	for i := range assign {
		assign[i] = -1
	}
	if len(objects) == 0 || len(ids) == 0 {
		return assign
	}

	gate := r.cfg.AssociationGateDistance()
	maxDt := r.cfg.MaxPredictDt()
	debug := r.DebugCollector != nil && r.DebugCollector.IsEnabled()

	predicted := make([]r3.Vec, len(ids))
	for tj, id := range ids {
		predicted[tj] = r.tracks[id].PredictedPosition(now, maxDt)
	}

	dist := make([][]float64, len(objects))
	for oi := range objects {
		dist[oi] = make([]float64, len(ids))
		for tj := range ids {
			dist[oi][tj] = r3.Norm(r3.Sub(objects[oi].Position, predicted[tj]))
		}
	}

	if r.cfg.MatchStrategy() == fusion.MatchHungarian {
		cost := make([][]float64, len(objects))
		for oi := range objects {
			cost[oi] = make([]float64, len(ids))
			for tj := range ids {
				if dist[oi][tj] < gate {
					cost[oi][tj] = dist[oi][tj]
				} else {
					cost[oi][tj] = hungarianInf
				}
			}
		}
		assign = HungarianAssign(cost)
	} else {
		assign = greedyAssign(dist, ids, gate, assign)
	}

	if debug {
		for oi := range objects {
			for tj, id := range ids {
				if dist[oi][tj] < gate {
					r.DebugCollector.RecordMatch(id, oi, dist[oi][tj], assign[oi] == tj)
				}
			}
		}
	}
	return assign
}

// greedyAssign pairs objects and tracks nearest first. Equal distances are
// resolved by track ID, then object index, so the outcome does not depend on
// map iteration order.
func greedyAssign(dist [][]float64, ids []string, gate float64, assign []int) []int {
	type pair struct {
		oi, tj int
		d      float64
	}
	var pairs []pair
	for oi := range dist {
		for tj := range ids {
			if dist[oi][tj] < gate {
				pairs = append(pairs, pair{oi, tj, dist[oi][tj]})
			}
		}
	}
	sort.Slice(pairs, func(a, b int) bool {
		pa, pb := pairs[a], pairs[b]
		if pa.d != pb.d {
			return pa.d < pb.d
		}
		if ids[pa.tj] != ids[pb.tj] {
			return ids[pa.tj] < ids[pb.tj]
		}
		return pa.oi < pb.oi
	})

	trackUsed := make([]bool, len(ids))
	for _, p := range pairs {
		if assign[p.oi] >= 0 || trackUsed[p.tj] {
			continue
		}
		assign[p.oi] = p.tj
		trackUsed[p.tj] = true
	}
	return assign
}

func newTrack(id string, obj *l4confidence.FusedObject, now time.Time) *Track {
	return &Track{
		ID:             id,
		Position:       obj.Position,
		Velocity:       copyVec(obj.Velocity),
		Dimensions:     copyVec(obj.Dimensions),
		Classification: obj.Classification,
		Confidence:     obj.Confidence,
		FirstDetected:  now,
		LastUpdated:    now,
		State:          TrackActive,
		Sources:        append([]string(nil), obj.Sources...),
		Updates:        1,
	}
}

// apply replaces t's state with the fused values of obj. Attributes the
// object does not carry become unknown.
func (t *Track) apply(obj *l4confidence.FusedObject, now time.Time) {
	t.Velocity = copyVec(obj.Velocity)
	t.Dimensions = copyVec(obj.Dimensions)
	t.Classification = obj.Classification
	t.Position = obj.Position
	t.Confidence = obj.Confidence
	t.LastUpdated = now
	t.Sources = append([]string(nil), obj.Sources...)
	t.Updates++
}

func validateObject(i int, obj *l4confidence.FusedObject) error {
	violation := func(reason string) error {
		return &fusion.ContractViolationError{
			Component: "track registry",
			Reason:    fmt.Sprintf("object %d: %s", i, reason),
		}
	}
	if len(obj.Sources) == 0 {
		return violation("no contributing sensors")
	}
	seen := make(map[string]struct{}, len(obj.Sources))
	for _, s := range obj.Sources {
		if _, dup := seen[s]; dup {
			return violation(fmt.Sprintf("sensor %q contributes twice", s))
		}
		seen[s] = struct{}{}
	}
	if !finite(obj.Position) {
		return violation("non-finite position")
	}
	if math.IsNaN(obj.Confidence) || obj.Confidence < 0 || obj.Confidence > 1 {
		return violation(fmt.Sprintf("confidence %v outside [0,1]", obj.Confidence))
	}
	return nil
}

// Tracks returns copies of all active tracks, sorted by ID.
func (r *Registry) Tracks() []Track {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Track, 0, len(r.tracks))
	for _, id := range r.sortedIDsLocked() {
		out = append(out, r.tracks[id].Clone())
	}
	return out
}

// Get returns a copy of the track with id.
func (r *Registry) Get(id string) (Track, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tracks[id]
	if !ok {
		return Track{}, false
	}
	return t.Clone(), true
}

// Len returns the number of active tracks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tracks)
}

// Reset drops every track.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tracks = make(map[string]*Track)
}

func (r *Registry) sortedIDsLocked() []string {
	ids := make([]string, 0, len(r.tracks))
	for id := range r.tracks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func copyVec(v *r3.Vec) *r3.Vec {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func finite(v r3.Vec) bool {
	for _, f := range []float64{v.X, v.Y, v.Z} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

func containsValue(m map[int]string, v string) bool {
	for _, s := range m {
		if s == v {
			return true
		}
	}
	return false
}
