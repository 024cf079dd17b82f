// Package l6query owns Layer 6 (Query) of the fusion data model: the
// immutable track snapshot each successful cycle publishes, and the lookups
// consumers run against it.
//
// Dependency rule: L6 may depend on L1-L5. Nothing below depends on L6.
package l6query

import (
	"math"
	"sort"
	"time"

	"github.com/banshee-data/fusion.report/internal/fusion/l5tracks"
)

// Snapshot is a read-only view of the track set after one fusion cycle.
// Readers share it without locking; a new cycle publishes a new Snapshot
// instead of editing this one.
type Snapshot struct {
	cycle       uint64
	time        time.Time // cycle (data) time
	publishedAt time.Time // wall clock at publication
	ordered     []l5tracks.Track
	byID        map[string]int
}

// NewSnapshot builds a snapshot from tracks, deep-copying each one. Tracks
// are kept sorted by ID.
func NewSnapshot(cycle uint64, cycleTime, publishedAt time.Time, tracks []l5tracks.Track) *Snapshot {
	s := &Snapshot{
		cycle:       cycle,
		time:        cycleTime,
		publishedAt: publishedAt,
		ordered:     make([]l5tracks.Track, 0, len(tracks)),
		byID:        make(map[string]int, len(tracks)),
	}
	for i := range tracks {
		s.ordered = append(s.ordered, tracks[i].Clone())
	}
	sort.Slice(s.ordered, func(i, j int) bool { return s.ordered[i].ID < s.ordered[j].ID })
	for i := range s.ordered {
		s.byID[s.ordered[i].ID] = i
	}
	return s
}

// Empty is the snapshot visible before the first successful cycle.
func Empty() *Snapshot { return NewSnapshot(0, time.Time{}, time.Time{}, nil) }

func (s *Snapshot) Cycle() uint64          { return s.cycle }
func (s *Snapshot) Time() time.Time        { return s.time }
func (s *Snapshot) PublishedAt() time.Time { return s.publishedAt }
func (s *Snapshot) Len() int               { return len(s.ordered) }

// Tracks returns copies of every track, sorted by ID.
func (s *Snapshot) Tracks() []l5tracks.Track {
	out := make([]l5tracks.Track, len(s.ordered))
	for i := range s.ordered {
		out[i] = s.ordered[i].Clone()
	}
	return out
}

// GetByID looks a track up by identifier. ok is false when absent.
func (s *Snapshot) GetByID(id string) (l5tracks.Track, bool) {
	i, ok := s.byID[id]
	if !ok {
		return l5tracks.Track{}, false
	}
	return s.ordered[i].Clone(), true
}

// NearestResult pairs a track with its distance from the ego origin.
type NearestResult struct {
	Track    l5tracks.Track
	Distance float64
}

// GetNearest returns active tracks within maxDistance of the origin
// (inclusive), optionally restricted to an exact classification, sorted by
// ascending distance with ties broken by ID. An empty classification means
// no filter. A negative or NaN maxDistance matches nothing.
func (s *Snapshot) GetNearest(maxDistance float64, classification string) []NearestResult {
	if math.IsNaN(maxDistance) || maxDistance < 0 {
		return nil
	}
	var out []NearestResult
	for i := range s.ordered {
		t := &s.ordered[i]
		if t.State != l5tracks.TrackActive {
			continue
		}
		if classification != "" && t.Classification != classification {
			continue
		}
		d := t.Distance()
		if d > maxDistance {
			continue
		}
		out = append(out, NearestResult{Track: t.Clone(), Distance: d})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].Track.ID < out[j].Track.ID
	})
	return out
}
