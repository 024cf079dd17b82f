package l1readings

import (
	"sort"
	"sync"
)

// Buffer holds the most recent reading per sensor. Writers swap a whole
// reading pointer under a short lock, so a reader never observes a partially
// written detection set. Memory is bounded by the number of sensor IDs.
type Buffer struct {
	mu      sync.RWMutex
	slots   map[string]*SensorReading
	version uint64 // incremented on every Put
}

// NewBuffer creates an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{slots: make(map[string]*SensorReading)}
}

// Put replaces the reading for r.SensorID. The reading must not be modified
// afterwards.
func (b *Buffer) Put(r *SensorReading) {
	if r == nil {
		return
	}
	b.mu.Lock()
	b.slots[r.SensorID] = r
	b.version++
	b.mu.Unlock()
}

// Snapshot returns an immutable view of the readings buffered right now.
// Later Puts do not affect it.
func (b *Buffer) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	readings := make(map[string]*SensorReading, len(b.slots))
	for id, r := range b.slots {
		readings[id] = r
	}
	return Snapshot{readings: readings, version: b.version}
}

// Clear drops every buffered reading.
func (b *Buffer) Clear() {
	b.mu.Lock()
	b.slots = make(map[string]*SensorReading)
	b.version++
	b.mu.Unlock()
}

// Len returns the number of sensors with a buffered reading.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.slots)
}

// Snapshot is a consistent, read-only set of sensor readings taken at the
// start of a fusion cycle.
type Snapshot struct {
	readings map[string]*SensorReading
	version  uint64
}

// NewSnapshot builds a snapshot directly from readings. The last reading wins
// when two share a sensor ID. Intended for tests and replay.
func NewSnapshot(readings ...*SensorReading) Snapshot {
	m := make(map[string]*SensorReading, len(readings))
	for _, r := range readings {
		if r != nil {
			m[r.SensorID] = r
		}
	}
	return Snapshot{readings: m}
}

// Version is the buffer write counter at the time the snapshot was taken.
func (s Snapshot) Version() uint64 { return s.version }

// Len returns the number of sensors present.
func (s Snapshot) Len() int { return len(s.readings) }

// Reading returns the reading for sensorID.
func (s Snapshot) Reading(sensorID string) (*SensorReading, bool) {
	r, ok := s.readings[sensorID]
	return r, ok
}

// SensorIDs returns the present sensor IDs, sorted.
func (s Snapshot) SensorIDs() []string {
	ids := make([]string, 0, len(s.readings))
	for id := range s.readings {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Readings returns the readings ordered by sensor ID.
func (s Snapshot) Readings() []*SensorReading {
	out := make([]*SensorReading, 0, len(s.readings))
	for _, id := range s.SensorIDs() {
		out = append(out, s.readings[id])
	}
	return out
}

// DetectionCount returns the total number of detections across all readings.
func (s Snapshot) DetectionCount() int {
	n := 0
	for _, r := range s.readings {
		n += len(r.Detections)
	}
	return n
}
