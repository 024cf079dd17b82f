package pipeline

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/banshee-data/fusion.report/internal/fusion"
	"github.com/banshee-data/fusion.report/internal/fusion/l1readings"
	"github.com/banshee-data/fusion.report/internal/fusion/l2sync"
	"github.com/banshee-data/fusion.report/internal/fusion/l3association"
	"github.com/banshee-data/fusion.report/internal/fusion/l4confidence"
	"github.com/banshee-data/fusion.report/internal/fusion/l5tracks"
	"github.com/banshee-data/fusion.report/internal/fusion/l6query"
	"github.com/banshee-data/fusion.report/internal/monitoring"
	"github.com/banshee-data/fusion.report/internal/timeutil"
)

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used for publication timestamps and cycle
// durations. Defaults to timeutil.RealClock.
func WithClock(c timeutil.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithObserver registers a CycleObserver. Observers run in registration
// order.
func WithObserver(o CycleObserver) Option {
	return func(e *Engine) { e.observers = append(e.observers, o) }
}

// WithIDGenerator overrides the track identifier source.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) { e.registryOpts = append(e.registryOpts, l5tracks.WithIDGenerator(gen)) }
}

// WithAssociationDebug attaches a collector to the cross-sensor associator.
func WithAssociationDebug(dc l3association.DebugCollector) Option {
	return func(e *Engine) { e.assocDebug = dc }
}

// WithMatchDebug attaches a collector to the track registry matcher.
func WithMatchDebug(dc l5tracks.DebugCollector) Option {
	return func(e *Engine) { e.matchDebug = dc }
}

// Engine owns the whole fusion state: the reading buffer, the track
// registry and the published snapshot. Sensors write through
// RegisterSensorData from any goroutine; cycles run one at a time; queries
// read the last published snapshot without waiting on a cycle.
type Engine struct {
	cfg   fusion.Config
	clock timeutil.Clock

	buffer     *l1readings.Buffer
	sync       *l2sync.Synchronizer
	associator *l3association.Associator
	fuser      *l4confidence.Fuser
	registry   *l5tracks.Registry

	registryOpts []l5tracks.Option
	assocDebug   l3association.DebugCollector
	matchDebug   l5tracks.DebugCollector
	observers    []CycleObserver

	flight    singleflight.Group
	cycleMu   sync.Mutex // held for the duration of a cycle or Reset
	cycle     uint64     // guarded by cycleMu
	cycleTime time.Time  // guarded by cycleMu; never moves backwards

	published atomic.Pointer[l6query.Snapshot]
	last      atomic.Pointer[CycleResult]

	trigger chan struct{}
}

// NewEngine builds an engine for cfg. cfg must come from fusion.NewConfig.
func NewEngine(cfg fusion.Config, opts ...Option) (*Engine, error) {
	if !cfg.Valid() {
		return nil, &fusion.InvalidConfigError{Field: "config", Reason: "not built by fusion.NewConfig"}
	}
	e := &Engine{
		cfg:     cfg,
		clock:   timeutil.RealClock{},
		trigger: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.buffer = l1readings.NewBuffer()
	e.sync = l2sync.NewSynchronizer(cfg)
	e.associator = l3association.NewAssociator(cfg)
	e.associator.DebugCollector = e.assocDebug
	e.fuser = l4confidence.NewFuser(cfg)
	e.registry = l5tracks.NewRegistry(cfg, e.registryOpts...)
	e.registry.DebugCollector = e.matchDebug
	e.published.Store(l6query.Empty())
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() fusion.Config { return e.cfg }

// RegisterSensorData stores the latest reading for sensorID, replacing any
// earlier one. Invalid input (empty sensor ID, zero timestamp) is logged
// and dropped. It never blocks on a running cycle.
func (e *Engine) RegisterSensorData(sensorID string, detections []l1readings.Detection, timestamp time.Time) {
	r, err := l1readings.NewReading(sensorID, detections, timestamp)
	if err != nil {
		opsf("rejected reading: %v", err)
		return
	}
	if r.Dropped > 0 {
		diagf("sensor %s: dropped %d detections with non-finite values", sensorID, r.Dropped)
	}
	e.buffer.Put(r)

	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// Triggered delivers a value after new sensor data arrived. Pending
// triggers coalesce into one.
func (e *Engine) Triggered() <-chan struct{} { return e.trigger }

// PerformFusion runs one fusion cycle and returns the published tracks,
// sorted by ID. Callers arriving while a cycle is in flight share its
// outcome. On error nothing is published and the previous snapshot stays
// visible; MissingSensorError and SynchronizationError are recoverable.
func (e *Engine) PerformFusion() ([]l5tracks.Track, error) {
	v, err, _ := e.flight.Do("cycle", func() (interface{}, error) {
		return e.runCycle()
	})
	if err != nil {
		return nil, err
	}
	return v.(*l6query.Snapshot).Tracks(), nil
}

func (e *Engine) runCycle() (*l6query.Snapshot, error) {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	started := e.clock.Now()
	snap := e.buffer.Snapshot()

	synced, err := e.sync.Check(snap)
	if err != nil {
		return nil, e.fail(err)
	}

	// Cycle time follows the required sensors only.
	now := synced.Newest
	if now.Before(e.cycleTime) {
		now = e.cycleTime
	}

	clusters := e.associator.Associate(snap)
	accepted, filtered, err := e.fuser.FuseAll(clusters)
	if err != nil {
		return nil, e.fail(fmt.Errorf("fuse clusters: %w", err))
	}
	rec, err := e.registry.Reconcile(accepted, now)
	if err != nil {
		return nil, e.fail(fmt.Errorf("reconcile tracks: %w", err))
	}

	e.cycle++
	e.cycleTime = now
	published := l6query.NewSnapshot(e.cycle, now, e.clock.Now(), e.registry.Tracks())
	e.published.Store(published)

	result := &CycleResult{
		Cycle:      e.cycle,
		Time:       now,
		Duration:   e.clock.Since(started),
		Readings:   snap.Len(),
		Detections: snap.DetectionCount(),
		Clusters:   len(clusters),
		Accepted:   len(accepted),
		Filtered:   filtered,
		Created:    rec.Created,
		Updated:    rec.Updated,
		Expired:    rec.Expired,
		Rejected:   rec.Rejected,
	}
	e.last.Store(result)
	tracef("cycle %d: %d clusters, %d accepted, %d filtered, %d created, %d updated, %d expired, %d tracks",
		result.Cycle, result.Clusters, result.Accepted, result.Filtered,
		len(result.Created), len(result.Updated), len(result.Expired), published.Len())

	for _, o := range e.observers {
		o.CycleCompleted(*result, published)
	}
	return published, nil
}

// fail logs err, notifies observers and returns err unchanged.
func (e *Engine) fail(err error) error {
	if fusion.IsRecoverable(err) {
		monitoring.Debugf("[fusion] cycle skipped: %v", err)
	} else {
		opsf("cycle failed: %v", err)
	}
	for _, o := range e.observers {
		o.CycleFailed(err)
	}
	return err
}

// GetObjectByID looks up a track in the published snapshot.
func (e *Engine) GetObjectByID(id string) (l5tracks.Track, bool) {
	return e.published.Load().GetByID(id)
}

// GetNearestObjects returns published tracks within maxDistance of the ego
// origin, nearest first. An empty classification matches every track.
func (e *Engine) GetNearestObjects(maxDistance float64, classification string) []l6query.NearestResult {
	return e.published.Load().GetNearest(maxDistance, classification)
}

// Published returns the current snapshot. It is never nil.
func (e *Engine) Published() *l6query.Snapshot { return e.published.Load() }

// LastCycle returns the most recent successful cycle, if any.
func (e *Engine) LastCycle() (CycleResult, bool) {
	r := e.last.Load()
	if r == nil {
		return CycleResult{}, false
	}
	return *r, true
}

// Reset discards buffered readings, tracks and the published snapshot,
// returning the engine to its freshly constructed state. It waits for an
// in-flight cycle to finish.
func (e *Engine) Reset() {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	e.buffer.Clear()
	e.registry.Reset()
	e.cycle = 0
	e.cycleTime = time.Time{}
	e.published.Store(l6query.Empty())
	e.last.Store(nil)
	diagf("engine reset")
}
