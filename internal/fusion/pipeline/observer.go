package pipeline

import (
	"time"

	"github.com/banshee-data/fusion.report/internal/fusion/l5tracks"
	"github.com/banshee-data/fusion.report/internal/fusion/l6query"
)

// CycleResult describes one successful fusion cycle.
type CycleResult struct {
	Cycle    uint64        // 1-based count of published cycles since start or Reset
	Time     time.Time     // data time the cycle ran at
	Duration time.Duration // wall time spent in the cycle

	Readings   int // sensor readings in the snapshot
	Detections int
	Clusters   int
	Accepted   int // clusters at or above the confidence threshold
	Filtered   int // clusters dropped below it

	Created  []string
	Updated  []string
	Expired  []l5tracks.Track
	Rejected int // objects refused a new track by MaxTracks
}

// CycleObserver is notified after every cycle attempt. CycleCompleted runs
// after the snapshot is published; CycleFailed after a cycle was abandoned
// and the previous snapshot kept. Observers run on the cycle goroutine and
// must not call PerformFusion.
type CycleObserver interface {
	CycleCompleted(result CycleResult, snapshot *l6query.Snapshot)
	CycleFailed(err error)
}

// ObserverFuncs adapts plain functions to CycleObserver. Nil fields are
// skipped.
type ObserverFuncs struct {
	Completed func(CycleResult, *l6query.Snapshot)
	Failed    func(error)
}

func (o ObserverFuncs) CycleCompleted(r CycleResult, s *l6query.Snapshot) {
	if o.Completed != nil {
		o.Completed(r, s)
	}
}

func (o ObserverFuncs) CycleFailed(err error) {
	if o.Failed != nil {
		o.Failed(err)
	}
}
