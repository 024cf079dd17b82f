// Package l5tracks owns Layer 5 (Tracks) of the fusion data model.
//
// Responsibilities: the persistent track set across fusion cycles.
// Each cycle predicts active tracks forward, matches fused objects to
// the predictions inside the gate, updates matched tracks in place,
// spawns tracks for unmatched objects and expires tracks that have gone
// unmatched for longer than the staleness timeout.
// Key types: Track, Registry, ReconcileResult.
//
// Dependency rule: L5 may depend on L1-L4, but never on L6.
// No SQL/database code is allowed in this package.
package l5tracks
