// Package l3association owns Layer 3 (Association) of the fusion data model.
//
// Responsibilities: grouping detections from different sensors that
// plausibly belong to the same physical object in the current cycle.
// Association is purely geometric: reported position and the gate
// distance. Sensor-supplied object identifiers are never consulted, since
// independent sensors do not agree on labels.
//
// Key types: Cluster, Member, Associator.
//
// Dependency rule: L3 may depend on L1, never on L4 and above.
package l3association
