// Package fusion holds the shared configuration and error taxonomy of the
// multi-sensor object fusion engine.
//
// The engine is split into layers, each in its own package:
//
//	l1readings    latest reading per sensor (SensorBuffer)
//	l2sync        time-synchronisation gate
//	l3association cross-sensor clustering by spatial gating
//	l4confidence  attribute and confidence fusion per cluster
//	l5tracks      persistent track registry and lifecycle
//	l6query       immutable published snapshots and queries
//
// Dependency rule: a layer may depend on lower layers and on this package,
// never on a higher layer. The pipeline package is the composition root.
//
// All positions are in the ego frame: metres, origin at the vehicle.
package fusion
