// Package l1readings owns Layer 1 (Readings) of the fusion data model.
//
// Responsibilities: the Detection and SensorReading records and the
// Buffer that keeps the latest reading per sensor for the next fusion
// cycle. Key types: Detection, SensorReading, Buffer, Snapshot.
//
// Dependency rule: L1 depends only on the fusion root package.
package l1readings
