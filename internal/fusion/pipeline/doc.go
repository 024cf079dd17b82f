// Package pipeline provides orchestration for the fusion engine.
//
// It wires the layer packages (L1 readings through L6 query) into one
// all-or-nothing fusion cycle, publishes an immutable track snapshot after
// every successful cycle, and drives cycles from a ticker or from ingest
// triggers. The pipeline does not own domain logic; it delegates to the
// layer packages and notifies observers (persistence, health) afterwards.
package pipeline
