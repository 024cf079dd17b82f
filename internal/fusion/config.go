package fusion

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// MatchStrategy selects how fused objects are matched to existing tracks.
type MatchStrategy string

const (
	MatchGreedy    MatchStrategy = "greedy"    // nearest pair first, deterministic ties
	MatchHungarian MatchStrategy = "hungarian" // globally minimal total distance
)

// DefaultRequiredSensors is used when Params.RequiredSensors is nil.
var DefaultRequiredSensors = []string{"lidar", "camera", "radar"}

// Params is the mutable input to NewConfig.
type Params struct {
	SensorWeights           map[string]float64 // sensor ID → nonnegative weight; need not sum to 1
	TimeSyncThreshold       time.Duration      // max span of required timestamps (exclusive)
	ConfidenceThreshold     float64            // minimum fused confidence, [0,1]
	RequiredSensors         []string           // nil means DefaultRequiredSensors; empty is invalid
	AssociationGateDistance float64            // metres, exclusive
	TrackStalenessTimeout   time.Duration      // unmatched time before a track expires

	MatchStrategy MatchStrategy // "" means MatchGreedy
	MaxTracks     int           // 0 means unlimited
	MaxPredictDt  time.Duration // clamp on prediction Δt; 0 means no clamp
}

// DefaultParams returns the reference lidar/camera/radar setup.
func DefaultParams() Params {
	return Params{
		SensorWeights: map[string]float64{
			"lidar":  0.6,
			"camera": 0.3,
			"radar":  0.1,
		},
		TimeSyncThreshold:       100 * time.Millisecond,
		ConfidenceThreshold:     0.75,
		AssociationGateDistance: 1.0,
		TrackStalenessTimeout:   2 * time.Second,
		MatchStrategy:           MatchGreedy,
	}
}

// Config is the validated, immutable engine configuration. The zero value is
// not usable; build one with NewConfig.
type Config struct {
	weights         map[string]float64
	required        []string
	requiredSet     map[string]struct{}
	syncThreshold   time.Duration
	confThreshold   float64
	gateDistance    float64
	stalenessTO     time.Duration
	matchStrategy   MatchStrategy
	maxTracks       int
	maxPredictDt    time.Duration
	validatedParams bool
}

// NewConfig validates p and returns an immutable Config. Invalid input fails
// here with an *InvalidConfigError, never at first use.
func NewConfig(p Params) (Config, error) {
	for id, w := range p.SensorWeights {
		if id == "" {
			return Config{}, &InvalidConfigError{Field: "sensor_weights", Reason: "empty sensor id"}
		}
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			return Config{}, &InvalidConfigError{
				Field:  "sensor_weights",
				Reason: fmt.Sprintf("weight for %q must be a finite nonnegative number, got %v", id, w),
			}
		}
	}
	if p.TimeSyncThreshold <= 0 {
		return Config{}, &InvalidConfigError{Field: "time_sync_threshold", Reason: fmt.Sprintf("must be > 0, got %v", p.TimeSyncThreshold)}
	}
	if math.IsNaN(p.ConfidenceThreshold) || p.ConfidenceThreshold < 0 || p.ConfidenceThreshold > 1 {
		return Config{}, &InvalidConfigError{Field: "confidence_threshold", Reason: fmt.Sprintf("must be in [0,1], got %v", p.ConfidenceThreshold)}
	}
	if math.IsNaN(p.AssociationGateDistance) || math.IsInf(p.AssociationGateDistance, 0) || p.AssociationGateDistance <= 0 {
		return Config{}, &InvalidConfigError{Field: "association_gate_distance", Reason: fmt.Sprintf("must be > 0, got %v", p.AssociationGateDistance)}
	}
	if p.TrackStalenessTimeout <= 0 {
		return Config{}, &InvalidConfigError{Field: "track_staleness_timeout", Reason: fmt.Sprintf("must be > 0, got %v", p.TrackStalenessTimeout)}
	}
	if p.MaxTracks < 0 {
		return Config{}, &InvalidConfigError{Field: "max_tracks", Reason: fmt.Sprintf("must be >= 0, got %d", p.MaxTracks)}
	}
	if p.MaxPredictDt < 0 {
		return Config{}, &InvalidConfigError{Field: "max_predict_dt", Reason: fmt.Sprintf("must be >= 0, got %v", p.MaxPredictDt)}
	}

	strategy := p.MatchStrategy
	switch strategy {
	case "":
		strategy = MatchGreedy
	case MatchGreedy, MatchHungarian:
	default:
		return Config{}, &InvalidConfigError{Field: "match_strategy", Reason: fmt.Sprintf("unknown strategy %q", strategy)}
	}

	required := p.RequiredSensors
	if required == nil {
		required = DefaultRequiredSensors
	}
	if len(required) == 0 {
		return Config{}, &InvalidConfigError{Field: "required_sensors", Reason: "must not be empty"}
	}
	requiredSet := make(map[string]struct{}, len(required))
	for _, id := range required {
		if id == "" {
			return Config{}, &InvalidConfigError{Field: "required_sensors", Reason: "empty sensor id"}
		}
		requiredSet[id] = struct{}{}
	}
	sortedRequired := make([]string, 0, len(requiredSet))
	for id := range requiredSet {
		sortedRequired = append(sortedRequired, id)
	}
	sort.Strings(sortedRequired)

	weights := make(map[string]float64, len(p.SensorWeights))
	for id, w := range p.SensorWeights {
		weights[id] = w
	}

	return Config{
		weights:         weights,
		required:        sortedRequired,
		requiredSet:     requiredSet,
		syncThreshold:   p.TimeSyncThreshold,
		confThreshold:   p.ConfidenceThreshold,
		gateDistance:    p.AssociationGateDistance,
		stalenessTO:     p.TrackStalenessTimeout,
		matchStrategy:   strategy,
		maxTracks:       p.MaxTracks,
		maxPredictDt:    p.MaxPredictDt,
		validatedParams: true,
	}, nil
}

// MustNewConfig is NewConfig for tests and static defaults. It panics on
// invalid params.
func MustNewConfig(p Params) Config {
	cfg, err := NewConfig(p)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Valid reports whether c was produced by NewConfig.
func (c Config) Valid() bool { return c.validatedParams }

// SensorWeight returns the configured weight for a sensor, 0 when unknown.
func (c Config) SensorWeight(sensorID string) float64 { return c.weights[sensorID] }

// SensorWeights returns a copy of the weight table.
func (c Config) SensorWeights() map[string]float64 {
	out := make(map[string]float64, len(c.weights))
	for id, w := range c.weights {
		out[id] = w
	}
	return out
}

// RequiredSensors returns the required sensor IDs, sorted.
func (c Config) RequiredSensors() []string {
	out := make([]string, len(c.required))
	copy(out, c.required)
	return out
}

// IsRequired reports whether sensorID takes part in the synchronisation check.
func (c Config) IsRequired(sensorID string) bool {
	_, ok := c.requiredSet[sensorID]
	return ok
}

func (c Config) TimeSyncThreshold() time.Duration     { return c.syncThreshold }
func (c Config) ConfidenceThreshold() float64         { return c.confThreshold }
func (c Config) AssociationGateDistance() float64     { return c.gateDistance }
func (c Config) TrackStalenessTimeout() time.Duration { return c.stalenessTO }
func (c Config) MatchStrategy() MatchStrategy         { return c.matchStrategy }
func (c Config) MaxTracks() int                       { return c.maxTracks }
func (c Config) MaxPredictDt() time.Duration          { return c.maxPredictDt }

// Params returns a copy of the params c was built from, with defaults applied.
func (c Config) Params() Params {
	return Params{
		SensorWeights:           c.SensorWeights(),
		TimeSyncThreshold:       c.syncThreshold,
		ConfidenceThreshold:     c.confThreshold,
		RequiredSensors:         c.RequiredSensors(),
		AssociationGateDistance: c.gateDistance,
		TrackStalenessTimeout:   c.stalenessTO,
		MatchStrategy:           c.matchStrategy,
		MaxTracks:               c.maxTracks,
		MaxPredictDt:            c.maxPredictDt,
	}
}

// ClampConfidence clips v into [0,1]. NaN maps to 0.
func ClampConfidence(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
