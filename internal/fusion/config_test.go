package fusion

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := NewConfig(DefaultParams())
	require.NoError(t, err)

	assert.True(t, cfg.Valid())
	assert.Equal(t, []string{"camera", "lidar", "radar"}, cfg.RequiredSensors())
	assert.Equal(t, 0.6, cfg.SensorWeight("lidar"))
	assert.Equal(t, 0.0, cfg.SensorWeight("sonar"))
	assert.Equal(t, 100*time.Millisecond, cfg.TimeSyncThreshold())
	assert.Equal(t, MatchGreedy, cfg.MatchStrategy())
	assert.True(t, cfg.IsRequired("radar"))
	assert.False(t, cfg.IsRequired("sonar"))
}

func TestNewConfig_Immutable(t *testing.T) {
	t.Parallel()

	p := DefaultParams()
	cfg := MustNewConfig(p)

	// Mutating the input params or returned copies must not leak into cfg.
	p.SensorWeights["lidar"] = 0
	weights := cfg.SensorWeights()
	weights["camera"] = 42
	required := cfg.RequiredSensors()
	required[0] = "sonar"

	assert.Equal(t, 0.6, cfg.SensorWeight("lidar"))
	assert.Equal(t, 0.3, cfg.SensorWeight("camera"))
	assert.Equal(t, []string{"camera", "lidar", "radar"}, cfg.RequiredSensors())
}

func TestNewConfig_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		field string
		edit  func(p *Params)
	}{
		{"negative weight", "sensor_weights", func(p *Params) { p.SensorWeights["radar"] = -0.1 }},
		{"nan weight", "sensor_weights", func(p *Params) { p.SensorWeights["radar"] = math.NaN() }},
		{"empty sensor id weight", "sensor_weights", func(p *Params) { p.SensorWeights[""] = 0.1 }},
		{"zero sync threshold", "time_sync_threshold", func(p *Params) { p.TimeSyncThreshold = 0 }},
		{"confidence above one", "confidence_threshold", func(p *Params) { p.ConfidenceThreshold = 1.01 }},
		{"confidence below zero", "confidence_threshold", func(p *Params) { p.ConfidenceThreshold = -0.5 }},
		{"empty required sensors", "required_sensors", func(p *Params) { p.RequiredSensors = []string{} }},
		{"blank required sensor", "required_sensors", func(p *Params) { p.RequiredSensors = []string{"lidar", ""} }},
		{"zero gate", "association_gate_distance", func(p *Params) { p.AssociationGateDistance = 0 }},
		{"infinite gate", "association_gate_distance", func(p *Params) { p.AssociationGateDistance = math.Inf(1) }},
		{"zero staleness", "track_staleness_timeout", func(p *Params) { p.TrackStalenessTimeout = 0 }},
		{"negative max tracks", "max_tracks", func(p *Params) { p.MaxTracks = -1 }},
		{"unknown strategy", "match_strategy", func(p *Params) { p.MatchStrategy = "auction" }},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := DefaultParams()
			tt.edit(&p)

			_, err := NewConfig(p)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig))

			var cfgErr *InvalidConfigError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestNewConfig_RequiredDeduplicated(t *testing.T) {
	t.Parallel()

	p := DefaultParams()
	p.RequiredSensors = []string{"radar", "lidar", "radar"}
	cfg := MustNewConfig(p)
	assert.Equal(t, []string{"lidar", "radar"}, cfg.RequiredSensors())
}

func TestMustNewConfig_Panics(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { MustNewConfig(Params{}) })
	assert.False(t, Config{}.Valid())
}

func TestClampConfidence(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0.0, ClampConfidence(-1))
	assert.Equal(t, 0.0, ClampConfidence(math.NaN()))
	assert.Equal(t, 1.0, ClampConfidence(3))
	assert.Equal(t, 0.5, ClampConfidence(0.5))
}

func TestErrorKinds(t *testing.T) {
	t.Parallel()

	missing := &MissingSensorError{Missing: []string{"radar"}, Present: []string{"camera", "lidar"}}
	assert.ErrorIs(t, missing, ErrMissingSensor)
	assert.Contains(t, missing.Error(), "radar")
	assert.True(t, IsRecoverable(missing))

	syncErr := &SynchronizationError{Span: 150 * time.Millisecond, Threshold: 100 * time.Millisecond, Oldest: "lidar", Newest: "radar"}
	assert.ErrorIs(t, syncErr, ErrSynchronization)
	assert.True(t, IsRecoverable(syncErr))

	contract := &ContractViolationError{Component: "l5tracks", Reason: "empty cluster"}
	assert.ErrorIs(t, contract, ErrContractViolation)
	assert.False(t, IsRecoverable(contract))
	assert.NotErrorIs(t, contract, ErrMissingSensor)
}
