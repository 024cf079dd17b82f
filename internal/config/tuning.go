package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/fusion.report/internal/fusion"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/fusion.defaults.json"

// TuningConfig is the on-disk form of the engine and runner settings.
// Durations are strings ("100ms"). Omitted fields fall back to the Get*
// defaults, which match fusion.DefaultParams.
type TuningConfig struct {
	// Engine params
	SensorWeights           map[string]float64 `json:"sensor_weights,omitempty"`
	TimeSyncThreshold       *string            `json:"time_sync_threshold,omitempty"`
	ConfidenceThreshold     *float64           `json:"confidence_threshold,omitempty"`
	RequiredSensors         []string           `json:"required_sensors,omitempty"`
	AssociationGateDistance *float64           `json:"association_gate_distance,omitempty"`
	TrackStalenessTimeout   *string            `json:"track_staleness_timeout,omitempty"`
	MatchStrategy           *string            `json:"match_strategy,omitempty"`
	MaxTracks               *int               `json:"max_tracks,omitempty"`
	MaxPredictDt            *string            `json:"max_predict_dt,omitempty"`

	// Runner params
	CycleInterval *string  `json:"cycle_interval,omitempty"`
	CycleOnIngest *bool    `json:"cycle_on_ingest,omitempty"`
	MaxCycleRate  *float64 `json:"max_cycle_rate,omitempty"`
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &TuningConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/fusion/pipeline/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks values that can be judged without building the engine
// config: parseable durations and plain ranges. FusionConfig performs the
// full check.
func (c *TuningConfig) Validate() error {
	durations := map[string]*string{
		"time_sync_threshold":     c.TimeSyncThreshold,
		"track_staleness_timeout": c.TrackStalenessTimeout,
		"max_predict_dt":          c.MaxPredictDt,
		"cycle_interval":          c.CycleInterval,
	}
	for name, s := range durations {
		if s == nil || *s == "" {
			continue
		}
		if _, err := time.ParseDuration(*s); err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *s, err)
		}
	}

	if c.ConfidenceThreshold != nil {
		if *c.ConfidenceThreshold < 0 || *c.ConfidenceThreshold > 1 {
			return fmt.Errorf("confidence_threshold must be between 0 and 1, got %f", *c.ConfidenceThreshold)
		}
	}
	for id, w := range c.SensorWeights {
		if w < 0 {
			return fmt.Errorf("sensor_weights[%s] must be non-negative, got %f", id, w)
		}
	}
	if c.MaxCycleRate != nil && *c.MaxCycleRate < 0 {
		return fmt.Errorf("max_cycle_rate must be non-negative, got %f", *c.MaxCycleRate)
	}
	if c.MaxTracks != nil && *c.MaxTracks < 0 {
		return fmt.Errorf("max_tracks must be non-negative, got %d", *c.MaxTracks)
	}
	return nil
}

func durationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def
	}
	return d
}

// GetSensorWeights returns a copy of the weight table or the default.
func (c *TuningConfig) GetSensorWeights() map[string]float64 {
	src := c.SensorWeights
	if src == nil {
		return fusion.DefaultParams().SensorWeights
	}
	out := make(map[string]float64, len(src))
	for id, w := range src {
		out[id] = w
	}
	return out
}

// GetRequiredSensors returns the required sensors, nil meaning the engine
// default.
func (c *TuningConfig) GetRequiredSensors() []string {
	if c.RequiredSensors == nil {
		return nil
	}
	return append([]string(nil), c.RequiredSensors...)
}

func (c *TuningConfig) GetTimeSyncThreshold() time.Duration {
	return durationOr(c.TimeSyncThreshold, 100*time.Millisecond)
}

func (c *TuningConfig) GetConfidenceThreshold() float64 {
	if c.ConfidenceThreshold == nil {
		return 0.75
	}
	return *c.ConfidenceThreshold
}

func (c *TuningConfig) GetAssociationGateDistance() float64 {
	if c.AssociationGateDistance == nil {
		return 1.0
	}
	return *c.AssociationGateDistance
}

func (c *TuningConfig) GetTrackStalenessTimeout() time.Duration {
	return durationOr(c.TrackStalenessTimeout, 2*time.Second)
}

func (c *TuningConfig) GetMatchStrategy() string {
	if c.MatchStrategy == nil {
		return string(fusion.MatchGreedy)
	}
	return *c.MatchStrategy
}

func (c *TuningConfig) GetMaxTracks() int {
	if c.MaxTracks == nil {
		return 0
	}
	return *c.MaxTracks
}

func (c *TuningConfig) GetMaxPredictDt() time.Duration {
	return durationOr(c.MaxPredictDt, 0)
}

// GetCycleInterval is the runner tick period; 0 disables ticking.
func (c *TuningConfig) GetCycleInterval() time.Duration {
	return durationOr(c.CycleInterval, 100*time.Millisecond)
}

func (c *TuningConfig) GetCycleOnIngest() bool {
	if c.CycleOnIngest == nil {
		return true
	}
	return *c.CycleOnIngest
}

func (c *TuningConfig) GetMaxCycleRate() float64 {
	if c.MaxCycleRate == nil {
		return 0
	}
	return *c.MaxCycleRate
}

// FusionParams maps the tuning values onto fusion.Params.
func (c *TuningConfig) FusionParams() fusion.Params {
	return fusion.Params{
		SensorWeights:           c.GetSensorWeights(),
		TimeSyncThreshold:       c.GetTimeSyncThreshold(),
		ConfidenceThreshold:     c.GetConfidenceThreshold(),
		RequiredSensors:         c.GetRequiredSensors(),
		AssociationGateDistance: c.GetAssociationGateDistance(),
		TrackStalenessTimeout:   c.GetTrackStalenessTimeout(),
		MatchStrategy:           fusion.MatchStrategy(c.GetMatchStrategy()),
		MaxTracks:               c.GetMaxTracks(),
		MaxPredictDt:            c.GetMaxPredictDt(),
	}
}

// FusionConfig builds the validated engine config.
func (c *TuningConfig) FusionConfig() (fusion.Config, error) {
	cfg, err := fusion.NewConfig(c.FusionParams())
	if err != nil {
		return fusion.Config{}, fmt.Errorf("fusion config: %w", err)
	}
	return cfg, nil
}
