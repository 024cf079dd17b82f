package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/banshee-data/fusion.report/internal/config"
)

// TestFlagDefaults verifies the command-line defaults.
func TestFlagDefaults(t *testing.T) {
	if *listen != ":8080" {
		t.Errorf("expected listen default :8080, got %q", *listen)
	}
	if *grpcListen != ":50051" {
		t.Errorf("expected grpc-listen default :50051, got %q", *grpcListen)
	}
	if *dbPath != "fusion.db" {
		t.Errorf("expected db default fusion.db, got %q", *dbPath)
	}
	if *devMode {
		t.Error("expected dev default false")
	}
}

func TestRunnerConfig(t *testing.T) {
	rate := 5.0
	every := "250ms"
	tc := &config.TuningConfig{MaxCycleRate: &rate, CycleInterval: &every}

	tests := []struct {
		name         string
		set          map[string]bool
		flagInterval time.Duration
		flagRate     float64
		wantInterval time.Duration
		wantRate     float64
	}{
		{"config only", nil, 0, 0, 250 * time.Millisecond, 5},
		{"interval override", map[string]bool{"interval": true}, time.Second, 0, time.Second, 5},
		{"rate override to unlimited", map[string]bool{"max-cycle-rate": true}, 0, 0, 250 * time.Millisecond, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			*interval, *maxCycleRate = tt.flagInterval, tt.flagRate
			defer func() { *interval, *maxCycleRate = 0, 0 }()

			rc := runnerConfig(tc, func(name string) bool { return tt.set[name] })
			if rc.Interval != tt.wantInterval {
				t.Errorf("Interval = %v, want %v", rc.Interval, tt.wantInterval)
			}
			if rc.MaxCycleRate != tt.wantRate {
				t.Errorf("MaxCycleRate = %v, want %v", rc.MaxCycleRate, tt.wantRate)
			}
			if !rc.OnIngest {
				t.Error("OnIngest should default to true")
			}
		})
	}
}

func TestLoadTuning(t *testing.T) {
	tc, err := loadTuning("")
	if err != nil {
		t.Fatalf("loadTuning(\"\") error: %v", err)
	}
	if _, err := tc.FusionConfig(); err != nil {
		t.Errorf("built-in defaults are invalid: %v", err)
	}

	if _, err := loadTuning(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing config file")
	}

	tc, err = loadTuning(filepath.Join("..", "..", config.DefaultConfigPath))
	if err != nil {
		t.Fatalf("loading repository defaults: %v", err)
	}
	if tc.GetMaxCycleRate() != 20 {
		t.Errorf("GetMaxCycleRate() = %v, want 20", tc.GetMaxCycleRate())
	}
}
