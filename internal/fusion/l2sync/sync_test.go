package l2sync

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/fusion.report/internal/fusion"
	"github.com/banshee-data/fusion.report/internal/fusion/l1readings"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func reading(t *testing.T, id string, offset time.Duration) *l1readings.SensorReading {
	t.Helper()
	r, err := l1readings.NewReading(id, nil, t0.Add(offset))
	require.NoError(t, err)
	return r
}

func newSync() *Synchronizer {
	return NewSynchronizer(fusion.MustNewConfig(fusion.DefaultParams()))
}

func TestCheck_MissingSensor(t *testing.T) {
	t.Parallel()

	snap := l1readings.NewSnapshot(reading(t, "lidar", 0), reading(t, "sonar", 0))
	_, err := newSync().Check(snap)
	require.Error(t, err)

	var missErr *fusion.MissingSensorError
	require.True(t, errors.As(err, &missErr))
	assert.Equal(t, []string{"camera", "radar"}, missErr.Missing)
	assert.Equal(t, []string{"lidar", "sonar"}, missErr.Present)
}

func TestCheck_EmptySnapshot(t *testing.T) {
	t.Parallel()

	_, err := newSync().Check(l1readings.NewSnapshot())
	assert.ErrorIs(t, err, fusion.ErrMissingSensor)
}

func TestCheck_Boundary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		radar   time.Duration
		wantErr bool
	}{
		{"all within", 20 * time.Millisecond, false},
		{"just below threshold", 100*time.Millisecond - time.Nanosecond, false},
		{"exactly threshold", 100 * time.Millisecond, true},
		{"beyond threshold", 150 * time.Millisecond, true},
		{"radar earliest", -150 * time.Millisecond, true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			snap := l1readings.NewSnapshot(
				reading(t, "lidar", 0),
				reading(t, "camera", 10*time.Millisecond),
				reading(t, "radar", tt.radar),
			)
			res, err := newSync().Check(snap)
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Less(t, res.Span, 100*time.Millisecond)
				return
			}
			var syncErr *fusion.SynchronizationError
			require.True(t, errors.As(err, &syncErr))
			assert.Equal(t, 100*time.Millisecond, syncErr.Threshold)
			assert.GreaterOrEqual(t, syncErr.Span, 100*time.Millisecond)
		})
	}
}

func TestCheck_ReportsExtremes(t *testing.T) {
	t.Parallel()

	snap := l1readings.NewSnapshot(
		reading(t, "lidar", 0),
		reading(t, "camera", 10*time.Millisecond),
		reading(t, "radar", 150*time.Millisecond),
	)
	_, err := newSync().Check(snap)

	var syncErr *fusion.SynchronizationError
	require.True(t, errors.As(err, &syncErr))
	assert.Equal(t, "lidar", syncErr.Oldest)
	assert.Equal(t, "radar", syncErr.Newest)
	assert.Equal(t, 150*time.Millisecond, syncErr.Span)
}

func TestCheck_IgnoresNonRequired(t *testing.T) {
	t.Parallel()

	snap := l1readings.NewSnapshot(
		reading(t, "lidar", 0),
		reading(t, "camera", 0),
		reading(t, "radar", 0),
		reading(t, "ultrasonic", 10*time.Second),
	)
	res, err := newSync().Check(snap)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), res.Span)
	assert.Equal(t, t0, res.Newest)
}
