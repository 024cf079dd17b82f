package l4confidence

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/fusion.report/internal/fusion"
	"github.com/banshee-data/fusion.report/internal/fusion/l1readings"
	"github.com/banshee-data/fusion.report/internal/fusion/l3association"
)

func vec(x, y, z float64) *r3.Vec { return &r3.Vec{X: x, Y: y, Z: z} }

func member(sensorID string, d l1readings.Detection) l3association.Member {
	d.SensorID = sensorID
	return l3association.Member{SensorID: sensorID, Detection: d}
}

func cluster(members ...l3association.Member) l3association.Cluster {
	c := l3association.NewCluster(members[0])
	for _, m := range members[1:] {
		c.Add(m)
	}
	return c
}

func referenceCluster() l3association.Cluster {
	return cluster(
		member("lidar", l1readings.Detection{Position: r3.Vec{X: 10.5, Y: 1.2}, Dimensions: vec(4.5, 1.8, 1.5), Confidence: 0.95}),
		member("camera", l1readings.Detection{Position: r3.Vec{X: 10.7, Y: 1.3}, Classification: "vehicle", Confidence: 0.9}),
		member("radar", l1readings.Detection{Position: r3.Vec{X: 10.6, Y: 1.25}, Velocity: vec(5, 0, 0), Confidence: 0.85}),
	)
}

func newFuser(t *testing.T, edit func(p *fusion.Params)) *Fuser {
	t.Helper()
	p := fusion.DefaultParams()
	if edit != nil {
		edit(&p)
	}
	cfg, err := fusion.NewConfig(p)
	require.NoError(t, err)
	return NewFuser(cfg)
}

func TestFuse_ReferenceScenario(t *testing.T) {
	t.Parallel()

	obj, accepted, err := newFuser(t, nil).Fuse(referenceCluster())
	require.NoError(t, err)
	assert.True(t, accepted)

	want := FusedObject{
		Position:       r3.Vec{X: 10.57, Y: 1.235},
		Velocity:       vec(5, 0, 0),
		Dimensions:     vec(4.5, 1.8, 1.5),
		Classification: "vehicle",
		Confidence:     0.925,
		Sources:        []string{"camera", "lidar", "radar"},
	}
	if diff := cmp.Diff(want, obj, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("fused object mismatch (-want +got):\n%s", diff)
	}
}

func TestFuse_UnknownAttributesStayUnset(t *testing.T) {
	t.Parallel()

	c := cluster(member("lidar", l1readings.Detection{Position: r3.Vec{X: 1}, Confidence: 1}))
	obj, accepted, err := newFuser(t, nil).Fuse(c)
	require.NoError(t, err)
	assert.False(t, accepted, "0.6 x 1.0 is below 0.75")
	assert.Nil(t, obj.Velocity)
	assert.Nil(t, obj.Dimensions)
	assert.Empty(t, obj.Classification)
	assert.InDelta(t, 0.6, obj.Confidence, 1e-12)
}

func TestFuse_ConfidenceCapped(t *testing.T) {
	t.Parallel()

	f := newFuser(t, func(p *fusion.Params) {
		p.SensorWeights = map[string]float64{"lidar": 1, "camera": 1, "radar": 1}
	})
	obj, accepted, err := f.Fuse(referenceCluster())
	require.NoError(t, err)
	assert.True(t, accepted)
	assert.Equal(t, 1.0, obj.Confidence)
}

func TestFuse_ThresholdInclusive(t *testing.T) {
	t.Parallel()

	f := newFuser(t, func(p *fusion.Params) {
		p.SensorWeights = map[string]float64{"lidar": 0.5}
		p.ConfidenceThreshold = 0.25
	})
	c := cluster(member("lidar", l1readings.Detection{Confidence: 0.5}))
	_, accepted, err := f.Fuse(c)
	require.NoError(t, err)
	assert.True(t, accepted)
}

func TestFuse_ClassificationHighestWeightedScore(t *testing.T) {
	t.Parallel()

	c := cluster(
		member("lidar", l1readings.Detection{Classification: "truck", Confidence: 0.5}),
		member("camera", l1readings.Detection{Classification: "vehicle", Confidence: 0.9}),
	)
	obj, _, err := newFuser(t, nil).Fuse(c)
	require.NoError(t, err)
	// lidar 0.6 x 0.5 = 0.30 beats camera 0.3 x 0.9 = 0.27.
	assert.Equal(t, "truck", obj.Classification)
}

func TestFuse_ClassificationTieBySensorID(t *testing.T) {
	t.Parallel()

	f := newFuser(t, func(p *fusion.Params) {
		p.SensorWeights = map[string]float64{"cam_b": 0.5, "cam_a": 0.5}
	})
	c := cluster(
		member("cam_b", l1readings.Detection{Classification: "cyclist", Confidence: 0.5}),
		member("cam_a", l1readings.Detection{Classification: "pedestrian", Confidence: 0.5}),
	)
	obj, _, err := f.Fuse(c)
	require.NoError(t, err)
	assert.Equal(t, "pedestrian", obj.Classification)
}

func TestFuse_VelocityAveragedOverReportersOnly(t *testing.T) {
	t.Parallel()

	f := newFuser(t, func(p *fusion.Params) {
		p.SensorWeights = map[string]float64{"lidar": 0.5, "radar": 0.25, "radar2": 0.25}
	})
	c := cluster(
		member("lidar", l1readings.Detection{Confidence: 1}),
		member("radar", l1readings.Detection{Velocity: vec(4, 0, 0), Confidence: 1}),
		member("radar2", l1readings.Detection{Velocity: vec(8, 0, 0), Confidence: 1}),
	)
	obj, _, err := f.Fuse(c)
	require.NoError(t, err)
	require.NotNil(t, obj.Velocity)
	assert.InDelta(t, 6.0, obj.Velocity.X, 1e-12)
}

func TestFuse_ZeroWeightsFallBackToMean(t *testing.T) {
	t.Parallel()

	f := newFuser(t, func(p *fusion.Params) {
		p.SensorWeights = map[string]float64{}
		p.ConfidenceThreshold = 0
	})
	c := cluster(
		member("a", l1readings.Detection{Position: r3.Vec{X: 2}, Confidence: 1}),
		member("b", l1readings.Detection{Position: r3.Vec{X: 4}, Confidence: 1}),
	)
	obj, accepted, err := f.Fuse(c)
	require.NoError(t, err)
	assert.True(t, accepted)
	assert.InDelta(t, 3.0, obj.Position.X, 1e-12)
	assert.Equal(t, 0.0, obj.Confidence)
}

func TestFuse_MalformedCluster(t *testing.T) {
	t.Parallel()

	_, _, err := newFuser(t, nil).Fuse(l3association.Cluster{})
	assert.ErrorIs(t, err, fusion.ErrContractViolation)

	dup := cluster(member("lidar", l1readings.Detection{}))
	dup.Members = append(dup.Members, member("lidar", l1readings.Detection{}))
	_, _, err = newFuser(t, nil).Fuse(dup)
	assert.ErrorIs(t, err, fusion.ErrContractViolation)
}

func TestFuseAll(t *testing.T) {
	t.Parallel()

	weak := cluster(member("radar", l1readings.Detection{Confidence: 0.9}))
	accepted, filtered, err := newFuser(t, nil).FuseAll([]l3association.Cluster{referenceCluster(), weak})
	require.NoError(t, err)
	assert.Len(t, accepted, 1)
	assert.Equal(t, 1, filtered)

	_, _, err = newFuser(t, nil).FuseAll([]l3association.Cluster{referenceCluster(), {}})
	assert.ErrorIs(t, err, fusion.ErrContractViolation)
}

func TestFuse_ConfidenceAlwaysInRange(t *testing.T) {
	t.Parallel()

	weights := []float64{0, 0.1, 0.5, 1, 3, 100}
	for _, w := range weights {
		f := newFuser(t, func(p *fusion.Params) {
			p.SensorWeights = map[string]float64{"lidar": w, "camera": w, "radar": w}
		})
		obj, _, err := f.Fuse(referenceCluster())
		require.NoError(t, err)
		assert.GreaterOrEqual(t, obj.Confidence, 0.0)
		assert.LessOrEqual(t, obj.Confidence, 1.0)
	}
}
