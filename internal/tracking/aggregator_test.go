package tracking

import (
	"testing"
	"time"

	"backend-activitytracker/internal/shared/geo"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2026, 5, 1, 7, 0, 0, 0, time.UTC)

func sampleAt(sec float64, lat, lng float64) RawSample {
	return RawSample{
		Coordinate: geo.Coordinate{Lat: lat, Lng: lng},
		RecordedAt: start.Add(time.Duration(sec * float64(time.Second))),
	}
}

func withAltitude(s RawSample, alt float64) RawSample {
	s.AltitudeM = &alt
	return s
}

func TestAcceptSpeedOverWindow(t *testing.T) {
	agg := NewAggregator(start)

	_, err := agg.Accept(sampleAt(0, 0, 0))
	require.NoError(t, err)
	snap, err := agg.Accept(sampleAt(2, 0.002, 0))
	require.NoError(t, err)

	want := geo.Coordinate{}.DistanceTo(geo.Coordinate{Lat: 0.002}) / 2 * 3.6
	assert.InDelta(t, want, snap.SpeedKmh, 1e-9)
	assert.InDelta(t, 400.3, snap.SpeedKmh, 0.5)
	assert.Equal(t, 222, snap.DistanceM)
}

func TestAcceptSpeedZeroWithoutCandidate(t *testing.T) {
	tests := []struct {
		name    string
		samples []RawSample
	}{
		{name: "single point", samples: []RawSample{sampleAt(0, 0, 0)}},
		{name: "too recent", samples: []RawSample{sampleAt(0, 0, 0), sampleAt(0.5, 0.001, 0)}},
		{name: "too old", samples: []RawSample{sampleAt(0, 0, 0), sampleAt(5, 0.001, 0)}},
		{name: "too close", samples: []RawSample{sampleAt(0, 0, 0), sampleAt(2, 0.000005, 0)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := NewAggregator(start)
			var snap Snapshot
			for _, s := range tt.samples {
				var err error
				snap, err = agg.Accept(s)
				require.NoError(t, err)
			}
			assert.Zero(t, snap.SpeedKmh)
		})
	}
}

func TestAcceptSpeedPicksMostRecentCandidate(t *testing.T) {
	agg := NewAggregator(start)
	for _, s := range []RawSample{
		sampleAt(0, 0, 0),
		sampleAt(1, 0.0001, 0),
		sampleAt(2, 0.0002, 0),
		sampleAt(2.5, 0.00025, 0),
	} {
		_, err := agg.Accept(s)
		require.NoError(t, err)
	}

	snap := agg.Snapshot()
	// the point at t=1s is the newest one at least a second older
	want := geo.Coordinate{Lat: 0.0001}.DistanceTo(geo.Coordinate{Lat: 0.00025}) / 1.5 * 3.6
	assert.InDelta(t, want, snap.SpeedKmh, 1e-9)
}

func TestAcceptNoiseFloor(t *testing.T) {
	agg := NewAggregator(start)
	// ~0.11 m steps: jitter
	for i := 0; i < 10; i++ {
		_, err := agg.Accept(sampleAt(float64(i), float64(i)*0.000001, 0))
		require.NoError(t, err)
	}
	assert.Zero(t, agg.Snapshot().DistanceM)
	assert.Zero(t, agg.Trail().DistanceM())
}

func TestDistanceNonDecreasingAndMatchesTrail(t *testing.T) {
	agg := NewAggregator(start)
	lats := []float64{0, 0.0001, 0.0001, 0.0000001 + 0.0001, 0.0003, 0.0002, 0.0002000005, 0.0005}

	prev := 0
	for i, lat := range lats {
		snap, err := agg.Accept(sampleAt(float64(i), lat, 0))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, snap.DistanceM, prev)
		prev = snap.DistanceM
	}

	expected := 0.0
	for i := 1; i < len(lats); i++ {
		d := geo.Coordinate{Lat: lats[i-1]}.DistanceTo(geo.Coordinate{Lat: lats[i]})
		if d >= NoiseFloorM {
			expected += d
		}
	}
	assert.Equal(t, int(expected), agg.Snapshot().DistanceM)
	assert.InDelta(t, expected, agg.Trail().DistanceM(), 1e-9)
}

func TestPauseResumeStartsNewSegment(t *testing.T) {
	continuous := NewAggregator(start)
	segmented := NewAggregator(start)
	segmented.StartSegment()

	lats := []float64{0, 0.0001, 0.0002, 0.0002, 0.0003, 0.0004}
	for i, lat := range lats {
		if i == 3 {
			segmented.StartSegment()
		}
		_, err := continuous.Accept(sampleAt(float64(i*2), lat, 0))
		require.NoError(t, err)
		_, err = segmented.Accept(sampleAt(float64(i*2), lat, 0))
		require.NoError(t, err)
	}

	trail := segmented.Trail()
	require.Len(t, trail, 2)
	assert.Len(t, trail[0], 3)
	assert.Len(t, trail[1], 3)
	assert.Equal(t, continuous.Snapshot().DistanceM, segmented.Snapshot().DistanceM)
	assert.InDelta(t, continuous.Trail().DistanceM(), trail.DistanceM(), 1e-9)
}

func TestFirstPointOfSegmentAddsNothing(t *testing.T) {
	agg := NewAggregator(start)
	_, err := agg.Accept(withAltitude(sampleAt(0, 0, 0), 100))
	require.NoError(t, err)

	agg.StartSegment()
	snap, err := agg.Accept(withAltitude(sampleAt(10, 0.01, 0), 150))
	require.NoError(t, err)

	assert.Zero(t, snap.DistanceM)
	assert.Zero(t, snap.ElevationGainM)
}

func TestElevationGain(t *testing.T) {
	agg := NewAggregator(start)
	steps := []RawSample{
		withAltitude(sampleAt(0, 0, 0), 100),
		withAltitude(sampleAt(1, 0.0001, 0), 104.5),
		withAltitude(sampleAt(2, 0.0002, 0), 101),
		sampleAt(3, 0.0003, 0),
		withAltitude(sampleAt(4, 0.0004, 0), 103),
		withAltitude(sampleAt(5, 0.0005, 0), 110),
	}
	for _, s := range steps {
		_, err := agg.Accept(s)
		require.NoError(t, err)
	}
	// 4.5 + 2 + 7 = 13.5
	assert.Equal(t, 13, agg.Snapshot().ElevationGainM)
}

func TestAcceptRejectsStaleSample(t *testing.T) {
	agg := NewAggregator(start)
	_, err := agg.Accept(sampleAt(5, 0, 0))
	require.NoError(t, err)
	before, err := agg.Accept(sampleAt(6, 0.001, 0))
	require.NoError(t, err)

	after, err := agg.Accept(sampleAt(6, 0.002, 0))
	require.ErrorIs(t, err, ErrStaleSample)
	assert.Equal(t, before, after)

	agg.StartSegment()
	_, err = agg.Accept(sampleAt(4, 0.002, 0))
	require.ErrorIs(t, err, ErrStaleSample)
	assert.Len(t, agg.Trail().Points(), 2)
}

func TestHeartRate(t *testing.T) {
	agg := NewAggregator(start)
	_, err := agg.AddHeartRate(0)
	require.ErrorIs(t, err, ErrInvalidHeartRate)

	_, err = agg.AddHeartRate(120)
	require.NoError(t, err)
	snap, err := agg.AddHeartRate(131)
	require.NoError(t, err)
	assert.Equal(t, []int{120, 131}, snap.HeartRates)

	snap.HeartRates[0] = 1
	assert.Equal(t, 120, agg.Snapshot().HeartRates[0])
}

func TestTrailIsCopy(t *testing.T) {
	agg := NewAggregator(start)
	_, err := agg.Accept(sampleAt(0, 1, 1))
	require.NoError(t, err)

	trail := agg.Trail()
	trail[0][0].Lat = 50
	assert.Equal(t, 1.0, agg.Trail()[0][0].Lat)
}
