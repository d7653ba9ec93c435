package tracking

import (
	"time"

	"backend-activitytracker/internal/shared/geo"
)

// RawSample is one fix as delivered by the device location provider.
// Altitude and Speed stay nil until the provider reports them.
type RawSample struct {
	Coordinate geo.Coordinate `json:"coordinate"`
	AltitudeM  *float64       `json:"altitude_m,omitempty"`
	SpeedMps   *float64       `json:"speed_mps,omitempty"`
	RecordedAt time.Time      `json:"recorded_at"`
}

// SampledPoint is an accepted sample positioned on the activity timeline.
type SampledPoint struct {
	geo.Coordinate
	AltitudeM *float64      `json:"altitude_m,omitempty"`
	SpeedMps  *float64      `json:"speed_mps,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Segment is a contiguous run of points between a resume and the next pause.
type Segment []SampledPoint

// Trail is every segment of an activity in time order.
type Trail []Segment

// Snapshot is the read-only view of the cumulative metrics.
type Snapshot struct {
	DistanceM      int     `json:"distance_m"`
	SpeedKmh       float64 `json:"speed_kmh"`
	ElevationGainM int     `json:"elevation_gain_m"`
	HeartRates     []int   `json:"heart_rates"`
}

// DistanceM sums consecutive-point distances, ignoring pairs under the
// noise floor.
func (s Segment) DistanceM() float64 {
	total := 0.0
	for i := 1; i < len(s); i++ {
		total += stepDistance(s[i-1].Coordinate, s[i].Coordinate)
	}
	return total
}

// DistanceM is the sum of the segment distances.
func (t Trail) DistanceM() float64 {
	total := 0.0
	for _, seg := range t {
		total += seg.DistanceM()
	}
	return total
}

// Points flattens the trail.
func (t Trail) Points() []SampledPoint {
	var points []SampledPoint
	for _, seg := range t {
		points = append(points, seg...)
	}
	return points
}

func stepDistance(from, to geo.Coordinate) float64 {
	d := from.DistanceTo(to)
	if d < NoiseFloorM {
		return 0
	}
	return d
}
