// Package tracking turns raw location fixes into a segmented trail and the
// cumulative distance, speed and elevation metrics derived from it.
package tracking

import (
	"errors"
	"fmt"
	"time"
)

const (
	// NoiseFloorM is the smallest step counted as movement; shorter steps
	// are GPS jitter.
	NoiseFloorM = 0.2

	speedMinDistanceM = 1.0
	speedMinWindow    = time.Second
	speedMaxWindow    = 4 * time.Second
	mpsToKmh          = 3.6
)

var (
	ErrStaleSample      = errors.New("sample is not newer than the previous point")
	ErrInvalidHeartRate = errors.New("heart rate must be positive")
)

// Aggregator owns the trail of a single activity. It has exactly one
// producer and does no I/O.
type Aggregator struct {
	startedAt time.Time
	trail     Trail

	distanceM      float64
	elevationGainM float64
	speedKmh       float64
	heartRates     []int

	// last altitude seen in the current segment
	lastAltitude *float64
}

func NewAggregator(startedAt time.Time) *Aggregator {
	return &Aggregator{startedAt: startedAt}
}

// StartSegment opens a new trail segment. Cumulative metrics carry over.
func (a *Aggregator) StartSegment() {
	a.trail = append(a.trail, Segment{})
	a.lastAltitude = nil
	a.speedKmh = 0
}

// Accept appends the sample to the current segment and returns the updated
// snapshot. A sample that does not move forward in time is rejected with
// ErrStaleSample and the current snapshot is returned unchanged.
func (a *Aggregator) Accept(sample RawSample) (Snapshot, error) {
	if len(a.trail) == 0 {
		a.StartSegment()
	}

	point := SampledPoint{
		Coordinate: sample.Coordinate,
		AltitudeM:  copyFloat(sample.AltitudeM),
		SpeedMps:   copyFloat(sample.SpeedMps),
		Elapsed:    sample.RecordedAt.Sub(a.startedAt),
	}

	seg := a.trail[len(a.trail)-1]
	if n := len(seg); n > 0 {
		prev := seg[n-1]
		if point.Elapsed <= prev.Elapsed {
			return a.Snapshot(), fmt.Errorf("accept at %s: %w", point.Elapsed, ErrStaleSample)
		}
		a.distanceM += stepDistance(prev.Coordinate, point.Coordinate)
	} else if last := a.lastPoint(); last != nil && point.Elapsed <= last.Elapsed {
		return a.Snapshot(), fmt.Errorf("accept at %s: %w", point.Elapsed, ErrStaleSample)
	}

	if point.AltitudeM != nil {
		if a.lastAltitude != nil && *point.AltitudeM > *a.lastAltitude {
			a.elevationGainM += *point.AltitudeM - *a.lastAltitude
		}
		a.lastAltitude = copyFloat(point.AltitudeM)
	}

	seg = append(seg, point)
	a.trail[len(a.trail)-1] = seg
	a.speedKmh = windowSpeedKmh(seg)

	return a.Snapshot(), nil
}

// AddHeartRate records a heart-rate sample in beats per minute.
func (a *Aggregator) AddHeartRate(bpm int) (Snapshot, error) {
	if bpm <= 0 {
		return a.Snapshot(), fmt.Errorf("heart rate %d: %w", bpm, ErrInvalidHeartRate)
	}
	a.heartRates = append(a.heartRates, bpm)
	return a.Snapshot(), nil
}

// Snapshot returns a copy of the current metrics.
func (a *Aggregator) Snapshot() Snapshot {
	hr := make([]int, len(a.heartRates))
	copy(hr, a.heartRates)
	return Snapshot{
		DistanceM:      int(a.distanceM),
		SpeedKmh:       a.speedKmh,
		ElevationGainM: int(a.elevationGainM),
		HeartRates:     hr,
	}
}

// Trail returns a deep copy of the recorded trail.
func (a *Aggregator) Trail() Trail {
	out := make(Trail, len(a.trail))
	for i, seg := range a.trail {
		out[i] = make(Segment, len(seg))
		copy(out[i], seg)
	}
	return out
}

// StartedAt is the activity start the elapsed offsets are measured from.
func (a *Aggregator) StartedAt() time.Time {
	return a.startedAt
}

func (a *Aggregator) lastPoint() *SampledPoint {
	for i := len(a.trail) - 1; i >= 0; i-- {
		if n := len(a.trail[i]); n > 0 {
			return &a.trail[i][n-1]
		}
	}
	return nil
}

// windowSpeedKmh looks back from the newest point for the most recent point
// that is over a meter away and one to four seconds older.
func windowSpeedKmh(seg Segment) float64 {
	if len(seg) < 2 {
		return 0
	}
	latest := seg[len(seg)-1]
	for i := len(seg) - 2; i >= 0; i-- {
		dt := latest.Elapsed - seg[i].Elapsed
		if dt < speedMinWindow {
			continue
		}
		if dt > speedMaxWindow {
			break
		}
		d := seg[i].DistanceTo(latest.Coordinate)
		if d > speedMinDistanceM {
			return d / dt.Seconds() * mpsToKmh
		}
	}
	return 0
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
