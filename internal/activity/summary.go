package activity

import (
	"math"
	"time"

	"backend-activitytracker/internal/lifecycle"
	"backend-activitytracker/internal/tracking"
)

const (
	DefaultMaxHeartRate = 190
	DefaultWeightKg     = 70.0
)

// zone lower bounds as a fraction of max heart rate, zones 1 through 5
var zoneFloors = []float64{0.5, 0.6, 0.7, 0.8, 0.9}

var metByType = map[lifecycle.ActivityType]float64{
	lifecycle.ActivityWalk:  3.5,
	lifecycle.ActivityRun:   9.8,
	lifecycle.ActivityCycle: 7.5,
}

type SummaryInput struct {
	UserID         string
	GroupSessionID string
	Type           lifecycle.ActivityType
	StartedAt      time.Time
	EndedAt        time.Time
	Moving         time.Duration
	Snapshot       tracking.Snapshot
	MaxHeartRate   int
	WeightKg       float64
}

// Summarize derives the upload payload from the final snapshot.
func Summarize(in SummaryInput) FinishedActivity {
	maxHR := in.MaxHeartRate
	if maxHR <= 0 {
		maxHR = DefaultMaxHeartRate
	}
	weight := in.WeightKg
	if weight <= 0 {
		weight = DefaultWeightKg
	}

	avgSpeed := 0.0
	if s := in.Moving.Seconds(); s > 0 {
		avgSpeed = float64(in.Snapshot.DistanceM) / s * 3.6
	}

	return FinishedActivity{
		UserID:           in.UserID,
		GroupSessionID:   in.GroupSessionID,
		Type:             in.Type,
		StartedAt:        in.StartedAt,
		EndedAt:          in.EndedAt,
		DurationSec:      int64(in.Moving.Seconds()),
		DistanceM:        in.Snapshot.DistanceM,
		AverageSpeedKmh:  avgSpeed,
		AverageHeartRate: averageHeartRate(in.Snapshot.HeartRates),
		HeartRateZones:   heartRateZones(in.Snapshot.HeartRates, maxHR),
		Calories:         int(math.Round(metByType[in.Type] * weight * in.Moving.Hours())),
		ElevationGainM:   in.Snapshot.ElevationGainM,
	}
}

func averageHeartRate(samples []int) int {
	if len(samples) == 0 {
		return 0
	}
	sum := 0
	for _, bpm := range samples {
		sum += bpm
	}
	return int(math.Round(float64(sum) / float64(len(samples))))
}

func heartRateZones(samples []int, maxHR int) []ZoneShare {
	counts := make([]int, len(zoneFloors))
	for _, bpm := range samples {
		ratio := float64(bpm) / float64(maxHR)
		for z := len(zoneFloors) - 1; z >= 0; z-- {
			if ratio >= zoneFloors[z] {
				counts[z]++
				break
			}
		}
	}

	zones := make([]ZoneShare, len(zoneFloors))
	for i, n := range counts {
		zones[i].Zone = i + 1
		if len(samples) > 0 {
			zones[i].Percent = float64(n) / float64(len(samples)) * 100
		}
	}
	return zones
}
