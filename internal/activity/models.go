package activity

import (
	"time"

	"backend-activitytracker/internal/lifecycle"
)

// FinishedActivity is the upload payload of a completed activity.
type FinishedActivity struct {
	ID               string                 `json:"id"`
	UserID           string                 `json:"user_id" validate:"required"`
	GroupSessionID   string                 `json:"group_session_id,omitempty"`
	Type             lifecycle.ActivityType `json:"type" validate:"oneof=run walk cycle"`
	StartedAt        time.Time              `json:"started_at" validate:"required"`
	EndedAt          time.Time              `json:"ended_at" validate:"gtefield=StartedAt"`
	DurationSec      int64                  `json:"duration_sec" validate:"gte=0"`
	DistanceM        int                    `json:"distance_m" validate:"gte=0"`
	AverageSpeedKmh  float64                `json:"average_speed_kmh" validate:"gte=0"`
	AverageHeartRate int                    `json:"average_heart_rate" validate:"gte=0"`
	HeartRateZones   []ZoneShare            `json:"heart_rate_zones" validate:"dive"`
	Calories         int                    `json:"calories" validate:"gte=0"`
	ElevationGainM   int                    `json:"elevation_gain_m" validate:"gte=0"`
	Weather          *Weather               `json:"weather,omitempty"`
	Goals            []GoalProgress         `json:"goals,omitempty" validate:"dive"`
	MapImageURL      string                 `json:"map_image_url,omitempty" validate:"omitempty,url"`
	CreatedAt        time.Time              `json:"created_at"`
}

// ZoneShare is the share of heart-rate samples that fell in one zone.
type ZoneShare struct {
	Zone    int     `json:"zone" validate:"min=1,max=5"`
	Percent float64 `json:"percent" validate:"gte=0,lte=100"`
}

type Weather struct {
	TemperatureC float64 `json:"temperature_c"`
	Condition    string  `json:"condition"`
	HumidityPct  int     `json:"humidity_pct"`
	WindKmh      float64 `json:"wind_kmh"`
}

type GoalProgress struct {
	Goal      string  `json:"goal" validate:"required"`
	Target    float64 `json:"target"`
	Achieved  float64 `json:"achieved"`
	Completed bool    `json:"completed"`
}
