package activity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"backend-activitytracker/internal/db"
	"backend-activitytracker/internal/lifecycle"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

var (
	ErrInvalidActivity = errors.New("invalid activity")
	ErrNotFound        = errors.New("activity not found")
)

type Service struct {
	db  db.Querier
	log *zap.Logger
}

func NewService(q db.Querier, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{db: q, log: log}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func check(a FinishedActivity) error {
	if err := validate.Struct(a); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidActivity, err)
	}
	return nil
}

// Save stores a finished activity and returns it with its id assigned.
func (s *Service) Save(ctx context.Context, input FinishedActivity) (FinishedActivity, error) {
	if err := check(input); err != nil {
		return FinishedActivity{}, err
	}
	input.ID = uuid.NewString()

	zones, err := json.Marshal(input.HeartRateZones)
	if err != nil {
		return FinishedActivity{}, err
	}
	goals, err := json.Marshal(input.Goals)
	if err != nil {
		return FinishedActivity{}, err
	}
	var weather []byte
	if input.Weather != nil {
		if weather, err = json.Marshal(input.Weather); err != nil {
			return FinishedActivity{}, err
		}
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO activities (id, user_id, group_session_id, type, started_at, ended_at, duration_sec,
			distance_m, average_speed_kmh, average_heart_rate, heart_rate_zones, calories,
			elevation_gain_m, weather, goals, map_image_url)
		VALUES ($1,$2,NULLIF($3,''),$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		RETURNING created_at
	`, input.ID, input.UserID, input.GroupSessionID, string(input.Type), input.StartedAt, input.EndedAt,
		input.DurationSec, input.DistanceM, input.AverageSpeedKmh, input.AverageHeartRate, zones,
		input.Calories, input.ElevationGainM, weather, goals, input.MapImageURL)
	if err := row.Scan(&input.CreatedAt); err != nil {
		return FinishedActivity{}, err
	}

	s.log.Info("activity saved",
		zap.String("id", input.ID),
		zap.String("user_id", input.UserID),
		zap.Int("distance_m", input.DistanceM))
	return input, nil
}

const selectColumns = `id, user_id, COALESCE(group_session_id,''), type, started_at, ended_at, duration_sec,
	distance_m, average_speed_kmh, average_heart_rate, heart_rate_zones, calories,
	elevation_gain_m, weather, goals, COALESCE(map_image_url,''), created_at`

func scanActivity(row pgx.Row) (FinishedActivity, error) {
	var (
		a                     FinishedActivity
		typ                   string
		zones, weather, goals []byte
	)
	err := row.Scan(&a.ID, &a.UserID, &a.GroupSessionID, &typ, &a.StartedAt, &a.EndedAt, &a.DurationSec,
		&a.DistanceM, &a.AverageSpeedKmh, &a.AverageHeartRate, &zones, &a.Calories,
		&a.ElevationGainM, &weather, &goals, &a.MapImageURL, &a.CreatedAt)
	if err != nil {
		return FinishedActivity{}, err
	}
	a.Type = lifecycle.ActivityType(typ)
	if len(zones) > 0 {
		if err := json.Unmarshal(zones, &a.HeartRateZones); err != nil {
			return FinishedActivity{}, err
		}
	}
	if len(weather) > 0 && string(weather) != "null" {
		a.Weather = &Weather{}
		if err := json.Unmarshal(weather, a.Weather); err != nil {
			return FinishedActivity{}, err
		}
	}
	if len(goals) > 0 {
		if err := json.Unmarshal(goals, &a.Goals); err != nil {
			return FinishedActivity{}, err
		}
	}
	return a, nil
}

func (s *Service) Get(ctx context.Context, id string) (FinishedActivity, error) {
	a, err := scanActivity(s.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM activities WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return FinishedActivity{}, ErrNotFound
	}
	return a, err
}

// ListByUser returns a user's activities, newest first.
func (s *Service) ListByUser(ctx context.Context, userID string, since time.Time) ([]FinishedActivity, error) {
	rows, err := s.db.Query(ctx, `SELECT `+selectColumns+`
		FROM activities WHERE user_id=$1 AND started_at >= $2
		ORDER BY started_at DESC`, userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FinishedActivity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
