package db

import (
	"context"
	"time"

	"backend-activitytracker/internal/config"

	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	newPoolFn  = pgxpool.New
	pingPoolFn = func(ctx context.Context, pool *pgxpool.Pool) error { return pool.Ping(ctx) }
)

func ConnectPostgres(cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := newPoolFn(ctx, cfg.PostgresURL)
	if err != nil {
		return nil, err
	}
	if err := pingPoolFn(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS activities (
		id                 UUID PRIMARY KEY,
		user_id            TEXT NOT NULL,
		group_session_id   TEXT,
		type               TEXT NOT NULL,
		started_at         TIMESTAMPTZ NOT NULL,
		ended_at           TIMESTAMPTZ NOT NULL,
		duration_sec       BIGINT NOT NULL DEFAULT 0,
		distance_m         INTEGER NOT NULL DEFAULT 0,
		average_speed_kmh  DOUBLE PRECISION NOT NULL DEFAULT 0,
		average_heart_rate INTEGER NOT NULL DEFAULT 0,
		heart_rate_zones   JSONB,
		calories           INTEGER NOT NULL DEFAULT 0,
		elevation_gain_m   INTEGER NOT NULL DEFAULT 0,
		weather            JSONB,
		goals              JSONB,
		map_image_url      TEXT,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS activities_user_started_idx ON activities (user_id, started_at DESC)`,
}

// Migrate creates the tables the services expect. It is idempotent.
func Migrate(ctx context.Context, q Querier) error {
	for _, stmt := range schema {
		if _, err := q.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
