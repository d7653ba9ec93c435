package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"backend-activitytracker/internal/config"
	"backend-activitytracker/internal/db"
	"backend-activitytracker/internal/logger"
	"backend-activitytracker/internal/server"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var mainDepsProvider = defaultDeps
var mainRunner = realMain

func main() {
	mainRunner(mainDepsProvider())
}

type mainDeps struct {
	loadConfig      func() config.Config
	newLogger       func(level string, meta ...zap.Field) (*zap.Logger, error)
	connectPostgres func(config.Config) (*pgxpool.Pool, error)
	migrate         func(context.Context, db.Querier) error
	connectRedis    func(config.Config) *redis.Client
	notify          func(chan<- os.Signal, ...os.Signal)
	run             func(context.Context, config.Config, *pgxpool.Pool, *redis.Client, *zap.Logger, <-chan os.Signal, ListenFunc) error
}

func defaultDeps() mainDeps {
	return mainDeps{
		loadConfig:      config.Load,
		newLogger:       logger.New,
		connectPostgres: db.ConnectPostgres,
		migrate:         db.Migrate,
		connectRedis:    db.ConnectRedis,
		notify:          signal.Notify,
		run:             Run,
	}
}

func realMain(deps mainDeps) {
	cfg := deps.loadConfig()

	log, err := deps.newLogger(cfg.LogLevel, zap.String("service", "activitytracker-api"))
	if err != nil {
		log = zap.NewNop()
	}
	defer func() { _ = log.Sync() }()

	pg, err := deps.connectPostgres(cfg)
	if err != nil {
		log.Warn("postgres connection failed", zap.Error(err))
	} else if err := deps.migrate(context.Background(), pg); err != nil {
		log.Warn("postgres migration failed", zap.Error(err))
	}

	rdb := deps.connectRedis(cfg)
	if rdb != nil {
		if err := db.RedisReachable(context.Background(), rdb); err != nil {
			log.Warn("redis unreachable, relay falls back to local delivery", zap.Error(err))
		}
	}

	signals := make(chan os.Signal, 1)
	deps.notify(signals, syscall.SIGINT, syscall.SIGTERM)

	if err := deps.run(context.Background(), cfg, pg, rdb, log, signals, nil); err != nil {
		log.Error("server exited with error", zap.Error(err))
	}
}

type ListenFunc func(app *fiber.App, addr string) error

var defaultListen ListenFunc = func(app *fiber.App, addr string) error {
	return app.Listen(addr)
}

var shutdownFn = func(app *fiber.App, ctx context.Context) error {
	return app.ShutdownWithContext(ctx)
}

// Run starts the HTTP server and waits for termination signals.
func Run(ctx context.Context, cfg config.Config, pg *pgxpool.Pool, rdb *redis.Client, log *zap.Logger, signals <-chan os.Signal, listen ListenFunc) error {
	if log == nil {
		log = zap.NewNop()
	}
	srv := server.NewServer(cfg, pg, rdb, log)
	defer srv.Close()

	if listen == nil {
		listen = defaultListen
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- listen(srv.App, cfg.ServerPort)
	}()
	log.Info("server starting", zap.String("addr", cfg.ServerPort))

	select {
	case sig := <-signals:
		log.Info("shutting down", zap.Any("signal", sig))
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := shutdownFn(srv.App, shutdownCtx); err != nil {
		return err
	}
	srv.Close()
	if pg != nil {
		pg.Close()
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	return nil
}
