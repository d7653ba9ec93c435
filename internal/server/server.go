package server

import (
	"backend-activitytracker/internal/activity"
	"backend-activitytracker/internal/auth"
	"backend-activitytracker/internal/config"
	"backend-activitytracker/internal/db"
	"backend-activitytracker/internal/groupactivity"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Server struct {
	App     *fiber.App
	Cfg     config.Config
	DB      *pgxpool.Pool
	Redis   *redis.Client
	Hub     *groupactivity.Hub
	Metrics *prometheus.Registry
	Log     *zap.Logger
}

func NewServer(cfg config.Config, pool *pgxpool.Pool, redisClient *redis.Client, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	s := &Server{
		App:     app,
		Cfg:     cfg,
		DB:      pool,
		Redis:   redisClient,
		Hub:     groupactivity.NewHub(redisClient, log.Named("hub")),
		Metrics: reg,
		Log:     log,
	}

	registerRoutes(s)
	return s
}

// Close releases the hub's redis subscription.
func (s *Server) Close() {
	s.Hub.Close()
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	s.App.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(s.Metrics, promhttp.HandlerOpts{})))

	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)

	var store db.Querier
	if s.DB != nil {
		store = s.DB
	}
	activity.RegisterRoutes(s.App, activity.NewService(store, s.Log.Named("activity")), jwtMiddleware)

	groups := groupactivity.NewService(groupactivity.ServiceOptions{
		Hub:        s.Hub,
		Metrics:    groupactivity.NewMetrics(s.Metrics),
		Log:        s.Log.Named("group_activity"),
		SessionTTL: s.Cfg.SessionTTL,
		Scheme:     s.Cfg.JoinCodeScheme,
	})
	groupactivity.RegisterRoutes(s.App.Group("/group_activity"), groups, jwtMiddleware)
}
