package main

import (
	"context"

	"github.com/fasthttp/router"
	"github.com/joho/godotenv"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/erezos/flappyjet-backend-sub000/internal/cache"
	"github.com/erezos/flappyjet-backend-sub000/internal/config"
	"github.com/erezos/flappyjet-backend-sub000/internal/db"
	"github.com/erezos/flappyjet-backend-sub000/internal/http/handlers"
	"github.com/erezos/flappyjet-backend-sub000/internal/logger"
	"github.com/erezos/flappyjet-backend-sub000/internal/worker"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger.Init(cfg.DevLog)
	defer logger.Sync()

	sqlDB, err := db.Connect(cfg)
	if err != nil {
		logger.Fatal("failed to connect database", zap.Error(err))
	}

	// Cache backend: Redis when configured, otherwise in-process. The
	// provider re-resolves on every request, so the backend can be swapped
	// at runtime without touching the serving path.
	var backend cache.Backend = cache.NewMemory()
	if cfg.RedisAddr != "" {
		backend = cache.NewRedis(cfg.RedisAddr)
	}
	provider := cache.NewProvider(backend)

	sched := worker.NewScheduler()
	sched.Add(&worker.Leaderboard{
		DB: sqlDB, Cache: provider,
		BatchSize: cfg.WorkerBatchSize, MaxAttempts: cfg.MaxAttempts,
	}, cfg.LeaderboardInterval)
	sched.Add(&worker.Tournament{
		DB: sqlDB, Cache: provider,
		BatchSize: cfg.WorkerBatchSize, MaxAttempts: cfg.MaxAttempts,
	}, cfg.TournamentInterval)
	sched.Add(&worker.KPI{
		DB: sqlDB, Cache: provider,
		BatchSize: cfg.WorkerBatchSize, MaxAttempts: cfg.MaxAttempts,
	}, cfg.KPIInterval)
	sched.Start(context.Background())
	defer sched.Stop()

	dispatch := worker.NewDispatcher(sched)
	defer dispatch.Stop()

	r := router.New()

	r.GET("/healthz", func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString("ok")
	})

	r.POST("/v1/events", handlers.IngestHandler(sqlDB, cfg, dispatch))

	r.GET("/v1/aggregates/leaderboard", handlers.Leaderboard(sqlDB, provider, cfg))
	r.GET("/v1/aggregates/tournament", handlers.TournamentStandings(sqlDB, provider, cfg))
	r.GET("/v1/aggregates/kpi-daily", handlers.DailyKPIs(sqlDB, provider, cfg))
	r.GET("/v1/aggregates/retention", handlers.Retention(sqlDB, provider, cfg))
	r.GET("/v1/tournaments", handlers.ActiveTournaments(sqlDB, provider, cfg))

	r.GET("/v1/stats", handlers.Stats(sqlDB, provider, sched))
	r.GET("/metrics", handlers.PrometheusMetrics())

	handler := handlers.RequestLogger(r.Handler)

	logger.Info("flappyjet backend listening", zap.String("addr", cfg.ListenAddr))
	if err := fasthttp.ListenAndServe(cfg.ListenAddr, handler); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
