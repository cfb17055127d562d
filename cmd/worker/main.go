package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/noah-isme/pass-ticketing/internal/app"
	"github.com/noah-isme/pass-ticketing/internal/config"
	"github.com/noah-isme/pass-ticketing/internal/keepalive"
	"github.com/noah-isme/pass-ticketing/internal/obs"
	"github.com/noah-isme/pass-ticketing/internal/store"
)

func main() {
	cfg, err := config.LoadFor(config.RoleWorker)
	if err != nil {
		panic(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	o := app.InitObservability(ctx, "pass-worker", cfg.AppEnv)
	defer o.Shutdown(context.Background())
	logger := obs.Component(o.Logger, "worker")

	startCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := store.OpenPool(startCtx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Location: time.UTC})
	entryID, err := keepalive.Schedule(scheduler, cfg.PingCron)
	if err != nil {
		logger.Fatal().Err(err).Str("cron", cfg.PingCron).Msg("schedule keep-alive")
	}
	if err := scheduler.Start(); err != nil {
		logger.Fatal().Err(err).Msg("start scheduler")
	}
	defer scheduler.Shutdown()

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:     app.EnvInt("WORKER_CONCURRENCY", 2),
		ShutdownTimeout: 10 * time.Second,
	})
	mux := asynq.NewServeMux()
	keepalive.Register(mux, keepalive.Handler{Store: store.NewPostgres(pool), Logger: logger})
	if err := server.Start(mux); err != nil {
		logger.Fatal().Err(err).Msg("start task server")
	}

	logger.Info().Str("entry_id", entryID).Str("cron", cfg.PingCron).Msg("worker starting")
	<-ctx.Done()
	server.Shutdown()
	logger.Info().Msg("worker shutdown complete")
}
