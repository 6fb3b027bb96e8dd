package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/gbimatch/matchmaker/internal/app"
	"github.com/gbimatch/matchmaker/internal/cache"
	"github.com/gbimatch/matchmaker/internal/config"
	"github.com/gbimatch/matchmaker/internal/db"
	"github.com/gbimatch/matchmaker/internal/logger"
	"github.com/gbimatch/matchmaker/internal/repository"
	"github.com/gbimatch/matchmaker/internal/server"
	"github.com/gbimatch/matchmaker/internal/service/notify"
	"github.com/gbimatch/matchmaker/internal/service/relay"
	"github.com/gbimatch/matchmaker/internal/service/safety"
	"github.com/gbimatch/matchmaker/internal/service/selector"
	"github.com/gbimatch/matchmaker/internal/service/swipe"
	"github.com/gbimatch/matchmaker/internal/session"
	"github.com/gbimatch/matchmaker/internal/utils/kmutex"
)

func main() {
	cfg := config.New()

	// Init logger (global singleton)
	logger.InitFromConfig(cfg)
	log := logger.L()

	database, err := db.NewDB(cfg)
	if err != nil {
		log.Error("failed to init db", "err", err)
		return
	}

	redisCache := cache.NewRedisCache(cfg)
	if err := redisCache.Ping(context.Background()); err != nil {
		log.Error("failed to connect to redis", "err", err)
		return
	}

	appCtx := app.New(cfg, database, redisCache, log)

	if cfg.App.ENV == "development" {
		if err := db.SeedTestData(database, cfg); err != nil {
			log.Error("failed to seed", "err", err)
		}
	}

	redisOpt := notify.RedisOpt(cfg)
	notifier := notify.NewNotifier(redisOpt, log)
	defer notifier.Close()

	// swipe and safety must share the pair lock: both guard the
	// one-active-match-per-pair invariant
	pairs := kmutex.New[[2]uint64]()
	engine := session.NewEngine(
		appCtx,
		selector.New(appCtx),
		swipe.New(appCtx, notifier, pairs),
		safety.New(appCtx, pairs),
		relay.New(appCtx),
	)

	// notification worker
	worker := notify.NewWorker(redisOpt, cfg, log)
	mux := asynq.NewServeMux()
	handler := notify.NewHandler(
		repository.NewMatchRepository(database),
		repository.NewProfileRepository(database),
		redisCache,
		cfg.App.OutboxTTL,
		log,
	)
	handler.Register(mux)
	go func() {
		if err := worker.Run(mux); err != nil {
			log.Error("notification worker stopped", "err", err)
		}
	}()

	httpSrv := server.New(appCtx, engine)
	go func() {
		if err := httpSrv.Run(); err != nil {
			log.Error("http server stopped", "err", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	worker.Shutdown()
}
