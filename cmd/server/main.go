package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/morningbrief/api/internal/app"
	"github.com/morningbrief/api/internal/config"
	"github.com/morningbrief/api/internal/logging"
	"github.com/morningbrief/api/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	ctx := context.Background()
	a, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		logger.Error("failed to initialise application", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	go a.Hub.Run()

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	asynqLogger := logging.NewAsynqLogger(logger)

	// Worker server for periodic tasks
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 3,
		Queues: map[string]int{
			worker.QueueMaintenance: 1,
		},
		Logger:   asynqLogger,
		LogLevel: logging.AsynqLevel(cfg.Server.LogLevel),
	})
	mux := asynq.NewServeMux()
	a.TaskHandlers().Register(mux)
	go func() {
		if err := srv.Run(mux); err != nil {
			logger.Error("asynq worker stopped", "error", err)
		}
	}()

	// Periodic scheduler enqueuing tick, refresh and cleanup
	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		Logger:   asynqLogger,
		LogLevel: logging.AsynqLevel(cfg.Server.LogLevel),
		Location: time.UTC,
	})
	if err := worker.RegisterPeriodic(scheduler, worker.PeriodicSpecs{
		Tick:    cfg.Pipeline.TickSpec,
		Refresh: cfg.Content.RefreshSpec,
		Cleanup: cfg.Cleanup.Spec,
	}, cfg.Cleanup.RetentionDays); err != nil {
		logger.Error("failed to register periodic tasks", "error", err)
		os.Exit(1)
	}
	go func() {
		if err := scheduler.Run(); err != nil {
			logger.Error("asynq scheduler stopped", "error", err)
		}
	}()

	fiberApp := a.NewFiber()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		logger.Info("shutting down server")
		scheduler.Shutdown()
		srv.Shutdown()
		a.Hub.Stop()
		if err := fiberApp.ShutdownWithTimeout(10 * time.Second); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
	}()

	addr := ":" + cfg.Server.Port
	logger.Info("server starting", "addr", addr, "env", cfg.Server.Env, "storage", a.Health.Storage)
	if err := fiberApp.Listen(addr); err != nil {
		logger.Error("server error", "error", err)
	}
}
