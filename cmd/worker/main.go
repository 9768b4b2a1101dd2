package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"library-service/internal/adapter"
	"library-service/internal/app"
	"library-service/internal/config"
	"library-service/internal/logging"
	"library-service/pkg/http_client"
)

// The worker delivers queued notifications to Telegram and runs the daily
// overdue report.
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger, err := logging.New(cfg.IsProduction(), cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	deps, err := app.Build(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
	defer deps.Close() //nolint:errcheck

	sender := adapter.NewTelegramSender(cfg.TelegramAPIURL, cfg.TelegramBotToken, 2,
		http_client.CreateHTTPClient(5*time.Second), logger)

	srv := asynq.NewServer(app.RedisOpt(cfg), asynq.Config{
		Concurrency: 10,
		Queues:      map[string]int{"default": 1},
		Logger:      logger.Sugar(),
	})
	mux := adapter.NewWorkerMux(sender, deps.Service, logger)
	if err := srv.Start(mux); err != nil {
		logger.Fatal("worker start failed", zap.Error(err))
	}

	scheduler := asynq.NewScheduler(app.RedisOpt(cfg), &asynq.SchedulerOpts{
		Location: time.UTC,
		Logger:   logger.Sugar(),
	})
	entryID, err := adapter.RegisterOverdueSchedule(scheduler, cfg.OverdueCron)
	if err != nil {
		logger.Fatal("invalid OVERDUE_CRON", zap.String("cron", cfg.OverdueCron), zap.Error(err))
	}
	if err := scheduler.Start(); err != nil {
		logger.Fatal("scheduler start failed", zap.Error(err))
	}
	logger.Info("worker running", zap.String("overdue_entry", entryID), zap.String("cron", cfg.OverdueCron))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down worker")

	scheduler.Shutdown()
	srv.Shutdown()
}
