// Package app wires configuration into the service and its adapters. Both
// binaries (api and worker) build their dependencies through it.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"library-service/internal/adapter"
	"library-service/internal/config"
	"library-service/internal/core"
	"library-service/pkg/http_client"
)

type storeWithPing interface {
	core.Store
	Ping(ctx context.Context) error
}

// Deps is everything built from Config. Close releases it.
type Deps struct {
	Service *core.Service
	Store   storeWithPing
	Redis   *redis.Client
	Queue   *asynq.Client

	closers []func() error
}

func (d *Deps) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		errs = append(errs, d.closers[i]())
	}
	return errors.Join(errs...)
}

func RedisOpt(cfg config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisQueueDB,
	}
}

func Build(ctx context.Context, cfg config.Config, log *zap.Logger) (*Deps, error) {
	d := &Deps{}

	switch cfg.Store {
	case "mysql":
		db, err := adapter.OpenMySQL(cfg.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("open mysql: %w", err)
		}
		gs := adapter.NewGormStore(db)
		if err := gs.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		if sqlDB, err := db.DB(); err == nil {
			d.closers = append(d.closers, sqlDB.Close)
		}
		d.Store = gs
	default:
		log.Warn("using in-memory store, data is lost on restart")
		d.Store = adapter.NewMemoryStore()
	}

	var notifier core.Notifier = adapter.NewLogNotifier(log)
	if cfg.Notifier == "queue" {
		d.Queue = asynq.NewClient(RedisOpt(cfg))
		d.closers = append(d.closers, d.Queue.Close)
		d.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisQueueDB,
		})
		d.closers = append(d.closers, d.Redis.Close)
		notifier = adapter.NewQueueNotifier(d.Queue, 0, log)
	}

	checkout := adapter.NewStripeCheckout(cfg.StripeSecretKey, cfg.StripeAPIURL, http_client.CreateHTTPClient(0))

	d.Service = core.NewService(d.Store, checkout, notifier, core.Settings{
		PublicBaseURL: cfg.PublicBaseURL,
		Currency:      cfg.Currency,
		NotifyChannel: cfg.TelegramChatID,
	}, core.WithLogger(log))
	return d, nil
}
