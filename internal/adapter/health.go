package adapter

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// HealthStatus is the snapshot served by GET /health.
type HealthStatus struct {
	Store bool
	// Redis is nil when no Redis is configured.
	Redis *bool
}

func (h HealthStatus) OK() bool {
	return h.Store && (h.Redis == nil || *h.Redis)
}

type HealthChecker struct {
	store   pinger
	redis   *redis.Client
	timeout time.Duration
}

// NewHealthChecker checks store and, when not nil, the Redis instance used by
// the notification queue.
func NewHealthChecker(store pinger, rdb *redis.Client) *HealthChecker {
	return &HealthChecker{store: store, redis: rdb, timeout: 2 * time.Second}
}

func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	st := HealthStatus{Store: h.store == nil || h.store.Ping(ctx) == nil}
	if h.redis != nil {
		ok := h.redis.Ping(ctx).Err() == nil
		st.Redis = &ok
	}
	return st
}
