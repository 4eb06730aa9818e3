package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/crm-identity/internal/config"
)

const redisProbeTimeout = 3 * time.Second

// Redis holds the client shared by refresh-token revocation and the
// permission invalidation channel.
type Redis struct {
	Client *redis.Client
	addr   string
}

// NewRedis builds the client and probes it once. An unreachable server is not
// fatal: refresh and cross-instance invalidation fail until it recovers, and
// readiness reports it.
func NewRedis(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  redisProbeTimeout,
		WriteTimeout: redisProbeTimeout,
	})
	r := &Redis{Client: client, addr: cfg.Addr}

	if err := r.Ping(ctx); err != nil {
		logger.Warn("redis unreachable, refresh revocation checks will fail", zap.String("addr", cfg.Addr), zap.Error(err))
	} else {
		logger.Info("connected to redis", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))
	}
	return r
}

// Close closes the client.
func (r *Redis) Close() error {
	if r == nil || r.Client == nil {
		return nil
	}
	return r.Client.Close()
}

// Ping is the readiness probe for the revocation store.
func (r *Redis) Ping(ctx context.Context) error {
	if r == nil || r.Client == nil {
		return errors.New("redis client not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, redisProbeTimeout)
	defer cancel()
	if err := r.Client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis %s: %w", r.addr, err)
	}
	return nil
}
