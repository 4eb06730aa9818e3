package repository

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenRevocationRepository records refresh tokens that were logged out.
type TokenRevocationRepository interface {
	Revoke(ctx context.Context, tokenID string, until time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

type redisTokenRevocations struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewTokenRevocationRepository stores revocations in Redis keyed by token id.
// Entries expire together with the token they revoke.
func NewTokenRevocationRepository(client *redis.Client) TokenRevocationRepository {
	return &redisTokenRevocations{client: client, prefix: "auth:revoked:", now: time.Now}
}

func (r *redisTokenRevocations) Revoke(ctx context.Context, tokenID string, until time.Time) error {
	ttl := until.Sub(r.now())
	if ttl <= 0 {
		return nil
	}
	return r.client.Set(ctx, r.prefix+tokenID, 1, ttl).Err()
}

func (r *redisTokenRevocations) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	err := r.client.Get(ctx, r.prefix+tokenID).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
