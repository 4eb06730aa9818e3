package persistence

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/crm-identity/internal/config"
)

func TestRedisPingTracksServer(t *testing.T) {
	server := miniredis.RunT(t)
	r := NewRedis(context.Background(), config.RedisConfig{Addr: server.Addr()}, zap.NewNop())
	t.Cleanup(func() { _ = r.Close() })

	require.NoError(t, r.Ping(context.Background()))

	server.Close()
	err := r.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), server.Addr())
}

func TestRedisUnconfigured(t *testing.T) {
	var r *Redis
	assert.Error(t, r.Ping(context.Background()))
	assert.NoError(t, r.Close())
}
