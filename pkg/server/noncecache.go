package server

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agentmesh/didwba-go/pkg/verifier"
	"github.com/agentmesh/didwba-go/pkg/wba"
)

// nonceKeyPrefix namespaces replay-cache entries so the same Redis instance
// can back other concerns.
const nonceKeyPrefix = "wba:nonce:"

// RedisNonceCache is a replay cache shared across responder instances. A
// (did, nonce) pair is recorded with SETNX and expires with the credential's
// timestamp window, so a header replayed against any instance is caught.
type RedisNonceCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

var _ verifier.NonceCache = (*RedisNonceCache)(nil)

// NewRedisNonceCache creates a RedisNonceCache. Entries expire after ttl,
// which should be at least the verifier's timestamp window (default: twice
// the window).
func NewRedisNonceCache(client redis.UniversalClient, ttl time.Duration) *RedisNonceCache {
	if ttl == 0 {
		ttl = 2 * wba.TimestampWindow
	}
	return &RedisNonceCache{client: client, ttl: ttl}
}

// Seen records the (did, nonce) pair and reports whether it was already
// present.
func (c *RedisNonceCache) Seen(ctx context.Context, didStr, nonce string) (bool, error) {
	key := nonceKeyPrefix + didStr + ":" + nonce
	stored, err := c.client.SetNX(ctx, key, 1, c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("record nonce: %w", err)
	}
	return !stored, nil
}
