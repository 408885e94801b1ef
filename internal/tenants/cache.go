package tenants

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const modeKeyPrefix = "stockworks:tenant:mode:"

// FeatureCache keeps tenant business modes in Redis for a bounded time.
type FeatureCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewFeatureCache instantiates the cache helper. A nil client disables caching.
func NewFeatureCache(client *redis.Client, ttl time.Duration) *FeatureCache {
	return &FeatureCache{client: client, ttl: ttl}
}

// Get returns the cached mode and whether it was present.
func (c *FeatureCache) Get(ctx context.Context, tenantID uuid.UUID) (BusinessMode, bool, error) {
	if c == nil || c.client == nil {
		return "", false, nil
	}
	raw, err := c.client.Get(ctx, modeKey(tenantID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	mode, err := ParseMode(raw)
	if err != nil {
		// stale value from an older schema
		_ = c.client.Del(ctx, modeKey(tenantID)).Err()
		return "", false, nil
	}
	return mode, true, nil
}

// Set stores the mode with the configured TTL.
func (c *FeatureCache) Set(ctx context.Context, tenantID uuid.UUID, mode BusinessMode) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Set(ctx, modeKey(tenantID), string(mode), c.ttl).Err()
}

// Invalidate drops the cached mode.
func (c *FeatureCache) Invalidate(ctx context.Context, tenantID uuid.UUID) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, modeKey(tenantID)).Err()
}

func modeKey(tenantID uuid.UUID) string {
	return modeKeyPrefix + tenantID.String()
}
