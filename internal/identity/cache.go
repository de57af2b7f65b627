package identity

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const cachePrefix = "user"

func cacheKey(userID string) string {
	return cachePrefix + ":" + userID
}

// ValkeyCache caches reflected user records with a fixed TTL. Every operation degrades to a no-op
// on error: an unreachable cache or a cache miss must never raise.
type ValkeyCache struct {
	client *redis.Client
	log    zerolog.Logger
}

// NewValkeyCache creates a Valkey-backed user cache.
func NewValkeyCache(client *redis.Client, logger zerolog.Logger) *ValkeyCache {
	return &ValkeyCache{client: client, log: logger}
}

func (c *ValkeyCache) Get(ctx context.Context, userID string) (*User, bool) {
	val, err := c.client.Get(ctx, cacheKey(userID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn().Err(err).Str("user_id", userID).Msg("user cache get failed, degrading to store lookup")
		}
		return nil, false
	}

	var u User
	if err := json.Unmarshal(val, &u); err != nil {
		c.log.Warn().Err(err).Str("user_id", userID).Msg("user cache entry corrupt, ignoring")
		return nil, false
	}
	return &u, true
}

func (c *ValkeyCache) Set(ctx context.Context, u *User, ttl time.Duration) {
	data, err := json.Marshal(u)
	if err != nil {
		c.log.Warn().Err(err).Str("user_id", u.TMSUserID).Msg("user cache marshal failed")
		return
	}
	if err := c.client.Set(ctx, cacheKey(u.TMSUserID), data, ttl).Err(); err != nil {
		c.log.Warn().Err(err).Str("user_id", u.TMSUserID).Msg("user cache set failed, continuing without cache")
	}
}
