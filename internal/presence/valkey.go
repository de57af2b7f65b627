package presence

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ValkeyClient adapts *redis.Client to the Client interface Store depends on.
type ValkeyClient struct {
	rdb *redis.Client
}

// NewValkeyClient wraps a Valkey connection for use by Store.
func NewValkeyClient(rdb *redis.Client) *ValkeyClient {
	return &ValkeyClient{rdb: rdb}
}

func (c *ValkeyClient) Incr(ctx context.Context, key string) IntResult {
	val, err := c.rdb.Incr(ctx, key).Result()
	return IntResult{Val: val, Err: err}
}

func (c *ValkeyClient) Decr(ctx context.Context, key string) IntResult {
	val, err := c.rdb.Decr(ctx, key).Result()
	return IntResult{Val: val, Err: err}
}

func (c *ValkeyClient) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return c.rdb.Expire(ctx, key, ttl).Err()
}

func (c *ValkeyClient) Del(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

func (c *ValkeyClient) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}
