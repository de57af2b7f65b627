package identity

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestValkeyCacheSetThenGet(t *testing.T) {
	t.Parallel()
	rdb := newTestRedis(t)
	c := NewValkeyCache(rdb, zerolog.Nop())

	u := &User{TMSUserID: "u1", DisplayName: "Alice"}
	c.Set(context.Background(), u, time.Minute)

	got, ok := c.Get(context.Background(), "u1")
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if got.DisplayName != "Alice" {
		t.Errorf("DisplayName = %q, want %q", got.DisplayName, "Alice")
	}
}

func TestValkeyCacheGetMissReturnsFalse(t *testing.T) {
	t.Parallel()
	rdb := newTestRedis(t)
	c := NewValkeyCache(rdb, zerolog.Nop())

	if _, ok := c.Get(context.Background(), "missing"); ok {
		t.Error("Get() ok = true, want false for a cache miss")
	}
}

func TestValkeyCacheGetDegradesOnUnreachableClient(t *testing.T) {
	t.Parallel()
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	c := NewValkeyCache(rdb, zerolog.Nop())

	if _, ok := c.Get(context.Background(), "u1"); ok {
		t.Error("Get() ok = true, want false when redis is unreachable")
	}
}

func TestValkeyCacheSetDegradesOnUnreachableClient(t *testing.T) {
	t.Parallel()
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	c := NewValkeyCache(rdb, zerolog.Nop())

	u := &User{TMSUserID: "u1", DisplayName: "Alice"}
	c.Set(context.Background(), u, time.Minute)
}
