package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestConsumeSSOTokenFirstUseSucceeds(t *testing.T) {
	t.Parallel()
	rdb := newTestRedis(t)

	if err := ConsumeSSOToken(context.Background(), rdb, "tok-1", time.Minute); err != nil {
		t.Fatalf("ConsumeSSOToken() error = %v", err)
	}
}

func TestConsumeSSOTokenSecondUseRejected(t *testing.T) {
	t.Parallel()
	rdb := newTestRedis(t)

	ctx := context.Background()
	if err := ConsumeSSOToken(ctx, rdb, "tok-2", time.Minute); err != nil {
		t.Fatalf("first ConsumeSSOToken() error = %v", err)
	}

	err := ConsumeSSOToken(ctx, rdb, "tok-2", time.Minute)
	if !errors.Is(err, ErrTokenConsumed) {
		t.Fatalf("second ConsumeSSOToken() error = %v, want ErrTokenConsumed", err)
	}
}

func TestHashSSOTokenNeverStoresRawToken(t *testing.T) {
	t.Parallel()

	h := HashSSOToken("super-secret-token")
	if h == "super-secret-token" {
		t.Fatal("HashSSOToken() returned the raw token unchanged")
	}
	if len(h) != 64 {
		t.Errorf("len(hash) = %d, want 64 (hex-encoded SHA-256)", len(h))
	}
}
